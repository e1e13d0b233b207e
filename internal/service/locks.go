package service

import "sync"

// OrderLocks serializes check-then-mutate sequences per order ID. Payment
// confirmation, cancellation and refund approval for the same order must not
// interleave; operations on different orders proceed in parallel. A single
// instance is shared by every service that mutates orders.
type OrderLocks struct {
	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

// NewOrderLocks creates an empty lock table.
func NewOrderLocks() *OrderLocks {
	return &OrderLocks{locks: make(map[string]*orderLock)}
}

// Lock acquires the mutex for the given order ID, creating it on first use.
// The returned function releases the mutex and drops the entry once no other
// goroutine holds or awaits it.
func (l *OrderLocks) Lock(orderID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[orderID]
	if !ok {
		entry = &orderLock{}
		l.locks[orderID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, orderID)
		}
		l.mu.Unlock()
	}
}

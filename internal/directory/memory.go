package directory

import (
	"context"
	"sync"

	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// MemoryDirectory is an in-memory Directory used in tests and local development.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{profiles: make(map[string]*Profile)}
}

// Put adds or replaces a profile.
func (d *MemoryDirectory) Put(p *Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *p
	d.profiles[p.ID] = &cp
}

// GetProfile returns the profile for the given user ID, or ErrNotFound.
func (d *MemoryDirectory) GetProfile(_ context.Context, userID string) (*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.profiles[userID]
	if !ok {
		return nil, apperrors.NotFound("user", userID)
	}
	cp := *p
	return &cp, nil
}

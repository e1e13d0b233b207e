// Package health provides liveness and readiness HTTP handlers with
// pluggable dependency checks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// CheckFunc probes a single dependency. It should return quickly and honor
// the context deadline.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of a single dependency check.
type CheckResult struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Checker aggregates named dependency checks into liveness and readiness
// endpoints.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
}

// NewChecker creates a Checker with the given per-check timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: timeout,
	}
}

// Register adds a named dependency check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

type response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// LiveHandler reports process liveness. It performs no dependency checks.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{Status: StatusUp})
	}
}

// ReadyHandler runs all registered checks concurrently and reports 503 if
// any dependency is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.RLock()
		checks := make(map[string]CheckFunc, len(c.checks))
		for name, fn := range c.checks {
			checks[name] = fn
		}
		c.mu.RUnlock()

		ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
		defer cancel()

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			results = make(map[string]CheckResult, len(checks))
			healthy = true
		)

		for name, fn := range checks {
			wg.Add(1)
			go func(name string, fn CheckFunc) {
				defer wg.Done()
				result := CheckResult{Status: StatusUp}
				if err := fn(ctx); err != nil {
					result = CheckResult{Status: StatusDown, Error: err.Error()}
				}
				mu.Lock()
				results[name] = result
				if result.Status == StatusDown {
					healthy = false
				}
				mu.Unlock()
			}(name, fn)
		}
		wg.Wait()

		status := StatusUp
		code := http.StatusOK
		if !healthy {
			status = StatusDown
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response{Status: status, Checks: results})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

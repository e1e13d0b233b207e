package catalog

import (
	"context"
	"sync"

	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// MemoryCatalog is an in-memory Catalog used in tests and local development.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]*Product
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{products: make(map[string]*Product)}
}

// Put adds or replaces a product.
func (c *MemoryCatalog) Put(p *Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *p
	c.products[p.ID] = &cp
}

// GetProduct returns the product with the given ID, or ErrNotFound.
func (c *MemoryCatalog) GetProduct(_ context.Context, productID string) (*Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[productID]
	if !ok {
		return nil, apperrors.NotFound("product", productID)
	}
	cp := *p
	return &cp, nil
}

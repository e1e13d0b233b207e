// Package catalog defines the product catalog collaborator. The commerce
// core never owns product data; it reads products through this interface.
package catalog

import (
	"context"
	"time"

	"github.com/feldrin/BookstoreGo/internal/domain"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// Product is the catalog's view of an e-book. Prices are in minor units,
// one per supported currency.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	PriceUSD    int64     `json:"price_usd"`
	PriceBRL    int64     `json:"price_brl"`
	FileKey     string    `json:"file_key,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PriceIn returns the product price in the given currency.
func (p *Product) PriceIn(currency string) (int64, error) {
	switch currency {
	case domain.CurrencyUSD:
		return p.PriceUSD, nil
	case domain.CurrencyBRL:
		return p.PriceBRL, nil
	}
	return 0, apperrors.InvalidInput("unsupported currency: " + currency)
}

// Catalog reads products from the product catalog service.
type Catalog interface {
	// GetProduct returns the product with the given ID, or ErrNotFound.
	GetProduct(ctx context.Context, productID string) (*Product, error)
}

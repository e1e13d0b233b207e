package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/feldrin/BookstoreGo/pkg/httpclient"
)

// HTTPDoer is the interface for executing HTTP requests. Both
// httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPCatalog reads products from the catalog service over HTTP.
type HTTPCatalog struct {
	baseURL string
	client  HTTPDoer
}

// NewHTTPCatalog creates a catalog client for the given base URL.
func NewHTTPCatalog(baseURL string, client HTTPDoer) *HTTPCatalog {
	return &HTTPCatalog{baseURL: baseURL, client: client}
}

type productResponse struct {
	Data *Product `json:"data"`
}

// GetProduct fetches a product by ID from the catalog service.
func (c *HTTPCatalog) GetProduct(ctx context.Context, productID string) (*Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/products/"+productID, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create product request: %w", err)
	}

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call catalog service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "catalog")
	}

	var body productResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode product response: %w", err)
	}
	if body.Data == nil {
		return nil, fmt.Errorf("catalog response for product %s has no data", productID)
	}

	return body.Data, nil
}

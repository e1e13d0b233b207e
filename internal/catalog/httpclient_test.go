package catalog

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

type stubDoer struct {
	status int
	body   string
}

func (d *stubDoer) Do(_ context.Context, _ *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: d.status,
		Body:       io.NopCloser(strings.NewReader(d.body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func TestHTTPCatalog_GetProduct(t *testing.T) {
	doer := &stubDoer{
		status: http.StatusOK,
		body:   `{"data":{"id":"prod-1","name":"Practical Go","price_usd":1000,"is_active":true}}`,
	}
	cat := NewHTTPCatalog("http://catalog", doer)

	product, err := cat.GetProduct(context.Background(), "prod-1")

	require.NoError(t, err)
	assert.Equal(t, "prod-1", product.ID)
	assert.Equal(t, int64(1000), product.PriceUSD)
	assert.True(t, product.IsActive)
}

func TestHTTPCatalog_GetProduct_NotFound(t *testing.T) {
	doer := &stubDoer{
		status: http.StatusNotFound,
		body:   `{"error":{"code":"NOT_FOUND","message":"product not found"}}`,
	}
	cat := NewHTTPCatalog("http://catalog", doer)

	product, err := cat.GetProduct(context.Background(), "prod-9")

	assert.Nil(t, product)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestHTTPCatalog_GetProduct_EmptyEnvelope(t *testing.T) {
	// A 200 with no data must surface as an error, never as a nil product.
	doer := &stubDoer{status: http.StatusOK, body: `{"data":null}`}
	cat := NewHTTPCatalog("http://catalog", doer)

	product, err := cat.GetProduct(context.Background(), "prod-1")

	assert.Nil(t, product)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}

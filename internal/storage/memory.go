package storage

import (
	"context"
	"strings"

	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// BaseURLResolver builds file URLs by joining a base URL with the file key.
// It backs development and test environments; production deployments point
// the base URL at the CDN or a presigning endpoint.
type BaseURLResolver struct {
	baseURL string
}

// NewBaseURLResolver creates a resolver rooted at the given base URL.
func NewBaseURLResolver(baseURL string) *BaseURLResolver {
	return &BaseURLResolver{baseURL: strings.TrimRight(baseURL, "/")}
}

// FileURL returns the URL for the given file key.
func (r *BaseURLResolver) FileURL(_ context.Context, fileKey string) (string, error) {
	if fileKey == "" {
		return "", apperrors.NotFound("file", fileKey)
	}
	return r.baseURL + "/" + strings.TrimLeft(fileKey, "/"), nil
}

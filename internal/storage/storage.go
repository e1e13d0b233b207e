// Package storage resolves file keys to download URLs. The commerce core
// never streams file bytes; it hands out URLs produced by this collaborator.
package storage

import "context"

// Resolver turns an object storage file key into a fetchable URL.
type Resolver interface {
	// FileURL returns a URL for the given file key, or ErrNotFound when the
	// key does not resolve to a stored object.
	FileURL(ctx context.Context, fileKey string) (string, error)
}

package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/feldrin/BookstoreGo/pkg/httpclient"
)

// HTTPDoer is the interface for executing HTTP requests.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPDirectory resolves user profiles from the user service over HTTP.
type HTTPDirectory struct {
	baseURL string
	client  HTTPDoer
}

// NewHTTPDirectory creates a directory client for the given base URL.
func NewHTTPDirectory(baseURL string, client HTTPDoer) *HTTPDirectory {
	return &HTTPDirectory{baseURL: baseURL, client: client}
}

type profileResponse struct {
	Data *Profile `json:"data"`
}

// GetProfile fetches a user profile by ID from the user service.
func (d *HTTPDirectory) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/api/v1/users/"+userID, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create profile request: %w", err)
	}

	resp, err := d.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call user service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "directory")
	}

	var body profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode profile response: %w", err)
	}
	if body.Data == nil {
		return nil, fmt.Errorf("directory response for user %s has no data", userID)
	}

	return body.Data, nil
}

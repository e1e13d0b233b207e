package directory

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestHTTPDirectory_GetProfile(t *testing.T) {
	doer := &stubDoer{
		status: http.StatusOK,
		body:   `{"data":{"id":"user-1","email":"admin@example.com","role":"admin"}}`,
	}
	dir := NewHTTPDirectory("http://users", doer)

	profile, err := dir.GetProfile(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Equal(t, "user-1", profile.ID)
	assert.True(t, profile.IsAdmin())
}

func TestHTTPDirectory_GetProfile_EmptyEnvelope(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: `{"data":null}`}
	dir := NewHTTPDirectory("http://users", doer)

	profile, err := dir.GetProfile(context.Background(), "user-1")

	assert.Nil(t, profile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}

package provider

import (
	"fmt"
	"io"
	"net/http"

	gateway "github.com/eugener/radagast/internal"
)

// APIError represents a non-200 response from an upstream LLM provider,
// observed before any stream bytes were forwarded.
type APIError struct {
	Provider   gateway.Provider
	StatusCode int
	Body       string
}

// Error returns a formatted error string including provider, status, and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Is maps upstream 429s to gateway.ErrUpstreamRateLimited and everything else
// to gateway.ErrProviderError, so the transport layer can pick a status with
// errors.Is alone.
func (e *APIError) Is(target error) bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return target == gateway.ErrUpstreamRateLimited
	}
	return target == gateway.ErrProviderError
}

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(p gateway.Provider, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Provider: p, StatusCode: resp.StatusCode, Body: string(body)}
}

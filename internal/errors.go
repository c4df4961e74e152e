package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for the gateway domain.
var (
	ErrBadRequest          = errors.New("bad request")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTokenExpired        = errors.New("token expired")
	ErrForbidden           = errors.New("forbidden")
	ErrModelNotFound       = errors.New("model not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	ErrProviderError       = errors.New("provider error")
)

// RateLimitError is returned by the quota engine when a per-user share of a
// model cap is exceeded. Resource names the exhausted window, e.g.
// "requests per minute". It matches ErrRateLimited under errors.Is.
type RateLimitError struct {
	Resource string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("Rate limit exceeded. Maximum %s reached.", e.Resource)
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

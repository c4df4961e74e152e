// Package provider defines the adapter surface for upstream LLM services and
// the registry that maps wire-format provider names to adapters.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	gateway "github.com/eugener/radagast/internal"
)

// Frame is one upstream event. Data is the provider-native JSON payload,
// forwarded to the client without modification; the token deltas are teed off
// for accounting. A non-nil Err terminates the stream.
type Frame struct {
	Data         []byte
	InputTokens  int64
	OutputTokens int64
	Err          error
}

// Adapter opens a streaming completion against one upstream provider and
// decodes its event framing into Frames. Implementations must close the
// returned channel when the upstream stream ends.
type Adapter interface {
	// Provider returns the wire-format provider this adapter serves.
	Provider() gateway.Provider
	// Stream sends the provider-native request body upstream and returns the
	// decoded event sequence. Pre-stream upstream failures are returned as an
	// error; an upstream 429 matches gateway.ErrUpstreamRateLimited.
	Stream(ctx context.Context, request json.RawMessage) (<-chan Frame, error)
}

// Registry maps providers to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[gateway.Provider]Adapter
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[gateway.Provider]Adapter)}
}

// Register adds an adapter, overwriting any previous registration for the
// same provider.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[a.Provider()] = a
	r.mu.Unlock()
}

// Get returns the adapter for p, or an error if none is configured.
func (r *Registry) Get(p gateway.Provider) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[p]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no %s adapter configured on the server", gateway.ErrProviderError, p)
	}
	return a, nil
}

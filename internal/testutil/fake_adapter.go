package testutil

import (
	"context"
	"encoding/json"
	"sync"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
)

// FakeAdapter is a configurable provider.Adapter for testing. It replays the
// configured frames and records the last request body it was handed.
type FakeAdapter struct {
	Name   gateway.Provider
	Frames []provider.Frame
	// Err, when non-nil, is returned by Stream before any frame is sent.
	Err error

	mu          sync.Mutex
	streamCalls int
	lastRequest json.RawMessage
}

var _ provider.Adapter = (*FakeAdapter)(nil)

// Provider implements provider.Adapter.
func (a *FakeAdapter) Provider() gateway.Provider { return a.Name }

// Stream implements provider.Adapter.
func (a *FakeAdapter) Stream(_ context.Context, request json.RawMessage) (<-chan provider.Frame, error) {
	a.mu.Lock()
	a.streamCalls++
	a.lastRequest = append(json.RawMessage(nil), request...)
	a.mu.Unlock()

	if a.Err != nil {
		return nil, a.Err
	}
	ch := make(chan provider.Frame, len(a.Frames))
	for _, f := range a.Frames {
		ch <- f
	}
	close(ch)
	return ch, nil
}

// StreamCalls returns how many times Stream was invoked.
func (a *FakeAdapter) StreamCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streamCalls
}

// LastRequest returns the most recent request body handed to Stream.
func (a *FakeAdapter) LastRequest() json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRequest
}

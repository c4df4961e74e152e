// Package openai implements the provider.Adapter for the OpenAI chat
// completions API and any OpenAI-compatible endpoint (the self-hosted "zed"
// provider reuses this adapter with its own URL and key).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
	"github.com/eugener/radagast/internal/provider/sseutil"
)

const defaultAPIURL = "https://api.openai.com"

var _ provider.Adapter = (*Adapter)(nil)

// Adapter streams completions from an OpenAI-compatible API.
type Adapter struct {
	name   gateway.Provider
	apiURL string
	apiKey string
	http   *http.Client
}

// New creates an Adapter serving the given provider identity. name is
// gateway.ProviderOpenAI for the hosted API or gateway.ProviderZed for the
// self-hosted compatible endpoint. If apiURL is empty it defaults to the
// public OpenAI endpoint.
func New(name gateway.Provider, apiURL, apiKey string, client *http.Client) *Adapter {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Adapter{
		name:   name,
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		http:   client,
	}
}

// Provider returns the adapter's configured provider identity.
func (a *Adapter) Provider() gateway.Provider { return a.name }

// Stream opens a streaming chat completion. The raw request is forwarded
// without modification.
func (a *Adapter) Stream(ctx context.Context, request json.RawMessage) (<-chan provider.Frame, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL+"/v1/chat/completions", bytes.NewReader(request))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", a.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: do request: %w", a.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(a.name, resp)
	}

	ch := make(chan provider.Frame, 8)
	go a.readStream(ctx, resp.Body, ch)
	return ch, nil
}

// readStream decodes the SSE event stream into Frames. Usage normally appears
// only on the final chunk (when the client requested stream_options
// include_usage), so most frames carry (0, 0); the "[DONE]" sentinel is
// consumed, not forwarded.
func (a *Adapter) readStream(ctx context.Context, body io.ReadCloser, ch chan<- provider.Frame) {
	defer close(ch)
	defer body.Close()

	scanner := sseutil.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		_, data, ok := sseutil.ParseSSELine(line)
		if !ok || data == "" {
			continue
		}
		if data == "[DONE]" {
			return
		}

		frame := provider.Frame{Data: []byte(data)}
		if u := gjson.Get(data, "usage"); u.Exists() && u.IsObject() {
			frame.InputTokens = u.Get("prompt_tokens").Int()
			frame.OutputTokens = u.Get("completion_tokens").Int()
		}

		select {
		case ch <- frame:
		case <-ctx.Done():
			// The consumer is gone and may never drain the channel again;
			// sending anything here would block forever.
			return
		}
	}
	// Read errors caused by the cancellation itself are not forwarded: the
	// consumer that cancelled is not listening.
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case ch <- provider.Frame{Err: fmt.Errorf("%s: read stream: %w", a.name, err)}:
		case <-ctx.Done():
		}
	}
}

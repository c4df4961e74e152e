// Package anthropic implements the provider.Adapter for the Anthropic
// Messages API (Server-Sent Events framing).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
	"github.com/eugener/radagast/internal/provider/sseutil"
)

const (
	defaultAPIURL    = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

var _ provider.Adapter = (*Adapter)(nil)

// pinnedVersions maps a model family to the dated version the server pins.
// Clients request a family (e.g. "claude-3-5-sonnet") and the server controls
// which release actually serves it, so new model versions never require a
// client update.
var pinnedVersions = map[string]string{
	"claude-3-5-sonnet": "claude-3-5-sonnet-20240620",
	"claude-3-opus":     "claude-3-opus-20240229",
	"claude-3-sonnet":   "claude-3-sonnet-20240229",
	"claude-3-haiku":    "claude-3-haiku-20240307",
}

// Adapter streams completions from the Anthropic Messages API.
type Adapter struct {
	apiURL string
	apiKey string
	http   *http.Client
}

// New creates an Anthropic Adapter. If apiURL is empty it defaults to the
// public API endpoint.
func New(apiURL, apiKey string, client *http.Client) *Adapter {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Adapter{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		http:   client,
	}
}

// Provider returns gateway.ProviderAnthropic.
func (a *Adapter) Provider() gateway.Provider { return gateway.ProviderAnthropic }

// PinModelVersion replaces a model-family name with the dated version the
// server pins. Names that match no known family pass through unchanged.
func PinModelVersion(name string) string {
	var best string
	for family := range pinnedVersions {
		if strings.HasPrefix(name, family) && len(family) > len(best) {
			best = family
		}
	}
	if best == "" {
		return name
	}
	return pinnedVersions[best]
}

// Stream opens a streaming Messages API call. The only mutation applied to
// the raw request is the model-version pinning; every other byte is the
// client's own payload.
func (a *Adapter) Stream(ctx context.Context, request json.RawMessage) (<-chan provider.Frame, error) {
	body := []byte(request)
	if model := gjson.GetBytes(body, "model"); model.Exists() {
		pinned := PinModelVersion(model.String())
		if pinned != model.String() {
			var err error
			body, err = sjson.SetBytes(body, "model", pinned)
			if err != nil {
				return nil, fmt.Errorf("anthropic: pin model version: %w", err)
			}
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("x-api-key", a.apiKey)

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(gateway.ProviderAnthropic, resp)
	}

	ch := make(chan provider.Frame, 8)
	go readStream(ctx, resp.Body, ch)
	return ch, nil
}

// readStream decodes Anthropic SSE events into Frames. Token deltas come from
// message_start (input) and message_delta (output) events; all other event
// kinds carry (0, 0).
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- provider.Frame) {
	defer close(ch)
	defer body.Close()

	scanner := sseutil.NewScanner(body)

	var currentEvent string
	for scanner.Scan() {
		line := scanner.Text()
		event, data, ok := sseutil.ParseSSELine(line)
		if !ok {
			continue
		}
		if event != "" {
			currentEvent = event
			continue
		}
		if data == "" {
			continue
		}

		frame := provider.Frame{Data: []byte(data)}
		kind := currentEvent
		if kind == "" {
			kind = gjson.Get(data, "type").String()
		}
		switch kind {
		case "message_start":
			frame.InputTokens = gjson.Get(data, "message.usage.input_tokens").Int()
			frame.OutputTokens = gjson.Get(data, "message.usage.output_tokens").Int()
		case "message_delta":
			frame.InputTokens = gjson.Get(data, "usage.input_tokens").Int()
			frame.OutputTokens = gjson.Get(data, "usage.output_tokens").Int()
		}
		currentEvent = ""

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
		case ch <- provider.Frame{Err: fmt.Errorf("anthropic: read stream: %w", err)}:
		case <-ctx.Done():
		}
	}
}

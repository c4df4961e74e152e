// Package google implements the provider.Adapter for the Google generative
// language API (streamGenerateContent with SSE framing).
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
	"github.com/eugener/radagast/internal/provider/sseutil"
)

const defaultAPIURL = "https://generativelanguage.googleapis.com"

var _ provider.Adapter = (*Adapter)(nil)

// Adapter streams completions from the Google generative language API.
type Adapter struct {
	apiURL string
	apiKey string
	http   *http.Client
}

// New creates a Google Adapter. If apiURL is empty it defaults to the public
// endpoint.
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

// Provider returns gateway.ProviderGoogle.
func (a *Adapter) Provider() gateway.Provider { return gateway.ProviderGoogle }

// Stream opens a streaming generateContent call. The model is read from the
// raw request body to build the URL; the body itself is forwarded verbatim.
func (a *Adapter) Stream(ctx context.Context, request json.RawMessage) (<-chan provider.Frame, error) {
	model := gjson.GetBytes(request, "model").String()
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
		a.apiURL, url.PathEscape(model), url.QueryEscape(a.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(request))
	if err != nil {
		return nil, fmt.Errorf("google: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("google: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(gateway.ProviderGoogle, resp)
	}

	ch := make(chan provider.Frame, 8)
	go readStream(ctx, resp.Body, ch)
	return ch, nil
}

// readStream forwards each SSE data payload as a Frame.
//
// TODO: consume usageMetadata (promptTokenCount / candidatesTokenCount) from
// the stream. Until then every Google frame reports (0, 0) and Google
// completions are unmetered.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- provider.Frame) {
	defer close(ch)
	defer body.Close()

	scanner := sseutil.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		_, data, ok := sseutil.ParseSSELine(line)
		if !ok || data == "" {
			continue
		}

		select {
		case ch <- provider.Frame{Data: []byte(data)}:
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
		case ch <- provider.Frame{Err: fmt.Errorf("google: read stream: %w", err)}:
		case <-ctx.Done():
		}
	}
}

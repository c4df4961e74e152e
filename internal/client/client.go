// Package client is the Go client for the Radagast completion gateway. It
// caches the short-lived bearer token and refreshes it exactly once when the
// gateway signals expiry.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	gateway "github.com/eugener/radagast/internal"
)

// TokenSource fetches a fresh bearer token from the control plane.
type TokenSource interface {
	FetchToken(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to a TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// FetchToken implements TokenSource.
func (f TokenSourceFunc) FetchToken(ctx context.Context) (string, error) { return f(ctx) }

// tokenCache lazily acquires a token and refreshes it on demand. Concurrent
// fetches collapse into a single control-plane call.
type tokenCache struct {
	source TokenSource

	mu    sync.RWMutex
	token string

	group singleflight.Group
}

// acquire returns the cached token, fetching one first if the cache is empty.
func (c *tokenCache) acquire(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if tok != "" {
		return tok, nil
	}
	return c.fetch(ctx)
}

// refresh unconditionally replaces the cached token, unless another caller
// already replaced the same stale value.
func (c *tokenCache) refresh(ctx context.Context, stale string) (string, error) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if tok != "" && tok != stale {
		// Someone else refreshed while this request was in flight.
		return tok, nil
	}
	return c.fetch(ctx)
}

func (c *tokenCache) fetch(ctx context.Context) (string, error) {
	v, err, _ := c.group.Do("token", func() (any, error) {
		tok, err := c.source.FetchToken(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = tok
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Client calls the gateway's completion endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *tokenCache
}

// New creates a Client for the gateway at baseURL, authenticating with tokens
// from source.
func New(baseURL string, source TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  &tokenCache{source: source},
	}
}

// APIError is a non-200 response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: HTTP %d: %s", e.StatusCode, e.Message)
}

// Complete opens a streaming completion and returns a Stream over the
// newline-delimited response frames. If the gateway answers 401 with the
// token-expired header, the client refreshes its token and retries exactly
// once; any other 401, or a second one, is returned as an error.
func (c *Client) Complete(ctx context.Context, params gateway.CompletionParams) (*Stream, error) {
	token, err := c.tokens.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: acquire token: %w", err)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("client: encode request: %w", err)
	}

	resp, err := c.do(ctx, token, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && resp.Header.Get(gateway.ExpiredTokenHeaderName) != "" {
		resp.Body.Close()
		token, err = c.tokens.refresh(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("client: refresh token: %w", err)
		}
		resp, err = c.do(ctx, token, body)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseAPIError(resp)
	}

	return newStream(resp.Body), nil
}

func (c *Client) do(ctx context.Context, token string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: do request: %w", err)
	}
	return resp, nil
}

func parseAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var decoded struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := string(raw)
	if json.Unmarshal(raw, &decoded) == nil && decoded.Error.Message != "" {
		msg = decoded.Error.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// Stream iterates the newline-delimited frames of one completion response.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newStream(body io.ReadCloser) *Stream {
	s := bufio.NewScanner(body)
	s.Buffer(make([]byte, 4096), 1024*1024)
	return &Stream{body: body, scanner: s}
}

// Next returns the next frame, or io.EOF when the stream ends.
func (s *Stream) Next() (json.RawMessage, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	// Copy: the scanner reuses its buffer on the next Scan.
	return append(json.RawMessage(nil), s.scanner.Bytes()...), nil
}

// Close releases the underlying response body. Closing mid-stream cancels the
// completion on the gateway side.
func (s *Stream) Close() error {
	return s.body.Close()
}

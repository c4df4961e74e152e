package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
)

func TestStream_Passthrough(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-1.5-pro:streamGenerateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("alt = %q, want sse", r.URL.Query().Get("alt"))
		}
		if r.URL.Query().Get("key") != "g-key" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"hi\"}]}}]}\n\n"))
	}))
	defer srv.Close()

	a := New(srv.URL, "g-key", srv.Client())
	ch, err := a.Stream(context.Background(), json.RawMessage(`{"model":"gemini-1.5-pro","contents":[]}`))
	if err != nil {
		t.Fatal(err)
	}

	var frames []provider.Frame
	for f := range ch {
		if f.Err != nil {
			t.Fatalf("unexpected stream error: %v", f.Err)
		}
		frames = append(frames, f)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].InputTokens != 0 || frames[0].OutputTokens != 0 {
		t.Errorf("tokens = (%d, %d), want (0, 0)", frames[0].InputTokens, frames[0].OutputTokens)
	}
}

func TestStream_CancellationStopsReader(t *testing.T) {
	t.Parallel()
	var body strings.Builder
	for range 50 {
		body.WriteString("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"x\"}]}}]}\n\n")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(body.String()))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := New(srv.URL, "g-key", srv.Client())
	ch, err := a.Stream(ctx, json.RawMessage(`{"model":"gemini-1.5-pro"}`))
	if err != nil {
		t.Fatal(err)
	}
	<-ch
	cancel()

	time.Sleep(50 * time.Millisecond)
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return
			}
			if f.Err != nil {
				t.Fatalf("frame after cancellation carries error: %v", f.Err)
			}
		case <-timeout:
			t.Fatal("reader still running after cancellation")
		}
	}
}

func TestStream_Upstream429(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := New(srv.URL, "g-key", srv.Client())
	_, err := a.Stream(context.Background(), json.RawMessage(`{"model":"gemini-1.5-pro"}`))
	if !errors.Is(err, gateway.ErrUpstreamRateLimited) {
		t.Errorf("err = %v, want ErrUpstreamRateLimited", err)
	}
}

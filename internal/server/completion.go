package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
)

// finalizeTimeout bounds the detached accounting task after a stream ends.
const finalizeTimeout = 15 * time.Second

var (
	octetCT = []string{"application/octet-stream"}
	newline = []byte("\n")
)

// handleCompletion proxies one streaming completion: authorize, admit against
// quota, open the upstream stream, and forward frames as newline-delimited
// JSON while counting tokens. Accounting fires exactly once when the stream
// ends, however it ends.
func (s *server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	claims := gateway.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalid token"))
		return
	}

	var params gateway.CompletionParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}

	prov, err := gateway.ParseProvider(params.Provider)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	model := gateway.NormalizeModelName(prov, params.Model)

	countryCode := r.Header.Get(gateway.CountryCodeHeaderName)
	if err := s.deps.Authz.AuthorizeAccessToLanguageModel(claims, countryCode, prov, model); err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}

	if err := s.deps.Quota.Check(r.Context(), claims, prov, model); err != nil {
		var rl *gateway.RateLimitError
		if errors.As(err, &rl) && s.deps.Metrics != nil {
			s.deps.Metrics.QuotaRejects.WithLabelValues(rl.Resource).Inc()
		}
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}

	adapter, err := s.deps.Adapters.Get(prov)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}

	frames, err := adapter.Stream(r.Context(), params.ProviderRequest)
	if err != nil {
		s.observeUpstreamError(prov, err)
		if errors.Is(err, gateway.ErrUpstreamRateLimited) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse("Upstream "+displayName(prov)+" rate limit exceeded."))
			return
		}
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}

	cc := &completionContext{
		claims:   claims,
		provider: prov,
		model:    model,
		recorder: s.deps.Recorder,
	}
	// Finalization is bound to the handler, not to the happy path: client
	// disconnects and upstream failures all pass through here exactly once.
	defer cc.finish()

	if s.deps.Metrics != nil {
		s.deps.Metrics.CompletionsActive.Inc()
		defer s.deps.Metrics.CompletionsActive.Dec()
	}

	w.Header()["Content-Type"] = octetCT
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if frame.Err != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "completion stream error",
					slog.String("provider", prov.String()),
					slog.String("model", model),
					slog.String("error", frame.Err.Error()),
				)
				return
			}
			cc.inputTokens += frame.InputTokens
			cc.outputTokens += frame.OutputTokens
			if _, err := w.Write(frame.Data); err != nil {
				return
			}
			if _, err := w.Write(newline); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}

		case <-r.Context().Done():
			return
		}
	}
}

func (s *server) observeUpstreamError(prov gateway.Provider, err error) {
	if s.deps.Metrics == nil {
		return
	}
	var apiErr *provider.APIError
	status := "transport"
	if errors.As(err, &apiErr) {
		// The code is upstream-controlled and can be anything in 100-999,
		// so it cannot index the statusText table directly.
		status = strconv.Itoa(apiErr.StatusCode)
	}
	s.deps.Metrics.UpstreamErrors.WithLabelValues(prov.String(), status).Inc()
}

// displayName renders a provider for human-readable error messages.
func displayName(p gateway.Provider) string {
	switch p {
	case gateway.ProviderAnthropic:
		return "Anthropic"
	case gateway.ProviderOpenAI:
		return "OpenAI"
	case gateway.ProviderGoogle:
		return "Google"
	case gateway.ProviderZed:
		return "Zed"
	default:
		return string(p)
	}
}

// completionContext owns the running token totals for one completion. finish
// fires the accounting exactly once on a detached task so a slow database
// never blocks closing the response.
type completionContext struct {
	claims   *gateway.Claims
	provider gateway.Provider
	model    string
	recorder CompletionRecorder

	inputTokens  int64
	outputTokens int64
	once         sync.Once
}

func (cc *completionContext) finish() {
	cc.once.Do(func() {
		if cc.recorder == nil {
			return
		}
		in, out := cc.inputTokens, cc.outputTokens
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
			defer cancel()
			if err := cc.recorder.RecordCompletion(ctx, cc.claims, cc.provider, cc.model, in, out); err != nil {
				slog.LogAttrs(ctx, slog.LevelError, "completion accounting failed",
					slog.Uint64("user_id", cc.claims.UserID),
					slog.String("provider", cc.provider.String()),
					slog.String("model", cc.model),
					slog.String("error", err.Error()),
				)
			}
		}()
	})
}

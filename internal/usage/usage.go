// Package usage finalizes completions: it applies token counts to the
// persistent usage windows and emits the analytics event describing the
// request.
package usage

import (
	"context"
	"fmt"
	"time"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/storage"
	"github.com/eugener/radagast/internal/telemetry"
)

// EventQueue accepts usage events for asynchronous delivery. Enqueue must
// never block.
type EventQueue interface {
	Enqueue(telemetry.UsageEvent)
}

// Recorder persists a completion's token usage and emits its analytics event.
type Recorder struct {
	store   storage.UsageStore
	queue   EventQueue
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewRecorder creates a Recorder. queue and metrics may be nil; analytics and
// metrics are best-effort, persistence is not.
func NewRecorder(store storage.UsageStore, queue EventQueue, metrics *telemetry.Metrics) *Recorder {
	return &Recorder{store: store, queue: queue, metrics: metrics, now: time.Now}
}

// RecordCompletion applies the observed token counts to the caller's usage
// windows and enqueues the analytics row with the post-update counters. Staff
// usage is recorded like everyone else's; only quota enforcement treats staff
// specially.
func (r *Recorder) RecordCompletion(ctx context.Context, claims *gateway.Claims, provider gateway.Provider, model string, inputTokens, outputTokens int64) error {
	now := r.now()
	updated, err := r.store.RecordUsage(ctx, claims.UserID, provider, model, inputTokens, outputTokens, now)
	if err != nil {
		return fmt.Errorf("usage: record: %w", err)
	}

	if r.metrics != nil {
		r.metrics.TokensProcessed.WithLabelValues(model, "input").Add(float64(inputTokens))
		r.metrics.TokensProcessed.WithLabelValues(model, "output").Add(float64(outputTokens))
	}

	if r.queue != nil {
		r.queue.Enqueue(telemetry.UsageEvent{
			Time:                  now.UnixMilli(),
			UserID:                claims.UserID,
			IsStaff:               claims.IsStaff,
			Plan:                  string(claims.Plan),
			Model:                 model,
			Provider:              provider.String(),
			InputTokenCount:       inputTokens,
			OutputTokenCount:      outputTokens,
			RequestsThisMinute:    updated.RequestsThisMinute,
			TokensThisMinute:      updated.TokensThisMinute,
			TokensThisDay:         updated.TokensThisDay,
			InputTokensThisMonth:  updated.InputTokensThisMonth,
			OutputTokensThisMonth: updated.OutputTokensThisMonth,
			SpendingThisMonth:     updated.SpendingThisMonth,
		})
	}
	return nil
}

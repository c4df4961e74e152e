package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/eugener/radagast/internal/telemetry"
)

const (
	eventChanSize   = 1000
	eventBatchSize  = 100
	eventFlushEvery = 5 * time.Second
	eventDrainTime  = 30 * time.Second
)

// EventFlusher buffers usage events and batch-flushes them to the analytics
// sink. Events are dropped if the channel is full (back-pressure on a slow
// sink); analytics loss never fails a completion.
type EventFlusher struct {
	ch      chan telemetry.UsageEvent
	sink    telemetry.Sink
	metrics *telemetry.Metrics
}

// NewEventFlusher creates an EventFlusher writing to sink. metrics may be nil.
func NewEventFlusher(sink telemetry.Sink, metrics *telemetry.Metrics) *EventFlusher {
	return &EventFlusher{
		ch:      make(chan telemetry.UsageEvent, eventChanSize),
		sink:    sink,
		metrics: metrics,
	}
}

// Enqueue adds a usage event. It never blocks; drops on full channel.
func (f *EventFlusher) Enqueue(ev telemetry.UsageEvent) {
	select {
	case f.ch <- ev:
		if f.metrics != nil {
			f.metrics.EventQueueLength.Set(float64(len(f.ch)))
		}
	default:
		if f.metrics != nil {
			f.metrics.EventsDropped.Inc()
		}
		slog.Warn("usage event dropped, channel full")
	}
}

// Run processes events until ctx is cancelled, then drains remaining events.
func (f *EventFlusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(eventFlushEvery)
	defer ticker.Stop()

	buf := make([]telemetry.UsageEvent, 0, eventBatchSize)

	for {
		select {
		case ev := <-f.ch:
			buf = append(buf, ev)
			if len(buf) >= eventBatchSize {
				f.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				f.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			// Drain remaining events with a timeout.
			f.drain(buf)
			return nil
		}
	}
}

func (f *EventFlusher) drain(buf []telemetry.UsageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventDrainTime)
	defer cancel()

	for {
		select {
		case ev := <-f.ch:
			buf = append(buf, ev)
			if len(buf) >= eventBatchSize {
				f.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			// Channel empty, flush remaining.
			if len(buf) > 0 {
				f.flush(ctx, buf)
			}
			return
		}
	}
}

func (f *EventFlusher) flush(ctx context.Context, buf []telemetry.UsageEvent) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]telemetry.UsageEvent, len(buf))
	copy(batch, buf)

	if err := f.sink.WriteEvents(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "usage event flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	if f.metrics != nil {
		f.metrics.EventQueueLength.Set(float64(len(f.ch)))
	}
}

package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/eugener/radagast/internal/activeusers"
	"github.com/eugener/radagast/internal/telemetry"
)

const gaugeRefreshEvery = 30 * time.Second

// ActiveUserGauge periodically publishes the active-user counts as gauges, so
// operators can see the quota divisor the engine is currently applying.
type ActiveUserGauge struct {
	counter *activeusers.Counter
	metrics *telemetry.Metrics
}

// NewActiveUserGauge creates the gauge worker.
func NewActiveUserGauge(counter *activeusers.Counter, metrics *telemetry.Metrics) *ActiveUserGauge {
	return &ActiveUserGauge{counter: counter, metrics: metrics}
}

// Run refreshes the gauges until ctx is cancelled.
func (g *ActiveUserGauge) Run(ctx context.Context) error {
	ticker := time.NewTicker(gaugeRefreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			counts, err := g.counter.Get(ctx)
			if err != nil {
				slog.LogAttrs(ctx, slog.LevelWarn, "active user refresh failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			g.metrics.ActiveUserSnapshot.WithLabelValues("minute").Set(float64(counts.UsersInRecentMinutes))
			g.metrics.ActiveUserSnapshot.WithLabelValues("day").Set(float64(counts.UsersInRecentDays))

		case <-ctx.Done():
			return nil
		}
	}
}

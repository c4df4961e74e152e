package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.CompletionsActive == nil {
		t.Error("CompletionsActive is nil")
	}
	if m.TokensProcessed == nil {
		t.Error("TokensProcessed is nil")
	}
	if m.QuotaRejects == nil {
		t.Error("QuotaRejects is nil")
	}
	if m.UpstreamErrors == nil {
		t.Error("UpstreamErrors is nil")
	}
	if m.EventQueueLength == nil {
		t.Error("EventQueueLength is nil")
	}
	if m.EventsDropped == nil {
		t.Error("EventsDropped is nil")
	}
	if m.ActiveUserSnapshot == nil {
		t.Error("ActiveUserSnapshot is nil")
	}

	// Verify metrics can be gathered without error.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family")
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("POST", "/completion", "200").Inc()
	m.TokensProcessed.WithLabelValues("claude-3-5-sonnet", "input").Add(42)
	m.QuotaRejects.WithLabelValues("requests per minute").Inc()
	m.CompletionsActive.Set(3)
	m.RequestDuration.WithLabelValues("POST", "/completion").Observe(0.123)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"radagast_requests_total",
		"radagast_tokens_processed_total",
		"radagast_quota_rejects_total",
		"radagast_completions_active",
		"radagast_request_duration_seconds",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.

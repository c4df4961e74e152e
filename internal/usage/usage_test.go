package usage

import (
	"context"
	"errors"
	"sync"
	"testing"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/telemetry"
	"github.com/eugener/radagast/internal/testutil"
)

type fakeQueue struct {
	mu     sync.Mutex
	events []telemetry.UsageEvent
}

func (q *fakeQueue) Enqueue(ev telemetry.UsageEvent) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

func TestRecordCompletion(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	queue := &fakeQueue{}
	rec := NewRecorder(store, queue, nil)

	claims := &gateway.Claims{UserID: 42, Plan: gateway.PlanZedPro, IsStaff: true}
	err := rec.RecordCompletion(context.Background(), claims, gateway.ProviderAnthropic, "claude-3-5-sonnet", 100, 50)
	if err != nil {
		t.Fatal(err)
	}

	got := store.LastRecorded()
	if got.UserID != 42 || got.InputTokens != 100 || got.OutputTokens != 50 {
		t.Errorf("recorded = %+v", got)
	}

	if len(queue.events) != 1 {
		t.Fatalf("got %d events, want 1", len(queue.events))
	}
	ev := queue.events[0]
	if ev.UserID != 42 || ev.Provider != "anthropic" || ev.Model != "claude-3-5-sonnet" {
		t.Errorf("event identity = %+v", ev)
	}
	if ev.Plan != "zed_pro" || !ev.IsStaff {
		t.Errorf("event claims = %+v", ev)
	}
	// The event carries the post-update counters.
	if ev.RequestsThisMinute != 1 || ev.TokensThisMinute != 150 || ev.TokensThisDay != 150 {
		t.Errorf("event counters = %+v", ev)
	}
	if ev.InputTokensThisMonth != 100 || ev.OutputTokensThisMonth != 50 {
		t.Errorf("event month counters = %+v", ev)
	}
	if ev.Time == 0 {
		t.Error("event time not set")
	}
}

func TestRecordCompletion_StoreError(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	store.RecordErr = errors.New("disk full")
	queue := &fakeQueue{}
	rec := NewRecorder(store, queue, nil)

	err := rec.RecordCompletion(context.Background(), &gateway.Claims{UserID: 1}, gateway.ProviderOpenAI, "gpt-4o", 1, 1)
	if err == nil {
		t.Fatal("expected error")
	}
	// No analytics row for a failed persist.
	if len(queue.events) != 0 {
		t.Errorf("got %d events, want 0", len(queue.events))
	}
}

func TestRecordCompletion_NilQueue(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	rec := NewRecorder(store, nil, nil)

	if err := rec.RecordCompletion(context.Background(), &gateway.Claims{UserID: 1}, gateway.ProviderGoogle, "gemini-1.5-pro", 0, 0); err != nil {
		t.Fatal(err)
	}
	if store.Recorded() != 1 {
		t.Errorf("RecordCalls = %d, want 1", store.Recorded())
	}
}

package quota

import (
	"context"
	"errors"
	"testing"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/activeusers"
	"github.com/eugener/radagast/internal/testutil"
)

const (
	testUser  = uint64(42)
	testModel = "claude-3-5-sonnet"
)

func newEngine(t *testing.T, store *testutil.FakeStore) *Engine {
	t.Helper()
	counter := activeusers.NewCounter(store)
	return NewEngine(store, store, counter)
}

func seedModel(store *testutil.FakeStore) {
	store.AddModel(&gateway.ModelDescriptor{
		Provider:             gateway.ProviderAnthropic,
		Name:                 testModel,
		MaxRequestsPerMinute: 60,
		MaxTokensPerMinute:   100_000,
		MaxTokensPerDay:      1_000_000,
	})
}

func TestCheck_UnknownModel(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	eng := newEngine(t, store)

	err := eng.Check(context.Background(), &gateway.Claims{UserID: testUser}, gateway.ProviderAnthropic, "no-such-model")
	if !errors.Is(err, gateway.ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
}

func TestCheck_StrictlyGreaterBoundary(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	seedModel(store)
	store.SetActiveUsers(4, 4)
	eng := newEngine(t, store)
	claims := &gateway.Claims{UserID: testUser}

	// 60 requests/minute over 4 active users is 15 each. A user sitting
	// exactly at the limit is still admitted.
	store.SetUsage(testUser, gateway.ProviderAnthropic, testModel, gateway.Usage{RequestsThisMinute: 15})
	if err := eng.Check(context.Background(), claims, gateway.ProviderAnthropic, testModel); err != nil {
		t.Fatalf("at limit: %v, want admit", err)
	}

	store.SetUsage(testUser, gateway.ProviderAnthropic, testModel, gateway.Usage{RequestsThisMinute: 16})
	err := eng.Check(context.Background(), claims, gateway.ProviderAnthropic, testModel)
	if !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatalf("over limit: %v, want ErrRateLimited", err)
	}
	var rl *gateway.RateLimitError
	if !errors.As(err, &rl) || rl.Resource != ResourceRequestsPerMinute {
		t.Errorf("resource = %v, want %q", err, ResourceRequestsPerMinute)
	}
}

func TestCheck_DynamicDivisor(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	seedModel(store)
	store.SetActiveUsers(10, 10)
	eng := newEngine(t, store)
	claims := &gateway.Claims{UserID: testUser}

	// 60 / 10 = 6 per user. Usage 6 is at the limit (7th request admitted),
	// usage 7 is past it (8th request rejected).
	store.SetUsage(testUser, gateway.ProviderAnthropic, testModel, gateway.Usage{RequestsThisMinute: 6})
	if err := eng.Check(context.Background(), claims, gateway.ProviderAnthropic, testModel); err != nil {
		t.Fatalf("7th request: %v, want admit", err)
	}

	store.SetUsage(testUser, gateway.ProviderAnthropic, testModel, gateway.Usage{RequestsThisMinute: 7})
	if err := eng.Check(context.Background(), claims, gateway.ProviderAnthropic, testModel); !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatalf("8th request: %v, want ErrRateLimited", err)
	}
}

func TestCheck_ZeroActiveUsersClamped(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	seedModel(store)
	store.SetActiveUsers(0, 0)
	eng := newEngine(t, store)

	// Divisor clamps to 1, so the full model cap applies.
	store.SetUsage(testUser, gateway.ProviderAnthropic, testModel, gateway.Usage{RequestsThisMinute: 60})
	if err := eng.Check(context.Background(), &gateway.Claims{UserID: testUser}, gateway.ProviderAnthropic, testModel); err != nil {
		t.Errorf("err = %v, want admit with clamped divisor", err)
	}
}

func TestCheck_TokensPerMinute(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	seedModel(store)
	store.SetActiveUsers(2, 2)
	eng := newEngine(t, store)

	store.SetUsage(testUser, gateway.ProviderAnthropic, testModel, gateway.Usage{TokensThisMinute: 50_001})
	err := eng.Check(context.Background(), &gateway.Claims{UserID: testUser}, gateway.ProviderAnthropic, testModel)
	var rl *gateway.RateLimitError
	if !errors.As(err, &rl) || rl.Resource != ResourceTokensPerMinute {
		t.Errorf("err = %v, want rate limit on %q", err, ResourceTokensPerMinute)
	}
	if got := rl.Error(); got != "Rate limit exceeded. Maximum tokens per minute reached." {
		t.Errorf("message = %q", got)
	}
}

func TestCheck_TokensPerDayUsesDayHorizon(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	seedModel(store)
	// Few users right now but many over the day: the day cap divides by the
	// day-horizon population.
	store.SetActiveUsers(1, 100)
	eng := newEngine(t, store)

	store.SetUsage(testUser, gateway.ProviderAnthropic, testModel, gateway.Usage{TokensThisDay: 10_001})
	err := eng.Check(context.Background(), &gateway.Claims{UserID: testUser}, gateway.ProviderAnthropic, testModel)
	var rl *gateway.RateLimitError
	if !errors.As(err, &rl) || rl.Resource != ResourceTokensPerDay {
		t.Errorf("err = %v, want rate limit on %q", err, ResourceTokensPerDay)
	}
}

func TestCheck_StaffBypass(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	seedModel(store)
	store.SetActiveUsers(10, 10)
	eng := newEngine(t, store)

	store.SetUsage(testUser, gateway.ProviderAnthropic, testModel, gateway.Usage{
		RequestsThisMinute: 1_000,
		TokensThisMinute:   1_000_000,
		TokensThisDay:      10_000_000,
	})
	claims := &gateway.Claims{UserID: testUser, IsStaff: true}
	if err := eng.Check(context.Background(), claims, gateway.ProviderAnthropic, testModel); err != nil {
		t.Errorf("staff: %v, want admit", err)
	}

	// Staff bypass does not suppress the unknown-model error.
	if err := eng.Check(context.Background(), claims, gateway.ProviderAnthropic, "no-such-model"); !errors.Is(err, gateway.ErrModelNotFound) {
		t.Errorf("staff unknown model: %v, want ErrModelNotFound", err)
	}
}

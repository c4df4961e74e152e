// Package quota decides whether a completion request fits inside the caller's
// share of a model's global caps. Each cap is divided by the number of
// recently active users, so per-user limits tighten under load without static
// per-user configuration.
package quota

import (
	"context"
	"fmt"
	"time"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/activeusers"
	"github.com/eugener/radagast/internal/storage"
)

// Resource names surfaced in 429 responses.
const (
	ResourceRequestsPerMinute = "requests per minute"
	ResourceTokensPerMinute   = "tokens per minute"
	ResourceTokensPerDay      = "tokens per day"
)

// Engine checks per-user usage against population-divided model caps.
type Engine struct {
	models  storage.ModelStore
	usage   storage.UsageStore
	counter *activeusers.Counter
	now     func() time.Time
}

// NewEngine returns an Engine reading usage from the given stores.
func NewEngine(models storage.ModelStore, usage storage.UsageStore, counter *activeusers.Counter) *Engine {
	return &Engine{models: models, usage: usage, counter: counter, now: time.Now}
}

// Check admits or rejects a request for (claims.UserID, provider, model).
// Unknown models return gateway.ErrModelNotFound. Over-limit requests return
// a *gateway.RateLimitError naming the exhausted resource. Staff callers
// bypass every check (accounting still happens downstream).
//
// The comparison is strictly usage > limit: the first request that crosses a
// limit is still admitted, and the next one is rejected.
func (e *Engine) Check(ctx context.Context, claims *gateway.Claims, provider gateway.Provider, model string) error {
	desc, err := e.models.Model(ctx, provider, model)
	if err != nil {
		return err
	}

	usage, err := e.usage.GetUsage(ctx, claims.UserID, provider, model, e.now())
	if err != nil {
		return fmt.Errorf("quota: read usage: %w", err)
	}

	active, err := e.counter.Get(ctx)
	if err != nil {
		return fmt.Errorf("quota: active users: %w", err)
	}

	perUserRequestsPerMinute := desc.MaxRequestsPerMinute / max(active.UsersInRecentMinutes, 1)
	perUserTokensPerMinute := desc.MaxTokensPerMinute / max(active.UsersInRecentMinutes, 1)
	perUserTokensPerDay := desc.MaxTokensPerDay / max(active.UsersInRecentDays, 1)

	checks := []struct {
		usage    int64
		limit    int64
		resource string
	}{
		{usage.RequestsThisMinute, perUserRequestsPerMinute, ResourceRequestsPerMinute},
		{usage.TokensThisMinute, perUserTokensPerMinute, ResourceTokensPerMinute},
		{usage.TokensThisDay, perUserTokensPerDay, ResourceTokensPerDay},
	}

	for _, c := range checks {
		// Temporarily bypass rate-limiting for staff members.
		if claims.IsStaff {
			continue
		}
		if c.usage > c.limit {
			return &gateway.RateLimitError{Resource: c.resource}
		}
	}
	return nil
}

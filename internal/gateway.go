// Package gateway defines domain types and interfaces for the Radagast LLM
// completion gateway. This package has no project imports -- it is the
// dependency root.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// --- Providers ---

// Provider identifies an upstream language-model service. The set is closed;
// values match the wire format of the completion request body.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openAi"
	ProviderGoogle    Provider = "google"
	ProviderZed       Provider = "zed"
)

// ParseProvider validates a wire-format provider name.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderZed:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown provider %q", ErrBadRequest, s)
	}
}

// String returns the wire-format provider name.
func (p Provider) String() string { return string(p) }

// knownModelFamilies lists, per provider, the model-family prefixes that usage
// accounting and quota lookups collapse dated or suffixed variants onto.
var knownModelFamilies = map[Provider][]string{
	ProviderAnthropic: {
		"claude-3-5-sonnet",
		"claude-3-haiku",
		"claude-3-opus",
		"claude-3-sonnet",
	},
	ProviderOpenAI: {
		"gpt-3.5-turbo",
		"gpt-4-turbo-preview",
		"gpt-4o-mini",
		"gpt-4o",
		"gpt-4",
	},
}

// NormalizeModelName collapses a requested model name onto its family prefix,
// so "claude-3-5-sonnet-20240620" and "claude-3-5-sonnet" account against the
// same usage rows and descriptor. The longest matching prefix wins; names that
// match nothing (and all Google and Zed models) pass through unchanged.
func NormalizeModelName(provider Provider, name string) string {
	var best string
	for _, family := range knownModelFamilies[provider] {
		if strings.HasPrefix(name, family) && len(family) > len(best) {
			best = family
		}
	}
	if best == "" {
		return name
	}
	return best
}

// --- Plans and token claims ---

// Plan is the subscription tier carried in token claims.
type Plan string

const (
	PlanFree   Plan = "free"
	PlanZedPro Plan = "zed_pro"
)

// Claims are the decoded fields inside a bearer token. Tokens are opaque to
// clients; the gateway mints and validates them with a server-held secret.
type Claims struct {
	UserID  uint64
	Plan    Plan
	IsStaff bool
}

// ExpiredTokenHeaderName is the response header that, together with a 401,
// signals the client to refresh its token and retry exactly once.
const ExpiredTokenHeaderName = "x-zed-llm-token-expired"

// CountryCodeHeaderName is the trusted proxy header carrying the caller's
// two-letter country code. Optional.
const CountryCodeHeaderName = "cf-ipcountry"

// --- Completion request ---

// CompletionParams is the body of POST /completion. ProviderRequest is the
// provider-native payload, forwarded verbatim to the upstream (after optional
// model-version canonicalization).
type CompletionParams struct {
	Provider        string          `json:"provider"`
	Model           string          `json:"model"`
	ProviderRequest json.RawMessage `json:"provider_request"`
}

// --- Model descriptors ---

// ModelDescriptor carries the global caps and pricing for one upstream model.
// Caps are divided by the active-user population to produce per-user limits.
type ModelDescriptor struct {
	Provider Provider
	Name     string

	MaxRequestsPerMinute int64
	MaxTokensPerMinute   int64
	MaxTokensPerDay      int64

	// Prices are in hundredths of a cent per million tokens.
	PricePerMillionInputTokens  int64
	PricePerMillionOutputTokens int64
}

// --- Usage ---

// Usage is the per-user per-model consumption row for the current windows.
// Counters are monotonic within a bucket; new buckets start at zero.
type Usage struct {
	RequestsThisMinute    int64
	TokensThisMinute      int64
	TokensThisDay         int64
	InputTokensThisMonth  int64
	OutputTokensThisMonth int64
	SpendingThisMonth     int64
}

// ActiveUserCount is the number of distinct users with recent usage, over a
// minute horizon and a day horizon. The quota engine divides model caps by
// these counts (clamped to at least 1).
type ActiveUserCount struct {
	UsersInRecentMinutes int64
	UsersInRecentDays    int64
}

// --- Context plumbing ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// Claims are set later by the token middleware via mutation of the same
// pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Claims    *Claims
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// ClaimsFromContext extracts the validated token claims from ctx, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	if m := metaFromContext(ctx); m != nil {
		return m.Claims
	}
	return nil
}

// ContextWithClaims stores claims in the existing requestMeta if present,
// avoiding a new context.WithValue allocation. Falls back to creating new
// metadata if none exists (e.g., in tests).
func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Claims = c
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Claims: c})
}

// RequestIDFromContext extracts the request ID from ctx.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Time buckets ---

// MinuteBucket truncates t to the start of its UTC minute.
func MinuteBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// DayBucket truncates t to the start of its UTC day.
func DayBucket(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthBucket truncates t to the start of its UTC month.
func MonthBucket(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

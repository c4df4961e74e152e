// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

// ModelStore resolves model descriptors for quota checks and accounting.
type ModelStore interface {
	// Model returns the descriptor for (provider, name), or
	// gateway.ErrModelNotFound.
	Model(ctx context.Context, provider gateway.Provider, name string) (*gateway.ModelDescriptor, error)
	// UpsertModel inserts or replaces a model descriptor (bootstrap path).
	UpsertModel(ctx context.Context, m *gateway.ModelDescriptor) error
}

// UsageStore manages per-user per-model consumption counters.
type UsageStore interface {
	// GetUsage returns the usage row for the windows containing now.
	// Counters whose stored bucket has rolled over read as zero; a missing
	// row reads as all zeros.
	GetUsage(ctx context.Context, userID uint64, provider gateway.Provider, model string, now time.Time) (gateway.Usage, error)
	// RecordUsage atomically advances the minute, day, and month buckets for
	// one user/model row, increments the request counter by one, and returns
	// the post-update usage. Stale buckets reset to the current delta.
	RecordUsage(ctx context.Context, userID uint64, provider gateway.Provider, model string, inputTokens, outputTokens int64, now time.Time) (gateway.Usage, error)
	// ActiveUserCounts returns the distinct users with any usage over the
	// recent minute and day horizons.
	ActiveUserCounts(ctx context.Context, now time.Time) (gateway.ActiveUserCount, error)
}

// Store combines all storage interfaces.
type Store interface {
	ModelStore
	UsageStore
	Ping(ctx context.Context) error
	Close() error
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

// Horizons for the distinct active-user queries.
const (
	activeMinuteHorizon = 5 * time.Minute
	activeDayHorizon    = 5 * 24 * time.Hour
)

// usageRow mirrors the usages table, with bucket boundaries kept alongside the
// counters so rollover can be decided against now.
type usageRow struct {
	minuteBucket time.Time
	dayBucket    time.Time
	monthBucket  time.Time
	usage        gateway.Usage
}

// GetUsage returns the usage counters for the windows containing now. A
// missing row, or a stored bucket older than the current window, reads as
// zero for the affected counters.
func (s *Store) GetUsage(ctx context.Context, userID uint64, provider gateway.Provider, model string, now time.Time) (gateway.Usage, error) {
	row, err := scanUsageRow(s.read.QueryRowContext(ctx,
		`SELECT minute_bucket, requests_this_minute, tokens_this_minute,
		        day_bucket, tokens_this_day,
		        month_bucket, input_tokens_this_month, output_tokens_this_month, spending_this_month
		 FROM usages WHERE user_id = ? AND provider = ? AND model = ?`,
		int64(userID), string(provider), model,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.Usage{}, nil
	}
	if err != nil {
		return gateway.Usage{}, fmt.Errorf("get usage: %w", err)
	}
	return row.windowed(now), nil
}

// RecordUsage atomically advances all window counters for one user/model row
// and returns the post-update usage. The single-writer connection serializes
// concurrent calls for the same key; the whole read-modify-write runs in one
// transaction so either all counters advance or none do.
func (s *Store) RecordUsage(ctx context.Context, userID uint64, provider gateway.Provider, model string, inputTokens, outputTokens int64, now time.Time) (gateway.Usage, error) {
	desc, err := s.Model(ctx, provider, model)
	if err != nil && !errors.Is(err, gateway.ErrModelNotFound) {
		return gateway.Usage{}, fmt.Errorf("record usage: %w", err)
	}

	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return gateway.Usage{}, fmt.Errorf("record usage: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row, err := scanUsageRow(tx.QueryRowContext(ctx,
		`SELECT minute_bucket, requests_this_minute, tokens_this_minute,
		        day_bucket, tokens_this_day,
		        month_bucket, input_tokens_this_month, output_tokens_this_month, spending_this_month
		 FROM usages WHERE user_id = ? AND provider = ? AND model = ?`,
		int64(userID), string(provider), model,
	))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return gateway.Usage{}, fmt.Errorf("record usage: read: %w", err)
	}

	// Roll stale buckets to zero, then apply the deltas.
	next := row.windowed(now)
	totalTokens := inputTokens + outputTokens
	next.RequestsThisMinute++
	next.TokensThisMinute += totalTokens
	next.TokensThisDay += totalTokens
	next.InputTokensThisMonth += inputTokens
	next.OutputTokensThisMonth += outputTokens
	if desc != nil {
		next.SpendingThisMonth += (inputTokens*desc.PricePerMillionInputTokens +
			outputTokens*desc.PricePerMillionOutputTokens) / 1_000_000
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO usages
		 (user_id, provider, model,
		  minute_bucket, requests_this_minute, tokens_this_minute,
		  day_bucket, tokens_this_day,
		  month_bucket, input_tokens_this_month, output_tokens_this_month, spending_this_month,
		  last_active_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, provider, model) DO UPDATE SET
		 minute_bucket = excluded.minute_bucket,
		 requests_this_minute = excluded.requests_this_minute,
		 tokens_this_minute = excluded.tokens_this_minute,
		 day_bucket = excluded.day_bucket,
		 tokens_this_day = excluded.tokens_this_day,
		 month_bucket = excluded.month_bucket,
		 input_tokens_this_month = excluded.input_tokens_this_month,
		 output_tokens_this_month = excluded.output_tokens_this_month,
		 spending_this_month = excluded.spending_this_month,
		 last_active_at = excluded.last_active_at`,
		int64(userID), string(provider), model,
		formatTime(gateway.MinuteBucket(now)), next.RequestsThisMinute, next.TokensThisMinute,
		formatTime(gateway.DayBucket(now)), next.TokensThisDay,
		formatTime(gateway.MonthBucket(now)), next.InputTokensThisMonth, next.OutputTokensThisMonth, next.SpendingThisMonth,
		formatTime(now.UTC()),
	)
	if err != nil {
		return gateway.Usage{}, fmt.Errorf("record usage: upsert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return gateway.Usage{}, fmt.Errorf("record usage: commit: %w", err)
	}
	return next, nil
}

// ActiveUserCounts returns the distinct users with any usage in the recent
// minute and day horizons.
func (s *Store) ActiveUserCounts(ctx context.Context, now time.Time) (gateway.ActiveUserCount, error) {
	var count gateway.ActiveUserCount
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM usages WHERE last_active_at >= ?`,
		formatTime(now.UTC().Add(-activeMinuteHorizon)),
	).Scan(&count.UsersInRecentMinutes)
	if err != nil {
		return count, fmt.Errorf("active users (minutes): %w", err)
	}
	err = s.read.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM usages WHERE last_active_at >= ?`,
		formatTime(now.UTC().Add(-activeDayHorizon)),
	).Scan(&count.UsersInRecentDays)
	if err != nil {
		return count, fmt.Errorf("active users (days): %w", err)
	}
	return count, nil
}

// windowed returns the row's counters with any stale bucket zeroed against now.
func (r *usageRow) windowed(now time.Time) gateway.Usage {
	u := r.usage
	if !r.minuteBucket.Equal(gateway.MinuteBucket(now)) {
		u.RequestsThisMinute = 0
		u.TokensThisMinute = 0
	}
	if !r.dayBucket.Equal(gateway.DayBucket(now)) {
		u.TokensThisDay = 0
	}
	if !r.monthBucket.Equal(gateway.MonthBucket(now)) {
		u.InputTokensThisMonth = 0
		u.OutputTokensThisMonth = 0
		u.SpendingThisMonth = 0
	}
	return u
}

func scanUsageRow(row *sql.Row) (usageRow, error) {
	var r usageRow
	var minute, day, month string
	err := row.Scan(
		&minute, &r.usage.RequestsThisMinute, &r.usage.TokensThisMinute,
		&day, &r.usage.TokensThisDay,
		&month, &r.usage.InputTokensThisMonth, &r.usage.OutputTokensThisMonth, &r.usage.SpendingThisMonth,
	)
	if err != nil {
		return r, err
	}
	if r.minuteBucket, err = parseTime(minute); err != nil {
		return r, err
	}
	if r.dayBucket, err = parseTime(day); err != nil {
		return r, err
	}
	if r.monthBucket, err = parseTime(month); err != nil {
		return r, err
	}
	return r, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339, s) }

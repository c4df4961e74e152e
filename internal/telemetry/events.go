package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// UsageEvent is one analytics row emitted after a completion finishes. The
// post-update counters snapshot the caller's usage windows at emit time.
type UsageEvent struct {
	Time                  int64  `json:"time"`
	UserID                uint64 `json:"user_id"`
	IsStaff               bool   `json:"is_staff"`
	Plan                  string `json:"plan"`
	Model                 string `json:"model"`
	Provider              string `json:"provider"`
	InputTokenCount       int64  `json:"input_token_count"`
	OutputTokenCount      int64  `json:"output_token_count"`
	RequestsThisMinute    int64  `json:"requests_this_minute"`
	TokensThisMinute      int64  `json:"tokens_this_minute"`
	TokensThisDay         int64  `json:"tokens_this_day"`
	InputTokensThisMonth  int64  `json:"input_tokens_this_month"`
	OutputTokensThisMonth int64  `json:"output_tokens_this_month"`
	SpendingThisMonth     int64  `json:"spending_this_month"`
}

// Sink accepts batches of usage events. Implementations must tolerate
// being called with an empty batch.
type Sink interface {
	WriteEvents(ctx context.Context, events []UsageEvent) error
}

// ClickHouseSink writes usage events to a ClickHouse HTTP endpoint using the
// JSONEachRow input format.
type ClickHouseSink struct {
	endpoint string
	http     *http.Client
}

// NewClickHouseSink builds a sink inserting into database.table at baseURL.
func NewClickHouseSink(baseURL, database, table string, client *http.Client) (*ClickHouseSink, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("clickhouse: empty base URL")
	}
	if client == nil {
		client = &http.Client{}
	}
	query := url.Values{}
	query.Set("query", fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", database, table))
	return &ClickHouseSink{
		endpoint: baseURL + "/?" + query.Encode(),
		http:     client,
	}, nil
}

// WriteEvents inserts events as newline-delimited JSON rows.
func (s *ClickHouseSink) WriteEvents(ctx context.Context, events []UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("clickhouse: encode event: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &buf)
	if err != nil {
		return fmt.Errorf("clickhouse: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse: insert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("clickhouse: insert failed with status %d: %s", resp.StatusCode, body)
	}
	return nil
}

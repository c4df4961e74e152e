package sqlite

import (
	"context"
	"database/sql"
	"errors"

	gateway "github.com/eugener/radagast/internal"
)

// Model returns the descriptor for (provider, name), consulting the
// read-through cache first. Missing models are not negatively cached: the
// lookup is rare (only unknown model names reach it twice).
func (s *Store) Model(ctx context.Context, provider gateway.Provider, name string) (*gateway.ModelDescriptor, error) {
	key := string(provider) + "/" + name
	if m, ok := s.models.GetIfPresent(key); ok {
		return m, nil
	}

	m := &gateway.ModelDescriptor{Provider: provider, Name: name}
	err := s.read.QueryRowContext(ctx,
		`SELECT max_requests_per_minute, max_tokens_per_minute, max_tokens_per_day,
		        price_per_million_input_tokens, price_per_million_output_tokens
		 FROM models WHERE provider = ? AND name = ?`,
		string(provider), name,
	).Scan(&m.MaxRequestsPerMinute, &m.MaxTokensPerMinute, &m.MaxTokensPerDay,
		&m.PricePerMillionInputTokens, &m.PricePerMillionOutputTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gateway.ErrModelNotFound
	}
	if err != nil {
		return nil, err
	}

	s.models.Set(key, m)
	return m, nil
}

// UpsertModel inserts or replaces a model descriptor and invalidates the cache
// entry so the next read observes the new caps.
func (s *Store) UpsertModel(ctx context.Context, m *gateway.ModelDescriptor) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO models
		 (provider, name, max_requests_per_minute, max_tokens_per_minute, max_tokens_per_day,
		  price_per_million_input_tokens, price_per_million_output_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(provider, name) DO UPDATE SET
		 max_requests_per_minute = excluded.max_requests_per_minute,
		 max_tokens_per_minute = excluded.max_tokens_per_minute,
		 max_tokens_per_day = excluded.max_tokens_per_day,
		 price_per_million_input_tokens = excluded.price_per_million_input_tokens,
		 price_per_million_output_tokens = excluded.price_per_million_output_tokens`,
		string(m.Provider), m.Name, m.MaxRequestsPerMinute, m.MaxTokensPerMinute, m.MaxTokensPerDay,
		m.PricePerMillionInputTokens, m.PricePerMillionOutputTokens,
	)
	if err != nil {
		return err
	}
	s.models.Invalidate(string(m.Provider) + "/" + m.Name)
	return nil
}

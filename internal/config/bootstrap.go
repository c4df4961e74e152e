// Package config provides configuration loading and database bootstrapping.
package config

import (
	"context"
	"fmt"
	"log/slog"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/storage"
)

// Bootstrap seeds the model descriptors from the config file. Upserts are
// idempotent, so restarts with an updated config move the caps and prices
// without migrations.
func Bootstrap(ctx context.Context, cfg *Config, store storage.ModelStore) error {
	for _, m := range cfg.Models {
		provider, err := gateway.ParseProvider(m.Provider)
		if err != nil {
			return fmt.Errorf("config: model %q: %w", m.Name, err)
		}
		desc := &gateway.ModelDescriptor{
			Provider:                    provider,
			Name:                        m.Name,
			MaxRequestsPerMinute:        m.MaxRequestsPerMinute,
			MaxTokensPerMinute:          m.MaxTokensPerMinute,
			MaxTokensPerDay:             m.MaxTokensPerDay,
			PricePerMillionInputTokens:  m.PricePerMillionInput,
			PricePerMillionOutputTokens: m.PricePerMillionOutput,
		}
		if err := store.UpsertModel(ctx, desc); err != nil {
			return fmt.Errorf("config: seed model %q: %w", m.Name, err)
		}
		slog.Info("bootstrapped model", "provider", provider, "name", m.Name)
	}
	return nil
}

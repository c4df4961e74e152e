// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Providers  ProvidersConfig  `yaml:"providers"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Authz      AuthzConfig      `yaml:"authz"`
	Models     []ModelEntry     `yaml:"models"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds token settings. Secret signs and validates bearer tokens;
// Lifetime bounds how long a minted token stays valid.
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Lifetime time.Duration `yaml:"lifetime"`
}

// ProvidersConfig holds the upstream endpoint and key for each provider.
type ProvidersConfig struct {
	Anthropic ProviderEntry `yaml:"anthropic"`
	OpenAI    ProviderEntry `yaml:"openai"`
	Google    ProviderEntry `yaml:"google"`
	Zed       ProviderEntry `yaml:"zed"`
}

// ProviderEntry configures one upstream provider. An empty APIURL selects the
// provider's public endpoint; an empty APIKey disables the provider.
type ProviderEntry struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
}

// Enabled reports whether the provider has a key configured.
func (p ProviderEntry) Enabled() bool { return p.APIKey != "" }

// ClickHouseConfig holds the analytics sink settings. An empty URL disables
// the sink.
type ClickHouseConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// AuthzConfig declares the authorization policy.
type AuthzConfig struct {
	// EmbargoedCountries overrides the built-in embargo list when non-empty.
	EmbargoedCountries []string `yaml:"embargoed_countries"`
	// PlanGatedModels maps "provider/model" to the minimum plan required.
	PlanGatedModels map[string]string `yaml:"plan_gated_models"`
}

// ModelEntry seeds one model descriptor into the database at startup.
type ModelEntry struct {
	Provider              string `yaml:"provider"`
	Name                  string `yaml:"name"`
	MaxRequestsPerMinute  int64  `yaml:"max_requests_per_minute"`
	MaxTokensPerMinute    int64  `yaml:"max_tokens_per_minute"`
	MaxTokensPerDay       int64  `yaml:"max_tokens_per_day"`
	PricePerMillionInput  int64  `yaml:"price_per_million_input_tokens"`
	PricePerMillionOutput int64  `yaml:"price_per_million_output_tokens"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "radagast.db",
		},
		Auth: AuthConfig{
			Lifetime: time.Hour,
		},
		ClickHouse: ClickHouseConfig{
			Database: "default",
			Table:    "llm_usage_events",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("config: auth.secret is required")
	}
	return cfg, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  addr: ":9090"
  read_timeout: 10s
database:
  dsn: ":memory:"
auth:
  secret: super-secret
  lifetime: 30m
providers:
  anthropic:
    api_key: sk-ant-test
  zed:
    api_url: http://zed-inference:8000
    api_key: zk-test
clickhouse:
  url: http://clickhouse:8123
models:
  - provider: anthropic
    name: claude-3-5-sonnet
    max_requests_per_minute: 60
    max_tokens_per_minute: 100000
    max_tokens_per_day: 1000000
    price_per_million_input_tokens: 300
    price_per_million_output_tokens: 1500
authz:
  plan_gated_models:
    anthropic/claude-3-opus: zed_pro
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Database.DSN, ":memory:")
	}
	if cfg.Auth.Lifetime != 30*time.Minute {
		t.Errorf("lifetime = %v, want 30m", cfg.Auth.Lifetime)
	}
	if !cfg.Providers.Anthropic.Enabled() {
		t.Error("anthropic should be enabled")
	}
	if cfg.Providers.OpenAI.Enabled() {
		t.Error("openai should be disabled without a key")
	}
	if cfg.Providers.Zed.APIURL != "http://zed-inference:8000" {
		t.Errorf("zed url = %q", cfg.Providers.Zed.APIURL)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].MaxTokensPerDay != 1_000_000 {
		t.Errorf("models = %+v", cfg.Models)
	}
	if cfg.Authz.PlanGatedModels["anthropic/claude-3-opus"] != "zed_pro" {
		t.Errorf("plan_gated_models = %+v", cfg.Authz.PlanGatedModels)
	}
	// ClickHouse defaults fill in around the provided URL.
	if cfg.ClickHouse.Database != "default" || cfg.ClickHouse.Table != "llm_usage_events" {
		t.Errorf("clickhouse = %+v", cfg.ClickHouse)
	}
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Parallel()

	if _, err := Load(writeConfig(t, "server:\n  addr: \":1\"\n")); err == nil {
		t.Error("expected error for missing auth.secret")
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("TEST_TOKEN_SECRET", "sk-secret-123")

	cfg, err := Load(writeConfig(t, "auth:\n  secret: ${TEST_TOKEN_SECRET}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.Secret != "sk-secret-123" {
		t.Errorf("secret = %q", cfg.Auth.Secret)
	}

	// Unset variables are left as-is.
	result := expandEnv([]byte("key: ${NO_SUCH_VAR_SET}"))
	if string(result) != "key: ${NO_SUCH_VAR_SET}" {
		t.Errorf("expandEnv = %q", result)
	}
}

// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
discord:
  token: "bot-token-123"
  intents: 33280

database:
  path: "./test.db"

gateway:
  backoff_base: "2s"
  backoff_max: "1m"
  connected_grace: "90s"
  hello_timeout: "10s"
  heartbeat_tolerance: 1.5

rate_limit:
  requests_per_second: 25
  acquire_timeout: "20s"

workers:
  blp_workers: 5
  rembg_workers: 2
  blp_command: ["blp-convert", "--fast"]
  rembg_command: ["rembg-convert"]
  poll_interval: "1s"
  stuck_after: "5m"

assets:
  dir: "/var/lib/harbor/models"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Discord.Token != "bot-token-123" {
		t.Errorf("Discord.Token = %q, want %q", cfg.Discord.Token, "bot-token-123")
	}
	if cfg.Discord.Intents != 33280 {
		t.Errorf("Discord.Intents = %d, want 33280", cfg.Discord.Intents)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Gateway.BackoffBase != 2*time.Second {
		t.Errorf("Gateway.BackoffBase = %v, want 2s", cfg.Gateway.BackoffBase)
	}
	if cfg.Gateway.BackoffMax != time.Minute {
		t.Errorf("Gateway.BackoffMax = %v, want 1m", cfg.Gateway.BackoffMax)
	}
	if cfg.Gateway.ConnectedGrace != 90*time.Second {
		t.Errorf("Gateway.ConnectedGrace = %v, want 90s", cfg.Gateway.ConnectedGrace)
	}
	if cfg.Gateway.HeartbeatTolerance != 1.5 {
		t.Errorf("Gateway.HeartbeatTolerance = %v, want 1.5", cfg.Gateway.HeartbeatTolerance)
	}
	if cfg.RateLimit.RequestsPerSecond != 25 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 25", cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.RateLimit.AcquireTimeout != 20*time.Second {
		t.Errorf("RateLimit.AcquireTimeout = %v, want 20s", cfg.RateLimit.AcquireTimeout)
	}
	if cfg.Workers.BLPWorkers != 5 {
		t.Errorf("Workers.BLPWorkers = %d, want 5", cfg.Workers.BLPWorkers)
	}
	if len(cfg.Workers.BLPCommand) != 2 || cfg.Workers.BLPCommand[0] != "blp-convert" {
		t.Errorf("Workers.BLPCommand = %v, want [blp-convert --fast]", cfg.Workers.BLPCommand)
	}
	if cfg.Workers.StuckAfter != 5*time.Minute {
		t.Errorf("Workers.StuckAfter = %v, want 5m", cfg.Workers.StuckAfter)
	}
	if cfg.Assets.Dir != "/var/lib/harbor/models" {
		t.Errorf("Assets.Dir = %q, want /var/lib/harbor/models", cfg.Assets.Dir)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("HARBOR_TEST_TOKEN", "secret-from-env")

	configPath := writeConfig(t, `
discord:
  token: "${HARBOR_TEST_TOKEN}"
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Discord.Token != "secret-from-env" {
		t.Errorf("Discord.Token = %q, want %q", cfg.Discord.Token, "secret-from-env")
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	configPath := writeConfig(t, `
discord:
  token: "${HARBOR_DEFINITELY_UNSET_VAR}"
database:
  path: "./test.db"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for empty token")
	}
	if !strings.Contains(err.Error(), "discord.token") {
		t.Errorf("error = %v, want mention of discord.token", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
discord:
  token: "tok"
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Discord.Intents != 33280 {
		t.Errorf("default Intents = %d, want 33280", cfg.Discord.Intents)
	}
	if cfg.Gateway.BackoffBase != time.Second {
		t.Errorf("default BackoffBase = %v, want 1s", cfg.Gateway.BackoffBase)
	}
	if cfg.Gateway.BackoffMax != 30*time.Second {
		t.Errorf("default BackoffMax = %v, want 30s", cfg.Gateway.BackoffMax)
	}
	if cfg.Gateway.HeartbeatTolerance != 1.0 {
		t.Errorf("default HeartbeatTolerance = %v, want 1.0", cfg.Gateway.HeartbeatTolerance)
	}
	if cfg.RateLimit.RequestsPerSecond != 40 {
		t.Errorf("default RequestsPerSecond = %v, want 40", cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.Workers.BLPWorkers != 3 || cfg.Workers.RembgWorkers != 3 {
		t.Errorf("default workers = %d/%d, want 3/3", cfg.Workers.BLPWorkers, cfg.Workers.RembgWorkers)
	}
	if cfg.Workers.StuckAfter != 10*time.Minute {
		t.Errorf("default StuckAfter = %v, want 10m", cfg.Workers.StuckAfter)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("default logging = %s/%s, want info/text", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
discord:
  token: "tok"
database:
  path: "./test.db"
gateway:
  backoff_base: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "backoff_base") {
		t.Errorf("error = %v, want mention of backoff_base", err)
	}
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	configPath := writeConfig(t, `
discord:
  token: "tok"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for missing database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want mention of database.path", err)
	}
}

func TestLoad_BackoffBaseAboveMax(t *testing.T) {
	configPath := writeConfig(t, `
discord:
  token: "tok"
database:
  path: "./test.db"
gateway:
  backoff_base: "1m"
  backoff_max: "5s"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for backoff_base > backoff_max")
	}
}

func TestLoad_InvalidLoggingLevel(t *testing.T) {
	configPath := writeConfig(t, `
discord:
  token: "tok"
database:
  path: "./test.db"
logging:
  level: "loud"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid logging level")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

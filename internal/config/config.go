// ABOUTME: Configuration loading and parsing for harbor-bot
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete harbor-bot configuration
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Database  DatabaseConfig  `yaml:"database"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Workers   WorkersConfig   `yaml:"workers"`
	Assets    AssetsConfig    `yaml:"assets"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DiscordConfig holds platform credentials and API endpoints
type DiscordConfig struct {
	Token   string `yaml:"token"`
	APIBase string `yaml:"api_base"`
	Intents int    `yaml:"intents"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig holds connection supervisor timing configuration
type GatewayConfig struct {
	BackoffBase        time.Duration `yaml:"-"`
	BackoffMax         time.Duration `yaml:"-"`
	ConnectedGrace     time.Duration `yaml:"-"`
	HelloTimeout       time.Duration `yaml:"-"`
	HeartbeatTolerance float64       `yaml:"heartbeat_tolerance"`

	// Raw string values for YAML unmarshaling
	BackoffBaseRaw    string `yaml:"backoff_base"`
	BackoffMaxRaw     string `yaml:"backoff_max"`
	ConnectedGraceRaw string `yaml:"connected_grace"`
	HelloTimeoutRaw   string `yaml:"hello_timeout"`
}

// RateLimitConfig holds token bucket configuration for the REST client
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	AcquireTimeout    time.Duration `yaml:"-"`
	AcquireTimeoutRaw string        `yaml:"acquire_timeout"`
}

// WorkersConfig holds job queue worker configuration
type WorkersConfig struct {
	BLPWorkers   int      `yaml:"blp_workers"`
	RembgWorkers int      `yaml:"rembg_workers"`
	BLPCommand   []string `yaml:"blp_command"`
	RembgCommand []string `yaml:"rembg_command"`

	PollInterval    time.Duration `yaml:"-"`
	StuckAfter      time.Duration `yaml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval"`
	StuckAfterRaw   string        `yaml:"stuck_after"`
}

// AssetsConfig holds model file provisioning configuration
type AssetsConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in unset fields with working values. Only the token and
// database path have no default.
func (c *Config) applyDefaults() {
	if c.Discord.Intents == 0 {
		// GUILD_MESSAGES | MESSAGE_CONTENT
		c.Discord.Intents = 33280
	}
	if c.Gateway.BackoffBase == 0 {
		c.Gateway.BackoffBase = time.Second
	}
	if c.Gateway.BackoffMax == 0 {
		c.Gateway.BackoffMax = 30 * time.Second
	}
	if c.Gateway.ConnectedGrace == 0 {
		c.Gateway.ConnectedGrace = time.Minute
	}
	if c.Gateway.HelloTimeout == 0 {
		c.Gateway.HelloTimeout = 15 * time.Second
	}
	if c.Gateway.HeartbeatTolerance == 0 {
		c.Gateway.HeartbeatTolerance = 1.0
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 40
	}
	if c.RateLimit.AcquireTimeout == 0 {
		c.RateLimit.AcquireTimeout = 30 * time.Second
	}
	if c.Workers.BLPWorkers == 0 {
		c.Workers.BLPWorkers = 3
	}
	if c.Workers.RembgWorkers == 0 {
		c.Workers.RembgWorkers = 3
	}
	if c.Workers.PollInterval == 0 {
		c.Workers.PollInterval = 2 * time.Second
	}
	if c.Workers.StuckAfter == 0 {
		c.Workers.StuckAfter = 10 * time.Minute
	}
	if c.Assets.Dir == "" {
		c.Assets.Dir = "./models"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Gateway.BackoffBase > c.Gateway.BackoffMax {
		return fmt.Errorf("gateway.backoff_base must not exceed gateway.backoff_max")
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Gateway.BackoffBaseRaw, "gateway.backoff_base", &cfg.Gateway.BackoffBase},
		{cfg.Gateway.BackoffMaxRaw, "gateway.backoff_max", &cfg.Gateway.BackoffMax},
		{cfg.Gateway.ConnectedGraceRaw, "gateway.connected_grace", &cfg.Gateway.ConnectedGrace},
		{cfg.Gateway.HelloTimeoutRaw, "gateway.hello_timeout", &cfg.Gateway.HelloTimeout},
		{cfg.RateLimit.AcquireTimeoutRaw, "rate_limit.acquire_timeout", &cfg.RateLimit.AcquireTimeout},
		{cfg.Workers.PollIntervalRaw, "workers.poll_interval", &cfg.Workers.PollInterval},
		{cfg.Workers.StuckAfterRaw, "workers.stuck_after", &cfg.Workers.StuckAfter},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

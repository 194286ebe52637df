// Package config handles configuration loading for harbor-bot.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HARBOR_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/harbor/bot.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	discord:
//	  token: "${DISCORD_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	gateway:
//	  backoff_base: "1s"
//	  backoff_max: "30s"
//	  connected_grace: "1m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Platform credentials:
//
//	discord:
//	  token: "${DISCORD_TOKEN}"   # Required
//	  api_base: ""                # Override for testing
//	  intents: 33280              # GUILD_MESSAGES | MESSAGE_CONTENT
//
// Database:
//
//	database:
//	  path: "/var/lib/harbor/bot.db"
//
// Gateway timing:
//
//	gateway:
//	  backoff_base: "1s"
//	  backoff_max: "30s"
//	  connected_grace: "1m"
//	  hello_timeout: "15s"
//	  heartbeat_tolerance: 1.0
//
// Rate limiting:
//
//	rate_limit:
//	  requests_per_second: 40
//	  acquire_timeout: "30s"
//
// Workers:
//
//	workers:
//	  blp_workers: 3
//	  rembg_workers: 3
//	  blp_command: ["blp-convert"]
//	  rembg_command: ["rembg-convert"]
//	  poll_interval: "2s"
//	  stuck_after: "10m"
//
// Assets:
//
//	assets:
//	  dir: "./models"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/harbor/bot.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

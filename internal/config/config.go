// Package config defines the top-level configuration for the options
// position monitor and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by OPTRADER_* environment
// variables.
type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Feed     FeedConfig     `toml:"feed"`
	Advisory AdvisoryConfig `toml:"advisory"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BrokerConfig selects and configures the execution venue.
type BrokerConfig struct {
	// Venue selects the gateway implementation: "dhan" or "simulator".
	Venue     string          `toml:"venue"`
	Dhan      DhanConfig      `toml:"dhan"`
	Simulator SimulatorConfig `toml:"simulator"`
	Retry     RetryConfig     `toml:"retry"`
}

// DhanConfig holds Dhan broker API credentials and endpoints.
type DhanConfig struct {
	BaseURL     string   `toml:"base_url"`
	ClientID    string   `toml:"client_id"`
	AccessToken string   `toml:"access_token"`
	Timeout     duration `toml:"timeout"`
}

// SimulatorConfig holds the paper-trading broker parameters.
type SimulatorConfig struct {
	Latency     duration `toml:"latency"`
	FailureRate float64  `toml:"failure_rate"`
	SlippageBps float64  `toml:"slippage_bps"`
	Seed        int64    `toml:"seed"`
}

// RetryConfig bounds retries of transient gateway failures.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   duration `toml:"base_delay"`
	MaxDelay    duration `toml:"max_delay"`
}

// DatabaseConfig holds PostgreSQL connection parameters. When Enabled is
// false the in-memory stores are used instead.
type DatabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the price cache and
// event bus.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds monitoring engine parameters.
type EngineConfig struct {
	Workers        int  `toml:"workers"`
	EmitValuations bool `toml:"emit_valuations"`
}

// FeedConfig selects and configures the tick source.
type FeedConfig struct {
	// Source selects the feed implementation: "websocket", "poll" or "sim".
	Source string `toml:"source"`

	WSURL        string   `toml:"ws_url"`
	QuoteURL     string   `toml:"quote_url"`
	PollInterval duration `toml:"poll_interval"`
	SimInterval  duration `toml:"sim_interval"`
	SimDriftBps  float64  `toml:"sim_drift_bps"`
}

// AdvisoryConfig holds the advisory service endpoint.
type AdvisoryConfig struct {
	Enabled bool     `toml:"enabled"`
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// ArchiveConfig controls archival of closed positions to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			Venue: "simulator",
			Dhan: DhanConfig{
				BaseURL: "https://api.dhan.co",
				Timeout: duration{15 * time.Second},
			},
			Simulator: SimulatorConfig{
				Latency:     duration{50 * time.Millisecond},
				FailureRate: 0,
				SlippageBps: 5,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   duration{500 * time.Millisecond},
				MaxDelay:    duration{10 * time.Second},
			},
		},
		Database: DatabaseConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "optrader",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			PriceTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "optrader-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			Workers:        8,
			EmitValuations: true,
		},
		Feed: FeedConfig{
			Source:       "sim",
			PollInterval: duration{3 * time.Second},
			SimInterval:  duration{time.Second},
			SimDriftBps:  75,
		},
		Advisory: AdvisoryConfig{
			Enabled: false,
			Timeout: duration{15 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_triggered", "position_closed", "close_failed"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validVenues enumerates the accepted broker venues.
var validVenues = map[string]bool{
	"dhan":      true,
	"simulator": true,
}

// validFeedSources enumerates the accepted tick sources.
var validFeedSources = map[string]bool{
	"websocket": true,
	"poll":      true,
	"sim":       true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Broker
	if !validVenues[strings.ToLower(c.Broker.Venue)] {
		errs = append(errs, fmt.Sprintf("broker: unknown venue %q (valid: dhan, simulator)", c.Broker.Venue))
	}
	if strings.ToLower(c.Broker.Venue) == "dhan" && c.Mode != "paper" {
		if c.Broker.Dhan.ClientID == "" {
			errs = append(errs, "broker.dhan: client_id is required for the dhan venue")
		}
		if c.Broker.Dhan.AccessToken == "" {
			errs = append(errs, "broker.dhan: access_token is required for the dhan venue")
		}
		if c.Broker.Dhan.BaseURL == "" {
			errs = append(errs, "broker.dhan: base_url must not be empty")
		}
	}
	if c.Broker.Simulator.FailureRate < 0 || c.Broker.Simulator.FailureRate > 1 {
		errs = append(errs, fmt.Sprintf("broker.simulator: failure_rate must be in [0, 1], got %.2f", c.Broker.Simulator.FailureRate))
	}
	if c.Broker.Retry.MaxAttempts < 1 {
		errs = append(errs, "broker.retry: max_attempts must be >= 1")
	}

	// Database
	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive needs S3.
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if !c.Database.Enabled {
			errs = append(errs, "archive: requires database.enabled = true")
		}
	}

	// Engine
	if c.Engine.Workers < 1 {
		errs = append(errs, "engine: workers must be >= 1")
	}

	// Feed
	switch strings.ToLower(c.Feed.Source) {
	case "websocket":
		if c.Feed.WSURL == "" {
			errs = append(errs, "feed: ws_url is required for the websocket source")
		}
	case "poll":
		if c.Feed.QuoteURL == "" {
			errs = append(errs, "feed: quote_url is required for the poll source")
		}
		if c.Feed.PollInterval.Duration <= 0 {
			errs = append(errs, "feed: poll_interval must be > 0 for the poll source")
		}
	case "sim":
	default:
		errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: websocket, poll, sim)", c.Feed.Source))
	}

	// Advisory
	if c.Advisory.Enabled && c.Advisory.BaseURL == "" {
		errs = append(errs, "advisory: base_url must not be empty when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

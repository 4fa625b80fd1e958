package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OPTRADER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OPTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.Venue, "OPTRADER_BROKER_VENUE")
	setStr(&cfg.Broker.Dhan.BaseURL, "OPTRADER_DHAN_BASE_URL")
	setStr(&cfg.Broker.Dhan.ClientID, "OPTRADER_DHAN_CLIENT_ID")
	setStr(&cfg.Broker.Dhan.AccessToken, "OPTRADER_DHAN_ACCESS_TOKEN")
	setDuration(&cfg.Broker.Dhan.Timeout, "OPTRADER_DHAN_TIMEOUT")
	setFloat64(&cfg.Broker.Simulator.FailureRate, "OPTRADER_SIM_FAILURE_RATE")
	setFloat64(&cfg.Broker.Simulator.SlippageBps, "OPTRADER_SIM_SLIPPAGE_BPS")
	setInt64(&cfg.Broker.Simulator.Seed, "OPTRADER_SIM_SEED")
	setInt(&cfg.Broker.Retry.MaxAttempts, "OPTRADER_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Broker.Retry.BaseDelay, "OPTRADER_RETRY_BASE_DELAY")
	setDuration(&cfg.Broker.Retry.MaxDelay, "OPTRADER_RETRY_MAX_DELAY")

	// ── Database ──
	setBool(&cfg.Database.Enabled, "OPTRADER_DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "OPTRADER_DATABASE_DSN")
	setStr(&cfg.Database.Host, "OPTRADER_DATABASE_HOST")
	setInt(&cfg.Database.Port, "OPTRADER_DATABASE_PORT")
	setStr(&cfg.Database.Database, "OPTRADER_DATABASE_NAME")
	setStr(&cfg.Database.User, "OPTRADER_DATABASE_USER")
	setStr(&cfg.Database.Password, "OPTRADER_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "OPTRADER_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "OPTRADER_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "OPTRADER_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "OPTRADER_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "OPTRADER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "OPTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPTRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPTRADER_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "OPTRADER_REDIS_PRICE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "OPTRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OPTRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "OPTRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OPTRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OPTRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OPTRADER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OPTRADER_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setInt(&cfg.Engine.Workers, "OPTRADER_ENGINE_WORKERS")
	setBool(&cfg.Engine.EmitValuations, "OPTRADER_ENGINE_EMIT_VALUATIONS")

	// ── Feed ──
	setStr(&cfg.Feed.Source, "OPTRADER_FEED_SOURCE")
	setStr(&cfg.Feed.WSURL, "OPTRADER_FEED_WS_URL")
	setStr(&cfg.Feed.QuoteURL, "OPTRADER_FEED_QUOTE_URL")
	setDuration(&cfg.Feed.PollInterval, "OPTRADER_FEED_POLL_INTERVAL")
	setDuration(&cfg.Feed.SimInterval, "OPTRADER_FEED_SIM_INTERVAL")

	// ── Advisory ──
	setBool(&cfg.Advisory.Enabled, "OPTRADER_ADVISORY_ENABLED")
	setStr(&cfg.Advisory.BaseURL, "OPTRADER_ADVISORY_BASE_URL")
	setStr(&cfg.Advisory.APIKey, "OPTRADER_ADVISORY_API_KEY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "OPTRADER_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "OPTRADER_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "OPTRADER_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OPTRADER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OPTRADER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "OPTRADER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "OPTRADER_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OPTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OPTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OPTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OPTRADER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "OPTRADER_MODE")
	setStr(&cfg.LogLevel, "OPTRADER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

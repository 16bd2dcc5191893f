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
// built-in defaults, applies STEWARD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known STEWARD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Alpaca ──
	setStr(&cfg.Alpaca.APIKey, "STEWARD_ALPACA_API_KEY")
	setStr(&cfg.Alpaca.APISecret, "STEWARD_ALPACA_API_SECRET")
	setStr(&cfg.Alpaca.BaseURL, "STEWARD_ALPACA_BASE_URL")
	setInt(&cfg.Alpaca.RetryMax, "STEWARD_ALPACA_RETRY_MAX")
	setInt(&cfg.Alpaca.RetryBaseMs, "STEWARD_ALPACA_RETRY_BASE_MS")
	// Canonical Alpaca SDK env vars take highest priority.
	setStr(&cfg.Alpaca.APIKey, "APCA_API_KEY_ID")
	setStr(&cfg.Alpaca.APISecret, "APCA_API_SECRET_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "STEWARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "STEWARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "STEWARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "STEWARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "STEWARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "STEWARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "STEWARD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "STEWARD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "STEWARD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "STEWARD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "STEWARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STEWARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STEWARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STEWARD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STEWARD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STEWARD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.SignalChannel, "STEWARD_REDIS_SIGNAL_CHANNEL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "STEWARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STEWARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "STEWARD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STEWARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STEWARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STEWARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STEWARD_S3_FORCE_PATH_STYLE")

	// ── Risk ──
	setFloat64(&cfg.Risk.RiskPerTrade, "STEWARD_RISK_PER_TRADE")
	setFloat64(&cfg.Risk.MaxDailyDrawdownPct, "STEWARD_RISK_MAX_DAILY_DRAWDOWN_PCT")
	setFloat64(&cfg.Risk.MinBuyingPowerUSD, "STEWARD_RISK_MIN_BUYING_POWER_USD")
	setDuration(&cfg.Risk.CountCacheTTL, "STEWARD_RISK_COUNT_CACHE_TTL")

	// ── Execution ──
	setBool(&cfg.Execution.Enabled, "STEWARD_EXECUTION_ENABLED")
	setStr(&cfg.Execution.Environment, "STEWARD_EXECUTION_ENVIRONMENT")
	setFloat64(&cfg.Execution.MinNotionalUSD, "STEWARD_EXECUTION_MIN_NOTIONAL_USD")

	// ── Reconcile ──
	setDuration(&cfg.Reconcile.MinAge, "STEWARD_RECONCILE_MIN_AGE")
	setDuration(&cfg.Reconcile.Interval, "STEWARD_RECONCILE_INTERVAL")
	setInt(&cfg.Reconcile.LookbackOrders, "STEWARD_RECONCILE_LOOKBACK_ORDERS")
	setDuration(&cfg.Reconcile.LockTTL, "STEWARD_RECONCILE_LOCK_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "STEWARD_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "STEWARD_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Prefix, "STEWARD_ARCHIVE_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STEWARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STEWARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STEWARD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STEWARD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "STEWARD_MODE")
	setStr(&cfg.LogLevel, "STEWARD_LOG_LEVEL")
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
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

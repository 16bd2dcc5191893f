// Package config defines the top-level configuration for steward and
// provides validation helpers. The Config is built once by the process entry
// point and injected by reference into every component constructor; nothing
// reads configuration through package-level state.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by STEWARD_* environment
// variables.
type Config struct {
	Alpaca    AlpacaConfig    `toml:"alpaca"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Archive   ArchiveConfig   `toml:"archive"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// AlpacaConfig holds credentials and endpoints for the Alpaca broker API.
type AlpacaConfig struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	BaseURL   string `toml:"base_url"`
	// RetryMax and RetryBaseMs bound the gateway's exponential backoff.
	// Deployments outside production should configure tighter bounds.
	RetryMax    int `toml:"retry_max"`
	RetryBaseMs int `toml:"retry_base_ms"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// SignalChannel is the pub/sub channel external signal generators
	// publish trade signals on.
	SignalChannel string `toml:"signal_channel"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RiskConfig holds the tunable parameters for the pre-trade risk gates.
type RiskConfig struct {
	// RiskPerTrade is the dollar amount risked between entry and stop;
	// position quantity is derived from it.
	RiskPerTrade float64 `toml:"risk_per_trade"`
	// MaxDailyDrawdownPct blocks new trades once (last_equity - equity) /
	// last_equity exceeds this fraction.
	MaxDailyDrawdownPct float64 `toml:"max_daily_drawdown_pct"`
	// MinBuyingPowerUSD is the absolute floor below which no trade is
	// permitted regardless of required capital.
	MinBuyingPowerUSD float64 `toml:"min_buying_power_usd"`
	// MaxOpenPerClass caps concurrently open positions per asset class.
	MaxOpenPerClass map[string]int `toml:"max_open_per_class"`
	// CountCacheTTL bounds how often the open-position count is re-queried
	// for the sector-cap gate.
	CountCacheTTL duration `toml:"count_cache_ttl"`
}

// MaxOpenFor returns the configured cap for an asset class, or 0 (no trades)
// when the class is not configured.
func (r RiskConfig) MaxOpenFor(class string) int {
	return r.MaxOpenPerClass[class]
}

// ExecutionConfig holds execution engine parameters.
type ExecutionConfig struct {
	// Enabled is the global kill switch; when false no broker calls are
	// made and ExecuteSignal returns immediately.
	Enabled bool `toml:"enabled"`
	// Environment gates live trading: any value other than "production"
	// makes the execution engine a no-op against the broker.
	Environment string `toml:"environment"`
	// MinNotionalUSD rejects orders below the broker-imposed floor before
	// submission.
	MinNotionalUSD float64 `toml:"min_notional_usd"`
}

// Production reports whether live broker calls are permitted.
func (e ExecutionConfig) Production() bool {
	return strings.EqualFold(e.Environment, "production")
}

// ReconcileConfig holds state reconciler parameters.
type ReconcileConfig struct {
	// MinAge is how old a store-open position must be before its absence
	// from the broker counts as a zombie. Guards the window between order
	// submission and the broker's position list reflecting it.
	MinAge duration `toml:"min_age"`
	// Interval is the cadence of reconciliation passes in full mode.
	Interval duration `toml:"interval"`
	// LookbackOrders bounds the closed-order history fetched during
	// manual-exit verification.
	LookbackOrders int `toml:"lookback_orders"`
	// LockTTL bounds how long one pass may hold the cross-process run lock.
	LockTTL duration `toml:"lock_ttl"`
}

// ArchiveConfig holds closed-position archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Prefix        string   `toml:"prefix"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
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
		Alpaca: AlpacaConfig{
			BaseURL:     "https://paper-api.alpaca.markets",
			RetryMax:    4,
			RetryBaseMs: 250,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "steward",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			DB:            0,
			PoolSize:      20,
			MaxRetries:    3,
			SignalChannel: "steward:signals",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "steward-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Risk: RiskConfig{
			RiskPerTrade:        100.0,
			MaxDailyDrawdownPct: 0.03,
			MinBuyingPowerUSD:   500.0,
			MaxOpenPerClass: map[string]int{
				"crypto": 3,
				"equity": 5,
			},
			CountCacheTTL: duration{5 * time.Minute},
		},
		Execution: ExecutionConfig{
			Enabled:        true,
			Environment:    "development",
			MinNotionalUSD: 10.0,
		},
		Reconcile: ReconcileConfig{
			MinAge:         duration{5 * time.Minute},
			Interval:       duration{10 * time.Minute},
			LookbackOrders: 50,
			LockTTL:        duration{2 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Prefix:        "positions",
		},
		Notify: NotifyConfig{
			Events: []string{"reconcile_report", "manual_exit", "emergency_close", "reverse_orphan_healed", "save_failed", "archive_complete"},
		},
		Mode:     "reconcile",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"execute":   true,
	"reconcile": true,
	"monitor":   true,
	"archive":   true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: execute, reconcile, monitor, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Alpaca credentials are required by every mode that talks to the
	// broker, which is all of them except archive.
	if mode != "archive" {
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			errs = append(errs, "alpaca: api_key and api_secret are required for mode "+c.Mode)
		}
		if c.Alpaca.BaseURL == "" {
			errs = append(errs, "alpaca: base_url must not be empty")
		}
	}
	if c.Alpaca.RetryMax < 1 {
		errs = append(errs, "alpaca: retry_max must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if mode == "execute" || mode == "full" {
		if c.Redis.SignalChannel == "" {
			errs = append(errs, "redis: signal_channel is required for mode "+c.Mode)
		}
	}

	// Risk
	if c.Risk.RiskPerTrade <= 0 {
		errs = append(errs, "risk: risk_per_trade must be positive")
	}
	if c.Risk.MaxDailyDrawdownPct <= 0 || c.Risk.MaxDailyDrawdownPct >= 1 {
		errs = append(errs, fmt.Sprintf("risk: max_daily_drawdown_pct must be in (0, 1), got %v", c.Risk.MaxDailyDrawdownPct))
	}
	if c.Risk.CountCacheTTL.Duration <= 0 {
		errs = append(errs, "risk: count_cache_ttl must be positive")
	}

	// Execution
	if c.Execution.MinNotionalUSD < 0 {
		errs = append(errs, "execution: min_notional_usd must not be negative")
	}

	// Reconcile
	if c.Reconcile.MinAge.Duration <= 0 {
		errs = append(errs, "reconcile: min_age must be positive")
	}
	if c.Reconcile.LockTTL.Duration <= 0 {
		errs = append(errs, "reconcile: lock_ttl must be positive")
	}

	// Archive
	if mode == "archive" || c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when archival is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region is required when archival is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

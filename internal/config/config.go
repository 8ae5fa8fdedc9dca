// Package config defines the top-level configuration for the bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// duration wraps time.Duration so durations can be written as strings
// ("90s", "5m") in the TOML file.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LEVERBOT_* environment
// variables.
type Config struct {
	Trading  TradingConfig  `toml:"trading"`
	Timing   TimingConfig   `toml:"timing"`
	Trailing TrailingConfig `toml:"trailing"`
	Oracle   OracleConfig   `toml:"oracle"`
	Hyperbit HyperbitConfig `toml:"hyperbit"`
	Paper    PaperConfig    `toml:"paper"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// TradingConfig holds the scan loop and admission parameters.
type TradingConfig struct {
	ScanInterval         duration `toml:"scan_interval"`
	MonitorInterval      duration `toml:"monitor_interval"`
	MaxActivePositions   int      `toml:"max_active_positions"`
	CrossVenueRebuyBlock bool     `toml:"cross_venue_rebuy_block"`

	// Amount is the entry notional in exact integer units, written as a
	// decimal string.
	Amount   string `toml:"amount"`
	Leverage int    `toml:"leverage"`

	StopLossPct   float64 `toml:"stop_loss_pct"`
	TakeProfitPct float64 `toml:"take_profit_pct"`

	StrategyName     string  `toml:"strategy_name"`
	PrimaryTimeframe string  `toml:"primary_timeframe"`
	MinConfidence    float64 `toml:"min_confidence"`

	ArchiveRetentionDays int `toml:"archive_retention_days"`
}

// TimingConfig holds the entry-timing evaluator parameters.
type TimingConfig struct {
	Enabled          bool    `toml:"enabled"`
	ShortTimeframe   string  `toml:"short_timeframe"`
	MinCorrectionPct float64 `toml:"min_correction_pct"`
	ReversalFloor    float64 `toml:"reversal_floor"`
	UseExtremeDepth  bool    `toml:"use_extreme_depth"`
	LookbackMinutes  int     `toml:"lookback_minutes"`
}

// TrailingConfig holds the trailing stop/take-profit parameters.
type TrailingConfig struct {
	ActivationRatio     float64  `toml:"activation_ratio"`
	MinInterval         duration `toml:"min_interval"`
	TakeProfitOffsetPct float64  `toml:"take_profit_offset_pct"`
	StopLossOffsetPct   float64  `toml:"stop_loss_offset_pct"`
	MovementGuardPct    float64  `toml:"movement_guard_pct"`
	ConfidenceFloor     float64  `toml:"confidence_floor"`
	Horizon             string   `toml:"horizon"`
}

// OracleConfig holds the market data / prediction service endpoint.
type OracleConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// HyperbitConfig holds the hyperbit venue adapter parameters.
type HyperbitConfig struct {
	Enabled           bool    `toml:"enabled"`
	BaseURL           string  `toml:"base_url"`
	WSURL             string  `toml:"ws_url"`
	WSMaxAttempts     int     `toml:"ws_max_attempts"`
	APIKey            string  `toml:"api_key"`
	Priority          int     `toml:"priority"`
	MaxPositions      int     `toml:"max_positions"`
	PredictiveEnabled bool    `toml:"predictive_enabled"`
	StrategyName      string  `toml:"strategy_name"`
	StopLossPct       float64 `toml:"stop_loss_pct"`
	TakeProfitPct     float64 `toml:"take_profit_pct"`
	TrailingEnabled   bool    `toml:"trailing_enabled"`
	ExitHorizon       string  `toml:"exit_horizon"`
	ExitConfidence    float64 `toml:"exit_confidence"`
}

// PaperConfig holds the in-memory paper venue parameters for dry runs.
type PaperConfig struct {
	Symbols []string `toml:"symbols"`
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
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials and event filters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with sane defaults for every field
// that has one. TOML and environment values are layered on top.
func Defaults() Config {
	return Config{
		Trading: TradingConfig{
			ScanInterval:         duration{time.Minute},
			MonitorInterval:      duration{15 * time.Second},
			MaxActivePositions:   5,
			CrossVenueRebuyBlock: true,
			Amount:               "100",
			Leverage:             1,
			StopLossPct:          2.0,
			TakeProfitPct:        4.0,
			StrategyName:         "trend_follow",
			PrimaryTimeframe:     "1h",
			MinConfidence:        0.6,
			ArchiveRetentionDays: 30,
		},
		Timing: TimingConfig{
			Enabled:          true,
			ShortTimeframe:   "5m",
			MinCorrectionPct: 2.0,
			ReversalFloor:    0.5,
			UseExtremeDepth:  true,
			LookbackMinutes:  240,
		},
		Trailing: TrailingConfig{
			ActivationRatio:     0.8,
			MinInterval:         duration{5 * time.Minute},
			TakeProfitOffsetPct: 1.0,
			StopLossOffsetPct:   1.0,
			MovementGuardPct:    0.5,
			ConfidenceFloor:     0.6,
			Horizon:             "1h",
		},
		Oracle: OracleConfig{
			Timeout: duration{15 * time.Second},
		},
		Hyperbit: HyperbitConfig{
			Priority:          10,
			MaxPositions:      3,
			WSMaxAttempts:     10,
			PredictiveEnabled: true,
			StopLossPct:       2.0,
			TakeProfitPct:     4.0,
			ExitHorizon:       "1h",
			ExitConfidence:    0.6,
		},
		Paper: PaperConfig{
			Symbols: []string{"BTC-PERP"},
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			PriceTTL: duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"entry_submitted", "exit_submitted", "close_all_toggled", "stream_disconnected"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// Validate checks cross-field consistency. It returns the first problem
// found.
func (c *Config) Validate() error {
	switch c.Mode {
	case "trade", "monitor", "paper":
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}

	if c.Trading.MaxActivePositions <= 0 {
		return fmt.Errorf("config: trading.max_active_positions must be positive")
	}
	if c.Trading.Leverage <= 0 {
		return fmt.Errorf("config: trading.leverage must be positive")
	}
	if c.Trading.ScanInterval.Duration <= 0 {
		return fmt.Errorf("config: trading.scan_interval must be positive")
	}
	if c.Trading.MonitorInterval.Duration <= 0 {
		return fmt.Errorf("config: trading.monitor_interval must be positive")
	}

	if c.Oracle.BaseURL == "" {
		return fmt.Errorf("config: oracle.base_url is required")
	}

	if c.Mode != "paper" {
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			return fmt.Errorf("config: postgres connection is required (dsn or host)")
		}
		if c.Hyperbit.Enabled {
			if c.Hyperbit.BaseURL == "" {
				return fmt.Errorf("config: hyperbit.base_url is required when the venue is enabled")
			}
			if c.Hyperbit.APIKey == "" {
				return fmt.Errorf("config: hyperbit.api_key is required when the venue is enabled")
			}
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("config: s3.bucket is required when s3 is enabled")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("config: s3.region is required when s3 is enabled")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}

	return nil
}

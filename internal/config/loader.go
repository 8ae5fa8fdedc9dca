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
// built-in defaults, applies LEVERBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known LEVERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Trading ──
	setDuration(&cfg.Trading.ScanInterval, "LEVERBOT_TRADING_SCAN_INTERVAL")
	setDuration(&cfg.Trading.MonitorInterval, "LEVERBOT_TRADING_MONITOR_INTERVAL")
	setInt(&cfg.Trading.MaxActivePositions, "LEVERBOT_TRADING_MAX_ACTIVE_POSITIONS")
	setBool(&cfg.Trading.CrossVenueRebuyBlock, "LEVERBOT_TRADING_CROSS_VENUE_REBUY_BLOCK")
	setStr(&cfg.Trading.Amount, "LEVERBOT_TRADING_AMOUNT")
	setInt(&cfg.Trading.Leverage, "LEVERBOT_TRADING_LEVERAGE")
	setFloat64(&cfg.Trading.StopLossPct, "LEVERBOT_TRADING_STOP_LOSS_PCT")
	setFloat64(&cfg.Trading.TakeProfitPct, "LEVERBOT_TRADING_TAKE_PROFIT_PCT")
	setStr(&cfg.Trading.StrategyName, "LEVERBOT_TRADING_STRATEGY_NAME")
	setInt(&cfg.Trading.ArchiveRetentionDays, "LEVERBOT_TRADING_ARCHIVE_RETENTION_DAYS")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "LEVERBOT_ORACLE_BASE_URL")
	setDuration(&cfg.Oracle.Timeout, "LEVERBOT_ORACLE_TIMEOUT")

	// ── Hyperbit ──
	setBool(&cfg.Hyperbit.Enabled, "LEVERBOT_HYPERBIT_ENABLED")
	setStr(&cfg.Hyperbit.BaseURL, "LEVERBOT_HYPERBIT_BASE_URL")
	setStr(&cfg.Hyperbit.WSURL, "LEVERBOT_HYPERBIT_WS_URL")
	setInt(&cfg.Hyperbit.WSMaxAttempts, "LEVERBOT_HYPERBIT_WS_MAX_ATTEMPTS")
	setStr(&cfg.Hyperbit.APIKey, "LEVERBOT_HYPERBIT_API_KEY")
	setInt(&cfg.Hyperbit.Priority, "LEVERBOT_HYPERBIT_PRIORITY")
	setInt(&cfg.Hyperbit.MaxPositions, "LEVERBOT_HYPERBIT_MAX_POSITIONS")
	setBool(&cfg.Hyperbit.PredictiveEnabled, "LEVERBOT_HYPERBIT_PREDICTIVE_ENABLED")
	setBool(&cfg.Hyperbit.TrailingEnabled, "LEVERBOT_HYPERBIT_TRAILING_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LEVERBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LEVERBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LEVERBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LEVERBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LEVERBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LEVERBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LEVERBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LEVERBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LEVERBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LEVERBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LEVERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEVERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEVERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LEVERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LEVERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LEVERBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "LEVERBOT_REDIS_PRICE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LEVERBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LEVERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LEVERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "LEVERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LEVERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LEVERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LEVERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LEVERBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LEVERBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LEVERBOT_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LEVERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LEVERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LEVERBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LEVERBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LEVERBOT_MODE")
	setStr(&cfg.LogLevel, "LEVERBOT_LOG_LEVEL")
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

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
// built-in defaults, applies QBTC_* environment variable overrides, and
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

// applyEnvOverrides reads well-known QBTC_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "QBTC_MODE")
	setStr(&cfg.LogLevel, "QBTC_LOG_LEVEL")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Symbols, "QBTC_SYMBOLS")
	setFloat64(&cfg.Trading.MinConfidence, "QBTC_MIN_CONFIDENCE")
	setFloat64(&cfg.Trading.MinConsciousness, "QBTC_MIN_CONSCIOUSNESS")
	setFloat64(&cfg.Trading.MinAlignment, "QBTC_MIN_ALIGNMENT")
	setInt(&cfg.Trading.MaxConcurrentPositions, "QBTC_MAX_CONCURRENT_POSITIONS")
	setFloat64(&cfg.Trading.MaxRiskPerTrade, "QBTC_MAX_RISK_PER_TRADE")
	setFloat64(&cfg.Trading.MaxSymbolExposurePct, "QBTC_MAX_SYMBOL_EXPOSURE_PCT")
	setFloat64(&cfg.Trading.MaxCategoryExposurePct, "QBTC_MAX_CATEGORY_EXPOSURE_PCT")
	setFloat64(&cfg.Trading.MaxDailyDrawdown, "QBTC_MAX_DAILY_DRAWDOWN")
	setBool(&cfg.Trading.RiskHardStop, "QBTC_RISK_HARD_STOP")
	setFloat64(&cfg.Trading.InitialCapital, "QBTC_INITIAL_CAPITAL")
	setFloat64(&cfg.Trading.SeedAmount, "QBTC_SEED_AMOUNT")
	setFloat64(&cfg.Trading.KellyFactor, "QBTC_KELLY_FACTOR")
	setDuration(&cfg.Trading.MaxPositionTime, "QBTC_MAX_POSITION_TIME")
	setDuration(&cfg.Trading.EvaluateInterval, "QBTC_EVALUATE_INTERVAL")
	setDuration(&cfg.Trading.MonitorInterval, "QBTC_MONITOR_INTERVAL")
	setDuration(&cfg.Trading.SignalInterval, "QBTC_SIGNAL_INTERVAL")
	setBool(&cfg.Trading.CloseOnShutdown, "QBTC_CLOSE_ON_SHUTDOWN")
	setDuration(&cfg.Trading.HousekeepingInterval, "QBTC_HOUSEKEEPING_INTERVAL")
	setFloat64(&cfg.Trading.SlippageBps, "QBTC_SLIPPAGE_BPS")

	// ── Exchange ──
	setStr(&cfg.Exchange.Account, "QBTC_EXCHANGE_ACCOUNT")
	setStr(&cfg.Exchange.BaseURL, "QBTC_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WsURL, "QBTC_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.APIKey, "QBTC_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "QBTC_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "QBTC_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "QBTC_EXCHANGE_SECRET_PASSWORD")
	setInt64(&cfg.Exchange.RecvWindowMs, "QBTC_EXCHANGE_RECV_WINDOW_MS")
	setFloat64(&cfg.Exchange.OrdersPerSecond, "QBTC_EXCHANGE_ORDERS_PER_SECOND")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "QBTC_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "QBTC_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "QBTC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "QBTC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "QBTC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "QBTC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "QBTC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "QBTC_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "QBTC_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "QBTC_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "QBTC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "QBTC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "QBTC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "QBTC_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "QBTC_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "QBTC_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "QBTC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "QBTC_S3_REGION")
	setStr(&cfg.S3.Bucket, "QBTC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "QBTC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "QBTC_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "QBTC_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "QBTC_S3_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "QBTC_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "QBTC_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "QBTC_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "QBTC_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "QBTC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "QBTC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "QBTC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "QBTC_NOTIFY_EVENTS")
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

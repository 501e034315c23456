// Package config defines the top-level configuration for the trading
// controller and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by QBTC_* environment variables.
type Config struct {
	Trading  TradingConfig  `toml:"trading"`
	Exchange ExchangeConfig `toml:"exchange"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// TradingConfig holds every knob the control core consumes.
type TradingConfig struct {
	Symbols []string `toml:"symbols"`

	MinConfidence    float64 `toml:"min_confidence"`
	MinConsciousness float64 `toml:"min_consciousness"`
	MinAlignment     float64 `toml:"min_alignment"`

	MaxConcurrentPositions int     `toml:"max_concurrent_positions"`
	// In live mode initial_capital * max_risk_per_trade must clear the
	// exchange MIN_NOTIONAL (5 USDT on most spot pairs) and the symbol's
	// minimum quantity or every order is refused. Paper mode ignores both.
	MaxRiskPerTrade        float64 `toml:"max_risk_per_trade"`
	MaxSymbolExposurePct   float64 `toml:"max_symbol_exposure_pct"`
	MaxCategoryExposurePct float64 `toml:"max_category_exposure_pct"`
	MaxDailyDrawdown       float64 `toml:"max_daily_drawdown"`
	RiskHardStop           bool    `toml:"risk_hard_stop"`

	InitialCapital float64 `toml:"initial_capital"`
	SeedAmount     float64 `toml:"seed_amount"`
	SeedMultiplier float64 `toml:"seed_multiplier"`
	KellyFactor    float64 `toml:"kelly_factor"`

	MaxPositionTime        duration `toml:"max_position_time"`
	SignalDropThreshold    float64  `toml:"signal_drop_threshold"`
	ProfitTargetMultiplier float64  `toml:"profit_target_multiplier"`
	TrailingActivation     float64  `toml:"trailing_activation"`
	TrailingLockFraction   float64  `toml:"trailing_lock_fraction"`

	EvaluateInterval duration `toml:"evaluate_interval"`
	MonitorInterval  duration `toml:"monitor_interval"`
	SignalInterval   duration `toml:"signal_interval"`
	SignalBatchSize  int      `toml:"signal_batch_size"`
	SignalTTL        duration `toml:"signal_ttl"`
	CloseOnShutdown  bool     `toml:"close_on_shutdown"`

	HousekeepingInterval duration `toml:"housekeeping_interval"`
	// SlippageBps moves simulated fills against the order side in paper mode.
	SlippageBps float64 `toml:"slippage_bps"`

	// Categories maps a category name to the symbols in it. Symbols not
	// listed fall into "unknown".
	Categories map[string][]string `toml:"categories"`
}

// ExchangeConfig holds Binance USD-M futures endpoints and credentials.
type ExchangeConfig struct {
	Account             string   `toml:"account"`
	BaseURL             string   `toml:"base_url"`
	WsURL               string   `toml:"ws_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RecvWindowMs        int64    `toml:"recv_window_ms"`
	OrdersPerSecond     float64  `toml:"orders_per_second"`
	RequestTimeout      duration `toml:"request_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	PriceTTL     duration `toml:"price_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	LockTTL      duration `toml:"lock_ttl"`
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
	Prefix         string `toml:"prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	APIKey         string   `toml:"api_key"`
	CORSOrigins    []string `toml:"cors_origins"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	MetricsEnabled bool     `toml:"metrics_enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the controller's stock values.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Trading: TradingConfig{
			Symbols:                []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"},
			MinConfidence:          0.60,
			MinConsciousness:       0.60,
			MinAlignment:           0.60,
			MaxConcurrentPositions: 3,
			MaxRiskPerTrade:        0.01,
			MaxSymbolExposurePct:   0.15,
			MaxCategoryExposurePct: 0.35,
			MaxDailyDrawdown:       0.10,
			RiskHardStop:           true,
			InitialCapital:         100,
			SeedAmount:             1.0,
			SeedMultiplier:         1.618,
			KellyFactor:            0.25,
			MaxPositionTime:        duration{time.Hour},
			SignalDropThreshold:    0.20,
			ProfitTargetMultiplier: 1.618,
			TrailingActivation:     1.25,
			TrailingLockFraction:   0.5,
			EvaluateInterval:       duration{5 * time.Second},
			MonitorInterval:        duration{10 * time.Second},
			SignalBatchSize:        5,
			SignalTTL:              duration{5 * time.Minute},
			CloseOnShutdown:        true,
			HousekeepingInterval:   duration{time.Minute},
			SlippageBps:            2,
			Categories: map[string][]string{
				"major": {"BTCUSDT", "ETHUSDT"},
				"alt":   {"SOLUSDT", "BNBUSDT", "XRPUSDT", "ADAUSDT"},
			},
		},
		Exchange: ExchangeConfig{
			Account:         "default",
			BaseURL:         "https://fapi.binance.com",
			WsURL:           "wss://fstream.binance.com",
			RecvWindowMs:    5000,
			OrdersPerSecond: 5,
			RequestTimeout:  duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "qbtc",
			User:          "qbtc",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			PriceTTL:     duration{2 * time.Minute},
			StreamMaxLen: 10000,
			LockTTL:      duration{3 * time.Minute},
		},
		S3: S3Config{
			Region: "us-east-1",
			Bucket: "qbtc-archive",
			UseSSL: true,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8080,
			RateLimit:      120,
			RateWindow:     duration{time.Minute},
			MetricsEnabled: true,
		},
		Notify: NotifyConfig{
			Events: []string{"risk:emergency_stop", "position:closed"},
		},
	}
}

// SignalEvery returns the signal-consumption interval: the configured value,
// or half the evaluation interval with a one-second floor.
func (t TradingConfig) SignalEvery() time.Duration {
	if t.SignalInterval.Duration > 0 {
		return t.SignalInterval.Duration
	}
	half := t.EvaluateInterval.Duration / 2
	if half < time.Second {
		return time.Second
	}
	return half
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"live":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	t := c.Trading
	if len(t.Symbols) == 0 {
		errs = append(errs, "trading: symbols must not be empty")
	}
	for name, v := range map[string]float64{
		"min_confidence":            t.MinConfidence,
		"min_consciousness":         t.MinConsciousness,
		"min_alignment":             t.MinAlignment,
		"max_risk_per_trade":        t.MaxRiskPerTrade,
		"max_symbol_exposure_pct":   t.MaxSymbolExposurePct,
		"max_category_exposure_pct": t.MaxCategoryExposurePct,
		"max_daily_drawdown":        t.MaxDailyDrawdown,
		"signal_drop_threshold":     t.SignalDropThreshold,
		"trailing_lock_fraction":    t.TrailingLockFraction,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("trading: %s must be within [0, 1], got %g", name, v))
		}
	}
	if t.MaxConcurrentPositions <= 0 {
		errs = append(errs, "trading: max_concurrent_positions must be positive")
	}
	if t.InitialCapital <= 0 {
		errs = append(errs, "trading: initial_capital must be positive")
	}
	if t.SeedAmount <= 0 {
		errs = append(errs, "trading: seed_amount must be positive")
	}
	if t.SeedMultiplier <= 0 {
		errs = append(errs, "trading: seed_multiplier must be positive")
	}
	if t.KellyFactor < 0 || t.KellyFactor > 1 {
		errs = append(errs, "trading: kelly_factor must be within [0, 1]")
	}
	if t.ProfitTargetMultiplier <= 0 {
		errs = append(errs, "trading: profit_target_multiplier must be positive")
	}
	if t.TrailingActivation < 1 {
		errs = append(errs, "trading: trailing_activation must be >= 1")
	}
	if t.MaxPositionTime.Duration <= 0 {
		errs = append(errs, "trading: max_position_time must be positive")
	}
	if t.EvaluateInterval.Duration <= 0 || t.MonitorInterval.Duration <= 0 {
		errs = append(errs, "trading: evaluate_interval and monitor_interval must be positive")
	}
	if t.SignalBatchSize <= 0 {
		errs = append(errs, "trading: signal_batch_size must be positive")
	}

	if c.Mode == "live" {
		if c.Exchange.APIKey == "" {
			errs = append(errs, "exchange: api_key is required for live mode")
		}
		if c.Exchange.APISecret == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_secret_path must be set for live mode")
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
		if !c.Redis.Enabled {
			errs = append(errs, "redis: must be enabled for live mode (controller lock)")
		}
	}
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if c.Exchange.OrdersPerSecond <= 0 {
		errs = append(errs, "exchange: orders_per_second must be positive")
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archive requires postgres to be enabled")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

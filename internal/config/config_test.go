package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Trading.MaxConcurrentPositions)
	assert.Equal(t, time.Hour, cfg.Trading.MaxPositionTime.Duration)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Trading.MinConfidence = 1.5
	cfg.Trading.MaxConcurrentPositions = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "yolo"`)
	assert.Contains(t, err.Error(), "min_confidence must be within [0, 1]")
	assert.Contains(t, err.Error(), "max_concurrent_positions must be positive")
}

func TestValidateLiveNeedsCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required")
	assert.Contains(t, err.Error(), "redis: must be enabled")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "paper"
log_level = "debug"

[trading]
symbols = ["BTCUSDT"]
max_concurrent_positions = 5
evaluate_interval = "3s"

[trading.categories]
major = ["BTCUSDT"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("QBTC_MAX_DAILY_DRAWDOWN", "0.05")
	t.Setenv("QBTC_SYMBOLS", "BTCUSDT, ETHUSDT ,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Trading.MaxConcurrentPositions)
	assert.Equal(t, 3*time.Second, cfg.Trading.EvaluateInterval.Duration)
	assert.InDelta(t, 0.05, cfg.Trading.MaxDailyDrawdown, 1e-12)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Trading.Categories["major"])
	// Untouched defaults survive.
	assert.InDelta(t, 0.60, cfg.Trading.MinAlignment, 1e-12)
}

func TestSignalEvery(t *testing.T) {
	tc := Defaults().Trading
	assert.Equal(t, 2500*time.Millisecond, tc.SignalEvery())

	tc.EvaluateInterval.Duration = time.Second
	assert.Equal(t, time.Second, tc.SignalEvery())

	tc.SignalInterval.Duration = 7 * time.Second
	assert.Equal(t, 7*time.Second, tc.SignalEvery())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.APISecret = "supersecret"
	cfg.Server.APIKey = "k"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Exchange.APISecret)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "", out.Exchange.APIKey)
	assert.Equal(t, "supersecret", cfg.Exchange.APISecret)

	out.Trading.Categories["major"][0] = "changed"
	assert.Equal(t, "BTCUSDT", cfg.Trading.Categories["major"][0])
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestDefaultSlippageIsSymmetric(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, -cfg.Sim.SlippageMax, cfg.Sim.SlippageMin)
	assert.Equal(t, 0.0002, cfg.Sim.SlippageMax)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
instrument = "ETH/USD"
mode = "replay"
log_level = "debug"

[feed]
replay_path = "/tmp/capture.jsonl"
replay_speed = 0.0

[ledger]
initial_balance = 25000.0
allow_flip = true

[risk]
max_hold = "2m30s"
force_close_pnl = 12.5

[risk.adverse_selection]
min_spread_ratio = 0.002

[strategy]
name = "avellaneda"
order_size = 0.5

[strategy.params]
gamma = 0.1
sigma_window = 300
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ETH/USD", cfg.Instrument)
	assert.Equal(t, "replay", cfg.Mode)
	assert.Equal(t, "/tmp/capture.jsonl", cfg.Feed.ReplayPath)
	assert.Equal(t, 25000.0, cfg.Ledger.InitialBalance)
	assert.True(t, cfg.Ledger.AllowFlip)
	assert.Equal(t, 2*time.Minute+30*time.Second, cfg.Risk.MaxHold.Duration)
	assert.Equal(t, 12.5, cfg.Risk.ForceClosePnL)
	assert.Equal(t, 0.002, cfg.Risk.Adverse.MinSpreadRatio)
	assert.Equal(t, "avellaneda", cfg.Strategy.Name)
	assert.Equal(t, 0.1, cfg.Strategy.Params["gamma"])

	// Untouched sections keep their defaults.
	assert.Equal(t, 0.001, cfg.Ledger.FeeRate)
	assert.Equal(t, "all_or_nothing", cfg.Sim.FillPolicy)
	assert.Equal(t, 10, cfg.Engine.Depth)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeTOML(t, `
instrument = "BTC/USD"

[ledger]
initial_balance = 5000.0
`)

	t.Setenv("QUOTEBOT_INSTRUMENT", "SOL/USD")
	t.Setenv("QUOTEBOT_LEDGER_INITIAL_BALANCE", "777.5")
	t.Setenv("QUOTEBOT_RISK_MAX_HOLD", "45s")
	t.Setenv("QUOTEBOT_SIM_FILL_POLICY", "partial")
	t.Setenv("QUOTEBOT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "SOL/USD", cfg.Instrument)
	assert.Equal(t, 777.5, cfg.Ledger.InitialBalance)
	assert.Equal(t, 45*time.Second, cfg.Risk.MaxHold.Duration)
	assert.Equal(t, "partial", cfg.Sim.FillPolicy)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestEnvOverrideIgnoresMalformedValues(t *testing.T) {
	path := writeTOML(t, `instrument = "BTC/USD"`)

	t.Setenv("QUOTEBOT_LEDGER_INITIAL_BALANCE", "not-a-number")
	t.Setenv("QUOTEBOT_ENGINE_BUFFER", "lots")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10_000.0, cfg.Ledger.InitialBalance)
	assert.Equal(t, 256, cfg.Engine.Buffer)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Instrument = ""
	cfg.Mode = "yolo"
	cfg.Ledger.InitialBalance = -1
	cfg.Ledger.FeeRate = 1.5
	cfg.Sim.FillPolicy = "maybe"
	cfg.Strategy.OrderSize = 0
	cfg.Risk.MaxDrawdown = 2.0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "instrument must not be empty")
	assert.Contains(t, msg, `unknown mode "yolo"`)
	assert.Contains(t, msg, "initial_balance must be > 0")
	assert.Contains(t, msg, "fee_rate must be in [0, 1)")
	assert.Contains(t, msg, `unknown fill_policy "maybe"`)
	assert.Contains(t, msg, "order_size must be > 0")
	assert.Contains(t, msg, "max_drawdown must be in [0, 1)")
}

func TestValidateReplayModeRequiresPath(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "replay"
	cfg.Feed.ReplayPath = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay_path must not be empty")
}

func TestValidateSkipsDisabledBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Enabled = false
	cfg.Postgres.Host = ""
	cfg.Redis.Enabled = false
	cfg.Redis.Addr = ""
	cfg.S3.Enabled = false
	cfg.S3.Bucket = ""

	assert.NoError(t, cfg.Validate())
}

func TestValidateEnabledPostgresNeedsTarget(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Enabled = true
	cfg.Postgres.DSN = ""
	cfg.Postgres.Host = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host must not be empty")

	cfg.Postgres.DSN = "postgres://user:pw@db:5432/quotebot"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "redispw"
	cfg.S3.AccessKey = "AKIA123"
	cfg.S3.SecretKey = "shh"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.AccessKey)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Empty secrets stay empty rather than gaining a placeholder.
	assert.Empty(t, red.Notify.DiscordWebhookURL)

	// Originals are untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	// Mutating the redacted copy's slices must not leak back.
	red.Notify.Events[0] = "changed"
	assert.Equal(t, "force_close", cfg.Notify.Events[0])
}

func TestInstrumentListDeduplicatesAndKeepsPrimaryFirst(t *testing.T) {
	cfg := Defaults()
	cfg.Instrument = "BTC/USD"
	cfg.Instruments = []string{"ETH/USD", "BTC/USD", " ", "ETH/USD", "SOL/USD"}

	assert.Equal(t, []string{"BTC/USD", "ETH/USD", "SOL/USD"}, cfg.InstrumentList())
}

func TestInstrumentListSinglePrimary(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, []string{cfg.Instrument}, cfg.InstrumentList())
}

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
// built-in defaults, applies QUOTEBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known QUOTEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Instrument, "QUOTEBOT_INSTRUMENT")
	setStringSlice(&cfg.Instruments, "QUOTEBOT_INSTRUMENTS")
	setStr(&cfg.Mode, "QUOTEBOT_MODE")
	setStr(&cfg.LogLevel, "QUOTEBOT_LOG_LEVEL")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "QUOTEBOT_FEED_WS_URL")
	setInt(&cfg.Feed.Depth, "QUOTEBOT_FEED_DEPTH")
	setStr(&cfg.Feed.ReplayPath, "QUOTEBOT_FEED_REPLAY_PATH")
	setFloat64(&cfg.Feed.ReplaySpeed, "QUOTEBOT_FEED_REPLAY_SPEED")
	setStr(&cfg.Feed.CapturePath, "QUOTEBOT_FEED_CAPTURE_PATH")

	// ── Ledger ──
	setFloat64(&cfg.Ledger.InitialBalance, "QUOTEBOT_LEDGER_INITIAL_BALANCE")
	setFloat64(&cfg.Ledger.FeeRate, "QUOTEBOT_LEDGER_FEE_RATE")
	setBool(&cfg.Ledger.Spot, "QUOTEBOT_LEDGER_SPOT")
	setBool(&cfg.Ledger.AllowFlip, "QUOTEBOT_LEDGER_ALLOW_FLIP")
	setInt(&cfg.Ledger.HistoryLimit, "QUOTEBOT_LEDGER_HISTORY_LIMIT")

	// ── Sim ──
	setFloat64(&cfg.Sim.SlippageMin, "QUOTEBOT_SIM_SLIPPAGE_MIN")
	setFloat64(&cfg.Sim.SlippageMax, "QUOTEBOT_SIM_SLIPPAGE_MAX")
	setInt64(&cfg.Sim.SlippageSeed, "QUOTEBOT_SIM_SLIPPAGE_SEED")
	setStr(&cfg.Sim.FillPolicy, "QUOTEBOT_SIM_FILL_POLICY")

	// ── Risk ──
	setFloat64(&cfg.Risk.TakeProfitPct, "QUOTEBOT_RISK_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Risk.TakeProfitAbs, "QUOTEBOT_RISK_TAKE_PROFIT_ABS")
	setFloat64(&cfg.Risk.StopPct, "QUOTEBOT_RISK_STOP_PCT")
	setFloat64(&cfg.Risk.StopAbs, "QUOTEBOT_RISK_STOP_ABS")
	setFloat64(&cfg.Risk.ForceClosePnL, "QUOTEBOT_RISK_FORCE_CLOSE_PNL")
	setDuration(&cfg.Risk.MaxHold, "QUOTEBOT_RISK_MAX_HOLD")
	setInt(&cfg.Risk.ForceCloseMaxRetries, "QUOTEBOT_RISK_FORCE_CLOSE_MAX_RETRIES")
	setFloat64(&cfg.Risk.MaxInventory, "QUOTEBOT_RISK_MAX_INVENTORY")
	setFloat64(&cfg.Risk.MaxExposure, "QUOTEBOT_RISK_MAX_EXPOSURE")
	setFloat64(&cfg.Risk.MaxDrawdown, "QUOTEBOT_RISK_MAX_DRAWDOWN")
	setFloat64(&cfg.Risk.Adverse.MinSpreadRatio, "QUOTEBOT_RISK_ADVERSE_MIN_SPREAD_RATIO")
	setFloat64(&cfg.Risk.Adverse.DeltaThreshold, "QUOTEBOT_RISK_ADVERSE_DELTA_THRESHOLD")
	setFloat64(&cfg.Risk.Adverse.ToxicityFloor, "QUOTEBOT_RISK_ADVERSE_TOXICITY_FLOOR")
	setInt(&cfg.Risk.Adverse.Depth, "QUOTEBOT_RISK_ADVERSE_DEPTH")
	setFloat64(&cfg.Risk.Adverse.Alpha, "QUOTEBOT_RISK_ADVERSE_ALPHA")

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "QUOTEBOT_STRATEGY_NAME")
	setFloat64(&cfg.Strategy.OrderSize, "QUOTEBOT_STRATEGY_ORDER_SIZE")
	setFloat64(&cfg.Strategy.MaxInventory, "QUOTEBOT_STRATEGY_MAX_INVENTORY")

	// ── Engine ──
	setInt(&cfg.Engine.Depth, "QUOTEBOT_ENGINE_DEPTH")
	setInt(&cfg.Engine.Buffer, "QUOTEBOT_ENGINE_BUFFER")
	setInt64(&cfg.Engine.CrossToleranceTicks, "QUOTEBOT_ENGINE_CROSS_TOLERANCE_TICKS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "QUOTEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "QUOTEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "QUOTEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "QUOTEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "QUOTEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "QUOTEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "QUOTEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "QUOTEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "QUOTEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "QUOTEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "QUOTEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "QUOTEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "QUOTEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "QUOTEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "QUOTEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "QUOTEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "QUOTEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "QUOTEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "QUOTEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "QUOTEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "QUOTEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "QUOTEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "QUOTEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "QUOTEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "QUOTEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "QUOTEBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "QUOTEBOT_S3_ARCHIVE_INTERVAL")
	setDuration(&cfg.S3.TradeRetention, "QUOTEBOT_S3_TRADE_RETENTION")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "QUOTEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "QUOTEBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "QUOTEBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "QUOTEBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "QUOTEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "QUOTEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "QUOTEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "QUOTEBOT_NOTIFY_EVENTS")
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

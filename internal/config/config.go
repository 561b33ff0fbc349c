// Package config defines the top-level configuration for the quotebot
// simulator and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by QUOTEBOT_* environment variables.
type Config struct {
	Instrument string `toml:"instrument"`
	// Instruments optionally tracks additional instruments alongside
	// Instrument; each gets its own engine and feed subscription, all
	// sharing one equity drawdown guard.
	Instruments []string       `toml:"instruments"`
	Feed        FeedConfig     `toml:"feed"`
	Ledger      LedgerConfig   `toml:"ledger"`
	Sim         SimConfig      `toml:"sim"`
	Risk        RiskConfig     `toml:"risk"`
	Strategy    StrategyConfig `toml:"strategy"`
	Engine      EngineConfig   `toml:"engine"`
	Postgres    PostgresConfig `toml:"postgres"`
	Redis       RedisConfig    `toml:"redis"`
	S3          S3Config       `toml:"s3"`
	Server      ServerConfig   `toml:"server"`
	Notify      NotifyConfig   `toml:"notify"`
	Mode        string         `toml:"mode"`
	LogLevel    string         `toml:"log_level"`
}

// InstrumentList returns every tracked instrument, primary first, with
// duplicates removed.
func (c *Config) InstrumentList() []string {
	list := []string{c.Instrument}
	seen := map[string]bool{c.Instrument: true}
	for _, inst := range c.Instruments {
		inst = strings.TrimSpace(inst)
		if inst == "" || seen[inst] {
			continue
		}
		seen[inst] = true
		list = append(list, inst)
	}
	return list
}

// FeedConfig selects and tunes the market-data source.
type FeedConfig struct {
	WsURL string `toml:"ws_url"`
	// Depth is the per-side level count requested on subscribe.
	Depth int `toml:"depth"`
	// ReplayPath points at a JSONL event capture used in replay mode.
	ReplayPath string `toml:"replay_path"`
	// ReplaySpeed is the playback multiplier; 0 replays as fast as possible.
	ReplaySpeed float64 `toml:"replay_speed"`
	// CapturePath, when set, records every live event to a JSONL file that
	// replay mode can play back. Empty disables capture.
	CapturePath string `toml:"capture_path"`
}

// LedgerConfig holds the paper account parameters.
type LedgerConfig struct {
	InitialBalance float64 `toml:"initial_balance"`
	FeeRate        float64 `toml:"fee_rate"`
	Spot           bool    `toml:"spot"`
	AllowFlip      bool    `toml:"allow_flip"`
	HistoryLimit   int     `toml:"history_limit"`
}

// SimConfig holds execution simulator parameters.
type SimConfig struct {
	// SlippageMin and SlippageMax bound the uniform per-fill slippage
	// fraction. Both zero disables slippage.
	SlippageMin  float64 `toml:"slippage_min"`
	SlippageMax  float64 `toml:"slippage_max"`
	SlippageSeed int64   `toml:"slippage_seed"`
	// FillPolicy is "all_or_nothing" or "partial".
	FillPolicy string `toml:"fill_policy"`
}

// RiskConfig holds the per-position risk limits. Zero disables a trigger.
type RiskConfig struct {
	TakeProfitPct        float64       `toml:"take_profit_pct"`
	TakeProfitAbs        float64       `toml:"take_profit_abs"`
	StopPct              float64       `toml:"stop_pct"`
	StopAbs              float64       `toml:"stop_abs"`
	ForceClosePnL        float64       `toml:"force_close_pnl"`
	MaxHold              duration      `toml:"max_hold"`
	ForceCloseMaxRetries int           `toml:"force_close_max_retries"`
	MaxInventory         float64       `toml:"max_inventory"`
	MaxExposure          float64       `toml:"max_exposure"`
	MaxDrawdown          float64       `toml:"max_drawdown"`
	Adverse              AdverseConfig `toml:"adverse_selection"`
}

// AdverseConfig holds the adverse-selection entry filter thresholds.
type AdverseConfig struct {
	MinSpreadRatio float64 `toml:"min_spread_ratio"`
	DeltaThreshold float64 `toml:"delta_threshold"`
	ToxicityFloor  float64 `toml:"toxicity_floor"`
	Depth          int     `toml:"depth"`
	Alpha          float64 `toml:"alpha"`
}

// StrategyConfig holds quoting strategy parameters.
type StrategyConfig struct {
	Name         string         `toml:"name"`
	OrderSize    float64        `toml:"order_size"`
	MaxInventory float64        `toml:"max_inventory"`
	Params       map[string]any `toml:"params"`
}

// EngineConfig holds event-pipeline parameters.
type EngineConfig struct {
	// Depth is the per-side level count in views and status snapshots.
	Depth int `toml:"depth"`
	// Buffer is the feed-to-engine event queue size.
	Buffer int `toml:"buffer"`
	// CrossToleranceTicks is how far a snapshot may cross before it is
	// rejected; crossings within tolerance are resolved by matching the
	// overlap. Zero rejects any crossed snapshot.
	CrossToleranceTicks int64 `toml:"cross_tolerance_ticks"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for session archives.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
	// TradeRetention is how long executed trades stay in the primary store
	// before being rotated to object storage. Zero disables rotation.
	TradeRetention duration `toml:"trade_retention"`
}

// ServerConfig holds HTTP server parameters. APIKey left empty disables
// authentication.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Instrument: "BTC/USD",
		Feed: FeedConfig{
			WsURL:       "wss://ws.kraken.com/v2",
			Depth:       10,
			ReplaySpeed: 1.0,
		},
		Ledger: LedgerConfig{
			InitialBalance: 10_000.0,
			FeeRate:        0.001,
			Spot:           false,
			AllowFlip:      false,
			HistoryLimit:   500,
		},
		Sim: SimConfig{
			SlippageMin:  -0.0002,
			SlippageMax:  0.0002,
			SlippageSeed: 0,
			FillPolicy:   "all_or_nothing",
		},
		Risk: RiskConfig{
			TakeProfitPct:        0.01,
			StopPct:              0.005,
			ForceClosePnL:        0.0,
			MaxHold:              duration{0},
			ForceCloseMaxRetries: 10,
			MaxInventory:         1.0,
			MaxExposure:          0.0,
			MaxDrawdown:          0.0,
			Adverse: AdverseConfig{
				MinSpreadRatio: 0.0,
				DeltaThreshold: 0.0,
				ToxicityFloor:  0.0,
				Depth:          5,
				Alpha:          0.2,
			},
		},
		Strategy: StrategyConfig{
			Name:         "imbalance",
			OrderSize:    0.01,
			MaxInventory: 1.0,
			Params:       map[string]any{},
		},
		Engine: EngineConfig{
			Depth:  10,
			Buffer: 256,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "quotebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "quotebot-data",
			UseSSL:          false,
			ForcePathStyle:  true,
			ArchiveInterval: duration{15 * time.Minute},
			TradeRetention:  duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"force_close", "halt", "resync", "error"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":  true,
	"replay": true,
	"server": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validFillPolicies enumerates the accepted values for SimConfig.FillPolicy.
var validFillPolicies = map[string]bool{
	"all_or_nothing": true,
	"partial":        true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Instrument) == "" {
		errs = append(errs, "instrument must not be empty")
	}
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, replay, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	switch strings.ToLower(c.Mode) {
	case "trade":
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url must not be empty in trade mode")
		}
	case "replay":
		if c.Feed.ReplayPath == "" {
			errs = append(errs, "feed: replay_path must not be empty in replay mode")
		}
	}
	if c.Feed.Depth < 0 {
		errs = append(errs, "feed: depth must be >= 0")
	}
	if c.Feed.ReplaySpeed < 0 {
		errs = append(errs, "feed: replay_speed must be >= 0")
	}

	// Ledger
	if c.Ledger.InitialBalance <= 0 {
		errs = append(errs, "ledger: initial_balance must be > 0")
	}
	if c.Ledger.FeeRate < 0 || c.Ledger.FeeRate >= 1 {
		errs = append(errs, fmt.Sprintf("ledger: fee_rate must be in [0, 1), got %g", c.Ledger.FeeRate))
	}
	if c.Ledger.HistoryLimit < 0 {
		errs = append(errs, "ledger: history_limit must be >= 0")
	}

	// Sim
	if !validFillPolicies[strings.ToLower(c.Sim.FillPolicy)] {
		errs = append(errs, fmt.Sprintf("sim: unknown fill_policy %q (valid: all_or_nothing, partial)", c.Sim.FillPolicy))
	}
	if c.Sim.SlippageMin > c.Sim.SlippageMax {
		errs = append(errs, "sim: slippage_min must not exceed slippage_max")
	}

	// Risk
	if c.Risk.TakeProfitPct < 0 || c.Risk.StopPct < 0 {
		errs = append(errs, "risk: take_profit_pct and stop_pct must be >= 0")
	}
	if c.Risk.TakeProfitAbs < 0 || c.Risk.StopAbs < 0 {
		errs = append(errs, "risk: take_profit_abs and stop_abs must be >= 0")
	}
	if c.Risk.ForceClosePnL < 0 {
		errs = append(errs, "risk: force_close_pnl must be >= 0")
	}
	if c.Risk.MaxHold.Duration < 0 {
		errs = append(errs, "risk: max_hold must be >= 0")
	}
	if c.Risk.ForceCloseMaxRetries < 0 {
		errs = append(errs, "risk: force_close_max_retries must be >= 0")
	}
	if c.Risk.MaxInventory < 0 || c.Risk.MaxExposure < 0 {
		errs = append(errs, "risk: max_inventory and max_exposure must be >= 0")
	}
	if c.Risk.MaxDrawdown < 0 || c.Risk.MaxDrawdown >= 1 {
		errs = append(errs, fmt.Sprintf("risk: max_drawdown must be in [0, 1), got %g", c.Risk.MaxDrawdown))
	}
	if c.Risk.Adverse.Depth < 0 {
		errs = append(errs, "risk: adverse_selection.depth must be >= 0")
	}
	if c.Risk.Adverse.Alpha < 0 || c.Risk.Adverse.Alpha > 1 {
		errs = append(errs, fmt.Sprintf("risk: adverse_selection.alpha must be in [0, 1], got %g", c.Risk.Adverse.Alpha))
	}

	// Strategy
	if c.Strategy.Name == "" {
		errs = append(errs, "strategy: name must not be empty")
	}
	if c.Strategy.OrderSize <= 0 {
		errs = append(errs, "strategy: order_size must be > 0")
	}
	if c.Strategy.MaxInventory < 0 {
		errs = append(errs, "strategy: max_inventory must be >= 0")
	}

	// Engine
	if c.Engine.Depth < 0 {
		errs = append(errs, "engine: depth must be >= 0")
	}
	if c.Engine.Buffer < 1 {
		errs = append(errs, "engine: buffer must be >= 1")
	}
	if c.Engine.CrossToleranceTicks < 0 {
		errs = append(errs, "engine: cross_tolerance_ticks must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0")
		}
		if c.S3.TradeRetention.Duration < 0 {
			errs = append(errs, "s3: trade_retention must be >= 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

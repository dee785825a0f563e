package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	RPC      RPCConfig      `yaml:"rpc"`
	Feed     FeedConfig     `yaml:"feed"`
	Exchange ExchangeConfig `yaml:"exchange"`
	State    StateConfig    `yaml:"state"`
	Bot      BotConfig      `yaml:"bot"`
	Policy   PolicyConfig   `yaml:"policy"`
	Submit   SubmitConfig   `yaml:"submit"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Telegram TelegramConfig `yaml:"telegram"`
	History  HistoryConfig  `yaml:"history"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RPCConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type FeedConfig struct {
	BaseURL        string             `yaml:"base_url"`
	WSURL          string             `yaml:"ws_url"`
	Timeout        time.Duration      `yaml:"timeout"`
	ReconnectDelay time.Duration      `yaml:"reconnect_delay"`
	PingInterval   time.Duration      `yaml:"ping_interval"`
	Instrument     string             `yaml:"instrument"`
	Sources        []FeedSourceConfig `yaml:"sources"`
	MinValidFeeds  int                `yaml:"min_valid_feeds"`
	MaxDeviation   float64            `yaml:"max_deviation"`
}

// FeedSourceConfig names one extra market-data endpoint for the price
// aggregator. The primary base_url is always included.
type FeedSourceConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

type ExchangeConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	APIKey     string        `yaml:"api_key"`
	APISecret  string        `yaml:"api_secret"`
	Passphrase string        `yaml:"passphrase"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// BotConfig selects the keeper kind and drives the cycle scheduler.
type BotConfig struct {
	Kind                   string        `yaml:"kind"`
	RunInterval            time.Duration `yaml:"run_interval"`
	ContinueDelay          time.Duration `yaml:"continue_delay"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	ShutdownWait           time.Duration `yaml:"shutdown_wait"`
}

// PolicyConfig holds the per-bot decision thresholds. Immutable for the
// process lifetime.
type PolicyConfig struct {
	CollateralAsset     string        `yaml:"collateral_asset"`
	StableAsset         string        `yaml:"stable_asset"`
	LiquidationRatio    float64       `yaml:"liquidation_ratio"`
	LiquidationDiscount float64       `yaml:"liquidation_discount"`
	PriceMaxAge         time.Duration `yaml:"price_max_age"`
	TreasuryMinimum     float64       `yaml:"treasury_minimum"`
	TreasurySurplus     float64       `yaml:"treasury_surplus"`
	MaxBidAmount        float64       `yaml:"max_bid_amount"`
	MaxBidPrice         float64       `yaml:"max_bid_price"`
	MinMargin           float64       `yaml:"min_margin"`
	SettleAll           bool          `yaml:"settle_all"`
	SettleTarget        string        `yaml:"settle_target"`
	OracleDeviation     float64       `yaml:"oracle_deviation"`
	HedgeInstrument     string        `yaml:"hedge_instrument"`
	HedgeTolerance      float64       `yaml:"hedge_tolerance"`
	HedgeLimitBuffer    float64       `yaml:"hedge_limit_buffer"`
}

type SubmitConfig struct {
	FeePerCost        uint64        `yaml:"fee_per_cost"`
	BroadcastRetries  int           `yaml:"broadcast_retries"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffCap        time.Duration `yaml:"backoff_cap"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

var botKinds = map[string]bool{
	"liquidation-start": true,
	"liquidation-bid":   true,
	"recharge":          true,
	"surplus":           true,
	"bad-debt":          true,
	"oracle-update":     true,
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

// applyEnvOverrides lets secrets come from the environment instead of the
// config file.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		cfg.RPC.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("HISTORY_DSN")); v != "" {
		cfg.History.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("EXCHANGE_API_KEY")); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("EXCHANGE_API_SECRET")); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("EXCHANGE_PASSPHRASE")); v != "" {
		cfg.Exchange.Passphrase = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.RPC.BaseURL == "" {
		cfg.RPC.BaseURL = "http://localhost:8000"
	}
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = 10 * time.Second
	}
	if cfg.Feed.Timeout == 0 {
		cfg.Feed.Timeout = 10 * time.Second
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 20 * time.Second
	}
	if cfg.Feed.MinValidFeeds == 0 {
		cfg.Feed.MinValidFeeds = 1
	}
	if cfg.Feed.MaxDeviation == 0 {
		cfg.Feed.MaxDeviation = 0.05
	}
	if cfg.Exchange.Timeout == 0 {
		cfg.Exchange.Timeout = 10 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/circuit-keeper.db"
	}
	if cfg.Bot.RunInterval == 0 {
		cfg.Bot.RunInterval = 30 * time.Second
	}
	if cfg.Bot.ContinueDelay == 0 {
		cfg.Bot.ContinueDelay = 10 * time.Second
	}
	if cfg.Bot.MaxConsecutiveFailures == 0 {
		cfg.Bot.MaxConsecutiveFailures = 20
	}
	if cfg.Bot.ShutdownWait == 0 {
		cfg.Bot.ShutdownWait = 30 * time.Second
	}
	if cfg.Policy.CollateralAsset == "" {
		cfg.Policy.CollateralAsset = "XCH"
	}
	if cfg.Policy.StableAsset == "" {
		cfg.Policy.StableAsset = "BYC"
	}
	if cfg.Policy.LiquidationDiscount == 0 {
		cfg.Policy.LiquidationDiscount = 1.0
	}
	if cfg.Policy.PriceMaxAge == 0 {
		cfg.Policy.PriceMaxAge = 5 * time.Minute
	}
	if cfg.Policy.HedgeLimitBuffer == 0 {
		cfg.Policy.HedgeLimitBuffer = 0.5
	}
	if cfg.Policy.OracleDeviation == 0 {
		cfg.Policy.OracleDeviation = 0.005
	}
	if cfg.Submit.BroadcastRetries == 0 {
		cfg.Submit.BroadcastRetries = 3
	}
	if cfg.Submit.BackoffBase == 0 {
		cfg.Submit.BackoffBase = 500 * time.Millisecond
	}
	if cfg.Submit.BackoffMultiplier == 0 {
		cfg.Submit.BackoffMultiplier = 2
	}
	if cfg.Submit.BackoffCap == 0 {
		cfg.Submit.BackoffCap = 10 * time.Second
	}
	if cfg.Submit.MaxAttempts == 0 {
		cfg.Submit.MaxAttempts = 10
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
	if cfg.History.Schema == "" {
		cfg.History.Schema = "public"
	}
	if cfg.History.QueueSize == 0 {
		cfg.History.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if cfg.Bot.Kind == "" {
		return errors.New("bot.kind is required")
	}
	if !botKinds[cfg.Bot.Kind] {
		return fmt.Errorf("unknown bot.kind %q", cfg.Bot.Kind)
	}
	if cfg.Bot.Kind == "liquidation-start" || cfg.Bot.Kind == "liquidation-bid" {
		if cfg.Policy.LiquidationRatio <= 0 {
			return errors.New("policy.liquidation_ratio must be > 0")
		}
	}
	if cfg.Bot.Kind == "liquidation-bid" {
		if cfg.Policy.MaxBidAmount <= 0 {
			return errors.New("policy.max_bid_amount must be > 0")
		}
		if cfg.Policy.MinMargin < 0 {
			return errors.New("policy.min_margin must be >= 0")
		}
		if cfg.Feed.Instrument == "" {
			return errors.New("feed.instrument is required for the liquidation-bid bot")
		}
	}
	if cfg.Bot.Kind == "recharge" {
		if cfg.Policy.TreasuryMinimum <= 0 {
			return errors.New("policy.treasury_minimum must be > 0")
		}
		if !cfg.Policy.SettleAll && cfg.Policy.SettleTarget == "" {
			return errors.New("policy.settle_target is required unless settle_all is set")
		}
	}
	if cfg.Bot.Kind == "oracle-update" && cfg.Feed.Instrument == "" {
		return errors.New("feed.instrument is required for the oracle-update bot")
	}
	if cfg.Bot.Kind == "surplus" && cfg.Policy.TreasurySurplus <= 0 {
		return errors.New("policy.treasury_surplus must be > 0")
	}
	if cfg.Policy.HedgeTolerance < 0 {
		return errors.New("policy.hedge_tolerance must be >= 0")
	}
	if cfg.History.Enabled && cfg.History.DSN == "" {
		return errors.New("history.dsn is required when history is enabled")
	}
	return nil
}

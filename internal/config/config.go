package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	Cron     CronConfig     `mapstructure:"cron"`
	Gamma    GammaConfig    `mapstructure:"gamma"`
	ClobREST ClobRESTConfig `mapstructure:"clob_rest"`
	ClobWS   ClobWSConfig   `mapstructure:"clob_ws"`
	Quotes   QuotesConfig   `mapstructure:"quotes"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Live     LiveConfig     `mapstructure:"live"`
	Paper    PaperConfig    `mapstructure:"paper"`
	Recorder RecorderConfig `mapstructure:"recorder"`
}

type AppConfig struct {
	Env   string `mapstructure:"env"`
	Asset string `mapstructure:"asset"`
	Mode  string `mapstructure:"mode"`
}

type ServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	SessionSummary string `mapstructure:"session_summary"`
}

type GammaConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ClobRESTConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst"`
}

type ClobWSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type QuotesConfig struct {
	MaxAge time.Duration `mapstructure:"max_age"`
}

// TradingConfig carries the threshold set that drives the state machine and
// the safety controller. Immutable for the run.
type TradingConfig struct {
	TargetMargin      float64       `mapstructure:"target_margin"`
	MinProfit         float64       `mapstructure:"min_profit"`
	StopLossThreshold float64       `mapstructure:"stop_loss_threshold"`
	GammaStopMinutes  float64       `mapstructure:"gamma_stop_minutes"`
	PositionSizeUSD   float64       `mapstructure:"position_size_usd"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	RequoteTolerance  float64       `mapstructure:"requote_tolerance"`
	MinTimeRemaining  time.Duration `mapstructure:"min_time_remaining"`
}

type LiveConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	APIKey        string `mapstructure:"api_key"`
	APISecret     string `mapstructure:"api_secret"`
	APIPassphrase string `mapstructure:"api_passphrase"`
	Funder        string `mapstructure:"funder"`
	SignatureType int    `mapstructure:"signature_type"`
	ChainID       int    `mapstructure:"chain_id"`
}

type PaperConfig struct {
	RealisticFills  bool    `mapstructure:"realistic_fills"`
	FillProbability float64 `mapstructure:"fill_probability"`
}

type RecorderConfig struct {
	Dir string `mapstructure:"dir"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("app.asset", "BTC")
	v.SetDefault("app.mode", "paper")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.enabled", false)
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.session_summary", "@every 1m")
	v.SetDefault("gamma.base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("gamma.timeout", "15s")
	v.SetDefault("clob_rest.base_url", "https://clob.polymarket.com")
	v.SetDefault("clob_rest.timeout", "5s")
	v.SetDefault("clob_rest.rate_limit", 8)
	v.SetDefault("clob_rest.rate_burst", 16)
	v.SetDefault("clob_ws.enabled", false)
	v.SetDefault("clob_ws.url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("quotes.max_age", "3s")
	v.SetDefault("trading.target_margin", 0.03)
	v.SetDefault("trading.min_profit", 0.02)
	v.SetDefault("trading.stop_loss_threshold", 0.15)
	v.SetDefault("trading.gamma_stop_minutes", 2.0)
	v.SetDefault("trading.position_size_usd", 50.0)
	v.SetDefault("trading.tick_interval", "1s")
	v.SetDefault("trading.requote_tolerance", 0.01)
	v.SetDefault("trading.min_time_remaining", "2m")
	v.SetDefault("live.chain_id", 137)
	v.SetDefault("live.signature_type", 2)
	v.SetDefault("paper.realistic_fills", true)
	v.SetDefault("paper.fill_probability", 0.05)
	v.SetDefault("recorder.dir", "sessions")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine; defaults plus LA_* env cover it.
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects threshold sets that cannot produce sane behavior. All of
// these are fatal at startup; the bot must not trade on a broken config.
func (c Config) Validate() error {
	t := c.Trading
	if t.MinProfit <= 0 || t.MinProfit >= 1 {
		return fmt.Errorf("trading.min_profit %v must be in (0, 1)", t.MinProfit)
	}
	if t.TargetMargin <= 0 || t.TargetMargin >= 1 {
		return fmt.Errorf("trading.target_margin %v must be in (0, 1)", t.TargetMargin)
	}
	if t.StopLossThreshold <= 0 {
		return fmt.Errorf("trading.stop_loss_threshold %v must be > 0", t.StopLossThreshold)
	}
	if t.GammaStopMinutes < 0 {
		return fmt.Errorf("trading.gamma_stop_minutes %v must be >= 0", t.GammaStopMinutes)
	}
	if t.PositionSizeUSD <= 0 {
		return fmt.Errorf("trading.position_size_usd %v must be > 0", t.PositionSizeUSD)
	}
	if t.TickInterval <= 0 {
		return fmt.Errorf("trading.tick_interval must be > 0")
	}
	mode := strings.ToLower(strings.TrimSpace(c.App.Mode))
	if mode != "paper" && mode != "live" {
		return fmt.Errorf("app.mode %q must be paper or live", c.App.Mode)
	}
	if mode == "live" {
		if strings.TrimSpace(c.Live.PrivateKey) == "" {
			return fmt.Errorf("live.private_key is required for live trading")
		}
		if c.Live.APIKey == "" || c.Live.APISecret == "" || c.Live.APIPassphrase == "" {
			return fmt.Errorf("live.api_key, live.api_secret and live.api_passphrase are required for live trading")
		}
	}
	asset := strings.ToUpper(strings.TrimSpace(c.App.Asset))
	if asset != "BTC" && asset != "ETH" {
		return fmt.Errorf("app.asset %q must be BTC or ETH", c.App.Asset)
	}
	return nil
}

func (c Config) IsPaper() bool {
	return strings.EqualFold(strings.TrimSpace(c.App.Mode), "paper")
}

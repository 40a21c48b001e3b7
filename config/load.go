package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"money-printer-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env       string          `yaml:"env"`
	General   GeneralConfig   `yaml:"general"`
	Bitcoinde BitcoindeConfig `yaml:"bitcoinde"`
	Kraken    KrakenConfig    `yaml:"kraken"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Logger    logger.Config   `yaml:"logger"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type GeneralConfig struct {
	// MinProfit is the margin threshold that triggers a trade, e.g. 0.01.
	MinProfit float64 `yaml:"minProfit"`
	// MaxStake is the most base currency committed to a single trade.
	MaxStake float64 `yaml:"maxStake"`
	// HodlTarget is the trading currency amount the account keeps out of
	// arbitrage. 0 disables the guard.
	HodlTarget float64 `yaml:"hodlTarget"`
	// MaxStray bounds how far the held amount may drift from HodlTarget
	// before rebalancing blocks further trades, e.g. [0.8, 1.2].
	MaxStray       [2]float64 `yaml:"maxStray"`
	ScanIntervalMs int        `yaml:"scanIntervalMs"`
	// ConfirmRisky asks the operator before committing the first leg.
	ConfirmRisky bool `yaml:"confirmRisky"`
	// ConfirmSafe additionally asks before the second leg. Leaving this
	// off is the norm: the second leg must fire fast.
	ConfirmSafe bool `yaml:"confirmSafe"`
	DryRun      bool `yaml:"dryRun"`
}

type BitcoindeConfig struct {
	APIKey       string  `yaml:"apiKey"`
	APISecret    string  `yaml:"apiSecret"`
	BaseURL      string  `yaml:"baseURL"`
	Risk         int     `yaml:"risk"`
	FeeLessPrice float64 `yaml:"feeLessPrice"`
	FeeLessCoin  float64 `yaml:"feeLessCoin"`
	Websocket    bool    `yaml:"websocket"`
}

type KrakenConfig struct {
	APIKey    string  `yaml:"apiKey"`
	APISecret string  `yaml:"apiSecret"`
	BaseURL   string  `yaml:"baseURL"`
	Risk      int     `yaml:"risk"`
	Fee       float64 `yaml:"fee"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chatId"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the metrics server
}

// Default fills the fields a minimal config file may omit.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		General: GeneralConfig{
			MinProfit:      0.01,
			MaxStake:       1000,
			MaxStray:       [2]float64{0.8, 1.2},
			ScanIntervalMs: int(10 * time.Second / time.Millisecond),
		},
		Bitcoinde: BitcoindeConfig{
			Risk:         5,
			FeeLessPrice: 0.004,
			FeeLessCoin:  0.008,
		},
		Kraken: KrakenConfig{
			Risk: 1,
			Fee:  0.002,
		},
		Logger: logger.DefaultConfig(),
	}
}

// Load reads YAML config from path on top of the defaults and validates.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env
// vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("MP_BITCOINDE_API_KEY"); v != "" {
		cfg.Bitcoinde.APIKey = v
	}
	if v := os.Getenv("MP_BITCOINDE_API_SECRET"); v != "" {
		cfg.Bitcoinde.APISecret = v
	}
	if v := os.Getenv("MP_KRAKEN_API_KEY"); v != "" {
		cfg.Kraken.APIKey = v
	}
	if v := os.Getenv("MP_KRAKEN_API_SECRET"); v != "" {
		cfg.Kraken.APISecret = v
	}
	if v := os.Getenv("MP_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("MP_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present and bounds make sense.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.General.MinProfit <= 0 {
		return errors.New("general.minProfit must be > 0")
	}
	if cfg.General.MaxStake <= 0 {
		return errors.New("general.maxStake must be > 0")
	}
	if cfg.General.HodlTarget < 0 {
		return errors.New("general.hodlTarget must be >= 0")
	}
	if cfg.General.HodlTarget > 0 {
		low, high := cfg.General.MaxStray[0], cfg.General.MaxStray[1]
		if low <= 0 || high < low {
			return fmt.Errorf("general.maxStray bounds [%g, %g] are invalid", low, high)
		}
	}
	if cfg.General.ScanIntervalMs <= 0 {
		return errors.New("general.scanIntervalMs must be > 0")
	}
	if !cfg.General.DryRun {
		if cfg.Bitcoinde.APIKey == "" || cfg.Bitcoinde.APISecret == "" {
			return errors.New("bitcoinde.apiKey/apiSecret is required (or env overrides)")
		}
		if cfg.Kraken.APIKey == "" || cfg.Kraken.APISecret == "" {
			return errors.New("kraken.apiKey/apiSecret is required (or env overrides)")
		}
	}
	if cfg.Bitcoinde.FeeLessPrice < 0 || cfg.Bitcoinde.FeeLessPrice >= 1 {
		return errors.New("bitcoinde.feeLessPrice must be in [0, 1)")
	}
	if cfg.Bitcoinde.FeeLessCoin < 0 || cfg.Bitcoinde.FeeLessCoin >= 1 {
		return errors.New("bitcoinde.feeLessCoin must be in [0, 1)")
	}
	if cfg.Kraken.Fee < 0 || cfg.Kraken.Fee >= 1 {
		return errors.New("kraken.fee must be in [0, 1)")
	}
	if (cfg.Telegram.Token == "") != (cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chatId must be set together")
	}
	return nil
}

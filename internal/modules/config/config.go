package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	okxAPIKeyENV      = "OKX_API_KEY"
	okxAPISecretENV   = "OKX_API_SECRET"
	okxPassphraseENV  = "OKX_PASSPHRASE"
)

// Config ...
type Config struct {
	OKX struct {
		APIKey     string        `yaml:"api_key"`
		APISecret  string        `yaml:"api_secret"`
		Passphrase string        `yaml:"passphrase"`
		RestURL    string        `yaml:"rest_url"`
		PublicWS   string        `yaml:"public_ws"`
		PrivateWS  string        `yaml:"private_ws"`
		Paper      bool          `yaml:"paper"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"okx"`

	Trading struct {
		InstID string `yaml:"instrument_id"`
		// cash | cross | isolated
		TdMode     string   `yaml:"td_mode"`
		ParamsFile string   `yaml:"params_file"`
		RiskFree   []string `yaml:"risk_free_ccy"`
	} `yaml:"trading"`

	Loop struct {
		CycleSleep          time.Duration `yaml:"cycle_sleep"`
		UnhealthyBackoff    time.Duration `yaml:"unhealthy_backoff"`
		ErrorBackoff        time.Duration `yaml:"error_backoff"`
		CycleTimeout        time.Duration `yaml:"cycle_timeout"`
		CallTimeout         time.Duration `yaml:"call_timeout"`
		PlacePause          time.Duration `yaml:"place_pause"`
		BookMaxAge          time.Duration `yaml:"book_max_age"`
		AccountMaxAge       time.Duration `yaml:"account_max_age"`
		ResubscribeCooldown time.Duration `yaml:"resubscribe_cooldown"`
		Watchdog            time.Duration `yaml:"watchdog"`
		PricesRefresh       time.Duration `yaml:"prices_refresh"`
		RiskSummaryEvery    int           `yaml:"risk_summary_every"`
	} `yaml:"loop"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	Health struct {
		Addr string `yaml:"addr"`
	} `yaml:"health"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	DB string `yaml:"db_dsn"`

	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`
}

func defaults() Config {
	var c Config
	c.OKX.RestURL = "https://www.okx.com"
	c.OKX.PublicWS = "wss://ws.okx.com:8443/ws/v5/public"
	c.OKX.PrivateWS = "wss://ws.okx.com:8443/ws/v5/private"
	c.OKX.Timeout = 10 * time.Second

	c.Trading.InstID = "BTC-USDT-SWAP"
	c.Trading.TdMode = "cross"
	c.Trading.ParamsFile = "configs/params.yaml"
	c.Trading.RiskFree = []string{"USDT", "USDC", "DAI"}

	c.Loop.CycleSleep = time.Second
	c.Loop.UnhealthyBackoff = 5 * time.Second
	c.Loop.ErrorBackoff = 20 * time.Second
	c.Loop.CycleTimeout = 60 * time.Second
	c.Loop.CallTimeout = 10 * time.Second
	c.Loop.PlacePause = 2 * time.Second
	c.Loop.BookMaxAge = 60 * time.Second
	c.Loop.AccountMaxAge = 60 * time.Second
	c.Loop.ResubscribeCooldown = 30 * time.Second
	c.Loop.Watchdog = 2 * time.Minute
	c.Loop.PricesRefresh = 5 * time.Second
	c.Loop.RiskSummaryEvery = 10

	c.Log.Level = "info"
	c.Health.Addr = ":8080"
	c.Tracing.Host = "localhost"
	c.Tracing.Port = 6831
	return c
}

func NewConfig() (*Config, error) {
	dir := getenvDefault(configDirENV, "configs")
	configFileName := getenvDefault(configFilePathENV, "values_local.yaml")

	file, err := os.Open(dir + "/" + configFileName)
	if err != nil {
		return nil, errors.Wrap(err, "open config file")
	}
	defer func() {
		_ = file.Close()
	}()

	config := defaults()
	if err = yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "decode config file")
	}
	config.applyEnv()

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	c.OKX.APIKey = getenvDefault(okxAPIKeyENV, c.OKX.APIKey)
	c.OKX.APISecret = getenvDefault(okxAPISecretENV, c.OKX.APISecret)
	c.OKX.Passphrase = getenvDefault(okxPassphraseENV, c.OKX.Passphrase)
	c.OKX.Paper = boolFromEnv("OKX_PAPER", c.OKX.Paper)

	c.Trading.InstID = getenvDefault("TRADING_INSTRUMENT_ID", c.Trading.InstID)
	c.Trading.TdMode = getenvDefault("TRADING_MODE", c.Trading.TdMode)
	c.Trading.ParamsFile = getenvDefault("PARAMS_FILE", c.Trading.ParamsFile)

	c.Loop.BookMaxAge = durationFromEnv("ORDER_BOOK_MAX_AGE", c.Loop.BookMaxAge.String())
	c.Loop.AccountMaxAge = durationFromEnv("ACCOUNT_MAX_AGE", c.Loop.AccountMaxAge.String())
	c.Loop.RiskSummaryEvery = intFromEnv("RISK_SUMMARY_EVERY", c.Loop.RiskSummaryEvery)

	c.Log.Level = getenvDefault("LOG_LEVEL", c.Log.Level)
	c.Health.Addr = getenvDefault("HEALTH_ADDR", c.Health.Addr)
	c.Tracing.Enabled = boolFromEnv("TRACING_ENABLED", c.Tracing.Enabled)

	if token := os.Getenv(tokenTelegramENV); token != "" {
		c.Telegram.Token = token
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		c.DB = dsn
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Trading.InstID == "" {
		return errors.New("trading.instrument_id is required")
	}
	switch c.Trading.TdMode {
	case "cash", "cross", "isolated":
	default:
		return fmt.Errorf("trading.td_mode %q: want cash, cross or isolated", c.Trading.TdMode)
	}
	if c.Loop.CallTimeout <= 0 || c.Loop.CycleTimeout <= 0 {
		return errors.New("loop timeouts must be positive")
	}
	if c.Loop.BookMaxAge <= 0 || c.Loop.AccountMaxAge <= 0 {
		return errors.New("loop staleness bounds must be positive")
	}
	return nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}

package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BinanceAPIKey    string `yaml:"binance_api_key"`
	BinanceAPISecret string `yaml:"binance_api_secret"`

	PolicyDBPath string `yaml:"policy_db_path"`
	LogLevel     string `yaml:"log_level"`

	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	API          APIConfig          `yaml:"api"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type ConnectivityConfig struct {
	// InternetEndpoints are raced for the internet stage. They must stay
	// vendor-independent so one provider outage cannot fail the stage.
	InternetEndpoints []string `yaml:"internet_endpoints"`

	// ExchangeBaseURL is the direct transport for the API stage;
	// ExchangeFallbackURLs are the secondary transports raced when the
	// direct one fails and force_direct_api is off.
	ExchangeBaseURL      string   `yaml:"exchange_base_url"`
	ExchangeFallbackURLs []string `yaml:"exchange_fallback_urls"`

	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	RecheckInterval time.Duration `yaml:"recheck_interval"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	NetPollInterval time.Duration `yaml:"net_poll_interval"`

	AccountAttempts   int           `yaml:"account_attempts"`
	AccountRetryDelay time.Duration `yaml:"account_retry_delay"`
}

func Default() Config {
	return Config{
		PolicyDBPath: "gatewatch.db",
		LogLevel:     "info",
		Connectivity: ConnectivityConfig{
			InternetEndpoints: []string{
				"https://www.gstatic.com/generate_204",
				"https://connectivity-check.ubuntu.com",
				"https://1.1.1.1/cdn-cgi/trace",
			},
			ExchangeBaseURL: "https://api.binance.com",
			ExchangeFallbackURLs: []string{
				"https://api1.binance.com",
				"https://api2.binance.com",
				"https://api3.binance.com",
			},
			ProbeTimeout:      6 * time.Second,
			RecheckInterval:   30 * time.Second,
			SettleDelay:       time.Second,
			NetPollInterval:   5 * time.Second,
			AccountAttempts:   2,
			AccountRetryDelay: time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    ":8080",
		},
	}
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.BinanceAPIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.BinanceAPISecret = v
	}
	if c.BinanceAPISecret == "" {
		c.BinanceAPISecret = os.Getenv("BINANCE_SECRET_KEY")
	}
	if v := strings.TrimSpace(os.Getenv("GATEWATCH_POLICY_DB")); v != "" {
		c.PolicyDBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("GATEWATCH_API_ADDR")); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID != "" {
		c.Telegram.Enabled = true
	}
}

// HasCredentials reports whether exchange API credentials are configured.
// The account stage is skipped (not failed) without them.
func (c *Config) HasCredentials() bool {
	return strings.TrimSpace(c.BinanceAPIKey) != "" && strings.TrimSpace(c.BinanceAPISecret) != ""
}

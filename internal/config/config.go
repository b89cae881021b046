// Package config loads the brokerhub YAML configuration and applies
// environment variable overrides.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the brokerhub daemon.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Logging Logging `yaml:"logging"`
	Brokers Brokers `yaml:"brokers"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Brokers holds the static per-broker configuration. A section left empty
// means that broker is not configured; the factory fails fast when asked to
// construct an adapter for it.
type Brokers struct {
	Alpaca   Alpaca   `yaml:"alpaca"`
	IBKR     IBKR     `yaml:"ibkr"`
	Binance  Binance  `yaml:"binance"`
	Coinbase Coinbase `yaml:"coinbase"`
}

// Alpaca holds the OAuth2 application registration and API endpoints for
// the Alpaca broker.
type Alpaca struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	LiveBaseURL  string `yaml:"live_base_url"`
	PaperBaseURL string `yaml:"paper_base_url"`
	DataBaseURL  string `yaml:"data_base_url"`
}

// Configured reports whether the Alpaca section is usable.
func (a Alpaca) Configured() bool {
	return a.ClientID != "" && a.ClientSecret != ""
}

// IBKR holds the OAuth1-Extended consumer registration for Interactive
// Brokers. PrivateKeyPath points at the PEM-encoded RSA key registered with
// the broker; the Diffie-Hellman group is the broker-published prime.
type IBKR struct {
	ConsumerKey    string `yaml:"consumer_key"`
	PrivateKeyPath string `yaml:"private_key_path"`
	DHPrimeHex     string `yaml:"dh_prime_hex"`
	DHGenerator    int    `yaml:"dh_generator"`
	Realm          string `yaml:"realm"`
	RedirectURI    string `yaml:"redirect_uri"`
	BaseURL        string `yaml:"base_url"`
}

// Configured reports whether the IBKR section is usable.
func (i IBKR) Configured() bool {
	return i.ConsumerKey != "" && i.PrivateKeyPath != ""
}

// Binance holds the REST endpoints for the Binance exchange. Per-user API
// keys arrive as credentials at connect time, so only endpoints are static.
type Binance struct {
	BaseURL        string `yaml:"base_url"`
	TestnetBaseURL string `yaml:"testnet_base_url"`
}

// Configured reports whether the Binance section is usable. Endpoints have
// defaults, so the section is always considered configured.
func (b Binance) Configured() bool { return true }

// Coinbase holds the OAuth2 application registration for Coinbase.
type Coinbase struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	BaseURL      string `yaml:"base_url"`
}

// Configured reports whether the Coinbase section is usable.
func (c Coinbase) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("ALPACA_CLIENT_ID"); v != "" {
		cfg.Brokers.Alpaca.ClientID = v
	}
	if v := os.Getenv("ALPACA_CLIENT_SECRET"); v != "" {
		cfg.Brokers.Alpaca.ClientSecret = v
	}
	if v := os.Getenv("ALPACA_REDIRECT_URI"); v != "" {
		cfg.Brokers.Alpaca.RedirectURI = v
	}

	if v := os.Getenv("IBKR_CONSUMER_KEY"); v != "" {
		cfg.Brokers.IBKR.ConsumerKey = v
	}
	if v := os.Getenv("IBKR_PRIVATE_KEY_PATH"); v != "" {
		cfg.Brokers.IBKR.PrivateKeyPath = v
	}

	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		cfg.Brokers.Binance.BaseURL = v
	}

	if v := os.Getenv("COINBASE_CLIENT_ID"); v != "" {
		cfg.Brokers.Coinbase.ClientID = v
	}
	if v := os.Getenv("COINBASE_CLIENT_SECRET"); v != "" {
		cfg.Brokers.Coinbase.ClientSecret = v
	}
	if v := os.Getenv("COINBASE_REDIRECT_URI"); v != "" {
		cfg.Brokers.Coinbase.RedirectURI = v
	}
}

package config

import (
	"os"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "brokerhub-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}
	return tmpFile.Name()
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, `
server:
  host: "0.0.0.0"
  port: 8080
storage:
  sqlite_path: "/tmp/brokerhub/brokerhub.db"
logging:
  level: "info"
  format: "json"
brokers:
  alpaca:
    client_id: "alpaca-client"
    client_secret: "alpaca-secret"
    redirect_uri: "https://app.example.com/oauth/alpaca"
    paper_base_url: "https://paper-api.alpaca.markets"
  ibkr:
    consumer_key: "CKEY"
    private_key_path: "/etc/brokerhub/ibkr.pem"
    dh_generator: 2
    realm: "limited_poa"
  binance:
    base_url: "https://api.binance.com"
  coinbase:
    client_id: "cb-client"
    client_secret: "cb-secret"
`)

	// Clear any environment overrides that might interfere.
	os.Unsetenv("ALPACA_CLIENT_ID")
	os.Unsetenv("SQLITE_PATH")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Storage.SQLitePath != "/tmp/brokerhub/brokerhub.db" {
		t.Errorf("Storage.SQLitePath = %q", cfg.Storage.SQLitePath)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}

	if !cfg.Brokers.Alpaca.Configured() {
		t.Error("Alpaca section should report Configured")
	}
	if cfg.Brokers.Alpaca.RedirectURI != "https://app.example.com/oauth/alpaca" {
		t.Errorf("Alpaca.RedirectURI = %q", cfg.Brokers.Alpaca.RedirectURI)
	}
	if !cfg.Brokers.IBKR.Configured() {
		t.Error("IBKR section should report Configured")
	}
	if cfg.Brokers.IBKR.DHGenerator != 2 {
		t.Errorf("IBKR.DHGenerator = %d, want 2", cfg.Brokers.IBKR.DHGenerator)
	}
	if !cfg.Brokers.Coinbase.Configured() {
		t.Error("Coinbase section should report Configured")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
storage:
  sqlite_path: "/original/brokerhub.db"
brokers:
  alpaca:
    client_id: "yaml-client"
    client_secret: "yaml-secret"
`)

	os.Setenv("ALPACA_CLIENT_ID", "env-client")
	os.Setenv("SQLITE_PATH", "/env/brokerhub.db")
	defer os.Unsetenv("ALPACA_CLIENT_ID")
	defer os.Unsetenv("SQLITE_PATH")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Brokers.Alpaca.ClientID != "env-client" {
		t.Errorf("Alpaca.ClientID = %q, want %q (env override)", cfg.Brokers.Alpaca.ClientID, "env-client")
	}
	// client_secret should remain from YAML since no env override was set.
	if cfg.Brokers.Alpaca.ClientSecret != "yaml-secret" {
		t.Errorf("Alpaca.ClientSecret = %q, want %q (from YAML)", cfg.Brokers.Alpaca.ClientSecret, "yaml-secret")
	}
	if cfg.Storage.SQLitePath != "/env/brokerhub.db" {
		t.Errorf("Storage.SQLitePath = %q, want env override", cfg.Storage.SQLitePath)
	}
}

func TestUnconfiguredSections(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 8080
`)
	os.Unsetenv("ALPACA_CLIENT_ID")
	os.Unsetenv("IBKR_CONSUMER_KEY")
	os.Unsetenv("COINBASE_CLIENT_ID")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Brokers.Alpaca.Configured() {
		t.Error("empty Alpaca section should not report Configured")
	}
	if cfg.Brokers.IBKR.Configured() {
		t.Error("empty IBKR section should not report Configured")
	}
	if cfg.Brokers.Coinbase.Configured() {
		t.Error("empty Coinbase section should not report Configured")
	}
	// Binance only needs endpoints, which default.
	if !cfg.Brokers.Binance.Configured() {
		t.Error("Binance section should always report Configured")
	}
}

// Package config loads tripledger settings from a TOML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds server and client settings. One file serves both binaries.
type Config struct {
	Server ServerConfig `toml:"server"`
	Client ClientConfig `toml:"client"`
}

// ServerConfig configures the authoritative ledger server.
type ServerConfig struct {
	Addr      string `toml:"addr"`
	DBPath    string `toml:"db_path"`
	JWTSecret string `toml:"jwt_secret,omitempty"`
}

// ClientConfig configures the offline-first client.
type ClientConfig struct {
	ServerURL      string        `toml:"server_url"`
	CachePath      string        `toml:"cache_path"`
	Token          string        `toml:"token,omitempty"`
	SyncInterval   time.Duration `toml:"sync_interval"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:   ":8080",
			DBPath: "./data/ledger.db",
		},
		Client: ClientConfig{
			ServerURL:      "http://localhost:8080",
			CachePath:      filepath.Join(Dir(), "cache.db"),
			SyncInterval:   30 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
	}
}

// Dir returns the XDG-compliant config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tripledger")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tripledger")
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(Dir(), "tripledger.toml")
}

// Load reads the config file at path, returning defaults if it doesn't
// exist. Environment variables override file values.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, fmt.Errorf("reading config: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.DBPath = getEnv("DB_PATH", cfg.Server.DBPath)
	cfg.Server.JWTSecret = getEnv("JWT_SECRET", cfg.Server.JWTSecret)
	cfg.Client.ServerURL = getEnv("TRIPLEDGER_SERVER_URL", cfg.Client.ServerURL)
	cfg.Client.Token = getEnv("TRIPLEDGER_TOKEN", cfg.Client.Token)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

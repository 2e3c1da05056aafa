package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var globalConfig *Config

// Load loads the configuration from file, environment and defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		configDir := filepath.Join(home, ".clawgate")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("json")
	}

	v.SetEnvPrefix("CLAWGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file missing is fine, defaults and env apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	// Gateway defaults
	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 18789)
	v.SetDefault("gateway.path", "/ws")
	v.SetDefault("gateway.ping_interval", 30*time.Second)
	v.SetDefault("gateway.write_timeout", 10*time.Second)

	// Agent defaults
	v.SetDefault("agent.provider", "claude")
	v.SetDefault("agent.timeout", 5*time.Minute)
	v.SetDefault("agent.use_pty", true)

	// Session and queue defaults
	v.SetDefault("session.ttl", time.Hour)
	v.SetDefault("queue.max_pending", 10)

	// Cron defaults
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.default_timeout", 10*time.Minute)

	// Browser defaults
	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.mode", "auto")
	v.SetDefault("browser.devtools_url", "http://127.0.0.1:9222")
	v.SetDefault("browser.timeout", 30*time.Second)
}

// Save writes the configuration to a file
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".clawgate", "config.json"), nil
}

// DataDir returns the data directory, creating it if needed
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".clawgate")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// GatewayURL returns the gateway WebSocket URL for client connections
func GatewayURL(cfg *Config) string {
	if cfg == nil {
		return "ws://127.0.0.1:18789/ws"
	}

	host := cfg.Gateway.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Gateway.Port
	if port == 0 {
		port = 18789
	}
	path := cfg.Gateway.Path
	if path == "" {
		path = "/ws"
	}

	return fmt.Sprintf("ws://%s:%d%s", host, port, path)
}

// Validate validates the configuration
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

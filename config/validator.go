package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/smallnest/clawgate/errors"
)

// Validator provides configuration validation
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate performs configuration validation in dependency order
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.InvalidConfig("configuration cannot be nil")
	}

	validators := []func(*Config) error{
		v.validateGateway,
		v.validateAgent,
		v.validateSession,
		v.validateQueue,
		v.validateChannels,
		v.validateBrowser,
	}

	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			return err
		}
	}

	return nil
}

func (v *Validator) validateGateway(cfg *Config) error {
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		return errors.InvalidConfig(fmt.Sprintf("gateway port %d out of range", cfg.Gateway.Port))
	}
	if cfg.Gateway.Path != "" && !strings.HasPrefix(cfg.Gateway.Path, "/") {
		return errors.InvalidConfig("gateway path must start with /")
	}
	return nil
}

func (v *Validator) validateAgent(cfg *Config) error {
	known := []string{"claude", "codex"}
	if cfg.Agent.Provider != "" && !slices.Contains(known, cfg.Agent.Provider) {
		return errors.InvalidConfig(fmt.Sprintf("unknown agent provider %q (must be one of: %s)",
			cfg.Agent.Provider, strings.Join(known, ", ")))
	}
	if cfg.Agent.Timeout < 0 {
		return errors.InvalidConfig("agent timeout cannot be negative")
	}
	return nil
}

func (v *Validator) validateSession(cfg *Config) error {
	if cfg.Session.TTL < 0 {
		return errors.InvalidConfig("session ttl cannot be negative")
	}
	return nil
}

func (v *Validator) validateQueue(cfg *Config) error {
	if cfg.Queue.MaxPending < 0 {
		return errors.InvalidConfig("queue max_pending cannot be negative")
	}
	return nil
}

func (v *Validator) validateChannels(cfg *Config) error {
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		return errors.InvalidConfig("telegram channel enabled without a token")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		return errors.InvalidConfig("discord channel enabled without a token")
	}
	return nil
}

func (v *Validator) validateBrowser(cfg *Config) error {
	if !cfg.Browser.Enabled {
		return nil
	}

	switch cfg.Browser.Mode {
	case "", "auto", "direct", "relay":
	default:
		return errors.InvalidConfig(fmt.Sprintf("unknown browser mode %q", cfg.Browser.Mode))
	}

	if cfg.Browser.RelayURL != "" {
		u, err := url.Parse(cfg.Browser.RelayURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return errors.InvalidConfig("browser relay_url must be a ws:// or wss:// URL")
		}
	}

	return nil
}

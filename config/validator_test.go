package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18789,
			Path: "/ws",
		},
		Agent: AgentConfig{
			Provider: "claude",
			Timeout:  5 * time.Minute,
		},
		Session: SessionConfig{TTL: time.Hour},
		Queue:   QueueConfig{MaxPending: 10},
	}
}

func TestValidatorValidConfig(t *testing.T) {
	if err := NewValidator().Validate(validConfig()); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidatorNilConfig(t *testing.T) {
	if err := NewValidator().Validate(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestValidatorRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Gateway.Port = 70000 }},
		{"path without slash", func(c *Config) { c.Gateway.Path = "ws" }},
		{"unknown provider", func(c *Config) { c.Agent.Provider = "gemini" }},
		{"negative timeout", func(c *Config) { c.Agent.Timeout = -time.Second }},
		{"negative ttl", func(c *Config) { c.Session.TTL = -time.Minute }},
		{"negative backlog", func(c *Config) { c.Queue.MaxPending = -1 }},
		{"telegram without token", func(c *Config) { c.Channels.Telegram.Enabled = true }},
		{"bad relay url", func(c *Config) {
			c.Browser.Enabled = true
			c.Browser.RelayURL = "http://not-a-ws-url"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := NewValidator().Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestGatewayURL(t *testing.T) {
	if got := GatewayURL(nil); got != "ws://127.0.0.1:18789/ws" {
		t.Errorf("default url = %s", got)
	}

	cfg := validConfig()
	cfg.Gateway.Host = "0.0.0.0"
	cfg.Gateway.Port = 9000
	if got := GatewayURL(cfg); got != "ws://0.0.0.0:9000/ws" {
		t.Errorf("url = %s", got)
	}
}

package config

import "time"

// Config is the root configuration
type Config struct {
	Log      LogConfig      `mapstructure:"log" json:"log"`
	Gateway  GatewayConfig  `mapstructure:"gateway" json:"gateway"`
	Agent    AgentConfig    `mapstructure:"agent" json:"agent"`
	Session  SessionConfig  `mapstructure:"session" json:"session"`
	Queue    QueueConfig    `mapstructure:"queue" json:"queue"`
	Cron     CronConfig     `mapstructure:"cron" json:"cron"`
	Channels ChannelsConfig `mapstructure:"channels" json:"channels"`
	Browser  BrowserConfig  `mapstructure:"browser" json:"browser"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// GatewayConfig configures the WebSocket gateway
type GatewayConfig struct {
	Host         string        `mapstructure:"host" json:"host"`
	Port         int           `mapstructure:"port" json:"port"`
	Path         string        `mapstructure:"path" json:"path"`
	PingInterval time.Duration `mapstructure:"ping_interval" json:"ping_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
}

// AgentConfig configures the external agent CLI invocation
type AgentConfig struct {
	// Provider selects the upstream CLI tool: "claude" or "codex"
	Provider string `mapstructure:"provider" json:"provider"`
	// Model hint, only applied when starting a fresh session
	Model string `mapstructure:"model" json:"model"`
	// Binary overrides the resolved executable path
	Binary string `mapstructure:"binary" json:"binary"`
	// WorkingDir is the working directory for agent processes
	WorkingDir string `mapstructure:"working_dir" json:"working_dir"`
	// Timeout is the default per-run wall-clock limit
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	// UsePTY runs the agent through a pseudo-terminal for streaming output
	UsePTY bool `mapstructure:"use_pty" json:"use_pty"`
}

// SessionConfig configures the session directory
type SessionConfig struct {
	// TTL after which an untouched session token expires
	TTL time.Duration `mapstructure:"ttl" json:"ttl"`
}

// QueueConfig configures per-lane queues
type QueueConfig struct {
	// MaxPending bounds the backlog per lane
	MaxPending int `mapstructure:"max_pending" json:"max_pending"`
}

// CronConfig configures the scheduler
type CronConfig struct {
	Enabled        bool          `mapstructure:"enabled" json:"enabled"`
	StorePath      string        `mapstructure:"store_path" json:"store_path"`
	RunLogPath     string        `mapstructure:"run_log_path" json:"run_log_path"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" json:"default_timeout"`
}

// ChannelsConfig configures outbound notification channels
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram" json:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord" json:"discord"`
}

// TelegramConfig configures the Telegram notifier
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Token   string `mapstructure:"token" json:"token"`
}

// DiscordConfig configures the Discord notifier
type DiscordConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Token   string `mapstructure:"token" json:"token"`
}

// BrowserConfig configures the browser control side channel
type BrowserConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Mode is "direct" (local CDP), "relay", or "auto"
	Mode string `mapstructure:"mode" json:"mode"`
	// DevToolsURL is the Chrome devtools endpoint for direct mode
	DevToolsURL string `mapstructure:"devtools_url" json:"devtools_url"`
	// RelayURL is the WebSocket relay endpoint for relay mode
	RelayURL string        `mapstructure:"relay_url" json:"relay_url"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

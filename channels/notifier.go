package channels

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/smallnest/clawgate/config"
	"github.com/smallnest/clawgate/errors"
	"github.com/smallnest/clawgate/internal/logger"
)

// Notifier delivers one outbound text to a destination. Adapters are
// send-only; the gateway never ingests messages from these platforms.
type Notifier interface {
	Name() string
	Send(ctx context.Context, target, text string) error
}

// Status describes one configured channel for the channels.list method.
type Status struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Manager owns the configured notifier adapters.
type Manager struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// NewManager builds the adapters the configuration enables. An adapter
// that fails to initialize is skipped with a warning rather than failing
// startup.
func NewManager(cfg config.ChannelsConfig) *Manager {
	m := &Manager{notifiers: make(map[string]Notifier)}

	if cfg.Telegram.Enabled {
		if n, err := NewTelegramNotifier(cfg.Telegram); err != nil {
			logger.Warn("Telegram channel unavailable", zap.Error(err))
		} else {
			m.Register(n)
		}
	}
	if cfg.Discord.Enabled {
		if n, err := NewDiscordNotifier(cfg.Discord); err != nil {
			logger.Warn("Discord channel unavailable", zap.Error(err))
		} else {
			m.Register(n)
		}
	}

	return m
}

// Register adds a notifier, replacing any adapter with the same name.
func (m *Manager) Register(n Notifier) {
	m.mu.Lock()
	m.notifiers[n.Name()] = n
	m.mu.Unlock()
	logger.Info("Channel registered", zap.String("channel", n.Name()))
}

// List reports the registered channels, sorted by name.
func (m *Manager) List() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.notifiers))
	for name := range m.notifiers {
		out = append(out, Status{Name: name, Enabled: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Send delivers text through the named channel.
func (m *Manager) Send(ctx context.Context, channel, target, text string) error {
	m.mu.RLock()
	n, ok := m.notifiers[channel]
	m.mu.RUnlock()
	if !ok {
		return errors.ChannelNotConfigured(channel)
	}

	if err := n.Send(ctx, target, text); err != nil {
		return errors.Wrapf(err, errors.ErrCodeChannelSendFailed, "send via %s failed", channel)
	}
	logger.Info("Channel message sent",
		zap.String("channel", channel),
		zap.String("target", target),
		zap.Int("length", len(text)))
	return nil
}

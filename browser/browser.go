package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/smallnest/clawgate/config"
	"github.com/smallnest/clawgate/internal/logger"
)

// Connection modes for browser control.
const (
	ModeAuto   = "auto"
	ModeDirect = "direct"
	ModeRelay  = "relay"
)

// Supported capability methods.
const (
	MethodNavigate   = "navigate"
	MethodClick      = "click"
	MethodType       = "type"
	MethodScreenshot = "screenshot"
	MethodEvaluate   = "evaluate"
)

// Controller is the browser side channel. It operates independently of
// the chat pipeline; requests never pass through the lane queue.
type Controller interface {
	Request(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error)
	Ready() bool
	Close() error
}

// New builds a controller for the configured mode. Auto mode prefers the
// relay when a relay URL is set and falls back to a direct devtools
// connection.
func New(ctx context.Context, cfg config.BrowserConfig) (Controller, error) {
	switch cfg.Mode {
	case ModeRelay:
		return NewRelayController(ctx, cfg)
	case ModeDirect:
		return NewCDPController(ctx, cfg)
	case ModeAuto, "":
		if cfg.RelayURL != "" {
			if c, err := NewRelayController(ctx, cfg); err == nil {
				return c, nil
			} else {
				logger.Warn("Relay connection failed, falling back to direct devtools", zap.Error(err))
			}
		}
		return NewCDPController(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown browser mode: %s", cfg.Mode)
	}
}

package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/smallnest/clawgate/config"
	"github.com/smallnest/clawgate/errors"
	"github.com/smallnest/clawgate/internal/logger"
)

// relayRequest is the text frame sent to a browser relay endpoint.
type relayRequest struct {
	Type   string                 `json:"type"`
	ID     string                 `json:"id"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// relayResponse correlates to a request by id.
type relayResponse struct {
	Type    string                 `json:"type"`
	ID      string                 `json:"id"`
	OK      bool                   `json:"ok"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   *relayError            `json:"error,omitempty"`
}

type relayError struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// RelayController forwards capability methods to a remote relay that
// fronts the actual browser, speaking the same req/res text-frame
// protocol as the gateway itself.
type RelayController struct {
	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	timeout   time.Duration
	pending   map[string]chan *relayResponse
}

// NewRelayController dials the relay endpoint and starts its read loop.
func NewRelayController(ctx context.Context, cfg config.BrowserConfig) (*RelayController, error) {
	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("relay url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, cfg.RelayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	r := &RelayController{
		conn:      conn,
		connected: true,
		timeout:   timeout,
		pending:   make(map[string]chan *relayResponse),
	}
	go r.readLoop()

	logger.Info("Browser relay connected", zap.String("url", cfg.RelayURL))
	return r, nil
}

// Ready reports whether the relay connection is live.
func (r *RelayController) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// Close tears down the relay connection.
func (r *RelayController) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
	if r.conn != nil {
		err := r.conn.Close()
		r.conn = nil
		return err
	}
	return nil
}

func (r *RelayController) readLoop() {
	for {
		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			r.connected = false
			r.mu.Unlock()
			logger.Warn("Relay connection lost", zap.Error(err))
			return
		}

		var res relayResponse
		if err := json.Unmarshal(message, &res); err != nil {
			logger.Warn("Malformed relay frame dropped", zap.Error(err))
			continue
		}

		r.mu.Lock()
		ch, ok := r.pending[res.ID]
		if ok {
			delete(r.pending, res.ID)
		}
		r.mu.Unlock()
		if ok {
			ch <- &res
		}
	}
}

// Request forwards one capability method over the relay.
func (r *RelayController) Request(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	r.mu.RLock()
	conn := r.conn
	connected := r.connected
	r.mu.RUnlock()
	if !connected || conn == nil {
		return nil, errors.New(errors.ErrCodeBrowserNotReady, "relay not connected")
	}

	req := relayRequest{
		Type:   "req",
		ID:     uuid.NewString(),
		Method: method,
		Params: params,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay request: %w", err)
	}

	ch := make(chan *relayResponse, 1)
	r.mu.Lock()
	r.pending[req.ID] = ch
	err = conn.WriteMessage(websocket.TextMessage, data)
	r.mu.Unlock()
	if err != nil {
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to send relay request: %w", err)
	}

	defer func() {
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
	}()

	select {
	case res := <-ch:
		if !res.OK {
			if res.Error != nil {
				return nil, errors.Newf(errors.ErrCodeUnknown, "relay error: %s", res.Error.Message)
			}
			return nil, errors.New(errors.ErrCodeUnknown, "relay request failed")
		}
		return res.Payload, nil
	case <-ctx.Done():
		return nil, errors.Cancelled("relay request")
	case <-time.After(r.timeout):
		return nil, errors.Timeout("relay request")
	}
}

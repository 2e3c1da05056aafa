package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/smallnest/clawgate/config"
	"github.com/smallnest/clawgate/internal/logger"
)

// Conn is one client connection. All writes go through the connection's
// own mutex; events may be pushed from any goroutine.
type Conn struct {
	ID string

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool

	writeTimeout time.Duration
}

func (c *Conn) write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection %s closed", c.ID)
	}
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// SendResponse writes one response frame.
func (c *Conn) SendResponse(res *Response) error {
	return c.write(res)
}

// PushEvent writes one event frame. Safe from any goroutine.
func (c *Conn) PushEvent(name string, payload interface{}) error {
	return c.write(NewEvent(name, payload))
}

// Closed reports whether the connection has been torn down.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Server accepts WebSocket connections and pumps their request frames
// through a Handler.
type Server struct {
	cfg     config.GatewayConfig
	handler *Handler

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewServer creates a gateway server around a prepared handler.
func NewServer(cfg config.GatewayConfig, handler *Handler) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway binds to loopback by default; remote deployments
			// front it with their own origin policy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*Conn),
	}
}

// Start runs the HTTP listener until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWS)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Gateway listening",
			zap.String("addr", addr),
			zap.String("path", s.cfg.Path))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return fmt.Errorf("gateway listener: %w", err)
	}
}

// Shutdown stops the listener and closes every live connection.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	for _, c := range s.conns {
		c.markClosed()
		_ = c.ws.Close()
	}
	s.conns = make(map[string]*Conn)
	s.mu.Unlock()

	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// ConnCount reports the number of live connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	conn := &Conn{
		ID:           uuid.NewString(),
		ws:           ws,
		writeTimeout: s.cfg.WriteTimeout,
	}

	s.mu.Lock()
	s.conns[conn.ID] = conn
	s.mu.Unlock()

	logger.Info("Client connected",
		zap.String("conn", conn.ID),
		zap.String("remote", r.RemoteAddr))

	go s.pingLoop(conn)
	s.readLoop(conn)

	s.mu.Lock()
	delete(s.conns, conn.ID)
	s.mu.Unlock()
	conn.markClosed()
	_ = ws.Close()

	s.handler.ConnectionClosed(conn)
	logger.Info("Client disconnected", zap.String("conn", conn.ID))
}

// readLoop decodes request frames and dispatches them. Each request is
// handled on its own goroutine so a slow method never stalls the
// connection's intake.
func (s *Server) readLoop(conn *Conn) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Read failed", zap.String("conn", conn.ID), zap.Error(err))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Warn("Malformed frame dropped",
				zap.String("conn", conn.ID),
				zap.Error(err))
			continue
		}
		if req.Type != FrameRequest || req.Method == "" {
			continue
		}

		go func(req Request) {
			if res := s.handler.HandleRequest(conn, &req); res != nil {
				if err := conn.SendResponse(res); err != nil {
					logger.Warn("Response write failed",
						zap.String("conn", conn.ID),
						zap.String("method", req.Method),
						zap.Error(err))
				}
			}
		}(req)
	}
}

func (s *Server) pingLoop(conn *Conn) {
	interval := s.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		conn.mu.Lock()
		if conn.closed {
			conn.mu.Unlock()
			return
		}
		_ = conn.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := conn.ws.WriteMessage(websocket.PingMessage, nil)
		conn.mu.Unlock()
		if err != nil {
			return
		}
	}
}

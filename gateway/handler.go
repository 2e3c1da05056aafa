package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smallnest/clawgate/browser"
	"github.com/smallnest/clawgate/channels"
	"github.com/smallnest/clawgate/cron"
	"github.com/smallnest/clawgate/errors"
	"github.com/smallnest/clawgate/internal/logger"
	"github.com/smallnest/clawgate/queue"
	"github.com/smallnest/clawgate/session"
)

// Handler dispatches decoded request frames to method handlers.
type Handler struct {
	registry *MethodRegistry
	chat     *ChatService
	sessions *session.Directory
	cronSvc  *cron.Service
	channels *channels.Manager
	browser  browser.Controller

	started time.Time
}

// NewHandler creates the method dispatcher. cronSvc, channelMgr and
// browserCtl may be nil when the corresponding subsystem is disabled.
func NewHandler(chat *ChatService, sessions *session.Directory, cronSvc *cron.Service, channelMgr *channels.Manager, browserCtl browser.Controller) *Handler {
	h := &Handler{
		registry: NewMethodRegistry(),
		chat:     chat,
		sessions: sessions,
		cronSvc:  cronSvc,
		channels: channelMgr,
		browser:  browserCtl,
		started:  time.Now(),
	}

	h.registerSystemMethods()
	h.registerChatMethods()
	h.registerLaneMethods()
	h.registerCronMethods()
	h.registerChannelMethods()
	h.registerBrowserMethods()

	return h
}

// HandleRequest runs one request through the registry. A nil return
// means the handler already wrote its own response.
func (h *Handler) HandleRequest(c *Conn, req *Request) *Response {
	result, err := h.registry.Call(c, req)
	if err == ErrResponded {
		return nil
	}
	if err != nil {
		logger.Warn("Method failed",
			zap.String("method", req.Method),
			zap.String("conn", c.ID),
			zap.Error(err))
		return NewErrorResponse(req.ID, errors.GetUserMessage(err))
	}
	return NewSuccessResponse(req.ID, result)
}

// ConnectionClosed releases per-connection bookkeeping. In-flight runs
// started by the connection keep running; their events are dropped once
// the sink reports closed.
func (h *Handler) ConnectionClosed(c *Conn) {
	logger.Debug("Connection bookkeeping released", zap.String("conn", c.ID))
}

func (h *Handler) registerSystemMethods() {
	h.registry.Register("connect", func(c *Conn, req *Request) (interface{}, error) {
		return map[string]interface{}{"protocol": ProtocolVersion}, nil
	})

	h.registry.Register("health", func(c *Conn, req *Request) (interface{}, error) {
		return map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"protocol":  ProtocolVersion,
		}, nil
	})

	h.registry.Register("status", func(c *Conn, req *Request) (interface{}, error) {
		lanes := h.chat.Queue().Lanes()
		busy := 0
		for _, l := range lanes {
			if l.Current != nil {
				busy++
			}
		}
		return map[string]interface{}{
			"uptimeSeconds": int64(time.Since(h.started).Seconds()),
			"lanes":         len(lanes),
			"busyLanes":     busy,
			"sessions":      h.sessions.Len(),
			"methods":       h.registry.Methods(),
		}, nil
	})

	h.registry.Register("sessions.list", func(c *Conn, req *Request) (interface{}, error) {
		return map[string]interface{}{"sessions": h.sessions.Snapshot()}, nil
	})
}

func (h *Handler) registerChatMethods() {
	h.registry.Register("chat.send", func(c *Conn, req *Request) (interface{}, error) {
		var p SendRequest
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}

		// The {runId} response must reach the client before any delta
		// event, so the sink stays gated until the response is written.
		sink := newGatedSink(c)
		runID, err := h.chat.Submit(p, sink)
		if err != nil {
			return nil, err
		}

		res := NewSuccessResponse(req.ID, map[string]interface{}{"runId": runID})
		if err := c.SendResponse(res); err != nil {
			logger.Warn("chat.send response write failed",
				zap.String("conn", c.ID),
				zap.Error(err))
		}
		sink.release()
		return nil, ErrResponded
	})

	h.registry.Register("chat.abort", func(c *Conn, req *Request) (interface{}, error) {
		var p struct {
			SessionKey string `json:"sessionKey"`
		}
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if p.SessionKey == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "sessionKey is required")
		}
		aborted := h.chat.Abort(p.SessionKey)
		return map[string]interface{}{"aborted": aborted}, nil
	})
}

func (h *Handler) registerLaneMethods() {
	h.registry.Register("lane.status", func(c *Conn, req *Request) (interface{}, error) {
		var p struct {
			LaneID string `json:"laneId"`
		}
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if p.LaneID != "" {
			st := h.chat.Queue().Status(p.LaneID)
			return laneStatusPayload(st), nil
		}
		all := h.chat.Queue().Lanes()
		out := make([]map[string]interface{}, 0, len(all))
		for _, st := range all {
			out = append(out, laneStatusPayload(st))
		}
		return map[string]interface{}{"lanes": out}, nil
	})

	h.registry.Register("lane.clear", func(c *Conn, req *Request) (interface{}, error) {
		var p struct {
			LaneID      string `json:"laneId"`
			PendingOnly bool   `json:"pendingOnly"`
		}
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if p.LaneID == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "laneId is required")
		}
		if p.PendingOnly {
			n := h.chat.Queue().ClearPending(p.LaneID)
			return map[string]interface{}{"cleared": n}, nil
		}
		h.chat.Queue().ClearAll(p.LaneID)
		return map[string]interface{}{}, nil
	})
}

func laneStatusPayload(st queue.LaneStatus) map[string]interface{} {
	out := map[string]interface{}{
		"laneId":  st.LaneID,
		"pending": len(st.Pending),
		"total":   st.Total,
	}
	if st.Current != nil {
		out["activeItem"] = st.Current.ID
	}
	return out
}

func (h *Handler) registerCronMethods() {
	h.registry.Register("cron.list", func(c *Conn, req *Request) (interface{}, error) {
		if h.cronSvc == nil {
			return nil, errors.New(errors.ErrCodeUnavailable, "scheduler disabled")
		}
		return map[string]interface{}{"jobs": h.cronSvc.List()}, nil
	})

	h.registry.Register("cron.status", func(c *Conn, req *Request) (interface{}, error) {
		if h.cronSvc == nil {
			return nil, errors.New(errors.ErrCodeUnavailable, "scheduler disabled")
		}
		return h.cronSvc.Status(), nil
	})

	h.registry.Register("cron.add", func(c *Conn, req *Request) (interface{}, error) {
		if h.cronSvc == nil {
			return nil, errors.New(errors.ErrCodeUnavailable, "scheduler disabled")
		}
		var job cron.Job
		if err := decodeParams(req, &job); err != nil {
			return nil, err
		}
		added, err := h.cronSvc.Add(&job)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"job": added}, nil
	})

	h.registry.Register("cron.update", func(c *Conn, req *Request) (interface{}, error) {
		if h.cronSvc == nil {
			return nil, errors.New(errors.ErrCodeUnavailable, "scheduler disabled")
		}
		var p struct {
			ID       string         `json:"id"`
			Name     *string        `json:"name,omitempty"`
			Schedule *cron.Schedule `json:"schedule,omitempty"`
			Payload  *cron.Payload  `json:"payload,omitempty"`
			Delivery *cron.Delivery `json:"delivery,omitempty"`
		}
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "id is required")
		}
		updated, err := h.cronSvc.Update(p.ID, func(job *cron.Job) error {
			if p.Name != nil {
				job.Name = *p.Name
			}
			if p.Schedule != nil {
				job.Schedule = *p.Schedule
			}
			if p.Payload != nil {
				job.Payload = *p.Payload
			}
			if p.Delivery != nil {
				job.Delivery = p.Delivery
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"job": updated}, nil
	})

	h.registry.Register("cron.remove", func(c *Conn, req *Request) (interface{}, error) {
		if h.cronSvc == nil {
			return nil, errors.New(errors.ErrCodeUnavailable, "scheduler disabled")
		}
		var p struct {
			ID string `json:"id"`
		}
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if err := h.cronSvc.Remove(p.ID); err != nil {
			return nil, err
		}
		return map[string]interface{}{}, nil
	})

	h.registry.Register("cron.enable", func(c *Conn, req *Request) (interface{}, error) {
		if h.cronSvc == nil {
			return nil, errors.New(errors.ErrCodeUnavailable, "scheduler disabled")
		}
		var p struct {
			ID      string `json:"id"`
			Enabled bool   `json:"enabled"`
		}
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if err := h.cronSvc.SetEnabled(p.ID, p.Enabled); err != nil {
			return nil, err
		}
		return map[string]interface{}{}, nil
	})

	h.registry.Register("cron.run", func(c *Conn, req *Request) (interface{}, error) {
		if h.cronSvc == nil {
			return nil, errors.New(errors.ErrCodeUnavailable, "scheduler disabled")
		}
		var p struct {
			ID string `json:"id"`
		}
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if err := h.cronSvc.RunNow(p.ID); err != nil {
			return nil, err
		}
		return map[string]interface{}{}, nil
	})

	h.registry.Register("cron.runs", func(c *Conn, req *Request) (interface{}, error) {
		if h.cronSvc == nil {
			return nil, errors.New(errors.ErrCodeUnavailable, "scheduler disabled")
		}
		var p struct {
			ID    string `json:"id"`
			Limit int    `json:"limit"`
		}
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		runs, err := h.cronSvc.RecentRuns(p.ID, p.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"runs": runs}, nil
	})
}

func (h *Handler) registerChannelMethods() {
	h.registry.Register("channels.list", func(c *Conn, req *Request) (interface{}, error) {
		if h.channels == nil {
			return map[string]interface{}{"channels": []interface{}{}}, nil
		}
		return map[string]interface{}{"channels": h.channels.List()}, nil
	})

	h.registry.Register("send", func(c *Conn, req *Request) (interface{}, error) {
		if h.channels == nil {
			return nil, errors.New(errors.ErrCodeUnavailable, "no channels configured")
		}
		var p struct {
			Channel string `json:"channel"`
			Target  string `json:"target"`
			Message string `json:"message"`
		}
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if p.Message == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "message is required")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.channels.Send(ctx, p.Channel, p.Target, p.Message); err != nil {
			return nil, err
		}
		return map[string]interface{}{}, nil
	})
}

func (h *Handler) registerBrowserMethods() {
	h.registry.Register("browser.request", func(c *Conn, req *Request) (interface{}, error) {
		if h.browser == nil {
			return nil, errors.New(errors.ErrCodeBrowserNotReady, "browser control disabled")
		}
		var p struct {
			Method string                 `json:"method"`
			Params map[string]interface{} `json:"params"`
		}
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if p.Method == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "method is required")
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		return h.browser.Request(ctx, p.Method, p.Params)
	})
}

// gatedSink delays event delivery until the originating request's
// response frame is on the wire.
type gatedSink struct {
	conn  *Conn
	ready chan struct{}
	once  sync.Once
}

func newGatedSink(c *Conn) *gatedSink {
	return &gatedSink{conn: c, ready: make(chan struct{})}
}

func (g *gatedSink) PushEvent(name string, payload interface{}) error {
	<-g.ready
	return g.conn.PushEvent(name, payload)
}

func (g *gatedSink) Closed() bool {
	return g.conn.Closed()
}

func (g *gatedSink) release() {
	g.once.Do(func() { close(g.ready) })
}

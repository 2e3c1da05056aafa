package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/input"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
	"go.uber.org/zap"

	"github.com/smallnest/clawgate/config"
	"github.com/smallnest/clawgate/errors"
	"github.com/smallnest/clawgate/internal/logger"
)

// CDPController drives a Chrome instance over the DevTools Protocol.
type CDPController struct {
	mu     sync.Mutex
	conn   *rpcc.Conn
	client *cdp.Client
	ready  bool
}

// NewCDPController attaches to a running Chrome devtools endpoint and
// enables the domains the capability methods need.
func NewCDPController(ctx context.Context, cfg config.BrowserConfig) (*CDPController, error) {
	url := cfg.DevToolsURL
	if url == "" {
		url = "http://127.0.0.1:9222"
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	devt := devtool.New(url)
	pt, err := devt.Get(dialCtx, devtool.Page)
	if err != nil {
		pt, err = devt.Create(dialCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to open devtools page: %w", err)
		}
	}

	conn, err := rpcc.DialContext(dialCtx, pt.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial devtools websocket: %w", err)
	}

	client := cdp.NewClient(conn)
	if err := client.Page.Enable(dialCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable Page domain: %w", err)
	}
	if err := client.Runtime.Enable(dialCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable Runtime domain: %w", err)
	}
	if err := client.Network.Enable(dialCtx, network.NewEnableArgs()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable Network domain: %w", err)
	}

	logger.Info("Browser attached", zap.String("devtools", url))
	return &CDPController{conn: conn, client: client, ready: true}, nil
}

// Ready reports whether the devtools connection is live.
func (c *CDPController) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Close tears down the devtools connection.
func (c *CDPController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Request dispatches one capability method.
func (c *CDPController) Request(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	if !c.Ready() {
		return nil, errors.New(errors.ErrCodeBrowserNotReady, "browser connection lost")
	}

	switch method {
	case MethodNavigate:
		return c.navigate(ctx, stringParam(params, "url"))
	case MethodClick:
		return c.click(ctx, floatParam(params, "x"), floatParam(params, "y"))
	case MethodType:
		return c.typeText(ctx, stringParam(params, "text"))
	case MethodScreenshot:
		return c.screenshot(ctx)
	case MethodEvaluate:
		return c.evaluate(ctx, stringParam(params, "expression"))
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "unsupported browser method: %s", method)
	}
}

func (c *CDPController) navigate(ctx context.Context, url string) (map[string]interface{}, error) {
	if url == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "url is required")
	}

	loaded, err := c.client.Page.LoadEventFired(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to load event: %w", err)
	}
	defer loaded.Close()

	reply, err := c.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return nil, fmt.Errorf("navigate failed: %w", err)
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return nil, errors.Newf(errors.ErrCodeUnknown, "navigation error: %s", *reply.ErrorText)
	}

	if _, err := loaded.Recv(); err != nil {
		logger.Debug("Load event not observed", zap.Error(err))
	}

	return map[string]interface{}{"frameId": string(reply.FrameID)}, nil
}

func (c *CDPController) click(ctx context.Context, x, y float64) (map[string]interface{}, error) {
	press := input.NewDispatchMouseEventArgs("mousePressed", x, y).
		SetButton("left").
		SetClickCount(1)
	if err := c.client.Input.DispatchMouseEvent(ctx, press); err != nil {
		return nil, fmt.Errorf("mouse press failed: %w", err)
	}
	release := input.NewDispatchMouseEventArgs("mouseReleased", x, y).
		SetButton("left").
		SetClickCount(1)
	if err := c.client.Input.DispatchMouseEvent(ctx, release); err != nil {
		return nil, fmt.Errorf("mouse release failed: %w", err)
	}
	return map[string]interface{}{}, nil
}

func (c *CDPController) typeText(ctx context.Context, text string) (map[string]interface{}, error) {
	if text == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "text is required")
	}
	if err := c.client.Input.InsertText(ctx, input.NewInsertTextArgs(text)); err != nil {
		return nil, fmt.Errorf("insert text failed: %w", err)
	}
	return map[string]interface{}{}, nil
}

func (c *CDPController) screenshot(ctx context.Context) (map[string]interface{}, error) {
	reply, err := c.client.Page.CaptureScreenshot(ctx, page.NewCaptureScreenshotArgs().SetFormat("png"))
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return map[string]interface{}{
		"format": "png",
		"data":   base64.StdEncoding.EncodeToString(reply.Data),
	}, nil
}

func (c *CDPController) evaluate(ctx context.Context, expression string) (map[string]interface{}, error) {
	if expression == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "expression is required")
	}

	args := runtime.NewEvaluateArgs(expression).SetReturnByValue(true).SetAwaitPromise(true)
	reply, err := c.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	if reply.ExceptionDetails != nil {
		return nil, errors.Newf(errors.ErrCodeUnknown, "script exception: %s", reply.ExceptionDetails.Text)
	}

	var value interface{}
	if len(reply.Result.Value) > 0 {
		if err := json.Unmarshal(reply.Result.Value, &value); err != nil {
			value = string(reply.Result.Value)
		}
	}
	return map[string]interface{}{"value": value}, nil
}

func stringParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	s, _ := params[key].(string)
	return s
}

func floatParam(params map[string]interface{}, key string) float64 {
	if params == nil {
		return 0
	}
	f, _ := params[key].(float64)
	return f
}

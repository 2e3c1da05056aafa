package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/readline"
	"github.com/gorilla/websocket"
	"github.com/smallnest/clawgate/config"
	"github.com/smallnest/clawgate/gateway"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat through a running gateway",
	Run:   runChat,
}

var (
	chatSessionKey string
	chatServerURL  string
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSessionKey, "session", "cli", "Session key for conversation continuity")
	chatCmd.Flags().StringVar(&chatServerURL, "server", "", "Gateway WebSocket URL (defaults to config)")
}

// gatewayClient is a thin duplex client over one WebSocket connection.
// Responses are correlated to requests by id; chat events fan in
// through a channel the prompt loop drains.
type gatewayClient struct {
	conn *websocket.Conn

	mu      sync.Mutex
	nextID  int
	pending map[string]chan gjson.Result

	chatEvents chan gateway.ChatEvent
	closed     chan struct{}
}

func dialGateway(url string) (*gatewayClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	c := &gatewayClient{
		conn:       conn,
		pending:    make(map[string]chan gjson.Result),
		chatEvents: make(chan gateway.ChatEvent, 64),
		closed:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *gatewayClient) Close() {
	_ = c.conn.Close()
}

func (c *gatewayClient) readLoop() {
	defer close(c.closed)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		frame := gjson.ParseBytes(data)
		switch frame.Get("type").String() {
		case gateway.FrameResponse:
			c.mu.Lock()
			ch, ok := c.pending[frame.Get("id").String()]
			if ok {
				delete(c.pending, frame.Get("id").String())
			}
			c.mu.Unlock()
			if ok {
				ch <- frame
			}
		case gateway.FrameEvent:
			if frame.Get("event").String() != "chat" {
				continue
			}
			var ev gateway.ChatEvent
			if err := json.Unmarshal([]byte(frame.Get("payload").Raw), &ev); err != nil {
				continue
			}
			select {
			case c.chatEvents <- ev:
			default:
			}
		}
	}
}

// call sends one request and waits for its response frame.
func (c *gatewayClient) call(method string, params interface{}) (gjson.Result, error) {
	c.mu.Lock()
	c.nextID++
	id := strconv.Itoa(c.nextID)
	ch := make(chan gjson.Result, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := gateway.Request{Type: gateway.FrameRequest, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return gjson.Result{}, err
		}
		req.Params = raw
	}

	if err := c.conn.WriteJSON(&req); err != nil {
		return gjson.Result{}, err
	}

	select {
	case frame := <-ch:
		if !frame.Get("ok").Bool() {
			return frame, fmt.Errorf("%s", frame.Get("error.message").String())
		}
		return frame, nil
	case <-c.closed:
		return gjson.Result{}, fmt.Errorf("connection closed")
	case <-time.After(30 * time.Second):
		return gjson.Result{}, fmt.Errorf("request %s timed out", method)
	}
}

func runChat(cmd *cobra.Command, args []string) {
	url := chatServerURL
	if url == "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		url = config.GatewayURL(cfg)
	}

	client, err := dialGateway(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to %s: %v\n", url, err)
		fmt.Fprintln(os.Stderr, "Is the gateway running? Start it with: clawgate start")
		os.Exit(1)
	}
	defer client.Close()

	frame, err := client.call("connect", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Handshake failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Connected to %s (protocol %d, session %q)\n",
		url, frame.Get("payload.protocol").Int(), chatSessionKey)
	fmt.Println(`Type a message and press enter. Commands: /abort, /quit`)

	rl, err := readline.New("> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize input: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return
		case "/abort":
			if _, err := client.call("chat.abort", map[string]string{"sessionKey": chatSessionKey}); err != nil {
				fmt.Fprintf(os.Stderr, "abort: %v\n", err)
			}
			continue
		}

		if err := sendAndStream(client, line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

// sendAndStream submits one message and prints events until the run's
// terminal event arrives.
func sendAndStream(client *gatewayClient, message string) error {
	frame, err := client.call("chat.send", map[string]interface{}{
		"sessionKey": chatSessionKey,
		"message":    message,
	})
	if err != nil {
		return err
	}
	runID := frame.Get("payload.runId").String()

	for {
		select {
		case ev := <-client.chatEvents:
			if ev.RunID != runID {
				continue
			}
			switch ev.State {
			case gateway.StateDelta:
				fmt.Print(ev.Message)
			case gateway.StateFinal:
				fmt.Println()
				return nil
			case gateway.StateAborted:
				fmt.Println("\n[aborted]")
				return nil
			case gateway.StateError:
				fmt.Println()
				return fmt.Errorf("%s", ev.ErrorMessage)
			}
		case <-client.closed:
			return fmt.Errorf("connection closed")
		}
	}
}

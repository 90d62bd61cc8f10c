package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
)

const defaultCallTimeout = 20 * time.Second

// Config identifies one gateway connection.
type Config struct {
	URL         string
	Token       string
	CallTimeout time.Duration
}

// Caller is the minimal surface consumed by the provisioner, template
// sync engine, and coordinator. result may be nil when the payload is
// irrelevant.
type Caller interface {
	Call(ctx context.Context, method string, params, result interface{}) error
}

// Client is a persistent websocket JSON-RPC client. It dials lazily on
// first call and re-dials after the connection drops. Safe for
// concurrent use.
type Client struct {
	cfg Config
	log *logger.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	pending     map[string]chan *ResponseFrame
	connVersion string

	writeMu sync.Mutex
	onEvent func(*EventFrame)
}

// NewClient builds a client; no I/O happens until the first Call.
func NewClient(cfg Config, log *logger.Logger) *Client {
	return &Client{
		cfg:     cfg,
		log:     log.WithFields(zap.String("component", "gateway-rpc")),
		pending: make(map[string]chan *ResponseFrame),
	}
}

// SetEventHandler registers a handler for unsolicited gateway events.
func (c *Client) SetEventHandler(handler func(*EventFrame)) {
	c.onEvent = handler
}

// Call invokes method and decodes the response payload into result.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	timeout := c.cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return err
	}

	var paramsJSON json.RawMessage
	if params != nil {
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params for %s: %w", method, err)
		}
	}

	id := uuid.NewString()
	respCh := make(chan *ResponseFrame, 1)
	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame := &RequestFrame{Type: FrameTypeRequest, ID: id, Method: method, Params: paramsJSON}
	if err := c.writeFrame(conn, frame); err != nil {
		c.dropConn(conn)
		return &TransportError{Op: method, Err: err}
	}

	select {
	case resp := <-respCh:
		if resp == nil {
			return &TransportError{Op: method, Err: fmt.Errorf("connection closed")}
		}
		if !resp.OK {
			methodErr := &MethodError{Method: method, Message: "request rejected"}
			if resp.Error != nil {
				methodErr.Code = resp.Error.Code
				methodErr.Message = resp.Error.Message
			}
			return methodErr
		}
		if result != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, result); err != nil {
				return fmt.Errorf("decode %s payload: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return &TransportError{Op: method, Err: ctx.Err()}
	}
}

// Close shuts the connection and fails outstanding calls.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	wsURL, err := normalizeWebsocketURL(c.cfg.URL)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	c.mu.Lock()
	if c.conn != nil {
		// Another caller won the race.
		existing := c.conn
		c.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.handshake(ctx, conn); err != nil {
		c.dropConn(conn)
		return nil, err
	}
	return conn, nil
}

// handshake authenticates the channel with the connect method.
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	params := map[string]interface{}{"client": "mission-control"}
	if c.cfg.Token != "" {
		params["token"] = c.cfg.Token
	}
	paramsJSON, _ := json.Marshal(params)

	id := uuid.NewString()
	respCh := make(chan *ResponseFrame, 1)
	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame := &RequestFrame{Type: FrameTypeRequest, ID: id, Method: MethodConnect, Params: paramsJSON}
	if err := c.writeFrame(conn, frame); err != nil {
		return &TransportError{Op: MethodConnect, Err: err}
	}

	select {
	case resp := <-respCh:
		if resp == nil {
			return &TransportError{Op: MethodConnect, Err: fmt.Errorf("connection closed")}
		}
		if !resp.OK {
			msg := "connect rejected"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return &MethodError{Method: MethodConnect, Message: msg}
		}
		c.rememberConnectVersion(resp.Payload)
		return nil
	case <-ctx.Done():
		return &TransportError{Op: MethodConnect, Err: ctx.Err()}
	}
}

// rememberConnectVersion keeps the version some gateways only report in
// their connect metadata, so the compatibility probe can use it.
func (c *Client) rememberConnectVersion(payload json.RawMessage) {
	if len(payload) == 0 {
		return
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return
	}
	if version, ok := findVersion(parsed); ok {
		c.mu.Lock()
		c.connVersion = version
		c.mu.Unlock()
	}
}

// ConnectVersion returns the version reported during the connect
// handshake, or empty when the gateway did not include one.
func (c *Client) ConnectVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connVersion
}

func (c *Client) writeFrame(conn *websocket.Conn, frame interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.log.Debug("gateway read loop ended", zap.Error(err))
			c.dropConn(conn)
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			c.log.Warn("unparseable gateway frame", zap.Error(err))
			continue
		}

		switch head.Type {
		case FrameTypeResponse:
			var resp ResponseFrame
			if err := json.Unmarshal(raw, &resp); err != nil {
				c.log.Warn("malformed response frame", zap.Error(err))
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			c.mu.Unlock()
			if ok {
				ch <- &resp
			}
		case FrameTypeEvent:
			if c.onEvent != nil {
				var event EventFrame
				if err := json.Unmarshal(raw, &event); err == nil {
					c.onEvent(&event)
				}
			}
		}
	}
}

// dropConn closes conn, clears it if still current, and fails callers
// that were waiting on it.
func (c *Client) dropConn(conn *websocket.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	for id, ch := range c.pending {
		select {
		case ch <- nil:
		default:
		}
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// normalizeWebsocketURL maps http(s) schemes onto ws(s) and defaults the
// path to /ws.
func normalizeWebsocketURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("gateway url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "":
		u, err = url.Parse("ws://" + raw)
		if err != nil {
			return "", fmt.Errorf("invalid gateway url %q: %w", raw, err)
		}
	default:
		return "", fmt.Errorf("unsupported gateway url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

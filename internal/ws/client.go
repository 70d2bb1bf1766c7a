package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"giglink/internal/session"

	"github.com/gorilla/websocket"
)

// Publish destinations and per-user topic patterns. Routing is server-side:
// the per-user topics only ever carry events addressed to the subscriber.
const (
	DestinationChat   = "/app/chat"
	DestinationTyping = "/app/typing"
)

func MessageTopic(username string) string {
	return fmt.Sprintf("/user/%s/queue/messages", username)
}

func TypingTopic(username string) string {
	return fmt.Sprintf("/user/%s/queue/typing", username)
}

func NotificationTopic(username string) string {
	return fmt.Sprintf("/user/%s/queue/notifications", username)
}

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type wsConn interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// dialFunc abstracts the gorilla dialer for tests.
type dialFunc func(ctx context.Context, url string, header http.Header) (wsConn, error)

func gorillaDial(ctx context.Context, u string, header http.Header) (wsConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Frame is the logical frame multiplexed over the single socket.
type Frame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameSend        = "send"
	frameMessage     = "message"
)

type Config struct {
	URL            string
	Session        *session.Store
	ReconnectDelay time.Duration
}

// Client owns the single realtime connection for a session. Subscriptions
// are named handles keyed by topic; they survive reconnects and are
// re-issued on every successful connect, since a fresh connection has none.
type Client struct {
	url            string
	session        *session.Store
	reconnectDelay time.Duration
	dial           dialFunc

	mu     sync.Mutex
	state  State
	conn   wsConn
	subs   map[string]*subscription
	closed bool

	// Serializes frame writes: the underlying conn allows one writer at a time.
	wmu sync.Mutex
}

func (c *Client) writeFrame(conn wsConn, f Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteJSON(f)
}

func NewClient(cfg Config) *Client {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Client{
		url:            cfg.URL,
		session:        cfg.Session,
		reconnectDelay: delay,
		dial:           gorillaDial,
		subs:           make(map[string]*subscription),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run drives the connection until ctx is cancelled or Disconnect is called.
// Reconnection uses a fixed delay, not backoff. There is never more than one
// live connection: a new dial only starts after the previous one is torn down.
func (c *Client) Run(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil
		}
		c.state = Connecting
		c.mu.Unlock()

		conn, err := c.connect(ctx)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return nil
			}
			slog.Warn("realtime connect failed", "error", err)
			if !c.wait(ctx) {
				return ctx.Err()
			}
			continue
		}

		// A blocked read only returns when the conn closes, so close it as
		// soon as ctx ends.
		readDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-readDone:
			}
		}()

		err = c.readLoop(ctx, conn)
		close(readDone)

		c.mu.Lock()
		c.state = Disconnected
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		_ = conn.Close()

		if closed {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		slog.Info("realtime connection lost, reconnecting", "error", err, "delay", c.reconnectDelay)
		if !c.wait(ctx) {
			return nil
		}
	}
}

func (c *Client) wait(ctx context.Context) bool {
	select {
	case <-time.After(c.reconnectDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) connect(ctx context.Context) (wsConn, error) {
	token := c.session.Token()
	if token == "" {
		return nil, errors.New("no access token")
	}

	// The token goes both into the connect header and the URL: depending on
	// the transport fallback in use, headers may not be available during
	// the initial handshake.
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, err := c.dial(ctx, u.String(), header)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		// Disconnect won the race against this dial; nothing else will ever
		// see this conn, so it must be closed here.
		c.mu.Unlock()
		_ = conn.Close()
		return nil, errors.New("client closed")
	}
	c.conn = conn
	c.state = Connected
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	// Re-establish every registered subscription on the fresh connection.
	for _, sub := range subs {
		if err := c.writeFrame(conn, sub.frame()); err != nil {
			c.mu.Lock()
			c.conn = nil
			c.state = Disconnected
			c.mu.Unlock()
			_ = conn.Close()
			return nil, fmt.Errorf("subscribing %s: %w", sub.destination, err)
		}
	}

	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn wsConn) error {
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.Type != frameMessage {
			continue
		}

		c.mu.Lock()
		sub, ok := c.subs[frame.Destination]
		c.mu.Unlock()
		if !ok {
			// Not a topic we subscribed to: do not trust it.
			slog.Warn("frame for unknown destination dropped", "destination", frame.Destination)
			continue
		}
		sub.handler(frame.Body)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

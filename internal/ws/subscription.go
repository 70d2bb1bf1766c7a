package ws

import (
	"encoding/json"
	"log/slog"

	"giglink/internal/models"

	"github.com/google/uuid"
)

// subscription is a named handle on a logical topic. It exists independently
// of any live connection; the client replays it on every connect.
type subscription struct {
	id          string
	destination string
	handler     func(body json.RawMessage)
}

func (s *subscription) frame() Frame {
	return Frame{Type: frameSubscribe, ID: s.id, Destination: s.destination}
}

// Subscribe registers a handler for a topic. If the connection is live the
// subscribe frame goes out immediately, otherwise it is sent on the next
// (re)connect. Re-subscribing a topic replaces its handler.
func (c *Client) Subscribe(destination string, handler func(body json.RawMessage)) {
	sub := &subscription{
		id:          uuid.NewString(),
		destination: destination,
		handler:     handler,
	}

	c.mu.Lock()
	c.subs[destination] = sub
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if connected {
		if err := c.writeFrame(conn, sub.frame()); err != nil {
			slog.Warn("subscribe frame failed", "destination", destination, "error", err)
		}
	}
}

// Unsubscribe removes the topic handle and, when connected, tells the server.
func (c *Client) Unsubscribe(destination string) {
	c.mu.Lock()
	sub, ok := c.subs[destination]
	if ok {
		delete(c.subs, destination)
	}
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if !ok || !connected {
		return
	}
	frame := Frame{Type: frameUnsubscribe, ID: sub.id, Destination: destination}
	if err := c.writeFrame(conn, frame); err != nil {
		slog.Warn("unsubscribe frame failed", "destination", destination, "error", err)
	}
}

// Send publishes a chat message. Delivery is at-most-once: when the
// connection is down the payload is dropped with a warning, never queued.
func (c *Client) Send(msg models.Message) {
	c.publish(DestinationChat, msg)
}

// SendTyping publishes a typing-presence event, same fire-and-forget
// semantics as Send.
func (c *Client) SendTyping(ev models.TypingEvent) {
	c.publish(DestinationTyping, ev)
}

func (c *Client) publish(destination string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding publish payload", "destination", destination, "error", err)
		return
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected {
		slog.Warn("publish dropped, not connected", "destination", destination)
		return
	}

	frame := Frame{Type: frameSend, Destination: destination, Body: body}
	if err := c.writeFrame(conn, frame); err != nil {
		slog.Warn("publish failed", "destination", destination, "error", err)
	}
}

// Disconnect unsubscribes all topics, closes the socket and stops the Run
// loop. It is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	connected := c.state == Connected
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.state = Disconnected
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if connected {
		for _, sub := range subs {
			_ = c.writeFrame(conn, Frame{Type: frameUnsubscribe, ID: sub.id, Destination: sub.destination})
		}
	}
	_ = conn.Close()
}

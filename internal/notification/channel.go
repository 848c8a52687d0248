package notification

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/multierr"

	"github.com/solatis/tracenotify/internal/condition"
	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

// Endpoint names the daemon's notification sockets. The global socket is
// tried first; UserSocket is the per-user fallback.
type Endpoint struct {
	GlobalSocket string
	UserSocket   string
}

// Channel is a client connection to the daemon's notification socket.
// Commands and reads are serialized; a Channel may be shared between
// goroutines but calls block each other.
type Channel struct {
	conn    net.Conn
	maxSize int

	mu      sync.Mutex
	pending []Message
	closed  bool
}

// Dial connects to the endpoint's global socket, falling back to the user
// socket.
func Dial(ctx context.Context, ep Endpoint) (*Channel, error) {
	var (
		d    net.Dialer
		errs error
	)
	for _, path := range []string{ep.GlobalSocket, ep.UserSocket} {
		if path == "" {
			continue
		}
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			return NewChannel(conn), nil
		}
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if errs == nil {
		return nil, fmt.Errorf("dial notification channel: %w: no socket configured", types.ErrInvalid)
	}
	return nil, fmt.Errorf("dial notification channel: %w", errs)
}

// NewChannel wraps an established connection.
func NewChannel(conn net.Conn) *Channel {
	return &Channel{conn: conn, maxSize: types.MaxMessageSize}
}

// Subscribe asks the daemon for notifications about cond. Invalid
// conditions fail with ErrInvalid before anything is sent.
func (c *Channel) Subscribe(cond condition.Condition) error {
	return c.command(MessageSubscribe, cond)
}

// Unsubscribe cancels a subscription made with an equal condition.
func (c *Channel) Unsubscribe(cond condition.Condition) error {
	return c.command(MessageUnsubscribe, cond)
}

func (c *Channel) command(t MessageType, cond condition.Condition) error {
	p := payload.New()
	if err := condition.Serialize(cond, p); err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.ErrClosed
	}

	if err := WriteMessage(c.conn, t, p.Bytes()); err != nil {
		return err
	}

	for {
		m, err := ReadMessage(c.conn, c.maxSize)
		if err != nil {
			return fmt.Errorf("%s reply: %w", t, err)
		}
		switch m.Type {
		case MessageCommandReply:
			s, err := decodeReply(m.Payload)
			if err != nil {
				return err
			}
			if err := s.Err(); err != nil {
				return fmt.Errorf("%s: %w", t, err)
			}
			return nil
		case MessageNotification, MessageNotificationDropped:
			c.pending = append(c.pending, m)
		default:
			return fmt.Errorf("%s reply: %w: unexpected %s message", t, types.ErrCorrupt, m.Type)
		}
	}
}

// NextNotification blocks until the daemon sends a notification. It
// returns ErrNotificationsDropped when the daemon reports lost
// notifications; the channel remains usable and later calls continue with
// the next notification. types.ErrClosed means the daemon went away. Any
// other error is terminal.
func (c *Channel) NextNotification() (*Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, types.ErrClosed
	}

	var m Message
	if len(c.pending) > 0 {
		m = c.pending[0]
		c.pending = c.pending[1:]
	} else {
		var err error
		if m, err = ReadMessage(c.conn, c.maxSize); err != nil {
			return nil, err
		}
	}

	switch m.Type {
	case MessageNotification:
		n, used, err := Deserialize(payload.FromBytes(m.Payload, 0, -1))
		if err != nil {
			return nil, err
		}
		if used != len(m.Payload) {
			return nil, fmt.Errorf("%w: notification message of %d bytes holds %d",
				types.ErrCorrupt, len(m.Payload), used)
		}
		return n, nil
	case MessageNotificationDropped:
		return nil, ErrNotificationsDropped
	default:
		return nil, fmt.Errorf("%w: unexpected %s message", types.ErrCorrupt, m.Type)
	}
}

// Close closes the connection. A NextNotification blocked in another
// goroutine returns with an error.
func (c *Channel) Close() error {
	err := c.conn.Close()
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	c.mu.Unlock()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

package control

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/trigger"
	"github.com/solatis/tracenotify/internal/types"
)

// Client issues control commands over one connection. Calls are
// serialized.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	maxSize int
}

// Dial connects to the daemon's control socket.
func Dial(ctx context.Context, path string) (*Client, error) {
	if path == "" {
		return nil, fmt.Errorf("dial control socket: %w: no socket configured", types.ErrInvalid)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial control socket: %w", err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, maxSize: types.MaxMessageSize}
}

// RegisterTrigger registers t and returns the name the daemon assigned,
// which is also recorded on t.
func (c *Client) RegisterTrigger(t *trigger.Trigger) (string, error) {
	p := payload.New()
	if err := trigger.Serialize(t, p); err != nil {
		return "", err
	}
	reply, err := c.call(CommandRegisterTrigger, p.Bytes())
	if err != nil {
		return "", err
	}

	got, n, err := trigger.Deserialize(payload.FromBytes(reply, 0, -1))
	if err != nil {
		return "", fmt.Errorf("register trigger reply: %w", err)
	}
	defer got.Put()
	if n != len(reply) {
		return "", fmt.Errorf("register trigger reply: %w: %d trailing bytes", types.ErrCorrupt, len(reply)-n)
	}
	name, err := got.Name()
	if err != nil {
		return "", fmt.Errorf("register trigger reply: %w: unnamed trigger", types.ErrCorrupt)
	}
	if err := t.SetName(name); err != nil {
		return "", err
	}
	return name, nil
}

// UnregisterTrigger removes the trigger carrying t's name.
func (c *Client) UnregisterTrigger(t *trigger.Trigger) error {
	p := payload.New()
	if err := trigger.Serialize(t, p); err != nil {
		return err
	}
	_, err := c.call(CommandUnregisterTrigger, p.Bytes())
	return err
}

// ListTriggers returns the triggers visible to the caller. The caller must
// Release the collection.
func (c *Client) ListTriggers() (*trigger.Collection, error) {
	reply, err := c.call(CommandListTriggers, nil)
	if err != nil {
		return nil, err
	}
	col, n, err := trigger.DeserializeCollection(payload.FromBytes(reply, 0, -1))
	if err != nil {
		return nil, fmt.Errorf("list triggers reply: %w", err)
	}
	if n != len(reply) {
		col.Release()
		return nil, fmt.Errorf("list triggers reply: %w: %d trailing bytes", types.ErrCorrupt, len(reply)-n)
	}
	return col, nil
}

func (c *Client) call(cmd Command, body []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Write(frame(byte(cmd), body)); err != nil {
		return nil, fmt.Errorf("send %s: %w", cmd, err)
	}
	tag, reply, err := readFrame(c.conn, c.maxSize)
	if err != nil {
		return nil, fmt.Errorf("%s reply: %w", cmd, err)
	}
	if err := Status(int8(tag)).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	return reply, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

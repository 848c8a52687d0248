package notification

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/tracenotify/internal/condition"
	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

// DefaultQueueDepth is the per-client outbound queue length used when the
// configuration does not set one.
const DefaultQueueDepth = 128

// CredentialsFunc returns the credentials of the process on the other end
// of conn.
type CredentialsFunc func(conn net.Conn) (types.Credentials, error)

// DispatcherConfig tunes a Dispatcher. Zero values select defaults.
type DispatcherConfig struct {
	QueueDepth     int
	MaxMessageSize int
	Credentials    CredentialsFunc
	Logger         *log.Entry
}

// Dispatcher is the daemon side of the notification channel. It accepts
// clients, records their subscriptions and fans notifications out to them.
type Dispatcher struct {
	cfg DispatcherConfig

	mu      sync.RWMutex
	clients map[*client]struct{}
	subs    map[string]map[*client]struct{}
	nextID  uint64
}

type client struct {
	id      uint64
	conn    net.Conn
	creds   types.Credentials
	log     *log.Entry
	subs    map[string]struct{}
	queue   chan []byte
	replies chan []byte
	wake    chan struct{}
	dropped atomic.Bool
}

// NewDispatcher returns a dispatcher with no clients.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = types.MaxMessageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewEntry(log.StandardLogger())
	}
	return &Dispatcher{
		cfg:     cfg,
		clients: make(map[*client]struct{}),
		subs:    make(map[string]map[*client]struct{}),
	}
}

// Serve accepts clients on ln until ctx is cancelled, then closes ln and
// every client connection and waits for their goroutines.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		err := ln.Close()
		d.closeAll()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("accept notification client: %w", err)
			}
			g.Go(func() error {
				d.serveClient(gctx, conn)
				return nil
			})
		}
	})

	return g.Wait()
}

// ServeConn runs the protocol on an established connection until it closes
// or ctx is cancelled.
func (d *Dispatcher) ServeConn(ctx context.Context, conn net.Conn) {
	d.serveClient(ctx, conn)
}

func (d *Dispatcher) serveClient(ctx context.Context, conn net.Conn) {
	var creds types.Credentials
	if d.cfg.Credentials != nil {
		var err error
		if creds, err = d.cfg.Credentials(conn); err != nil {
			d.cfg.Logger.WithError(err).Warn("rejecting notification client without credentials")
			_ = conn.Close()
			return
		}
	}

	c := d.addClient(conn, creds)
	defer d.removeClient(c)

	cctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.writeLoop(cctx); err != nil {
			c.log.WithError(err).Debug("notification client write failed")
		}
		cancel()
		_ = conn.Close()
	}()

	err := d.readLoop(cctx, c)
	cancel()
	_ = conn.Close()
	wg.Wait()

	switch {
	case err == nil, errors.Is(err, types.ErrClosed), cctx.Err() != nil:
		c.log.Debug("notification client disconnected")
	default:
		c.log.WithError(err).Warn("dropping notification client")
	}
}

func (d *Dispatcher) addClient(conn net.Conn, creds types.Credentials) *client {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	c := &client{
		id:      d.nextID,
		conn:    conn,
		creds:   creds,
		subs:    make(map[string]struct{}),
		queue:   make(chan []byte, d.cfg.QueueDepth),
		replies: make(chan []byte, 1),
		wake:    make(chan struct{}, 1),
	}
	c.log = d.cfg.Logger.WithFields(log.Fields{
		"client_id":  c.id,
		"client_uid": creds.UID,
	})
	d.clients[c] = struct{}{}
	c.log.Debug("notification client connected")
	return c
}

func (d *Dispatcher) removeClient(c *client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range c.subs {
		d.unsubscribeLocked(c, key)
	}
	delete(d.clients, c)
}

func (d *Dispatcher) closeAll() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for c := range d.clients {
		_ = c.conn.Close()
	}
}

func (d *Dispatcher) readLoop(ctx context.Context, c *client) error {
	for {
		m, err := ReadMessage(c.conn, d.cfg.MaxMessageSize)
		if err != nil {
			return err
		}

		var status Status
		switch m.Type {
		case MessageSubscribe:
			status = StatusOf(d.subscribe(c, m.Payload))
		case MessageUnsubscribe:
			status = StatusOf(d.unsubscribe(c, m.Payload))
		default:
			return fmt.Errorf("%w: client sent a %s message", types.ErrCorrupt, m.Type)
		}

		select {
		case c.replies <- Frame(MessageCommandReply, encodeReply(status)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func conditionKey(body []byte) (string, condition.Condition, error) {
	cond, n, err := condition.Deserialize(payload.FromBytes(body, 0, -1))
	if err != nil {
		return "", nil, err
	}
	if n != len(body) {
		return "", nil, fmt.Errorf("%w: %d trailing bytes after condition", types.ErrCorrupt, len(body)-n)
	}
	if err := condition.Validate(cond); err != nil {
		return "", nil, err
	}
	key, err := condition.Key(cond)
	return key, cond, err
}

func (d *Dispatcher) subscribe(c *client, body []byte) error {
	key, cond, err := conditionKey(body)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := c.subs[key]; ok {
		return ErrAlreadySubscribed
	}
	c.subs[key] = struct{}{}
	set, ok := d.subs[key]
	if !ok {
		set = make(map[*client]struct{})
		d.subs[key] = set
	}
	set[c] = struct{}{}
	c.log.WithField("condition_type", cond.Type().String()).Debug("subscribed")
	return nil
}

func (d *Dispatcher) unsubscribe(c *client, body []byte) error {
	key, _, err := conditionKey(body)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := c.subs[key]; !ok {
		return ErrUnknownCondition
	}
	d.unsubscribeLocked(c, key)
	return nil
}

func (d *Dispatcher) unsubscribeLocked(c *client, key string) {
	delete(c.subs, key)
	if set, ok := d.subs[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(d.subs, key)
		}
	}
}

// HasSubscribers reports whether any client subscribed to a condition
// equal to cond.
func (d *Dispatcher) HasSubscribers(cond condition.Condition) bool {
	key, err := condition.Key(cond)
	if err != nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[key]) > 0
}

// Clients returns the number of connected clients.
func (d *Dispatcher) Clients() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.clients)
}

// Publish queues n for every client subscribed to an equal condition that
// may see it: root, or a client whose uid matches owner. A nil owner makes
// the notification visible to all subscribers. Publish never blocks on a
// client; full queues drop the notification and flag the client. It
// returns how many clients received it and how many dropped it.
func (d *Dispatcher) Publish(n *Notification, owner *types.Credentials) (queued, dropped int, err error) {
	key, err := condition.Key(n.Condition)
	if err != nil {
		return 0, 0, fmt.Errorf("publish: %w", err)
	}
	p := payload.New()
	if err := Serialize(n, p); err != nil {
		return 0, 0, fmt.Errorf("publish: %w", err)
	}
	frame := Frame(MessageNotification, p.Bytes())
	if len(frame)-headerSize > d.cfg.MaxMessageSize {
		return 0, 0, fmt.Errorf("publish: %w: notification of %d bytes", types.ErrPayloadTooLarge, len(frame))
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for c := range d.subs[key] {
		if owner != nil && c.creds.UID != 0 && c.creds.UID != owner.UID {
			continue
		}
		if c.enqueue(frame) {
			queued++
		} else {
			dropped++
			c.log.Debug("client queue full, notification dropped")
		}
	}
	return queued, dropped, nil
}

func (c *client) enqueue(frame []byte) bool {
	select {
	case c.queue <- frame:
		return true
	default:
		c.dropped.Store(true)
		select {
		case c.wake <- struct{}{}:
		default:
		}
		return false
	}
}

// writeLoop is the only writer on the client's connection. Queued
// notifications go out in order; a drop notice follows once the queue is
// empty.
func (c *client) writeLoop(ctx context.Context) error {
	for {
		if len(c.queue) == 0 && c.dropped.CompareAndSwap(true, false) {
			if err := WriteMessage(c.conn, MessageNotificationDropped, nil); err != nil {
				return err
			}
			continue
		}

		var frame []byte
		select {
		case <-ctx.Done():
			return nil
		case frame = <-c.replies:
		case frame = <-c.queue:
		case <-c.wake:
			continue
		}
		if _, err := c.conn.Write(frame); err != nil {
			return fmt.Errorf("write to notification client: %w", err)
		}
	}
}

package control

import (
	"context"
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/trigger"
	"github.com/solatis/tracenotify/internal/types"
)

// Handler executes control commands on behalf of a caller.
type Handler interface {
	RegisterTrigger(ctx context.Context, creds types.Credentials, t *trigger.Trigger) error
	UnregisterTrigger(ctx context.Context, creds types.Credentials, t *trigger.Trigger) error
	ListTriggers(ctx context.Context, creds types.Credentials) (*trigger.Collection, error)
}

// CredentialsFunc returns the credentials of the peer on conn.
type CredentialsFunc func(conn net.Conn) (types.Credentials, error)

// ServerConfig tunes a Server. Zero values select defaults.
type ServerConfig struct {
	MaxMessageSize int
	Credentials    CredentialsFunc
	Logger         *log.Entry
}

// Server answers control requests.
type Server struct {
	h   Handler
	cfg ServerConfig
}

// NewServer returns a server dispatching to h.
func NewServer(h Handler, cfg ServerConfig) *Server {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = types.MaxMessageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewEntry(log.StandardLogger())
	}
	return &Server{h: h, cfg: cfg}
}

// Serve accepts clients on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		err := ln.Close()
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
				return fmt.Errorf("accept control client: %w", err)
			}
			g.Go(func() error {
				s.ServeConn(gctx, conn)
				return nil
			})
		}
	})

	return g.Wait()
}

// ServeConn answers requests on conn until the peer disconnects or ctx is
// done.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var creds types.Credentials
	if s.cfg.Credentials != nil {
		var err error
		if creds, err = s.cfg.Credentials(conn); err != nil {
			s.cfg.Logger.WithError(err).Warn("rejecting control client without credentials")
			return
		}
	}
	logger := s.cfg.Logger.WithField("client_uid", creds.UID)

	for {
		tag, body, err := readFrame(conn, s.cfg.MaxMessageSize)
		if err != nil {
			if !errors.Is(err, types.ErrClosed) && ctx.Err() == nil {
				logger.WithError(err).Warn("dropping control client")
			}
			return
		}

		cmd := Command(tag)
		reply, err := s.handle(ctx, creds, cmd, body)
		status := StatusOf(err)
		if err != nil {
			logger.WithError(err).WithField("command", cmd.String()).Info("control command failed")
		}
		if _, err := conn.Write(frame(byte(status), reply)); err != nil {
			logger.WithError(err).Debug("control reply failed")
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, creds types.Credentials, cmd Command, body []byte) ([]byte, error) {
	switch cmd {
	case CommandRegisterTrigger:
		t, err := decodeTrigger(body)
		if err != nil {
			return nil, err
		}
		defer t.Put()
		if err := s.h.RegisterTrigger(ctx, creds, t); err != nil {
			return nil, err
		}
		p := payload.New()
		if err := trigger.Serialize(t, p); err != nil {
			return nil, err
		}
		return p.Bytes(), nil

	case CommandUnregisterTrigger:
		t, err := decodeTrigger(body)
		if err != nil {
			return nil, err
		}
		defer t.Put()
		return nil, s.h.UnregisterTrigger(ctx, creds, t)

	case CommandListTriggers:
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: list request carries %d bytes", types.ErrInvalid, len(body))
		}
		c, err := s.h.ListTriggers(ctx, creds)
		if err != nil {
			return nil, err
		}
		defer c.Release()
		p := payload.New()
		if err := c.Serialize(p); err != nil {
			return nil, err
		}
		return p.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: control command %d", types.ErrUnsupported, cmd)
	}
}

func decodeTrigger(body []byte) (*trigger.Trigger, error) {
	t, n, err := trigger.Deserialize(payload.FromBytes(body, 0, -1))
	if err != nil {
		return nil, err
	}
	if n != len(body) {
		t.Put()
		return nil, fmt.Errorf("%w: %d trailing bytes after trigger", types.ErrCorrupt, len(body)-n)
	}
	return t, nil
}

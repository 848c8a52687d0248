// Package api implements the daemon's trigger service: registration on
// behalf of control clients, evaluation of reported session and tracer
// state against registered conditions, and delivery of notifications.
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/solatis/tracenotify/internal/action"
	"github.com/solatis/tracenotify/internal/condition"
	"github.com/solatis/tracenotify/internal/core/auth"
	"github.com/solatis/tracenotify/internal/eventrule"
	"github.com/solatis/tracenotify/internal/filter"
	"github.com/solatis/tracenotify/internal/notification"
	"github.com/solatis/tracenotify/internal/registry"
	"github.com/solatis/tracenotify/internal/trigger"
	"github.com/solatis/tracenotify/internal/types"
)

// Store persists registered triggers. *db.TriggerStore implements it.
type Store interface {
	Save(ctx context.Context, t *trigger.Trigger) error
	Delete(ctx context.Context, name string) error
	Load(ctx context.Context) ([]*trigger.Trigger, error)
}

// Publisher delivers notifications to subscribed clients.
// *notification.Dispatcher implements it.
type Publisher interface {
	Publish(n *notification.Notification, owner *types.Credentials) (queued, dropped int, err error)
}

// SessionController runs the session actions of fired triggers (start,
// stop, rotate, snapshot).
type SessionController interface {
	Execute(ctx context.Context, a action.Action) error
}

// Config wires a Service. Publisher is required; the rest is optional.
type Config struct {
	Store     Store
	Publisher Publisher
	Sessions  SessionController
	Compiler  filter.Compiler
	Logger    *log.Entry
}

// Service is the daemon's trigger service. Safe for concurrent use.
type Service struct {
	triggers  *trigger.Registry
	chunks    *registry.SessiondTraceChunkRegistry
	store     Store
	publisher Publisher
	sessions  SessionController
	compiler  filter.Compiler
	log       *log.Entry

	// Last threshold test per trigger, for edge-triggered conditions.
	mu    sync.Mutex
	armed map[*trigger.Trigger]bool
}

// NewService creates a service with an empty trigger registry.
func NewService(cfg Config) (*Service, error) {
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	if cfg.Compiler == nil {
		cfg.Compiler = filter.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewEntry(log.StandardLogger())
	}
	return &Service{
		triggers:  trigger.NewRegistry(),
		chunks:    registry.NewSessiondTraceChunkRegistry(cfg.Logger),
		store:     cfg.Store,
		publisher: cfg.Publisher,
		sessions:  cfg.Sessions,
		compiler:  cfg.Compiler,
		log:       cfg.Logger,
		armed:     make(map[*trigger.Trigger]bool),
	}, nil
}

// Triggers returns the number of registered triggers.
func (s *Service) Triggers() int {
	return s.triggers.Len()
}

// RegisterTrigger validates t, records creds as its owner, compiles its
// event-rule filter for the owner, assigns a name and tracer token,
// freezes its condition and persists it.
func (s *Service) RegisterTrigger(ctx context.Context, creds types.Credentials, t *trigger.Trigger) error {
	if err := trigger.Validate(t); err != nil {
		return err
	}
	t.SetOwner(creds)
	if err := s.prepare(t, creds); err != nil {
		return err
	}
	if err := s.triggers.Add(t); err != nil {
		return err
	}
	name, _ := t.Name()

	if s.store != nil {
		if err := s.store.Save(ctx, t); err != nil {
			if removed, rerr := s.triggers.Remove(name); rerr == nil {
				removed.Put()
			}
			return fmt.Errorf("persist trigger %q: %w", name, err)
		}
	}

	s.log.WithFields(log.Fields{
		"trigger":   name,
		"token":     t.Token(),
		"condition": t.Condition().Type().String(),
		"owner_uid": creds.UID,
	}).Info("trigger registered")
	return nil
}

// prepare compiles event-rule filters for owner and freezes the condition.
func (s *Service) prepare(t *trigger.Trigger, owner types.Credentials) error {
	if hit, ok := t.Condition().(*condition.EventRuleHit); ok {
		if err := eventrule.Populate(hit.Rule(), s.compiler, owner.UID, owner.GID); err != nil {
			return err
		}
	}
	t.Condition().Freeze()
	return nil
}

// UnregisterTrigger removes the trigger named like t or, for an unnamed t,
// the registered trigger equal to it. Only the owner or root may do so.
func (s *Service) UnregisterTrigger(ctx context.Context, creds types.Credentials, t *trigger.Trigger) error {
	target, err := s.lookup(creds, t)
	if err != nil {
		return err
	}
	defer target.Put()

	owner, _ := target.Owner()
	if err := auth.CanManage(creds, owner); err != nil {
		return err
	}

	name, _ := target.Name()
	removed, err := s.triggers.Remove(name)
	if err != nil {
		return err
	}
	defer removed.Put()

	s.mu.Lock()
	delete(s.armed, removed)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Delete(ctx, name); err != nil && !errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("unpersist trigger %q: %w", name, err)
		}
	}

	s.log.WithFields(log.Fields{"trigger": name, "caller_uid": creds.UID}).Info("trigger unregistered")
	return nil
}

func (s *Service) lookup(creds types.Credentials, t *trigger.Trigger) (*trigger.Trigger, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: trigger is unset", types.ErrInvalid)
	}
	if name, err := t.Name(); err == nil {
		found, ok := s.triggers.Find(name)
		if !ok {
			return nil, fmt.Errorf("%w: trigger %q", types.ErrNotFound, name)
		}
		return found, nil
	}

	matches := s.triggers.Collect(func(o *trigger.Trigger) bool {
		owner, _ := o.Owner()
		return auth.CanSee(creds, owner) && trigger.Equal(t, o)
	})
	defer matches.Release()
	if matches.Len() == 0 {
		return nil, fmt.Errorf("%w: no registered trigger equals the request", types.ErrNotFound)
	}
	found, _ := matches.At(0)
	return found.Get(), nil
}

// ListTriggers returns the triggers creds may see, in registration order.
// The caller must Release the collection.
func (s *Service) ListTriggers(_ context.Context, creds types.Credentials) (*trigger.Collection, error) {
	return s.triggers.Collect(func(t *trigger.Trigger) bool {
		owner, _ := t.Owner()
		return auth.CanSee(creds, owner)
	}), nil
}

// Restore registers every persisted trigger, keeping its name, owner and
// tracer token. It returns the number restored.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	loaded, err := s.store.Load(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	var errs error
	for _, t := range loaded {
		name, _ := t.Name()
		owner, _ := t.Owner()
		err := s.prepare(t, owner)
		if err == nil {
			err = s.triggers.Add(t)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("restore trigger %q: %w", name, err))
		} else {
			restored++
		}
		t.Put()
	}

	s.log.WithField("count", restored).Info("restored persisted triggers")
	return restored, errs
}

// Close unregisters every trigger from memory. Persisted triggers stay.
func (s *Service) Close() {
	s.mu.Lock()
	s.armed = make(map[*trigger.Trigger]bool)
	s.mu.Unlock()
	s.triggers.Clear()
}

package api

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/solatis/tracenotify/internal/action"
	"github.com/solatis/tracenotify/internal/condition"
	"github.com/solatis/tracenotify/internal/evaluation"
	"github.com/solatis/tracenotify/internal/eventrule"
	"github.com/solatis/tracenotify/internal/filter"
	"github.com/solatis/tracenotify/internal/location"
	"github.com/solatis/tracenotify/internal/notification"
	"github.com/solatis/tracenotify/internal/trigger"
	"github.com/solatis/tracenotify/internal/types"
)

// ChannelSample is one buffer usage sample of a channel.
type ChannelSample struct {
	SessionName  string
	ChannelName  string
	Domain       types.DomainType
	HighestUsage uint64
	Capacity     uint64
}

// ReportChannelSample evaluates buffer usage triggers of the sampled
// channel. A trigger fires only when its threshold test turns true; it
// re-arms once a later sample fails the test. It returns how many
// triggers fired.
func (s *Service) ReportChannelSample(ctx context.Context, sample ChannelSample) (int, error) {
	if !sample.Domain.Valid() {
		return 0, fmt.Errorf("%w: channel sample domain %d", types.ErrInvalid, sample.Domain)
	}

	matching := s.triggers.Collect(func(t *trigger.Trigger) bool {
		c, ok := t.Condition().(*condition.BufferUsage)
		if !ok {
			return false
		}
		session, _ := c.SessionName()
		channel, _ := c.ChannelName()
		domain, _ := c.Domain()
		return session == sample.SessionName && channel == sample.ChannelName && domain == sample.Domain
	})
	defer matching.Release()

	fired := 0
	for i := 0; i < matching.Len(); i++ {
		t, _ := matching.At(i)
		c := t.Condition().(*condition.BufferUsage)
		if !s.edge(t, c.Reached(sample.HighestUsage, sample.Capacity)) {
			continue
		}
		eval := &evaluation.BufferUsage{Kind: c.Type(), Use: sample.HighestUsage, Capacity: sample.Capacity}
		if s.fire(ctx, t, eval) {
			fired++
		}
	}
	return fired, nil
}

// ReportSessionConsumed evaluates consumed size triggers of a session.
// Like buffer usage, a trigger fires when consumption first reaches its
// threshold and re-arms when a sample falls below it.
func (s *Service) ReportSessionConsumed(ctx context.Context, sessionName string, consumed uint64) (int, error) {
	matching := s.triggers.Collect(func(t *trigger.Trigger) bool {
		c, ok := t.Condition().(*condition.SessionConsumedSize)
		if !ok {
			return false
		}
		name, _ := c.SessionName()
		return name == sessionName
	})
	defer matching.Release()

	fired := 0
	for i := 0; i < matching.Len(); i++ {
		t, _ := matching.At(i)
		threshold, _ := t.Condition().(*condition.SessionConsumedSize).Threshold()
		if !s.edge(t, consumed >= threshold) {
			continue
		}
		if s.fire(ctx, t, &evaluation.SessionConsumedSize{Consumed: consumed}) {
			fired++
		}
	}
	return fired, nil
}

// ReportRotationOngoing fires the rotation-ongoing triggers of a session.
func (s *Service) ReportRotationOngoing(ctx context.Context, sessionName string, rotationID uint64) (int, error) {
	eval := &evaluation.SessionRotation{Kind: condition.TypeSessionRotationOngoing, ID: rotationID}
	return s.reportRotation(ctx, sessionName, eval)
}

// ReportRotationCompleted fires the rotation-completed triggers of a
// session with the archive location.
func (s *Service) ReportRotationCompleted(ctx context.Context, sessionName string, rotationID uint64, loc location.Location) (int, error) {
	if err := location.Validate(loc); err != nil {
		return 0, err
	}
	eval := &evaluation.SessionRotation{Kind: condition.TypeSessionRotationCompleted, ID: rotationID, Location: loc}
	return s.reportRotation(ctx, sessionName, eval)
}

func (s *Service) reportRotation(ctx context.Context, sessionName string, eval *evaluation.SessionRotation) (int, error) {
	matching := s.triggers.Collect(func(t *trigger.Trigger) bool {
		c, ok := t.Condition().(*condition.SessionRotation)
		if !ok || c.Type() != eval.Kind {
			return false
		}
		name, _ := c.SessionName()
		return name == sessionName
	})
	defer matching.Release()

	fired := 0
	for i := 0; i < matching.Len(); i++ {
		t, _ := matching.At(i)
		if s.fire(ctx, t, eval) {
			fired++
		}
	}
	return fired, nil
}

// ReportEventHit handles a tracer hit on the trigger holding token. The
// event must match the trigger's rule pattern and pass its compiled
// filter; the condition's capture descriptors are then extracted from ev.
// It reports whether the trigger fired.
func (s *Service) ReportEventHit(ctx context.Context, token uint64, eventName string, ev filter.Event) (bool, error) {
	t, ok := s.triggers.FindByToken(token)
	if !ok {
		return false, fmt.Errorf("%w: tracer token %d", types.ErrNotFound, token)
	}
	defer t.Put()

	c, ok := t.Condition().(*condition.EventRuleHit)
	if !ok {
		return false, fmt.Errorf("%w: token %d belongs to a %s trigger", types.ErrInvalid, token, t.Condition().Type())
	}
	if !eventrule.Matches(c.Rule(), eventName) {
		return false, nil
	}
	if bc := eventrule.Bytecode(c.Rule()); bc != nil {
		pass, err := bc.Evaluate(ev)
		if err != nil {
			return false, fmt.Errorf("evaluate filter of token %d: %w", token, err)
		}
		if !pass {
			return false, nil
		}
	}

	name, _ := t.Name()
	eval, err := evaluation.NewEventRuleHit(name, c.Capture(ev))
	if err != nil {
		return false, err
	}
	return s.fire(ctx, t, eval), nil
}

// edge records the latest threshold test of t and reports whether it
// turned from false to true.
func (s *Service) edge(t *trigger.Trigger, reached bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.armed[t]
	s.armed[t] = reached
	return reached && !was
}

// fire applies t's firing policy and, if it fires, runs its action with
// eval. It reports whether the policy let the trigger fire.
func (s *Service) fire(ctx context.Context, t *trigger.Trigger, eval evaluation.Evaluation) bool {
	if !t.IsReadyToFire() {
		return false
	}

	name, _ := t.Name()
	entry := s.log.WithFields(log.Fields{
		"trigger":   name,
		"condition": t.Condition().Type().String(),
	})

	if action.Notifies(t.Action()) {
		owner, _ := t.Owner()
		n := &notification.Notification{Condition: t.Condition(), Evaluation: eval}
		queued, dropped, err := s.publisher.Publish(n, &owner)
		if err != nil {
			entry.WithError(err).Warn("failed to publish notification")
		} else {
			entry.WithFields(log.Fields{"queued": queued, "dropped": dropped}).Debug("notification published")
		}
	}

	s.runSessionActions(ctx, entry, t.Action())
	return true
}

func (s *Service) runSessionActions(ctx context.Context, entry *log.Entry, a action.Action) {
	switch x := a.(type) {
	case *action.Notify:
	case *action.Group:
		for i := 0; i < x.Len(); i++ {
			child, _ := x.At(i)
			s.runSessionActions(ctx, entry, child)
		}
	default:
		entry := entry.WithFields(log.Fields{"action": a.Type().String(), "session": action.SessionName(a)})
		if s.sessions == nil {
			entry.Debug("no session controller, skipping action")
			return
		}
		if err := s.sessions.Execute(ctx, a); err != nil {
			entry.WithError(err).Warn("session action failed")
		}
	}
}

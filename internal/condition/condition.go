// internal/condition/condition.go
package condition

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Conditions: predicates over tracing state.
 *
 * Closed variant set dispatched by type switch:
 *
 *   SessionConsumedSize      session's consumed bytes crossed a threshold
 *   BufferUsageHigh/Low      a channel's ring buffer usage crossed a threshold
 *   SessionRotationOngoing   a session rotation started
 *   SessionRotationCompleted a session rotation finished
 *   EventRuleHit             an event rule matched, with optional captures
 *
 * Wire: {type i8} followed by the kind-specific header and strings.
 *
 * Lifecycle: conditions are built through setters, then shared with a
 * trigger or a subscription. Freeze marks that point; afterwards every
 * setter fails with ErrInvalid, so registered conditions are immutable
 * without locking.
 */

// Type tags condition variants. Values match the session daemon's.
type Type int8

const (
	TypeSessionConsumedSize      Type = 100
	TypeBufferUsageHigh          Type = 101
	TypeBufferUsageLow           Type = 102
	TypeSessionRotationOngoing   Type = 103
	TypeSessionRotationCompleted Type = 104
	TypeEventRuleHit             Type = 105
)

func (t Type) String() string {
	switch t {
	case TypeSessionConsumedSize:
		return "session consumed size"
	case TypeBufferUsageHigh:
		return "buffer usage high"
	case TypeBufferUsageLow:
		return "buffer usage low"
	case TypeSessionRotationOngoing:
		return "session rotation ongoing"
	case TypeSessionRotationCompleted:
		return "session rotation completed"
	case TypeEventRuleHit:
		return "event rule hit"
	default:
		return "unknown"
	}
}

// Condition is implemented by every condition variant.
type Condition interface {
	Type() Type
	Freeze()
	Frozen() bool
}

// base carries the freeze flag shared by all variants.
type base struct {
	frozen atomic.Bool
}

// Freeze makes the condition immutable.
func (b *base) Freeze() { b.frozen.Store(true) }

// Frozen reports whether Freeze was called.
func (b *base) Frozen() bool { return b.frozen.Load() }

func (b *base) mutable() error {
	if b.frozen.Load() {
		return fmt.Errorf("%w: condition is registered and immutable", types.ErrInvalid)
	}
	return nil
}

func checkSessionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: session name is empty", types.ErrInvalid)
	}
	if len(name) > types.NameMax {
		return fmt.Errorf("%w: session name exceeds %d bytes", types.ErrInvalid, types.NameMax)
	}
	return nil
}

func checkChannelName(name string) error {
	if name == "" || len(name) > types.NameMax {
		return fmt.Errorf("%w: channel name %q", types.ErrInvalid, name)
	}
	return nil
}

// Validate checks that every mandatory field is set.
func Validate(c Condition) error {
	switch x := c.(type) {
	case *BufferUsage:
		return x.validate()
	case *SessionConsumedSize:
		return x.validate()
	case *SessionRotation:
		return x.validate()
	case *EventRuleHit:
		return x.validate()
	case nil:
		return fmt.Errorf("%w: condition is unset", types.ErrInvalid)
	default:
		return fmt.Errorf("%w: condition %T", types.ErrUnsupported, c)
	}
}

// Serialize appends c to p. Invalid conditions are rejected before any
// byte is written.
func Serialize(c Condition, p *payload.Payload) error {
	if err := Validate(c); err != nil {
		return fmt.Errorf("serialize condition: %w", err)
	}
	p.AppendI8(int8(c.Type()))
	switch x := c.(type) {
	case *BufferUsage:
		x.serialize(p)
	case *SessionConsumedSize:
		x.serialize(p)
	case *SessionRotation:
		x.serialize(p)
	case *EventRuleHit:
		return x.serialize(p)
	}
	return nil
}

// Deserialize decodes a condition from the start of v and returns the
// number of bytes consumed. The result is not frozen.
func Deserialize(v payload.View) (Condition, int, error) {
	r := payload.NewReader(v)
	var c Condition

	switch t := Type(r.I8()); t {
	case TypeBufferUsageHigh, TypeBufferUsageLow:
		c = readBufferUsage(r, t)
	case TypeSessionConsumedSize:
		c = readSessionConsumedSize(r)
	case TypeSessionRotationOngoing, TypeSessionRotationCompleted:
		c = readSessionRotation(r, t)
	case TypeEventRuleHit:
		c = readEventRuleHit(r)
	default:
		r.Fail("unknown condition type %d", t)
	}

	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("deserialize condition: %w", err)
	}
	return c, r.Offset(), nil
}

// Equal reports value equality.
func Equal(a, b Condition) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}
	switch x := a.(type) {
	case *BufferUsage:
		y, ok := b.(*BufferUsage)
		return ok && x.equal(y)
	case *SessionConsumedSize:
		y, ok := b.(*SessionConsumedSize)
		return ok && x.equal(y)
	case *SessionRotation:
		y, ok := b.(*SessionRotation)
		return ok && x.equal(y)
	case *EventRuleHit:
		y, ok := b.(*EventRuleHit)
		return ok && x.equal(y)
	default:
		return false
	}
}

// Key returns the serialized form of c, usable as a map key for
// subscription lookups. Equal conditions have equal keys.
func Key(c Condition) (string, error) {
	p := payload.New()
	if err := Serialize(c, p); err != nil {
		return "", err
	}
	return string(p.Bytes()), nil
}

func equalOptional[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// internal/evaluation/evaluation.go
package evaluation

import (
	"fmt"

	"github.com/solatis/tracenotify/internal/condition"
	"github.com/solatis/tracenotify/internal/eventexpr"
	"github.com/solatis/tracenotify/internal/fieldvalue"
	"github.com/solatis/tracenotify/internal/location"
	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Evaluations: the state observed when a condition was met.
 *
 * An evaluation shares its type tag with the condition it answers, so
 * consumers dispatch on the condition type they subscribed to.
 *
 * Wire: {type i8} followed by
 *   BufferUsage{High,Low}      {buffer_use u64, buffer_capacity u64}
 *   SessionConsumedSize        {session_consumed u64}
 *   SessionRotationOngoing     {id u64}
 *   SessionRotationCompleted   {id u64} + location
 *   EventRuleHit               {trigger_name_len u32, capture_payload_len u32}
 *                              + trigger name + capture payload
 *
 * Capture payloads are kept as received and decoded on demand against the
 * condition's capture descriptors.
 */

// Evaluation is implemented by every evaluation variant.
type Evaluation interface {
	Type() condition.Type
}

// BufferUsage reports a channel's usage when a buffer usage condition fired.
type BufferUsage struct {
	Kind     condition.Type
	Use      uint64
	Capacity uint64
}

// SessionConsumedSize reports the consumed bytes of a session.
type SessionConsumedSize struct {
	Consumed uint64
}

// SessionRotation reports a rotation's id and, once completed, where the
// archived chunk lives.
type SessionRotation struct {
	Kind     condition.Type
	ID       uint64
	Location location.Location
}

// EventRuleHit names the trigger whose rule matched and carries the
// encoded captured field values.
type EventRuleHit struct {
	TriggerName string
	Capture     []byte
}

func (e *BufferUsage) Type() condition.Type       { return e.Kind }
func (*SessionConsumedSize) Type() condition.Type { return condition.TypeSessionConsumedSize }
func (e *SessionRotation) Type() condition.Type   { return e.Kind }
func (*EventRuleHit) Type() condition.Type        { return condition.TypeEventRuleHit }

// UsageRatio returns Use / Capacity, or 0 for an empty buffer.
func (e *BufferUsage) UsageRatio() float64 {
	if e.Capacity == 0 {
		return 0
	}
	return float64(e.Use) / float64(e.Capacity)
}

// NewEventRuleHit encodes values as the capture payload of a hit.
func NewEventRuleHit(triggerName string, values []fieldvalue.Value) (*EventRuleHit, error) {
	e := &EventRuleHit{TriggerName: triggerName}
	if len(values) > 0 {
		b, err := fieldvalue.EncodeCapture(values)
		if err != nil {
			return nil, fmt.Errorf("encode capture: %w", err)
		}
		e.Capture = b
	}
	return e, nil
}

// CapturedValues decodes the capture payload into one value per descriptor.
// Unavailable fields decode as nil. A hit without captures yields an empty
// slice.
func (e *EventRuleHit) CapturedValues(descriptors []eventexpr.Expr) ([]fieldvalue.Value, error) {
	if len(descriptors) == 0 {
		if len(e.Capture) != 0 {
			return nil, fmt.Errorf("%w: capture payload without descriptors", types.ErrCorrupt)
		}
		return []fieldvalue.Value{}, nil
	}
	return fieldvalue.DecodeCapture(e.Capture, len(descriptors))
}

// Validate checks mandatory fields.
func Validate(e Evaluation) error {
	switch x := e.(type) {
	case *BufferUsage:
		if x.Kind != condition.TypeBufferUsageHigh && x.Kind != condition.TypeBufferUsageLow {
			return fmt.Errorf("%w: buffer usage evaluation of type %d", types.ErrInvalid, x.Kind)
		}
		return nil
	case *SessionConsumedSize:
		return nil
	case *SessionRotation:
		switch x.Kind {
		case condition.TypeSessionRotationOngoing:
			if x.Location != nil {
				return fmt.Errorf("%w: ongoing rotation carries a location", types.ErrInvalid)
			}
			return nil
		case condition.TypeSessionRotationCompleted:
			if x.Location == nil {
				return fmt.Errorf("%w: completed rotation has no location", types.ErrInvalid)
			}
			return location.Validate(x.Location)
		default:
			return fmt.Errorf("%w: rotation evaluation of type %d", types.ErrInvalid, x.Kind)
		}
	case *EventRuleHit:
		if x.TriggerName == "" {
			return fmt.Errorf("%w: event rule hit evaluation has no trigger name", types.ErrInvalid)
		}
		if len(x.Capture) > types.MaxMessageSize {
			return fmt.Errorf("%w: capture payload of %d bytes", types.ErrPayloadTooLarge, len(x.Capture))
		}
		return nil
	case nil:
		return fmt.Errorf("%w: evaluation is unset", types.ErrInvalid)
	default:
		return fmt.Errorf("%w: evaluation %T", types.ErrUnsupported, e)
	}
}

// Serialize appends e to p.
func Serialize(e Evaluation, p *payload.Payload) error {
	if err := Validate(e); err != nil {
		return fmt.Errorf("serialize evaluation: %w", err)
	}
	p.AppendI8(int8(e.Type()))
	switch x := e.(type) {
	case *BufferUsage:
		p.AppendU64(x.Use)
		p.AppendU64(x.Capacity)
	case *SessionConsumedSize:
		p.AppendU64(x.Consumed)
	case *SessionRotation:
		p.AppendU64(x.ID)
		if x.Location != nil {
			if err := location.Serialize(x.Location, p); err != nil {
				return fmt.Errorf("serialize evaluation: %w", err)
			}
		}
	case *EventRuleHit:
		p.AppendU32(payload.StringLen(x.TriggerName))
		p.AppendU32(uint32(len(x.Capture)))
		p.AppendString(x.TriggerName)
		p.Append(x.Capture)
	}
	return nil
}

// Deserialize decodes an evaluation answering cond from the start of v.
// The evaluation's type must match the condition's; for event rule hits
// the capture payload is checked against the condition's descriptors.
func Deserialize(cond condition.Condition, v payload.View) (Evaluation, int, error) {
	r := payload.NewReader(v)
	t := condition.Type(r.I8())
	if r.Err() == nil && cond != nil && cond.Type() != t {
		r.Fail("evaluation of type %d answers a condition of type %d", t, cond.Type())
	}

	var e Evaluation
	switch t {
	case condition.TypeBufferUsageHigh, condition.TypeBufferUsageLow:
		use := r.U64()
		capacity := r.U64()
		e = &BufferUsage{Kind: t, Use: use, Capacity: capacity}
	case condition.TypeSessionConsumedSize:
		e = &SessionConsumedSize{Consumed: r.U64()}
	case condition.TypeSessionRotationOngoing:
		e = &SessionRotation{Kind: t, ID: r.U64()}
	case condition.TypeSessionRotationCompleted:
		e = readRotationCompleted(r)
	case condition.TypeEventRuleHit:
		e = readEventRuleHit(r, cond)
	default:
		r.Fail("unknown evaluation type %d", t)
	}

	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("deserialize evaluation: %w", err)
	}
	return e, r.Offset(), nil
}

func readRotationCompleted(r *payload.Reader) *SessionRotation {
	id := r.U64()
	if r.Err() != nil {
		return nil
	}
	loc, n, err := location.Deserialize(r.Rest())
	if err != nil {
		r.Fail("rotation location: %v", err)
		return nil
	}
	r.Skip(n)
	return &SessionRotation{Kind: condition.TypeSessionRotationCompleted, ID: id, Location: loc}
}

func readEventRuleHit(r *payload.Reader, cond condition.Condition) *EventRuleHit {
	nameLen := r.U32()
	captureLen := r.U32()
	name := r.String(nameLen, "trigger name")
	capture := r.Bytes(captureLen)
	if r.Err() != nil {
		return nil
	}

	e := &EventRuleHit{TriggerName: name}
	if captureLen > 0 {
		e.Capture = append([]byte(nil), capture...)
	}
	if hit, ok := cond.(*condition.EventRuleHit); ok {
		if _, err := e.CapturedValues(hit.Captures()); err != nil {
			r.Fail("capture payload: %v", err)
			return nil
		}
	}
	return e
}

// Equal reports value equality.
func Equal(a, b Evaluation) bool {
	switch x := a.(type) {
	case *BufferUsage:
		y, ok := b.(*BufferUsage)
		return ok && *x == *y
	case *SessionConsumedSize:
		y, ok := b.(*SessionConsumedSize)
		return ok && *x == *y
	case *SessionRotation:
		y, ok := b.(*SessionRotation)
		return ok && x.Kind == y.Kind && x.ID == y.ID && equalLocation(x.Location, y.Location)
	case *EventRuleHit:
		y, ok := b.(*EventRuleHit)
		return ok && x.TriggerName == y.TriggerName && string(x.Capture) == string(y.Capture)
	case nil:
		return b == nil
	default:
		return false
	}
}

func equalLocation(a, b location.Location) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return location.Equal(a, b)
}

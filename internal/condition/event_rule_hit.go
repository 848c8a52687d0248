package condition

import (
	"fmt"

	"github.com/solatis/tracenotify/internal/eventexpr"
	"github.com/solatis/tracenotify/internal/eventrule"
	"github.com/solatis/tracenotify/internal/fieldvalue"
	"github.com/solatis/tracenotify/internal/filter"
	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

// EventRuleHit fires when an event matches its rule. Capture descriptors
// name the event fields to ship with each notification, in order.
type EventRuleHit struct {
	base
	rule     eventrule.Rule
	captures []eventexpr.Expr
}

// NewEventRuleHit returns a condition over rule. The rule is shared, not
// copied.
func NewEventRuleHit(rule eventrule.Rule) *EventRuleHit {
	return &EventRuleHit{rule: rule}
}

func (*EventRuleHit) Type() Type { return TypeEventRuleHit }

// Rule returns the shared event rule.
func (c *EventRuleHit) Rule() eventrule.Rule { return c.rule }

// AppendCapture adds a capture descriptor after validating it.
func (c *EventRuleHit) AppendCapture(e eventexpr.Expr) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if err := eventexpr.Validate(e); err != nil {
		return err
	}
	if len(c.captures) >= types.MaxCaptureDescriptors {
		return fmt.Errorf("%w: more than %d capture descriptors", types.ErrInvalid, types.MaxCaptureDescriptors)
	}
	c.captures = append(c.captures, e)
	return nil
}

// CaptureCount returns the number of descriptors.
func (c *EventRuleHit) CaptureCount() int { return len(c.captures) }

// CaptureAt returns descriptor i.
func (c *EventRuleHit) CaptureAt(i int) (eventexpr.Expr, error) {
	if i < 0 || i >= len(c.captures) {
		return nil, fmt.Errorf("%w: capture index %d out of range", types.ErrInvalid, i)
	}
	return c.captures[i], nil
}

// Captures returns the descriptors. Callers must not modify the slice.
func (c *EventRuleHit) Captures() []eventexpr.Expr { return c.captures }

// Capture extracts one value per descriptor from ev. Fields that are
// missing or of an unsupported type are unavailable (nil).
func (c *EventRuleHit) Capture(ev filter.Event) []fieldvalue.Value {
	out := make([]fieldvalue.Value, len(c.captures))
	for i, e := range c.captures {
		raw, ok := resolve(e, ev)
		if ok {
			out[i] = fieldvalue.FromNative(raw)
		}
	}
	return out
}

func resolve(e eventexpr.Expr, ev filter.Event) (any, bool) {
	var (
		v  any
		ok bool
	)
	switch x := e.(type) {
	case *eventexpr.PayloadField:
		v, ok = ev.Payload[x.Name]
	case *eventexpr.ChannelContextField:
		v, ok = ev.Context[x.Name]
	case *eventexpr.AppContextField:
		v, ok = ev.App[x.Provider][x.Type]
	case *eventexpr.ArrayElement:
		parent, found := resolve(x.Parent, ev)
		arr, isArray := parent.([]any)
		if !found || !isArray || int(x.Index) >= len(arr) {
			return nil, false
		}
		v, ok = arr[x.Index], true
	}
	return v, ok && v != nil
}

func (c *EventRuleHit) validate() error {
	if c.rule == nil {
		return fmt.Errorf("%w: event rule hit condition has no rule", types.ErrInvalid)
	}
	if err := eventrule.Validate(c.rule); err != nil {
		return err
	}
	if len(c.captures) > types.MaxCaptureDescriptors {
		return fmt.Errorf("%w: more than %d capture descriptors", types.ErrInvalid, types.MaxCaptureDescriptors)
	}
	for _, e := range c.captures {
		if err := eventexpr.Validate(e); err != nil {
			return err
		}
	}
	return nil
}

// {event_rule_length u32, capture_count u32} + event rule + descriptors
func (c *EventRuleHit) serialize(p *payload.Payload) error {
	lenOff := p.Reserve(4)
	p.AppendU32(uint32(len(c.captures)))
	start := p.Len()
	if err := eventrule.Serialize(c.rule, p); err != nil {
		return fmt.Errorf("serialize condition: %w", err)
	}
	p.PutU32At(lenOff, uint32(p.Len()-start))

	for _, e := range c.captures {
		if err := eventexpr.Serialize(e, p); err != nil {
			return fmt.Errorf("serialize condition: %w", err)
		}
	}
	return nil
}

func readEventRuleHit(r *payload.Reader) *EventRuleHit {
	ruleLen := r.U32()
	count := r.U32()
	if r.Err() != nil {
		return nil
	}
	if count > types.MaxCaptureDescriptors {
		r.Fail("capture count %d exceeds %d", count, types.MaxCaptureDescriptors)
		return nil
	}

	rv := r.View(int(ruleLen))
	if r.Err() != nil {
		return nil
	}
	rule, used, err := eventrule.Deserialize(rv)
	if err != nil {
		r.Fail("event rule: %v", err)
		return nil
	}
	if used != int(ruleLen) {
		r.Fail("event rule length %d, consumed %d", ruleLen, used)
		return nil
	}

	c := &EventRuleHit{rule: rule, captures: make([]eventexpr.Expr, 0, count)}
	for i := uint32(0); i < count; i++ {
		e, n, err := eventexpr.Deserialize(r.Rest())
		if err != nil {
			r.Fail("capture descriptor %d: %v", i, err)
			return nil
		}
		r.Skip(n)
		c.captures = append(c.captures, e)
	}
	if r.Err() != nil {
		return nil
	}
	return c
}

func (c *EventRuleHit) equal(o *EventRuleHit) bool {
	if !eventrule.Equal(c.rule, o.rule) || len(c.captures) != len(o.captures) {
		return false
	}
	for i := range c.captures {
		if !eventexpr.Equal(c.captures[i], o.captures[i]) {
			return false
		}
	}
	return true
}

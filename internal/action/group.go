package action

import (
	"fmt"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

// Group runs its actions in insertion order.
type Group struct {
	actions []Action
}

// NewGroup returns a group holding actions, in order.
func NewGroup(actions ...Action) (*Group, error) {
	g := &Group{}
	for _, a := range actions {
		if err := g.Add(a); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Add appends a. Groups cannot be nested.
func (g *Group) Add(a Action) error {
	if a == nil {
		return fmt.Errorf("%w: nil action", types.ErrInvalid)
	}
	if a.Type() == TypeGroup {
		return fmt.Errorf("%w: a group cannot contain a group", types.ErrInvalid)
	}
	if len(g.actions) >= types.MaxGroupActions {
		return fmt.Errorf("%w: group holds more than %d actions", types.ErrInvalid, types.MaxGroupActions)
	}
	g.actions = append(g.actions, a)
	return nil
}

// Len returns the number of actions.
func (g *Group) Len() int { return len(g.actions) }

// At returns action i.
func (g *Group) At(i int) (Action, error) {
	if i < 0 || i >= len(g.actions) {
		return nil, fmt.Errorf("%w: group index %d out of range", types.ErrInvalid, i)
	}
	return g.actions[i], nil
}

func (g *Group) validate() error {
	if len(g.actions) > types.MaxGroupActions {
		return fmt.Errorf("%w: group holds more than %d actions", types.ErrInvalid, types.MaxGroupActions)
	}
	for i, a := range g.actions {
		if a != nil && a.Type() == TypeGroup {
			return fmt.Errorf("%w: group action %d is a group", types.ErrInvalid, i)
		}
		if err := Validate(a); err != nil {
			return fmt.Errorf("group action %d: %w", i, err)
		}
	}
	return nil
}

func readGroup(r *payload.Reader) *Group {
	count := r.U32()
	if r.Err() != nil {
		return nil
	}
	if count > types.MaxGroupActions {
		r.Fail("group holds %d actions, limit %d", count, types.MaxGroupActions)
		return nil
	}
	g := &Group{actions: make([]Action, 0, count)}
	for i := uint32(0); i < count; i++ {
		a := read(r, true)
		if r.Err() != nil {
			return nil
		}
		g.actions = append(g.actions, a)
	}
	return g
}

func (g *Group) equal(o *Group) bool {
	if len(g.actions) != len(o.actions) {
		return false
	}
	for i := range g.actions {
		if !Equal(g.actions[i], o.actions[i]) {
			return false
		}
	}
	return true
}

package trigger

import (
	"fmt"
	"sync"

	"github.com/solatis/tracenotify/internal/types"
)

// Registry is the daemon's set of registered triggers, indexed by name and
// tracer token. It holds one reference per trigger; lookups hand out an
// additional reference the caller must Put.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]*Trigger
	byToken    map[uint64]*Trigger
	order      []*Trigger
	nameOffset uint64
	nextToken  uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*Trigger),
		byToken:   make(map[uint64]*Trigger),
		nextToken: 1,
	}
}

// Add registers t. An unnamed trigger gets the next free generated name
// and a trigger without a token gets a fresh one. Adding a trigger whose
// name is taken, or that equals a registered trigger, fails with
// ErrAlreadyExists.
func (r *Registry) Add(t *Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) >= types.MaxTriggersPerCollection {
		return fmt.Errorf("%w: more than %d triggers registered", types.ErrInvalid, types.MaxTriggersPerCollection)
	}
	for _, other := range r.order {
		if Equal(t, other) {
			name, _ := other.Name()
			return fmt.Errorf("%w: trigger equal to %q", types.ErrAlreadyExists, name)
		}
	}

	name, err := t.Name()
	offset := r.nameOffset
	generated := err != nil
	if generated {
		for {
			name = GeneratedName(offset)
			if _, taken := r.byName[name]; !taken {
				break
			}
			offset++
		}
	} else if _, taken := r.byName[name]; taken {
		return fmt.Errorf("%w: trigger %q", types.ErrAlreadyExists, name)
	}

	token := t.Token()
	if token == 0 {
		token = r.nextToken
	}
	if _, taken := r.byToken[token]; taken {
		return fmt.Errorf("%w: tracer token %d", types.ErrAlreadyExists, token)
	}

	// Nothing below fails; t is only touched once it is accepted.
	if generated {
		t.GenerateName(offset)
		r.nameOffset = offset + 1
	}
	t.SetToken(token)
	if token >= r.nextToken {
		r.nextToken = token + 1
	}

	t.Get()
	r.byName[name] = t
	r.byToken[token] = t
	r.order = append(r.order, t)
	return nil
}

// Remove unregisters the named trigger and returns it. The registry's
// reference is transferred to the caller.
func (r *Registry) Remove(name string) (*Trigger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: trigger %q", types.ErrNotFound, name)
	}
	delete(r.byName, name)
	delete(r.byToken, t.Token())
	for i, o := range r.order {
		if o == t {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return t, nil
}

// Find returns the named trigger with a new reference.
func (r *Registry) Find(name string) (*Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return t.Get(), true
}

// FindByToken returns the trigger holding token with a new reference.
func (r *Registry) FindByToken(token uint64) (*Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byToken[token]
	if !ok {
		return nil, false
	}
	return t.Get(), true
}

// Collect returns, in registration order, the triggers keep accepts. The
// collection holds its own references.
func (r *Registry) Collect(keep func(*Trigger) bool) *Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewCollection()
	for _, t := range r.order {
		if keep == nil || keep(t) {
			// Cannot fail: the registry never holds nil triggers and the
			// collection limit matches the registry's.
			_ = c.Add(t)
		}
	}
	return c
}

// Len returns the number of registered triggers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clear unregisters every trigger and drops the registry's references.
func (r *Registry) Clear() {
	r.mu.Lock()
	order := r.order
	r.order = nil
	r.byName = make(map[string]*Trigger)
	r.byToken = make(map[uint64]*Trigger)
	r.mu.Unlock()

	for _, t := range order {
		t.Put()
	}
}

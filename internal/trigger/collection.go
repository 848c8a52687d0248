package trigger

import (
	"fmt"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

// Collection is an ordered list of triggers holding one reference on
// each. Order is insertion order.
//
// Wire: {count u32, length u32} + triggers, where length covers every
// trigger.
type Collection struct {
	triggers []*Trigger
}

// NewCollection returns an empty collection.
func NewCollection() *Collection { return &Collection{} }

// Add appends t and acquires a reference on it.
func (c *Collection) Add(t *Trigger) error {
	if t == nil {
		return fmt.Errorf("%w: nil trigger", types.ErrInvalid)
	}
	if len(c.triggers) >= types.MaxTriggersPerCollection {
		return fmt.Errorf("%w: collection holds more than %d triggers", types.ErrInvalid, types.MaxTriggersPerCollection)
	}
	c.triggers = append(c.triggers, t.Get())
	return nil
}

// Len returns the number of triggers.
func (c *Collection) Len() int { return len(c.triggers) }

// At returns trigger i without acquiring a reference.
func (c *Collection) At(i int) (*Trigger, error) {
	if i < 0 || i >= len(c.triggers) {
		return nil, fmt.Errorf("%w: collection index %d out of range", types.ErrInvalid, i)
	}
	return c.triggers[i], nil
}

// Release drops the collection's references and empties it.
func (c *Collection) Release() {
	for _, t := range c.triggers {
		t.Put()
	}
	c.triggers = nil
}

// Serialize appends the collection to p.
func (c *Collection) Serialize(p *payload.Payload) error {
	p.AppendU32(uint32(len(c.triggers)))
	lenOff := p.Reserve(4)
	start := p.Len()
	for i, t := range c.triggers {
		if err := Serialize(t, p); err != nil {
			return fmt.Errorf("serialize collection entry %d: %w", i, err)
		}
	}
	p.PutU32At(lenOff, uint32(p.Len()-start))
	return nil
}

// DeserializeCollection decodes a collection from the start of v. On error
// no trigger reference escapes.
func DeserializeCollection(v payload.View) (*Collection, int, error) {
	r := payload.NewReader(v)
	count := r.U32()
	length := r.U32()
	if r.Err() == nil && count > types.MaxTriggersPerCollection {
		r.Fail("collection holds %d triggers, limit %d", count, types.MaxTriggersPerCollection)
	}
	body := r.View(int(length))
	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("deserialize collection: %w", err)
	}

	c := &Collection{triggers: make([]*Trigger, 0, count)}
	br := payload.NewReader(body)
	for i := uint32(0); i < count; i++ {
		t, n, err := Deserialize(br.Rest())
		if err != nil {
			c.Release()
			return nil, 0, fmt.Errorf("deserialize collection entry %d: %w", i, err)
		}
		br.Skip(n)
		c.triggers = append(c.triggers, t)
	}
	if br.Remaining() != 0 {
		c.Release()
		return nil, 0, fmt.Errorf("deserialize collection: %w: length %d, triggers use %d",
			types.ErrCorrupt, length, br.Offset())
	}
	return c, r.Offset(), nil
}

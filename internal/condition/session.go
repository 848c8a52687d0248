package condition

import (
	"fmt"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

// SessionConsumedSize fires when a session's total consumed bytes reach a
// threshold.
type SessionConsumedSize struct {
	base
	sessionName    *string
	thresholdBytes *uint64
}

func NewSessionConsumedSize() *SessionConsumedSize { return &SessionConsumedSize{} }

func (*SessionConsumedSize) Type() Type { return TypeSessionConsumedSize }

func (c *SessionConsumedSize) SetSessionName(name string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if err := checkSessionName(name); err != nil {
		return err
	}
	c.sessionName = &name
	return nil
}

func (c *SessionConsumedSize) SessionName() (string, error) {
	if c.sessionName == nil {
		return "", types.ErrUnset
	}
	return *c.sessionName, nil
}

func (c *SessionConsumedSize) SetThreshold(n uint64) error {
	if err := c.mutable(); err != nil {
		return err
	}
	c.thresholdBytes = &n
	return nil
}

func (c *SessionConsumedSize) Threshold() (uint64, error) {
	if c.thresholdBytes == nil {
		return 0, types.ErrUnset
	}
	return *c.thresholdBytes, nil
}

func (c *SessionConsumedSize) validate() error {
	if c.sessionName == nil {
		return fmt.Errorf("%w: session consumed size condition has no session name", types.ErrInvalid)
	}
	if err := checkSessionName(*c.sessionName); err != nil {
		return err
	}
	if c.thresholdBytes == nil {
		return fmt.Errorf("%w: session consumed size condition has no threshold", types.ErrInvalid)
	}
	return nil
}

// {consumed_threshold u64, session_name_len u32} + session name
func (c *SessionConsumedSize) serialize(p *payload.Payload) {
	p.AppendU64(*c.thresholdBytes)
	p.AppendU32(payload.StringLen(*c.sessionName))
	p.AppendString(*c.sessionName)
}

func readSessionConsumedSize(r *payload.Reader) *SessionConsumedSize {
	threshold := r.U64()
	nameLen := r.U32()
	name := r.String(nameLen, "session name")
	if r.Err() != nil {
		return nil
	}
	if err := checkSessionName(name); err != nil {
		r.Fail("session consumed size: %v", err)
		return nil
	}
	return &SessionConsumedSize{sessionName: &name, thresholdBytes: &threshold}
}

func (c *SessionConsumedSize) equal(o *SessionConsumedSize) bool {
	return equalOptional(c.sessionName, o.sessionName) &&
		equalOptional(c.thresholdBytes, o.thresholdBytes)
}

// SessionRotation fires when a rotation of the named session starts
// (Ongoing) or completes (Completed).
type SessionRotation struct {
	base
	kind        Type
	sessionName *string
}

func NewSessionRotationOngoing() *SessionRotation {
	return &SessionRotation{kind: TypeSessionRotationOngoing}
}

func NewSessionRotationCompleted() *SessionRotation {
	return &SessionRotation{kind: TypeSessionRotationCompleted}
}

func (c *SessionRotation) Type() Type { return c.kind }

func (c *SessionRotation) SetSessionName(name string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if err := checkSessionName(name); err != nil {
		return err
	}
	c.sessionName = &name
	return nil
}

func (c *SessionRotation) SessionName() (string, error) {
	if c.sessionName == nil {
		return "", types.ErrUnset
	}
	return *c.sessionName, nil
}

func (c *SessionRotation) validate() error {
	if c.kind != TypeSessionRotationOngoing && c.kind != TypeSessionRotationCompleted {
		return fmt.Errorf("%w: rotation condition of type %d", types.ErrInvalid, c.kind)
	}
	if c.sessionName == nil {
		return fmt.Errorf("%w: rotation condition has no session name", types.ErrInvalid)
	}
	if err := checkSessionName(*c.sessionName); err != nil {
		return err
	}
	return nil
}

// {session_name_len u32} + session name
func (c *SessionRotation) serialize(p *payload.Payload) {
	p.AppendU32(payload.StringLen(*c.sessionName))
	p.AppendString(*c.sessionName)
}

func readSessionRotation(r *payload.Reader, t Type) *SessionRotation {
	nameLen := r.U32()
	name := r.String(nameLen, "session name")
	if r.Err() != nil {
		return nil
	}
	if err := checkSessionName(name); err != nil {
		r.Fail("session rotation: %v", err)
		return nil
	}
	return &SessionRotation{kind: t, sessionName: &name}
}

func (c *SessionRotation) equal(o *SessionRotation) bool {
	return c.kind == o.kind && equalOptional(c.sessionName, o.sessionName)
}

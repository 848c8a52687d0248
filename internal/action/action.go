// internal/action/action.go
package action

import (
	"fmt"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Actions: what a trigger does when its condition is met.
 *
 * Wire: {type i8} followed by
 *   Notify                  nothing
 *   Start/Stop/Rotate       {session_name_len u32} + session name
 *   Snapshot                {session_name_len u32, snapshot_output_len u32}
 *                           + session name + optional output
 *   Group                   {action_count u32} + actions
 *
 * A Group holds actions in order and cannot contain another Group, so an
 * action tree is at most two levels deep.
 */

// Type tags action variants. Values match the session daemon's.
type Type int8

const (
	TypeNotify          Type = 0
	TypeStartSession    Type = 1
	TypeStopSession     Type = 2
	TypeRotateSession   Type = 3
	TypeSnapshotSession Type = 4
	TypeGroup           Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeNotify:
		return "notify"
	case TypeStartSession:
		return "start session"
	case TypeStopSession:
		return "stop session"
	case TypeRotateSession:
		return "rotate session"
	case TypeSnapshotSession:
		return "snapshot session"
	case TypeGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Action is implemented by every action variant.
type Action interface {
	Type() Type
}

// Notify asks the daemon to send a notification to subscribed clients.
type Notify struct{}

// StartSession starts the named session.
type StartSession struct{ SessionName string }

// StopSession stops the named session.
type StopSession struct{ SessionName string }

// RotateSession rotates the named session.
type RotateSession struct{ SessionName string }

// SnapshotSession records a snapshot of the named session, optionally to
// an output other than the session's default.
type SnapshotSession struct {
	SessionName string
	Output      *SnapshotOutput
}

func (*Notify) Type() Type          { return TypeNotify }
func (*StartSession) Type() Type    { return TypeStartSession }
func (*StopSession) Type() Type     { return TypeStopSession }
func (*RotateSession) Type() Type   { return TypeRotateSession }
func (*SnapshotSession) Type() Type { return TypeSnapshotSession }
func (*Group) Type() Type           { return TypeGroup }

// SessionName returns the session targeted by a, or "" for Notify and
// Group.
func SessionName(a Action) string {
	switch x := a.(type) {
	case *StartSession:
		return x.SessionName
	case *StopSession:
		return x.SessionName
	case *RotateSession:
		return x.SessionName
	case *SnapshotSession:
		return x.SessionName
	default:
		return ""
	}
}

// Notifies reports whether a is a Notify action or a group holding one.
func Notifies(a Action) bool {
	switch x := a.(type) {
	case *Notify:
		return true
	case *Group:
		for _, child := range x.actions {
			if child.Type() == TypeNotify {
				return true
			}
		}
	}
	return false
}

func checkSessionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: action has no session name", types.ErrInvalid)
	}
	if len(name) > types.NameMax {
		return fmt.Errorf("%w: session name exceeds %d bytes", types.ErrInvalid, types.NameMax)
	}
	return nil
}

// Validate checks mandatory fields, recursing into groups.
func Validate(a Action) error {
	switch x := a.(type) {
	case *Notify:
		return nil
	case *StartSession, *StopSession, *RotateSession:
		return checkSessionName(SessionName(a))
	case *SnapshotSession:
		if err := checkSessionName(x.SessionName); err != nil {
			return err
		}
		if x.Output != nil {
			return x.Output.Validate()
		}
		return nil
	case *Group:
		return x.validate()
	case nil:
		return fmt.Errorf("%w: action is unset", types.ErrInvalid)
	default:
		return fmt.Errorf("%w: action %T", types.ErrUnsupported, a)
	}
}

// Serialize appends a to p. Invalid actions are rejected before any byte
// is written.
func Serialize(a Action, p *payload.Payload) error {
	if err := Validate(a); err != nil {
		return fmt.Errorf("serialize action: %w", err)
	}
	serialize(a, p)
	return nil
}

func serialize(a Action, p *payload.Payload) {
	p.AppendI8(int8(a.Type()))
	switch x := a.(type) {
	case *StartSession, *StopSession, *RotateSession:
		name := SessionName(a)
		p.AppendU32(payload.StringLen(name))
		p.AppendString(name)
	case *SnapshotSession:
		p.AppendU32(payload.StringLen(x.SessionName))
		lenOff := p.Reserve(4)
		p.AppendString(x.SessionName)
		if x.Output != nil {
			start := p.Len()
			x.Output.serialize(p)
			p.PutU32At(lenOff, uint32(p.Len()-start))
		}
	case *Group:
		p.AppendU32(uint32(len(x.actions)))
		for _, child := range x.actions {
			serialize(child, p)
		}
	}
}

// Deserialize decodes an action from the start of v and returns the number
// of bytes consumed.
func Deserialize(v payload.View) (Action, int, error) {
	r := payload.NewReader(v)
	a := read(r, false)
	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("deserialize action: %w", err)
	}
	return a, r.Offset(), nil
}

func read(r *payload.Reader, inGroup bool) Action {
	t := Type(r.I8())
	if r.Err() != nil {
		return nil
	}

	switch t {
	case TypeNotify:
		return &Notify{}
	case TypeStartSession, TypeStopSession, TypeRotateSession:
		n := r.U32()
		name := r.String(n, "session name")
		if r.Err() != nil {
			return nil
		}
		switch t {
		case TypeStartSession:
			return &StartSession{SessionName: name}
		case TypeStopSession:
			return &StopSession{SessionName: name}
		default:
			return &RotateSession{SessionName: name}
		}
	case TypeSnapshotSession:
		return readSnapshot(r)
	case TypeGroup:
		if inGroup {
			r.Fail("group nested in a group")
			return nil
		}
		return readGroup(r)
	default:
		r.Fail("unknown action type %d", t)
		return nil
	}
}

func readSnapshot(r *payload.Reader) *SnapshotSession {
	nameLen := r.U32()
	outputLen := r.U32()
	name := r.String(nameLen, "session name")
	if r.Err() != nil {
		return nil
	}
	a := &SnapshotSession{SessionName: name}
	if outputLen == 0 {
		return a
	}

	ov := r.View(int(outputLen))
	if r.Err() != nil {
		return nil
	}
	or := payload.NewReader(ov)
	a.Output = readOutput(or)
	if err := or.Err(); err != nil {
		r.Fail("snapshot output: %v", err)
		return nil
	}
	if or.Remaining() != 0 {
		r.Fail("snapshot output length %d, consumed %d", outputLen, or.Offset())
		return nil
	}
	return a
}

// Equal reports value equality. Group equality is ordered.
func Equal(a, b Action) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}
	switch x := a.(type) {
	case *Notify:
		return true
	case *StartSession, *StopSession, *RotateSession:
		return SessionName(a) == SessionName(b)
	case *SnapshotSession:
		y := b.(*SnapshotSession)
		return x.SessionName == y.SessionName && equalOutput(x.Output, y.Output)
	case *Group:
		return x.equal(b.(*Group))
	default:
		return false
	}
}

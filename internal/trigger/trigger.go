// internal/trigger/trigger.go
package trigger

import (
	"fmt"
	"strconv"

	"go.uber.org/atomic"

	"github.com/solatis/tracenotify/internal/action"
	"github.com/solatis/tracenotify/internal/condition"
	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Triggers bind one condition to one action under a firing policy.
 *
 * Ownership: a trigger shares its condition and action with the caller;
 * neither is copied. The trigger itself is reference counted. New returns
 * it with one reference; Get adds one and Put drops one. The last Put runs
 * the release hook, if any, exactly once.
 *
 * Firing: every hit goes through IsReadyToFire, which bumps the hit count
 * and applies the policy:
 *   EveryN(n)      true on hits n, 2n, 3n, ... (count resets on firing)
 *   OnceAfterN(n)  false before hit n, true on hit n and every hit after
 *
 * Wire: {name_length u32, length u32, policy_type u8, policy_threshold u64}
 *       + name (absent when name_length is 0) + condition + action
 * where length covers name, condition and action exactly.
 *
 * Identity: Equal compares policy, condition and action. The name, owner
 * and tracer token are bookkeeping and never affect equality.
 */

// headerSize is the packed size of the trigger envelope.
const headerSize = 4 + 4 + 1 + 8

// Trigger is a condition/action pair with a firing policy.
type Trigger struct {
	name   *string
	cond   condition.Condition
	act    action.Action
	policy FiringPolicy
	owner  *types.Credentials
	token  atomic.Uint64

	hits      atomic.Uint64
	refs      atomic.Int64
	onRelease func(*Trigger)
}

// New binds cond and act with the default policy (every hit fires).
func New(cond condition.Condition, act action.Action) *Trigger {
	t := &Trigger{cond: cond, act: act, policy: DefaultPolicy}
	t.refs.Store(1)
	return t
}

// Condition returns the shared condition.
func (t *Trigger) Condition() condition.Condition { return t.cond }

// Action returns the shared action.
func (t *Trigger) Action() action.Action { return t.act }

// Name returns the trigger's name or ErrUnset.
func (t *Trigger) Name() (string, error) {
	if t.name == nil {
		return "", types.ErrUnset
	}
	return *t.name, nil
}

// SetName assigns a user-visible name.
func (t *Trigger) SetName(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	t.name = &name
	return nil
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: trigger name is empty", types.ErrInvalid)
	}
	if len(name) > types.NameMax {
		return fmt.Errorf("%w: trigger name exceeds %d bytes", types.ErrInvalid, types.NameMax)
	}
	return nil
}

// GenerateName names the trigger "T<offset>".
func (t *Trigger) GenerateName(offset uint64) string {
	name := GeneratedName(offset)
	t.name = &name
	return name
}

// GeneratedName returns the name GenerateName assigns for offset.
func GeneratedName(offset uint64) string {
	return "T" + strconv.FormatUint(offset, 10)
}

// FiringPolicy returns the current policy.
func (t *Trigger) FiringPolicy() FiringPolicy { return t.policy }

// SetFiringPolicy replaces the policy and resets the hit count.
func (t *Trigger) SetFiringPolicy(kind PolicyKind, threshold uint64) error {
	p := FiringPolicy{Kind: kind, Threshold: threshold}
	if err := p.Validate(); err != nil {
		return err
	}
	t.policy = p
	t.hits.Store(0)
	return nil
}

// Owner returns the registering client's credentials, if known.
func (t *Trigger) Owner() (types.Credentials, bool) {
	if t.owner == nil {
		return types.Credentials{}, false
	}
	return *t.owner, true
}

// SetOwner records the registering client's credentials.
func (t *Trigger) SetOwner(c types.Credentials) { t.owner = &c }

// Token returns the tracer token assigned at registration, 0 if none.
func (t *Trigger) Token() uint64 { return t.token.Load() }

// SetToken records the tracer token.
func (t *Trigger) SetToken(token uint64) { t.token.Store(token) }

// Hits returns the hit count since the last reset.
func (t *Trigger) Hits() uint64 { return t.hits.Load() }

// IsReadyToFire records one hit and reports whether the action should run.
// Safe for concurrent use.
func (t *Trigger) IsReadyToFire() bool {
	threshold := t.policy.Threshold
	for {
		cur := t.hits.Load()
		next := cur + 1
		fire := next == threshold

		switch t.policy.Kind {
		case EveryN:
			if fire {
				next = 0
			}
		case OnceAfterN:
			if cur >= threshold {
				// Saturated; the count no longer moves.
				return true
			}
		}
		if t.hits.CompareAndSwap(cur, next) {
			return fire
		}
	}
}

// OnRelease registers fn to run once when the last reference is dropped.
func (t *Trigger) OnRelease(fn func(*Trigger)) { t.onRelease = fn }

// Get acquires a reference.
func (t *Trigger) Get() *Trigger {
	t.refs.Inc()
	return t
}

// Put drops a reference and reports whether it was the last one.
func (t *Trigger) Put() bool {
	n := t.refs.Dec()
	if n < 0 {
		panic("trigger: reference count underflow")
	}
	if n > 0 {
		return false
	}
	if t.onRelease != nil {
		t.onRelease(t)
	}
	return true
}

// Refs returns the current reference count.
func (t *Trigger) Refs() int64 { return t.refs.Load() }

// Validate checks that the trigger, its condition and its action are
// complete.
func Validate(t *Trigger) error {
	if t == nil {
		return fmt.Errorf("%w: trigger is unset", types.ErrInvalid)
	}
	if t.name != nil {
		if err := checkName(*t.name); err != nil {
			return err
		}
	}
	if err := t.policy.Validate(); err != nil {
		return err
	}
	if err := condition.Validate(t.cond); err != nil {
		return fmt.Errorf("trigger condition: %w", err)
	}
	if err := action.Validate(t.act); err != nil {
		return fmt.Errorf("trigger action: %w", err)
	}
	return nil
}

// Serialize appends t to p.
func Serialize(t *Trigger, p *payload.Payload) error {
	if err := Validate(t); err != nil {
		return fmt.Errorf("serialize trigger: %w", err)
	}

	p.AppendU32(payload.OptionalStringLen(t.name))
	lenOff := p.Reserve(4)
	p.AppendU8(uint8(t.policy.Kind))
	p.AppendU64(t.policy.Threshold)

	start := p.Len()
	p.AppendOptionalString(t.name)
	if err := condition.Serialize(t.cond, p); err != nil {
		return fmt.Errorf("serialize trigger: %w", err)
	}
	if err := action.Serialize(t.act, p); err != nil {
		return fmt.Errorf("serialize trigger: %w", err)
	}
	p.PutU32At(lenOff, uint32(p.Len()-start))
	return nil
}

// Deserialize decodes a trigger from the start of v and returns it with one
// reference, plus the number of bytes consumed.
func Deserialize(v payload.View) (*Trigger, int, error) {
	r := payload.NewReader(v)
	t := read(r)
	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("deserialize trigger: %w", err)
	}
	return t, r.Offset(), nil
}

func read(r *payload.Reader) *Trigger {
	if !r.Need(headerSize, "trigger header") {
		return nil
	}
	nameLen := r.U32()
	length := r.U32()
	policy := FiringPolicy{Kind: PolicyKind(r.U8()), Threshold: r.U64()}
	if err := policy.Validate(); err != nil {
		r.Fail("trigger policy: %v", err)
		return nil
	}

	body := r.View(int(length))
	if r.Err() != nil {
		return nil
	}
	br := payload.NewReader(body)
	name := br.OptionalString(nameLen, "trigger name")
	if br.Err() != nil {
		r.Fail("trigger name: %v", br.Err())
		return nil
	}
	if name != nil {
		if err := checkName(*name); err != nil {
			r.Fail("trigger name: %v", err)
			return nil
		}
	}

	cond, n, err := condition.Deserialize(br.Rest())
	if err != nil {
		r.Fail("trigger condition: %v", err)
		return nil
	}
	br.Skip(n)

	act, n, err := action.Deserialize(br.Rest())
	if err != nil {
		r.Fail("trigger action: %v", err)
		return nil
	}
	br.Skip(n)

	if br.Remaining() != 0 {
		r.Fail("trigger length %d, contents use %d", length, br.Offset())
		return nil
	}

	t := New(cond, act)
	t.name = name
	t.policy = policy
	return t
}

// Equal compares policy, condition and action; names are ignored.
func Equal(a, b *Trigger) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.policy == b.policy &&
		condition.Equal(a.cond, b.cond) &&
		action.Equal(a.act, b.act)
}

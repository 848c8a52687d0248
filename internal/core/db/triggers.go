package db

import (
	"context"
	"fmt"
	"time"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/trigger"
	"github.com/solatis/tracenotify/internal/types"
)

// TriggerStore persists registered triggers. Rows hold the trigger's wire
// form plus the owner and tracer token, which the wire form omits.
type TriggerStore struct {
	q *Queries
}

type triggerRow struct {
	Name     string `db:"name"`
	OwnerUID int64  `db:"owner_uid"`
	OwnerGID int64  `db:"owner_gid"`
	Token    int64  `db:"token"`
	Body     []byte `db:"body"`
}

// NewTriggerStore returns a store using q's named queries.
func NewTriggerStore(q *Queries) *TriggerStore {
	return &TriggerStore{q: q}
}

// Save inserts a registered trigger. It must carry a name and an owner.
func (s *TriggerStore) Save(ctx context.Context, t *trigger.Trigger) error {
	name, err := t.Name()
	if err != nil {
		return fmt.Errorf("save trigger: %w: unnamed", types.ErrInvalid)
	}
	owner, ok := t.Owner()
	if !ok {
		return fmt.Errorf("save trigger %q: %w: no owner", name, types.ErrInvalid)
	}

	p := payload.New()
	if err := trigger.Serialize(t, p); err != nil {
		return fmt.Errorf("save trigger %q: %w", name, err)
	}

	_, err = s.q.Exec(ctx, "insert-trigger",
		name, int64(owner.UID), int64(owner.GID), int64(t.Token()), p.Bytes(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save trigger %q: %w", name, err)
	}
	return nil
}

// Delete removes the named trigger. A missing row wraps types.ErrNotFound.
func (s *TriggerStore) Delete(ctx context.Context, name string) error {
	res, err := s.q.Exec(ctx, "delete-trigger", name)
	if err != nil {
		return fmt.Errorf("delete trigger %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete trigger %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("delete trigger %q: %w", name, types.ErrNotFound)
	}
	return nil
}

// Count returns the number of stored triggers.
func (s *TriggerStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.Get(ctx, "count-triggers", &n); err != nil {
		return 0, fmt.Errorf("count triggers: %w", err)
	}
	return n, nil
}

// Load returns every stored trigger in token order, each with one
// reference, owner and token restored. On error no trigger is returned.
func (s *TriggerStore) Load(ctx context.Context) ([]*trigger.Trigger, error) {
	var rows []triggerRow
	if err := s.q.Select(ctx, "list-triggers", &rows); err != nil {
		return nil, fmt.Errorf("load triggers: %w", err)
	}

	out := make([]*trigger.Trigger, 0, len(rows))
	release := func() {
		for _, t := range out {
			t.Put()
		}
	}
	for _, row := range rows {
		t, n, err := trigger.Deserialize(payload.FromBytes(row.Body, 0, -1))
		if err != nil {
			release()
			return nil, fmt.Errorf("load trigger %q: %w", row.Name, err)
		}
		if n != len(row.Body) {
			t.Put()
			release()
			return nil, fmt.Errorf("load trigger %q: %w: %d trailing bytes", row.Name, types.ErrCorrupt, len(row.Body)-n)
		}
		if name, err := t.Name(); err != nil || name != row.Name {
			t.Put()
			release()
			return nil, fmt.Errorf("load trigger %q: %w: body names %q", row.Name, types.ErrCorrupt, name)
		}
		t.SetOwner(types.Credentials{UID: uint32(row.OwnerUID), GID: uint32(row.OwnerGID)})
		t.SetToken(uint64(row.Token))
		out = append(out, t)
	}
	return out, nil
}

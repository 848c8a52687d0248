package api

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solatis/tracenotify/internal/action"
	"github.com/solatis/tracenotify/internal/condition"
	"github.com/solatis/tracenotify/internal/core/db"
	"github.com/solatis/tracenotify/internal/evaluation"
	"github.com/solatis/tracenotify/internal/eventexpr"
	"github.com/solatis/tracenotify/internal/eventrule"
	"github.com/solatis/tracenotify/internal/fieldvalue"
	"github.com/solatis/tracenotify/internal/filter"
	"github.com/solatis/tracenotify/internal/location"
	"github.com/solatis/tracenotify/internal/notification"
	"github.com/solatis/tracenotify/internal/registry"
	"github.com/solatis/tracenotify/internal/trigger"
	"github.com/solatis/tracenotify/internal/types"
)

type published struct {
	n     *notification.Notification
	owner types.Credentials
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *fakePublisher) Publish(n *notification.Notification, owner *types.Credentials) (int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{n: n, owner: *owner})
	return 1, 0, nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakePublisher) last(t *testing.T) published {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.sent)
	return p.sent[len(p.sent)-1]
}

type fakeSessions struct {
	executed []action.Action
}

func (f *fakeSessions) Execute(_ context.Context, a action.Action) error {
	f.executed = append(f.executed, a)
	return nil
}

var (
	alice = types.Credentials{UID: 1000, GID: 1000}
	bob   = types.Credentials{UID: 1001, GID: 1001}
	root  = types.Credentials{}
)

func newService(t *testing.T, store Store) (*Service, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	s, err := NewService(Config{Store: store, Publisher: pub})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, pub
}

func rotationTrigger(t *testing.T, kind condition.Type, session string) *trigger.Trigger {
	t.Helper()
	c := condition.NewSessionRotationOngoing()
	if kind == condition.TypeSessionRotationCompleted {
		c = condition.NewSessionRotationCompleted()
	}
	require.NoError(t, c.SetSessionName(session))
	return trigger.New(c, &action.Notify{})
}

func usageTrigger(t *testing.T, c *condition.BufferUsage, bytes uint64) *trigger.Trigger {
	t.Helper()
	require.NoError(t, c.SetSessionName("s1"))
	require.NoError(t, c.SetChannelName("c1"))
	require.NoError(t, c.SetDomain(types.DomainUST))
	require.NoError(t, c.SetThresholdBytes(bytes))
	return trigger.New(c, &action.Notify{})
}

func strp(s string) *string { return &s }

func TestNewService_RequiresPublisher(t *testing.T) {
	_, err := NewService(Config{})
	require.Error(t, err)
}

func TestRegisterTrigger(t *testing.T) {
	s, _ := newService(t, nil)
	ctx := context.Background()

	tr := rotationTrigger(t, condition.TypeSessionRotationOngoing, "s")
	require.NoError(t, s.RegisterTrigger(ctx, alice, tr))

	name, err := tr.Name()
	require.NoError(t, err)
	require.Equal(t, "T0", name)
	require.NotZero(t, tr.Token())
	require.True(t, tr.Condition().Frozen())
	owner, ok := tr.Owner()
	require.True(t, ok)
	require.Equal(t, alice, owner)

	require.ErrorIs(t, s.RegisterTrigger(ctx, bob, rotationTrigger(t, condition.TypeSessionRotationOngoing, "s")),
		types.ErrAlreadyExists)

	invalid := trigger.New(condition.NewSessionRotationOngoing(), &action.Notify{})
	require.ErrorIs(t, s.RegisterTrigger(ctx, alice, invalid), types.ErrInvalid)
	require.Equal(t, 1, s.Triggers())
}

func TestRegisterTrigger_BadFilter(t *testing.T) {
	s, _ := newService(t, nil)
	c := condition.NewEventRuleHit(&eventrule.Syscall{Pattern: "read", Filter: strp("fd ==")})
	err := s.RegisterTrigger(context.Background(), alice, trigger.New(c, &action.Notify{}))
	require.ErrorIs(t, err, types.ErrInvalid)
	require.Equal(t, 0, s.Triggers())
}

func TestUnregisterTrigger(t *testing.T) {
	s, _ := newService(t, nil)
	ctx := context.Background()

	a := rotationTrigger(t, condition.TypeSessionRotationOngoing, "a")
	require.NoError(t, s.RegisterTrigger(ctx, alice, a))
	b := rotationTrigger(t, condition.TypeSessionRotationOngoing, "b")
	require.NoError(t, s.RegisterTrigger(ctx, alice, b))

	require.ErrorIs(t, s.UnregisterTrigger(ctx, bob, a), types.ErrPermission)
	require.NoError(t, s.UnregisterTrigger(ctx, alice, a))
	require.ErrorIs(t, s.UnregisterTrigger(ctx, alice, a), types.ErrNotFound)

	// Unnamed request resolves by equality; root may remove anything.
	require.NoError(t, s.UnregisterTrigger(ctx, root, rotationTrigger(t, condition.TypeSessionRotationOngoing, "b")))
	require.Equal(t, 0, s.Triggers())
}

func TestListTriggers(t *testing.T) {
	s, _ := newService(t, nil)
	ctx := context.Background()
	require.NoError(t, s.RegisterTrigger(ctx, alice, rotationTrigger(t, condition.TypeSessionRotationOngoing, "a")))
	require.NoError(t, s.RegisterTrigger(ctx, bob, rotationTrigger(t, condition.TypeSessionRotationOngoing, "b")))

	tests := []struct {
		name   string
		caller types.Credentials
		want   int
	}{
		{name: "alice", caller: alice, want: 1},
		{name: "bob", caller: bob, want: 1},
		{name: "root", caller: root, want: 2},
		{name: "stranger", caller: types.Credentials{UID: 4242}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := s.ListTriggers(ctx, tt.caller)
			require.NoError(t, err)
			defer c.Release()
			require.Equal(t, tt.want, c.Len())
		})
	}
}

func TestReportChannelSample_EdgeTriggered(t *testing.T) {
	s, pub := newService(t, nil)
	ctx := context.Background()
	require.NoError(t, s.RegisterTrigger(ctx, alice, usageTrigger(t, condition.NewBufferUsageHigh(), 1000)))
	require.NoError(t, s.RegisterTrigger(ctx, alice, usageTrigger(t, condition.NewBufferUsageLow(), 100)))

	sample := func(use uint64) ChannelSample {
		return ChannelSample{SessionName: "s1", ChannelName: "c1", Domain: types.DomainUST, HighestUsage: use, Capacity: 4096}
	}
	steps := []struct {
		use       uint64
		wantFired int
		wantKind  condition.Type
	}{
		{use: 500, wantFired: 0},
		{use: 1000, wantFired: 1, wantKind: condition.TypeBufferUsageHigh},
		{use: 1200, wantFired: 0},
		{use: 50, wantFired: 1, wantKind: condition.TypeBufferUsageLow},
		{use: 80, wantFired: 0},
		{use: 1500, wantFired: 1, wantKind: condition.TypeBufferUsageHigh},
	}
	for i, step := range steps {
		fired, err := s.ReportChannelSample(ctx, sample(step.use))
		require.NoError(t, err)
		require.Equal(t, step.wantFired, fired, "step %d (use %d)", i, step.use)
		if step.wantFired > 0 {
			got := pub.last(t)
			eval, ok := got.n.Evaluation.(*evaluation.BufferUsage)
			require.True(t, ok)
			require.Equal(t, step.wantKind, eval.Kind)
			require.Equal(t, step.use, eval.Use)
			require.Equal(t, uint64(4096), eval.Capacity)
			require.Equal(t, alice, got.owner)
		}
	}
	require.Equal(t, 3, pub.count())

	other := sample(5000)
	other.ChannelName = "c2"
	fired, err := s.ReportChannelSample(ctx, other)
	require.NoError(t, err)
	require.Zero(t, fired)

	_, err = s.ReportChannelSample(ctx, ChannelSample{SessionName: "s1", ChannelName: "c1"})
	require.ErrorIs(t, err, types.ErrInvalid)
}

func TestReportSessionConsumed(t *testing.T) {
	s, pub := newService(t, nil)
	ctx := context.Background()

	c := condition.NewSessionConsumedSize()
	require.NoError(t, c.SetSessionName("s"))
	require.NoError(t, c.SetThreshold(1<<20))
	require.NoError(t, s.RegisterTrigger(ctx, alice, trigger.New(c, &action.Notify{})))

	for _, consumed := range []uint64{1 << 10, 1 << 20, 2 << 20} {
		_, err := s.ReportSessionConsumed(ctx, "s", consumed)
		require.NoError(t, err)
	}
	require.Equal(t, 1, pub.count())
	eval := pub.last(t).n.Evaluation.(*evaluation.SessionConsumedSize)
	require.Equal(t, uint64(1<<20), eval.Consumed)
}

func TestReportRotation(t *testing.T) {
	s, pub := newService(t, nil)
	ctx := context.Background()
	require.NoError(t, s.RegisterTrigger(ctx, alice, rotationTrigger(t, condition.TypeSessionRotationOngoing, "s")))
	require.NoError(t, s.RegisterTrigger(ctx, alice, rotationTrigger(t, condition.TypeSessionRotationCompleted, "s")))

	fired, err := s.ReportRotationOngoing(ctx, "s", 7)
	require.NoError(t, err)
	require.Equal(t, 1, fired)
	require.Equal(t, condition.TypeSessionRotationOngoing, pub.last(t).n.Condition.Type())

	loc := &location.Local{AbsolutePath: "/var/trace/archives/7"}
	fired, err = s.ReportRotationCompleted(ctx, "s", 7, loc)
	require.NoError(t, err)
	require.Equal(t, 1, fired)
	eval := pub.last(t).n.Evaluation.(*evaluation.SessionRotation)
	require.Equal(t, uint64(7), eval.ID)
	require.Equal(t, loc, eval.Location)

	_, err = s.ReportRotationCompleted(ctx, "s", 8, &location.Local{AbsolutePath: "relative"})
	require.ErrorIs(t, err, types.ErrInvalid)

	fired, err = s.ReportRotationOngoing(ctx, "other", 1)
	require.NoError(t, err)
	require.Zero(t, fired)
}

func TestReportEventHit(t *testing.T) {
	s, pub := newService(t, nil)
	ctx := context.Background()

	c := condition.NewEventRuleHit(&eventrule.Syscall{Pattern: "open*", Filter: strp("fd == 3")})
	require.NoError(t, c.AppendCapture(&eventexpr.PayloadField{Name: "fd"}))
	require.NoError(t, c.AppendCapture(&eventexpr.ChannelContextField{Name: "vpid"}))
	tr := trigger.New(c, &action.Notify{})
	require.NoError(t, s.RegisterTrigger(ctx, alice, tr))

	hit := filter.Event{Payload: map[string]any{"fd": int64(3)}}
	tests := []struct {
		name  string
		event string
		ev    filter.Event
		want  bool
	}{
		{name: "match", event: "openat", ev: hit, want: true},
		{name: "pattern miss", event: "read", ev: hit, want: false},
		{name: "filter miss", event: "openat", ev: filter.Event{Payload: map[string]any{"fd": int64(4)}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fired, err := s.ReportEventHit(ctx, tr.Token(), tt.event, tt.ev)
			require.NoError(t, err)
			require.Equal(t, tt.want, fired)
		})
	}
	require.Equal(t, 1, pub.count())

	eval := pub.last(t).n.Evaluation.(*evaluation.EventRuleHit)
	require.Equal(t, "T0", eval.TriggerName)
	values, err := eval.CapturedValues(c.Captures())
	require.NoError(t, err)
	require.Len(t, values, 2)
	require.True(t, fieldvalue.Equal(&fieldvalue.SignedInt{Value: 3}, values[0]))
	require.Nil(t, values[1], "missing context field is unavailable")

	_, err = s.ReportEventHit(ctx, 9999, "openat", hit)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestFire_PolicyAndSessionActions(t *testing.T) {
	pub := &fakePublisher{}
	sessions := &fakeSessions{}
	s, err := NewService(Config{Publisher: pub, Sessions: sessions})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	c := condition.NewSessionRotationOngoing()
	require.NoError(t, c.SetSessionName("s"))
	group, err := action.NewGroup(&action.Notify{}, &action.StopSession{SessionName: "s"})
	require.NoError(t, err)
	tr := trigger.New(c, group)
	require.NoError(t, tr.SetFiringPolicy(trigger.EveryN, 2))
	require.NoError(t, s.RegisterTrigger(ctx, alice, tr))

	fired := 0
	for i := uint64(0); i < 4; i++ {
		n, err := s.ReportRotationOngoing(ctx, "s", i)
		require.NoError(t, err)
		fired += n
	}
	require.Equal(t, 2, fired)
	require.Equal(t, 2, pub.count())
	require.Len(t, sessions.executed, 2)
	require.Equal(t, action.TypeStopSession, sessions.executed[0].Type())
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "tn.db"))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, db.MigrateUp(conn))
	q, err := db.LoadQueries(conn)
	require.NoError(t, err)
	store := db.NewTriggerStore(q)

	first, _ := newService(t, store)
	require.NoError(t, first.RegisterTrigger(ctx, alice, rotationTrigger(t, condition.TypeSessionRotationOngoing, "a")))
	hit := condition.NewEventRuleHit(&eventrule.Syscall{Pattern: "close", Filter: strp("fd > 2")})
	ruleTrigger := trigger.New(hit, &action.Notify{})
	require.NoError(t, first.RegisterTrigger(ctx, bob, ruleTrigger))
	removable := rotationTrigger(t, condition.TypeSessionRotationOngoing, "gone")
	require.NoError(t, first.RegisterTrigger(ctx, alice, removable))
	require.NoError(t, first.UnregisterTrigger(ctx, alice, removable))

	second, pub := newService(t, store)
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	list, err := second.ListTriggers(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, 1, list.Len())
	restored, _ := list.At(0)
	name, _ := restored.Name()
	require.Equal(t, "T1", name)
	require.Equal(t, ruleTrigger.Token(), restored.Token())
	list.Release()

	// The restored rule's filter was recompiled for its owner.
	fired, err := second.ReportEventHit(ctx, ruleTrigger.Token(), "close", filter.Event{Payload: map[string]any{"fd": int64(5)}})
	require.NoError(t, err)
	require.True(t, fired)
	require.Equal(t, bob, pub.last(t).owner)

	// New registrations do not reuse restored names.
	next := rotationTrigger(t, condition.TypeSessionRotationOngoing, "new")
	require.NoError(t, second.RegisterTrigger(ctx, alice, next))
	name, _ = next.Name()
	require.NotEqual(t, "T0", name)
	require.NotEqual(t, "T1", name)
}

func TestChunkArchived(t *testing.T) {
	s, pub := newService(t, nil)
	ctx := context.Background()
	require.NoError(t, s.RegisterTrigger(ctx, alice, rotationTrigger(t, condition.TypeSessionRotationCompleted, "s")))

	sd := types.NewSessiondID()
	id := types.ChunkID(4)
	chunk := registry.TraceChunk{SessionID: 1, ID: &id, BasePath: "/var/trace", HostPath: "host", SessionPath: "s-1"}

	_, err := s.ChunkArchived(ctx, sd, "s", chunk, 4)
	require.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, s.SessionCreated(sd))
	fired, err := s.ChunkArchived(ctx, sd, "s", chunk, 4)
	require.NoError(t, err)
	require.Equal(t, 1, fired)
	eval := pub.last(t).n.Evaluation.(*evaluation.SessionRotation)
	require.Equal(t, "/var/trace/host/s-1/4", eval.Location.String())
	require.NoError(t, s.SessionDestroyed(sd))
}

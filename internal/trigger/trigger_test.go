package trigger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/solatis/tracenotify/internal/action"
	"github.com/solatis/tracenotify/internal/condition"
	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

func rotationCondition(t *testing.T, session string) condition.Condition {
	t.Helper()
	c := condition.NewSessionRotationCompleted()
	require.NoError(t, c.SetSessionName(session))
	return c
}

func usageCondition(t *testing.T, threshold uint64) condition.Condition {
	t.Helper()
	c := condition.NewBufferUsageHigh()
	require.NoError(t, c.SetSessionName("s1"))
	require.NoError(t, c.SetChannelName("c1"))
	require.NoError(t, c.SetDomain(types.DomainUST))
	require.NoError(t, c.SetThresholdBytes(threshold))
	return c
}

func TestTrigger_Defaults(t *testing.T) {
	cond := rotationCondition(t, "s")
	act := &action.Notify{}
	tr := New(cond, act)

	require.Equal(t, DefaultPolicy, tr.FiringPolicy())
	require.Equal(t, int64(1), tr.Refs())
	require.Same(t, cond, tr.Condition())
	require.Same(t, act, tr.Action())

	_, err := tr.Name()
	require.ErrorIs(t, err, types.ErrUnset)
	_, ok := tr.Owner()
	require.False(t, ok)
}

func TestTrigger_RoundTrip(t *testing.T) {
	group, err := action.NewGroup(&action.Notify{}, &action.StopSession{SessionName: "s1"})
	require.NoError(t, err)

	named := New(usageCondition(t, 1000), group)
	require.NoError(t, named.SetName("my-trigger"))
	require.NoError(t, named.SetFiringPolicy(OnceAfterN, 5))

	tests := []struct {
		name string
		tr   *Trigger
	}{
		{name: "unnamed default policy", tr: New(rotationCondition(t, "s"), &action.Notify{})},
		{name: "named with group", tr: named},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := payload.New()
			if err := Serialize(tt.tr, p); err != nil {
				t.Fatalf("Serialize() error = %v, want nil", err)
			}
			got, n, err := Deserialize(p.View())
			if err != nil {
				t.Fatalf("Deserialize() error = %v, want nil", err)
			}
			if n != p.Len() {
				t.Errorf("Deserialize() consumed %d, want %d", n, p.Len())
			}
			if !Equal(tt.tr, got) {
				t.Errorf("Deserialize() = %+v, want %+v", got, tt.tr)
			}
			wantName, wantErr := tt.tr.Name()
			gotName, gotErr := got.Name()
			if wantName != gotName || (wantErr == nil) != (gotErr == nil) {
				t.Errorf("Name() = %q, %v, want %q, %v", gotName, gotErr, wantName, wantErr)
			}

			for cut := 1; cut <= p.Len(); cut++ {
				_, _, err := Deserialize(payload.FromBytes(p.Bytes(), 0, p.Len()-cut))
				if !errors.Is(err, types.ErrCorrupt) {
					t.Fatalf("truncated by %d: error = %v, want ErrCorrupt", cut, err)
				}
			}
		})
	}
}

func TestDeserialize_LengthMismatch(t *testing.T) {
	tr := New(rotationCondition(t, "s"), &action.Notify{})
	p := payload.New()
	require.NoError(t, Serialize(tr, p))

	tests := []struct {
		name  string
		delta int
	}{
		{name: "length too short", delta: -1},
		{name: "length too long", delta: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := append([]byte(nil), p.Bytes()...)
			payload.Order.PutUint32(b[4:8], uint32(int(payload.Order.Uint32(b[4:8]))+tt.delta))
			b = append(b, 0)

			_, _, err := Deserialize(payload.FromBytes(b, 0, -1))
			if !errors.Is(err, types.ErrCorrupt) {
				t.Errorf("Deserialize() error = %v, want ErrCorrupt", err)
			}
		})
	}
}

// withName splices a raw name field into an unnamed trigger's frame and
// patches name_length and length to match.
func withName(t *testing.T, name string) []byte {
	t.Helper()
	tr := New(rotationCondition(t, "s"), &action.Notify{})
	p := payload.New()
	require.NoError(t, Serialize(tr, p))
	unnamed := p.Bytes()

	field := append([]byte(name), 0)
	b := append([]byte(nil), unnamed[:headerSize]...)
	b = append(b, field...)
	b = append(b, unnamed[headerSize:]...)
	payload.Order.PutUint32(b[0:4], uint32(len(field)))
	payload.Order.PutUint32(b[4:8], payload.Order.Uint32(unnamed[4:8])+uint32(len(field)))
	return b
}

func TestDeserialize_RejectsBadName(t *testing.T) {
	tests := []struct {
		name    string
		wire    string
		wantErr error
	}{
		{name: "valid name", wire: "T3"},
		{name: "empty name", wire: "", wantErr: types.ErrCorrupt},
		{name: "oversized name", wire: strings.Repeat("x", types.NameMax+1), wantErr: types.ErrCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := Deserialize(payload.FromBytes(withName(t, tt.wire), 0, -1))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Nil(t, got)
				return
			}
			require.NoError(t, err)
			name, err := got.Name()
			require.NoError(t, err)
			require.Equal(t, tt.wire, name)
		})
	}
}

func TestEqual_IgnoresName(t *testing.T) {
	a := New(rotationCondition(t, "s"), &action.Notify{})
	require.NoError(t, a.SetName("alpha"))
	b := New(rotationCondition(t, "s"), &action.Notify{})
	require.NoError(t, b.SetName("beta"))
	require.True(t, Equal(a, b))

	require.NoError(t, b.SetFiringPolicy(EveryN, 2))
	require.False(t, Equal(a, b))

	c := New(rotationCondition(t, "other"), &action.Notify{})
	require.False(t, Equal(a, c))
}

func TestSetName_Rejects(t *testing.T) {
	tr := New(rotationCondition(t, "s"), &action.Notify{})
	require.ErrorIs(t, tr.SetName(""), types.ErrInvalid)

	long := make([]byte, types.NameMax+1)
	for i := range long {
		long[i] = 'x'
	}
	require.ErrorIs(t, tr.SetName(string(long)), types.ErrInvalid)
}

func TestGenerateName(t *testing.T) {
	tr := New(rotationCondition(t, "s"), &action.Notify{})
	tr.GenerateName(42)

	name, err := tr.Name()
	require.NoError(t, err)
	require.Equal(t, "T42", name)
}

func TestSetFiringPolicy_Rejects(t *testing.T) {
	tr := New(rotationCondition(t, "s"), &action.Notify{})
	require.ErrorIs(t, tr.SetFiringPolicy(EveryN, 0), types.ErrInvalid)
	require.ErrorIs(t, tr.SetFiringPolicy(PolicyKind(9), 1), types.ErrInvalid)
	require.Equal(t, DefaultPolicy, tr.FiringPolicy())
}

func TestIsReadyToFire(t *testing.T) {
	tests := []struct {
		name      string
		kind      PolicyKind
		threshold uint64
		want      []bool
	}{
		{name: "every hit", kind: EveryN, threshold: 1, want: []bool{true, true, true}},
		{name: "every third", kind: EveryN, threshold: 3,
			want: []bool{false, false, true, false, false, true, false, false, true}},
		{name: "once after two", kind: OnceAfterN, threshold: 2, want: []bool{false, true, true, true, true}},
		{name: "once after one", kind: OnceAfterN, threshold: 1, want: []bool{true, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(rotationCondition(t, "s"), &action.Notify{})
			require.NoError(t, tr.SetFiringPolicy(tt.kind, tt.threshold))
			for i, want := range tt.want {
				if got := tr.IsReadyToFire(); got != want {
					t.Errorf("call %d: IsReadyToFire() = %v, want %v", i+1, got, want)
				}
			}
		})
	}
}

// Property-based test: EveryN fires exactly on multiples of the threshold.
func TestIsReadyToFire_EveryNProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("fires on call k iff k % n == 0", prop.ForAll(
		func(threshold uint64, calls int) bool {
			tr := New(nil, nil)
			if tr.SetFiringPolicy(EveryN, threshold) != nil {
				return false
			}
			for k := 1; k <= calls; k++ {
				if tr.IsReadyToFire() != (uint64(k)%threshold == 0) {
					return false
				}
			}
			return true
		},
		gen.UInt64Range(1, 20),
		gen.IntRange(1, 100),
	))

	properties.Property("once-after-n is false then true forever", prop.ForAll(
		func(threshold uint64, calls int) bool {
			tr := New(nil, nil)
			if tr.SetFiringPolicy(OnceAfterN, threshold) != nil {
				return false
			}
			for k := 1; k <= calls; k++ {
				if tr.IsReadyToFire() != (uint64(k) >= threshold) {
					return false
				}
			}
			return true
		},
		gen.UInt64Range(1, 20),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}

func TestIsReadyToFire_Concurrent(t *testing.T) {
	tr := New(rotationCondition(t, "s"), &action.Notify{})
	require.NoError(t, tr.SetFiringPolicy(EveryN, 4))

	const workers, perWorker = 8, 1000
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fired int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := 0
			for i := 0; i < perWorker; i++ {
				if tr.IsReadyToFire() {
					local++
				}
			}
			mu.Lock()
			fired += local
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, workers*perWorker/4, fired)
}

func TestRefcount_ReleaseOnce(t *testing.T) {
	tr := New(rotationCondition(t, "s"), &action.Notify{})
	released := 0
	tr.OnRelease(func(*Trigger) { released++ })

	tr.Get()
	require.False(t, tr.Put())
	require.Equal(t, 0, released)
	require.True(t, tr.Put())
	require.Equal(t, 1, released)
}

func TestCollection_RoundTrip(t *testing.T) {
	c := NewCollection()
	for i := 0; i < 3; i++ {
		tr := New(usageCondition(t, uint64(100*(i+1))), &action.Notify{})
		require.NoError(t, tr.SetName(fmt.Sprintf("t%d", i)))
		require.NoError(t, c.Add(tr))
		require.Equal(t, int64(2), tr.Refs())
		tr.Put()
	}

	p := payload.New()
	require.NoError(t, c.Serialize(p))

	got, n, err := DeserializeCollection(p.View())
	require.NoError(t, err)
	require.Equal(t, p.Len(), n)
	require.Equal(t, c.Len(), got.Len())
	for i := 0; i < c.Len(); i++ {
		want, _ := c.At(i)
		have, err := got.At(i)
		require.NoError(t, err)
		require.True(t, Equal(want, have), "entry %d differs", i)
		name, _ := have.Name()
		require.Equal(t, fmt.Sprintf("t%d", i), name)
	}

	for cut := 1; cut <= p.Len(); cut++ {
		_, _, err := DeserializeCollection(payload.FromBytes(p.Bytes(), 0, p.Len()-cut))
		require.ErrorIs(t, err, types.ErrCorrupt, "truncated by %d", cut)
	}

	first, _ := c.At(0)
	c.Release()
	require.Equal(t, 0, c.Len())
	require.Equal(t, int64(0), first.Refs())
}

func TestRegistry_AddFindRemove(t *testing.T) {
	r := NewRegistry()

	unnamed := New(rotationCondition(t, "a"), &action.Notify{})
	require.NoError(t, r.Add(unnamed))
	name, err := unnamed.Name()
	require.NoError(t, err)
	require.Equal(t, "T0", name)
	require.NotZero(t, unnamed.Token())

	// A user already took the next generated name.
	taken := New(rotationCondition(t, "b"), &action.Notify{})
	require.NoError(t, taken.SetName("T1"))
	require.NoError(t, r.Add(taken))

	next := New(rotationCondition(t, "c"), &action.Notify{})
	require.NoError(t, r.Add(next))
	name, _ = next.Name()
	require.Equal(t, "T2", name)

	dupName := New(rotationCondition(t, "d"), &action.Notify{})
	require.NoError(t, dupName.SetName("T1"))
	require.ErrorIs(t, r.Add(dupName), types.ErrAlreadyExists)

	dupValue := New(rotationCondition(t, "a"), &action.Notify{})
	require.NoError(t, dupValue.SetName("other"))
	require.ErrorIs(t, r.Add(dupValue), types.ErrAlreadyExists)

	found, ok := r.FindByToken(next.Token())
	require.True(t, ok)
	require.Same(t, next, found)
	found.Put()

	list := r.Collect(nil)
	require.Equal(t, 3, list.Len())
	list.Release()

	removed, err := r.Remove("T1")
	require.NoError(t, err)
	require.Same(t, taken, removed)
	removed.Put()
	_, ok = r.Find("T1")
	require.False(t, ok)
	_, err = r.Remove("T1")
	require.ErrorIs(t, err, types.ErrNotFound)

	require.Equal(t, 2, r.Len())
	r.Clear()
	require.Equal(t, 0, r.Len())
	require.Equal(t, int64(1), unnamed.Refs())
}

func TestRegistry_FailedAddLeavesTriggerUntouched(t *testing.T) {
	r := NewRegistry()
	first := New(rotationCondition(t, "a"), &action.Notify{})
	require.NoError(t, r.Add(first))

	clash := New(rotationCondition(t, "b"), &action.Notify{})
	clash.SetToken(first.Token())
	require.ErrorIs(t, r.Add(clash), types.ErrAlreadyExists)

	_, err := clash.Name()
	require.ErrorIs(t, err, types.ErrUnset, "rejected trigger must stay unnamed")
	require.Equal(t, first.Token(), clash.Token())
	require.Equal(t, int64(1), clash.Refs())

	// The rejected add did not consume a generated name.
	next := New(rotationCondition(t, "c"), &action.Notify{})
	require.NoError(t, r.Add(next))
	name, _ := next.Name()
	require.Equal(t, "T1", name)
	require.Equal(t, first.Token()+1, next.Token())
	require.Equal(t, 2, r.Len())
}

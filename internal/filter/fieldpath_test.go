package filter

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestResolve(t *testing.T) {
	ev := Event{
		Payload: map[string]any{
			"fd":   int64(3),
			"args": []any{uint64(1), "two", nil},
			"hdr":  map[string]any{"len": uint64(64), "flags": []any{"ro"}},
		},
		Context: map[string]any{"vpid": int64(42)},
		App: map[string]map[string]any{
			"myprov": {"req": map[string]any{"id": "abc"}},
		},
	}

	key := func(k string) Segment { return Segment{Key: k} }
	idx := func(i int) Segment { return Segment{Index: i, IsIndex: true} }

	tests := []struct {
		name    string
		operand Operand
		want    any
		found   bool
	}{
		{name: "payload field", operand: Operand{Path: []Segment{key("fd")}}, want: int64(3), found: true},
		{name: "array element", operand: Operand{Path: []Segment{key("args"), idx(1)}}, want: "two", found: true},
		{name: "nested map", operand: Operand{Path: []Segment{key("hdr"), key("len")}}, want: uint64(64), found: true},
		{name: "map then array", operand: Operand{Path: []Segment{key("hdr"), key("flags"), idx(0)}}, want: "ro", found: true},
		{name: "context", operand: Operand{Scope: ScopeContext, Path: []Segment{key("vpid")}}, want: int64(42), found: true},
		{
			name:    "app context",
			operand: Operand{Scope: ScopeApp, Provider: "myprov", Path: []Segment{key("req"), key("id")}},
			want:    "abc",
			found:   true,
		},
		{name: "missing field", operand: Operand{Path: []Segment{key("nope")}}},
		{name: "nil element", operand: Operand{Path: []Segment{key("args"), idx(2)}}},
		{name: "index out of range", operand: Operand{Path: []Segment{key("args"), idx(3)}}},
		{name: "negative index", operand: Operand{Path: []Segment{key("args"), idx(-1)}}},
		{name: "index into map", operand: Operand{Path: []Segment{key("hdr"), idx(0)}}},
		{name: "key into array", operand: Operand{Path: []Segment{key("args"), key("x")}}},
		{name: "descend into scalar", operand: Operand{Path: []Segment{key("fd"), key("x")}}},
		{name: "unknown provider", operand: Operand{Scope: ScopeApp, Provider: "other", Path: []Segment{key("req")}}},
		{name: "context field in payload", operand: Operand{Path: []Segment{key("vpid")}}},
		{name: "empty path", operand: Operand{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := Resolve(tt.operand, ev)
			if found != tt.found {
				t.Fatalf("Resolve() found = %v, want %v", found, tt.found)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

// Property-based test: resolving index i of an array finds exactly the
// elements that exist.
func TestResolve_IndexProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("index resolves iff in range", prop.ForAll(
		func(n, i int) bool {
			arr := make([]any, n)
			for j := range arr {
				arr[j] = int64(j)
			}
			ev := Event{Payload: map[string]any{"a": arr}}
			got, found := Resolve(Operand{Path: []Segment{{Key: "a"}, {Index: i, IsIndex: true}}}, ev)
			if i >= 0 && i < n {
				return found && got == int64(i)
			}
			return !found && got == nil
		},
		gen.IntRange(0, 16),
		gen.IntRange(-4, 20),
	))

	properties.TestingRun(t)
}

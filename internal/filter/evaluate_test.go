package filter

import (
	"math"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func sampleEvent() Event {
	return Event{
		Payload: map[string]any{
			"fd":       int64(3),
			"count":    uint64(math.MaxUint64),
			"ratio":    0.75,
			"filename": "/etc/passwd",
			"args":     []any{uint64(1), nil, "x"},
			"msg":      map[string]any{"len": int64(42)},
			"missing":  nil,
		},
		Context: map[string]any{"procname": "bash", "vtid": int64(1234)},
		App:     map[string]map[string]any{"jvm": {"gc": int64(7)}},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		filter string
		want   bool
	}{
		{filter: "fd == 3", want: true},
		{filter: "fd != 3", want: false},
		{filter: "fd < 4 && fd >= 3", want: true},
		{filter: "fd == 3.0", want: true},
		{filter: "count == 18446744073709551615", want: true},
		{filter: "count > -1", want: true},
		{filter: "fd > -1", want: true},
		{filter: "ratio > 0.5", want: true},
		{filter: "ratio <= 0.5", want: false},
		{filter: `filename == "/etc/*"`, want: true},
		{filter: `filename != "/etc/*"`, want: false},
		{filter: `filename == "*passwd"`, want: true},
		{filter: `filename == "/etc/shadow"`, want: false},
		{filter: "args[0] == 1", want: true},
		{filter: "args[1] == 1", want: false},
		{filter: `args[2] == "x"`, want: true},
		{filter: "args[9] == 1", want: false},
		{filter: "msg.len == 42", want: true},
		{filter: `$ctx.procname == "ba*"`, want: true},
		{filter: "$ctx.vtid == 1234", want: true},
		{filter: "$app.jvm:gc >= 7", want: true},
		{filter: "$app.other:gc >= 7", want: false},
		{filter: "nosuch == 1", want: false},
		{filter: "!(nosuch == 1)", want: true},
		{filter: "missing == 0", want: false},
		{filter: `fd == "3"`, want: false},
		{filter: `filename == 3`, want: false},
		{filter: "fd == 4 || ratio > 0.5", want: true},
		{filter: "fd == 4 || ratio > 0.9", want: false},
		{filter: "!(fd == 4) && !(ratio > 0.9)", want: true},
		{filter: "0x3 == fd", want: true},
	}

	ev := sampleEvent()
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			bc, err := Compile(tt.filter, 0, 0)
			if err != nil {
				t.Fatalf("Compile() error = %v, want nil", err)
			}
			got, err := bc.Evaluate(ev)
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_RejectsMalformedProgram(t *testing.T) {
	tests := []struct {
		name string
		bc   *Bytecode
	}{
		{name: "empty program", bc: &Bytecode{}},
		{name: "not on empty stack", bc: &Bytecode{Program: []Instruction{{Op: OpcodeNot}}}},
		{name: "condition out of range", bc: &Bytecode{Program: []Instruction{{Op: OpcodeCompare, Arg: 2}}}},
		{name: "backward jump", bc: &Bytecode{
			Conditions: []CompiledCondition{{}},
			Program:    []Instruction{{Op: OpcodeCompare}, {Op: OpcodeJumpIfFalse, Arg: 0}},
		}},
		{name: "unknown opcode", bc: &Bytecode{Program: []Instruction{{Op: 99}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.bc.Evaluate(Event{}); err == nil {
				t.Errorf("Evaluate() error = nil, want error")
			}
		})
	}
}

// Property-based test: evaluation agrees with direct integer comparison.
func TestEvaluate_IntegerProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	bc, err := Compile("v < 0 || v >= 1000", 0, 0)
	require.NoError(t, err)

	properties.Property("matches outside [0, 1000)", prop.ForAll(
		func(v int64) bool {
			got, err := bc.Evaluate(Event{Payload: map[string]any{"v": v}})
			return err == nil && got == (v < 0 || v >= 1000)
		},
		gen.Int64Range(-5000, 5000),
	))

	properties.TestingRun(t)
}

func TestCachingCompiler(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	counting := CompilerFunc(func(filter string, uid, gid uint32) (*Bytecode, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return Compile(filter, uid, gid)
	})

	c, err := NewCachingCompiler(counting, 16)
	require.NoError(t, err)

	a, err := c.Compile("fd == 3", 1000, 100)
	require.NoError(t, err)
	b, err := c.Compile("fd == 3", 1000, 100)
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 1, calls)

	other, err := c.Compile("fd == 3", 1001, 100)
	require.NoError(t, err)
	require.NotSame(t, a, other)
	require.Equal(t, uint32(1001), other.UID)
	require.Equal(t, 2, calls)

	_, err = c.Compile("fd ==", 1000, 100)
	require.ErrorIs(t, err, ErrSyntax)
	_, err = c.Compile("fd ==", 1000, 100)
	require.ErrorIs(t, err, ErrSyntax)
	require.Equal(t, 4, calls)
	require.Equal(t, 2, c.Len())
}

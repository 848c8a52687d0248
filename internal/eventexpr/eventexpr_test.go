package eventexpr

import (
	"errors"
	"testing"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

func TestExpr_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		expr Expr
	}{
		{name: "payload field", expr: &PayloadField{Name: "fd"}},
		{name: "channel context", expr: &ChannelContextField{Name: "vpid"}},
		{name: "app context", expr: &AppContextField{Provider: "myapp", Type: "request_id"}},
		{name: "array element", expr: &ArrayElement{Parent: &PayloadField{Name: "args"}, Index: 3}},
		{
			name: "nested array element",
			expr: &ArrayElement{Parent: &ArrayElement{Parent: &ChannelContextField{Name: "stack"}, Index: 0}, Index: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := payload.New()
			if err := Serialize(tt.expr, p); err != nil {
				t.Fatalf("Serialize() error = %v, want nil", err)
			}
			got, n, err := Deserialize(p.View())
			if err != nil {
				t.Fatalf("Deserialize() error = %v, want nil", err)
			}
			if n != p.Len() {
				t.Errorf("Deserialize() consumed %d, want %d", n, p.Len())
			}
			if !Equal(tt.expr, got) {
				t.Errorf("Deserialize() = %s, want %s", got, tt.expr)
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

func TestDeserialize_RejectsDeepNesting(t *testing.T) {
	var e Expr = &PayloadField{Name: "x"}
	for i := 0; i < types.MaxExprDepth+1; i++ {
		e = &ArrayElement{Parent: e, Index: uint32(i)}
	}
	p := payload.New()
	if err := Serialize(e, p); err != nil {
		t.Fatalf("Serialize() error = %v, want nil", err)
	}
	if _, _, err := Deserialize(p.View()); !errors.Is(err, types.ErrCorrupt) {
		t.Errorf("Deserialize() error = %v, want ErrCorrupt", err)
	}
	if err := Validate(e); !errors.Is(err, types.ErrInvalid) {
		t.Errorf("Validate() error = %v, want ErrInvalid", err)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Expr
		want bool
	}{
		{name: "same payload field", a: &PayloadField{Name: "a"}, b: &PayloadField{Name: "a"}, want: true},
		{name: "different name", a: &PayloadField{Name: "a"}, b: &PayloadField{Name: "b"}},
		{name: "different kind same name", a: &PayloadField{Name: "a"}, b: &ChannelContextField{Name: "a"}},
		{
			name: "different index",
			a:    &ArrayElement{Parent: &PayloadField{Name: "a"}, Index: 1},
			b:    &ArrayElement{Parent: &PayloadField{Name: "a"}, Index: 2},
		},
		{name: "both nil", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
			if got := Equal(tt.b, tt.a); got != tt.want {
				t.Errorf("Equal() reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Expr
		wantErr bool
	}{
		{input: "fd", want: &PayloadField{Name: "fd"}},
		{input: "$ctx.procname", want: &ChannelContextField{Name: "procname"}},
		{input: "$app.jvm:gc_count", want: &AppContextField{Provider: "jvm", Type: "gc_count"}},
		{input: "args[2]", want: &ArrayElement{Parent: &PayloadField{Name: "args"}, Index: 2}},
		{input: "$ctx.stack[0][1]", want: &ArrayElement{
			Parent: &ArrayElement{Parent: &ChannelContextField{Name: "stack"}, Index: 0}, Index: 1,
		}},
		{input: "", wantErr: true},
		{input: "$app.noprovider", wantErr: true},
		{input: "$env.HOME", wantErr: true},
		{input: "[3]", wantErr: true},
		{input: "args[-1]", wantErr: true},
		{input: "$ctx.", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, types.ErrInvalid) {
					t.Errorf("Parse() error = %v, want ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v, want nil", err)
			}
			if !Equal(got, tt.want) {
				t.Errorf("Parse() = %s, want %s", got, tt.want)
			}
			if got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

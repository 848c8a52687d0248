package fieldvalue

import (
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/solatis/tracenotify/internal/types"
)

func TestCapture_RoundTrip(t *testing.T) {
	values := []Value{
		&UnsignedInt{Value: 0},
		&UnsignedInt{Value: math.MaxUint64},
		&SignedInt{Value: 5},
		&SignedInt{Value: math.MinInt64},
		&UnsignedEnum{Value: 2, Labels: []string{"RUNNING", "READY"}},
		&SignedEnum{Value: -1, Labels: nil},
		&Real{Value: 3.5},
		&Real{Value: math.NaN()},
		&String{Value: "hello"},
		&String{Value: ""},
		nil,
		&Array{Elements: []Value{&UnsignedInt{Value: 1}, nil, &Array{Elements: []Value{&String{Value: "x"}}}}},
		&Array{},
	}

	b, err := EncodeCapture(values)
	if err != nil {
		t.Fatalf("EncodeCapture() error = %v, want nil", err)
	}
	got, err := DecodeCapture(b, len(values))
	if err != nil {
		t.Fatalf("DecodeCapture() error = %v, want nil", err)
	}
	for i := range values {
		if !Equal(values[i], got[i]) {
			t.Errorf("value %d = %#v, want %#v", i, got[i], values[i])
		}
	}
}

func TestCapture_KeepsSignedness(t *testing.T) {
	b, err := EncodeCapture([]Value{&SignedInt{Value: 7}, &UnsignedInt{Value: 7}})
	if err != nil {
		t.Fatalf("EncodeCapture() error = %v, want nil", err)
	}
	got, err := DecodeCapture(b, 2)
	if err != nil {
		t.Fatalf("DecodeCapture() error = %v, want nil", err)
	}
	if got[0].Kind() != KindSignedInt {
		t.Errorf("value 0 kind = %v, want signed int", got[0].Kind())
	}
	if got[1].Kind() != KindUnsignedInt {
		t.Errorf("value 1 kind = %v, want unsigned int", got[1].Kind())
	}
}

func TestDecodeCapture_Rejects(t *testing.T) {
	valid, err := EncodeCapture([]Value{&String{Value: "abc"}, &UnsignedInt{Value: 300}})
	if err != nil {
		t.Fatalf("EncodeCapture() error = %v, want nil", err)
	}
	badEnum, _ := msgpack.Marshal([]any{map[string]any{"v": 1, "x": []string{}}})
	boolValue, _ := msgpack.Marshal([]any{true})

	tests := []struct {
		name string
		buf  []byte
		want int
	}{
		{name: "count mismatch", buf: valid, want: 3},
		{name: "truncated", buf: valid[:len(valid)-1], want: 2},
		{name: "trailing bytes", buf: append(append([]byte(nil), valid...), 0xc0), want: 2},
		{name: "empty buffer", buf: nil, want: 0},
		{name: "unknown enum key", buf: badEnum, want: 1},
		{name: "unsupported type", buf: boolValue, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeCapture(tt.buf, tt.want); !errors.Is(err, types.ErrCorrupt) {
				t.Errorf("DecodeCapture() error = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestAccessors(t *testing.T) {
	arr := &Array{Elements: []Value{&SignedEnum{Value: -3, Labels: []string{"NEG"}}, nil}}

	e, err := Element(arr, 0)
	if err != nil {
		t.Fatalf("Element(0) error = %v, want nil", err)
	}
	if v, err := Signed(e); err != nil || v != -3 {
		t.Errorf("Signed() = %d, %v, want -3, nil", v, err)
	}
	if l, err := Labels(e); err != nil || len(l) != 1 || l[0] != "NEG" {
		t.Errorf("Labels() = %v, %v, want [NEG], nil", l, err)
	}
	if _, err := Unsigned(e); !errors.Is(err, types.ErrInvalid) {
		t.Errorf("Unsigned() error = %v, want ErrInvalid", err)
	}
	if _, err := Element(arr, 1); !errors.Is(err, types.ErrUnset) {
		t.Errorf("Element(1) error = %v, want ErrUnset", err)
	}
	if _, err := Element(arr, 2); !errors.Is(err, types.ErrInvalid) {
		t.Errorf("Element(2) error = %v, want ErrInvalid", err)
	}
}

func TestNative(t *testing.T) {
	got := Native(&Array{Elements: []Value{&UnsignedEnum{Value: 4}, &String{Value: "s"}, nil}})
	arr, ok := got.([]any)
	if !ok || len(arr) != 3 {
		t.Fatalf("Native() = %#v, want 3-element slice", got)
	}
	if arr[0] != uint64(4) || arr[1] != "s" || arr[2] != nil {
		t.Errorf("Native() = %#v", arr)
	}
}

// Property-based test: scalar captures decode to values equal to their source.
func TestCapture_ScalarProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("unsigned, signed and string values survive encoding", prop.ForAll(
		func(u uint64, i int64, s string) bool {
			in := []Value{&UnsignedInt{Value: u}, &SignedInt{Value: i}, &String{Value: s}}
			b, err := EncodeCapture(in)
			if err != nil {
				return false
			}
			out, err := DecodeCapture(b, len(in))
			if err != nil {
				return false
			}
			for k := range in {
				if !Equal(in[k], out[k]) {
					return false
				}
			}
			return true
		},
		gen.UInt64(),
		gen.Int64(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

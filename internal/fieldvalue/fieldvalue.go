// internal/fieldvalue/fieldvalue.go
package fieldvalue

import (
	"fmt"
	"math"

	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Captured event field values.
 *
 * When an event rule with capture descriptors matches, the tracer extracts
 * one value per descriptor. A value is a scalar (unsigned, signed, real,
 * string), an enumeration (integer plus the labels mapping to it) or an
 * array of values. A nil Value means "unavailable": the descriptor named a
 * field the event did not carry, or an array element out of range.
 *
 * Values travel inside event-rule-hit evaluations as a msgpack document;
 * see capture.go.
 */

// Kind tags value variants.
type Kind int

const (
	KindUnsignedInt Kind = iota
	KindSignedInt
	KindUnsignedEnum
	KindSignedEnum
	KindReal
	KindString
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindUnsignedInt:
		return "unsigned int"
	case KindSignedInt:
		return "signed int"
	case KindUnsignedEnum:
		return "unsigned enum"
	case KindSignedEnum:
		return "signed enum"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value is implemented by every captured value variant.
type Value interface {
	Kind() Kind
}

type UnsignedInt struct{ Value uint64 }
type SignedInt struct{ Value int64 }
type Real struct{ Value float64 }
type String struct{ Value string }

// UnsignedEnum is an unsigned enumeration value with the labels whose
// ranges contain it. Labels may be empty.
type UnsignedEnum struct {
	Value  uint64
	Labels []string
}

// SignedEnum is the signed counterpart of UnsignedEnum.
type SignedEnum struct {
	Value  int64
	Labels []string
}

// Array holds element values; a nil element is unavailable.
type Array struct {
	Elements []Value
}

func (*UnsignedInt) Kind() Kind  { return KindUnsignedInt }
func (*SignedInt) Kind() Kind    { return KindSignedInt }
func (*UnsignedEnum) Kind() Kind { return KindUnsignedEnum }
func (*SignedEnum) Kind() Kind   { return KindSignedEnum }
func (*Real) Kind() Kind         { return KindReal }
func (*String) Kind() Kind       { return KindString }
func (*Array) Kind() Kind        { return KindArray }

// Unsigned returns the integer of an UnsignedInt or UnsignedEnum.
func Unsigned(v Value) (uint64, error) {
	switch x := v.(type) {
	case *UnsignedInt:
		return x.Value, nil
	case *UnsignedEnum:
		return x.Value, nil
	default:
		return 0, kindError("unsigned integer", v)
	}
}

// Signed returns the integer of a SignedInt or SignedEnum.
func Signed(v Value) (int64, error) {
	switch x := v.(type) {
	case *SignedInt:
		return x.Value, nil
	case *SignedEnum:
		return x.Value, nil
	default:
		return 0, kindError("signed integer", v)
	}
}

// Labels returns the labels of an enumeration value.
func Labels(v Value) ([]string, error) {
	switch x := v.(type) {
	case *UnsignedEnum:
		return x.Labels, nil
	case *SignedEnum:
		return x.Labels, nil
	default:
		return nil, kindError("enumeration", v)
	}
}

// Element returns element i of an array value. An unavailable element
// yields types.ErrUnset.
func Element(v Value, i int) (Value, error) {
	arr, ok := v.(*Array)
	if !ok {
		return nil, kindError("array", v)
	}
	if i < 0 || i >= len(arr.Elements) {
		return nil, fmt.Errorf("%w: index %d outside array of %d", types.ErrInvalid, i, len(arr.Elements))
	}
	if arr.Elements[i] == nil {
		return nil, fmt.Errorf("element %d: %w", i, types.ErrUnset)
	}
	return arr.Elements[i], nil
}

func kindError(want string, v Value) error {
	if v == nil {
		return fmt.Errorf("%w: value unavailable, want %s", types.ErrUnset, want)
	}
	return fmt.Errorf("%w: %s value, want %s", types.ErrInvalid, v.Kind(), want)
}

// Native converts v into the plain Go value used by filter evaluation:
// uint64, int64, float64, string, []any, or nil when unavailable.
// Enumerations convert to their integer.
func Native(v Value) any {
	switch x := v.(type) {
	case *UnsignedInt:
		return x.Value
	case *UnsignedEnum:
		return x.Value
	case *SignedInt:
		return x.Value
	case *SignedEnum:
		return x.Value
	case *Real:
		return x.Value
	case *String:
		return x.Value
	case *Array:
		out := make([]any, len(x.Elements))
		for i, e := range x.Elements {
			out[i] = Native(e)
		}
		return out
	default:
		return nil
	}
}

// Equal reports structural equality. Reals compare bitwise so NaN equals
// itself and a decoded value equals its source.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case *UnsignedInt:
		y, ok := b.(*UnsignedInt)
		return ok && x.Value == y.Value
	case *SignedInt:
		y, ok := b.(*SignedInt)
		return ok && x.Value == y.Value
	case *UnsignedEnum:
		y, ok := b.(*UnsignedEnum)
		return ok && x.Value == y.Value && equalLabels(x.Labels, y.Labels)
	case *SignedEnum:
		y, ok := b.(*SignedEnum)
		return ok && x.Value == y.Value && equalLabels(x.Labels, y.Labels)
	case *Real:
		y, ok := b.(*Real)
		return ok && math.Float64bits(x.Value) == math.Float64bits(y.Value)
	case *String:
		y, ok := b.(*String)
		return ok && x.Value == y.Value
	case *Array:
		y, ok := b.(*Array)
		if !ok || len(x.Elements) != len(y.Elements) {
			return false
		}
		for i := range x.Elements {
			if !Equal(x.Elements[i], y.Elements[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		return false
	}
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FromNative converts a plain Go value, as found in a filter.Event, into a
// field value. Unsupported types and nil convert to nil (unavailable).
func FromNative(x any) Value {
	switch v := x.(type) {
	case uint64:
		return &UnsignedInt{Value: v}
	case uint32:
		return &UnsignedInt{Value: uint64(v)}
	case uint:
		return &UnsignedInt{Value: uint64(v)}
	case int64:
		return &SignedInt{Value: v}
	case int32:
		return &SignedInt{Value: int64(v)}
	case int:
		return &SignedInt{Value: int64(v)}
	case float64:
		return &Real{Value: v}
	case float32:
		return &Real{Value: float64(v)}
	case string:
		return &String{Value: v}
	case []any:
		elems := make([]Value, len(v))
		for i, e := range v {
			elems[i] = FromNative(e)
		}
		return &Array{Elements: elems}
	default:
		return nil
	}
}

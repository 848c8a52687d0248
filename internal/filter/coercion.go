// internal/filter/coercion.go
package filter

import "errors"

/*
 * Type coercion for filter evaluation.
 *
 * The literal side of a comparison fixes the field type at compile time:
 * numeric literals select FieldTypeNumeric, string literals FieldTypeText.
 * Captured values are then coerced to that type before comparison.
 *
 * Unlike rule payloads, tracer values are already typed, so both modes are
 * strict: a string never compares against a number and vice versa.
 * Unavailable (nil) values are reported as IsNull and never match.
 */

// FieldType is the comparison type selected by the literal.
type FieldType int

const (
	FieldTypeUnspecified FieldType = iota
	FieldTypeNumeric
	FieldTypeText
)

// errCoercionFailed reports an impossible coercion; evaluation treats it as
// a non-match.
var errCoercionFailed = errors.New("coercion failed")

// CoercionResult holds the coerced value or indicates null.
type CoercionResult struct {
	Value  any
	IsNull bool
}

// Coerce converts value to the expected field type.
func Coerce(value any, fieldType FieldType) (CoercionResult, error) {
	if value == nil {
		return CoercionResult{IsNull: true}, nil
	}

	switch fieldType {
	case FieldTypeNumeric:
		return coerceNumeric(value)
	case FieldTypeText:
		return coerceText(value)
	default:
		return CoercionResult{}, errCoercionFailed
	}
}

// coerceNumeric normalizes integer widths to int64/uint64 and reals to
// float64.
func coerceNumeric(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case int64, uint64, float64:
		return CoercionResult{Value: v}, nil
	case int:
		return CoercionResult{Value: int64(v)}, nil
	case int32:
		return CoercionResult{Value: int64(v)}, nil
	case uint32:
		return CoercionResult{Value: uint64(v)}, nil
	case float32:
		return CoercionResult{Value: float64(v)}, nil
	default:
		return CoercionResult{}, errCoercionFailed
	}
}

// coerceText accepts strings only.
func coerceText(value any) (CoercionResult, error) {
	if s, ok := value.(string); ok {
		return CoercionResult{Value: s}, nil
	}
	return CoercionResult{}, errCoercionFailed
}

// internal/filter/operators.go
package filter

import (
	"math"
	"strings"
)

/*
 * Operator comparison logic.
 *
 * Values reach Compare already coerced (see coercion.go): numbers as
 * int64, uint64 or float64, text as string.
 *
 * Operators:
 *   - eq/neq: equality, exact for integers, IEEE for reals
 *   - lt/lte/gt/gte: numeric ordering only
 *   - prefix/suffix: produced by the compiler from "abc*" and "*abc" globs
 *
 * Integer comparison stays exact across int64/uint64 mixing; only a real on
 * either side drops to float64.
 */

// Operator identifies a comparison.
type Operator int

const (
	OpUnspecified Operator = iota
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpPrefix
	OpSuffix
)

func (op Operator) String() string {
	switch op {
	case OpEq:
		return "=="
	case OpNeq:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpPrefix:
		return "prefix"
	case OpSuffix:
		return "suffix"
	default:
		return "unspecified"
	}
}

// Compare applies the operator to value and target.
func Compare(op Operator, value, target any) bool {
	switch op {
	case OpEq:
		return compareEqual(value, target)
	case OpNeq:
		return !compareEqual(value, target)
	case OpLt:
		c, ok := compareNumeric(value, target)
		return ok && c < 0
	case OpLte:
		c, ok := compareNumeric(value, target)
		return ok && c <= 0
	case OpGt:
		c, ok := compareNumeric(value, target)
		return ok && c > 0
	case OpGte:
		c, ok := compareNumeric(value, target)
		return ok && c >= 0
	case OpPrefix:
		return comparePrefix(value, target)
	case OpSuffix:
		return compareSuffix(value, target)
	default:
		return false
	}
}

// compareEqual performs equality with numeric mixing.
func compareEqual(a, b any) bool {
	if c, ok := compareNumeric(a, b); ok {
		return c == 0
	}
	return a == b
}

// compareNumeric performs a three-way comparison. ok is false when either
// side is not a number, or a NaN is involved.
func compareNumeric(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), true
		case uint64:
			if x < 0 {
				return -1, true
			}
			return cmpOrdered(uint64(x), y), true
		}
	case uint64:
		switch y := b.(type) {
		case uint64:
			return cmpOrdered(x, y), true
		case int64:
			if y < 0 {
				return 1, true
			}
			return cmpOrdered(x, uint64(y)), true
		}
	}

	fa, oka := toFloat64(a)
	fb, okb := toFloat64(b)
	if !oka || !okb || math.IsNaN(fa) || math.IsNaN(fb) {
		return 0, false
	}
	return cmpOrdered(fa, fb), true
}

func cmpOrdered[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// toFloat64 converts a coerced number to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// comparePrefix checks if value starts with prefix (both must be strings).
func comparePrefix(value, prefix any) bool {
	vs, ok1 := value.(string)
	ps, ok2 := prefix.(string)
	if !ok1 || !ok2 {
		return false
	}
	return strings.HasPrefix(vs, ps)
}

// compareSuffix checks if value ends with suffix (both must be strings).
func compareSuffix(value, suffix any) bool {
	vs, ok1 := value.(string)
	ss, ok2 := suffix.(string)
	if !ok1 || !ok2 {
		return false
	}
	return strings.HasSuffix(vs, ss)
}

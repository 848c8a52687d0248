// internal/filter/cost.go
package filter

/*
 * Cost model for filter bytecode.
 *
 * cost = lookup_cost + operator_cost * type_multiplier
 *
 * The compiler orders nothing by cost (filter semantics fix the evaluation
 * order) but sums it into Bytecode.Cost and rejects programs above MaxCost,
 * which bounds per-event evaluation work in the daemon.
 */

const (
	CostEq     = 5
	CostNeq    = 5
	CostLt     = 7
	CostLte    = 7
	CostGt     = 7
	CostGte    = 7
	CostPrefix = 10
	CostSuffix = 10

	// Field lookup cost per path component.
	CostLookupPerSegment = 128

	MultiplierNumeric = 4
	MultiplierString  = 48

	// MaxCost is the largest accepted program cost.
	MaxCost = 1 << 20

	// MaxInstructions bounds the program length.
	MaxInstructions = 4096
)

// CalculateConditionCost computes the cost of one comparison.
func CalculateConditionCost(operand Operand, op Operator, fieldType FieldType) int {
	lookup := CostLookupPerSegment * len(operand.Path)
	if operand.Scope == ScopeApp {
		lookup += CostLookupPerSegment
	}
	return lookup + operatorCost(op)*typeMultiplier(fieldType)
}

func operatorCost(op Operator) int {
	switch op {
	case OpEq, OpNeq:
		return CostEq
	case OpLt, OpLte, OpGt, OpGte:
		return CostLt
	case OpPrefix, OpSuffix:
		return CostPrefix
	default:
		return CostEq
	}
}

func typeMultiplier(ft FieldType) int {
	if ft == FieldTypeText {
		return MultiplierString
	}
	return MultiplierNumeric
}

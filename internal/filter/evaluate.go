// internal/filter/evaluate.go
package filter

import (
	"fmt"

	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Bytecode evaluation.
 *
 * Per comparison: resolve operand -> coerce to the literal's type -> compare.
 * A missing or unavailable field, or one of the wrong type, makes that
 * comparison false; the rest of the program still runs, so
 * "!(missing == 1)" is true.
 */

// Evaluate runs the program against ev.
func (b *Bytecode) Evaluate(ev Event) (bool, error) {
	stack := make([]bool, 0, 8)
	pc := 0
	for pc < len(b.Program) {
		insn := b.Program[pc]
		switch insn.Op {
		case OpcodeCompare:
			if insn.Arg < 0 || insn.Arg >= len(b.Conditions) {
				return false, fmt.Errorf("%w: condition %d out of range", types.ErrCorrupt, insn.Arg)
			}
			stack = append(stack, evaluateCondition(b.Conditions[insn.Arg], ev))
		case OpcodeNot:
			if len(stack) == 0 {
				return false, fmt.Errorf("%w: stack underflow at %d", types.ErrCorrupt, pc)
			}
			stack[len(stack)-1] = !stack[len(stack)-1]
		case OpcodeJumpIfFalse, OpcodeJumpIfTrue:
			if len(stack) == 0 {
				return false, fmt.Errorf("%w: stack underflow at %d", types.ErrCorrupt, pc)
			}
			if insn.Arg <= pc || insn.Arg > len(b.Program) {
				return false, fmt.Errorf("%w: bad jump target %d at %d", types.ErrCorrupt, insn.Arg, pc)
			}
			top := stack[len(stack)-1]
			if top == (insn.Op == OpcodeJumpIfTrue) {
				pc = insn.Arg
				continue
			}
			stack = stack[:len(stack)-1]
		default:
			return false, fmt.Errorf("%w: unknown opcode %d", types.ErrCorrupt, insn.Op)
		}
		pc++
	}

	if len(stack) != 1 {
		return false, fmt.Errorf("%w: program left %d values", types.ErrCorrupt, len(stack))
	}
	return stack[0], nil
}

func evaluateCondition(cond CompiledCondition, ev Event) bool {
	raw, found := Resolve(cond.Operand, ev)
	if !found {
		return false
	}

	coerced, err := Coerce(raw, cond.FieldType)
	if err != nil || coerced.IsNull {
		return false
	}

	matched := Compare(cond.Operator, coerced.Value, cond.Value)
	if cond.Negate {
		return !matched
	}
	return matched
}

// internal/filter/compile.go
package filter

import (
	"fmt"
	"strings"

	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Filter compilation.
 *
 * Compiles filter text into a flat Bytecode program evaluated once per
 * event hit. The program is a sequence of instructions over a boolean
 * stack:
 *
 *   compare i     push Conditions[i] evaluated against the event
 *   not           negate the top of stack
 *   jfalse t      if top is false jump to t, otherwise pop    (&&)
 *   jtrue t       if top is true jump to t, otherwise pop     (||)
 *
 * so "&&" and "||" short-circuit exactly as written. Evaluation ends with
 * one value on the stack.
 *
 * Globs: a string literal ending in an unescaped '*' compiles to a prefix
 * comparison, one starting with '*' to a suffix comparison. "==" and "!="
 * are the only operators allowed with globs; "!=" negates the match.
 *
 * Bytecode records the (uid, gid) pair it was compiled for. Event rules
 * keep one program per owner and recompile when the owner changes.
 */

// Compiler produces bytecode for a filter on behalf of a principal.
type Compiler interface {
	Compile(filter string, uid, gid uint32) (*Bytecode, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(filter string, uid, gid uint32) (*Bytecode, error)

func (f CompilerFunc) Compile(filter string, uid, gid uint32) (*Bytecode, error) {
	return f(filter, uid, gid)
}

// Default compiles without caching.
var Default Compiler = CompilerFunc(Compile)

// Opcode identifies an instruction.
type Opcode uint8

const (
	OpcodeCompare Opcode = iota
	OpcodeNot
	OpcodeJumpIfFalse
	OpcodeJumpIfTrue
)

// Instruction is one bytecode step. Arg is a condition index for
// OpcodeCompare and a jump target for the jumps.
type Instruction struct {
	Op  Opcode
	Arg int
}

// CompiledCondition is a comparison ready for evaluation.
type CompiledCondition struct {
	Operand   Operand
	Operator  Operator
	FieldType FieldType
	Value     any
	Negate    bool // glob compiled from "!="
	Cost      int
}

// Bytecode is an immutable compiled filter.
type Bytecode struct {
	Filter     string
	UID        uint32
	GID        uint32
	Conditions []CompiledCondition
	Program    []Instruction
	Cost       int
}

// Len returns the number of instructions.
func (b *Bytecode) Len() int {
	return len(b.Program)
}

// Compile parses filter and emits its bytecode.
func Compile(filter string, uid, gid uint32) (*Bytecode, error) {
	if strings.TrimSpace(filter) == "" {
		return nil, fmt.Errorf("%w: %w: empty filter", types.ErrInvalid, ErrSyntax)
	}

	tree, err := parse(filter)
	if err != nil {
		return nil, err
	}

	bc := &Bytecode{Filter: filter, UID: uid, GID: gid}
	if err := bc.emit(tree); err != nil {
		return nil, err
	}
	if len(bc.Program) > MaxInstructions {
		return nil, fmt.Errorf("%w: %w: %d instructions exceed %d", types.ErrInvalid, ErrTooComplex, len(bc.Program), MaxInstructions)
	}
	if bc.Cost > MaxCost {
		return nil, fmt.Errorf("%w: %w: cost %d exceeds %d", types.ErrInvalid, ErrTooComplex, bc.Cost, MaxCost)
	}
	return bc, nil
}

func (b *Bytecode) emit(n node) error {
	switch x := n.(type) {
	case *compareNode:
		cc, err := compileCondition(x)
		if err != nil {
			return err
		}
		b.Cost += cc.Cost
		b.Conditions = append(b.Conditions, cc)
		b.Program = append(b.Program, Instruction{Op: OpcodeCompare, Arg: len(b.Conditions) - 1})
	case *notNode:
		if err := b.emit(x.x); err != nil {
			return err
		}
		b.Program = append(b.Program, Instruction{Op: OpcodeNot})
	case *logicalNode:
		if err := b.emit(x.left); err != nil {
			return err
		}
		jump := len(b.Program)
		op := OpcodeJumpIfFalse
		if x.or {
			op = OpcodeJumpIfTrue
		}
		b.Program = append(b.Program, Instruction{Op: op})
		if err := b.emit(x.right); err != nil {
			return err
		}
		b.Program[jump].Arg = len(b.Program)
	default:
		return fmt.Errorf("%w: filter node %T", types.ErrUnsupported, n)
	}
	return nil
}

// compileCondition selects the field type from the literal and turns globs
// into prefix/suffix comparisons.
func compileCondition(n *compareNode) (CompiledCondition, error) {
	cc := CompiledCondition{Operand: n.operand, Operator: n.op, Value: n.literal}

	switch lit := n.literal.(type) {
	case int64, uint64, float64:
		cc.FieldType = FieldTypeNumeric
	case string:
		cc.FieldType = FieldTypeText
		if err := compileString(&cc, lit); err != nil {
			return CompiledCondition{}, err
		}
	default:
		return CompiledCondition{}, fmt.Errorf("%w: literal %T", types.ErrUnsupported, n.literal)
	}

	cc.Cost = CalculateConditionCost(cc.Operand, cc.Operator, cc.FieldType)
	return cc, nil
}

func compileString(cc *CompiledCondition, lit string) error {
	if cc.Operator != OpEq && cc.Operator != OpNeq {
		return fmt.Errorf("%w: %w: %s against string literal", types.ErrInvalid, ErrTypeMismatch, cc.Operator)
	}

	stars := strings.Count(lit, "*")
	var glob Operator
	switch {
	case stars == 0:
	case stars == 1 && strings.HasSuffix(lit, "*"):
		glob, lit = OpPrefix, strings.TrimSuffix(lit, "*")
	case stars == 1 && strings.HasPrefix(lit, "*"):
		glob, lit = OpSuffix, strings.TrimPrefix(lit, "*")
	default:
		return fmt.Errorf("%w: %w: %q", types.ErrInvalid, ErrUnsupportedGlob, unescape(lit))
	}

	cc.Value = unescape(lit)
	if glob != OpUnspecified {
		cc.Negate = cc.Operator == OpNeq
		cc.Operator = glob
	}
	return nil
}

func unescape(s string) string {
	return strings.ReplaceAll(s, string(rune(escapedStar)), "*")
}

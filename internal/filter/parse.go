// internal/filter/parse.go
package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Filter expression parser.
 *
 * Grammar:
 *   expr       := and ( "||" and )*
 *   and        := unary ( "&&" unary )*
 *   unary      := "!" unary | "(" expr ")" | comparison
 *   comparison := term op term        exactly one side is an operand
 *   op         := "==" | "!=" | "<" | "<=" | ">" | ">="
 *   term       := operand | integer | float | string
 *   operand    := field | "$ctx." field | "$app." name ":" field
 *   field      := name ( "." name | "[" integer "]" )*
 *
 * A comparison written literal-first is normalized to operand-first with
 * the operator mirrored. Nesting deeper than types.MaxExprDepth is rejected
 * while parsing so hostile input cannot exhaust the stack.
 */

// Scope selects where an operand is looked up.
type Scope int

const (
	ScopePayload Scope = iota
	ScopeContext
	ScopeApp
)

// Segment is one step of an operand path: a field name or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Operand names a value inside an event.
type Operand struct {
	Scope    Scope
	Provider string // ScopeApp only
	Path     []Segment
}

func (o Operand) String() string {
	var b strings.Builder
	switch o.Scope {
	case ScopeContext:
		b.WriteString("$ctx.")
	case ScopeApp:
		b.WriteString("$app.")
		b.WriteString(o.Provider)
		b.WriteByte(':')
	}
	for i, seg := range o.Path {
		switch {
		case seg.IsIndex:
			fmt.Fprintf(&b, "[%d]", seg.Index)
		case i > 0:
			b.WriteByte('.')
			b.WriteString(seg.Key)
		default:
			b.WriteString(seg.Key)
		}
	}
	return b.String()
}

type node interface{ isNode() }

type notNode struct{ x node }

type logicalNode struct {
	or          bool
	left, right node
}

type compareNode struct {
	operand Operand
	op      Operator
	literal any // int64, uint64, float64 or string
}

func (*notNode) isNode()     {}
func (*logicalNode) isNode() {}
func (*compareNode) isNode() {}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokScope // "$ctx" or "$app"
	tokInt
	tokFloat
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type parser struct {
	src   string
	toks  []token
	i     int
	depth int
}

func syntaxError(pos int, format string, args ...any) error {
	return fmt.Errorf("%w: %w at offset %d: %s", types.ErrInvalid, ErrSyntax, pos, fmt.Sprintf(format, args...))
}

// parse turns filter text into an expression tree.
func parse(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxError(t.pos, "unexpected %q", t.text)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) accept(op string) bool {
	if t := p.peek(); t.kind == tokOp && t.text == op {
		p.i++
		return true
	}
	return false
}

func (p *parser) enter(pos int) error {
	p.depth++
	if p.depth > types.MaxExprDepth {
		return fmt.Errorf("%w: %w: nesting exceeds %d at offset %d", types.ErrInvalid, ErrTooComplex, types.MaxExprDepth, pos)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{or: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.accept("&&") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	t := p.peek()
	if err := p.enter(t.pos); err != nil {
		return nil, err
	}
	defer p.leave()

	if p.accept("!") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{x: x}, nil
	}
	if p.accept("(") {
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.accept(")") {
			return nil, syntaxError(p.peek().pos, "expected ')'")
		}
		return x, nil
	}
	return p.parseComparison()
}

var mirrored = map[Operator]Operator{
	OpEq: OpEq, OpNeq: OpNeq, OpLt: OpGt, OpLte: OpGte, OpGt: OpLt, OpGte: OpLte,
}

func (p *parser) parseComparison() (node, error) {
	start := p.peek().pos
	left, leftIsOperand, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	t := p.next()
	op, ok := comparisonOperator(t)
	if !ok {
		return nil, syntaxError(t.pos, "expected comparison operator, got %q", t.text)
	}

	right, rightIsOperand, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	switch {
	case leftIsOperand && !rightIsOperand:
		return &compareNode{operand: left.(Operand), op: op, literal: right}, nil
	case !leftIsOperand && rightIsOperand:
		return &compareNode{operand: right.(Operand), op: mirrored[op], literal: left}, nil
	case leftIsOperand:
		return nil, syntaxError(start, "comparison between two fields is not supported")
	default:
		return nil, syntaxError(start, "comparison between two literals")
	}
}

func comparisonOperator(t token) (Operator, bool) {
	if t.kind != tokOp {
		return OpUnspecified, false
	}
	switch t.text {
	case "==":
		return OpEq, true
	case "!=":
		return OpNeq, true
	case "<":
		return OpLt, true
	case "<=":
		return OpLte, true
	case ">":
		return OpGt, true
	case ">=":
		return OpGte, true
	default:
		return OpUnspecified, false
	}
}

// parseTerm returns either an Operand or a literal value.
func (p *parser) parseTerm() (any, bool, error) {
	t := p.next()
	switch t.kind {
	case tokInt:
		v, err := parseInteger(t)
		return v, false, err
	case tokFloat:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, false, syntaxError(t.pos, "bad float %q", t.text)
		}
		return f, false, nil
	case tokString:
		return t.text, false, nil
	case tokOp:
		if t.text == "-" {
			n := p.next()
			switch n.kind {
			case tokInt:
				v, err := parseInteger(token{kind: tokInt, text: "-" + n.text, pos: t.pos})
				return v, false, err
			case tokFloat:
				f, err := strconv.ParseFloat("-"+n.text, 64)
				if err != nil {
					return nil, false, syntaxError(n.pos, "bad float %q", n.text)
				}
				return f, false, nil
			}
			return nil, false, syntaxError(n.pos, "expected number after '-'")
		}
		return nil, false, syntaxError(t.pos, "unexpected %q", t.text)
	case tokScope:
		o, err := p.parseScoped(t)
		return o, true, err
	case tokIdent:
		path, err := p.parsePath(t)
		return Operand{Scope: ScopePayload, Path: path}, true, err
	default:
		return nil, false, syntaxError(t.pos, "unexpected end of filter")
	}
}

func parseInteger(t token) (any, error) {
	if i, err := strconv.ParseInt(t.text, 0, 64); err == nil {
		return i, nil
	}
	if u, err := strconv.ParseUint(t.text, 0, 64); err == nil {
		return u, nil
	}
	return nil, syntaxError(t.pos, "integer %q out of range", t.text)
}

func (p *parser) parseScoped(scope token) (Operand, error) {
	if !p.accept(".") {
		return Operand{}, syntaxError(p.peek().pos, "expected '.' after %s", scope.text)
	}
	name := p.next()
	if name.kind != tokIdent {
		return Operand{}, syntaxError(name.pos, "expected name after %s.", scope.text)
	}

	if scope.text == "$ctx" {
		path, err := p.parsePath(name)
		return Operand{Scope: ScopeContext, Path: path}, err
	}

	if !p.accept(":") {
		return Operand{}, syntaxError(p.peek().pos, "expected ':' after $app.%s", name.text)
	}
	field := p.next()
	if field.kind != tokIdent {
		return Operand{}, syntaxError(field.pos, "expected context type after ':'")
	}
	path, err := p.parsePath(field)
	return Operand{Scope: ScopeApp, Provider: name.text, Path: path}, err
}

func (p *parser) parsePath(first token) ([]Segment, error) {
	path := []Segment{{Key: first.text}}
	for {
		switch {
		case p.accept("."):
			t := p.next()
			if t.kind != tokIdent {
				return nil, syntaxError(t.pos, "expected field name after '.'")
			}
			path = append(path, Segment{Key: t.text})
		case p.accept("["):
			t := p.next()
			if t.kind != tokInt {
				return nil, syntaxError(t.pos, "expected array index")
			}
			idx, err := strconv.ParseUint(t.text, 0, 31)
			if err != nil {
				return nil, syntaxError(t.pos, "bad array index %q", t.text)
			}
			if !p.accept("]") {
				return nil, syntaxError(p.peek().pos, "expected ']'")
			}
			path = append(path, Segment{Index: int(idx), IsIndex: true})
		default:
			if len(path) > types.MaxExprDepth {
				return nil, fmt.Errorf("%w: %w: field path deeper than %d", types.ErrInvalid, ErrTooComplex, types.MaxExprDepth)
			}
			return path, nil
		}
	}
}

var twoCharOps = []string{"==", "!=", "<=", ">=", "&&", "||"}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j
		case c == '$':
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			scope := src[i:j]
			if scope != "$ctx" && scope != "$app" {
				return nil, syntaxError(i, "unknown scope %q", scope)
			}
			toks = append(toks, token{kind: tokScope, text: scope, pos: i})
			i = j
		case c >= '0' && c <= '9':
			j, kind := scanNumber(src, i)
			toks = append(toks, token{kind: kind, text: src[i:j], pos: i})
			i = j
		case c == '"' || c == '\'':
			s, j, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i = j
		default:
			matched := false
			for _, op := range twoCharOps {
				if strings.HasPrefix(src[i:], op) {
					toks = append(toks, token{kind: tokOp, text: op, pos: i})
					i += 2
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if strings.IndexByte("!<>()[].:-", c) < 0 {
				return nil, syntaxError(i, "unexpected character %q", c)
			}
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func scanNumber(src string, i int) (int, tokenKind) {
	j := i
	if strings.HasPrefix(src[i:], "0x") || strings.HasPrefix(src[i:], "0X") {
		j += 2
		for j < len(src) && strings.IndexByte("0123456789abcdefABCDEF", src[j]) >= 0 {
			j++
		}
		return j, tokInt
	}
	kind := tokInt
	for j < len(src) && src[j] >= '0' && src[j] <= '9' {
		j++
	}
	if j < len(src) && src[j] == '.' {
		kind = tokFloat
		j++
		for j < len(src) && src[j] >= '0' && src[j] <= '9' {
			j++
		}
	}
	if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
		k := j + 1
		if k < len(src) && (src[k] == '+' || src[k] == '-') {
			k++
		}
		if k < len(src) && src[k] >= '0' && src[k] <= '9' {
			kind = tokFloat
			j = k
			for j < len(src) && src[j] >= '0' && src[j] <= '9' {
				j++
			}
		}
	}
	return j, kind
}

// scanString reads a quoted literal. A backslash escapes the next byte, so
// `\*` yields a literal star that is not treated as a glob.
func scanString(src string, i int) (string, int, error) {
	quote := src[i]
	var b strings.Builder
	for j := i + 1; j < len(src); j++ {
		switch c := src[j]; c {
		case quote:
			return b.String(), j + 1, nil
		case '\\':
			if j+1 == len(src) {
				return "", 0, syntaxError(j, "dangling escape")
			}
			j++
			if src[j] == '*' {
				b.WriteByte(escapedStar)
				continue
			}
			b.WriteByte(src[j])
		case escapedStar:
			return "", 0, syntaxError(j, "control byte in string literal")
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, syntaxError(i, "unterminated string")
}

// escapedStar marks a backslash-escaped '*' until glob analysis in the
// compiler replaces it with a plain '*'.
const escapedStar = 0x01

// internal/eventexpr/eventexpr.go
package eventexpr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Capture descriptor expressions.
 *
 * An event-rule-hit condition lists the fields to capture when a rule
 * matches. Each descriptor is an lvalue naming where the value lives:
 *
 *   PayloadField         event payload field        "name"
 *   ChannelContextField  per-channel context field  "$ctx.name"
 *   AppContextField      application context        "$app.provider:type"
 *   ArrayElement         element of another lvalue  "expr[index]"
 *
 * Wire: {type i8} followed by
 *   payload / channel ctx: {name_len u32} + name
 *   app ctx:               {provider_len u32, type_len u32} + provider + type
 *   array element:         {index u32} + parent expression
 *
 * Array elements nest at most types.MaxExprDepth levels on decode.
 */

// Kind tags expression variants.
type Kind int8

const (
	KindPayloadField Kind = iota
	KindChannelContextField
	KindAppContextField
	KindArrayElement
)

// Expr is implemented by every expression variant.
type Expr interface {
	Kind() Kind
	String() string
}

// PayloadField names an event payload field.
type PayloadField struct{ Name string }

// ChannelContextField names a channel context field.
type ChannelContextField struct{ Name string }

// AppContextField names an application-provided context field.
type AppContextField struct {
	Provider string
	Type     string
}

// ArrayElement indexes into an array-valued lvalue.
type ArrayElement struct {
	Parent Expr
	Index  uint32
}

func (*PayloadField) Kind() Kind        { return KindPayloadField }
func (*ChannelContextField) Kind() Kind { return KindChannelContextField }
func (*AppContextField) Kind() Kind     { return KindAppContextField }
func (*ArrayElement) Kind() Kind        { return KindArrayElement }

func (e *PayloadField) String() string        { return e.Name }
func (e *ChannelContextField) String() string { return "$ctx." + e.Name }
func (e *AppContextField) String() string     { return "$app." + e.Provider + ":" + e.Type }
func (e *ArrayElement) String() string {
	return fmt.Sprintf("%s[%d]", e.Parent, e.Index)
}

// Validate checks that every name is set and array parents are present.
func Validate(e Expr) error {
	return validate(e, 0)
}

func validate(e Expr, depth int) error {
	if depth >= types.MaxExprDepth {
		return fmt.Errorf("%w: expression nests deeper than %d", types.ErrInvalid, types.MaxExprDepth)
	}
	switch x := e.(type) {
	case *PayloadField:
		return checkName("payload field name", x.Name)
	case *ChannelContextField:
		return checkName("context field name", x.Name)
	case *AppContextField:
		if err := checkName("app context provider", x.Provider); err != nil {
			return err
		}
		return checkName("app context type", x.Type)
	case *ArrayElement:
		if x.Parent == nil {
			return fmt.Errorf("%w: array element without parent", types.ErrInvalid)
		}
		return validate(x.Parent, depth+1)
	case nil:
		return fmt.Errorf("%w: expression is unset", types.ErrInvalid)
	default:
		return fmt.Errorf("%w: expression %T", types.ErrUnsupported, e)
	}
}

func checkName(what, s string) error {
	if s == "" {
		return fmt.Errorf("%w: %s is empty", types.ErrInvalid, what)
	}
	if len(s) > types.NameMax {
		return fmt.Errorf("%w: %s exceeds %d bytes", types.ErrInvalid, what, types.NameMax)
	}
	return nil
}

// Serialize appends e to p.
func Serialize(e Expr, p *payload.Payload) error {
	switch x := e.(type) {
	case *PayloadField:
		p.AppendI8(int8(KindPayloadField))
		p.AppendU32(payload.StringLen(x.Name))
		p.AppendString(x.Name)
	case *ChannelContextField:
		p.AppendI8(int8(KindChannelContextField))
		p.AppendU32(payload.StringLen(x.Name))
		p.AppendString(x.Name)
	case *AppContextField:
		p.AppendI8(int8(KindAppContextField))
		p.AppendU32(payload.StringLen(x.Provider))
		p.AppendU32(payload.StringLen(x.Type))
		p.AppendString(x.Provider)
		p.AppendString(x.Type)
	case *ArrayElement:
		p.AppendI8(int8(KindArrayElement))
		p.AppendU32(x.Index)
		return Serialize(x.Parent, p)
	default:
		return fmt.Errorf("serialize expression %T: %w", e, types.ErrUnsupported)
	}
	return nil
}

// Deserialize decodes an expression from the start of v and returns the
// number of bytes consumed.
func Deserialize(v payload.View) (Expr, int, error) {
	r := payload.NewReader(v)
	e := read(r, 0)
	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("deserialize expression: %w", err)
	}
	return e, r.Offset(), nil
}

func read(r *payload.Reader, depth int) Expr {
	if depth >= types.MaxExprDepth {
		r.Fail("expression nests deeper than %d", types.MaxExprDepth)
		return nil
	}
	switch k := Kind(r.I8()); k {
	case KindPayloadField:
		return &PayloadField{Name: r.String(r.U32(), "payload field name")}
	case KindChannelContextField:
		return &ChannelContextField{Name: r.String(r.U32(), "context field name")}
	case KindAppContextField:
		providerLen := r.U32()
		typeLen := r.U32()
		provider := r.String(providerLen, "app context provider")
		typ := r.String(typeLen, "app context type")
		return &AppContextField{Provider: provider, Type: typ}
	case KindArrayElement:
		index := r.U32()
		parent := read(r, depth+1)
		return &ArrayElement{Parent: parent, Index: index}
	default:
		if r.Err() == nil {
			r.Fail("unknown expression type %d", k)
		}
		return nil
	}
}

// Equal reports structural equality.
func Equal(a, b Expr) bool {
	switch x := a.(type) {
	case *PayloadField:
		y, ok := b.(*PayloadField)
		return ok && x.Name == y.Name
	case *ChannelContextField:
		y, ok := b.(*ChannelContextField)
		return ok && x.Name == y.Name
	case *AppContextField:
		y, ok := b.(*AppContextField)
		return ok && x.Provider == y.Provider && x.Type == y.Type
	case *ArrayElement:
		y, ok := b.(*ArrayElement)
		return ok && x.Index == y.Index && Equal(x.Parent, y.Parent)
	case nil:
		return b == nil
	default:
		return false
	}
}

// Parse reads the textual form produced by String.
func Parse(s string) (Expr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty capture expression", types.ErrInvalid)
	}

	if strings.HasSuffix(s, "]") {
		open := strings.LastIndexByte(s, '[')
		if open <= 0 {
			return nil, fmt.Errorf("%w: malformed array index in %q", types.ErrInvalid, s)
		}
		index, err := strconv.ParseUint(s[open+1:len(s)-1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: array index in %q: %v", types.ErrInvalid, s, err)
		}
		parent, err := Parse(s[:open])
		if err != nil {
			return nil, err
		}
		return checked(&ArrayElement{Parent: parent, Index: uint32(index)})
	}

	var e Expr
	switch {
	case strings.HasPrefix(s, "$ctx."):
		e = &ChannelContextField{Name: s[len("$ctx."):]}
	case strings.HasPrefix(s, "$app."):
		provider, typ, ok := strings.Cut(s[len("$app."):], ":")
		if !ok {
			return nil, fmt.Errorf("%w: app context %q lacks provider:type", types.ErrInvalid, s)
		}
		e = &AppContextField{Provider: provider, Type: typ}
	case strings.HasPrefix(s, "$"):
		return nil, fmt.Errorf("%w: unknown context scope in %q", types.ErrInvalid, s)
	default:
		e = &PayloadField{Name: s}
	}
	return checked(e)
}

func checked(e Expr) (Expr, error) {
	if err := Validate(e); err != nil {
		return nil, err
	}
	return e, nil
}

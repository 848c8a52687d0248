// internal/location/location.go
package location

import (
	"fmt"
	"strings"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Trace archive locations.
 *
 * A completed rotation reports where the archived chunk ended up: a local
 * directory, or a relay daemon plus a path relative to the relay's output
 * root.
 *
 * Wire: {type u8, len_a u32, len_b u32} + string a [+ string b]
 *   Local: a = absolute path, len_b = 0
 *   Relay: a = relay URI, b = relative path
 */

// Type tags location variants.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeLocal
	TypeRelay
)

// Location is implemented by Local and Relay.
type Location interface {
	Type() Type
	String() string
}

// Local is a trace archive on the daemon's filesystem.
type Local struct {
	AbsolutePath string
}

// Relay is a trace archive stored by a relay daemon.
type Relay struct {
	URI          string
	RelativePath string
}

func (*Local) Type() Type { return TypeLocal }
func (*Relay) Type() Type { return TypeRelay }

func (l *Local) String() string { return l.AbsolutePath }
func (l *Relay) String() string { return l.URI + "/" + l.RelativePath }

// Validate checks mandatory fields.
func Validate(loc Location) error {
	switch l := loc.(type) {
	case *Local:
		if !strings.HasPrefix(l.AbsolutePath, "/") {
			return fmt.Errorf("%w: local location %q is not absolute", types.ErrInvalid, l.AbsolutePath)
		}
		if len(l.AbsolutePath) >= types.PathMax {
			return fmt.Errorf("%w: local location exceeds %d bytes", types.ErrInvalid, types.PathMax-1)
		}
		return nil
	case *Relay:
		if l.URI == "" {
			return fmt.Errorf("%w: relay location has no URI", types.ErrInvalid)
		}
		if l.RelativePath == "" || strings.HasPrefix(l.RelativePath, "/") {
			return fmt.Errorf("%w: relay path %q must be relative", types.ErrInvalid, l.RelativePath)
		}
		if len(l.URI)+len(l.RelativePath) >= types.PathMax {
			return fmt.Errorf("%w: relay location exceeds %d bytes", types.ErrInvalid, types.PathMax-1)
		}
		return nil
	case nil:
		return fmt.Errorf("%w: location is unset", types.ErrInvalid)
	default:
		return fmt.Errorf("%w: location %T", types.ErrUnsupported, loc)
	}
}

// Serialize appends loc to p.
func Serialize(loc Location, p *payload.Payload) error {
	switch l := loc.(type) {
	case *Local:
		p.AppendU8(uint8(TypeLocal))
		p.AppendU32(payload.StringLen(l.AbsolutePath))
		p.AppendU32(0)
		p.AppendString(l.AbsolutePath)
	case *Relay:
		p.AppendU8(uint8(TypeRelay))
		p.AppendU32(payload.StringLen(l.URI))
		p.AppendU32(payload.StringLen(l.RelativePath))
		p.AppendString(l.URI)
		p.AppendString(l.RelativePath)
	default:
		return fmt.Errorf("serialize location %T: %w", loc, types.ErrUnsupported)
	}
	return nil
}

// Deserialize decodes a location from the start of v and returns the number
// of bytes consumed.
func Deserialize(v payload.View) (Location, int, error) {
	r := payload.NewReader(v)
	t := Type(r.U8())
	lenA := r.U32()
	lenB := r.U32()

	var loc Location
	switch t {
	case TypeLocal:
		if lenB != 0 {
			r.Fail("local location carries a second string of %d bytes", lenB)
		}
		loc = &Local{AbsolutePath: r.String(lenA, "local path")}
	case TypeRelay:
		uri := r.String(lenA, "relay URI")
		rel := r.String(lenB, "relay path")
		loc = &Relay{URI: uri, RelativePath: rel}
	default:
		r.Fail("unknown location type %d", t)
	}

	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("deserialize location: %w", err)
	}
	return loc, r.Offset(), nil
}

// Equal reports structural equality.
func Equal(a, b Location) bool {
	switch x := a.(type) {
	case *Local:
		y, ok := b.(*Local)
		return ok && *x == *y
	case *Relay:
		y, ok := b.(*Relay)
		return ok && *x == *y
	case nil:
		return b == nil
	default:
		return false
	}
}

package probe

import (
	"fmt"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

// UserspaceLocationType tags userspace probe location variants.
type UserspaceLocationType int8

const (
	UserspaceFunction UserspaceLocationType = iota
	UserspaceTracepoint
)

// LookupMethod selects how the daemon resolves a userspace location to an
// address in the target binary.
type LookupMethod int8

const (
	LookupDefault LookupMethod = iota
	LookupELF
	LookupSDT
)

func (m LookupMethod) String() string {
	switch m {
	case LookupDefault:
		return "default"
	case LookupELF:
		return "elf"
	case LookupSDT:
		return "sdt"
	default:
		return "unknown"
	}
}

// Instrumentation selects where in a function the probe fires.
type Instrumentation uint8

const (
	InstrumentEntry Instrumentation = iota
)

// UserspaceLocation is implemented by FunctionLocation and
// TracepointLocation.
type UserspaceLocation interface {
	UserspaceType() UserspaceLocationType
	Lookup() LookupMethod
}

// FunctionLocation probes a function symbol in a binary. Lookup is
// LookupDefault or LookupELF.
type FunctionLocation struct {
	BinaryPath      string
	FunctionName    string
	LookupMethod    LookupMethod
	Instrumentation Instrumentation
}

// TracepointLocation probes an SDT tracepoint. Lookup is always LookupSDT.
type TracepointLocation struct {
	BinaryPath string
	Provider   string
	Probe      string
}

func (*FunctionLocation) UserspaceType() UserspaceLocationType   { return UserspaceFunction }
func (*TracepointLocation) UserspaceType() UserspaceLocationType { return UserspaceTracepoint }
func (l *FunctionLocation) Lookup() LookupMethod                 { return l.LookupMethod }
func (*TracepointLocation) Lookup() LookupMethod                 { return LookupSDT }

// ValidateUserspace checks mandatory fields and lookup compatibility.
func ValidateUserspace(loc UserspaceLocation) error {
	switch l := loc.(type) {
	case *FunctionLocation:
		if err := validatePath(l.BinaryPath); err != nil {
			return err
		}
		if err := validateName("function name", l.FunctionName); err != nil {
			return err
		}
		if l.LookupMethod != LookupDefault && l.LookupMethod != LookupELF {
			return fmt.Errorf("%w: function location cannot use %s lookup", types.ErrInvalid, l.LookupMethod)
		}
		if l.Instrumentation != InstrumentEntry {
			return fmt.Errorf("%w: unknown instrumentation %d", types.ErrInvalid, l.Instrumentation)
		}
		return nil
	case *TracepointLocation:
		if err := validatePath(l.BinaryPath); err != nil {
			return err
		}
		if err := validateName("provider", l.Provider); err != nil {
			return err
		}
		return validateName("probe", l.Probe)
	case nil:
		return fmt.Errorf("%w: userspace probe location is unset", types.ErrInvalid)
	default:
		return fmt.Errorf("%w: userspace probe location %T", types.ErrUnsupported, loc)
	}
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: binary path is empty", types.ErrInvalid)
	}
	if len(path) >= types.PathMax {
		return fmt.Errorf("%w: binary path exceeds %d bytes", types.ErrInvalid, types.PathMax-1)
	}
	return nil
}

func validateName(what, name string) error {
	if name == "" {
		return fmt.Errorf("%w: %s is empty", types.ErrInvalid, what)
	}
	if len(name) > types.NameMax {
		return fmt.Errorf("%w: %s exceeds %d bytes", types.ErrInvalid, what, types.NameMax)
	}
	return nil
}

// SerializeUserspace appends loc to p.
func SerializeUserspace(loc UserspaceLocation, p *payload.Payload) error {
	switch l := loc.(type) {
	case *FunctionLocation:
		p.AppendI8(int8(UserspaceFunction))
		p.AppendI8(int8(l.LookupMethod))
		p.AppendU32(payload.StringLen(l.BinaryPath))
		p.AppendU32(payload.StringLen(l.FunctionName))
		p.AppendU8(uint8(l.Instrumentation))
		p.AppendString(l.BinaryPath)
		p.AppendString(l.FunctionName)
	case *TracepointLocation:
		p.AppendI8(int8(UserspaceTracepoint))
		p.AppendI8(int8(LookupSDT))
		p.AppendU32(payload.StringLen(l.BinaryPath))
		p.AppendU32(payload.StringLen(l.Provider))
		p.AppendU32(payload.StringLen(l.Probe))
		p.AppendString(l.BinaryPath)
		p.AppendString(l.Provider)
		p.AppendString(l.Probe)
	default:
		return fmt.Errorf("serialize userspace probe location %T: %w", loc, types.ErrUnsupported)
	}
	return nil
}

// DeserializeUserspace decodes a userspace location from the start of v and
// returns the number of bytes consumed.
func DeserializeUserspace(v payload.View) (UserspaceLocation, int, error) {
	r := payload.NewReader(v)
	var loc UserspaceLocation

	t := UserspaceLocationType(r.I8())
	lookup := LookupMethod(r.I8())
	switch t {
	case UserspaceFunction:
		pathLen := r.U32()
		nameLen := r.U32()
		instr := Instrumentation(r.U8())
		path := r.String(pathLen, "binary path")
		name := r.String(nameLen, "function name")
		if lookup != LookupDefault && lookup != LookupELF {
			r.Fail("function location with lookup method %d", lookup)
		}
		loc = &FunctionLocation{BinaryPath: path, FunctionName: name, LookupMethod: lookup, Instrumentation: instr}
	case UserspaceTracepoint:
		pathLen := r.U32()
		providerLen := r.U32()
		probeLen := r.U32()
		path := r.String(pathLen, "binary path")
		provider := r.String(providerLen, "provider name")
		probe := r.String(probeLen, "probe name")
		if lookup != LookupSDT {
			r.Fail("tracepoint location with lookup method %d", lookup)
		}
		loc = &TracepointLocation{BinaryPath: path, Provider: provider, Probe: probe}
	default:
		r.Fail("unknown userspace probe location type %d", t)
	}

	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("deserialize userspace probe location: %w", err)
	}
	return loc, r.Offset(), nil
}

// EqualUserspace reports structural equality.
func EqualUserspace(a, b UserspaceLocation) bool {
	switch x := a.(type) {
	case *FunctionLocation:
		y, ok := b.(*FunctionLocation)
		return ok && *x == *y
	case *TracepointLocation:
		y, ok := b.(*TracepointLocation)
		return ok && *x == *y
	case nil:
		return b == nil
	default:
		return false
	}
}

// internal/eventrule/eventrule.go
package eventrule

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/solatis/tracenotify/internal/filter"
	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/probe"
	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Event rules.
 *
 * An event rule describes which instrumentation points an event-rule-hit
 * condition matches: tracepoints (by name pattern and domain), system
 * calls, kernel probes and return probes, and userspace probes.
 *
 * Wire: {type i8} followed by the kind-specific header and payload. Nested
 * probe locations are written after a length field patched once the
 * location is serialized, and the reader checks the location consumed
 * exactly that many bytes.
 *
 * Filters: the user filter (unset vs "" are distinct, "" is invalid) is
 * turned into an internal filter by Populate. Agent domains (JUL, Log4j,
 * Python) fold the logger name pattern and log level into the internal
 * filter. The internal filter and its bytecode are daemon-side state: they
 * are never serialized and do not take part in equality.
 */

// Type tags event rule variants.
type Type int8

const (
	TypeTracepoint Type = iota
	TypeSyscall
	TypeKprobe
	TypeKretprobe
	TypeUprobe
)

func (t Type) String() string {
	switch t {
	case TypeTracepoint:
		return "tracepoint"
	case TypeSyscall:
		return "syscall"
	case TypeKprobe:
		return "kprobe"
	case TypeKretprobe:
		return "kretprobe"
	case TypeUprobe:
		return "uprobe"
	default:
		return "unknown"
	}
}

// Rule is implemented by every event rule variant.
type Rule interface {
	Type() Type
	Domain() types.DomainType
	populated() *internalFilter
}

// internalFilter is the daemon-side compiled form of a rule's filter.
type internalFilter struct {
	filter   *string
	bytecode *filter.Bytecode

	pattern    glob.Glob
	exclusions []glob.Glob
}

// Tracepoint matches tracepoints (or agent loggers) by name pattern.
type Tracepoint struct {
	DomainType types.DomainType
	Pattern    string
	Filter     *string
	LogLevel   LogLevelRule
	Exclusions []string

	internal internalFilter
}

// Syscall matches kernel system calls by name pattern.
type Syscall struct {
	Pattern string
	Filter  *string

	internal internalFilter
}

// Kprobe instruments a kernel location.
type Kprobe struct {
	Name     string
	Location probe.KernelLocation

	internal internalFilter
}

// Kretprobe instruments the return of a kernel function.
type Kretprobe struct {
	Name     string
	Location probe.KernelLocation

	internal internalFilter
}

// Uprobe instruments a userspace location.
type Uprobe struct {
	Name     string
	Location probe.UserspaceLocation

	internal internalFilter
}

func (*Tracepoint) Type() Type { return TypeTracepoint }
func (*Syscall) Type() Type    { return TypeSyscall }
func (*Kprobe) Type() Type     { return TypeKprobe }
func (*Kretprobe) Type() Type  { return TypeKretprobe }
func (*Uprobe) Type() Type     { return TypeUprobe }

func (r *Tracepoint) Domain() types.DomainType { return r.DomainType }
func (*Syscall) Domain() types.DomainType      { return types.DomainKernel }
func (*Kprobe) Domain() types.DomainType       { return types.DomainKernel }
func (*Kretprobe) Domain() types.DomainType    { return types.DomainKernel }
func (*Uprobe) Domain() types.DomainType       { return types.DomainUST }

func (r *Tracepoint) populated() *internalFilter { return &r.internal }
func (r *Syscall) populated() *internalFilter    { return &r.internal }
func (r *Kprobe) populated() *internalFilter     { return &r.internal }
func (r *Kretprobe) populated() *internalFilter  { return &r.internal }
func (r *Uprobe) populated() *internalFilter     { return &r.internal }

// Validate checks mandatory fields.
func Validate(r Rule) error {
	switch x := r.(type) {
	case *Tracepoint:
		return validateTracepoint(x)
	case *Syscall:
		if err := checkPattern(x.Pattern); err != nil {
			return err
		}
		return checkFilter(x.Filter)
	case *Kprobe:
		return validateKernelProbe(x.Name, x.Location)
	case *Kretprobe:
		return validateKernelProbe(x.Name, x.Location)
	case *Uprobe:
		if err := checkName(x.Name); err != nil {
			return err
		}
		return probe.ValidateUserspace(x.Location)
	case nil:
		return fmt.Errorf("%w: event rule is unset", types.ErrInvalid)
	default:
		return fmt.Errorf("%w: event rule %T", types.ErrUnsupported, r)
	}
}

func checkPattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: event rule pattern is empty", types.ErrInvalid)
	}
	if len(pattern) > types.NameMax {
		return fmt.Errorf("%w: event rule pattern exceeds %d bytes", types.ErrInvalid, types.NameMax)
	}
	if _, err := glob.Compile(pattern); err != nil {
		return fmt.Errorf("%w: event rule pattern %q: %v", types.ErrInvalid, pattern, err)
	}
	return nil
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: event rule name is empty", types.ErrInvalid)
	}
	if len(name) > types.NameMax {
		return fmt.Errorf("%w: event rule name exceeds %d bytes", types.ErrInvalid, types.NameMax)
	}
	return nil
}

func checkFilter(f *string) error {
	if f != nil && *f == "" {
		return fmt.Errorf("%w: filter is set but empty", types.ErrInvalid)
	}
	return nil
}

func validateKernelProbe(name string, loc probe.KernelLocation) error {
	if err := checkName(name); err != nil {
		return err
	}
	return probe.ValidateKernel(loc)
}

// Serialize appends r to p.
func Serialize(r Rule, p *payload.Payload) error {
	switch x := r.(type) {
	case *Tracepoint:
		p.AppendI8(int8(TypeTracepoint))
		serializeTracepoint(x, p)
	case *Syscall:
		p.AppendI8(int8(TypeSyscall))
		p.AppendU32(payload.StringLen(x.Pattern))
		p.AppendU32(payload.OptionalStringLen(x.Filter))
		p.AppendString(x.Pattern)
		p.AppendOptionalString(x.Filter)
	case *Kprobe:
		p.AppendI8(int8(TypeKprobe))
		return serializeKernelProbe(x.Name, x.Location, p)
	case *Kretprobe:
		p.AppendI8(int8(TypeKretprobe))
		return serializeKernelProbe(x.Name, x.Location, p)
	case *Uprobe:
		p.AppendI8(int8(TypeUprobe))
		p.AppendU32(payload.StringLen(x.Name))
		lenOff := p.Reserve(4)
		p.AppendString(x.Name)
		start := p.Len()
		if err := probe.SerializeUserspace(x.Location, p); err != nil {
			return fmt.Errorf("serialize uprobe %q: %w", x.Name, err)
		}
		p.PutU32At(lenOff, uint32(p.Len()-start))
	default:
		return fmt.Errorf("serialize event rule %T: %w", r, types.ErrUnsupported)
	}
	return nil
}

func serializeKernelProbe(name string, loc probe.KernelLocation, p *payload.Payload) error {
	p.AppendU32(payload.StringLen(name))
	lenOff := p.Reserve(4)
	p.AppendString(name)
	start := p.Len()
	if err := probe.SerializeKernel(loc, p); err != nil {
		return fmt.Errorf("serialize kernel probe %q: %w", name, err)
	}
	p.PutU32At(lenOff, uint32(p.Len()-start))
	return nil
}

// Deserialize decodes a rule from the start of v and returns the number of
// bytes consumed.
func Deserialize(v payload.View) (Rule, int, error) {
	r := payload.NewReader(v)
	var rule Rule

	switch t := Type(r.I8()); t {
	case TypeTracepoint:
		rule = readTracepoint(r)
	case TypeSyscall:
		patternLen := r.U32()
		filterLen := r.U32()
		pattern := r.String(patternLen, "syscall pattern")
		f := r.OptionalString(filterLen, "syscall filter")
		rule = &Syscall{Pattern: pattern, Filter: f}
	case TypeKprobe:
		name, loc := readKernelProbe(r)
		rule = &Kprobe{Name: name, Location: loc}
	case TypeKretprobe:
		name, loc := readKernelProbe(r)
		rule = &Kretprobe{Name: name, Location: loc}
	case TypeUprobe:
		name, loc := readUserspaceProbe(r)
		rule = &Uprobe{Name: name, Location: loc}
	default:
		r.Fail("unknown event rule type %d", t)
	}

	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("deserialize event rule: %w", err)
	}
	return rule, r.Offset(), nil
}

func readKernelProbe(r *payload.Reader) (string, probe.KernelLocation) {
	nameLen := r.U32()
	locLen := r.U32()
	name := r.String(nameLen, "kernel probe name")
	view := r.View(int(locLen))
	if r.Err() != nil {
		return "", nil
	}
	loc, n, err := probe.DeserializeKernel(view)
	if err != nil {
		r.Fail("kernel probe location: %v", err)
		return "", nil
	}
	if n != int(locLen) {
		r.Fail("kernel probe location consumed %d of %d bytes", n, locLen)
		return "", nil
	}
	return name, loc
}

func readUserspaceProbe(r *payload.Reader) (string, probe.UserspaceLocation) {
	nameLen := r.U32()
	locLen := r.U32()
	name := r.String(nameLen, "uprobe name")
	view := r.View(int(locLen))
	if r.Err() != nil {
		return "", nil
	}
	loc, n, err := probe.DeserializeUserspace(view)
	if err != nil {
		r.Fail("uprobe location: %v", err)
		return "", nil
	}
	if n != int(locLen) {
		r.Fail("uprobe location consumed %d of %d bytes", n, locLen)
		return "", nil
	}
	return name, loc
}

// Equal reports value equality. Internal filter state is ignored.
func Equal(a, b Rule) bool {
	switch x := a.(type) {
	case *Tracepoint:
		y, ok := b.(*Tracepoint)
		return ok && equalTracepoint(x, y)
	case *Syscall:
		y, ok := b.(*Syscall)
		return ok && x.Pattern == y.Pattern && equalOptional(x.Filter, y.Filter)
	case *Kprobe:
		y, ok := b.(*Kprobe)
		return ok && x.Name == y.Name && probe.EqualKernel(x.Location, y.Location)
	case *Kretprobe:
		y, ok := b.(*Kretprobe)
		return ok && x.Name == y.Name && probe.EqualKernel(x.Location, y.Location)
	case *Uprobe:
		y, ok := b.(*Uprobe)
		return ok && x.Name == y.Name && probe.EqualUserspace(x.Location, y.Location)
	case nil:
		return b == nil
	default:
		return false
	}
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// internal/probe/kernel.go
package probe

import (
	"fmt"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Kernel probe locations.
 *
 * A kprobe or kretprobe is attached either to a symbol plus byte offset or
 * to a raw kernel address. Both serialize behind a one-byte type prefix:
 *
 *   {type i8}
 *   SymbolOffset: {symbol_len u32, offset u64} + symbol
 *   Address:      {address u64}
 */

// KernelLocationType tags kernel probe location variants.
type KernelLocationType int8

const (
	KernelSymbolOffset KernelLocationType = iota
	KernelAddress
)

func (t KernelLocationType) String() string {
	switch t {
	case KernelSymbolOffset:
		return "symbol+offset"
	case KernelAddress:
		return "address"
	default:
		return "unknown"
	}
}

// KernelLocation is implemented by SymbolOffset and Address.
type KernelLocation interface {
	KernelType() KernelLocationType
}

// SymbolOffset places a probe at Offset bytes past Symbol.
type SymbolOffset struct {
	Symbol string
	Offset uint64
}

// Address places a probe at an absolute kernel address.
type Address struct {
	Address uint64
}

func (*SymbolOffset) KernelType() KernelLocationType { return KernelSymbolOffset }
func (*Address) KernelType() KernelLocationType      { return KernelAddress }

// String renders the location the way probe definitions are written.
func (l *SymbolOffset) String() string {
	if l.Offset == 0 {
		return l.Symbol
	}
	return fmt.Sprintf("%s+0x%x", l.Symbol, l.Offset)
}

func (l *Address) String() string {
	return fmt.Sprintf("0x%x", l.Address)
}

// ValidateKernel checks mandatory fields.
func ValidateKernel(loc KernelLocation) error {
	switch l := loc.(type) {
	case *SymbolOffset:
		if l.Symbol == "" {
			return fmt.Errorf("%w: kernel probe symbol is empty", types.ErrInvalid)
		}
		if len(l.Symbol) > types.NameMax {
			return fmt.Errorf("%w: kernel probe symbol exceeds %d bytes", types.ErrInvalid, types.NameMax)
		}
		return nil
	case *Address:
		return nil
	case nil:
		return fmt.Errorf("%w: kernel probe location is unset", types.ErrInvalid)
	default:
		return fmt.Errorf("%w: kernel probe location %T", types.ErrUnsupported, loc)
	}
}

// SerializeKernel appends loc to p.
func SerializeKernel(loc KernelLocation, p *payload.Payload) error {
	switch l := loc.(type) {
	case *SymbolOffset:
		p.AppendI8(int8(KernelSymbolOffset))
		p.AppendU32(payload.StringLen(l.Symbol))
		p.AppendU64(l.Offset)
		p.AppendString(l.Symbol)
	case *Address:
		p.AppendI8(int8(KernelAddress))
		p.AppendU64(l.Address)
	default:
		return fmt.Errorf("serialize kernel probe location %T: %w", loc, types.ErrUnsupported)
	}
	return nil
}

// DeserializeKernel decodes a kernel location from the start of v and
// returns the number of bytes consumed.
func DeserializeKernel(v payload.View) (KernelLocation, int, error) {
	r := payload.NewReader(v)
	var loc KernelLocation

	switch t := KernelLocationType(r.I8()); t {
	case KernelSymbolOffset:
		symbolLen := r.U32()
		offset := r.U64()
		symbol := r.String(symbolLen, "kernel probe symbol")
		loc = &SymbolOffset{Symbol: symbol, Offset: offset}
	case KernelAddress:
		loc = &Address{Address: r.U64()}
	default:
		r.Fail("unknown kernel probe location type %d", t)
	}

	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("deserialize kernel probe location: %w", err)
	}
	return loc, r.Offset(), nil
}

// EqualKernel reports structural equality.
func EqualKernel(a, b KernelLocation) bool {
	switch x := a.(type) {
	case *SymbolOffset:
		y, ok := b.(*SymbolOffset)
		return ok && x.Symbol == y.Symbol && x.Offset == y.Offset
	case *Address:
		y, ok := b.(*Address)
		return ok && x.Address == y.Address
	case nil:
		return b == nil
	default:
		return false
	}
}

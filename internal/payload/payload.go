// internal/payload/payload.go
package payload

import (
	"encoding/binary"
	"math"
	"math/bits"
)

/*
 * Growable serialization buffer.
 *
 * Payload is the write side of the wire codec: every object kind appends its
 * packed header and variable-length fields here. Readers use View and Reader.
 *
 * Layout rules shared by every object kind:
 *   - Headers are packed (no padding); fields are appended one by one.
 *   - Multi-byte integers use the host's native byte order. Control-plane
 *     peers share a host, so no swapping is performed.
 *   - Strings are appended with a trailing NUL and header length fields
 *     count that NUL.
 *   - Lengths of nested objects are patched in after the nested object is
 *     written (Reserve + PutU32At), so writers never serialize twice.
 *
 * Growth: capacity is rounded up to the next power of two of the required
 * size. A fresh slice is allocated and the old contents copied before the
 * swap, so a failed grow never loses buffered bytes.
 */

// Order is the byte order used for all control-plane integers.
var Order = binary.NativeEndian

// minCapacity is the first allocation size; small headers fit without regrowth.
const minCapacity = 64

// Payload accumulates serialized bytes.
type Payload struct {
	buf []byte
}

// New returns an empty payload.
func New() *Payload {
	return &Payload{}
}

// Len returns the number of bytes written.
func (p *Payload) Len() int {
	return len(p.buf)
}

// Cap returns the current capacity.
func (p *Payload) Cap() int {
	return cap(p.buf)
}

// Bytes returns the written bytes. The slice aliases the payload until the
// next append.
func (p *Payload) Bytes() []byte {
	return p.buf
}

// View returns a view over the whole payload.
func (p *Payload) View() View {
	return FromBytes(p.buf, 0, -1)
}

// Reset truncates the payload, keeping its capacity.
func (p *Payload) Reset() {
	p.buf = p.buf[:0]
}

// Append appends b, growing capacity to the next power of two if needed.
func (p *Payload) Append(b []byte) {
	p.reserveCapacity(len(b))
	p.buf = append(p.buf, b...)
}

// Reserve appends n zero bytes and returns their offset. Used for length
// fields patched once the nested object has been written.
func (p *Payload) Reserve(n int) int {
	p.reserveCapacity(n)
	off := len(p.buf)
	p.buf = p.buf[:off+n]
	clear(p.buf[off:])
	return off
}

// PutU32At overwrites a previously reserved u32.
func (p *Payload) PutU32At(off int, v uint32) {
	Order.PutUint32(p.buf[off:off+4], v)
}

// AppendU8 appends one unsigned byte.
func (p *Payload) AppendU8(v uint8) {
	p.reserveCapacity(1)
	p.buf = append(p.buf, v)
}

// AppendI8 appends one signed byte.
func (p *Payload) AppendI8(v int8) {
	p.AppendU8(uint8(v))
}

// AppendBool appends a u8 set to 0 or 1.
func (p *Payload) AppendBool(v bool) {
	if v {
		p.AppendU8(1)
		return
	}
	p.AppendU8(0)
}

// AppendU32 appends a native-endian u32.
func (p *Payload) AppendU32(v uint32) {
	p.reserveCapacity(4)
	p.buf = Order.AppendUint32(p.buf, v)
}

// AppendI32 appends a native-endian i32.
func (p *Payload) AppendI32(v int32) {
	p.AppendU32(uint32(v))
}

// AppendU64 appends a native-endian u64.
func (p *Payload) AppendU64(v uint64) {
	p.reserveCapacity(8)
	p.buf = Order.AppendUint64(p.buf, v)
}

// AppendF64 appends an IEEE-754 double in native byte order.
func (p *Payload) AppendF64(v float64) {
	p.AppendU64(math.Float64bits(v))
}

// AppendString appends s followed by a NUL terminator.
func (p *Payload) AppendString(s string) {
	p.reserveCapacity(len(s) + 1)
	p.buf = append(p.buf, s...)
	p.buf = append(p.buf, 0)
}

// StringLen returns the wire length of s: its bytes plus the NUL.
func StringLen(s string) uint32 {
	return uint32(len(s) + 1)
}

// OptionalStringLen returns 0 for an absent string, StringLen otherwise.
func OptionalStringLen(s *string) uint32 {
	if s == nil {
		return 0
	}
	return StringLen(*s)
}

// AppendOptionalString appends *s with its NUL, or nothing when s is nil.
func (p *Payload) AppendOptionalString(s *string) {
	if s != nil {
		p.AppendString(*s)
	}
}

// reserveCapacity ensures room for n more bytes.
func (p *Payload) reserveCapacity(n int) {
	required := len(p.buf) + n
	if required <= cap(p.buf) {
		return
	}
	grown := make([]byte, len(p.buf), nextPowerOfTwo(required))
	copy(grown, p.buf)
	p.buf = grown
}

// nextPowerOfTwo returns the smallest power of two >= n (and >= minCapacity).
func nextPowerOfTwo(n int) int {
	if n <= minCapacity {
		return minCapacity
	}
	return 1 << bits.Len(uint(n-1))
}

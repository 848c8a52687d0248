package payload

import (
	"fmt"
	"math"

	"github.com/solatis/tracenotify/internal/types"
)

// Reader is a cursor over a View. Every read is bounds checked; the first
// failure is sticky, later reads return zero values and Err reports the
// original failure wrapped in types.ErrCorrupt.
type Reader struct {
	v   View
	off int
	err error
}

// NewReader returns a cursor at the start of v.
func NewReader(v View) *Reader {
	r := &Reader{v: v}
	if !v.Valid() {
		r.err = fmt.Errorf("%w: invalid view", types.ErrCorrupt)
	}
	return r
}

// Err returns the first decoding failure, if any.
func (r *Reader) Err() error {
	return r.err
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.err != nil {
		return 0
	}
	return r.v.Len() - r.off
}

// Fail records err unless a failure is already recorded.
func (r *Reader) Fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", types.ErrCorrupt, fmt.Sprintf(format, args...))
	}
}

// Need checks that at least n bytes remain, e.g. for a fixed header.
func (r *Reader) Need(n int, what string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.v.Len()-r.off < n {
		r.Fail("%s needs %d bytes at offset %d, %d available", what, n, r.off, r.v.Len()-r.off)
		return false
	}
	return true
}

func (r *Reader) take(n int, what string) []byte {
	if !r.Need(n, what) {
		return nil
	}
	b := r.v.data[r.off : r.off+n]
	r.off += n
	return b
}

// U8 reads one unsigned byte.
func (r *Reader) U8() uint8 {
	b := r.take(1, "u8")
	if b == nil {
		return 0
	}
	return b[0]
}

// I8 reads one signed byte.
func (r *Reader) I8() int8 {
	return int8(r.U8())
}

// Bool reads a u8 flag; values other than 0 and 1 are corrupt.
func (r *Reader) Bool() bool {
	v := r.U8()
	if v > 1 {
		r.Fail("boolean flag has value %d", v)
		return false
	}
	return v == 1
}

// U32 reads a native-endian u32.
func (r *Reader) U32() uint32 {
	b := r.take(4, "u32")
	if b == nil {
		return 0
	}
	return Order.Uint32(b)
}

// I32 reads a native-endian i32.
func (r *Reader) I32() int32 {
	return int32(r.U32())
}

// U64 reads a native-endian u64.
func (r *Reader) U64() uint64 {
	b := r.take(8, "u64")
	if b == nil {
		return 0
	}
	return Order.Uint64(b)
}

// F64 reads a native-endian IEEE-754 double.
func (r *Reader) F64() float64 {
	return math.Float64frombits(r.U64())
}

// Bytes reads n raw bytes. The result aliases the underlying buffer.
func (r *Reader) Bytes(n uint32) []byte {
	return r.take(int(n), "byte field")
}

// String reads a wire string of n bytes (NUL included) and validates it.
func (r *Reader) String(n uint32, what string) string {
	if r.err != nil {
		return ""
	}
	if !ValidateString(r.v, r.off, int(n)) {
		r.Fail("%s: malformed string of length %d at offset %d", what, n, r.off)
		return ""
	}
	s := string(r.v.data[r.off : r.off+int(n)-1])
	r.off += int(n)
	return s
}

// OptionalString reads a string when n > 0 and returns nil when n == 0.
func (r *Reader) OptionalString(n uint32, what string) *string {
	if n == 0 {
		return nil
	}
	s := r.String(n, what)
	if r.err != nil {
		return nil
	}
	return &s
}

// View returns a sub-view of the next n bytes and advances past them; -1
// selects everything left.
func (r *Reader) View(n int) View {
	if r.err != nil {
		return View{}
	}
	if n == -1 {
		n = r.v.Len() - r.off
	}
	if !r.Need(n, "nested object") {
		return View{}
	}
	v := r.v.Sub(r.off, n)
	r.off += n
	return v
}

// Rest returns a view of all unread bytes without consuming them.
func (r *Reader) Rest() View {
	if r.err != nil {
		return View{}
	}
	return r.v.Sub(r.off, -1)
}

// Skip advances past n bytes, typically after a nested deserializer
// reported how much it consumed from Rest.
func (r *Reader) Skip(n int) {
	r.take(n, "nested object")
}

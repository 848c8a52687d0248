package payload

// View is a read-only, bounds-checked window over a byte slice. It never
// copies; its validity is tied to the backing slice.
//
// A View built from an out-of-range request is invalid: Valid reports false
// and Len reports 0. Consumers must check Valid before reading.
type View struct {
	data  []byte
	valid bool
}

// FromBytes returns a view of buf[offset:offset+length]. A length of -1
// selects the rest of buf.
func FromBytes(buf []byte, offset, length int) View {
	if offset < 0 || offset > len(buf) {
		return View{}
	}
	if length == -1 {
		return View{data: buf[offset:], valid: true}
	}
	if length < 0 || length > len(buf)-offset {
		return View{}
	}
	return View{data: buf[offset : offset+length], valid: true}
}

// Sub returns a view of v[offset:offset+length]; -1 selects the rest.
func (v View) Sub(offset, length int) View {
	if !v.valid {
		return View{}
	}
	return FromBytes(v.data, offset, length)
}

// Valid reports whether the view refers to an in-range window.
func (v View) Valid() bool {
	return v.valid
}

// Len returns the number of bytes in the view.
func (v View) Len() int {
	return len(v.data)
}

// Bytes returns the viewed bytes. Callers must not modify them.
func (v View) Bytes() []byte {
	return v.data
}

// ValidateString checks that v[offset:offset+length] is a well-formed wire
// string: in range, length >= 1, NUL-terminated at length-1 and free of
// earlier NULs. Every string read from an untrusted buffer goes through here.
func ValidateString(v View, offset, length int) bool {
	if !v.valid || length < 1 {
		return false
	}
	s := v.Sub(offset, length)
	if !s.valid {
		return false
	}
	b := s.data
	if b[length-1] != 0 {
		return false
	}
	for _, c := range b[:length-1] {
		if c == 0 {
			return false
		}
	}
	return true
}

package fieldvalue

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/solatis/tracenotify/internal/types"
)

// Capture payload layout (msgpack):
//
//	array(N)            one entry per capture descriptor, in order
//	  nil               unavailable
//	  uint64 / int64    always fixed-width so signedness survives
//	  float64
//	  str
//	  array(M)          nested values
//	  map{"v", "l"}     enumeration: integer value and label array

const (
	enumValueKey  = "v"
	enumLabelsKey = "l"
)

// EncodeCapture builds the capture payload for values.
func EncodeCapture(values []Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(len(values)); err != nil {
		return nil, err
	}
	for i, v := range values {
		if err := encodeValue(enc, v, 0); err != nil {
			return nil, fmt.Errorf("encode capture %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeValue(enc *msgpack.Encoder, v Value, depth int) error {
	if depth >= types.MaxExprDepth {
		return fmt.Errorf("%w: value nests deeper than %d", types.ErrInvalid, types.MaxExprDepth)
	}
	switch x := v.(type) {
	case nil:
		return enc.EncodeNil()
	case *UnsignedInt:
		return enc.EncodeUint64(x.Value)
	case *SignedInt:
		return enc.EncodeInt64(x.Value)
	case *Real:
		return enc.EncodeFloat64(x.Value)
	case *String:
		return enc.EncodeString(x.Value)
	case *UnsignedEnum:
		return encodeEnum(enc, func() error { return enc.EncodeUint64(x.Value) }, x.Labels)
	case *SignedEnum:
		return encodeEnum(enc, func() error { return enc.EncodeInt64(x.Value) }, x.Labels)
	case *Array:
		if err := enc.EncodeArrayLen(len(x.Elements)); err != nil {
			return err
		}
		for _, e := range x.Elements {
			if err := encodeValue(enc, e, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: field value %T", types.ErrUnsupported, v)
	}
}

func encodeEnum(enc *msgpack.Encoder, value func() error, labels []string) error {
	if err := enc.EncodeMapLen(2); err != nil {
		return err
	}
	if err := enc.EncodeString(enumValueKey); err != nil {
		return err
	}
	if err := value(); err != nil {
		return err
	}
	if err := enc.EncodeString(enumLabelsKey); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(labels)); err != nil {
		return err
	}
	for _, l := range labels {
		if err := enc.EncodeString(l); err != nil {
			return err
		}
	}
	return nil
}

// DecodeCapture parses a capture payload holding exactly want values.
// Any malformed or trailing data wraps types.ErrCorrupt.
func DecodeCapture(b []byte, want int) ([]Value, error) {
	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("%w: capture header: %v", types.ErrCorrupt, err)
	}
	if n != want {
		return nil, fmt.Errorf("%w: capture holds %d values, want %d", types.ErrCorrupt, n, want)
	}

	values := make([]Value, n)
	for i := range values {
		v, err := decodeValue(dec, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: capture %d: %v", types.ErrCorrupt, i, err)
		}
		values[i] = v
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after capture", types.ErrCorrupt, r.Len())
	}
	return values, nil
}

func decodeValue(dec *msgpack.Decoder, depth int) (Value, error) {
	if depth >= types.MaxExprDepth {
		return nil, fmt.Errorf("value nests deeper than %d", types.MaxExprDepth)
	}
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case c == msgpcode.Nil:
		return nil, dec.DecodeNil()
	case isUnsignedCode(c):
		u, err := dec.DecodeUint64()
		return &UnsignedInt{Value: u}, err
	case isSignedCode(c):
		i, err := dec.DecodeInt64()
		return &SignedInt{Value: i}, err
	case c == msgpcode.Float || c == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		return &Real{Value: f}, err
	case msgpcode.IsString(c):
		s, err := dec.DecodeString()
		return &String{Value: s}, err
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("nil array")
		}
		arr := &Array{Elements: make([]Value, 0, min(n, 1024))}
		for i := 0; i < n; i++ {
			e, err := decodeValue(dec, depth+1)
			if err != nil {
				return nil, err
			}
			arr.Elements = append(arr.Elements, e)
		}
		return arr, nil
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		return decodeEnum(dec)
	default:
		return nil, fmt.Errorf("unexpected msgpack code 0x%02x", c)
	}
}

func decodeEnum(dec *msgpack.Decoder) (Value, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, fmt.Errorf("enumeration map has %d entries, want 2", n)
	}

	var (
		value  Value
		labels []string
		seen   = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate enumeration key %q", key)
		}
		seen[key] = true

		switch key {
		case enumValueKey:
			c, err := dec.PeekCode()
			if err != nil {
				return nil, err
			}
			switch {
			case isUnsignedCode(c):
				u, err := dec.DecodeUint64()
				if err != nil {
					return nil, err
				}
				value = &UnsignedEnum{Value: u}
			case isSignedCode(c):
				s, err := dec.DecodeInt64()
				if err != nil {
					return nil, err
				}
				value = &SignedEnum{Value: s}
			default:
				return nil, fmt.Errorf("enumeration value has msgpack code 0x%02x", c)
			}
		case enumLabelsKey:
			count, err := dec.DecodeArrayLen()
			if err != nil {
				return nil, err
			}
			if count < 0 {
				return nil, fmt.Errorf("nil label array")
			}
			labels = make([]string, 0, min(count, 1024))
			for j := 0; j < count; j++ {
				l, err := dec.DecodeString()
				if err != nil {
					return nil, err
				}
				labels = append(labels, l)
			}
		default:
			return nil, fmt.Errorf("unknown enumeration key %q", key)
		}
	}

	switch e := value.(type) {
	case *UnsignedEnum:
		e.Labels = labels
	case *SignedEnum:
		e.Labels = labels
	}
	return value, nil
}

func isUnsignedCode(c byte) bool {
	return c <= msgpcode.PosFixedNumHigh ||
		c == msgpcode.Uint8 || c == msgpcode.Uint16 || c == msgpcode.Uint32 || c == msgpcode.Uint64
}

func isSignedCode(c byte) bool {
	return c >= msgpcode.NegFixedNumLow ||
		c == msgpcode.Int8 || c == msgpcode.Int16 || c == msgpcode.Int32 || c == msgpcode.Int64
}

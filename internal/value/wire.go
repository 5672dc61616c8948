package value

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire tag bytes, per §6 of the spec.
const (
	tagBool  byte = 'B'
	tagInt   byte = 'I'
	tagFloat byte = 'F'
	tagStr   byte = 'S'
	tagColor byte = 'C'
	tagArray byte = 'A'
)

// Encode serializes a Value for the durable backend, preserving the variant
// tag. This is the compact on-stream/on-disk form, not JSON.
func Encode(v Value) []byte {
	switch v.typ {
	case Bool:
		b := byte(0)
		if v.b {
			b = 1
		}
		return []byte{tagBool, b}
	case Int:
		buf := make([]byte, 9)
		buf[0] = tagInt
		binary.BigEndian.PutUint64(buf[1:], uint64(int64(v.i)))
		return buf
	case Float:
		buf := make([]byte, 9)
		buf[0] = tagFloat
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v.f))
		return buf
	case Str:
		sb := []byte(v.s)
		buf := make([]byte, 1+3+len(sb))
		buf[0] = tagStr
		put24(buf[1:4], len(sb))
		copy(buf[4:], sb)
		return buf
	case Color:
		return []byte{tagColor, v.c.R, v.c.G, v.c.B, v.c.A}
	default:
		panic(fmt.Sprintf("value: Encode: unknown type %v", v.typ))
	}
}

func put24(b []byte, n int) {
	b[0] = byte(n >> 16)
	b[1] = byte(n >> 8)
	b[2] = byte(n)
}

func get24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

// Decode parses the wire form produced by Encode, returning the number of
// bytes consumed. Array payloads (tag 'A') are reserved for the wire format
// but rejected here since they never reach the logic engine core.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, fmt.Errorf("value: Decode: empty buffer")
	}
	switch buf[0] {
	case tagBool:
		if len(buf) < 2 {
			return Value{}, 0, fmt.Errorf("value: Decode: truncated bool")
		}
		return NewBool(buf[1] != 0), 2, nil
	case tagInt:
		if len(buf) < 9 {
			return Value{}, 0, fmt.Errorf("value: Decode: truncated int")
		}
		n := int64(binary.BigEndian.Uint64(buf[1:9]))
		if n < math.MinInt32 || n > math.MaxInt32 {
			return Value{}, 0, fmt.Errorf("value: Decode: int %d out of 32-bit range", n)
		}
		return NewInt(int32(n)), 9, nil
	case tagFloat:
		if len(buf) < 9 {
			return Value{}, 0, fmt.Errorf("value: Decode: truncated float")
		}
		f := math.Float64frombits(binary.BigEndian.Uint64(buf[1:9]))
		v, err := NewFloat(f)
		if err != nil {
			return Value{}, 0, fmt.Errorf("value: Decode: %w", err)
		}
		return v, 9, nil
	case tagStr:
		if len(buf) < 4 {
			return Value{}, 0, fmt.Errorf("value: Decode: truncated str length")
		}
		n := get24(buf[1:4])
		if len(buf) < 4+n {
			return Value{}, 0, fmt.Errorf("value: Decode: truncated str payload")
		}
		return NewStr(string(buf[4 : 4+n])), 4 + n, nil
	case tagColor:
		if len(buf) < 5 {
			return Value{}, 0, fmt.Errorf("value: Decode: truncated color")
		}
		return NewColor(RGBA{R: buf[1], G: buf[2], B: buf[3], A: buf[4]}), 5, nil
	case tagArray:
		return Value{}, 0, fmt.Errorf("value: Decode: array variant not supported by the logic engine core")
	default:
		return Value{}, 0, fmt.Errorf("value: Decode: unknown tag %q", buf[0])
	}
}

// ParseIntLiteral parses a signed 32-bit integer literal, as used by the
// logic parser.
func ParseIntLiteral(s string) (Value, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return Value{}, fmt.Errorf("bad integer literal %q: %w", s, err)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return Value{}, fmt.Errorf("integer literal %q out of 32-bit range", s)
	}
	return NewInt(int32(n)), nil
}

// ParseFloatLiteral parses a finite 64-bit float literal.
func ParseFloatLiteral(s string) (Value, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	if err != nil {
		return Value{}, fmt.Errorf("bad float literal %q: %w", s, err)
	}
	return NewFloat(f)
}

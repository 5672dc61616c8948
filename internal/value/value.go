// Package value implements the tagged value type shared by the device
// fabric, the driver runtime, and the logic engine.
package value

import (
	"fmt"
	"math"
)

// Type identifies which variant a Value holds.
type Type int

const (
	Bool Type = iota
	Int
	Float
	Str
	Color
)

func (t Type) String() string {
	switch t {
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case Str:
		return "str"
	case Color:
		return "color"
	default:
		return "unknown"
	}
}

// RGBA is a linear-sRGB color with 8-bit alpha.
type RGBA struct {
	R, G, B, A uint8
}

// Value is a tagged union over the five scalar variants the fabric and the
// logic engine deal in. Homogeneous arrays of Bool/Int/Float/Str exist on
// the wire (see wire.go) but a bare Value never holds one — they don't
// participate in the logic engine in this scope.
type Value struct {
	typ Type
	b   bool
	i   int32
	f   float64
	s   string
	c   RGBA
}

func NewBool(b bool) Value  { return Value{typ: Bool, b: b} }
func NewInt(i int32) Value  { return Value{typ: Int, i: i} }
func NewStr(s string) Value { return Value{typ: Str, s: s} }
func NewColor(c RGBA) Value { return Value{typ: Color, c: c} }

// NewFloat constructs a float Value. NaN and ±Inf are not representable
// and return an error; logic engine arithmetic passes that error on as the
// expression's evaluation error.
func NewFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("float value must be finite, got %v", f)
	}
	return Value{typ: Float, f: f}, nil
}

// MustFloat is NewFloat for callers that have already validated finiteness.
func MustFloat(f float64) Value {
	v, err := NewFloat(f)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Value) Type() Type { return v.typ }

func (v Value) AsBool() (bool, bool)     { return v.b, v.typ == Bool }
func (v Value) AsInt() (int32, bool)     { return v.i, v.typ == Int }
func (v Value) AsFloat() (float64, bool) { return v.f, v.typ == Float }
func (v Value) AsStr() (string, bool)    { return v.s, v.typ == Str }
func (v Value) AsColor() (RGBA, bool)    { return v.c, v.typ == Color }

// AsNumeric returns the value widened to float64, for mixed int/float
// comparisons and arithmetic. ok is false for non-numeric variants.
func (v Value) AsNumeric() (float64, bool) {
	switch v.typ {
	case Int:
		return float64(v.i), true
	case Float:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal reports whether two values are identical in type and content.
// Because Float excludes NaN, this is a total equality relation.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case Bool:
		return v.b == o.b
	case Int:
		return v.i == o.i
	case Float:
		return v.f == o.f
	case Str:
		return v.s == o.s
	case Color:
		return v.c == o.c
	default:
		return false
	}
}

// Compare gives a total order within the numeric variants only (Int/Float,
// with Int promoted to float64 when the other operand is Float). ok is
// false for any other pairing — the caller (the logic evaluator) turns that
// into an EvalError rather than guessing an ordering.
func (v Value) Compare(o Value) (cmp int, ok bool) {
	vn, vok := v.AsNumeric()
	on, ook := o.AsNumeric()
	if !vok || !ook {
		return 0, false
	}
	switch {
	case vn < on:
		return -1, true
	case vn > on:
		return 1, true
	default:
		return 0, true
	}
}

func (v Value) String() string {
	switch v.typ {
	case Bool:
		return fmt.Sprintf("%v", v.b)
	case Int:
		return fmt.Sprintf("%d", v.i)
	case Float:
		return fmt.Sprintf("%g", v.f)
	case Str:
		return v.s
	case Color:
		return fmt.Sprintf("#%02x%02x%02x%02x", v.c.R, v.c.G, v.c.B, v.c.A)
	default:
		return "<invalid>"
	}
}

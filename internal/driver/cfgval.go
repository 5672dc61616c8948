package driver

import (
	"fmt"
	"math"

	"github.com/drmem/drmemd/internal/value"
)

// ParseTypeName maps a config-file "type" string to value.Type, for the
// built-in drivers whose device type is configurable (timer, cycle, latch,
// map, memory).
func ParseTypeName(s string) (value.Type, error) {
	switch s {
	case "bool":
		return value.Bool, nil
	case "int":
		return value.Int, nil
	case "float":
		return value.Float, nil
	case "str":
		return value.Str, nil
	case "color":
		return value.Color, nil
	default:
		return 0, fmt.Errorf("unknown type %q", s)
	}
}

// ValueFromConfig converts a raw TOML-decoded value (bool, int64, float64,
// or string) into a value.Value of the declared type. TOML's own lexer
// already picked the Go type; this just narrows/validates it against what
// the driver's configured device type declares.
func ValueFromConfig(typ value.Type, raw any) (value.Value, error) {
	switch typ {
	case value.Bool:
		b, ok := raw.(bool)
		if !ok {
			return value.Value{}, fmt.Errorf("want bool, got %T", raw)
		}
		return value.NewBool(b), nil
	case value.Int:
		switch n := raw.(type) {
		case int64:
			if n < math.MinInt32 || n > math.MaxInt32 {
				return value.Value{}, fmt.Errorf("int %d out of 32-bit range", n)
			}
			return value.NewInt(int32(n)), nil
		case int:
			return value.NewInt(int32(n)), nil
		default:
			return value.Value{}, fmt.Errorf("want int, got %T", raw)
		}
	case value.Float:
		switch f := raw.(type) {
		case float64:
			return value.NewFloat(f)
		case int64:
			return value.NewFloat(float64(f))
		default:
			return value.Value{}, fmt.Errorf("want float, got %T", raw)
		}
	case value.Str:
		s, ok := raw.(string)
		if !ok {
			return value.Value{}, fmt.Errorf("want string, got %T", raw)
		}
		return value.NewStr(s), nil
	case value.Color:
		s, ok := raw.(string)
		if !ok {
			return value.Value{}, fmt.Errorf("want color string, got %T", raw)
		}
		c, err := value.ParseColor(s)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewColor(c), nil
	default:
		return value.Value{}, fmt.Errorf("unknown type %v", typ)
	}
}

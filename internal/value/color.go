package value

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed colors.yaml
var namedColorsYAML []byte

var namedColors = loadNamedColors()

func loadNamedColors() map[string]RGBA {
	var raw map[string]string
	if err := yaml.Unmarshal(namedColorsYAML, &raw); err != nil {
		// The embedded table is a build-time constant; a parse failure here
		// is a programming error, not a runtime condition to recover from.
		panic(fmt.Sprintf("value: parsing embedded colors.yaml: %v", err))
	}
	out := make(map[string]RGBA, len(raw))
	for name, hex := range raw {
		c, err := parseHex6(hex)
		if err != nil {
			panic(fmt.Sprintf("value: bad entry %q in colors.yaml: %v", name, err))
		}
		out[name] = c
	}
	return out
}

func parseHex6(s string) (RGBA, error) {
	if len(s) != 6 {
		return RGBA{}, fmt.Errorf("want 6 hex digits, got %q", s)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGBA{}, err
	}
	return RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 255}, nil
}

// ParseColor accepts "#RRGGBB", "#RRGGBBAA", and the names in colors.yaml.
// Alpha defaults to 255 when not supplied.
func ParseColor(s string) (RGBA, error) {
	if named, ok := namedColors[strings.ToLower(s)]; ok {
		return named, nil
	}
	if !strings.HasPrefix(s, "#") {
		return RGBA{}, fmt.Errorf("color %q: not a named color and missing '#'", s)
	}
	hex := s[1:]
	switch len(hex) {
	case 6:
		return parseHex6(hex)
	case 8:
		n, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return RGBA{}, fmt.Errorf("color %q: %w", s, err)
		}
		return RGBA{
			R: uint8(n >> 24),
			G: uint8(n >> 16),
			B: uint8(n >> 8),
			A: uint8(n),
		}, nil
	default:
		return RGBA{}, fmt.Errorf("color %q: want #RRGGBB or #RRGGBBAA", s)
	}
}

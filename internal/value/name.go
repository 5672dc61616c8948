package value

import (
	"fmt"
	"strings"
)

// Name is a device name: a non-empty sequence of colon-separated segments,
// each matching [A-Za-z0-9][A-Za-z0-9-]*. Names are immutable once parsed.
type Name struct {
	raw      string
	segments []string
}

func isSegmentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSegmentRest(c byte) bool {
	return isSegmentStart(c) || c == '-'
}

func validSegment(s string) bool {
	if s == "" {
		return false
	}
	if !isSegmentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isSegmentRest(s[i]) {
			return false
		}
	}
	return true
}

// ParseName validates and parses a device name, returning BadName-shaped
// errors (the caller wraps these as fabric.ErrBadName) on failure.
func ParseName(s string) (Name, error) {
	if s == "" {
		return Name{}, fmt.Errorf("empty device name")
	}
	segs := strings.Split(s, ":")
	for _, seg := range segs {
		if !validSegment(seg) {
			return Name{}, fmt.Errorf("invalid device name segment %q in %q", seg, s)
		}
	}
	return Name{raw: s, segments: segs}, nil
}

// MustParseName is ParseName for call sites with a compile-time-known-valid
// literal (built-in driver device names).
func MustParseName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

func (n Name) String() string { return n.raw }

// WithLeaf returns a new Name formed by appending ":leaf" to the receiver,
// the way a driver instance prefix grows into one of its owned devices.
func (n Name) WithLeaf(leaf string) (Name, error) {
	return ParseName(n.raw + ":" + leaf)
}

// Segments returns the colon-separated components.
func (n Name) Segments() []string {
	out := make([]string, len(n.segments))
	copy(out, n.segments)
	return out
}

func (n Name) IsZero() bool { return n.raw == "" }

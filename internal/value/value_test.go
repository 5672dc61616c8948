package value

import "testing"

func TestEqualNaNFree(t *testing.T) {
	a := MustFloat(1.5)
	b := MustFloat(1.5)
	if !a.Equal(b) {
		t.Fatalf("expected 1.5 == 1.5")
	}
	if _, err := NewFloat(0); err != nil {
		t.Fatalf("0 should be finite: %v", err)
	}
}

func TestCompareMixedNumeric(t *testing.T) {
	i := NewInt(3)
	f := MustFloat(3.5)
	cmp, ok := i.Compare(f)
	if !ok || cmp >= 0 {
		t.Fatalf("expected 3 < 3.5, got cmp=%d ok=%v", cmp, ok)
	}
}

func TestCompareNonNumericFails(t *testing.T) {
	s1 := NewStr("a")
	s2 := NewStr("b")
	if _, ok := s1.Compare(s2); ok {
		t.Fatalf("strings must not participate in Compare")
	}
	if !s1.Equal(NewStr("a")) {
		t.Fatalf("string equality should hold")
	}
}

func TestParseName(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{"room:switch", true},
		{"t", true},
		{"t:output-1", true},
		{"", false},
		{"bad name", false},
		{":leading", false},
		{"trailing:", false},
		{"a::b", false},
	}
	for _, c := range cases {
		_, err := ParseName(c.in)
		if (err == nil) != c.valid {
			t.Errorf("ParseName(%q): valid=%v, err=%v", c.in, c.valid, err)
		}
	}
}

func TestNameWithLeaf(t *testing.T) {
	n := MustParseName("t")
	leaf, err := n.WithLeaf("output")
	if err != nil {
		t.Fatal(err)
	}
	if leaf.String() != "t:output" {
		t.Fatalf("got %q", leaf.String())
	}
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#ff0000")
	if err != nil {
		t.Fatal(err)
	}
	if c.R != 255 || c.G != 0 || c.B != 0 || c.A != 255 {
		t.Fatalf("got %+v", c)
	}
	c2, err := ParseColor("#00ff0080")
	if err != nil {
		t.Fatal(err)
	}
	if c2.A != 0x80 {
		t.Fatalf("want alpha 0x80, got %x", c2.A)
	}
	c3, err := ParseColor("red")
	if err != nil {
		t.Fatal(err)
	}
	if c3 != (RGBA{255, 0, 0, 255}) {
		t.Fatalf("got %+v", c3)
	}
	if _, err := ParseColor("not-a-color"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWireRoundTrip(t *testing.T) {
	vals := []Value{
		NewBool(true),
		NewInt(-42),
		MustFloat(3.25),
		NewStr("hello"),
		NewColor(RGBA{1, 2, 3, 4}),
	}
	for _, v := range vals {
		buf := Encode(v)
		got, n, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode(%v): %v", v, err)
		}
		if n != len(buf) {
			t.Fatalf("Decode consumed %d, want %d", n, len(buf))
		}
		if !got.Equal(v) {
			t.Fatalf("round trip: got %v, want %v", got, v)
		}
	}
}

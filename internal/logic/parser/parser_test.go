package parser_test

import (
	"testing"

	"github.com/drmem/drmemd/internal/logic/ast"
	"github.com/drmem/drmemd/internal/logic/parser"
	"github.com/drmem/drmemd/internal/value"
)

func eval(t *testing.T, e ast.Expr, locals map[string]value.Value) value.Value {
	t.Helper()
	v, err := e.Eval(&ast.Env{Locals: locals})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	return v
}

func TestParseArithmeticPrecedence(t *testing.T) {
	// 2 + 3 * 4 must parse as 2 + (3 * 4) = 14, not (2 + 3) * 4.
	e, err := parser.ParseExpr("2 + 3 * 4")
	if err != nil {
		t.Fatal(err)
	}
	v := eval(t, e, nil)
	n, _ := v.AsInt()
	if n != 14 {
		t.Fatalf("want 14, got %d", n)
	}
}

func TestParseFloatLiteralNotTruncated(t *testing.T) {
	e, err := parser.ParseExpr("3.5")
	if err != nil {
		t.Fatal(err)
	}
	v := eval(t, e, nil)
	f, ok := v.AsFloat()
	if !ok || f != 3.5 {
		t.Fatalf("want float 3.5, got %v", v)
	}
}

func TestParseComparisonAndLogic(t *testing.T) {
	e, err := parser.ParseExpr("{a} > 5 and {b} < 10")
	if err != nil {
		t.Fatal(err)
	}
	locals := map[string]value.Value{"a": value.NewInt(7), "b": value.NewInt(3)}
	v := eval(t, e, locals)
	b, _ := v.AsBool()
	if !b {
		t.Fatalf("want true, got %v", v)
	}
}

func TestParseIfWithoutElseSkipsOnFalse(t *testing.T) {
	e, err := parser.ParseExpr("if {a} then 1 end")
	if err != nil {
		t.Fatal(err)
	}
	ifExpr, ok := e.(*ast.If)
	if !ok {
		t.Fatalf("want *ast.If, got %T", e)
	}
	_, ok2, err := ifExpr.EvalCond(&ast.Env{Locals: map[string]value.Value{"a": value.NewBool(false)}})
	if err != nil {
		t.Fatal(err)
	}
	if ok2 {
		t.Fatal("want ok=false for a false condition with no else")
	}
}

func TestParseClockBuiltinReference(t *testing.T) {
	e, err := parser.ParseExpr("{utc:hour}")
	if err != nil {
		t.Fatal(err)
	}
	b, ok := e.(*ast.BuiltIn)
	if !ok {
		t.Fatalf("want *ast.BuiltIn, got %T", e)
	}
	if b.Zone != "utc" || b.Field != "hour" {
		t.Fatalf("want utc:hour, got %s:%s", b.Zone, b.Field)
	}
}

func TestParseRequiresFullOutputForm(t *testing.T) {
	prog, err := parser.Parse("{a} and {b} -> {out}")
	if err != nil {
		t.Fatal(err)
	}
	if prog.Output != "out" {
		t.Fatalf("want output \"out\", got %q", prog.Output)
	}
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	if _, err := parser.Parse("{a} -> {out} garbage"); err == nil {
		t.Fatal("want error for trailing input, got nil")
	}
}

func TestParseRejectsUnclosedParen(t *testing.T) {
	if _, err := parser.ParseExpr("(1 + 2"); err == nil {
		t.Fatal("want error for unclosed paren, got nil")
	}
}

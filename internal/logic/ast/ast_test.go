package ast_test

import (
	"math"
	"testing"

	"github.com/drmem/drmemd/internal/logic/ast"
	"github.com/drmem/drmemd/internal/value"
)

func TestBinaryTypeCheckRejectsMixedBoolArithmetic(t *testing.T) {
	e := &ast.Binary{Op: "+", L: &ast.Lit{Value: value.NewBool(true)}, R: &ast.Lit{Value: value.NewInt(1)}}
	if _, err := e.TypeCheck(&ast.TypeEnv{}); err == nil {
		t.Fatal("want type error for bool + int, got nil")
	}
}

func TestBinaryEvalIntegerOverflow(t *testing.T) {
	e := &ast.Binary{Op: "+", L: &ast.Lit{Value: value.NewInt(math.MaxInt32)}, R: &ast.Lit{Value: value.NewInt(1)}}
	if _, err := e.Eval(&ast.Env{}); err == nil {
		t.Fatal("want overflow error, got nil")
	}
}

func TestBinaryEvalDivisionByZero(t *testing.T) {
	e := &ast.Binary{Op: "/", L: &ast.Lit{Value: value.NewInt(1)}, R: &ast.Lit{Value: value.NewInt(0)}}
	if _, err := e.Eval(&ast.Env{}); err == nil {
		t.Fatal("want division-by-zero error, got nil")
	}
}

func TestEnvResolveMemoizesDefs(t *testing.T) {
	calls := 0
	countingExpr := countingExprFn(func() (value.Value, error) {
		calls++
		return value.NewInt(42), nil
	})
	env := &ast.Env{
		Locals:   map[string]value.Value{},
		DefExprs: map[string]ast.Expr{"d": countingExpr},
	}
	v1, err := env.Resolve("d")
	if err != nil {
		t.Fatal(err)
	}
	v2, err := env.Resolve("d")
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("want def evaluated exactly once, got %d calls", calls)
	}
	n1, _ := v1.AsInt()
	n2, _ := v2.AsInt()
	if n1 != 42 || n2 != 42 {
		t.Fatalf("want both resolves to return 42, got %d and %d", n1, n2)
	}
}

func TestEnvResolveDetectsCycle(t *testing.T) {
	env := &ast.Env{Locals: map[string]value.Value{}}
	env.DefExprs = map[string]ast.Expr{
		"a": &ast.Ident{Name: "b"},
		"b": &ast.Ident{Name: "a"},
	}
	if _, err := env.Resolve("a"); err == nil {
		t.Fatal("want cycle error, got nil")
	}
}

func TestIfWithoutElseTypeChecksFromThenBranch(t *testing.T) {
	i := &ast.If{
		Cond: &ast.Lit{Value: value.NewBool(true)},
		Then: &ast.Lit{Value: value.NewInt(1)},
	}
	typ, err := i.TypeCheck(&ast.TypeEnv{})
	if err != nil {
		t.Fatal(err)
	}
	if typ != value.Int {
		t.Fatalf("want Int, got %s", typ)
	}
}

func TestIfBranchTypeMismatchRejected(t *testing.T) {
	i := &ast.If{
		Cond: &ast.Lit{Value: value.NewBool(true)},
		Then: &ast.Lit{Value: value.NewInt(1)},
		Else: &ast.Lit{Value: value.NewStr("x")},
	}
	if _, err := i.TypeCheck(&ast.TypeEnv{}); err == nil {
		t.Fatal("want type mismatch error between branches, got nil")
	}
}

// countingExprFn adapts a closure to ast.Expr so tests can count Eval calls
// without a full node type.
type countingExprFn func() (value.Value, error)

func (f countingExprFn) TypeCheck(*ast.TypeEnv) (value.Type, error) { return value.Int, nil }
func (f countingExprFn) Eval(*ast.Env) (value.Value, error)         { return f() }

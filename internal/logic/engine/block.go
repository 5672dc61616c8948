// Package engine loads and reactively evaluates logic blocks (spec §4.5):
// the inputs/outputs/defs/exprs configuration unit that maps input devices
// to output devices through the expression language in internal/logic/ast.
package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/drmem/drmemd/internal/clock"
	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/logic/ast"
	"github.com/drmem/drmemd/internal/logic/parser"
	"github.com/drmem/drmemd/internal/value"
)

// Config is the raw, unresolved shape of one `[[logic]]` configuration
// section (spec §4.5, §6).
type Config struct {
	Label   string
	Inputs  map[string]string // local name -> input device name
	Outputs map[string]string // local name -> output device name
	Defs    map[string]string // local name -> expression source
	Exprs   []string          // "expr -> {output_local_name}" entries
}

// exprEntry pairs a parsed "expr -> {output}" program with the device name
// its output local resolves to.
type exprEntry struct {
	prog   *parser.Program
	device value.Name
}

// Block is a loaded, type-checked logic block ready to run.
type Block struct {
	label string

	inputDevices  map[string]value.Name // local -> device
	outputDevices map[string]value.Name // local -> device
	outputLocal   map[string]string     // device name string -> output local name

	defExprs map[string]ast.Expr
	defOrder []string // topological order, dependencies first

	exprs []exprEntry

	usesZone map[string]bool // "utc" | "local" | "solar" -> referenced at all

	lastWritten map[string]value.Value // device name string -> last emitted value
}

// Load parses, type-checks, and orders a Config against the device types
// backend already has on file from driver registration. Returns an error
// (which the caller logs before skipping the block) on any static problem:
// unknown local, def cycles, or a mistyped expression. A device bound as
// output by more than one block is not checked here; the caller checks
// that across all blocks with CheckSingleWriter.
func Load(ctx context.Context, backend fabric.Backend, cfg Config) (*Block, error) {
	b := &Block{
		label:         cfg.Label,
		inputDevices:  map[string]value.Name{},
		outputDevices: map[string]value.Name{},
		outputLocal:   map[string]string{},
		defExprs:      map[string]ast.Expr{},
		usesZone:      map[string]bool{},
		lastWritten:   map[string]value.Value{},
	}

	localTypes := map[string]value.Type{}

	for local, devName := range cfg.Inputs {
		name, err := value.ParseName(devName)
		if err != nil {
			return nil, fmt.Errorf("logic %q: input %q: %w", cfg.Label, local, err)
		}
		rec, err := backend.Lookup(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("logic %q: input %q device %q: %w", cfg.Label, local, devName, err)
		}
		b.inputDevices[local] = name
		localTypes[local] = rec.Type
	}

	for local, devName := range cfg.Outputs {
		name, err := value.ParseName(devName)
		if err != nil {
			return nil, fmt.Errorf("logic %q: output %q: %w", cfg.Label, local, err)
		}
		rec, err := backend.Lookup(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("logic %q: output %q device %q: %w", cfg.Label, local, devName, err)
		}
		if rec.Direction != fabric.ReadWrite {
			return nil, fmt.Errorf("logic %q: output %q device %q is read-only", cfg.Label, local, devName)
		}
		b.outputDevices[local] = name
		b.outputLocal[name.String()] = local
		localTypes[local] = rec.Type
	}

	rawDefs := map[string]ast.Expr{}
	for local, src := range cfg.Defs {
		e, err := parser.ParseExpr(src)
		if err != nil {
			return nil, fmt.Errorf("logic %q: def %q: %w", cfg.Label, local, err)
		}
		rawDefs[local] = e
	}

	order, err := orderDefs(rawDefs)
	if err != nil {
		return nil, fmt.Errorf("logic %q: %w", cfg.Label, err)
	}

	typeEnv := &ast.TypeEnv{Locals: localTypes}
	for _, local := range order {
		t, err := rawDefs[local].TypeCheck(typeEnv)
		if err != nil {
			return nil, fmt.Errorf("logic %q: def %q: %w", cfg.Label, local, err)
		}
		typeEnv.Locals[local] = t
	}
	b.defExprs = rawDefs
	b.defOrder = order

	for _, src := range cfg.Exprs {
		prog, err := parser.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("logic %q: expr %q: %w", cfg.Label, src, err)
		}
		dev, ok := b.outputDevices[prog.Output]
		if !ok {
			return nil, fmt.Errorf("logic %q: expr targets undeclared output %q", cfg.Label, prog.Output)
		}
		t, err := prog.Body.TypeCheck(typeEnv)
		if err != nil {
			return nil, fmt.Errorf("logic %q: expr -> {%s}: %w", cfg.Label, prog.Output, err)
		}
		if want := localTypes[prog.Output]; t != want {
			return nil, fmt.Errorf("logic %q: expr -> {%s}: result type %s does not match device type %s",
				cfg.Label, prog.Output, t, want)
		}
		collectZones(prog.Body, b.usesZone)
		b.exprs = append(b.exprs, exprEntry{prog: prog, device: dev})
	}
	for _, e := range rawDefs {
		collectZones(e, b.usesZone)
	}

	return b, nil
}

// orderDefs topologically sorts defs by reference so each is type-checked
// (and, later, evaluated) only after its dependencies. A reference cycle is
// a TypeCheckError at load time (spec §8, "Shared subexpressions").
func orderDefs(defs map[string]ast.Expr) ([]string, error) {
	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names) // deterministic iteration for reproducible diagnostics

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(defs))
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("cycle detected in defs, reached %q again", name)
		}
		color[name] = gray
		refs := map[string]bool{}
		collectLocals(defs[name], refs)
		depNames := make([]string, 0, len(refs))
		for r := range refs {
			depNames = append(depNames, r)
		}
		sort.Strings(depNames)
		for _, dep := range depNames {
			if _, ok := defs[dep]; !ok {
				continue // not a def reference (input/output local, or a clock field)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, n := range names {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func collectLocals(e ast.Expr, out map[string]bool) {
	switch n := e.(type) {
	case *ast.Ident:
		out[n.Name] = true
	case *ast.Unary:
		collectLocals(n.X, out)
	case *ast.Binary:
		collectLocals(n.L, out)
		collectLocals(n.R, out)
	case *ast.If:
		collectLocals(n.Cond, out)
		collectLocals(n.Then, out)
		if n.Else != nil {
			collectLocals(n.Else, out)
		}
	}
}

func collectZones(e ast.Expr, out map[string]bool) {
	switch n := e.(type) {
	case *ast.BuiltIn:
		out[n.Zone] = true
	case *ast.Unary:
		collectZones(n.X, out)
	case *ast.Binary:
		collectZones(n.L, out)
		collectZones(n.R, out)
	case *ast.If:
		collectZones(n.Cond, out)
		collectZones(n.Then, out)
		if n.Else != nil {
			collectZones(n.Else, out)
		}
	}
}

// CheckSingleWriter enforces the whole-configuration invariant that a
// device name is the assignment target of at most one expression across
// every loaded block (spec §4.5, §8). Call after Load-ing every block.
func CheckSingleWriter(blocks []*Block) error {
	owner := map[string]string{}
	for _, b := range blocks {
		for _, e := range b.exprs {
			key := e.device.String()
			if prev, ok := owner[key]; ok {
				return fmt.Errorf("device %q is written by both logic %q and logic %q", key, prev, b.label)
			}
			owner[key] = b.label
		}
	}
	return nil
}

// clockLocals maps a clock.Snapshot field to the key used by ast.BuiltIn.Eval
// ("zone:field").
func clockLocals(zone string, snap clock.Snapshot) map[string]value.Value {
	out := map[string]value.Value{}
	if zone == "solar" {
		out["solar:altitude"] = value.MustFloat(snap.SolarAltitude)
		out["solar:azimuth"] = value.MustFloat(snap.SolarAzimuth)
		out["solar:right-ascension"] = value.MustFloat(snap.SolarRightAscension)
		out["solar:declination"] = value.MustFloat(snap.SolarDeclination)
		return out
	}
	prefix := zone + ":"
	out[prefix+"seconds"] = value.NewInt(int32(snap.Second))
	out[prefix+"minute"] = value.NewInt(int32(snap.Minute))
	out[prefix+"hour"] = value.NewInt(int32(snap.Hour))
	out[prefix+"day"] = value.NewInt(int32(snap.Day))
	out[prefix+"month"] = value.NewInt(int32(snap.Month))
	out[prefix+"year"] = value.NewInt(int32(snap.Year))
	out[prefix+"day-of-week"] = value.NewInt(int32(snap.DayOfWeek))
	out[prefix+"day-of-year"] = value.NewInt(int32(snap.DayOfYear))
	out[prefix+"start-of-month"] = value.NewBool(snap.Day == 1)
	out[prefix+"end-of-month"] = value.NewBool(snap.EndOfMonth)
	out[prefix+"leap-year"] = value.NewBool(snap.LeapYear)
	return out
}

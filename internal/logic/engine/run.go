package engine

import (
	"context"
	"sort"

	"github.com/drmem/drmemd/internal/clock"
	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/logic/ast"
	"github.com/drmem/drmemd/internal/logging"
	"github.com/drmem/drmemd/internal/value"
)

// event is the fan-in unit for Run's select loop: either an input device's
// reading changed, or a clock/solar zone ticked.
type event struct {
	local string // input local name, set for device events
	item  fabric.Item

	zone string // "utc" | "local" | "solar", set for clock events
	snap clock.Snapshot
}

// Run subscribes to every device the block references as an input plus the
// clock/solar zones its expressions reference, and recomputes the block on
// every event until ctx is cancelled (spec §4.5, "Reactive evaluation").
// Run blocks until ctx is done; callers run it in its own goroutine, one
// per logic block, matching the scheduling model in spec §5.
func (b *Block) Run(ctx context.Context, backend fabric.Backend, clk *clock.Clock, log *logging.Logger) error {
	events := make(chan event, 16)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	locals := make([]string, 0, len(b.inputDevices))
	for local := range b.inputDevices {
		locals = append(locals, local)
	}
	sort.Strings(locals) // deterministic subscribe order, easier to reason about in logs

	for _, local := range locals {
		sub, err := backend.SubscribeReadings(ctx, b.inputDevices[local])
		if err != nil {
			log.Warnf("logic %s: subscribe %s (local %s): %v", b.label, b.inputDevices[local], local, err)
			continue
		}
		go forwardDevice(ctx, local, sub, events)
	}

	zones := make([]string, 0, len(b.usesZone))
	for z := range b.usesZone {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	for _, zone := range zones {
		ch, stop := clk.Subscribe(ctx, zone)
		defer stop()
		go forwardClock(ctx, zone, ch, events)
	}

	env := &ast.Env{
		Locals:   map[string]value.Value{},
		DefExprs: b.defExprs,
	}
	for local, dev := range b.outputDevices {
		if reading, ok, err := backend.Latest(ctx, dev); err == nil && ok {
			env.Locals[local] = reading.Value
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			b.applyEvent(env, ev)
			b.recompute(ctx, backend, env, log)
		}
	}
}

func forwardDevice(ctx context.Context, local string, sub fabric.Subscription, out chan<- event) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-sub.C():
			if !ok {
				return
			}
			select {
			case out <- event{local: local, item: item}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func forwardClock(ctx context.Context, zone string, ch <-chan clock.Snapshot, out chan<- event) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			select {
			case out <- event{zone: zone, snap: snap}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Block) applyEvent(env *ast.Env, ev event) {
	if ev.local != "" {
		// A gap item still carries the newest reading; only the readings
		// before it were dropped.
		env.Locals[ev.local] = ev.item.Reading.Value
		return
	}
	for k, v := range clockLocals(ev.zone, ev.snap) {
		env.Locals[k] = v
	}
}

// recompute runs one full left-to-right pass over the block's expressions
// (spec §4.5, "Determinism") and emits a setting for every output whose
// value changed since the last emitted value on that device.
func (b *Block) recompute(ctx context.Context, backend fabric.Backend, env *ast.Env, log *logging.Logger) {
	// defs are memoized per pass only; start each pass with a clean slate
	// for the def-derived locals while keeping input/output locals intact.
	fresh := &ast.Env{Locals: map[string]value.Value{}, DefExprs: env.DefExprs}
	for k, v := range env.Locals {
		if _, isDef := b.defExprs[k]; !isDef {
			fresh.Locals[k] = v
		}
	}
	*env = *fresh

	for _, e := range b.exprs {
		var (
			out value.Value
			ok  bool
			err error
		)
		if ifExpr, isIf := e.prog.Body.(*ast.If); isIf {
			out, ok, err = ifExpr.EvalCond(env)
		} else {
			out, err = e.prog.Body.Eval(env)
			ok = err == nil
		}
		if err != nil {
			log.Warnf("logic %s: expr -> {%s}: %v", b.label, e.prog.Output, err)
			continue
		}
		if !ok {
			continue
		}

		key := e.device.String()
		if prev, had := b.lastWritten[key]; had && prev.Equal(out) {
			continue
		}
		if _, err := backend.RouteSetting(ctx, e.device, out); err != nil {
			log.Warnf("logic %s: route setting %s = %v: %v", b.label, e.device, out, err)
			continue
		}
		b.lastWritten[key] = out
		if local, ok := b.outputLocal[key]; ok {
			env.Locals[local] = out
		}
	}
}

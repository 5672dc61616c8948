package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/drmem/drmemd/internal/clock"
	"github.com/drmem/drmemd/internal/driver"
	"github.com/drmem/drmemd/internal/drivers/memory"
	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/fabric/ephemeral"
	"github.com/drmem/drmemd/internal/logging"
	"github.com/drmem/drmemd/internal/logic/engine"
	"github.com/drmem/drmemd/internal/value"
)

// newMemoryDevice wires one memory-driver device so the engine under test
// has a real, addressable owner to route settings through.
func newMemoryDevice(t *testing.T, rt *driver.Runtime, prefix, name string, initial any) {
	t.Helper()
	cfg := map[string]any{"devices": []any{
		map[string]any{"name": name, "initial": initial},
	}}
	if err := rt.AddInstance(driver.InstanceConfig{Factory: "memory", Prefix: value.MustParseName(prefix), Cfg: cfg}); err != nil {
		t.Fatal(err)
	}
}

func TestBlockRecomputesOnInputChangeAndSkipsUnchangedWrites(t *testing.T) {
	backend := ephemeral.New()
	reg := driver.NewRegistry()
	reg.MustRegister("memory", memory.Factory)
	reg.Freeze()

	rt := driver.NewRuntime(backend, reg, nil)
	backend.SetSettingRouter(rt)

	newMemoryDevice(t, rt, "i", "in", int64(0))
	newMemoryDevice(t, rt, "o", "out", int64(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	cfg := engine.Config{
		Label:   "add-one",
		Inputs:  map[string]string{"x": "i:in"},
		Outputs: map[string]string{"y": "o:out"},
		Exprs:   []string{"{x} + 1 -> {y}"},
	}
	block, err := engine.Load(ctx, backend, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if err := engine.CheckSingleWriter([]*engine.Block{block}); err != nil {
		t.Fatal(err)
	}

	clk := clock.New(0, 0, false)
	go block.Run(ctx, backend, clk, logging.Default())
	time.Sleep(10 * time.Millisecond)

	sub, err := backend.SubscribeReadings(ctx, value.MustParseName("o:out"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	<-sub.C() // latest 1, from the block's first pass over the initial input 0

	if _, err := backend.RouteSetting(ctx, value.MustParseName("i:in"), value.NewInt(5)); err != nil {
		t.Fatal(err)
	}
	item := <-sub.C()
	n, _ := item.Reading.Value.AsInt()
	if n != 6 {
		t.Fatalf("want 6, got %d", n)
	}

	// Re-sending the same input value recomputes to the same output and must
	// not emit a second setting.
	if _, err := backend.RouteSetting(ctx, value.MustParseName("i:in"), value.NewInt(5)); err != nil {
		t.Fatal(err)
	}
	select {
	case again := <-sub.C():
		t.Fatalf("unexpected re-emit for an unchanged computed value: %v", again.Reading.Value)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestCheckSingleWriterRejectsDuplicateOutput(t *testing.T) {
	backend := ephemeral.New()
	reg := driver.NewRegistry()
	reg.MustRegister("memory", memory.Factory)
	reg.Freeze()

	rt := driver.NewRuntime(backend, reg, nil)
	backend.SetSettingRouter(rt)

	newMemoryDevice(t, rt, "i", "in", int64(0))
	newMemoryDevice(t, rt, "o", "out", int64(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	cfgA := engine.Config{
		Label:   "a",
		Inputs:  map[string]string{"x": "i:in"},
		Outputs: map[string]string{"y": "o:out"},
		Exprs:   []string{"{x} -> {y}"},
	}
	cfgB := engine.Config{
		Label:   "b",
		Inputs:  map[string]string{"x": "i:in"},
		Outputs: map[string]string{"y": "o:out"},
		Exprs:   []string{"{x} + 1 -> {y}"},
	}

	blockA, err := engine.Load(ctx, backend, cfgA)
	if err != nil {
		t.Fatal(err)
	}
	blockB, err := engine.Load(ctx, backend, cfgB)
	if err != nil {
		t.Fatal(err)
	}

	if err := engine.CheckSingleWriter([]*engine.Block{blockA, blockB}); err == nil {
		t.Fatal("want error for two logic blocks writing the same device, got nil")
	}
}

func TestLoadRejectsReadOnlyOutput(t *testing.T) {
	backend := ephemeral.New()
	ctx := context.Background()

	name := value.MustParseName("ro:value")
	if _, err := backend.Register(ctx, fabric.Registration{
		Name: name, Type: value.Int, Direction: fabric.ReadOnly, Owner: "ro",
	}); err != nil {
		t.Fatal(err)
	}

	cfg := engine.Config{
		Label:   "bad",
		Outputs: map[string]string{"y": "ro:value"},
		Exprs:   []string{"1 -> {y}"},
	}
	if _, err := engine.Load(ctx, backend, cfg); err == nil {
		t.Fatal("want error for read-only output device, got nil")
	}
}

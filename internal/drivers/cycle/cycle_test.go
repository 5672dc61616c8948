package cycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/drmem/drmemd/internal/driver"
	"github.com/drmem/drmemd/internal/drivers/cycle"
	"github.com/drmem/drmemd/internal/fabric/ephemeral"
	"github.com/drmem/drmemd/internal/value"
)

func TestCycleStepsSequenceAndRepeats(t *testing.T) {
	backend := ephemeral.New()
	reg := driver.NewRegistry()
	reg.MustRegister("cycle", cycle.Factory)
	reg.Freeze()

	rt := driver.NewRuntime(backend, reg, nil)
	backend.SetSettingRouter(rt)

	cfg := map[string]any{
		"type":          "str",
		"period_millis": int64(20),
		"sequence":      []any{"a", "b", "c"},
		"disabled":      "off",
	}
	if err := rt.AddInstance(driver.InstanceConfig{Factory: "cycle", Prefix: value.MustParseName("c"), Cfg: cfg}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	sub, err := backend.SubscribeReadings(ctx, value.MustParseName("c:output"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if _, err := backend.RouteSetting(ctx, value.MustParseName("c:enable"), value.NewBool(true)); err != nil {
		t.Fatal(err)
	}

	want := []string{"a", "b", "c", "a", "b"}
	for _, w := range want {
		item := <-sub.C()
		got, _ := item.Reading.Value.AsStr()
		if got != w {
			t.Fatalf("want %q, got %q", w, got)
		}
	}
}

func TestCycleDisabledHoldsDisabledValue(t *testing.T) {
	backend := ephemeral.New()
	reg := driver.NewRegistry()
	reg.MustRegister("cycle", cycle.Factory)
	reg.Freeze()

	rt := driver.NewRuntime(backend, reg, nil)
	backend.SetSettingRouter(rt)

	cfg := map[string]any{
		"type":          "str",
		"period_millis": int64(20),
		"sequence":      []any{"a", "b"},
		"disabled":      "off",
	}
	if err := rt.AddInstance(driver.InstanceConfig{Factory: "cycle", Prefix: value.MustParseName("c"), Cfg: cfg}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	sub, err := backend.SubscribeReadings(ctx, value.MustParseName("c:output"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	item := <-sub.C()
	got, _ := item.Reading.Value.AsStr()
	if got != "off" {
		t.Fatalf("want \"off\" while disabled, got %q", got)
	}

	// §4.4: output holds "disabled" — it must not be re-written on every
	// subsequent tick while still disabled.
	select {
	case item := <-sub.C():
		t.Fatalf("unexpected repeated disabled reading: %v", item.Reading.Value)
	case <-time.After(100 * time.Millisecond):
	}
}

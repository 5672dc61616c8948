package counter_test

import (
	"context"
	"testing"
	"time"

	"github.com/drmem/drmemd/internal/driver"
	"github.com/drmem/drmemd/internal/drivers/counter"
	"github.com/drmem/drmemd/internal/fabric/ephemeral"
	"github.com/drmem/drmemd/internal/value"
)

func TestCounterIncrementsOnRisingEdge(t *testing.T) {
	backend := ephemeral.New()
	reg := driver.NewRegistry()
	reg.MustRegister("counter", counter.Factory)
	reg.Freeze()

	rt := driver.NewRuntime(backend, reg, nil)
	backend.SetSettingRouter(rt)

	if err := rt.AddInstance(driver.InstanceConfig{Factory: "counter", Prefix: value.MustParseName("c"), Cfg: map[string]any{}}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	sub, err := backend.SubscribeReadings(ctx, value.MustParseName("c:count"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	item := <-sub.C()
	if n, _ := item.Reading.Value.AsInt(); n != 0 {
		t.Fatalf("want initial count 0, got %v", item.Reading.Value)
	}

	backend.RouteSetting(ctx, value.MustParseName("c:increment"), value.NewBool(true))
	backend.RouteSetting(ctx, value.MustParseName("c:increment"), value.NewBool(true)) // held high, no double-count
	backend.RouteSetting(ctx, value.MustParseName("c:increment"), value.NewBool(false))
	backend.RouteSetting(ctx, value.MustParseName("c:increment"), value.NewBool(true))

	want := []int32{1, 2}
	for _, w := range want {
		item := <-sub.C()
		if n, _ := item.Reading.Value.AsInt(); n != w {
			t.Fatalf("want %d, got %v", w, item.Reading.Value)
		}
	}
}

func TestCounterResetZeroes(t *testing.T) {
	backend := ephemeral.New()
	reg := driver.NewRegistry()
	reg.MustRegister("counter", counter.Factory)
	reg.Freeze()

	rt := driver.NewRuntime(backend, reg, nil)
	backend.SetSettingRouter(rt)

	if err := rt.AddInstance(driver.InstanceConfig{Factory: "counter", Prefix: value.MustParseName("c"), Cfg: map[string]any{}}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	sub, err := backend.SubscribeReadings(ctx, value.MustParseName("c:count"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	<-sub.C() // initial 0

	backend.RouteSetting(ctx, value.MustParseName("c:increment"), value.NewBool(true))
	item := <-sub.C()
	if n, _ := item.Reading.Value.AsInt(); n != 1 {
		t.Fatalf("want 1, got %v", item.Reading.Value)
	}

	backend.RouteSetting(ctx, value.MustParseName("c:reset"), value.NewBool(true))
	item = <-sub.C()
	if n, _ := item.Reading.Value.AsInt(); n != 0 {
		t.Fatalf("want 0 after reset, got %v", item.Reading.Value)
	}
}

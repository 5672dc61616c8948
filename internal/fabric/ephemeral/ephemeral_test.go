package ephemeral

import (
	"context"
	"testing"
	"time"

	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/value"
)

func reg(name string, dir fabric.Direction, typ value.Type) fabric.Registration {
	return fabric.Registration{Name: value.MustParseName(name), Type: typ, Direction: dir, Owner: "test"}
}

func TestLatestAfterWrites(t *testing.T) {
	ctx := context.Background()
	b := New()
	h, err := b.Register(ctx, reg("d:x", fabric.ReadOnly, value.Int))
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now()
	if err := b.Write(ctx, h, value.NewInt(1), base); err != nil {
		t.Fatal(err)
	}
	if err := b.Write(ctx, h, value.NewInt(2), base.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	r, ok, err := b.Latest(ctx, value.MustParseName("d:x"))
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if n, _ := r.Value.AsInt(); n != 2 {
		t.Fatalf("want 2, got %d", n)
	}
}

func TestTypeMismatchRejected(t *testing.T) {
	ctx := context.Background()
	b := New()
	h, _ := b.Register(ctx, reg("d:x", fabric.ReadOnly, value.Int))
	if err := b.Write(ctx, h, value.NewStr("nope"), time.Now()); err == nil {
		t.Fatal("expected type mismatch error")
	}
	if _, ok, _ := b.Latest(ctx, value.MustParseName("d:x")); ok {
		t.Fatal("latest should remain unset")
	}
}

func TestNonMonotonicRejected(t *testing.T) {
	ctx := context.Background()
	b := New()
	h, _ := b.Register(ctx, reg("d:x", fabric.ReadOnly, value.Int))
	base := time.Now()
	if err := b.Write(ctx, h, value.NewInt(1), base); err != nil {
		t.Fatal(err)
	}
	if err := b.Write(ctx, h, value.NewInt(2), base.Add(-time.Second)); err == nil {
		t.Fatal("expected non-monotonic error")
	}
	// equal timestamps are accepted
	if err := b.Write(ctx, h, value.NewInt(3), base); err != nil {
		t.Fatalf("equal ts should be accepted: %v", err)
	}
}

func TestReadOnlyDeviceRejectsSetting(t *testing.T) {
	ctx := context.Background()
	b := New()
	b.Register(ctx, reg("d:x", fabric.ReadOnly, value.Bool))
	if _, err := b.RouteSetting(ctx, value.MustParseName("d:x"), value.NewBool(true)); err == nil {
		t.Fatal("expected ReadOnly error")
	}
	if _, ok, _ := b.Latest(ctx, value.MustParseName("d:x")); ok {
		t.Fatal("no reading should be produced")
	}
}

type echoRouter struct{}

func (echoRouter) Route(_ context.Context, _ value.Name, v value.Value) (value.Value, error) {
	return v, nil
}

func TestRouteSettingReadWrite(t *testing.T) {
	ctx := context.Background()
	b := New()
	b.SetSettingRouter(echoRouter{})
	b.Register(ctx, reg("d:x", fabric.ReadWrite, value.Bool))
	got, err := b.RouteSetting(ctx, value.MustParseName("d:x"), value.NewBool(true))
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := got.AsBool(); !ok {
		t.Fatal("expected true echoed back")
	}
}

func TestSubscriptionDeliversLatestThenUpdates(t *testing.T) {
	ctx := context.Background()
	b := New()
	h, _ := b.Register(ctx, reg("d:x", fabric.ReadOnly, value.Int))
	b.Write(ctx, h, value.NewInt(1), time.Now())

	sub, err := b.SubscribeReadings(ctx, value.MustParseName("d:x"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	item := <-sub.C()
	if n, _ := item.Reading.Value.AsInt(); n != 1 {
		t.Fatalf("want initial 1, got %d", n)
	}

	b.Write(ctx, h, value.NewInt(2), time.Now().Add(time.Millisecond))
	item = <-sub.C()
	if n, _ := item.Reading.Value.AsInt(); n != 2 {
		t.Fatalf("want 2, got %d", n)
	}
}

func TestBackpressureCoalescesWithGap(t *testing.T) {
	ctx := context.Background()
	b := New()
	h, _ := b.Register(ctx, reg("d:x", fabric.ReadOnly, value.Int))

	sub, err := b.SubscribeReadings(ctx, value.MustParseName("d:x"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	// Flood well past the queue depth without draining.
	for i := int32(0); i < subscriberQueueDepth*2; i++ {
		b.Write(ctx, h, value.NewInt(i), time.Now().Add(time.Duration(i)*time.Millisecond))
	}

	var sawGap bool
	var last fabric.Item
	for {
		select {
		case item := <-sub.C():
			last = item
			if item.Gap {
				sawGap = true
			}
			continue
		default:
		}
		break
	}
	if !sawGap {
		t.Fatal("expected a gap indicator under backpressure")
	}
	if n, _ := last.Reading.Value.AsInt(); n != subscriberQueueDepth*2-1 {
		t.Fatalf("want newest value delivered, got %d", n)
	}
}

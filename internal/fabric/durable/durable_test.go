package durable

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/value"
)

func openTest(t *testing.T) *Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	b, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestRegisterWriteLatest(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)

	h, err := b.Register(ctx, fabric.Registration{
		Name: value.MustParseName("sump:pump"), Type: value.Bool,
		Direction: fabric.ReadOnly, Owner: "sump", HistoryDepth: 10,
	})
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	for i, v := range []bool{true, false, true} {
		if err := b.Write(ctx, h, value.NewBool(v), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	r, ok, err := b.Latest(ctx, value.MustParseName("sump:pump"))
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if got, _ := r.Value.AsBool(); !got {
		t.Fatalf("want true, got %v", got)
	}
}

func TestHistoryBoundedByDepth(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)

	h, err := b.Register(ctx, fabric.Registration{
		Name: value.MustParseName("sump:level"), Type: value.Int,
		Direction: fabric.ReadOnly, Owner: "sump", HistoryDepth: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	for i := int32(0); i < 10; i++ {
		if err := b.Write(ctx, h, value.NewInt(i), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	hist, err := b.History(ctx, value.MustParseName("sump:level"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Fatalf("want 3 readings retained, got %d", len(hist))
	}
	if n, _ := hist[len(hist)-1].Value.AsInt(); n != 9 {
		t.Fatalf("want newest 9, got %d", n)
	}
	if n, _ := hist[0].Value.AsInt(); n != 7 {
		t.Fatalf("want oldest retained 7, got %d", n)
	}
}

func TestRegisterIdempotentSameOwner(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)
	reg := fabric.Registration{Name: value.MustParseName("d:x"), Type: value.Int, Direction: fabric.ReadOnly, Owner: "o"}
	if _, err := b.Register(ctx, reg); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Register(ctx, reg); err != nil {
		t.Fatalf("idempotent re-register should succeed: %v", err)
	}
	reg.Type = value.Bool
	if _, err := b.Register(ctx, reg); err == nil {
		t.Fatal("conflicting re-register should fail")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")
	b1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	h, err := b1.Register(ctx, fabric.Registration{
		Name: value.MustParseName("d:x"), Type: value.Int, Direction: fabric.ReadOnly, Owner: "o", HistoryDepth: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := b1.Write(ctx, h, value.NewInt(7), time.Now()); err != nil {
		t.Fatal(err)
	}
	b1.Close()

	b2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b2.Close()
	r, ok, err := b2.Latest(ctx, value.MustParseName("d:x"))
	if err != nil || !ok {
		t.Fatalf("latest after reopen: ok=%v err=%v", ok, err)
	}
	if n, _ := r.Value.AsInt(); n != 7 {
		t.Fatalf("want 7, got %d", n)
	}
}

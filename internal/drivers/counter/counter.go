// Package counter implements the built-in "counter" driver (spec §4.4): a
// false→true edge on "increment" bumps "count"; "reset" zeroes it.
package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/drmem/drmemd/internal/driver"
	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/value"
)

func Factory() driver.Driver { return &Driver{} }

type Driver struct {
	incHandle   fabric.Handle
	incInbox    <-chan driver.SettingRequest
	resetHandle fabric.Handle
	resetInbox  <-chan driver.SettingRequest
	countHandle fabric.Handle

	lastInc bool
	count   int32
}

func (d *Driver) Init(ctx context.Context, r driver.Registrar, cfg map[string]any) error {
	ih, iin, err := r.Register(ctx, "increment", value.Bool, fabric.ReadWrite, "", 0)
	if err != nil {
		return fmt.Errorf("counter %s: register increment: %w", r.Prefix(), err)
	}
	d.incHandle, d.incInbox = ih, iin

	rh, rin, err := r.Register(ctx, "reset", value.Bool, fabric.ReadWrite, "", 0)
	if err != nil {
		return fmt.Errorf("counter %s: register reset: %w", r.Prefix(), err)
	}
	d.resetHandle, d.resetInbox = rh, rin

	ch, _, err := r.Register(ctx, "count", value.Int, fabric.ReadOnly, "", 0)
	if err != nil {
		return fmt.Errorf("counter %s: register count: %w", r.Prefix(), err)
	}
	d.countHandle = ch

	r.Write(ctx, d.countHandle, value.NewInt(0), time.Now())
	return nil
}

func (d *Driver) Run(ctx context.Context, r driver.Registrar) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case req, ok := <-d.incInbox:
			if !ok {
				return fmt.Errorf("increment inbox closed")
			}
			b, okType := req.Value.AsBool()
			if !okType {
				req.Reply <- driver.SettingReply{Err: fmt.Errorf("increment: %w", fabric.ErrTypeMismatch)}
				continue
			}
			r.Write(ctx, d.incHandle, value.NewBool(b), time.Now())
			req.Reply <- driver.SettingReply{Applied: value.NewBool(b)}

			if b && !d.lastInc {
				d.count++
				r.Write(ctx, d.countHandle, value.NewInt(d.count), time.Now())
			}
			d.lastInc = b

		case req, ok := <-d.resetInbox:
			if !ok {
				return fmt.Errorf("reset inbox closed")
			}
			b, okType := req.Value.AsBool()
			if !okType {
				req.Reply <- driver.SettingReply{Err: fmt.Errorf("reset: %w", fabric.ErrTypeMismatch)}
				continue
			}
			r.Write(ctx, d.resetHandle, value.NewBool(b), time.Now())
			req.Reply <- driver.SettingReply{Applied: value.NewBool(b)}

			if b {
				d.count = 0
				r.Write(ctx, d.countHandle, value.NewInt(0), time.Now())
			}
		}
	}
}

// Package latch implements the built-in "latch" driver (spec §4.4): a
// false→true edge on "trigger" latches "output" to an enabled value;
// "reset" returns it to disabled and rearms the trigger.
package latch

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
	outType           value.Type
	disabled, enabled value.Value

	triggerHandle fabric.Handle
	triggerInbox  <-chan driver.SettingRequest
	resetHandle   fabric.Handle
	resetInbox    <-chan driver.SettingRequest
	outputHandle  fabric.Handle

	latched        bool
	lastTriggerVal bool
	lastOutput     *value.Value
}

func (d *Driver) Init(ctx context.Context, r driver.Registrar, cfg map[string]any) error {
	typName, _ := cfg["type"].(string)
	typ, err := driver.ParseTypeName(typName)
	if err != nil {
		return fmt.Errorf("latch %s: %w", r.Prefix(), err)
	}
	d.outType = typ

	disabledRaw, ok := cfg["disabled"]
	if !ok {
		return fmt.Errorf("latch %s: missing \"disabled\"", r.Prefix())
	}
	d.disabled, err = driver.ValueFromConfig(typ, disabledRaw)
	if err != nil {
		return fmt.Errorf("latch %s: disabled: %w", r.Prefix(), err)
	}
	enabledRaw, ok := cfg["enabled"]
	if !ok {
		return fmt.Errorf("latch %s: missing \"enabled\"", r.Prefix())
	}
	d.enabled, err = driver.ValueFromConfig(typ, enabledRaw)
	if err != nil {
		return fmt.Errorf("latch %s: enabled: %w", r.Prefix(), err)
	}

	th, tin, err := r.Register(ctx, "trigger", value.Bool, fabric.ReadWrite, "", 0)
	if err != nil {
		return fmt.Errorf("latch %s: register trigger: %w", r.Prefix(), err)
	}
	d.triggerHandle, d.triggerInbox = th, tin

	rh, rin, err := r.Register(ctx, "reset", value.Bool, fabric.ReadWrite, "", 0)
	if err != nil {
		return fmt.Errorf("latch %s: register reset: %w", r.Prefix(), err)
	}
	d.resetHandle, d.resetInbox = rh, rin

	oh, _, err := r.Register(ctx, "output", typ, fabric.ReadOnly, "", 0)
	if err != nil {
		return fmt.Errorf("latch %s: register output: %w", r.Prefix(), err)
	}
	d.outputHandle = oh

	return nil
}

func (d *Driver) writeOutput(ctx context.Context, r driver.Registrar, v value.Value) {
	if d.lastOutput != nil && d.lastOutput.Equal(v) {
		return
	}
	cp := v
	d.lastOutput = &cp
	r.Write(ctx, d.outputHandle, v, time.Now())
}

func (d *Driver) Run(ctx context.Context, r driver.Registrar) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case req, ok := <-d.triggerInbox:
			if !ok {
				return fmt.Errorf("trigger inbox closed")
			}
			b, okType := req.Value.AsBool()
			if !okType {
				req.Reply <- driver.SettingReply{Err: fmt.Errorf("trigger: %w", fabric.ErrTypeMismatch)}
				continue
			}
			r.Write(ctx, d.triggerHandle, value.NewBool(b), time.Now())
			req.Reply <- driver.SettingReply{Applied: value.NewBool(b)}

			if b && !d.lastTriggerVal && !d.latched {
				d.latched = true
				d.writeOutput(ctx, r, d.enabled)
			}
			d.lastTriggerVal = b

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
				d.latched = false
				d.lastTriggerVal = false
				d.writeOutput(ctx, r, d.disabled)
			}
		}
	}
}

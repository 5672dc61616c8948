// Package cycle implements the built-in "cycle" driver (spec §4.4): while
// "enable" is true, "output" steps through a configured sequence at a fixed
// period; enable transitions take effect at the next tick.
package cycle

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
	period   time.Duration
	outType  value.Type
	sequence []value.Value
	disabled value.Value

	enableHandle fabric.Handle
	enableInbox  <-chan driver.SettingRequest
	outputHandle fabric.Handle

	desiredEnabled, currentEnabled bool
	idx                            int
	lastOutput                     *value.Value

	// disabledWritten tracks whether "disabled" has already been emitted
	// for the current disabled span, so a disabled driver writes it once
	// on the enable->disable transition (or on its very first tick, if
	// never enabled) instead of re-emitting it every period.
	disabledWritten bool
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func (d *Driver) Init(ctx context.Context, r driver.Registrar, cfg map[string]any) error {
	typName, _ := cfg["type"].(string)
	typ, err := driver.ParseTypeName(typName)
	if err != nil {
		return fmt.Errorf("cycle %s: %w", r.Prefix(), err)
	}
	d.outType = typ

	periodRaw, ok := cfg["period_millis"]
	if !ok {
		return fmt.Errorf("cycle %s: missing \"period_millis\"", r.Prefix())
	}
	periodMs, ok := toInt64(periodRaw)
	if !ok || periodMs <= 0 {
		return fmt.Errorf("cycle %s: \"period_millis\" must be a positive integer", r.Prefix())
	}
	d.period = time.Duration(periodMs) * time.Millisecond

	seqRaw, ok := cfg["sequence"].([]any)
	if !ok || len(seqRaw) == 0 {
		return fmt.Errorf("cycle %s: \"sequence\" must be a non-empty array", r.Prefix())
	}
	d.sequence = make([]value.Value, len(seqRaw))
	for i, raw := range seqRaw {
		v, err := driver.ValueFromConfig(typ, raw)
		if err != nil {
			return fmt.Errorf("cycle %s: sequence[%d]: %w", r.Prefix(), i, err)
		}
		d.sequence[i] = v
	}

	disabledRaw, ok := cfg["disabled"]
	if !ok {
		return fmt.Errorf("cycle %s: missing \"disabled\"", r.Prefix())
	}
	d.disabled, err = driver.ValueFromConfig(typ, disabledRaw)
	if err != nil {
		return fmt.Errorf("cycle %s: disabled: %w", r.Prefix(), err)
	}

	h, inbox, err := r.Register(ctx, "enable", value.Bool, fabric.ReadWrite, "", 0)
	if err != nil {
		return fmt.Errorf("cycle %s: register enable: %w", r.Prefix(), err)
	}
	d.enableHandle = h
	d.enableInbox = inbox

	oh, _, err := r.Register(ctx, "output", typ, fabric.ReadOnly, "", 0)
	if err != nil {
		return fmt.Errorf("cycle %s: register output: %w", r.Prefix(), err)
	}
	d.outputHandle = oh

	return nil
}

// writeOutput unconditionally writes and records v as the last-written
// output. While enabled, §4.4's sequence is written every tick (the caller
// never suppresses those); while disabled, the caller writes "disabled"
// once per disabled span rather than calling this every tick.
func (d *Driver) writeOutput(ctx context.Context, r driver.Registrar, v value.Value) {
	cp := v
	d.lastOutput = &cp
	r.Write(ctx, d.outputHandle, v, time.Now())
}

func (d *Driver) Run(ctx context.Context, r driver.Registrar) error {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case req, ok := <-d.enableInbox:
			if !ok {
				return fmt.Errorf("enable inbox closed")
			}
			b, okType := req.Value.AsBool()
			if !okType {
				req.Reply <- driver.SettingReply{Err: fmt.Errorf("enable: %w", fabric.ErrTypeMismatch)}
				continue
			}
			d.desiredEnabled = b
			req.Reply <- driver.SettingReply{Applied: value.NewBool(b)}

		case <-ticker.C:
			if d.currentEnabled != d.desiredEnabled {
				d.currentEnabled = d.desiredEnabled
				if !d.currentEnabled {
					d.idx = 0
					d.disabledWritten = false
				}
			}
			if d.currentEnabled {
				d.writeOutput(ctx, r, d.sequence[d.idx])
				d.idx = (d.idx + 1) % len(d.sequence)
			} else if !d.disabledWritten {
				d.writeOutput(ctx, r, d.disabled)
				d.disabledWritten = true
			}
		}
	}
}

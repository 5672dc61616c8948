// Package timer implements the built-in "timer" driver (spec §4.4): a
// retriggerable one-shot. A false→true edge on "enable" drives "output" to
// a configured value for a configured duration, then reverts it.
package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/drmem/drmemd/internal/driver"
	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/value"
)

// Factory constructs a new, uninitialized timer driver instance.
func Factory() driver.Driver { return &Driver{} }

type Driver struct {
	millis            time.Duration
	outType           value.Type
	disabled, enabled value.Value

	enableHandle fabric.Handle
	enableInbox  <-chan driver.SettingRequest
	outputHandle fabric.Handle

	// lastEnable is the last value written to "enable", tracked separately
	// from active so a false write (which no longer reverts output) still
	// lets the next true be recognized as a false→true edge.
	lastEnable bool
	active     bool
	lastOutput *value.Value
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
		return fmt.Errorf("timer %s: %w", r.Prefix(), err)
	}
	millisRaw, ok := cfg["millis"]
	if !ok {
		return fmt.Errorf("timer %s: missing \"millis\"", r.Prefix())
	}
	millis, ok := toInt64(millisRaw)
	if !ok || millis <= 0 {
		return fmt.Errorf("timer %s: \"millis\" must be a positive integer", r.Prefix())
	}
	d.millis = time.Duration(millis) * time.Millisecond
	d.outType = typ

	disabledRaw, ok := cfg["disabled"]
	if !ok {
		return fmt.Errorf("timer %s: missing \"disabled\"", r.Prefix())
	}
	d.disabled, err = driver.ValueFromConfig(typ, disabledRaw)
	if err != nil {
		return fmt.Errorf("timer %s: disabled: %w", r.Prefix(), err)
	}
	enabledRaw, ok := cfg["enabled"]
	if !ok {
		return fmt.Errorf("timer %s: missing \"enabled\"", r.Prefix())
	}
	d.enabled, err = driver.ValueFromConfig(typ, enabledRaw)
	if err != nil {
		return fmt.Errorf("timer %s: enabled: %w", r.Prefix(), err)
	}

	h, inbox, err := r.Register(ctx, "enable", value.Bool, fabric.ReadWrite, "", 0)
	if err != nil {
		return fmt.Errorf("timer %s: register enable: %w", r.Prefix(), err)
	}
	d.enableHandle = h
	d.enableInbox = inbox

	oh, _, err := r.Register(ctx, "output", typ, fabric.ReadOnly, "", 0)
	if err != nil {
		return fmt.Errorf("timer %s: register output: %w", r.Prefix(), err)
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

// Run implements the reactive loop (spec §4.4): waits on the enable inbox
// and the one-shot timer, performing bounded work on each event.
func (d *Driver) Run(ctx context.Context, r driver.Registrar) error {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	timerRunning := false

	stopTimer := func() {
		if !timerRunning {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timerRunning = false
	}
	armTimer := func() {
		stopTimer()
		timer.Reset(d.millis)
		timerRunning = true
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
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
			// Writes to enable are echoed even when duplicate.
			r.Write(ctx, d.enableHandle, value.NewBool(b), time.Now())
			req.Reply <- driver.SettingReply{Applied: value.NewBool(b)}

			switch {
			case b && !d.lastEnable:
				// False→true edge: (re)activate. Covers both a fresh
				// activation and a retrigger following an earlier explicit
				// enable=false, which never touched output.
				d.active = true
				d.writeOutput(ctx, r, d.enabled)
				armTimer()
			case b && d.lastEnable && d.active:
				// Repeated true with no intervening false, while still
				// counting down: retrigger, restart the interval.
				armTimer()
			}
			// enable=false does not revert output; only timer expiry does
			// (spec §8, scenario 2: a false write must not itself emit a
			// disabled reading).
			d.lastEnable = b

		case <-timer.C:
			timerRunning = false
			d.active = false
			d.writeOutput(ctx, r, d.disabled)
		}
	}
}

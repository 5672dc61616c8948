// Package tod implements the built-in "tod" driver (spec §4.4): a periodic,
// read-only source of calendar fields for the configured timezone, at up to
// 1 Hz.
package tod

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
	loc      *time.Location
	interval time.Duration

	second, minute, hour        fabric.Handle
	day, month, year            fabric.Handle
	dayOfWeek, dayOfYear        fabric.Handle
}

func (d *Driver) Init(ctx context.Context, r driver.Registrar, cfg map[string]any) error {
	zone, _ := cfg["zone"].(string)
	switch zone {
	case "", "utc":
		d.loc = time.UTC
	case "local":
		d.loc = time.Local
	default:
		return fmt.Errorf("tod %s: zone must be \"utc\" or \"local\", got %q", r.Prefix(), zone)
	}

	d.interval = time.Second
	if raw, ok := cfg["interval_millis"]; ok {
		ms, ok := raw.(int64)
		if !ok || ms < 1000 {
			return fmt.Errorf("tod %s: interval_millis must be an integer >= 1000 (spec caps tod at 1 Hz)", r.Prefix())
		}
		d.interval = time.Duration(ms) * time.Millisecond
	}

	regs := []struct {
		leaf string
		h    *fabric.Handle
	}{
		{"second", &d.second}, {"minute", &d.minute}, {"hour", &d.hour},
		{"day", &d.day}, {"month", &d.month}, {"year", &d.year},
		{"day-of-week", &d.dayOfWeek}, {"day-of-year", &d.dayOfYear},
	}
	for _, rg := range regs {
		h, _, err := r.Register(ctx, rg.leaf, value.Int, fabric.ReadOnly, "", 0)
		if err != nil {
			return fmt.Errorf("tod %s: register %s: %w", r.Prefix(), rg.leaf, err)
		}
		*rg.h = h
	}
	return nil
}

func (d *Driver) Run(ctx context.Context, r driver.Registrar) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.emit(ctx, r)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.emit(ctx, r)
		}
	}
}

// isoWeekday returns 0=Monday..6=Sunday, per spec §4.5's day-of-week
// convention for the built-in time fields.
func isoWeekday(t time.Time) int32 {
	wd := int(t.Weekday()) // 0=Sunday..6=Saturday
	return int32((wd + 6) % 7)
}

func (d *Driver) emit(ctx context.Context, r driver.Registrar) {
	now := time.Now().In(d.loc)
	ts := time.Now()
	r.Write(ctx, d.second, value.NewInt(int32(now.Second())), ts)
	r.Write(ctx, d.minute, value.NewInt(int32(now.Minute())), ts)
	r.Write(ctx, d.hour, value.NewInt(int32(now.Hour())), ts)
	r.Write(ctx, d.day, value.NewInt(int32(now.Day())), ts)
	r.Write(ctx, d.month, value.NewInt(int32(now.Month())), ts)
	r.Write(ctx, d.year, value.NewInt(int32(now.Year())), ts)
	r.Write(ctx, d.dayOfWeek, value.NewInt(isoWeekday(now)), ts)
	r.Write(ctx, d.dayOfYear, value.NewInt(int32(now.YearDay())), ts)
}

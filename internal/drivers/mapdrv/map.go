// Package mapdrv implements the built-in "map" driver (spec §4.4): writes
// to "index" are looked up against disjoint integer ranges to produce
// "output"; an unmatched index takes a configured default.
package mapdrv

import (
	"context"
	"fmt"
	"time"

	"github.com/drmem/drmemd/internal/driver"
	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/value"
)

func Factory() driver.Driver { return &Driver{} }

type rangeEntry struct {
	start int32
	end   *int32 // nil means unbounded above
	value value.Value
}

func (e rangeEntry) contains(idx int32) bool {
	if idx < e.start {
		return false
	}
	return e.end == nil || idx <= *e.end
}

func (e rangeEntry) overlaps(o rangeEntry) bool {
	aEnd, bEnd := int32(1<<31-1), int32(1<<31-1)
	if e.end != nil {
		aEnd = *e.end
	}
	if o.end != nil {
		bEnd = *o.end
	}
	return e.start <= bEnd && o.start <= aEnd
}

type Driver struct {
	outType value.Type
	ranges  []rangeEntry
	def     value.Value

	indexHandle  fabric.Handle
	indexInbox   <-chan driver.SettingRequest
	outputHandle fabric.Handle

	lastOutput *value.Value
}

func (d *Driver) lookup(idx int32) value.Value {
	for _, e := range d.ranges {
		if e.contains(idx) {
			return e.value
		}
	}
	return d.def
}

func toInt32(v any) (int32, bool) {
	switch n := v.(type) {
	case int64:
		return int32(n), true
	case int:
		return int32(n), true
	default:
		return 0, false
	}
}

func (d *Driver) Init(ctx context.Context, r driver.Registrar, cfg map[string]any) error {
	typName, _ := cfg["type"].(string)
	typ, err := driver.ParseTypeName(typName)
	if err != nil {
		return fmt.Errorf("map %s: %w", r.Prefix(), err)
	}
	d.outType = typ

	defRaw, ok := cfg["default"]
	if !ok {
		return fmt.Errorf("map %s: missing \"default\"", r.Prefix())
	}
	d.def, err = driver.ValueFromConfig(typ, defRaw)
	if err != nil {
		return fmt.Errorf("map %s: default: %w", r.Prefix(), err)
	}

	rawValues, ok := cfg["values"].([]any)
	if !ok {
		return fmt.Errorf("map %s: missing \"values\" array", r.Prefix())
	}
	for i, rv := range rawValues {
		m, ok := rv.(map[string]any)
		if !ok {
			return fmt.Errorf("map %s: values[%d]: not a table", r.Prefix(), i)
		}
		startRaw, ok := m["start"]
		if !ok {
			return fmt.Errorf("map %s: values[%d]: missing \"start\"", r.Prefix(), i)
		}
		start, ok := toInt32(startRaw)
		if !ok {
			return fmt.Errorf("map %s: values[%d]: \"start\" must be an integer", r.Prefix(), i)
		}
		var end *int32
		if endRaw, ok := m["end"]; ok {
			e, ok := toInt32(endRaw)
			if !ok {
				return fmt.Errorf("map %s: values[%d]: \"end\" must be an integer", r.Prefix(), i)
			}
			end = &e
		}
		valRaw, ok := m["value"]
		if !ok {
			return fmt.Errorf("map %s: values[%d]: missing \"value\"", r.Prefix(), i)
		}
		v, err := driver.ValueFromConfig(typ, valRaw)
		if err != nil {
			return fmt.Errorf("map %s: values[%d]: %w", r.Prefix(), i, err)
		}
		d.ranges = append(d.ranges, rangeEntry{start: start, end: end, value: v})
	}

	for i := 0; i < len(d.ranges); i++ {
		for j := i + 1; j < len(d.ranges); j++ {
			if d.ranges[i].overlaps(d.ranges[j]) {
				return fmt.Errorf("map %s: ranges[%d] and ranges[%d] overlap", r.Prefix(), i, j)
			}
		}
	}

	ih, iin, err := r.Register(ctx, "index", value.Int, fabric.ReadWrite, "", 0)
	if err != nil {
		return fmt.Errorf("map %s: register index: %w", r.Prefix(), err)
	}
	d.indexHandle, d.indexInbox = ih, iin

	oh, _, err := r.Register(ctx, "output", typ, fabric.ReadOnly, "", 0)
	if err != nil {
		return fmt.Errorf("map %s: register output: %w", r.Prefix(), err)
	}
	d.outputHandle = oh

	if initRaw, ok := cfg["initial"]; ok {
		initIdx, ok := toInt32(initRaw)
		if !ok {
			return fmt.Errorf("map %s: \"initial\" must be an integer", r.Prefix())
		}
		now := time.Now()
		r.Write(ctx, d.indexHandle, value.NewInt(initIdx), now)
		out := d.lookup(initIdx)
		d.lastOutput = &out
		r.Write(ctx, d.outputHandle, out, now)
	}

	return nil
}

func (d *Driver) Run(ctx context.Context, r driver.Registrar) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case req, ok := <-d.indexInbox:
			if !ok {
				return fmt.Errorf("index inbox closed")
			}
			idx, okType := req.Value.AsInt()
			if !okType {
				req.Reply <- driver.SettingReply{Err: fmt.Errorf("index: %w", fabric.ErrTypeMismatch)}
				continue
			}
			now := time.Now()
			r.Write(ctx, d.indexHandle, value.NewInt(idx), now)
			req.Reply <- driver.SettingReply{Applied: value.NewInt(idx)}

			out := d.lookup(idx)
			cp := out
			d.lastOutput = &cp
			r.Write(ctx, d.outputHandle, out, now)
		}
	}
}

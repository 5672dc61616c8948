// Package memory implements the built-in "memory" driver (spec §4.4): a
// configurable set of read-write devices that each remember and echo their
// last setting. A write whose type differs from the device's configured
// initial value is rejected.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/drmem/drmemd/internal/driver"
	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/value"
)

func Factory() driver.Driver { return &Driver{} }

type cell struct {
	name   string
	typ    value.Type
	handle fabric.Handle
	inbox  <-chan driver.SettingRequest
}

type Driver struct {
	cells []*cell
}

func inferType(raw any, explicit string) (value.Type, error) {
	if explicit != "" {
		return driver.ParseTypeName(explicit)
	}
	switch raw.(type) {
	case bool:
		return value.Bool, nil
	case int64, int:
		return value.Int, nil
	case float64:
		return value.Float, nil
	case string:
		return value.Str, nil
	default:
		return 0, fmt.Errorf("cannot infer type from %T, set \"type\" explicitly", raw)
	}
}

func (d *Driver) Init(ctx context.Context, r driver.Registrar, cfg map[string]any) error {
	rawDevices, ok := cfg["devices"].([]any)
	if !ok || len(rawDevices) == 0 {
		return fmt.Errorf("memory %s: missing non-empty \"devices\" array", r.Prefix())
	}

	for i, rd := range rawDevices {
		m, ok := rd.(map[string]any)
		if !ok {
			return fmt.Errorf("memory %s: devices[%d]: not a table", r.Prefix(), i)
		}
		name, ok := m["name"].(string)
		if !ok || name == "" {
			return fmt.Errorf("memory %s: devices[%d]: missing \"name\"", r.Prefix(), i)
		}
		initRaw, ok := m["initial"]
		if !ok {
			return fmt.Errorf("memory %s: devices[%d] (%s): missing \"initial\"", r.Prefix(), i, name)
		}
		explicitType, _ := m["type"].(string)
		typ, err := inferType(initRaw, explicitType)
		if err != nil {
			return fmt.Errorf("memory %s: devices[%d] (%s): %w", r.Prefix(), i, name, err)
		}
		initVal, err := driver.ValueFromConfig(typ, initRaw)
		if err != nil {
			return fmt.Errorf("memory %s: devices[%d] (%s): initial: %w", r.Prefix(), i, name, err)
		}

		h, inbox, err := r.Register(ctx, name, typ, fabric.ReadWrite, "", 0)
		if err != nil {
			return fmt.Errorf("memory %s: register %s: %w", r.Prefix(), name, err)
		}
		d.cells = append(d.cells, &cell{name: name, typ: typ, handle: h, inbox: inbox})

		r.Write(ctx, h, initVal, time.Now())
	}

	return nil
}

type inboxEvent struct {
	c   *cell
	req driver.SettingRequest
}

func (d *Driver) Run(ctx context.Context, r driver.Registrar) error {
	events := make(chan inboxEvent)
	done := make(chan struct{})
	defer close(done)

	for _, c := range d.cells {
		c := c
		go func() {
			for {
				select {
				case req, ok := <-c.inbox:
					if !ok {
						return
					}
					select {
					case events <- inboxEvent{c: c, req: req}:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if ev.req.Value.Type() != ev.c.typ {
				ev.req.Reply <- driver.SettingReply{Err: fmt.Errorf("%s: %w", ev.c.name, fabric.ErrTypeMismatch)}
				continue
			}
			r.Write(ctx, ev.c.handle, ev.req.Value, time.Now())
			ev.req.Reply <- driver.SettingReply{Applied: ev.req.Value}
		}
	}
}

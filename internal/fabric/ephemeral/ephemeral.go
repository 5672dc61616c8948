// Package ephemeral implements fabric.Backend entirely in process memory:
// latest-only readings, no persistence across restarts.
package ephemeral

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/value"
)

// subscriberQueueDepth is the recommended bound from spec §4.2: beyond this
// many un-delivered readings, a lagging subscriber is coalesced to
// most-recent-wins and told about the gap.
const subscriberQueueDepth = 16

type handle struct {
	name value.Name
}

func (h handle) Name() value.Name { return h.name }

type subscriber struct {
	ch chan fabric.Item
}

type device struct {
	reg  fabric.Registration
	last *fabric.Reading
	subs map[*subscriber]struct{}
}

// Backend is the in-memory, latest-only implementation of fabric.Backend.
type Backend struct {
	mu      sync.Mutex
	devices map[string]*device
	router  fabric.SettingRouter
}

func New() *Backend {
	return &Backend{devices: make(map[string]*device)}
}

// SetSettingRouter wires the driver runtime in. Must be called before any
// RouteSetting call; a zero Backend with no router fails every route with
// ErrBackendUnavailable.
func (b *Backend) SetSettingRouter(r fabric.SettingRouter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.router = r
}

func (b *Backend) Register(_ context.Context, reg fabric.Registration) (fabric.Handle, error) {
	if reg.Name.IsZero() {
		return nil, fabric.ErrBadName
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := reg.Name.String()
	if d, ok := b.devices[key]; ok {
		if d.reg.Type != reg.Type || d.reg.Direction != reg.Direction || d.reg.Owner != reg.Owner {
			return nil, fmt.Errorf("register %s: %w", key, fabric.ErrAlreadyRegistered)
		}
		return handle{name: reg.Name}, nil
	}
	b.devices[key] = &device{reg: reg, subs: make(map[*subscriber]struct{})}
	return handle{name: reg.Name}, nil
}

func (b *Backend) lookup(name value.Name) (*device, error) {
	d, ok := b.devices[name.String()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, fabric.ErrUnknownDevice)
	}
	return d, nil
}

func (b *Backend) Write(_ context.Context, h fabric.Handle, v value.Value, ts time.Time) error {
	name := h.Name()
	b.mu.Lock()
	defer b.mu.Unlock()

	d, err := b.lookup(name)
	if err != nil {
		return err
	}
	if d.reg.Type != v.Type() {
		return fmt.Errorf("write %s: declared %s, got %s: %w", name, d.reg.Type, v.Type(), fabric.ErrTypeMismatch)
	}
	if d.last != nil && ts.Before(d.last.Time) {
		return fmt.Errorf("write %s: ts %s before last %s: %w", name, ts, d.last.Time, fabric.ErrNonMonotonic)
	}
	r := fabric.Reading{Time: ts.UTC(), Value: v}
	d.last = &r

	for s := range d.subs {
		publish(s, fabric.Item{Reading: r})
	}
	return nil
}

// publish is most-recent-wins under backpressure: a full subscriber queue
// has its oldest item dropped to make room, and the delivered item is
// marked as following a gap.
func publish(s *subscriber, item fabric.Item) {
	select {
	case s.ch <- item:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	item.Gap = true
	select {
	case s.ch <- item:
	default:
	}
}

func (b *Backend) Latest(_ context.Context, name value.Name) (fabric.Reading, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, err := b.lookup(name)
	if err != nil {
		return fabric.Reading{}, false, err
	}
	if d.last == nil {
		return fabric.Reading{}, false, nil
	}
	return *d.last, true, nil
}

// History returns at most the single latest reading: the ephemeral backend
// keeps no history.
func (b *Backend) History(ctx context.Context, name value.Name, _ int) ([]fabric.Reading, error) {
	r, ok, err := b.Latest(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return []fabric.Reading{r}, nil
}

type subHandle struct {
	id      string
	ch      chan fabric.Item
	closeFn func()
	once    sync.Once
}

func (s *subHandle) C() <-chan fabric.Item { return s.ch }
func (s *subHandle) ID() string            { return s.id }
func (s *subHandle) Close() {
	s.once.Do(s.closeFn)
}

func (b *Backend) SubscribeReadings(_ context.Context, name value.Name) (fabric.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, err := b.lookup(name)
	if err != nil {
		return nil, err
	}

	sub := &subscriber{ch: make(chan fabric.Item, subscriberQueueDepth)}
	if d.last != nil {
		sub.ch <- fabric.Item{Reading: *d.last}
	}
	d.subs[sub] = struct{}{}

	h := &subHandle{id: uuid.NewString(), ch: sub.ch}
	h.closeFn = func() {
		b.mu.Lock()
		delete(d.subs, sub)
		b.mu.Unlock()
	}
	return h, nil
}

func (b *Backend) RouteSetting(ctx context.Context, name value.Name, v value.Value) (value.Value, error) {
	b.mu.Lock()
	d, err := b.lookup(name)
	if err != nil {
		b.mu.Unlock()
		return value.Value{}, err
	}
	if d.reg.Direction != fabric.ReadWrite {
		b.mu.Unlock()
		return value.Value{}, fmt.Errorf("route %s: %w", name, fabric.ErrReadOnly)
	}
	if d.reg.Type != v.Type() {
		b.mu.Unlock()
		return value.Value{}, fmt.Errorf("route %s: declared %s, got %s: %w", name, d.reg.Type, v.Type(), fabric.ErrTypeMismatch)
	}
	router := b.router
	b.mu.Unlock()

	if router == nil {
		return value.Value{}, fmt.Errorf("route %s: %w", name, fabric.ErrBackendUnavailable)
	}
	return router.Route(ctx, name, v)
}

func (b *Backend) Lookup(_ context.Context, name value.Name) (fabric.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, err := b.lookup(name)
	if err != nil {
		return fabric.Record{}, err
	}
	rec := fabric.Record{Registration: d.reg}
	if d.last != nil {
		last := *d.last
		rec.Last = &last
	}
	return rec, nil
}

func (b *Backend) List(_ context.Context) ([]fabric.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.devices))
	for k := range b.devices {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]fabric.Record, 0, len(names))
	for _, k := range names {
		d := b.devices[k]
		rec := fabric.Record{Registration: d.reg}
		if d.last != nil {
			last := *d.last
			rec.Last = &last
		}
		out = append(out, rec)
	}
	return out, nil
}

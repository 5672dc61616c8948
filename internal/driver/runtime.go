package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/logging"
	"github.com/drmem/drmemd/internal/value"
)

// InstanceConfig describes one `[[driver]]` table from the config file.
type InstanceConfig struct {
	Factory string         // driver name, e.g. "timer"
	Prefix  value.Name     // device instance prefix
	Cfg     map[string]any // passed verbatim to the factory's driver
}

type registeredDevice struct {
	handle    fabric.Handle
	direction fabric.Direction
	inbox     chan SettingRequest
}

type instance struct {
	cfg    InstanceConfig
	driver Driver
	devs   map[string]*registeredDevice // leaf -> device

	mu      sync.Mutex
	backoff time.Duration
}

// registrar is the per-instance Registrar implementation.
type registrar struct {
	rt   *Runtime
	inst *instance
}

func (r *registrar) Prefix() value.Name { return r.inst.cfg.Prefix }

func (r *registrar) Register(ctx context.Context, leaf string, typ value.Type, dir fabric.Direction, units string, historyDepth int) (fabric.Handle, <-chan SettingRequest, error) {
	name, err := r.inst.cfg.Prefix.WithLeaf(leaf)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", fabric.ErrBadName, err)
	}
	h, err := r.rt.backend.Register(ctx, fabric.Registration{
		Name: name, Type: typ, Direction: dir, Units: units,
		Owner: r.inst.cfg.Prefix.String(), HistoryDepth: historyDepth,
	})
	if err != nil {
		return nil, nil, err
	}

	rd := &registeredDevice{handle: h, direction: dir}
	if dir == fabric.ReadWrite {
		rd.inbox = make(chan SettingRequest, SettingInboxDepth)
	}
	r.inst.devs[leaf] = rd

	r.rt.mu.Lock()
	r.rt.inboxes[name.String()] = rd.inbox
	r.rt.mu.Unlock()

	return h, rd.inbox, nil
}

func (r *registrar) Write(ctx context.Context, h fabric.Handle, v value.Value, ts time.Time) error {
	return r.rt.backend.Write(ctx, h, v, ts)
}

// Runtime is the driver supervisor: spec.md §4.3.
type Runtime struct {
	backend  fabric.Backend
	registry *Registry
	log      *logging.Logger

	mu        sync.Mutex
	instances []*instance
	inboxes   map[string]chan SettingRequest // device name -> inbox, nil for read-only
}

func NewRuntime(backend fabric.Backend, registry *Registry, log *logging.Logger) *Runtime {
	if log == nil {
		log = logging.Default()
	}
	return &Runtime{
		backend:  backend,
		registry: registry,
		log:      log,
		inboxes:  make(map[string]chan SettingRequest),
	}
}

// Route implements fabric.SettingRouter.
func (rt *Runtime) Route(ctx context.Context, name value.Name, v value.Value) (value.Value, error) {
	rt.mu.Lock()
	inbox, ok := rt.inboxes[name.String()]
	rt.mu.Unlock()
	if !ok || inbox == nil {
		return value.Value{}, fmt.Errorf("%s: %w", name, fabric.ErrReadOnly)
	}

	replyCh := make(chan SettingReply, 1)
	select {
	case inbox <- SettingRequest{Value: v, Reply: replyCh}:
	default:
		return value.Value{}, fmt.Errorf("%s: inbox full: %w", name, fabric.ErrNotAccepted)
	}

	timeout := DefaultRouteTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		if reply.Err != nil {
			return value.Value{}, reply.Err
		}
		return reply.Applied, nil
	case <-timer.C:
		return value.Value{}, fmt.Errorf("%s: %w", name, fabric.ErrNotAccepted)
	case <-ctx.Done():
		return value.Value{}, fmt.Errorf("%s: %w", name, fabric.ErrNotAccepted)
	}
}

// Start initializes every configured driver instance in order. Init
// failures are logged and that instance is skipped (spec §4.3,
// "Startup"); it does not block the others. Start returns once all
// successful drivers have registered their devices, which is the signal
// the logic engine is waiting for before it subscribes to anything.
func (rt *Runtime) Start(ctx context.Context) {
	for _, ic := range rt.configsInOrder() {
		rt.startOne(ctx, ic)
	}
}

// configsInOrder exists purely to document intent; instances are appended
// to rt.instances in registration order by AddInstance, so iterating them
// is already configuration order.
func (rt *Runtime) configsInOrder() []InstanceConfig {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]InstanceConfig, len(rt.instances))
	for i, inst := range rt.instances {
		out[i] = inst.cfg
	}
	return out
}

// AddInstance stages a driver instance from configuration. Call this for
// every [[driver]] table before Start.
func (rt *Runtime) AddInstance(ic InstanceConfig) error {
	factory, ok := rt.registry.Lookup(ic.Factory)
	if !ok {
		return fmt.Errorf("driver %q: no such factory registered", ic.Factory)
	}
	inst := &instance{cfg: ic, driver: factory(), devs: make(map[string]*registeredDevice), backoff: InitialBackoff}
	rt.mu.Lock()
	rt.instances = append(rt.instances, inst)
	rt.mu.Unlock()
	return nil
}

func (rt *Runtime) startOne(ctx context.Context, ic InstanceConfig) {
	rt.mu.Lock()
	var inst *instance
	for _, i := range rt.instances {
		if i.cfg.Prefix.String() == ic.Prefix.String() {
			inst = i
			break
		}
	}
	rt.mu.Unlock()
	if inst == nil {
		return
	}

	r := &registrar{rt: rt, inst: inst}
	if err := inst.driver.Init(ctx, r, ic.Cfg); err != nil {
		rt.log.Warnf("driver %s (%s): init failed, disabled for this run: %v", ic.Prefix, ic.Factory, err)
		return
	}

	go rt.supervise(ctx, inst, r)
}

// supervise runs one driver instance's reactive loop, restarting it with
// exponential backoff on fatal exit (spec §4.3). It never returns unless
// ctx is cancelled.
func (rt *Runtime) supervise(ctx context.Context, inst *instance, r *registrar) {
	backoff := InitialBackoff
	for {
		err := inst.driver.Run(ctx, r)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// A driver returning nil without ctx cancellation still ends its
			// loop; treat it like a fault so the instance doesn't vanish
			// silently, but reset backoff since it wasn't an error exit.
			rt.log.Infof("driver %s: run loop exited cleanly, restarting", inst.cfg.Prefix)
			backoff = InitialBackoff
		} else {
			rt.log.Warnf("driver %s: %v — restarting in %s", inst.cfg.Prefix, err, humanize.RelTime(time.Now(), time.Now().Add(backoff), "", ""))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > MaxBackoff {
				backoff = MaxBackoff
			}
			continue
		}
		backoff = InitialBackoff
	}
}

// Shutdown waits out ShutdownGrace after the caller has cancelled driver
// tasks through the ctx it passed to Start. The runtime holds no handle on
// the goroutines beyond ctx cancellation, so Shutdown does not observe
// when they exit: it always sleeps the full grace period, even when every
// task has already returned, and then returns whether or not any task is
// still running.
func (rt *Runtime) Shutdown() {
	time.Sleep(ShutdownGrace)
}

// Registry returns the runtime's factory registry, for diagnostics.
func (rt *Runtime) Registry() *Registry { return rt.registry }

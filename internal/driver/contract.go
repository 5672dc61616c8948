// Package driver hosts the supervised driver runtime: the factory registry,
// the per-instance reactive-loop supervisor, and setting routing between
// the fabric and driver instances.
package driver

import (
	"context"
	"time"

	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/value"
)

// SettingRequest is delivered to a read-write device's inbox by
// RouteSetting. The driver must send exactly one SettingReply on Reply
// before returning to its wait, or the caller times out.
type SettingRequest struct {
	Value value.Value
	Reply chan<- SettingReply
}

// SettingReply is a driver's acknowledgement of a SettingRequest.
type SettingReply struct {
	// Applied is the value the driver actually wrote (may be clamped).
	Applied value.Value
	Err     error
}

// Registrar is handed to a driver instance at Init and Run time. It is
// scoped to the instance's prefix: Register appends ":leaf" to the prefix
// for every device the driver creates (spec §3, "driver instance prefix").
type Registrar interface {
	Prefix() value.Name

	// Register creates device "prefix:leaf" in the backend. For read-write
	// devices it also returns an inbox that receives future settings; the
	// driver's Run loop must select on it.
	Register(ctx context.Context, leaf string, typ value.Type, dir fabric.Direction, units string, historyDepth int) (fabric.Handle, <-chan SettingRequest, error)

	// Write publishes a reading for a device this instance owns.
	Write(ctx context.Context, h fabric.Handle, v value.Value, ts time.Time) error
}

// Driver is the contract every driver instance (built-in or hardware-backed)
// satisfies, per spec §4.3.
type Driver interface {
	// Init registers this instance's devices and validates cfg. Returning
	// an error means the driver is not started for this run.
	Init(ctx context.Context, r Registrar, cfg map[string]any) error

	// Run executes the instance's unbounded reactive loop. It must return
	// promptly when ctx is cancelled. Any other return is treated as a
	// fatal fault and triggers a supervised restart with backoff.
	Run(ctx context.Context, r Registrar) error
}

// Factory constructs a fresh, uninitialized Driver instance. One factory is
// registered per driver name (e.g. "timer", "memory").
type Factory func() Driver

// SettingInboxDepth bounds each read-write device's setting inbox (spec §5:
// "recommended 4"). A full inbox surfaces ErrNotAccepted to the caller of
// RouteSetting rather than blocking.
const SettingInboxDepth = 4

// DefaultRouteTimeout is the default wait for a driver's acknowledgement in
// RouteSetting (spec §5).
const DefaultRouteTimeout = 2 * time.Second

// Backoff bounds, per spec §4.3.
const (
	InitialBackoff = 5 * time.Second
	MaxBackoff     = 5 * time.Minute
)

// ShutdownGrace is how long the runtime waits for driver tasks to exit
// after cancellation before abandoning them (spec §5).
const ShutdownGrace = 5 * time.Second

package fabric

import (
	"context"
	"time"

	"github.com/drmem/drmemd/internal/value"
)

// Direction says whether a device accepts settings from the fabric.
type Direction int

const (
	ReadOnly Direction = iota
	ReadWrite
)

// Reading is a (timestamp, value) pair. Timestamps carry at least
// millisecond resolution and are always normalized to UTC.
type Reading struct {
	Time  time.Time
	Value value.Value
}

// Registration describes a device at the moment its owning driver creates
// it.
type Registration struct {
	Name         value.Name
	Type         value.Type
	Direction    Direction
	Units        string
	Owner        string // driver instance prefix
	HistoryDepth int    // durable backend only; 0 = ephemeral behavior
}

// Record is the backend's stored view of one device.
type Record struct {
	Registration
	Last *Reading // nil if never written
}

// Handle identifies a registered device to the backend that issued it.
// Handles are backend-specific opaque values; callers should treat them as
// capabilities, not re-derive them from a Name.
type Handle interface {
	Name() value.Name
}

// SettingResult is what a driver reports back after it receives a setting.
type SettingResult struct {
	// Applied is the value the driver actually wrote, which may differ from
	// the requested value if the driver clamped it.
	Applied value.Value
	Err     error
}

// Item is one element of a reading subscription stream. Reading is always
// set; Gap additionally marks that readings before this one were dropped.
type Item struct {
	Reading Reading
	Gap     bool // true: the subscriber missed intermediate values (backpressure)
}

// Subscription delivers Items for one device, starting with the current
// latest (if any) followed by each subsequent accepted reading.
type Subscription interface {
	C() <-chan Item
	Close()
	// ID is a unique identifier minted for this subscription at
	// SubscribeReadings time. It has no meaning beyond letting an operator
	// correlate one diagnostics stream with one backend-side registration;
	// closing and re-subscribing always yields a new one.
	ID() string
}

// Backend is the contract consumed by the driver runtime and the logic
// engine. Both the ephemeral and durable implementations satisfy it.
type Backend interface {
	Register(ctx context.Context, reg Registration) (Handle, error)
	Write(ctx context.Context, h Handle, v value.Value, ts time.Time) error
	Latest(ctx context.Context, name value.Name) (Reading, bool, error)
	History(ctx context.Context, name value.Name, window int) ([]Reading, error)
	SubscribeReadings(ctx context.Context, name value.Name) (Subscription, error)

	// RouteSetting delivers v to name's owning driver and waits for its
	// acknowledgement (or the router's default 2s timeout — see
	// SetSettingRouter).
	RouteSetting(ctx context.Context, name value.Name, v value.Value) (value.Value, error)

	// Direction/Type lets callers (the logic engine's type-checker) inspect
	// a device's declared shape without going through Latest.
	Lookup(ctx context.Context, name value.Name) (Record, error)

	// List enumerates every registered device, sorted by name. Used by the
	// diagnostics surface; never by the logic engine or driver runtime.
	List(ctx context.Context) ([]Record, error)

	// SetSettingRouter wires the driver runtime in so RouteSetting has
	// somewhere to deliver to. main calls this once at startup, after
	// constructing both the backend and the runtime.
	SetSettingRouter(r SettingRouter)
}

// SettingRouter is implemented by the driver runtime and installed into a
// Backend so that RouteSetting has somewhere to deliver to. Backends accept
// it via SetSettingRouter rather than a constructor argument, because the
// runtime and the backend are constructed independently and wired together
// by main.
type SettingRouter interface {
	// Route enqueues v for name's owning driver instance and blocks for the
	// driver's acknowledgement or ctx's deadline, whichever comes first.
	Route(ctx context.Context, name value.Name, v value.Value) (value.Value, error)
}

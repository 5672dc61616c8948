// Package drivers wires every built-in driver's factory into a
// driver.Registry. Kept separate from internal/driver so that the runtime
// package never needs to import the concrete driver implementations.
package drivers

import (
	"github.com/drmem/drmemd/internal/driver"
	"github.com/drmem/drmemd/internal/drivers/counter"
	"github.com/drmem/drmemd/internal/drivers/cycle"
	"github.com/drmem/drmemd/internal/drivers/latch"
	"github.com/drmem/drmemd/internal/drivers/mapdrv"
	"github.com/drmem/drmemd/internal/drivers/memory"
	"github.com/drmem/drmemd/internal/drivers/timer"
	"github.com/drmem/drmemd/internal/drivers/tod"
)

// RegisterBuiltins adds every built-in driver factory (spec §4.4) to reg.
// Call once at startup, before reg.Freeze().
func RegisterBuiltins(reg *driver.Registry) {
	reg.MustRegister("timer", timer.Factory)
	reg.MustRegister("cycle", cycle.Factory)
	reg.MustRegister("latch", latch.Factory)
	reg.MustRegister("map", mapdrv.Factory)
	reg.MustRegister("memory", memory.Factory)
	reg.MustRegister("counter", counter.Factory)
	reg.MustRegister("tod", tod.Factory)
}

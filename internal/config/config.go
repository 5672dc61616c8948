// Package config loads and validates the daemon's TOML configuration file
// (spec §6). It only shapes raw sections into typed values; wiring them
// into a running backend/driver-registry/logic-engine is cmd/drmemd's job.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/drmem/drmemd/internal/logging"
	"github.com/drmem/drmemd/internal/value"
)

// Durable describes the optional connection block for the SQLite-backed
// durable backend (spec §6: "addr, port, numeric database selector"). Here
// "addr" is the database file's path, "port" is unused by the pure-Go
// SQLite driver and kept only for config-shape fidelity with the spec, and
// "db" is parsed but not used: the daemon opens the single database file
// at "addr".
type Durable struct {
	Addr string `toml:"addr"`
	Port int    `toml:"port"`
	DB   int    `toml:"db"`
}

// ClientServer is a contract-only stand-in for the out-of-scope external
// client protocol server (spec §1). The daemon parses it so a config file
// written for the full system still loads cleanly, but nothing in this
// core wires it to anything.
type ClientServer struct {
	Addr string `toml:"addr"`
	Port int    `toml:"port"`
}

// Driver is one `[[driver]]` section: a factory key, the device-name
// prefix its instance owns, and a config sub-table passed verbatim to the
// factory (spec §4.3, §6).
type Driver struct {
	Name   string         `toml:"name"`
	Prefix string         `toml:"prefix"`
	Cfg    map[string]any `toml:"cfg"`
}

// Logic is one `[[logic]]` section (spec §4.5, §6).
type Logic struct {
	Label   string            `toml:"label"`
	Inputs  map[string]string `toml:"inputs"`
	Outputs map[string]string `toml:"outputs"`
	Defs    map[string]string `toml:"defs"`
	Exprs   []string          `toml:"exprs"`
}

// File is the raw, parsed shape of the configuration file before semantic
// validation.
type File struct {
	LogLevel  string   `toml:"log_level"`
	Latitude  *float64 `toml:"latitude"`
	Longitude *float64 `toml:"longitude"`

	Durable      *Durable      `toml:"durable"`
	ClientServer *ClientServer `toml:"client_server"`

	Drivers []Driver `toml:"driver"`
	Logics  []Logic  `toml:"logic"`
}

// Config is a File that has passed Validate: every device name, driver
// prefix, and logic section is grammatically well-formed and mutually
// consistent (no duplicate prefixes, no device written by two logic
// sections, no logic section without exprs). Whether each expression
// targets a declared output local is checked later, by the logic engine
// when it loads the block.
type Config struct {
	File
	LogLevel logging.Level
}

// Load reads and parses path, then validates it. Parse errors and
// validation failures are both reported as ErrorKind::ConfigError (spec
// §7); the caller's only recourse is to fix the file and retry, so there's
// no partial/degraded load.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if _, err := toml.Decode(string(raw), &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return Validate(f)
}

// Validate checks a parsed File for internal consistency and returns the
// first problem it finds. Exported separately from Load so tests can
// validate an in-memory File without touching disk; the `-check` CLI flag
// goes through Load.
func Validate(f File) (*Config, error) {
	level, err := logging.ParseLevel(f.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if (f.Latitude == nil) != (f.Longitude == nil) {
		return nil, fmt.Errorf("config: latitude and longitude must both be set or both omitted")
	}
	if f.Latitude != nil && (*f.Latitude < -90 || *f.Latitude > 90) {
		return nil, fmt.Errorf("config: latitude %g out of range [-90, 90]", *f.Latitude)
	}
	if f.Longitude != nil && (*f.Longitude < -180 || *f.Longitude > 180) {
		return nil, fmt.Errorf("config: longitude %g out of range [-180, 180]", *f.Longitude)
	}

	seenPrefix := map[string]string{}
	for i, d := range f.Drivers {
		if d.Name == "" {
			return nil, fmt.Errorf("config: driver[%d]: missing name", i)
		}
		if _, err := value.ParseName(d.Prefix); err != nil {
			return nil, fmt.Errorf("config: driver[%d] (%s): bad prefix %q: %w", i, d.Name, d.Prefix, err)
		}
		if prevName, ok := seenPrefix[d.Prefix]; ok {
			return nil, fmt.Errorf("config: driver prefix %q used by both %q and %q", d.Prefix, prevName, d.Name)
		}
		seenPrefix[d.Prefix] = d.Name
	}

	outputOwner := map[string]int{}
	for i, lg := range f.Logics {
		if lg.Label == "" {
			return nil, fmt.Errorf("config: logic[%d]: missing label", i)
		}
		for local, dev := range lg.Outputs {
			if _, err := value.ParseName(dev); err != nil {
				return nil, fmt.Errorf("config: logic %q: output %q: bad device name %q: %w", lg.Label, local, dev, err)
			}
			if prev, ok := outputOwner[dev]; ok {
				return nil, fmt.Errorf("config: device %q is an output of both logic[%d] and logic[%d]", dev, prev, i)
			}
			outputOwner[dev] = i
		}
		for local, dev := range lg.Inputs {
			if _, err := value.ParseName(dev); err != nil {
				return nil, fmt.Errorf("config: logic %q: input %q: bad device name %q: %w", lg.Label, local, dev, err)
			}
		}
		if len(lg.Exprs) == 0 {
			return nil, fmt.Errorf("config: logic %q: exprs must not be empty", lg.Label)
		}
	}

	return &Config{File: f, LogLevel: level}, nil
}

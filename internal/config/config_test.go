package config_test

import (
	"testing"

	"github.com/drmem/drmemd/internal/config"
)

func validFile() config.File {
	lat, lon := 40.0, -88.0
	return config.File{
		LogLevel:  "info",
		Latitude:  &lat,
		Longitude: &lon,
		Drivers: []config.Driver{
			{Name: "memory", Prefix: "m", Cfg: map[string]any{}},
		},
		Logics: []config.Logic{
			{Label: "l1", Outputs: map[string]string{"y": "m:out"}, Exprs: []string{"1 -> {y}"}},
		},
	}
}

func TestValidateAcceptsWellFormedFile(t *testing.T) {
	if _, err := config.Validate(validFile()); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejectsLatitudeWithoutLongitude(t *testing.T) {
	f := validFile()
	f.Longitude = nil
	if _, err := config.Validate(f); err == nil {
		t.Fatal("want error for latitude without longitude, got nil")
	}
}

func TestValidateRejectsOutOfRangeLatitude(t *testing.T) {
	f := validFile()
	bad := 120.0
	f.Latitude = &bad
	if _, err := config.Validate(f); err == nil {
		t.Fatal("want error for out-of-range latitude, got nil")
	}
}

func TestValidateRejectsDuplicateDriverPrefix(t *testing.T) {
	f := validFile()
	f.Drivers = append(f.Drivers, config.Driver{Name: "memory2", Prefix: "m", Cfg: map[string]any{}})
	if _, err := config.Validate(f); err == nil {
		t.Fatal("want error for duplicate driver prefix, got nil")
	}
}

func TestValidateRejectsDuplicateLogicOutput(t *testing.T) {
	f := validFile()
	f.Logics = append(f.Logics, config.Logic{
		Label:   "l2",
		Outputs: map[string]string{"y": "m:out"},
		Exprs:   []string{"2 -> {y}"},
	})
	if _, err := config.Validate(f); err == nil {
		t.Fatal("want error for two logic blocks claiming the same output device, got nil")
	}
}

func TestValidateRejectsEmptyExprs(t *testing.T) {
	f := validFile()
	f.Logics[0].Exprs = nil
	if _, err := config.Validate(f); err == nil {
		t.Fatal("want error for logic block with no exprs, got nil")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	f := validFile()
	f.LogLevel = "not-a-level"
	if _, err := config.Validate(f); err == nil {
		t.Fatal("want error for unrecognized log level, got nil")
	}
}

// Package logging provides the daemon's single process-wide logger: a thin
// level filter over the standard library's log.Logger, the way the teacher
// never reaches past stdlib log for this (no zerolog/zap in its go.mod).
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Level mirrors the four levels named in spec §6's config file.
type Level int

const (
	Warn Level = iota
	Info
	Debug
	Trace
)

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "warn", "":
		return Warn, nil
	case "info":
		return Info, nil
	case "debug":
		return Debug, nil
	case "trace":
		return Trace, nil
	default:
		return Warn, fmt.Errorf("unknown log_level %q", s)
	}
}

// colorCode returns the ANSI SGR code for a level, or "" when color is off.
func (l Level) colorCode() string {
	switch l {
	case Warn:
		return "33" // yellow
	case Info:
		return "36" // cyan
	case Debug:
		return "32" // green
	case Trace:
		return "90" // bright black
	default:
		return ""
	}
}

func (l Level) tag() string {
	switch l {
	case Warn:
		return "WARN"
	case Info:
		return "INFO"
	case Debug:
		return "DEBG"
	case Trace:
		return "TRCE"
	default:
		return "????"
	}
}

// Logger wraps a stdlib *log.Logger with a level gate. The zero value logs
// at Warn to os.Stderr, matching log.Default()'s behavior of "just works".
type Logger struct {
	out   *log.Logger
	level Level
	color bool
}

// New builds a Logger writing to w, gated at level. Color is enabled only
// when w is a terminal (mirrors the teacher's indirect go-isatty dep,
// pulled in here the way CLI tools gate ANSI output).
func New(w io.Writer, level Level) *Logger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd())
	}
	return &Logger{out: log.New(w, "", log.LstdFlags), level: level, color: color}
}

// Default builds a Logger to os.Stderr at Warn, for package-level
// convenience before config is loaded.
func Default() *Logger { return New(os.Stderr, Warn) }

func (l *Logger) log(lvl Level, format string, args ...any) {
	if l == nil {
		return
	}
	if lvl > l.level {
		return
	}
	out := l.out
	if out == nil {
		out = log.Default()
	}
	msg := fmt.Sprintf(format, args...)
	if l.color {
		out.Printf("\x1b[%sm%s\x1b[0m %s", lvl.colorCode(), lvl.tag(), msg)
		return
	}
	out.Printf("%s %s", lvl.tag(), msg)
}

func (l *Logger) Warnf(format string, args ...any)  { l.log(Warn, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(Info, format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.log(Debug, format, args...) }
func (l *Logger) Tracef(format string, args ...any) { l.log(Trace, format, args...) }

// Fatalf logs at Warn (always visible) and exits the process, matching the
// teacher's main.go log.Fatalf call sites for unrecoverable startup errors.
func (l *Logger) Fatalf(format string, args ...any) {
	l.log(Warn, format, args...)
	os.Exit(1)
}

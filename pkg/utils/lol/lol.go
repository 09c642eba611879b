// Package lol (log of levels) is a minimal leveled logger with terse
// single-letter level printers, colored level tags and source locations for
// warnings and errors.
package lol

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level codes, in order of increasing verbosity.
const (
	Off = iota
	Fatal
	Error
	Warn
	Info
	Debug
	Trace
)

// LevelNames are the recognized names for log levels as used in
// configuration strings.
var LevelNames = []string{
	"off", "fatal", "error", "warn", "info", "debug", "trace",
}

var levelColors = map[int]func(a ...any) string{
	Fatal: color.New(color.FgRed, color.Bold).SprintFunc(),
	Error: color.New(color.FgRed).SprintFunc(),
	Warn:  color.New(color.FgYellow).SprintFunc(),
	Info:  color.New(color.FgGreen).SprintFunc(),
	Debug: color.New(color.FgBlue).SprintFunc(),
	Trace: color.New(color.FgMagenta).SprintFunc(),
}

var (
	mx      sync.Mutex
	level   = Info
	writer  io.Writer = os.Stderr
	started           = time.Now()
)

// SetLogLevel sets the global log level from its name. Unknown names
// leave the level unchanged.
func SetLogLevel(name string) {
	mx.Lock()
	defer mx.Unlock()
	for i, n := range LevelNames {
		if strings.ToLower(name) == n {
			level = i
			return
		}
	}
}

// GetLogLevel returns the level code for a level name, defaulting to Info.
func GetLogLevel(name string) (l int) {
	l = Info
	for i, n := range LevelNames {
		if strings.ToLower(name) == n {
			l = i
		}
	}
	return
}

// SetWriter redirects log output, mainly for tests.
func SetWriter(w io.Writer) {
	mx.Lock()
	defer mx.Unlock()
	writer = w
}

// L is a printer bound to one log level.
type L struct{ l int }

// New returns a printer for the given level code.
func New(l int) *L { return &L{l: l} }

func (p *L) enabled() bool {
	mx.Lock()
	defer mx.Unlock()
	return p.l <= level
}

func (p *L) emit(s string) {
	tag := levelColors[p.l](strings.ToUpper(LevelNames[p.l][:1]))
	loc := ""
	if p.l <= Error || level >= Debug {
		_, file, line, ok := runtime.Caller(3)
		if ok {
			if i := strings.LastIndex(file, "/pkg/"); i >= 0 {
				file = file[i+1:]
			}
			loc = fmt.Sprintf(" %s:%d", file, line)
		}
	}
	mx.Lock()
	defer mx.Unlock()
	fmt.Fprintf(
		writer, "%12.6f %s %s%s\n",
		time.Since(started).Seconds(), tag, strings.TrimRight(s, "\n"), loc,
	)
	if p.l == Fatal {
		os.Exit(1)
	}
}

// F prints a formatted message at the printer's level.
func (p *L) F(format string, a ...any) {
	if !p.enabled() {
		return
	}
	p.emit(fmt.Sprintf(format, a...))
}

// Ln prints its arguments space-separated at the printer's level.
func (p *L) Ln(a ...any) {
	if !p.enabled() {
		return
	}
	p.emit(strings.TrimRight(fmt.Sprintln(a...), "\n"))
}

// C prints the result of a closure, deferring the cost of building the
// message until the level is known to be enabled.
func (p *L) C(fn func() string) {
	if !p.enabled() {
		return
	}
	p.emit(fn())
}

// Chk logs a non-nil error at the printer's level and reports whether the
// error was non-nil. This is the engine behind the chk package.
func (p *L) Chk(err error) bool {
	if err == nil {
		return false
	}
	if p.enabled() {
		p.emit(err.Error())
	}
	return true
}

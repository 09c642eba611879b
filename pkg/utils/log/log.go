// Package log exposes the process-wide leveled printers. Use log.I.F for
// formatted info messages, log.T.C for deferred trace messages, and so on.
package log

import "nwcp.dev/pkg/utils/lol"

var (
	// F prints and then exits the process.
	F = lol.New(lol.Fatal)
	// E prints error-level messages with source locations.
	E = lol.New(lol.Error)
	// W prints warning-level messages.
	W = lol.New(lol.Warn)
	// I prints info-level messages.
	I = lol.New(lol.Info)
	// D prints debug-level messages.
	D = lol.New(lol.Debug)
	// T prints trace-level messages.
	T = lol.New(lol.Trace)
)

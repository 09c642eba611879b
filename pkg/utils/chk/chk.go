// Package chk provides one-line error check helpers that log a non-nil
// error at a given level and return whether it was non-nil, enabling the
// `if err = f(); chk.E(err) { return }` guard idiom.
package chk

import "nwcp.dev/pkg/utils/lol"

var (
	e = lol.New(lol.Error)
	w = lol.New(lol.Warn)
	d = lol.New(lol.Debug)
	t = lol.New(lol.Trace)
)

// E logs err at error level if non-nil and reports whether it was.
func E(err error) bool { return e.Chk(err) }

// W logs err at warn level if non-nil and reports whether it was.
func W(err error) bool { return w.Chk(err) }

// D logs err at debug level if non-nil and reports whether it was.
func D(err error) bool { return d.Chk(err) }

// T logs err at trace level if non-nil and reports whether it was.
func T(err error) bool { return t.Chk(err) }

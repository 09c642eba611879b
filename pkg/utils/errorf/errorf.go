// Package errorf creates errors that are logged at the site of creation.
package errorf

import (
	"fmt"

	"nwcp.dev/pkg/utils/lol"
)

var (
	e = lol.New(lol.Error)
	w = lol.New(lol.Warn)
	d = lol.New(lol.Debug)
)

// E makes a formatted error and logs it at error level.
func E(format string, a ...any) (err error) {
	err = fmt.Errorf(format, a...)
	e.Chk(err)
	return
}

// W makes a formatted error and logs it at warn level.
func W(format string, a ...any) (err error) {
	err = fmt.Errorf(format, a...)
	w.Chk(err)
	return
}

// D makes a formatted error and logs it at debug level.
func D(format string, a ...any) (err error) {
	err = fmt.Errorf(format, a...)
	d.Chk(err)
	return
}

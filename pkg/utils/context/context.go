// Package context shortens the names of the stuttery standard library
// context types used throughout this codebase.
package context

import "context"

type (
	// T is a context.Context.
	T = context.Context
	// F is a context.CancelFunc.
	F = context.CancelFunc
)

var (
	// Bg is context.Background.
	Bg = context.Background
	// Cancel is context.WithCancel.
	Cancel = context.WithCancel
	// Timeout is context.WithTimeout.
	Timeout = context.WithTimeout
	// Canceled is context.Canceled.
	Canceled = context.Canceled
)

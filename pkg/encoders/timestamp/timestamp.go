// Package timestamp is a unix-seconds time value as used in nostr events.
package timestamp

import "time"

// T is a unix timestamp in seconds.
type T struct {
	V int64
}

// Now returns the current time as a timestamp.
func Now() *T { return &T{V: time.Now().Unix()} }

// FromUnix wraps a unix-seconds value.
func FromUnix(v int64) *T { return &T{V: v} }

// I64 returns the value as int64, tolerating a nil receiver.
func (t *T) I64() int64 {
	if t == nil {
		return 0
	}
	return t.V
}

// U64 returns the value as uint64, clamping negatives to zero.
func (t *T) U64() uint64 {
	if t == nil || t.V < 0 {
		return 0
	}
	return uint64(t.V)
}

// Time converts to a time.Time.
func (t *T) Time() time.Time { return time.Unix(t.I64(), 0) }

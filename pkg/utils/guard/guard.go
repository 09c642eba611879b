// Package guard is a perimeter of input validators run at handler and CRUD
// boundaries. Violations indicate a programming error or a hostile caller
// that slipped past request parsing, so every validator panics.
package guard

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Enabled allows switching the whole perimeter off. Leave it on.
var Enabled = true

func panicf(reason string) {
	if !Enabled {
		return
	}
	panic("hardening: " + reason)
}

// Printable panics if v contains non-printable characters.
func Printable(v string) {
	if !Enabled {
		return
	}
	for _, r := range v {
		if !unicode.IsPrint(r) {
			panicf("string contains non-printable characters")
		}
	}
}

// SaneString panics if v is non-printable or longer than 1024 characters.
func SaneString(v string) {
	if !Enabled {
		return
	}
	Printable(v)
	if len(v) > 1024 {
		panicf("string is too long")
	}
}

// NonEmptyString panics if v is empty, whitespace-only or non-printable.
func NonEmptyString(v string) {
	if !Enabled {
		return
	}
	Printable(v)
	if len(strings.TrimSpace(v)) == 0 {
		panicf("string is empty")
	}
}

// PositiveInt panics if v is negative.
func PositiveInt(v int64) {
	if !Enabled {
		return
	}
	if v < 0 {
		panicf("number is not positive")
	}
}

// Sats panics if v is negative or implausibly large (>= 10^7 sats).
func Sats(v int64) {
	if !Enabled {
		return
	}
	PositiveInt(v)
	if v >= 10_000_000 {
		panicf("sats amount looks too high")
	}
}

// Msats panics if v is negative or implausibly large (>= 10^10 msats).
func Msats(v int64) {
	if !Enabled {
		return
	}
	PositiveInt(v)
	if v >= 10_000_000*1000 {
		panicf("msats amount looks too high")
	}
}

// Hex32 panics unless v is a 64-character lowercase hex string, the text
// form of a 32-byte value such as a sha256 hash or an x-only pubkey.
func Hex32(v string) {
	if !Enabled {
		return
	}
	Printable(v)
	if len(v) != 64 {
		panicf("string is not a valid sha256 hash")
	}
	for _, c := range v {
		if !strings.ContainsRune("0123456789abcdef", c) {
			panicf("string is not a valid sha256 hash")
		}
	}
}

// badHashes are sha256 digests of values that betray an untyped-nil bug
// upstream: "", " ", "None", "True", "False".
var badHashes = map[string]struct{}{
	"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855": {},
	"36a9e7f1c95b82ffb99743e0c5c4ce95d83c9a430aac59f84ef3cbfab6145068": {},
	"c1c4b7fbd3e146bb14ec6258e5231c1ec703590721ff1e321b179a62b5857c9c": {},
	"cdca0b9bb2325fc8ed7eba7734a3a1f876d919221399b6587ae7d26305adee9d": {},
	"f9e08f8b038b1b401497f17da3adc120667ac742bf035657869a6ca1cd180e69": {},
}

// NoBadHash panics if v is a known hash of a sentinel junk value.
func NoBadHash(v string) {
	if !Enabled {
		return
	}
	if _, bad := badHashes[v]; bad {
		panicf("bad hash detected")
	}
}

// Pubkey panics unless v is a plausible x-only nostr pubkey.
func Pubkey(v string) {
	if !Enabled {
		return
	}
	Hex32(v)
	NoBadHash(v)
}

// WalletID panics unless v is a non-empty alphanumeric identifier.
func WalletID(v string) {
	if !Enabled {
		return
	}
	Printable(v)
	if len(v) == 0 {
		panicf("string is not a valid wallet id")
	}
	for _, r := range v {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			panicf("string is not a valid wallet id")
		}
	}
}

// UnixSeconds panics unless v is a plausible unix timestamp in seconds.
func UnixSeconds(v int64) {
	if !Enabled {
		return
	}
	PositiveInt(v)
	if v > 1<<31 {
		panicf("timestamp is too high")
	}
}

// ExpirationSeconds panics unless v is 0 (never), or a plausible unix
// timestamp in seconds.
func ExpirationSeconds(v int64) {
	if !Enabled {
		return
	}
	if v == 0 {
		return
	}
	if v < 0 {
		panicf("expiration is invalid")
	}
	if v > 1<<31 {
		panicf("expiration is too high")
	}
}

// ValidJSON panics unless v is a non-empty valid JSON document.
func ValidJSON(v string) {
	if !Enabled {
		return
	}
	NonEmptyString(v)
	if !json.Valid([]byte(v)) {
		panicf("string is not valid json")
	}
}

// Bolt11 panics if the invoice string is obviously malformed.
func Bolt11(v string) {
	if !Enabled {
		return
	}
	NonEmptyString(v)
	if !strings.HasPrefix(strings.ToLower(v), "ln") {
		panicf("string is not a bolt11 invoice")
	}
}

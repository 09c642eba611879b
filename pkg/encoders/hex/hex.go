// Package hex wraps a SIMD-accelerated hex codec with the short helper
// names used throughout this codebase. All output is lowercase.
package hex

import (
	"github.com/templexxx/xhex"

	"nwcp.dev/pkg/utils/errorf"
)

// Enc encodes b as a lowercase hex string.
func Enc(b []byte) (s string) {
	dst := make([]byte, len(b)*2)
	xhex.Encode(dst, b)
	return string(dst)
}

// EncAppend appends the hex encoding of src to dst and returns it.
func EncAppend(dst, src []byte) []byte {
	l := len(dst)
	dst = append(dst, make([]byte, len(src)*2)...)
	xhex.Encode(dst[l:], src)
	return dst
}

// Dec decodes a hex string into a freshly allocated byte slice.
func Dec(s string) (b []byte, err error) {
	b = make([]byte, len(s)/2)
	if len(s)%2 != 0 {
		err = errorf.D("hex: odd length string %d", len(s))
		return
	}
	if err = xhex.Decode(b, []byte(s)); err != nil {
		err = errorf.D("hex: %s", err.Error())
		return
	}
	return
}

// DecAppend decodes hex src and appends the bytes to dst.
func DecAppend(dst, src []byte) (b []byte, err error) {
	l := len(dst)
	b = append(dst, make([]byte, len(src)/2)...)
	if len(src)%2 != 0 {
		err = errorf.D("hex: odd length string %d", len(src))
		return
	}
	if err = xhex.Decode(b[l:], src); err != nil {
		err = errorf.D("hex: %s", err.Error())
		return
	}
	return
}

package ws

import (
	"strconv"

	"go.uber.org/atomic"
	"lukechampine.com/frand"
)

// SubIDLen is the fixed length of generated subscription ids.
const SubIDLen = 64

const subIDPrefix = "nwcp"

const subIDNoise = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var subIDCounter atomic.Uint64

// NextSubID returns a process-unique 64 character subscription id: a
// fixed prefix, a monotonic counter and alphanumeric noise padding.
func NextSubID() string {
	b := make([]byte, 0, SubIDLen)
	b = append(b, subIDPrefix...)
	b = strconv.AppendUint(b, subIDCounter.Inc(), 10)
	b = append(b, '.')
	for len(b) < SubIDLen {
		b = append(b, subIDNoise[frand.Intn(len(subIDNoise))])
	}
	return string(b)
}

package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpired(t *testing.T) {
	now := int64(1700000000)
	k := &ClientKey{}
	require.False(t, k.Expired(now), "zero expiry never expires")
	k.ExpiresAt = now - 1
	require.True(t, k.Expired(now))
	k.ExpiresAt = now
	require.True(t, k.Expired(now), "expiry is inclusive at now")
	k.ExpiresAt = now + 1
	require.False(t, k.Expired(now))
}

func TestCycleWindow(t *testing.T) {
	b := &Budget{CreatedAt: 1000, RefreshWindow: 3600}

	// inside the first cycle
	from, until := b.CycleWindow(1001)
	require.EqualValues(t, 1000, from)
	require.EqualValues(t, 4600, until)

	// just before the boundary
	from, until = b.CycleWindow(4599)
	require.EqualValues(t, 1000, from)
	require.EqualValues(t, 4600, until)

	// at the boundary a new cycle starts
	from, until = b.CycleWindow(4600)
	require.EqualValues(t, 4600, from)
	require.EqualValues(t, 8200, until)

	// several cycles later
	from, until = b.CycleWindow(1000 + 10*3600 + 5)
	require.EqualValues(t, 1000+10*3600, from)
	require.EqualValues(t, 1000+11*3600, until)
}

func TestCycleWindowLifetime(t *testing.T) {
	for _, w := range []int64{0, -1} {
		b := &Budget{CreatedAt: 1000, RefreshWindow: w}
		from, until := b.CycleWindow(5000)
		require.EqualValues(t, 0, from)
		require.EqualValues(t, int64(math.MaxInt64), until)
	}
}

func TestHasPermission(t *testing.T) {
	k := &ClientKey{Permissions: []string{"pay", "info"}}
	require.True(t, k.HasPermission("pay"))
	require.False(t, k.HasPermission("balance"))
	require.False(t, (&ClientKey{}).HasPermission("pay"))
}

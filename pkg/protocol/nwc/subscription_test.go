package nwc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nwcp.dev/pkg/encoders/event"
	"nwcp.dev/pkg/encoders/hex"
)

func reqEvent(last byte) *event.E {
	id := make([]byte, 32)
	id[31] = last
	return &event.E{Id: id}
}

func TestSubscriptionEoseGating(t *testing.T) {
	s := NewMainSubscription("req", "resp")
	require.False(t, s.Live())
	require.True(t, s.Owns("req"))
	require.True(t, s.Owns("resp"))
	require.False(t, s.Owns("other"))

	require.False(t, s.MarkEose("other"))
	require.True(t, s.MarkEose("req"))
	require.False(t, s.Live())
	require.True(t, s.MarkEose("resp"))
	require.True(t, s.Live())
}

func TestSubscriptionStaleRequests(t *testing.T) {
	s := NewMainSubscription("req", "resp")
	a, b, c := reqEvent(1), reqEvent(2), reqEvent(3)
	s.AddRequest(a)
	s.AddRequest(b)
	s.AddRequest(c)
	s.AddRequest(a) // duplicate, ignored
	s.RegisterResponse(hex.Enc(b.Id))

	stale := s.StaleRequests()
	require.Len(t, stale, 2)
	require.Equal(t, a.Id, stale[0].Id)
	require.Equal(t, c.Id, stale[1].Id)

	// the drain is complete, a second call yields nothing
	require.Empty(t, s.StaleRequests())
	// the responded set survives the drain
	require.True(t, s.Responded(hex.Enc(b.Id)))
}

func TestSubscriptionGC(t *testing.T) {
	s := NewMainSubscription("req", "resp")
	s.AddRequest(reqEvent(1))
	s.AddRequest(reqEvent(2))

	s.GC(time.Hour)
	require.Len(t, s.StaleRequests(), 2)

	s.AddRequest(reqEvent(3))
	time.Sleep(time.Millisecond)
	s.GC(0)
	require.Empty(t, s.StaleRequests())
}

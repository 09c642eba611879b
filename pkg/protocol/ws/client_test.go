package ws

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nwcp.dev/pkg/crypto/p256k"
	"nwcp.dev/pkg/encoders/envelope"
	"nwcp.dev/pkg/encoders/event"
	"nwcp.dev/pkg/encoders/filter"
	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/protocol/relaytest"
	"nwcp.dev/pkg/utils/context"
)

func startClient(t *testing.T) (*Client, *relaytest.R, context.T) {
	t.Helper()
	relay, err := relaytest.New()
	require.NoError(t, err)
	t.Cleanup(relay.Shutdown)
	ctx, cancel := context.Cancel(context.Bg())
	t.Cleanup(cancel)
	c := New(relay.URL())
	go c.Run(ctx)
	return c, relay, ctx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func signed(t *testing.T, kind int, content string) *event.E {
	t.Helper()
	sign := &p256k.Signer{}
	require.NoError(t, sign.Generate())
	ev := &event.E{Kind: kind, Content: content}
	require.NoError(t, ev.Sign(sign))
	return ev
}

func TestPublishAndSubscribe(t *testing.T) {
	c, relay, ctx := startClient(t)
	waitFor(t, "connect", func() bool { return c.State() == Connected })

	subID, err := c.Subscribe(ctx, &filter.F{Kinds: []int{23194}})
	require.NoError(t, err)

	// backfill boundary arrives first
	env := <-c.Frames()
	require.Equal(t, envelope.LEose, env.Label)
	require.Equal(t, subID, env.SubID)

	ev := signed(t, 23194, "hello")
	require.NoError(t, c.Publish(ctx, ev))

	var got *event.E
	for env := range c.Frames() {
		if env.Label == envelope.LOk {
			require.True(t, env.Ok)
			continue
		}
		require.Equal(t, envelope.LEvent, env.Label)
		got = env.Event
		break
	}
	require.Equal(t, hex.Enc(ev.Id), hex.Enc(got.Id))
	require.Len(t, relay.Events(), 1)
}

func TestSendBlocksUntilConnected(t *testing.T) {
	relay, err := relaytest.New()
	require.NoError(t, err)
	t.Cleanup(relay.Shutdown)
	ctx, cancel := context.Cancel(context.Bg())
	t.Cleanup(cancel)

	c := New(relay.URL())
	done := make(chan error, 1)
	go func() {
		done <- c.Send(ctx, []byte(`["REQ","pre-connect",{}]`))
	}()
	select {
	case <-done:
		t.Fatal("send completed while disconnected")
	case <-time.After(100 * time.Millisecond):
	}
	go c.Run(ctx)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("send never unblocked after connect")
	}
}

func TestSendFailsCleanlyOnShutdown(t *testing.T) {
	ctx, cancel := context.Cancel(context.Bg())
	c := New("ws://127.0.0.1:1") // nothing listening
	go c.Run(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Send(ctx, []byte("[]")) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not fail on shutdown")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	c, relay, _ := startClient(t)
	waitFor(t, "connect", func() bool { return c.State() == Connected })
	relay.DropConnections()
	waitFor(t, "disconnect", func() bool { return c.State() != Connected })
	waitFor(t, "reconnect", func() bool { return c.State() == Connected })
}

func TestOnConnectRunsEachSession(t *testing.T) {
	relay, err := relaytest.New()
	require.NoError(t, err)
	t.Cleanup(relay.Shutdown)
	ctx, cancel := context.Cancel(context.Bg())
	t.Cleanup(cancel)

	c := New(relay.URL())
	connects := make(chan struct{}, 8)
	c.OnConnect(func(context.T) { connects <- struct{}{} })
	go c.Run(ctx)

	<-connects
	relay.DropConnections()
	select {
	case <-connects:
	case <-time.After(10 * time.Second):
		t.Fatal("OnConnect not called after reconnect")
	}
}

func TestNextSubID(t *testing.T) {
	a, b := NextSubID(), NextSubID()
	require.Len(t, a, SubIDLen)
	require.Len(t, b, SubIDLen)
	require.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(a, "nwcp"))
}

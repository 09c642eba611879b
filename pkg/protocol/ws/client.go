// Package ws is the relay client: one persistent websocket with an
// indefinite reconnect loop, rate-limited per unit of work, blocking
// sends while disconnected and a channel of parsed protocol frames.
package ws

import (
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/atomic"

	"nwcp.dev/pkg/encoders/envelope"
	"nwcp.dev/pkg/encoders/event"
	"nwcp.dev/pkg/encoders/filter"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/utils/errorf"
	"nwcp.dev/pkg/utils/log"
	"nwcp.dev/pkg/utils/units"
)

// Connection states.
const (
	Disconnected int32 = iota
	Connecting
	Connected
)

// Client is a relay connection. Create with New, start with Run in its
// own goroutine, then Send/Publish/Subscribe from anywhere.
type Client struct {
	url   string
	state *atomic.Int32
	// rl spaces reconnect and resubscribe attempts.
	rl *RateLimit

	mu     sync.Mutex
	conn   *websocket.Conn
	connCh chan struct{}

	frames    chan *envelope.T
	onConnect func(ctx context.T)
}

// New creates a client for the relay at url.
func New(url string) *Client {
	return &Client{
		url:    url,
		state:  atomic.NewInt32(Disconnected),
		rl:     NewRateLimit(),
		connCh: make(chan struct{}),
		frames: make(chan *envelope.T, 64),
	}
}

// OnConnect registers fn to run in its own goroutine each time the
// connection is (re)established. Must be set before Run.
func (c *Client) OnConnect(fn func(ctx context.T)) { c.onConnect = fn }

// Frames is the stream of parsed inbound frames.
func (c *Client) Frames() <-chan *envelope.T { return c.frames }

// State returns the current connection state.
func (c *Client) State() int32 { return c.state.Load() }

// RateLimit exposes the client's backoff so sibling units (such as
// resubscription) share its policy.
func (c *Client) RateLimit() *RateLimit { return c.rl }

// Run connects and reconnects until ctx ends. Every disconnect, whatever
// the cause, leads back into the rate-limited dial.
func (c *Client) Run(ctx context.T) {
	for ctx.Err() == nil {
		if err := c.rl.Wait(ctx, "connecting"); err != nil {
			return
		}
		c.state.Store(Connecting)
		log.D.F("dialing relay %s", c.url)
		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if chk.D(err) {
			c.state.Store(Disconnected)
			continue
		}
		conn.SetReadLimit(units.Mb)
		c.mu.Lock()
		c.conn = conn
		close(c.connCh)
		c.mu.Unlock()
		c.state.Store(Connected)
		log.I.F("connected to relay %s", c.url)
		if c.onConnect != nil {
			go c.onConnect(ctx)
		}
		c.readLoop(ctx, conn)
		c.mu.Lock()
		c.conn = nil
		c.connCh = make(chan struct{})
		c.mu.Unlock()
		c.state.Store(Disconnected)
		_ = conn.CloseNow()
		log.W.F("disconnected from relay %s", c.url)
	}
}

func (c *Client) readLoop(ctx context.T, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.D.F("relay read: %s", err.Error())
			}
			return
		}
		env, err := envelope.Parse(data)
		if err != nil {
			// unknown or malformed frames are logged and discarded
			log.D.F("discarding frame: %s", data)
			continue
		}
		select {
		case c.frames <- env:
		case <-ctx.Done():
			return
		}
	}
}

// Send transmits one frame, blocking while the connection is down.
// Returns an error only when ctx ends first.
func (c *Client) Send(ctx context.T, b []byte) (err error) {
	for {
		c.mu.Lock()
		conn, ch := c.conn, c.connCh
		c.mu.Unlock()
		if conn == nil {
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return errorf.D("send abandoned, shutting down")
			}
		}
		if err = conn.Write(ctx, websocket.MessageText, b); err == nil {
			log.T.C(func() string { return "sent: " + string(b) })
			return
		}
		if ctx.Err() != nil {
			return errorf.D("send abandoned, shutting down")
		}
		// the connection is dying but Run may not have noticed yet
		time.Sleep(100 * time.Millisecond)
	}
}

// Publish sends an ["EVENT", event] frame.
func (c *Client) Publish(ctx context.T, ev *event.E) (err error) {
	b, err := envelope.Event(ev)
	if chk.E(err) {
		return
	}
	return c.Send(ctx, b)
}

// Subscribe opens a subscription and returns its generated id.
func (c *Client) Subscribe(ctx context.T, filters ...*filter.F) (
	subID string, err error,
) {
	subID = NextSubID()
	err = c.SubscribeAs(ctx, subID, filters...)
	return
}

// SubscribeAs opens a subscription under a caller-chosen id, for callers
// that must know the id before the REQ reaches the relay.
func (c *Client) SubscribeAs(
	ctx context.T, subID string, filters ...*filter.F,
) (err error) {
	b, err := envelope.Req(subID, filters...)
	if chk.E(err) {
		return
	}
	return c.Send(ctx, b)
}

// Unsubscribe sends a ["CLOSE", subid] frame.
func (c *Client) Unsubscribe(ctx context.T, subID string) (err error) {
	b, err := envelope.Close(subID)
	if chk.E(err) {
		return
	}
	return c.Send(ctx, b)
}

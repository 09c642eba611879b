// Package relaytest is a minimal in-process relay for exercising the
// client and the wallet service end to end: it stores events, answers
// REQ with backfill and EOSE, and broadcasts live events to matching
// subscriptions.
package relaytest

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"nwcp.dev/pkg/encoders/event"
	"nwcp.dev/pkg/encoders/filter"
	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/log"
)

type subscription struct {
	conn    *client
	id      string
	filters []*filter.F
}

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) send(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.TextMessage, frame)
}

// R is one running relay instance.
type R struct {
	ln     net.Listener
	server *fasthttp.Server

	mu     sync.Mutex
	events []*event.E
	subs   map[*client]map[string]*subscription
	conns  map[*client]struct{}
}

// New starts a relay on an ephemeral localhost port.
func New() (r *R, err error) {
	r = &R{
		subs:  make(map[*client]map[string]*subscription),
		conns: make(map[*client]struct{}),
	}
	if r.ln, err = net.Listen("tcp", "127.0.0.1:0"); chk.E(err) {
		return nil, err
	}
	upgrader := websocket.FastHTTPUpgrader{
		CheckOrigin: func(ctx *fasthttp.RequestCtx) bool { return true },
	}
	r.server = &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			err := upgrader.Upgrade(ctx, r.serve)
			chk.D(err)
		},
		// without this, fasthttp makes Close on a hijacked conn a
		// no-op, so DropConnections and Shutdown would never actually
		// sever the sockets
		KeepHijackedConns: true,
	}
	go func() { _ = r.server.Serve(r.ln) }()
	return
}

// URL is the websocket address of the relay.
func (r *R) URL() string { return "ws://" + r.ln.Addr().String() }

// Shutdown stops the relay and drops every connection.
func (r *R) Shutdown() {
	r.mu.Lock()
	for c := range r.conns {
		_ = c.conn.Close()
	}
	r.mu.Unlock()
	_ = r.server.Shutdown()
}

// DropConnections closes every websocket without stopping the relay,
// forcing clients through their reconnect path.
func (r *R) DropConnections() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.conns {
		_ = c.conn.Close()
	}
}

// Events returns a snapshot of all stored events.
func (r *R) Events() []*event.E {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*event.E, len(r.events))
	copy(out, r.events)
	return out
}

func (r *R) serve(conn *websocket.Conn) {
	c := &client{conn: conn}
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.subs[c] = make(map[string]*subscription)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.conns, c)
		delete(r.subs, c)
		r.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.dispatch(c, data)
	}
}

func (r *R) dispatch(c *client, data []byte) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil || len(arr) < 2 {
		c.send([]byte(`["NOTICE","unparseable frame"]`))
		return
	}
	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		return
	}
	switch label {
	case "EVENT":
		ev := &event.E{}
		if err := json.Unmarshal(arr[1], ev); err != nil {
			c.send([]byte(`["NOTICE","invalid event"]`))
			return
		}
		r.accept(c, ev)
	case "REQ":
		var subID string
		if err := json.Unmarshal(arr[1], &subID); err != nil {
			return
		}
		var filters []*filter.F
		for _, raw := range arr[2:] {
			f := &filter.F{}
			if err := json.Unmarshal(raw, f); err != nil {
				return
			}
			filters = append(filters, f)
		}
		r.subscribe(c, subID, filters)
	case "CLOSE":
		var subID string
		if err := json.Unmarshal(arr[1], &subID); err != nil {
			return
		}
		r.mu.Lock()
		delete(r.subs[c], subID)
		r.mu.Unlock()
	default:
		c.send([]byte(`["NOTICE","unrecognized frame"]`))
	}
}

func (r *R) accept(c *client, ev *event.E) {
	id := hex.Enc(ev.Id)
	r.mu.Lock()
	r.events = append(r.events, ev)
	var targets []*subscription
	for _, subs := range r.subs {
		for _, sub := range subs {
			if matches(sub.filters, ev) {
				targets = append(targets, sub)
			}
		}
	}
	r.mu.Unlock()

	ok, err := json.Marshal([]any{"OK", id, true, ""})
	if !chk.E(err) {
		c.send(ok)
	}
	for _, sub := range targets {
		frame, err := json.Marshal([]any{"EVENT", sub.id, ev})
		if chk.E(err) {
			continue
		}
		sub.conn.send(frame)
	}
	log.T.F("relaytest: stored event %s kind %d", id, ev.Kind)
}

func (r *R) subscribe(c *client, subID string, filters []*filter.F) {
	sub := &subscription{conn: c, id: subID, filters: filters}
	r.mu.Lock()
	r.subs[c][subID] = sub
	backfill := make([]*event.E, 0, len(r.events))
	for _, ev := range r.events {
		if matches(filters, ev) {
			backfill = append(backfill, ev)
		}
	}
	r.mu.Unlock()

	for _, ev := range backfill {
		frame, err := json.Marshal([]any{"EVENT", subID, ev})
		if chk.E(err) {
			continue
		}
		c.send(frame)
	}
	eose, err := json.Marshal([]any{"EOSE", subID})
	if !chk.E(err) {
		c.send(eose)
	}
}

func matches(filters []*filter.F, ev *event.E) bool {
	for _, f := range filters {
		if f.Matches(
			ev.Kind, hex.Enc(ev.Pubkey), ev.CreatedAt.I64(),
			ev.TagValues("p"),
		) {
			return true
		}
	}
	return false
}

package nwc

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"nwcp.dev/pkg/crypto/encryption"
	"nwcp.dev/pkg/crypto/p256k"
	"nwcp.dev/pkg/encoders/envelope"
	"nwcp.dev/pkg/encoders/event"
	"nwcp.dev/pkg/encoders/filter"
	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/encoders/timestamp"
	"nwcp.dev/pkg/interfaces/signer"
	"nwcp.dev/pkg/protocol/ws"
	"nwcp.dev/pkg/queue"
	"nwcp.dev/pkg/store"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/utils/log"
	"nwcp.dev/pkg/wallet"
)

// ReplayWindow is how far back the two main subscriptions look for
// requests that arrived while the service was down.
const ReplayWindow = 3 * time.Hour

// gcInterval and gcMaxAge bound the replay buffer's memory.
const (
	gcInterval = time.Minute
	gcMaxAge   = ReplayWindow
)

// Options configures a Provider.
type Options struct {
	// Alias is the service name announced by get_info.
	Alias string
	// IVSource overrides the IV generator, tests only.
	IVSource encryption.IVSource
	// Clock overrides the time source, tests only.
	Clock func() int64
}

// Provider is the wallet connect service. It owns the relay client's
// frame stream, the subscription state and the method handlers.
type Provider struct {
	sign   signer.I
	pub    string
	client *ws.Client
	store  store.I
	wallet wallet.API
	queue  *queue.Q

	alias    string
	ivSource encryption.IVSource
	clock    func() int64

	// sub is the current subscription generation. Swapped on
	// resubscribe; frame handling snapshots the pointer once per frame
	// so a swap mid-frame cannot be observed halfway.
	sub atomic.Pointer[MainSubscription]
}

// New creates a provider from its collaborators. The signer carries the
// provider_key.
func New(
	sign signer.I, client *ws.Client, st store.I, w wallet.API,
	q *queue.Q, opts *Options,
) *Provider {
	if opts == nil {
		opts = &Options{}
	}
	p := &Provider{
		sign:     sign,
		pub:      hex.Enc(sign.Pub()),
		client:   client,
		store:    st,
		wallet:   w,
		queue:    q,
		alias:    opts.Alias,
		ivSource: opts.IVSource,
		clock:    opts.Clock,
	}
	if p.ivSource == nil {
		p.ivSource = encryption.RandomIV
	}
	client.OnConnect(p.onConnect)
	return p
}

// Pub returns the provider's x-only pubkey, hex.
func (p *Provider) Pub() string { return p.pub }

// Run consumes relay frames until ctx ends. The relay client's Run loop
// must be started separately.
func (p *Provider) Run(ctx context.T) {
	gc := time.NewTicker(gcInterval)
	defer gc.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-gc.C:
			if sub := p.sub.Load(); sub != nil {
				sub.GC(gcMaxAge)
			}
		case env, ok := <-p.client.Frames():
			if !ok {
				return
			}
			p.handleFrame(ctx, env)
		}
	}
}

// onConnect publishes the provider info event and opens a fresh pair of
// main subscriptions. Runs on every (re)connect.
func (p *Provider) onConnect(ctx context.T) {
	p.publishInfo(ctx)
	p.resubscribe(ctx)
}

func (p *Provider) publishInfo(ctx context.T) {
	ev := &event.E{
		Kind:    event.KindWalletInfo,
		Tags:    [][]string{{"p", p.pub}},
		Content: strings.Join(SupportedMethods, " "),
	}
	if err := ev.Sign(p.sign); chk.E(err) {
		return
	}
	if err := p.client.Publish(ctx, ev); err != nil {
		return
	}
	log.D.F("published info event for %s", p.pub)
}

// resubscribe opens the requests and responses subscriptions and swaps
// in a new MainSubscription generation.
func (p *Provider) resubscribe(ctx context.T) {
	since := p.now() - int64(ReplayWindow/time.Second)
	reqID, respID := ws.NextSubID(), ws.NextSubID()
	// the new generation must own its ids before the relay can send a
	// single frame for them, or backfill racing the swap would be dropped
	p.sub.Store(NewMainSubscription(reqID, respID))
	err := p.client.SubscribeAs(ctx, reqID, &filter.F{
		Kinds: []int{event.KindWalletRequest},
		PTags: []string{p.pub},
		Since: since,
	})
	if err != nil {
		return
	}
	err = p.client.SubscribeAs(ctx, respID, &filter.F{
		Kinds:   []int{event.KindWalletResponse},
		Authors: []string{p.pub},
		Since:   since,
	})
	if err != nil {
		return
	}
	log.I.F("subscribed: requests %s responses %s", reqID[:12], respID[:12])
}

func (p *Provider) handleFrame(ctx context.T, env *envelope.T) {
	// the subscription can be nil briefly after a reconnect, before
	// resubscribe has run; frames for old generations are dropped too
	sub := p.sub.Load()
	switch env.Label {
	case envelope.LEvent:
		if sub == nil || !sub.Owns(env.SubID) {
			return
		}
		p.handleEvent(ctx, sub, env)
	case envelope.LEose:
		if sub == nil {
			return
		}
		if sub.MarkEose(env.SubID) && sub.Live() {
			for _, ev := range sub.StaleRequests() {
				go p.handleRequest(ctx, sub, ev)
			}
		}
	case envelope.LClosed:
		if sub == nil || !sub.Owns(env.SubID) {
			return
		}
		reason := env.Reason
		if reason == "" {
			reason = "closed without explanation"
		}
		log.W.F("subscription %s closed: %s", env.SubID[:12], reason)
		if err := p.client.RateLimit().Wait(ctx, "subscribing"); err != nil {
			return
		}
		p.resubscribe(ctx)
	case envelope.LNotice:
		log.I.F("relay notice: %s", env.Reason)
	case envelope.LOk:
		if !env.Ok {
			log.W.F("relay refused event %s: %s", env.OkID, env.Reason)
		}
	}
}

func (p *Provider) handleEvent(
	ctx context.T, sub *MainSubscription, env *envelope.T,
) {
	ev := env.Event
	switch env.SubID {
	case sub.ResponsesSubID:
		// our own historical responses: every e tag names an answered
		// request
		for _, id := range ev.TagValues("e") {
			sub.RegisterResponse(id)
		}
	case sub.RequestsSubID:
		if sub.Live() {
			if sub.Responded(hex.Enc(ev.Id)) {
				return
			}
			go p.handleRequest(ctx, sub, ev)
			return
		}
		sub.AddRequest(ev)
	}
}

// handleRequest is the dispatcher: verify, expiry, addressing, decrypt,
// route, respond. Events failing verification or decryption are dropped
// without a response so a forger learns nothing.
func (p *Provider) handleRequest(
	ctx context.T, sub *MainSubscription, ev *event.E,
) {
	valid, err := ev.Verify(&p256k.Signer{})
	if err != nil || !valid {
		log.D.F("dropping request with bad signature from %s",
			hex.Enc(ev.Pubkey))
		return
	}
	if exp := ev.Expiration(); exp != 0 && exp < p.now() {
		log.D.F("dropping expired request %s", hex.Enc(ev.Id))
		return
	}
	addressed := false
	for _, pt := range ev.TagValues("p") {
		if pt == p.pub {
			addressed = true
			break
		}
	}
	if !addressed {
		log.D.F("dropping request not addressed to us")
		return
	}
	clientPub := hex.Enc(ev.Pubkey)
	secret, err := p.sign.ECDH(ev.Pubkey)
	if err != nil {
		log.D.F("dropping request, no shared secret with %s", clientPub)
		return
	}
	plaintext, err := encryption.Decrypt(secret, ev.Content)
	if err != nil {
		log.D.F("dropping undecryptable request from %s", clientPub)
		return
	}

	var responses []*Response
	var req Request
	if err = json.Unmarshal([]byte(plaintext), &req); err != nil {
		responses = []*Response{{Err: Internal(err)}}
		req.Method = "unparseable"
	} else {
		log.I.F("request %s from %s", req.Method, clientPub)
		responses = p.route(ctx, clientPub, &req)
	}
	for _, r := range responses {
		p.respond(ctx, sub, ev, secret, req.Method, r)
	}
}

func (p *Provider) route(
	ctx context.T, clientPub string, req *Request,
) (responses []*Response) {
	defer func() {
		if r := recover(); r != nil {
			log.E.F("handler %s panicked: %v", req.Method, r)
			responses = []*Response{
				{Err: Errf(CodeInternal, "%v", r)},
			}
		}
	}()
	switch req.Method {
	case MethodPayInvoice:
		return p.payInvoice(ctx, clientPub, req.Params)
	case MethodMultiPayInvoice:
		return p.multiPayInvoice(ctx, clientPub, req.Params)
	case MethodMakeInvoice:
		return p.makeInvoice(ctx, clientPub, req.Params)
	case MethodLookupInvoice:
		return p.lookupInvoice(ctx, clientPub, req.Params)
	case MethodListTransactions:
		return p.listTransactions(ctx, clientPub, req.Params)
	case MethodGetBalance:
		return p.getBalance(ctx, clientPub)
	case MethodGetInfo:
		return p.getInfo(ctx, clientPub)
	default:
		return []*Response{{
			Err: Errf(CodeNotImplemented, "unknown method %s", req.Method),
		}}
	}
}

// respond encrypts and publishes one response event, marking the request
// answered first so a crash between the two cannot double-execute.
func (p *Provider) respond(
	ctx context.T, sub *MainSubscription, reqEv *event.E,
	secret []byte, method string, r *Response,
) {
	content, err := json.Marshal(&responseContent{
		ResultType: method,
		Error:      r.Err,
		Result:     r.Result,
	})
	if chk.E(err) {
		return
	}
	ciphertext, err := encryption.Encrypt(secret, string(content), p.ivSource)
	if chk.E(err) {
		return
	}
	reqID := hex.Enc(reqEv.Id)
	tags := make([][]string, 0, len(r.ExtraTags)+2)
	tags = append(tags, r.ExtraTags...)
	tags = append(tags,
		[]string{"e", reqID},
		[]string{"p", hex.Enc(reqEv.Pubkey)},
	)
	ev := &event.E{
		Kind:      event.KindWalletResponse,
		CreatedAt: timestamp.FromUnix(p.now()),
		Tags:      tags,
		Content:   ciphertext,
	}
	if err = ev.Sign(p.sign); chk.E(err) {
		return
	}
	sub.RegisterResponse(reqID)
	if err = p.client.Publish(ctx, ev); err != nil {
		return
	}
	log.D.F("responded to %s for %s", reqID, method)
}

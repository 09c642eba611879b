package nwc

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"lukechampine.com/frand"

	"nwcp.dev/pkg/crypto/encryption"
	"nwcp.dev/pkg/crypto/p256k"
	"nwcp.dev/pkg/database"
	"nwcp.dev/pkg/encoders/bolt11"
	"nwcp.dev/pkg/encoders/envelope"
	"nwcp.dev/pkg/encoders/event"
	"nwcp.dev/pkg/encoders/filter"
	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/protocol/relaytest"
	"nwcp.dev/pkg/protocol/ws"
	"nwcp.dev/pkg/queue"
	"nwcp.dev/pkg/store"
	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/wallet"
	"nwcp.dev/pkg/wallet/ledger"
)

const awaitTimeout = 15 * time.Second

// harness runs a relay, a badger store, a ledger wallet and one provider,
// all sharing an offsettable clock.
type harness struct {
	t      *testing.T
	ctx    context.T
	relay  *relaytest.R
	db     *database.D
	led    *ledger.L
	sign   *p256k.Signer
	offset *atomic.Int64

	prov       *Provider
	provCancel context.F
}

func newHarness(t *testing.T) *harness {
	ctx, cancel := context.Cancel(context.Bg())
	relay, err := relaytest.New()
	require.NoError(t, err)
	db, err := database.New(ctx, t.TempDir())
	require.NoError(t, err)
	led, err := ledger.New(map[string]int64{
		"w1": 1_000_000, "w2": 1_000_000, "w3": 1_000_000,
	})
	require.NoError(t, err)
	h := &harness{
		t: t, ctx: ctx, relay: relay, db: db, led: led,
		sign: &p256k.Signer{}, offset: atomic.NewInt64(0),
	}
	require.NoError(t, h.sign.Generate())
	led.SetClock(h.clock)
	h.startProvider()
	t.Cleanup(func() {
		cancel()
		relay.Shutdown()
		_ = db.Close()
	})
	return h
}

func (h *harness) clock() int64 { return time.Now().Unix() + h.offset.Load() }

func (h *harness) startProvider() {
	ctx, cancel := context.Cancel(h.ctx)
	h.provCancel = cancel
	q := queue.New(32)
	go q.Run(ctx)
	cl := ws.New(h.relay.URL())
	h.prov = New(h.sign, cl, h.db, h.led, q, &Options{
		Alias: "nwcp-test",
		Clock: h.clock,
	})
	go cl.Run(ctx)
	go h.prov.Run(ctx)
}

func (h *harness) stopProvider() {
	h.provCancel()
	time.Sleep(200 * time.Millisecond)
}

func (h *harness) register(pub, walletID string, perms []string, expiresAt int64) {
	require.NoError(h.t, h.db.CreateClientKey(&store.ClientKey{
		Pubkey:      pub,
		WalletID:    walletID,
		Permissions: perms,
		CreatedAt:   h.clock(),
		ExpiresAt:   expiresAt,
	}))
}

func (h *harness) budget(pub string, capMsats, window int64) {
	require.NoError(h.t, h.db.CreateBudget(&store.Budget{
		Pubkey:        pub,
		BudgetMsats:   capMsats,
		RefreshWindow: window,
		CreatedAt:     h.clock(),
	}))
}

// invoice mints a bolt11 on walletID for sats.
func (h *harness) invoice(walletID string, sats int64) string {
	_, pr, err := h.led.CreateInvoice(h.ctx, walletID,
		&wallet.InvoiceParams{AmountSats: sats, Memo: "test invoice"})
	require.NoError(h.t, err)
	return pr
}

func (h *harness) balance(walletID string) int64 {
	w, err := h.led.GetWallet(h.ctx, walletID)
	require.NoError(h.t, err)
	return w.BalanceMsats
}

// wireResponse is the decrypted response payload as a client sees it.
type wireResponse struct {
	ResultType string          `json:"result_type"`
	Error      *Error          `json:"error"`
	Result     json.RawMessage `json:"result"`
}

func (wr *wireResponse) result(t *testing.T, into any) {
	require.Nil(t, wr.Error)
	require.NoError(t, json.Unmarshal(wr.Result, into))
}

// testClient is a paired client side: its own keypair, relay connection
// and response subscription.
type testClient struct {
	h      *harness
	sign   *p256k.Signer
	pub    string
	secret []byte
	cl     *ws.Client
}

func (h *harness) newClient() *testClient {
	tc := &testClient{h: h, sign: &p256k.Signer{}}
	require.NoError(h.t, tc.sign.Generate())
	tc.pub = hex.Enc(tc.sign.Pub())
	var err error
	tc.secret, err = tc.sign.ECDH(h.sign.Pub())
	require.NoError(h.t, err)
	tc.cl = ws.New(h.relay.URL())
	go tc.cl.Run(h.ctx)
	_, err = tc.cl.Subscribe(h.ctx, &filter.F{
		Kinds: []int{event.KindWalletResponse},
		PTags: []string{tc.pub},
	})
	require.NoError(h.t, err)
	return tc
}

// send publishes one encrypted request event and returns its id, hex.
func (tc *testClient) send(method string, params any) string {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(tc.h.t, err)
		raw = b
	}
	body, err := json.Marshal(&Request{Method: method, Params: raw})
	require.NoError(tc.h.t, err)
	ct, err := encryption.Encrypt(tc.secret, string(body), encryption.RandomIV)
	require.NoError(tc.h.t, err)
	ev := &event.E{
		Kind:    event.KindWalletRequest,
		Tags:    [][]string{{"p", tc.h.prov.Pub()}},
		Content: ct,
	}
	require.NoError(tc.h.t, ev.Sign(tc.sign))
	require.NoError(tc.h.t, tc.cl.Publish(tc.h.ctx, ev))
	return hex.Enc(ev.Id)
}

// awaitN collects n decrypted responses to reqID, with their events.
func (tc *testClient) awaitN(reqID string, n int) (
	wrs []*wireResponse, evs []*event.E,
) {
	deadline := time.After(awaitTimeout)
	for len(wrs) < n {
		select {
		case env := <-tc.cl.Frames():
			if env.Label != envelope.LEvent || env.Event == nil {
				continue
			}
			ev := env.Event
			if e, _ := ev.TagValue("e"); e != reqID {
				continue
			}
			pt, err := encryption.Decrypt(tc.secret, ev.Content)
			require.NoError(tc.h.t, err)
			wr := &wireResponse{}
			require.NoError(tc.h.t, json.Unmarshal([]byte(pt), wr))
			wrs = append(wrs, wr)
			evs = append(evs, ev)
		case <-deadline:
			tc.h.t.Fatalf("timed out awaiting %d responses to %s", n, reqID)
		}
	}
	return
}

func (tc *testClient) call(method string, params any) *wireResponse {
	wrs, _ := tc.awaitN(tc.send(method, params), 1)
	return wrs[0]
}

func TestGetInfo(t *testing.T) {
	h := newHarness(t)
	tc := h.newClient()
	h.register(tc.pub, "w1", PermissionOrder, 0)

	wr := tc.call(MethodGetInfo, nil)
	require.Equal(t, MethodGetInfo, wr.ResultType)
	var info InfoResult
	wr.result(t, &info)
	require.Equal(t, "nwcp-test", info.Alias)
	require.Equal(t, "mainnet", info.Network)
	require.Equal(t, SupportedMethods, info.Methods)
}

func TestGetBalance(t *testing.T) {
	h := newHarness(t)
	tc := h.newClient()
	h.register(tc.pub, "w1", PermissionOrder, 0)

	var bal BalanceResult
	tc.call(MethodGetBalance, nil).result(t, &bal)
	require.EqualValues(t, 1_000_000, bal.Balance)
}

func TestUnknownMethod(t *testing.T) {
	h := newHarness(t)
	tc := h.newClient()
	h.register(tc.pub, "w1", PermissionOrder, 0)

	wr := tc.call("make_chaos", nil)
	require.NotNil(t, wr.Error)
	require.Equal(t, CodeNotImplemented, wr.Error.Code)
}

func TestUnauthorized(t *testing.T) {
	h := newHarness(t)

	// never registered
	wr := h.newClient().call(MethodGetInfo, nil)
	require.NotNil(t, wr.Error)
	require.Equal(t, CodeUnauthorized, wr.Error.Code)

	// registered but expired
	tc := h.newClient()
	h.register(tc.pub, "w1", PermissionOrder, h.clock()-60)
	wr = tc.call(MethodGetInfo, nil)
	require.NotNil(t, wr.Error)
	require.Equal(t, CodeUnauthorized, wr.Error.Code)
}

func TestRestricted(t *testing.T) {
	h := newHarness(t)
	tc := h.newClient()
	h.register(tc.pub, "w1", []string{"info"}, 0)

	wr := tc.call(MethodGetBalance, nil)
	require.NotNil(t, wr.Error)
	require.Equal(t, CodeRestricted, wr.Error.Code)

	// get_info still works and reports only what the tags grant
	var info InfoResult
	tc.call(MethodGetInfo, nil).result(t, &info)
	require.Equal(t, []string{MethodGetInfo}, info.Methods)
}

func TestPayInvoice(t *testing.T) {
	h := newHarness(t)
	tc := h.newClient()
	h.register(tc.pub, "w1", PermissionOrder, 0)

	pr := h.invoice("w2", 123)
	var res PayInvoiceResult
	tc.call(MethodPayInvoice, &PayInvoiceParams{Invoice: pr}).result(t, &res)
	require.Len(t, res.Preimage, 64)
	require.NotEqual(t, zeroPreimage, res.Preimage)

	require.EqualValues(t, 877_000, h.balance("w1"))
	require.EqualValues(t, 1_123_000, h.balance("w2"))
}

func TestPayInvoiceFailures(t *testing.T) {
	h := newHarness(t)
	tc := h.newClient()
	h.register(tc.pub, "w1", PermissionOrder, 0)

	// params without an invoice
	wr := tc.call(MethodPayInvoice, map[string]any{})
	require.NotNil(t, wr.Error)
	require.Equal(t, CodeInternal, wr.Error.Code)

	// garbage fails bolt11 decoding before any wallet call
	wr = tc.call(MethodPayInvoice, &PayInvoiceParams{Invoice: "lnbcnotreal"})
	require.NotNil(t, wr.Error)
	require.Equal(t, CodeInternal, wr.Error.Code)

	// a valid invoice the backend has no route to
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	foreign, err := bolt11.Encode(&bolt11.Template{
		MSats:       50_000,
		Timestamp:   h.clock(),
		PaymentHash: frand.Bytes(32),
		Description: "elsewhere",
	}, key)
	require.NoError(t, err)
	wr = tc.call(MethodPayInvoice, &PayInvoiceParams{Invoice: foreign})
	require.NotNil(t, wr.Error)
	require.Equal(t, CodePaymentFailed, wr.Error.Code)

	// more than the wallet holds
	wr = tc.call(MethodPayInvoice,
		&PayInvoiceParams{Invoice: h.invoice("w2", 2_000)})
	require.NotNil(t, wr.Error)
	require.Equal(t, CodePaymentFailed, wr.Error.Code)
	require.EqualValues(t, 1_000_000, h.balance("w1"))
}

func TestMakeLookupAndList(t *testing.T) {
	h := newHarness(t)
	payee := h.newClient()
	h.register(payee.pub, "w2", PermissionOrder, 0)
	payer := h.newClient()
	h.register(payer.pub, "w1", PermissionOrder, 0)

	var made Transaction
	payee.call(MethodMakeInvoice, &MakeInvoiceParams{
		Amount:      123_000,
		Description: "espresso",
		Expiry:      120,
	}).result(t, &made)
	require.Equal(t, "incoming", made.Type)
	require.EqualValues(t, 123_000, made.Amount)
	require.Len(t, made.PaymentHash, 64)
	require.Len(t, made.Preimage, 64)
	require.Equal(t, made.CreatedAt+120, made.ExpiresAt)
	inv, err := bolt11.Decode(made.Invoice)
	require.NoError(t, err)
	require.EqualValues(t, 123_000, inv.MSats)
	require.Equal(t, made.PaymentHash, inv.PaymentHash)

	var paid PayInvoiceResult
	payer.call(MethodPayInvoice,
		&PayInvoiceParams{Invoice: made.Invoice}).result(t, &paid)
	require.Equal(t, made.Preimage, paid.Preimage)

	var looked Transaction
	payee.call(MethodLookupInvoice, &LookupInvoiceParams{
		PaymentHash: made.PaymentHash,
	}).result(t, &looked)
	require.Equal(t, "incoming", looked.Type)
	require.EqualValues(t, 123_000, looked.Amount)
	require.Equal(t, made.Preimage, looked.Preimage)
	require.NotZero(t, looked.SettledAt)

	// lookup by invoice string resolves to the same payment
	var byInvoice Transaction
	payee.call(MethodLookupInvoice, &LookupInvoiceParams{
		Invoice: made.Invoice,
	}).result(t, &byInvoice)
	require.Equal(t, looked.PaymentHash, byInvoice.PaymentHash)

	var listed ListTransactionsResult
	payer.call(MethodListTransactions, nil).result(t, &listed)
	require.Len(t, listed.Transactions, 1)
	tx := listed.Transactions[0]
	require.Equal(t, "outgoing", tx.Type)
	require.EqualValues(t, 123_000, tx.Amount)
	require.Equal(t, made.PaymentHash, tx.PaymentHash)
}

func TestQuotaExceeded(t *testing.T) {
	h := newHarness(t)
	tc := h.newClient()
	h.register(tc.pub, "w1", PermissionOrder, 0)
	h.budget(tc.pub, 100_000, 3600)

	// 123000 msats against a 100000 cap
	wr := tc.call(MethodPayInvoice,
		&PayInvoiceParams{Invoice: h.invoice("w2", 123)})
	require.NotNil(t, wr.Error)
	require.Equal(t, CodeQuotaExceeded, wr.Error.Code)
	require.EqualValues(t, 1_000_000, h.balance("w1"))
}

func TestQuotaRefresh(t *testing.T) {
	h := newHarness(t)
	tc := h.newClient()
	h.register(tc.pub, "w1", PermissionOrder, 0)
	h.budget(tc.pub, 100_000, 3600)

	var res PayInvoiceResult
	tc.call(MethodPayInvoice,
		&PayInvoiceParams{Invoice: h.invoice("w2", 60)}).result(t, &res)

	// 60000 spent this cycle, another 60000 would exceed the cap
	wr := tc.call(MethodPayInvoice,
		&PayInvoiceParams{Invoice: h.invoice("w2", 60)})
	require.NotNil(t, wr.Error)
	require.Equal(t, CodeQuotaExceeded, wr.Error.Code)

	// the next cycle starts fresh
	h.offset.Add(3700)
	tc.call(MethodPayInvoice,
		&PayInvoiceParams{Invoice: h.invoice("w2", 60)}).result(t, &res)
	require.EqualValues(t, 880_000, h.balance("w1"))
}

func TestMultiPayInvoice(t *testing.T) {
	h := newHarness(t)
	tc := h.newClient()
	h.register(tc.pub, "w1", PermissionOrder, 0)

	prB := h.invoice("w3", 70)
	invB, err := bolt11.Decode(prB)
	require.NoError(t, err)
	reqID := tc.send(MethodMultiPayInvoice, &MultiPayInvoiceParams{
		Invoices: []PayInvoiceParams{
			{ID: "first", Invoice: h.invoice("w2", 50)},
			{Invoice: prB},
		},
	})
	wrs, evs := tc.awaitN(reqID, 2)
	byD := map[string]*wireResponse{}
	for i, ev := range evs {
		d, ok := ev.TagValue("d")
		require.True(t, ok)
		byD[d] = wrs[i]
	}
	// the given id tags the first response, the payment hash the second
	require.Contains(t, byD, "first")
	require.Contains(t, byD, invB.PaymentHash)
	for _, wr := range byD {
		require.Nil(t, wr.Error)
	}
	require.EqualValues(t, 880_000, h.balance("w1"))
	require.EqualValues(t, 1_050_000, h.balance("w2"))
	require.EqualValues(t, 1_070_000, h.balance("w3"))
}

func TestMultiPayIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	tc := h.newClient()
	h.register(tc.pub, "w1", PermissionOrder, 0)

	reqID := tc.send(MethodMultiPayInvoice, &MultiPayInvoiceParams{
		Invoices: []PayInvoiceParams{
			{ID: "good", Invoice: h.invoice("w2", 50)},
			{ID: "huge", Invoice: h.invoice("w2", 2_000)},
		},
	})
	wrs, evs := tc.awaitN(reqID, 2)
	byD := map[string]*wireResponse{}
	for i, ev := range evs {
		d, _ := ev.TagValue("d")
		byD[d] = wrs[i]
	}
	require.Nil(t, byD["good"].Error)
	require.NotNil(t, byD["huge"].Error)
	require.Equal(t, CodePaymentFailed, byD["huge"].Error.Code)
	require.EqualValues(t, 950_000, h.balance("w1"))
}

func TestMultiPayRejectsMalformedBatch(t *testing.T) {
	h := newHarness(t)
	tc := h.newClient()
	h.register(tc.pub, "w1", PermissionOrder, 0)

	wr := tc.call(MethodMultiPayInvoice, &MultiPayInvoiceParams{
		Invoices: []PayInvoiceParams{{ID: "only-an-id"}},
	})
	require.NotNil(t, wr.Error)
	require.Equal(t, CodeInternal, wr.Error.Code)
}

func TestReplayAnswersOnceAcrossRestart(t *testing.T) {
	h := newHarness(t)
	tc := h.newClient()
	h.register(tc.pub, "w1", PermissionOrder, 0)

	// answered while the provider is up
	firstID := tc.send(MethodGetBalance, nil)
	tc.awaitN(firstID, 1)

	h.stopProvider()

	// published into the void, stored by the relay
	offlineID := tc.send(MethodGetBalance, nil)

	// the restarted provider replays the unanswered request only
	h.startProvider()
	wrs, _ := tc.awaitN(offlineID, 1)
	require.Nil(t, wrs[0].Error)

	time.Sleep(300 * time.Millisecond)
	counts := map[string]int{}
	for _, ev := range h.relay.Events() {
		if ev.Kind != event.KindWalletResponse {
			continue
		}
		if e, ok := ev.TagValue("e"); ok {
			counts[e]++
		}
	}
	require.Equal(t, 1, counts[firstID])
	require.Equal(t, 1, counts[offlineID])
}

func TestConcurrentSpendsHonorBudget(t *testing.T) {
	h := newHarness(t)
	sign := &p256k.Signer{}
	require.NoError(t, sign.Generate())
	pub := hex.Enc(sign.Pub())
	h.register(pub, "w1", PermissionOrder, 0)
	h.budget(pub, 100_000, 3600)

	// eight rival spends of 30_000 msats against a 100_000 cap: exactly
	// three fit, whatever order the queue admits them in
	var wg sync.WaitGroup
	admitted := atomic.NewInt64(0)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inBudget, _, err := h.prov.trackedSpend(
				h.ctx, pub, 30_000, func() (any, error) {
					time.Sleep(time.Millisecond)
					return nil, nil
				},
			)
			require.NoError(t, err)
			if inBudget {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 3, admitted.Load())

	now := h.clock()
	spent, err := h.db.SpentInWindow(pub, now-3600, now+1)
	require.NoError(t, err)
	require.EqualValues(t, 90_000, spent)
}

func TestResubscribeInstallsBeforeRequesting(t *testing.T) {
	sign := &p256k.Signer{}
	require.NoError(t, sign.Generate())
	// a client that never connects: Send blocks, so no REQ can reach a
	// relay while the test observes the provider
	cl := ws.New("ws://127.0.0.1:1")
	p := New(sign, cl, nil, nil, queue.New(1), nil)

	ctx, cancel := context.Cancel(context.Bg())
	done := make(chan struct{})
	go func() {
		p.resubscribe(ctx)
		close(done)
	}()
	// the new generation must be installed while its REQs are still
	// pending, so backfill can never race the swap
	require.Eventually(t, func() bool { return p.sub.Load() != nil },
		2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

// Package ledger is an in-process wallet backend with instantly settling
// internal payments and real bolt11 invoices, used by the daemon's dev
// mode and the test harness.
package ledger

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/minio/sha256-simd"
	"lukechampine.com/frand"

	"nwcp.dev/pkg/encoders/bolt11"
	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/utils/errorf"
	"nwcp.dev/pkg/utils/log"
	"nwcp.dev/pkg/wallet"
)

type invoice struct {
	walletID string
	preimage string
	tpl      *bolt11.Template
}

// L is the ledger backend. All wallets share one node key for invoice
// signing.
type L struct {
	mu sync.Mutex
	// nodeKey signs minted invoices.
	nodeKey *btcec.PrivateKey
	// balances by wallet id, msats.
	balances map[string]int64
	// payments per wallet, oldest first.
	payments map[string][]*wallet.Payment
	// invoices by payment hash.
	invoices map[string]*invoice
	// now is the clock, swappable by tests.
	now func() int64
}

var _ wallet.API = (*L)(nil)

// New creates a ledger backend with the given opening balances in msats.
func New(balances map[string]int64) (l *L, err error) {
	l = &L{
		balances: make(map[string]int64, len(balances)),
		payments: make(map[string][]*wallet.Payment),
		invoices: make(map[string]*invoice),
		now:      func() int64 { return time.Now().Unix() },
	}
	for id, msats := range balances {
		l.balances[id] = msats
	}
	if l.nodeKey, err = btcec.NewPrivateKey(); chk.E(err) {
		return nil, err
	}
	return
}

// SetClock replaces the time source, for tests that advance time across
// budget cycles.
func (l *L) SetClock(now func() int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// CreateInvoice mints a signed bolt11 on walletID and records a pending
// incoming payment.
func (l *L) CreateInvoice(
	ctx context.T, walletID string, params *wallet.InvoiceParams,
) (paymentHash, paymentRequest string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[walletID]; !ok {
		return "", "", errorf.E("unknown wallet %q", walletID)
	}
	preimage := frand.Bytes(32)
	hash, _ := hex.Dec(bolt11.PreimageHash(preimage))
	now := l.now()
	tpl := &bolt11.Template{
		MSats:       params.AmountSats * 1000,
		Timestamp:   now,
		PaymentHash: hash,
		Description: params.Memo,
		Expiry:      params.Expiry,
	}
	if len(params.DescriptionHash) == 32 {
		tpl.DescriptionHash = params.DescriptionHash
		tpl.Description = ""
	} else if len(params.UnhashedDescription) > 0 {
		h := sha256.Sum256(params.UnhashedDescription)
		tpl.DescriptionHash = h[:]
		tpl.Description = ""
	}
	if paymentRequest, err = bolt11.Encode(tpl, l.nodeKey); chk.E(err) {
		return "", "", err
	}
	paymentHash = hex.Enc(hash)
	l.invoices[paymentHash] = &invoice{
		walletID: walletID,
		preimage: hex.Enc(preimage),
		tpl:      tpl,
	}
	expiry := tpl.Expiry
	if expiry == 0 {
		expiry = bolt11.DefaultExpiry
	}
	l.payments[walletID] = append(l.payments[walletID], &wallet.Payment{
		PaymentHash:     paymentHash,
		Bolt11:          paymentRequest,
		Preimage:        hex.Enc(preimage),
		AmountMsats:     params.AmountSats * 1000,
		Memo:            tpl.Description,
		DescriptionHash: hex.Enc(tpl.DescriptionHash),
		Pending:         true,
		CreatedAt:       now,
		ExpiresAt:       now + expiry,
	})
	log.D.F("ledger: wallet %s minted invoice %s for %d msats",
		walletID, paymentHash, params.AmountSats*1000)
	return
}

// PayInvoice settles an internal invoice instantly, moving the amount
// between wallets. Unknown payment hashes and insufficient balances are
// terminal payment failures.
func (l *L) PayInvoice(
	ctx context.T, walletID, pr string, maxSats int64, description string,
) (paymentHash string, err error) {
	inv, err := bolt11.Decode(pr)
	if chk.D(err) {
		return "", &wallet.PaymentError{
			Status: "failed", Message: "invalid bolt11: " + err.Error(),
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[walletID]; !ok {
		return "", errorf.E("unknown wallet %q", walletID)
	}
	rec, ok := l.invoices[inv.PaymentHash]
	if !ok {
		return "", &wallet.PaymentError{
			Status: "failed", Message: "no route to payee",
		}
	}
	amount := inv.MSats
	if amount <= 0 {
		return "", &wallet.PaymentError{
			Status: "failed", Message: "amountless invoice",
		}
	}
	if l.balances[walletID] < amount {
		return "", &wallet.PaymentError{
			Status: "failed", Message: "insufficient balance",
		}
	}
	now := l.now()
	if now >= inv.ExpiresAt() {
		return "", &wallet.PaymentError{
			Status: "failed", Message: "invoice expired",
		}
	}
	l.balances[walletID] -= amount
	l.balances[rec.walletID] += amount
	l.payments[walletID] = append(l.payments[walletID], &wallet.Payment{
		PaymentHash: inv.PaymentHash,
		Bolt11:      pr,
		Preimage:    rec.preimage,
		AmountMsats: -amount,
		Memo:        description,
		CreatedAt:   now,
		SettledAt:   now,
	})
	// settle the payee's pending incoming record
	for _, p := range l.payments[rec.walletID] {
		if p.PaymentHash == inv.PaymentHash && p.Pending {
			p.Pending = false
			p.SettledAt = now
		}
	}
	log.D.F("ledger: wallet %s paid %s %d msats to wallet %s",
		walletID, inv.PaymentHash, amount, rec.walletID)
	return inv.PaymentHash, nil
}

// CheckTransactionStatus reports settlement of paymentHash as seen from
// walletID.
func (l *L) CheckTransactionStatus(
	ctx context.T, walletID, paymentHash string,
) (st *wallet.TxStatus, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.payments[walletID] {
		if p.PaymentHash != paymentHash {
			continue
		}
		st = &wallet.TxStatus{Success: true, Paid: !p.Pending,
			FeeMsats: p.FeeMsats}
		if !p.Pending {
			st.Preimage = p.Preimage
		}
		return
	}
	return &wallet.TxStatus{}, nil
}

// GetWallet returns the wallet with its current balance.
func (l *L) GetWallet(ctx context.T, walletID string) (w *wallet.Wallet, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msats, ok := l.balances[walletID]
	if !ok {
		return nil, errorf.E("unknown wallet %q", walletID)
	}
	return &wallet.Wallet{ID: walletID, BalanceMsats: msats}, nil
}

// GetWalletPayment returns the wallet's payment by hash, nil if unknown.
func (l *L) GetWalletPayment(
	ctx context.T, walletID, paymentHash string,
) (p *wallet.Payment, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, cand := range l.payments[walletID] {
		if cand.PaymentHash == paymentHash {
			cp := *cand
			return &cp, nil
		}
	}
	return nil, nil
}

// GetPayments lists the wallet's payments matching the filter, newest
// first.
func (l *L) GetPayments(
	ctx context.T, walletID string, f *wallet.PaymentsFilter,
) (ps []*wallet.Payment, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := l.payments[walletID]
	for i := len(all) - 1; i >= 0; i-- {
		p := all[i]
		if f.From > 0 && p.CreatedAt < f.From {
			continue
		}
		if f.Until > 0 && p.CreatedAt > f.Until {
			continue
		}
		if p.Pending && !f.IncludePending {
			continue
		}
		if (f.Incoming || f.Outgoing) &&
			((p.Incoming() && !f.Incoming) || (!p.Incoming() && !f.Outgoing)) {
			continue
		}
		cp := *p
		ps = append(ps, &cp)
	}
	if f.Offset > 0 {
		if f.Offset >= len(ps) {
			return nil, nil
		}
		ps = ps[f.Offset:]
	}
	if f.Limit > 0 && len(ps) > f.Limit {
		ps = ps[:f.Limit]
	}
	return
}

package nwc

import (
	"encoding/json"
	"strings"
	"time"

	"nwcp.dev/pkg/encoders/bolt11"
	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/store"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/utils/log"
	"nwcp.dev/pkg/wallet"
)

// Preimage polling after a successful payment.
const (
	preimagePollInterval = 50 * time.Millisecond
	preimagePollCap      = time.Minute
)

// zeroPreimage substitutes for backends that settle without reporting a
// preimage.
var zeroPreimage = strings.Repeat("0", 64)

func single(err *Error) []*Response { return []*Response{{Err: err}} }

// authorize resolves the client key, refreshes its last_used, checks the
// method against its permission tags and appends an audit record. A nil
// Error means the call may proceed.
func (p *Provider) authorize(
	clientPub, method string, params json.RawMessage,
) (key *store.ClientKey, aerr *Error) {
	key, err := p.store.GetClientKey(clientPub, false, true)
	if chk.E(err) {
		return nil, Internal(err)
	}
	if key == nil {
		return nil, Errf(CodeUnauthorized, "unknown or expired client key")
	}
	if !Allowed(key.Permissions, method) {
		return nil, Errf(CodeRestricted,
			"permissions do not allow %s", method)
	}
	payload, _ := json.Marshal(&Request{Method: method, Params: params})
	chk.E(p.store.AppendLog(clientPub, string(payload), p.now()))
	return key, nil
}

func (p *Provider) payInvoice(
	ctx context.T, clientPub string, params json.RawMessage,
) []*Response {
	key, aerr := p.authorize(clientPub, MethodPayInvoice, params)
	if aerr != nil {
		return single(aerr)
	}
	var pp PayInvoiceParams
	if err := json.Unmarshal(params, &pp); err != nil || pp.Invoice == "" {
		return single(Errf(CodeInternal, "missing invoice parameter"))
	}
	return []*Response{p.paySingle(ctx, key, clientPub, pp.Invoice)}
}

// paySingle runs the whole single-invoice pipeline: decode, budget-gated
// payment, preimage poll.
func (p *Provider) paySingle(
	ctx context.T, key *store.ClientKey, clientPub, pr string,
) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			log.E.F("pay pipeline panicked: %v", r)
			resp = &Response{Err: Errf(CodeInternal, "%v", r)}
		}
	}()
	inv, err := bolt11.Decode(pr)
	if err != nil {
		return &Response{Err: Internal(err)}
	}
	amount := inv.MSats
	inBudget, _, err := p.trackedSpend(
		ctx, clientPub, amount, func() (any, error) {
			return p.wallet.PayInvoice(
				ctx, key.WalletID, pr, amount/1000, inv.Description,
			)
		},
	)
	if err != nil {
		if wallet.Failed(err) {
			return &Response{Err: Errf(CodePaymentFailed, "%s",
				err.(*wallet.PaymentError).Message)}
		}
		return &Response{Err: Internal(err)}
	}
	if !inBudget {
		return &Response{Err: Errf(CodeQuotaExceeded,
			"payment exceeds a spending budget")}
	}
	preimage, perr := p.awaitPreimage(ctx, key.WalletID, inv.PaymentHash)
	if perr != nil {
		return &Response{Err: perr}
	}
	return &Response{Result: &PayInvoiceResult{Preimage: preimage}}
}

// awaitPreimage polls the payment status until the preimage appears,
// bounded by preimagePollCap.
func (p *Provider) awaitPreimage(
	ctx context.T, walletID, paymentHash string,
) (preimage string, aerr *Error) {
	deadline := time.Now().Add(preimagePollCap)
	for {
		st, err := p.wallet.CheckTransactionStatus(ctx, walletID, paymentHash)
		if chk.E(err) {
			return "", Internal(err)
		}
		if st.Success && st.Paid {
			if st.Preimage == "" {
				return zeroPreimage, nil
			}
			return st.Preimage, nil
		}
		if time.Now().After(deadline) {
			return "", Errf(CodePaymentFailed,
				"payment did not settle in time")
		}
		select {
		case <-ctx.Done():
			return "", Errf(CodePaymentFailed, "shutting down")
		case <-time.After(preimagePollInterval):
		}
	}
}

func (p *Provider) multiPayInvoice(
	ctx context.T, clientPub string, params json.RawMessage,
) []*Response {
	key, aerr := p.authorize(clientPub, MethodMultiPayInvoice, params)
	if aerr != nil {
		return single(aerr)
	}
	var pp MultiPayInvoiceParams
	if err := json.Unmarshal(params, &pp); err != nil {
		return single(Internal(err))
	}
	if len(pp.Invoices) == 0 {
		return single(Errf(CodeInternal, "no invoices to pay"))
	}
	for _, entry := range pp.Invoices {
		if entry.Invoice == "" {
			return single(Errf(CodeInternal,
				"an entry is missing its invoice"))
		}
	}
	// each invoice runs independently and gets its own response event,
	// distinguished by a d tag
	responses := make([]*Response, 0, len(pp.Invoices))
	for _, entry := range pp.Invoices {
		r := p.paySingle(ctx, key, clientPub, entry.Invoice)
		d := entry.ID
		if d == "" {
			if inv, err := bolt11.Decode(entry.Invoice); err == nil {
				d = inv.PaymentHash
			}
		}
		r.ExtraTags = append(r.ExtraTags, []string{"d", d})
		responses = append(responses, r)
	}
	return responses
}

func (p *Provider) makeInvoice(
	ctx context.T, clientPub string, params json.RawMessage,
) []*Response {
	key, aerr := p.authorize(clientPub, MethodMakeInvoice, params)
	if aerr != nil {
		return single(aerr)
	}
	var pp MakeInvoiceParams
	if err := json.Unmarshal(params, &pp); err != nil {
		return single(Internal(err))
	}
	if pp.Amount <= 0 {
		return single(Errf(CodeInternal, "missing or invalid amount"))
	}
	var dh []byte
	if pp.DescriptionHash != "" {
		var err error
		if dh, err = hex.Dec(pp.DescriptionHash); err != nil {
			return single(Errf(CodeInternal, "invalid description_hash"))
		}
	}
	hash, pr, err := p.wallet.CreateInvoice(ctx, key.WalletID,
		&wallet.InvoiceParams{
			AmountSats:      pp.Amount / 1000,
			Memo:            pp.Description,
			DescriptionHash: dh,
			Expiry:          pp.Expiry,
		})
	if err != nil {
		return single(Internal(err))
	}
	preimage := zeroPreimage
	if pay, err := p.wallet.GetWalletPayment(
		ctx, key.WalletID, hash,
	); err == nil && pay != nil && pay.Preimage != "" {
		preimage = pay.Preimage
	}
	now := p.now()
	tx := &Transaction{
		Type:            "incoming",
		Invoice:         pr,
		Description:     pp.Description,
		DescriptionHash: pp.DescriptionHash,
		Preimage:        preimage,
		PaymentHash:     hash,
		Amount:          pp.Amount,
		CreatedAt:       now,
	}
	if pp.Expiry > 0 {
		tx.ExpiresAt = now + pp.Expiry
	}
	return []*Response{{Result: tx}}
}

func (p *Provider) lookupInvoice(
	ctx context.T, clientPub string, params json.RawMessage,
) []*Response {
	key, aerr := p.authorize(clientPub, MethodLookupInvoice, params)
	if aerr != nil {
		return single(aerr)
	}
	var pp LookupInvoiceParams
	if err := json.Unmarshal(params, &pp); err != nil {
		return single(Internal(err))
	}
	hash := pp.PaymentHash
	if hash == "" && pp.Invoice != "" {
		inv, err := bolt11.Decode(pp.Invoice)
		if err != nil {
			return single(Internal(err))
		}
		hash = inv.PaymentHash
	}
	if hash == "" {
		return single(Errf(CodeInternal,
			"payment_hash or invoice required"))
	}
	pay, err := p.wallet.GetWalletPayment(ctx, key.WalletID, hash)
	if err != nil {
		return single(Internal(err))
	}
	if pay == nil {
		return single(Errf(CodeInternal, "payment not found"))
	}
	return []*Response{{Result: txFromPayment(pay)}}
}

func (p *Provider) listTransactions(
	ctx context.T, clientPub string, params json.RawMessage,
) []*Response {
	key, aerr := p.authorize(clientPub, MethodListTransactions, params)
	if aerr != nil {
		return single(aerr)
	}
	pp := ListTransactionsParams{Limit: 10}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &pp); err != nil {
			return single(Internal(err))
		}
		if pp.Limit <= 0 {
			pp.Limit = 10
		}
	}
	pays, err := p.wallet.GetPayments(ctx, key.WalletID,
		&wallet.PaymentsFilter{
			From:           pp.From,
			Until:          pp.Until,
			Limit:          pp.Limit,
			Offset:         pp.Offset,
			IncludePending: pp.Unpaid,
			Incoming:       pp.Type == "incoming",
			Outgoing:       pp.Type == "outgoing",
		})
	if err != nil {
		return single(Internal(err))
	}
	txs := make([]*Transaction, 0, len(pays))
	for _, pay := range pays {
		txs = append(txs, txFromPayment(pay))
	}
	return []*Response{{Result: &ListTransactionsResult{Transactions: txs}}}
}

func (p *Provider) getBalance(
	ctx context.T, clientPub string,
) []*Response {
	key, aerr := p.authorize(clientPub, MethodGetBalance, nil)
	if aerr != nil {
		return single(aerr)
	}
	w, err := p.wallet.GetWallet(ctx, key.WalletID)
	if err != nil {
		return single(Internal(err))
	}
	return []*Response{{Result: &BalanceResult{Balance: w.BalanceMsats}}}
}

func (p *Provider) getInfo(ctx context.T, clientPub string) []*Response {
	key, aerr := p.authorize(clientPub, MethodGetInfo, nil)
	if aerr != nil {
		return single(aerr)
	}
	return []*Response{{Result: &InfoResult{
		Alias:   p.alias,
		Network: "mainnet",
		Methods: PermittedSupported(key.Permissions),
	}}}
}

// txFromPayment maps a wallet payment to the wire transaction shape.
// Amounts are absolute; the preimage is withheld for unsettled outgoing
// payments.
func txFromPayment(pay *wallet.Payment) (tx *Transaction) {
	tx = &Transaction{
		Type:            "outgoing",
		Invoice:         pay.Bolt11,
		Description:     pay.Memo,
		DescriptionHash: pay.DescriptionHash,
		PaymentHash:     pay.PaymentHash,
		Amount:          pay.AmountMsats,
		FeesPaid:        pay.FeeMsats,
		CreatedAt:       pay.CreatedAt,
		ExpiresAt:       pay.ExpiresAt,
		SettledAt:       pay.SettledAt,
	}
	if pay.Incoming() {
		tx.Type = "incoming"
	}
	if tx.Amount < 0 {
		tx.Amount = -tx.Amount
	}
	if tx.FeesPaid < 0 {
		tx.FeesPaid = -tx.FeesPaid
	}
	settled := !pay.Pending || pay.SettledAt > 0
	if settled || pay.Incoming() {
		tx.Preimage = pay.Preimage
	}
	return
}

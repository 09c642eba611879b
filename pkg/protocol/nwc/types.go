// Package nwc implements the wallet connect service provider: the
// dispatcher that turns encrypted kind-23194 request events into host
// wallet operations and encrypted kind-23195 responses, with per-client
// permissions and budget-gated spending.
package nwc

import "encoding/json"

// Request is the decrypted payload of a kind-23194 event.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// responseContent is the payload of a kind-23195 event before
// encryption. Null members are omitted from the serialized form.
type responseContent struct {
	ResultType string `json:"result_type"`
	Error      *Error `json:"error,omitempty"`
	Result     any    `json:"result,omitempty"`
}

// Response is one handler outcome. A handler returns one Response per
// response event to emit; only multi_pay_invoice returns more than one.
type Response struct {
	Result any
	Err    *Error
	// ExtraTags precede the e and p tags of the response event.
	ExtraTags [][]string
}

// PayInvoiceParams is the params shape of pay_invoice, and of each entry
// of multi_pay_invoice.
type PayInvoiceParams struct {
	// ID distinguishes entries of a multi_pay_invoice batch.
	ID      string `json:"id,omitempty"`
	Invoice string `json:"invoice"`
}

// MultiPayInvoiceParams is the params shape of multi_pay_invoice.
type MultiPayInvoiceParams struct {
	Invoices []PayInvoiceParams `json:"invoices"`
}

// PayInvoiceResult carries the settlement proof.
type PayInvoiceResult struct {
	Preimage string `json:"preimage"`
}

// MakeInvoiceParams is the params shape of make_invoice. Amount is in
// msats.
type MakeInvoiceParams struct {
	Amount          int64  `json:"amount"`
	Description     string `json:"description,omitempty"`
	DescriptionHash string `json:"description_hash,omitempty"`
	Expiry          int64  `json:"expiry,omitempty"`
}

// LookupInvoiceParams requires payment_hash or invoice.
type LookupInvoiceParams struct {
	PaymentHash string `json:"payment_hash,omitempty"`
	Invoice     string `json:"invoice,omitempty"`
}

// ListTransactionsParams is the params shape of list_transactions.
type ListTransactionsParams struct {
	From   int64  `json:"from,omitempty"`
	Until  int64  `json:"until,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Unpaid bool   `json:"unpaid,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Transaction is the invoice/payment shape shared by make_invoice,
// lookup_invoice and list_transactions results.
type Transaction struct {
	Type            string `json:"type"`
	Invoice         string `json:"invoice,omitempty"`
	Description     string `json:"description,omitempty"`
	DescriptionHash string `json:"description_hash,omitempty"`
	Preimage        string `json:"preimage,omitempty"`
	PaymentHash     string `json:"payment_hash"`
	Amount          int64  `json:"amount"`
	FeesPaid        int64  `json:"fees_paid"`
	CreatedAt       int64  `json:"created_at"`
	ExpiresAt       int64  `json:"expires_at,omitempty"`
	SettledAt       int64  `json:"settled_at,omitempty"`
}

// ListTransactionsResult wraps the history listing.
type ListTransactionsResult struct {
	Transactions []*Transaction `json:"transactions"`
}

// BalanceResult is the get_balance result, in msats.
type BalanceResult struct {
	Balance int64 `json:"balance"`
}

// InfoResult is the get_info result.
type InfoResult struct {
	Alias       string   `json:"alias"`
	Color       string   `json:"color"`
	Network     string   `json:"network"`
	BlockHeight int64    `json:"block_height"`
	BlockHash   string   `json:"block_hash"`
	Methods     []string `json:"methods"`
}

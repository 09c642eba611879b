// Package wallet abstracts the host wallet backend: invoice creation,
// payment, balance, payment lookup and history. The protocol layer only
// ever talks to this interface.
package wallet

import (
	"fmt"

	"nwcp.dev/pkg/utils/context"
)

// PaymentError is a payment failure surfaced by the backend. Status
// "failed" is a terminal payment failure; any other status is an
// internal backend fault.
type PaymentError struct {
	Status  string
	Message string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment %s: %s", e.Status, e.Message)
}

// Failed reports whether err is a terminal payment failure.
func Failed(err error) bool {
	pe, ok := err.(*PaymentError)
	return ok && pe.Status == "failed"
}

// Wallet is an account on the backend.
type Wallet struct {
	ID           string
	BalanceMsats int64
}

// Payment is one wallet payment, incoming or outgoing. AmountMsats is
// signed: negative for outgoing.
type Payment struct {
	PaymentHash     string
	Bolt11          string
	Preimage        string
	AmountMsats     int64
	FeeMsats        int64
	Memo            string
	DescriptionHash string
	Pending         bool
	CreatedAt       int64
	ExpiresAt       int64
	SettledAt       int64
}

// Incoming reports the payment direction.
func (p *Payment) Incoming() bool { return p.AmountMsats >= 0 }

// TxStatus is the result of a payment status check.
type TxStatus struct {
	// Success is false when the status could not be determined.
	Success  bool
	Paid     bool
	Preimage string
	FeeMsats int64
}

// InvoiceParams describes an invoice to create. Amount is in sats.
type InvoiceParams struct {
	AmountSats int64
	Memo       string
	// DescriptionHash, when 32 bytes, is committed in the invoice
	// instead of a description.
	DescriptionHash []byte
	// UnhashedDescription is hashed by the backend into the h field.
	UnhashedDescription []byte
	// Expiry in seconds, backend default when 0.
	Expiry int64
}

// PaymentsFilter narrows a history listing.
type PaymentsFilter struct {
	// From and Until bound created_at in unix seconds, 0 for unbounded.
	From  int64
	Until int64
	// Limit of 0 means backend default.
	Limit  int
	Offset int
	// IncludePending also returns unsettled payments.
	IncludePending bool
	// Incoming/Outgoing select direction; both false means both.
	Incoming bool
	Outgoing bool
}

// API is the host wallet surface consumed by the method handlers.
type API interface {
	// CreateInvoice makes a new invoice on walletID.
	CreateInvoice(ctx context.T, walletID string, params *InvoiceParams) (
		paymentHash, paymentRequest string, err error)
	// PayInvoice pays a bolt11 from walletID. Terminal failures are
	// returned as *PaymentError with status "failed".
	PayInvoice(ctx context.T, walletID, bolt11 string, maxSats int64,
		description string) (paymentHash string, err error)
	// CheckTransactionStatus reports settlement of a payment hash.
	CheckTransactionStatus(ctx context.T, walletID, paymentHash string) (
		st *TxStatus, err error)
	// GetWallet returns the wallet with its balance.
	GetWallet(ctx context.T, walletID string) (w *Wallet, err error)
	// GetWalletPayment returns a payment by hash, nil when unknown.
	GetWalletPayment(ctx context.T, walletID, paymentHash string) (
		p *Payment, err error)
	// GetPayments lists payments matching the filter, newest first.
	GetPayments(ctx context.T, walletID string, f *PaymentsFilter) (
		ps []*Payment, err error)
}

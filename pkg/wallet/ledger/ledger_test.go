package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nwcp.dev/pkg/encoders/bolt11"
	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/wallet"
)

func newLedger(t *testing.T) *L {
	t.Helper()
	l, err := New(map[string]int64{
		"wallet1": 1_000_000,
		"wallet2": 1_000_000,
		"wallet3": 1_000_000,
	})
	require.NoError(t, err)
	return l
}

func TestCreateAndPayInvoice(t *testing.T) {
	ctx := context.Bg()
	l := newLedger(t)

	hash, pr, err := l.CreateInvoice(ctx, "wallet1", &wallet.InvoiceParams{
		AmountSats: 123, Memo: "test 123", Expiry: 1000,
	})
	require.NoError(t, err)

	inv, err := bolt11.Decode(pr)
	require.NoError(t, err)
	require.EqualValues(t, 123000, inv.MSats)
	require.Equal(t, hash, inv.PaymentHash)
	require.Equal(t, "test 123", inv.Description)

	// pending until paid
	st, err := l.CheckTransactionStatus(ctx, "wallet1", hash)
	require.NoError(t, err)
	require.True(t, st.Success)
	require.False(t, st.Paid)

	paidHash, err := l.PayInvoice(ctx, "wallet2", pr, 0, "")
	require.NoError(t, err)
	require.Equal(t, hash, paidHash)

	w1, err := l.GetWallet(ctx, "wallet1")
	require.NoError(t, err)
	require.EqualValues(t, 1_123_000, w1.BalanceMsats)
	w2, err := l.GetWallet(ctx, "wallet2")
	require.NoError(t, err)
	require.EqualValues(t, 877_000, w2.BalanceMsats)

	// both sides see the settlement with the same preimage
	st, err = l.CheckTransactionStatus(ctx, "wallet1", hash)
	require.NoError(t, err)
	require.True(t, st.Paid)
	require.NotEmpty(t, st.Preimage)
	st2, err := l.CheckTransactionStatus(ctx, "wallet2", hash)
	require.NoError(t, err)
	require.True(t, st2.Paid)
	require.Equal(t, st.Preimage, st2.Preimage)
	pre, err := hex.Dec(st.Preimage)
	require.NoError(t, err)
	require.Equal(t, hash, bolt11.PreimageHash(pre))
}

func TestPayInvoiceFailures(t *testing.T) {
	ctx := context.Bg()
	l := newLedger(t)

	_, err := l.PayInvoice(ctx, "wallet1", "junk", 0, "")
	require.True(t, wallet.Failed(err), "got %v", err)

	// an invoice minted by a different ledger has no route here
	other := newLedger(t)
	_, pr, err := other.CreateInvoice(ctx, "wallet1", &wallet.InvoiceParams{
		AmountSats: 1,
	})
	require.NoError(t, err)
	_, err = l.PayInvoice(ctx, "wallet1", pr, 0, "")
	require.True(t, wallet.Failed(err), "got %v", err)

	// more than the payer holds
	_, pr, err = l.CreateInvoice(ctx, "wallet1", &wallet.InvoiceParams{
		AmountSats: 2000,
	})
	require.NoError(t, err)
	_, err = l.PayInvoice(ctx, "wallet2", pr, 0, "")
	require.True(t, wallet.Failed(err), "got %v", err)
	w2, err := l.GetWallet(ctx, "wallet2")
	require.NoError(t, err)
	require.EqualValues(t, 1_000_000, w2.BalanceMsats, "failed payment must not debit")
}

func TestGetWalletPayment(t *testing.T) {
	ctx := context.Bg()
	l := newLedger(t)
	hash, pr, err := l.CreateInvoice(ctx, "wallet1", &wallet.InvoiceParams{
		AmountSats: 5, Memo: "thing",
	})
	require.NoError(t, err)

	p, err := l.GetWalletPayment(ctx, "wallet1", hash)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.True(t, p.Pending)
	require.True(t, p.Incoming())
	require.Equal(t, pr, p.Bolt11)

	p, err = l.GetWalletPayment(ctx, "wallet1", "0000")
	require.NoError(t, err)
	require.Nil(t, p)

	_, err = l.PayInvoice(ctx, "wallet2", pr, 0, "")
	require.NoError(t, err)
	p, err = l.GetWalletPayment(ctx, "wallet2", hash)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.False(t, p.Incoming())
	require.EqualValues(t, -5000, p.AmountMsats)
}

func TestGetPaymentsFilters(t *testing.T) {
	ctx := context.Bg()
	l := newLedger(t)
	for i := 0; i < 3; i++ {
		_, pr, err := l.CreateInvoice(ctx, "wallet1", &wallet.InvoiceParams{
			AmountSats: 1,
		})
		require.NoError(t, err)
		_, err = l.PayInvoice(ctx, "wallet2", pr, 0, "")
		require.NoError(t, err)
	}
	// one unpaid invoice on wallet1
	_, _, err := l.CreateInvoice(ctx, "wallet1", &wallet.InvoiceParams{
		AmountSats: 1,
	})
	require.NoError(t, err)

	ps, err := l.GetPayments(ctx, "wallet1", &wallet.PaymentsFilter{})
	require.NoError(t, err)
	require.Len(t, ps, 3, "pending excluded by default")

	ps, err = l.GetPayments(ctx, "wallet1", &wallet.PaymentsFilter{
		IncludePending: true,
	})
	require.NoError(t, err)
	require.Len(t, ps, 4)

	ps, err = l.GetPayments(ctx, "wallet2", &wallet.PaymentsFilter{
		Incoming: true,
	})
	require.NoError(t, err)
	require.Empty(t, ps)

	ps, err = l.GetPayments(ctx, "wallet2", &wallet.PaymentsFilter{
		Outgoing: true, Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, ps, 2)

	ps, err = l.GetPayments(ctx, "wallet2", &wallet.PaymentsFilter{
		Outgoing: true, Offset: 2,
	})
	require.NoError(t, err)
	require.Len(t, ps, 1)
}

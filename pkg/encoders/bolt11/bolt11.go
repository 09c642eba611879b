// Package bolt11 encodes and decodes lightning payment requests. It
// covers the fields the wallet service needs: amount, payment hash,
// description or description hash, timestamp, expiry and payee, with the
// recoverable signature over the human readable part and data.
package bolt11

import (
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/minio/sha256-simd"

	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/errorf"
)

// Tagged field types.
const (
	tagPaymentHash     = 1
	tagRouteHint       = 3
	tagFeatures        = 5
	tagExpiry          = 6
	tagFallback        = 9
	tagDescription     = 13
	tagPaymentSecret   = 16
	tagPayeePubkey     = 19
	tagDescriptionHash = 23
	tagMinFinalCltv    = 24
)

// DefaultExpiry applies when an invoice carries no x field.
const DefaultExpiry = 3600

// msats per bitcoin
const msatPerBtc = 100_000_000_000

// Invoice is a decoded payment request.
type Invoice struct {
	// Currency is the hrp prefix after "ln", e.g. "bc".
	Currency string
	// MSats is the invoice amount, 0 when the invoice names none.
	MSats int64
	// Timestamp is the creation time in unix seconds.
	Timestamp int64
	// PaymentHash is the hex sha256 of the preimage.
	PaymentHash string
	// PaymentSecret is the s field, empty when absent.
	PaymentSecret []byte
	// Description is the d field.
	Description string
	// DescriptionHash is the hex h field, empty when absent.
	DescriptionHash string
	// Expiry is the x field in seconds, DefaultExpiry when absent.
	Expiry int64
	// Payee is the hex compressed pubkey recovered from the signature,
	// or the n field when present.
	Payee string
}

// ExpiresAt is the absolute expiry time in unix seconds.
func (inv *Invoice) ExpiresAt() int64 { return inv.Timestamp + inv.Expiry }

// Decode parses and checks a bech32 payment request. The signature is
// verified by recovery: when an n field is present the recovered key must
// match it, otherwise the recovered key becomes the payee.
func Decode(pr string) (inv *Invoice, err error) {
	pr = strings.ToLower(strings.TrimSpace(pr))
	var hrp string
	var data []byte
	if hrp, data, err = bech32.DecodeNoLimit(pr); chk.D(err) {
		return nil, errorf.D("bolt11: %s", err.Error())
	}
	if !strings.HasPrefix(hrp, "ln") {
		return nil, errorf.D("bolt11: hrp %q does not start with ln", hrp)
	}
	// 7 groups of timestamp plus 104 of signature at minimum
	if len(data) < 7+104 {
		return nil, errorf.D("bolt11: data too short: %d groups", len(data))
	}
	inv = &Invoice{Expiry: DefaultExpiry}
	if inv.Currency, inv.MSats, err = parseHRPAmount(hrp[2:]); chk.D(err) {
		return nil, err
	}
	for _, g := range data[:7] {
		inv.Timestamp = inv.Timestamp<<5 | int64(g)
	}
	sigGroups := data[len(data)-104:]
	var payeeN []byte
	if payeeN, err = inv.parseTags(data[7 : len(data)-104]); chk.D(err) {
		return nil, err
	}
	if inv.PaymentHash == "" {
		return nil, errorf.D("bolt11: missing payment hash")
	}

	var sig []byte
	if sig, err = bech32.ConvertBits(sigGroups, 5, 8, false); chk.D(err) {
		return nil, err
	}
	var signed []byte
	if signed, err = bech32.ConvertBits(
		data[:len(data)-104], 5, 8, true,
	); chk.D(err) {
		return nil, err
	}
	h := sha256.Sum256(append([]byte(hrp), signed...))
	// btcec compact form puts the recovery header first
	compact := make([]byte, 65)
	compact[0] = sig[64] + 27 + 4
	copy(compact[1:], sig[:64])
	var pub *btcec.PublicKey
	if pub, _, err = ecdsa.RecoverCompact(compact, h[:]); chk.D(err) {
		return nil, errorf.D("bolt11: signature recovery: %s", err.Error())
	}
	recovered := hex.Enc(pub.SerializeCompressed())
	if payeeN != nil {
		if hex.Enc(payeeN) != recovered {
			return nil, errorf.D("bolt11: signature does not match payee")
		}
		inv.Payee = hex.Enc(payeeN)
	} else {
		inv.Payee = recovered
	}
	return
}

func (inv *Invoice) parseTags(fields []byte) (payeeN []byte, err error) {
	for len(fields) > 0 {
		if len(fields) < 3 {
			return nil, errorf.D("bolt11: truncated tagged field")
		}
		typ := fields[0]
		size := int(fields[1])<<5 | int(fields[2])
		fields = fields[3:]
		if len(fields) < size {
			return nil, errorf.D("bolt11: tagged field overruns data")
		}
		body := fields[:size]
		fields = fields[size:]
		switch typ {
		case tagPaymentHash:
			if size != 52 {
				continue
			}
			var b []byte
			if b, err = bech32.ConvertBits(body, 5, 8, false); chk.D(err) {
				return nil, err
			}
			inv.PaymentHash = hex.Enc(b)
		case tagDescription:
			var b []byte
			if b, err = bech32.ConvertBits(body, 5, 8, false); chk.D(err) {
				return nil, err
			}
			inv.Description = string(b)
		case tagDescriptionHash:
			if size != 52 {
				continue
			}
			var b []byte
			if b, err = bech32.ConvertBits(body, 5, 8, false); chk.D(err) {
				return nil, err
			}
			inv.DescriptionHash = hex.Enc(b)
		case tagExpiry:
			inv.Expiry = 0
			for _, g := range body {
				inv.Expiry = inv.Expiry<<5 | int64(g)
			}
		case tagPaymentSecret:
			if size != 52 {
				continue
			}
			if inv.PaymentSecret, err = bech32.ConvertBits(
				body, 5, 8, false,
			); chk.D(err) {
				return nil, err
			}
		case tagPayeePubkey:
			if size != 53 {
				continue
			}
			if payeeN, err = bech32.ConvertBits(body, 5, 8, false); chk.D(err) {
				return nil, err
			}
		default:
			// route hints, features, fallbacks and future fields are
			// irrelevant to accounting, skip them
		}
	}
	return
}

// parseHRPAmount splits the post-"ln" part of the hrp into currency and
// amount in msats. No amount part means a zero-amount invoice.
func parseHRPAmount(s string) (currency string, msats int64, err error) {
	i := 0
	for i < len(s) && (s[i] < '0' || s[i] > '9') {
		i++
	}
	currency = s[:i]
	if i == len(s) {
		return
	}
	amount := s[i:]
	mult := amount[len(amount)-1]
	digits := amount
	var scale int64
	switch mult {
	case 'm':
		digits, scale = amount[:len(amount)-1], msatPerBtc/1_000
	case 'u':
		digits, scale = amount[:len(amount)-1], msatPerBtc/1_000_000
	case 'n':
		digits, scale = amount[:len(amount)-1], msatPerBtc/1_000_000_000
	case 'p':
		digits, scale = amount[:len(amount)-1], 0
	default:
		scale = msatPerBtc
	}
	var n int64
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", 0, errorf.D("bolt11: bad amount %q", amount)
		}
		n = n*10 + int64(c-'0')
	}
	if n == 0 {
		return "", 0, errorf.D("bolt11: zero amount with multiplier")
	}
	if mult == 'p' {
		// pico-bitcoin is a tenth of an msat, the last digit must be 0
		if n%10 != 0 {
			return "", 0, errorf.D("bolt11: sub-msat precision in %q", amount)
		}
		msats = n / 10
		return
	}
	msats = n * scale
	return
}

package bolt11

import (
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/minio/sha256-simd"

	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/errorf"
)

// Template is the material for a freshly minted invoice.
type Template struct {
	// Currency is the hrp network prefix, "bc" by default.
	Currency string
	// MSats of 0 produces an amountless invoice.
	MSats int64
	// Timestamp in unix seconds.
	Timestamp int64
	// PaymentHash is the 32 byte sha256 of the preimage.
	PaymentHash []byte
	// Description is the d field. DescriptionHash, when 32 bytes, takes
	// the h field instead.
	Description     string
	DescriptionHash []byte
	// Expiry in seconds, DefaultExpiry when 0.
	Expiry int64
	// PaymentSecret is the 32 byte s field, minted randomly when nil by
	// callers that care.
	PaymentSecret []byte
}

// Encode mints a signed payment request from the template using the
// payee secret key.
func Encode(tpl *Template, sec *btcec.PrivateKey) (pr string, err error) {
	if len(tpl.PaymentHash) != 32 {
		return "", errorf.E("bolt11: payment hash must be 32 bytes, got %d",
			len(tpl.PaymentHash))
	}
	currency := tpl.Currency
	if currency == "" {
		currency = "bc"
	}
	var amount string
	if amount, err = hrpAmount(tpl.MSats); chk.E(err) {
		return
	}
	hrp := "ln" + currency + amount

	data := timestampGroups(tpl.Timestamp)
	if data, err = appendBytesTag(data, tagPaymentHash, tpl.PaymentHash); chk.E(err) {
		return
	}
	if len(tpl.DescriptionHash) == 32 {
		if data, err = appendBytesTag(
			data, tagDescriptionHash, tpl.DescriptionHash,
		); chk.E(err) {
			return
		}
	} else {
		if data, err = appendBytesTag(
			data, tagDescription, []byte(tpl.Description),
		); chk.E(err) {
			return
		}
	}
	if len(tpl.PaymentSecret) == 32 {
		if data, err = appendBytesTag(
			data, tagPaymentSecret, tpl.PaymentSecret,
		); chk.E(err) {
			return
		}
	}
	expiry := tpl.Expiry
	if expiry == 0 {
		expiry = DefaultExpiry
	}
	data = appendIntTag(data, tagExpiry, expiry)

	var signed []byte
	if signed, err = bech32.ConvertBits(data, 5, 8, true); chk.E(err) {
		return
	}
	h := sha256.Sum256(append([]byte(hrp), signed...))
	compact := ecdsa.SignCompact(sec, h[:], true)
	// wire order is R || S || recovery id
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0] - 27 - 4
	var sigGroups []byte
	if sigGroups, err = bech32.ConvertBits(sig, 8, 5, true); chk.E(err) {
		return
	}
	data = append(data, sigGroups...)
	if pr, err = bech32.Encode(hrp, data); chk.E(err) {
		return
	}
	return
}

// PreimageHash is the payment hash of a preimage, hex encoded.
func PreimageHash(preimage []byte) string {
	h := sha256.Sum256(preimage)
	return hex.Enc(h[:])
}

func timestampGroups(ts int64) (b []byte) {
	b = make([]byte, 7)
	for i := 6; i >= 0; i-- {
		b[i] = byte(ts & 31)
		ts >>= 5
	}
	return
}

func appendBytesTag(data []byte, typ byte, body []byte) ([]byte, error) {
	groups, err := bech32.ConvertBits(body, 8, 5, true)
	if chk.E(err) {
		return nil, err
	}
	data = append(data, typ, byte(len(groups)>>5), byte(len(groups)&31))
	return append(data, groups...), nil
}

func appendIntTag(data []byte, typ byte, v int64) []byte {
	var groups []byte
	for v > 0 {
		groups = append([]byte{byte(v & 31)}, groups...)
		v >>= 5
	}
	if groups == nil {
		groups = []byte{0}
	}
	data = append(data, typ, byte(len(groups)>>5), byte(len(groups)&31))
	return append(data, groups...)
}

// hrpAmount renders msats in the largest unit that keeps an integer
// amount, preferring shorter encodings.
func hrpAmount(msats int64) (s string, err error) {
	switch {
	case msats < 0:
		return "", errorf.E("bolt11: negative amount %d", msats)
	case msats == 0:
		return "", nil
	case msats%(msatPerBtc/1_000) == 0:
		return strconv.FormatInt(msats/(msatPerBtc/1_000), 10) + "m", nil
	case msats%(msatPerBtc/1_000_000) == 0:
		return strconv.FormatInt(msats/(msatPerBtc/1_000_000), 10) + "u", nil
	case msats%(msatPerBtc/1_000_000_000) == 0:
		return strconv.FormatInt(msats/(msatPerBtc/1_000_000_000), 10) + "n", nil
	default:
		return strconv.FormatInt(msats*10, 10) + "p", nil
	}
}

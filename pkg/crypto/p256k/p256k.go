// Package p256k implements the signer interface over the secp256k1 curve
// using the btcec library: BIP-340 schnorr signatures with x-only public
// keys, and ECDH returning the raw X coordinate of the shared point.
package p256k

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nwcp.dev/pkg/interfaces/signer"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/errorf"
)

// Signer is a secp256k1 key pair. The zero value is unusable until one of
// Generate, InitSec or InitPub has succeeded.
type Signer struct {
	sec *btcec.PrivateKey
	pub *btcec.PublicKey
	skb []byte
	pkb []byte
}

var _ signer.I = (*Signer)(nil)

// Generate creates a new random key pair.
func (s *Signer) Generate() (err error) {
	if s.sec, err = btcec.NewPrivateKey(); chk.E(err) {
		return
	}
	s.pub = s.sec.PubKey()
	s.skb = s.sec.Serialize()
	s.pkb = schnorr.SerializePubKey(s.pub)
	return
}

// InitSec initializes the signer from a 32 byte secret key.
func (s *Signer) InitSec(sec []byte) (err error) {
	if len(sec) != btcec.PrivKeyBytesLen {
		return errorf.E("invalid secret key length %d, require %d",
			len(sec), btcec.PrivKeyBytesLen)
	}
	s.sec, s.pub = btcec.PrivKeyFromBytes(sec)
	if s.sec.Key.IsZero() {
		s.sec, s.pub = nil, nil
		return errorf.E("invalid secret key, derives to zero")
	}
	s.skb = s.sec.Serialize()
	s.pkb = schnorr.SerializePubKey(s.pub)
	return
}

// InitPub initializes a verify-only signer from a 32 byte x-only pubkey.
func (s *Signer) InitPub(pub []byte) (err error) {
	if s.pub, err = schnorr.ParsePubKey(pub); chk.E(err) {
		return
	}
	s.pkb = schnorr.SerializePubKey(s.pub)
	return
}

// Sec returns the secret key bytes, nil for verify-only signers.
func (s *Signer) Sec() (sec []byte) { return s.skb }

// Pub returns the x-only public key bytes.
func (s *Signer) Pub() (pub []byte) { return s.pkb }

// Sign produces a BIP-340 schnorr signature over a 32 byte message hash.
func (s *Signer) Sign(msg []byte) (sig []byte, err error) {
	if s.sec == nil {
		err = errorf.E("signer has no secret key")
		return
	}
	var ss *schnorr.Signature
	if ss, err = schnorr.Sign(s.sec, msg); chk.E(err) {
		return
	}
	sig = ss.Serialize()
	return
}

// Verify checks a BIP-340 schnorr signature over a 32 byte message hash.
func (s *Signer) Verify(msg, sig []byte) (valid bool, err error) {
	if s.pub == nil {
		err = errorf.E("signer has no public key")
		return
	}
	var ss *schnorr.Signature
	if ss, err = schnorr.ParseSignature(sig); chk.D(err) {
		err = errorf.D("failed to parse signature:\n%d %s", len(sig), sig)
		return
	}
	valid = ss.Verify(msg, s.pub)
	return
}

// ECDH computes the shared secret with a counterparty x-only pubkey. The
// counterparty point is lifted with even Y parity and the result is the
// 32 byte X coordinate of the shared point, matching the kind-4 scheme.
func (s *Signer) ECDH(pub []byte) (secret []byte, err error) {
	if s.sec == nil {
		err = errorf.E("signer has no secret key")
		return
	}
	var pk *btcec.PublicKey
	if pk, err = schnorr.ParsePubKey(pub); chk.E(err) {
		return
	}
	secret = btcec.GenerateSharedSecret(s.sec, pk)
	return
}

// Zero wipes the secret key material.
func (s *Signer) Zero() {
	if s.sec != nil {
		s.sec.Zero()
	}
	for i := range s.skb {
		s.skb[i] = 0
	}
	s.sec = nil
	s.skb = nil
}

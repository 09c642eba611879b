// Package signer abstracts the key operations needed for nostr events:
// BIP-340 schnorr signatures over secp256k1 and the ECDH used by the
// kind-4 style encryption of wallet connect payloads.
package signer

// I is a signing/verification key pair. A signer initialized from only a
// public key can verify and derive nothing else.
type I interface {
	// Generate creates a fresh random key pair.
	Generate() (err error)
	// InitSec initializes from a 32 byte secret key.
	InitSec(sec []byte) (err error)
	// InitPub initializes verify-only from a 32 byte x-only public key.
	InitPub(pub []byte) (err error)
	// Sec returns the 32 byte secret key.
	Sec() (sec []byte)
	// Pub returns the 32 byte x-only public key.
	Pub() (pub []byte)
	// Sign produces a 64 byte schnorr signature over a 32 byte message
	// hash.
	Sign(msg []byte) (sig []byte, err error)
	// Verify checks a 64 byte schnorr signature over a 32 byte message
	// hash.
	Verify(msg, sig []byte) (valid bool, err error)
	// ECDH computes the 32 byte shared secret (the X coordinate of the
	// shared point) with a counterparty x-only public key.
	ECDH(pub []byte) (secret []byte, err error)
	// Zero wipes the secret key material.
	Zero()
}

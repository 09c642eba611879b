// Package encryption implements the AES-256-CBC payload encryption used
// by wallet connect requests and responses. The ciphertext wire form is
// "<base64(cipher)>?iv=<base64(iv)>" and the key is the ECDH shared
// secret between the two parties.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/minio/sha256-simd"

	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/errorf"
)

// IVSource produces a 16 byte initialization vector per message.
type IVSource func() (iv []byte, err error)

// RandomIV reads the IV from the operating system RNG. Failure to read
// it is fatal to the operation, never silently degraded.
func RandomIV() (iv []byte, err error) {
	iv = make([]byte, aes.BlockSize)
	if _, err = rand.Read(iv); chk.E(err) {
		return nil, err
	}
	return
}

// SeededIV derives IVs from a counter for reproducible test transcripts:
// iv = sha256(seed as 32 byte big-endian)[:16], incrementing seed per
// message. Never use outside tests.
func SeededIV(seed uint64) IVSource {
	n := seed
	return func() (iv []byte, err error) {
		var buf [32]byte
		v := n
		n++
		for i := 0; i < 8; i++ {
			buf[31-i] = byte(v)
			v >>= 8
		}
		h := sha256.Sum256(buf[:])
		return h[:aes.BlockSize], nil
	}
}

// Encrypt encrypts plaintext under the 32 byte shared secret with a
// fresh IV from src, PKCS-7 padding the input.
func Encrypt(secret []byte, plaintext string, src IVSource) (payload string, err error) {
	if len(secret) != 32 {
		return "", errorf.E("shared secret must be 32 bytes, got %d",
			len(secret))
	}
	var block cipher.Block
	if block, err = aes.NewCipher(secret); chk.E(err) {
		return
	}
	var iv []byte
	if iv, err = src(); chk.E(err) {
		return
	}
	if len(iv) != aes.BlockSize {
		return "", errorf.E("iv must be %d bytes, got %d",
			aes.BlockSize, len(iv))
	}
	padded := pad([]byte(plaintext))
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	payload = base64.StdEncoding.EncodeToString(ct) + "?iv=" +
		base64.StdEncoding.EncodeToString(iv)
	return
}

// Decrypt reverses Encrypt. Any malformation of the payload shape,
// base64, block alignment or padding is an error.
func Decrypt(secret []byte, payload string) (plaintext string, err error) {
	if len(secret) != 32 {
		return "", errorf.E("shared secret must be 32 bytes, got %d",
			len(secret))
	}
	ctB64, ivB64, found := strings.Cut(payload, "?iv=")
	if !found {
		return "", errorf.D("payload has no iv component")
	}
	var ct, iv []byte
	if ct, err = base64.StdEncoding.DecodeString(ctB64); chk.D(err) {
		return "", errorf.D("invalid ciphertext base64: %s", err.Error())
	}
	if iv, err = base64.StdEncoding.DecodeString(ivB64); chk.D(err) {
		return "", errorf.D("invalid iv base64: %s", err.Error())
	}
	if len(iv) != aes.BlockSize {
		return "", errorf.D("iv must be %d bytes, got %d",
			aes.BlockSize, len(iv))
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", errorf.D("ciphertext length %d not a block multiple",
			len(ct))
	}
	var block cipher.Block
	if block, err = aes.NewCipher(secret); chk.E(err) {
		return
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	if pt, err = unpad(pt); err != nil {
		return
	}
	plaintext = string(pt)
	return
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	padded := make([]byte, len(b)+n)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errorf.D("invalid padding byte %d", n)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errorf.D("inconsistent padding")
		}
	}
	return b[:len(b)-n], nil
}

package encryption

import (
	"strings"
	"testing"

	"nwcp.dev/pkg/crypto/p256k"
)

func sharedSecret(t *testing.T) []byte {
	t.Helper()
	a, b := &p256k.Signer{}, &p256k.Signer{}
	if err := a.Generate(); err != nil {
		t.Fatal(err)
	}
	if err := b.Generate(); err != nil {
		t.Fatal(err)
	}
	secret, err := a.ECDH(b.Pub())
	if err != nil {
		t.Fatal(err)
	}
	return secret
}

func TestRoundTrip(t *testing.T) {
	secret := sharedSecret(t)
	for _, pt := range []string{
		"",
		"x",
		`{"method":"get_balance","params":{}}`,
		strings.Repeat("0123456789abcdef", 16), // exact block multiple
	} {
		payload, err := Encrypt(secret, pt, RandomIV)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(payload, "?iv=") {
			t.Fatalf("payload missing iv separator: %s", payload)
		}
		back, err := Decrypt(secret, payload)
		if err != nil {
			t.Fatal(err)
		}
		if back != pt {
			t.Fatalf("round trip mismatch: %q != %q", back, pt)
		}
	}
}

func TestSeededIVIsDeterministic(t *testing.T) {
	secret := sharedSecret(t)
	p1, err := Encrypt(secret, "hello", SeededIV(7))
	if err != nil {
		t.Fatal(err)
	}
	p2, err := Encrypt(secret, "hello", SeededIV(7))
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatal("seeded IV should produce identical payloads")
	}
	p3, err := Encrypt(secret, "hello", SeededIV(8))
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p3 {
		t.Fatal("different seeds should produce different payloads")
	}
}

func TestSeededIVAdvances(t *testing.T) {
	secret := sharedSecret(t)
	src := SeededIV(1)
	p1, err := Encrypt(secret, "a", src)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := Encrypt(secret, "a", src)
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Fatal("successive messages must use distinct IVs")
	}
}

func TestRandomIVNotRepeated(t *testing.T) {
	secret := sharedSecret(t)
	p1, err := Encrypt(secret, "same plaintext", RandomIV)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := Encrypt(secret, "same plaintext", RandomIV)
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Fatal("random IV repeated")
	}
}

func TestDecryptRejectsMalformed(t *testing.T) {
	secret := sharedSecret(t)
	good, err := Encrypt(secret, "payload", RandomIV)
	if err != nil {
		t.Fatal(err)
	}
	ct, iv, _ := strings.Cut(good, "?iv=")
	for name, payload := range map[string]string{
		"no separator":  ct,
		"bad base64 ct": "!!!?iv=" + iv,
		"bad base64 iv": ct + "?iv=!!!",
		"short iv":      ct + "?iv=" + "AAAA",
		"empty ct":      "?iv=" + iv,
		"ragged ct":     "AAAA?iv=" + iv,
	} {
		if _, err = Decrypt(secret, payload); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	s1, s2 := sharedSecret(t), sharedSecret(t)
	payload, err := Encrypt(s1, `{"method":"get_info"}`, RandomIV)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := Decrypt(s2, payload)
	if err == nil && pt == `{"method":"get_info"}` {
		t.Fatal("wrong key decrypted to the original plaintext")
	}
}

func TestBadSecretLength(t *testing.T) {
	if _, err := Encrypt(make([]byte, 16), "x", RandomIV); err == nil {
		t.Fatal("expected error for short secret")
	}
	if _, err := Decrypt(make([]byte, 16), "x?iv=y"); err == nil {
		t.Fatal("expected error for short secret")
	}
}

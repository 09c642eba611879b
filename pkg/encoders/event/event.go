// Package event implements the nostr event: canonical serialization, id
// derivation, schnorr signing and verification, and wire JSON.
package event

import (
	"bytes"
	"strconv"

	"github.com/minio/sha256-simd"

	"nwcp.dev/pkg/encoders/timestamp"
	"nwcp.dev/pkg/interfaces/signer"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/errorf"
)

// Event kinds used by the wallet connect protocol.
const (
	KindWalletInfo     = 13194
	KindWalletRequest  = 23194
	KindWalletResponse = 23195
)

// E is a nostr event. Id, Pubkey and Sig are raw bytes, rendered as hex
// on the wire.
type E struct {
	Id        []byte
	Pubkey    []byte
	CreatedAt *timestamp.T
	Kind      int
	Tags      [][]string
	Content   string
	Sig       []byte
}

// Serialize renders the canonical form hashed to derive the event id:
//
//	[0,"<pubkey>",<created_at>,<kind>,<tags>,"<content>"]
//
// with no insignificant whitespace, the two-character escapes of RFC 8259
// for the characters that have them, \u00XX for remaining control
// characters, and all other characters passed through as UTF-8.
func (ev *E) Serialize() (b []byte) {
	b = make([]byte, 0, 256+len(ev.Content))
	b = append(b, `[0,"`...)
	b = hexAppend(b, ev.Pubkey)
	b = append(b, `",`...)
	b = strconv.AppendInt(b, ev.CreatedAt.I64(), 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(ev.Kind), 10)
	b = append(b, ',')
	b = appendTags(b, ev.Tags)
	b = append(b, ',')
	b = AppendQuoted(b, ev.Content)
	b = append(b, ']')
	return
}

// GetIDBytes computes the sha256 of the canonical serialization.
func (ev *E) GetIDBytes() []byte {
	h := sha256.Sum256(ev.Serialize())
	return h[:]
}

// Sign derives the pubkey, created_at (if unset), id and signature using
// the given signer.
func (ev *E) Sign(sign signer.I) (err error) {
	if ev.CreatedAt == nil {
		ev.CreatedAt = timestamp.Now()
	}
	ev.Pubkey = sign.Pub()
	ev.Id = ev.GetIDBytes()
	if ev.Sig, err = sign.Sign(ev.Id); chk.E(err) {
		return
	}
	return
}

// Verify recomputes the id from the canonical form and checks the schnorr
// signature against the event pubkey. Both must hold.
func (ev *E) Verify(sign signer.I) (valid bool, err error) {
	id := ev.GetIDBytes()
	if !bytes.Equal(id, ev.Id) {
		return false, nil
	}
	if err = sign.InitPub(ev.Pubkey); chk.D(err) {
		err = errorf.D("invalid pubkey in event: %s", err.Error())
		return
	}
	return sign.Verify(ev.Id, ev.Sig)
}

// TagValue returns the second element of the first tag whose first
// element equals name, and whether such a tag exists.
func (ev *E) TagValue(name string) (v string, ok bool) {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return
}

// TagValues returns the second elements of every tag named name.
func (ev *E) TagValues(name string) (vs []string) {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			vs = append(vs, tag[1])
		}
	}
	return
}

// Expiration returns the NIP-40 expiration timestamp, or 0 when the
// event has none or it cannot be parsed.
func (ev *E) Expiration() int64 {
	v, ok := ev.TagValue("expiration")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func appendTags(b []byte, tags [][]string) []byte {
	b = append(b, '[')
	for i, tag := range tags {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '[')
		for j, el := range tag {
			if j > 0 {
				b = append(b, ',')
			}
			b = AppendQuoted(b, el)
		}
		b = append(b, ']')
	}
	return append(b, ']')
}

const hexDigits = "0123456789abcdef"

func hexAppend(b, src []byte) []byte {
	for _, c := range src {
		b = append(b, hexDigits[c>>4], hexDigits[c&0xf])
	}
	return b
}

// AppendQuoted appends s as a JSON string. Unlike encoding/json it never
// escapes HTML characters or non-ASCII, and it uses the \b and \f
// shorthands, which the id derivation depends on.
func AppendQuoted(b []byte, s string) []byte {
	b = append(b, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			b = append(b, '\\', '"')
		case c == '\\':
			b = append(b, '\\', '\\')
		case c == '\b':
			b = append(b, '\\', 'b')
		case c == '\t':
			b = append(b, '\\', 't')
		case c == '\n':
			b = append(b, '\\', 'n')
		case c == '\f':
			b = append(b, '\\', 'f')
		case c == '\r':
			b = append(b, '\\', 'r')
		case c < 0x20:
			b = append(b, '\\', 'u', '0', '0',
				hexDigits[c>>4], hexDigits[c&0xf])
		default:
			b = append(b, c)
		}
	}
	return append(b, '"')
}

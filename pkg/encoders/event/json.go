package event

import (
	"encoding/json"

	"nwcp.dev/pkg/encoders/hex"
	"nwcp.dev/pkg/encoders/timestamp"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/errorf"
)

// J is the wire form of an event.
type J struct {
	Id        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// ToJ converts to the wire form.
func (ev *E) ToJ() *J {
	tags := ev.Tags
	if tags == nil {
		tags = [][]string{}
	}
	return &J{
		Id:        hex.Enc(ev.Id),
		Pubkey:    hex.Enc(ev.Pubkey),
		CreatedAt: ev.CreatedAt.I64(),
		Kind:      ev.Kind,
		Tags:      tags,
		Content:   ev.Content,
		Sig:       hex.Enc(ev.Sig),
	}
}

// MarshalJSON renders the event in its wire form.
func (ev *E) MarshalJSON() (b []byte, err error) {
	return json.Marshal(ev.ToJ())
}

// UnmarshalJSON parses the wire form, checking the lengths of the hex
// fields but not the signature.
func (ev *E) UnmarshalJSON(b []byte) (err error) {
	var j J
	if err = json.Unmarshal(b, &j); chk.D(err) {
		return
	}
	return ev.fromJ(&j)
}

func (ev *E) fromJ(j *J) (err error) {
	if ev.Id, err = hex.Dec(j.Id); chk.D(err) {
		return
	}
	if len(ev.Id) != 32 {
		return errorf.D("event id must be 32 bytes, got %d", len(ev.Id))
	}
	if ev.Pubkey, err = hex.Dec(j.Pubkey); chk.D(err) {
		return
	}
	if len(ev.Pubkey) != 32 {
		return errorf.D("event pubkey must be 32 bytes, got %d",
			len(ev.Pubkey))
	}
	if ev.Sig, err = hex.Dec(j.Sig); chk.D(err) {
		return
	}
	if len(ev.Sig) != 64 {
		return errorf.D("event sig must be 64 bytes, got %d", len(ev.Sig))
	}
	if j.CreatedAt < 0 {
		return errorf.D("event created_at is negative")
	}
	ev.CreatedAt = timestamp.FromUnix(j.CreatedAt)
	ev.Kind = j.Kind
	ev.Tags = j.Tags
	ev.Content = j.Content
	return
}

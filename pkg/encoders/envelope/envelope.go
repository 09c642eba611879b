// Package envelope parses and builds the JSON array frames of the relay
// wire protocol: EVENT, REQ, CLOSE, EOSE, CLOSED, NOTICE and OK.
package envelope

import (
	"encoding/json"

	"nwcp.dev/pkg/encoders/event"
	"nwcp.dev/pkg/encoders/filter"
	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/errorf"
)

// Frame labels.
const (
	LEvent  = "EVENT"
	LReq    = "REQ"
	LClose  = "CLOSE"
	LEose   = "EOSE"
	LClosed = "CLOSED"
	LNotice = "NOTICE"
	LOk     = "OK"
)

// T is a decoded relay frame. Only the fields for its Label are set.
type T struct {
	Label  string
	SubID  string
	Event  *event.E
	OkID   string
	Ok     bool
	Reason string
}

// Parse decodes one relay frame. Unknown labels return an error so the
// caller can ignore them.
func Parse(b []byte) (env *T, err error) {
	var arr []json.RawMessage
	if err = json.Unmarshal(b, &arr); chk.D(err) {
		return
	}
	if len(arr) < 1 {
		err = errorf.D("empty envelope")
		return
	}
	var label string
	if err = json.Unmarshal(arr[0], &label); chk.D(err) {
		return
	}
	env = &T{Label: label}
	switch label {
	case LEvent:
		// relay to client: ["EVENT", subid, event]
		if len(arr) < 3 {
			return nil, errorf.D("EVENT envelope with %d elements", len(arr))
		}
		if err = json.Unmarshal(arr[1], &env.SubID); chk.D(err) {
			return nil, err
		}
		env.Event = &event.E{}
		if err = json.Unmarshal(arr[2], env.Event); chk.D(err) {
			return nil, err
		}
	case LEose:
		if len(arr) < 2 {
			return nil, errorf.D("EOSE envelope with %d elements", len(arr))
		}
		if err = json.Unmarshal(arr[1], &env.SubID); chk.D(err) {
			return nil, err
		}
	case LClosed:
		if len(arr) < 2 {
			return nil, errorf.D("CLOSED envelope with %d elements", len(arr))
		}
		if err = json.Unmarshal(arr[1], &env.SubID); chk.D(err) {
			return nil, err
		}
		if len(arr) > 2 {
			if err = json.Unmarshal(arr[2], &env.Reason); chk.D(err) {
				return nil, err
			}
		}
	case LNotice:
		if len(arr) > 1 {
			if err = json.Unmarshal(arr[1], &env.Reason); chk.D(err) {
				return nil, err
			}
		}
	case LOk:
		// ["OK", event_id, accepted, reason]
		if len(arr) < 3 {
			return nil, errorf.D("OK envelope with %d elements", len(arr))
		}
		if err = json.Unmarshal(arr[1], &env.OkID); chk.D(err) {
			return nil, err
		}
		if err = json.Unmarshal(arr[2], &env.Ok); chk.D(err) {
			return nil, err
		}
		if len(arr) > 3 {
			if err = json.Unmarshal(arr[3], &env.Reason); chk.D(err) {
				return nil, err
			}
		}
	default:
		return nil, errorf.D("unhandled envelope label %s", label)
	}
	return
}

// Event builds a client to relay ["EVENT", event] frame.
func Event(ev *event.E) (b []byte, err error) {
	return marshalFrame(LEvent, ev)
}

// Req builds a ["REQ", subid, filter...] frame.
func Req(subID string, filters ...*filter.F) (b []byte, err error) {
	parts := make([]any, 0, len(filters)+1)
	parts = append(parts, subID)
	for _, f := range filters {
		parts = append(parts, f)
	}
	return marshalFrame(LReq, parts...)
}

// Close builds a ["CLOSE", subid] frame.
func Close(subID string) (b []byte, err error) {
	return marshalFrame(LClose, subID)
}

func marshalFrame(label string, parts ...any) (b []byte, err error) {
	arr := make([]any, 0, len(parts)+1)
	arr = append(arr, label)
	arr = append(arr, parts...)
	if b, err = json.Marshal(arr); chk.E(err) {
		return
	}
	return
}

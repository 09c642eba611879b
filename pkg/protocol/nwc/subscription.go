package nwc

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"nwcp.dev/pkg/encoders/event"
	"nwcp.dev/pkg/encoders/hex"
)

// MainSubscription tracks one (re)subscription generation: the two sub
// ids, their EOSE flags, the buffered requests awaiting replay, and the
// set of request ids already answered. The relay reader goroutine owns
// the buffer and the EOSE flags; the responded set is also touched by
// dispatch goroutines, so it is a concurrent map.
type MainSubscription struct {
	RequestsSubID  string
	ResponsesSubID string

	requestsEose  bool
	responsesEose bool

	order     []string
	events    map[string]*event.E
	arrived   map[string]time.Time
	responded *xsync.MapOf[string, struct{}]
}

// NewMainSubscription creates the state for a fresh pair of subs.
func NewMainSubscription(requestsSubID, responsesSubID string) *MainSubscription {
	return &MainSubscription{
		RequestsSubID:  requestsSubID,
		ResponsesSubID: responsesSubID,
		events:         make(map[string]*event.E),
		arrived:        make(map[string]time.Time),
		responded:      xsync.NewMapOf[string, struct{}](),
	}
}

// AddRequest buffers a request event, keeping arrival order. Duplicate
// ids are ignored.
func (s *MainSubscription) AddRequest(ev *event.E) {
	id := hex.Enc(ev.Id)
	if _, have := s.events[id]; have {
		return
	}
	s.events[id] = ev
	s.arrived[id] = time.Now()
	s.order = append(s.order, id)
}

// RegisterResponse marks a request id as answered. Called both for
// replayed response events and just before sending a fresh response.
func (s *MainSubscription) RegisterResponse(requestID string) {
	s.responded.Store(requestID, struct{}{})
}

// Responded reports whether a request id is known answered.
func (s *MainSubscription) Responded(requestID string) bool {
	_, ok := s.responded.Load(requestID)
	return ok
}

// MarkEose sets the EOSE flag belonging to subID and reports whether it
// matched either sub.
func (s *MainSubscription) MarkEose(subID string) bool {
	switch subID {
	case s.RequestsSubID:
		s.requestsEose = true
	case s.ResponsesSubID:
		s.responsesEose = true
	default:
		return false
	}
	return true
}

// Live reports whether both backfills have completed, i.e. whether fresh
// requests should dispatch immediately.
func (s *MainSubscription) Live() bool {
	return s.requestsEose && s.responsesEose
}

// Owns reports whether subID belongs to this subscription generation.
func (s *MainSubscription) Owns(subID string) bool {
	return subID == s.RequestsSubID || subID == s.ResponsesSubID
}

// StaleRequests drains the buffered requests that have no known
// response, in arrival order.
func (s *MainSubscription) StaleRequests() (evs []*event.E) {
	for _, id := range s.order {
		ev, ok := s.events[id]
		if !ok {
			continue
		}
		if !s.Responded(id) {
			evs = append(evs, ev)
		}
		delete(s.events, id)
		delete(s.arrived, id)
	}
	s.order = s.order[:0]
	return
}

// GC drops answered buffer entries older than maxAge. The responded set
// is retained: it is what prevents redispatch.
func (s *MainSubscription) GC(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	kept := s.order[:0]
	for _, id := range s.order {
		if t, ok := s.arrived[id]; ok && t.Before(cutoff) {
			delete(s.events, id)
			delete(s.arrived, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

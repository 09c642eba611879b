// Package filter is the subscription filter of a REQ frame, limited to
// the fields the wallet service actually queries with.
package filter

// F is a subscription filter. Zero-valued fields are omitted on the wire.
type F struct {
	Ids     []string `json:"ids,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	PTags   []string `json:"#p,omitempty"`
	ETags   []string `json:"#e,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Until   int64    `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Matches reports whether an event with the given attributes satisfies
// the filter. Used by the in-process test relay.
func (f *F) Matches(kind int, author string, created int64, ptags []string) bool {
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, kind) {
		return false
	}
	if len(f.Authors) > 0 && !containsStr(f.Authors, author) {
		return false
	}
	if f.Since > 0 && created < f.Since {
		return false
	}
	if f.Until > 0 && created > f.Until {
		return false
	}
	if len(f.PTags) > 0 {
		found := false
		for _, p := range ptags {
			if containsStr(f.PTags, p) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsStr(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

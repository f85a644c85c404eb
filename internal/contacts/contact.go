// Package contacts reconciles the provider's caller list with the persisted
// contact roster.
package contacts

import (
	"sort"
	"time"

	"call_dashboard/internal/calls"
)

// Storage keys. The roster is one JSON array written as a unit.
const (
	RosterKey   = "contacts:database"
	LastSyncKey = "contacts:last_sync"
)

// Contact is a roster entry. Its call window and count are frozen at the
// sync that added it.
type Contact struct {
	Phone      string    `json:"phone"`
	FirstCall  time.Time `json:"firstCall"`
	LastCall   time.Time `json:"lastCall"`
	TotalCalls int       `json:"totalCalls"`
	DateAdded  time.Time `json:"dateAdded"`
}

// Candidate is a caller seen in the current provider listing.
type Candidate struct {
	Phone      string    `json:"phone"`
	FirstCall  time.Time `json:"firstCall"`
	LastCall   time.Time `json:"lastCall"`
	TotalCalls int       `json:"totalCalls"`
}

// Collect folds records into one candidate per non-excluded origin, with the
// min/max creation time and call count from this listing only. Records
// without a timestamp carry no usable call window and are ignored.
// The result is sorted by phone.
func Collect(records []calls.Record, ex *Exclusions) []Candidate {
	byPhone := make(map[string]*Candidate)
	for _, rec := range records {
		phone := rec.Origin()
		if ex.Excluded(phone) || !rec.HasTimestamp() {
			continue
		}
		at := rec.CreatedAt.UTC()
		c, ok := byPhone[phone]
		if !ok {
			byPhone[phone] = &Candidate{Phone: phone, FirstCall: at, LastCall: at, TotalCalls: 1}
			continue
		}
		c.TotalCalls++
		if at.Before(c.FirstCall) {
			c.FirstCall = at
		}
		if at.After(c.LastCall) {
			c.LastCall = at
		}
	}
	out := make([]Candidate, 0, len(byPhone))
	for _, c := range byPhone {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phone < out[j].Phone })
	return out
}

// NewCandidates keeps the candidates whose phone is not yet in the roster.
func NewCandidates(candidates []Candidate, roster []Contact) []Candidate {
	known := make(map[string]struct{}, len(roster))
	for _, c := range roster {
		known[c.Phone] = struct{}{}
	}
	out := make([]Candidate, 0)
	for _, c := range candidates {
		if _, ok := known[c.Phone]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// SortByRecency orders a roster copy by last call, newest first.
func SortByRecency(roster []Contact) []Contact {
	out := make([]Contact, len(roster))
	copy(out, roster)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastCall.Equal(out[j].LastCall) {
			return out[i].LastCall.After(out[j].LastCall)
		}
		return out[i].Phone < out[j].Phone
	})
	return out
}

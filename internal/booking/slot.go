// Package booking holds the slot model and the selection state machine that
// drives a single booking view from date choice through checkout.
package booking

import (
	"sort"
	"time"
)

const (
	// DateLayout is the calendar-day format used for TimeSlot.Date.
	DateLayout = "2006-01-02"
	// ClockLayout is the local wall-clock format used for start and end times.
	ClockLayout = "15:04"
)

// TimeSlot is one bookable window offered by a provider. Date, StartTime and
// EndTime are local display values; SourceStart and SourceEnd are the backend's
// original timestamps, kept verbatim for the charge request.
type TimeSlot struct {
	ID            string `json:"id"`
	Date          string `json:"date"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	ProviderID    string `json:"providerId"`
	ProviderEmail string `json:"providerEmail,omitempty"`
	Service       string `json:"service"`
	SourceStart   string `json:"sourceStart"`
	SourceEnd     string `json:"sourceEnd"`
}

// Collection is an immutable, ordered set of slots from a single fetch.
// The zero value is an empty collection.
type Collection struct {
	slots []TimeSlot
	byID  map[string]int
}

// NewCollection copies slots into a collection ordered by date, start time and
// id. Later duplicates of an id are dropped.
func NewCollection(slots []TimeSlot) Collection {
	ordered := make([]TimeSlot, 0, len(slots))
	seen := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		ordered = append(ordered, s)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})

	byID := make(map[string]int, len(ordered))
	for i, s := range ordered {
		byID[s.ID] = i
	}
	return Collection{slots: ordered, byID: byID}
}

// Len returns the number of slots.
func (c Collection) Len() int { return len(c.slots) }

// All returns a copy of every slot in order.
func (c Collection) All() []TimeSlot {
	out := make([]TimeSlot, len(c.slots))
	copy(out, c.slots)
	return out
}

// Lookup finds a slot by id.
func (c Collection) Lookup(id string) (TimeSlot, bool) {
	i, ok := c.byID[id]
	if !ok {
		return TimeSlot{}, false
	}
	return c.slots[i], true
}

// Contains reports whether s, field for field, is part of the collection.
// A slot carried over from an older fetch with the same id but different
// times is not a member.
func (c Collection) Contains(s TimeSlot) bool {
	got, ok := c.Lookup(s.ID)
	return ok && got == s
}

// SlotsOn returns the slots whose Date equals date, ordered by start time.
// It never returns nil.
func (c Collection) SlotsOn(date string) []TimeSlot {
	out := []TimeSlot{}
	for _, s := range c.slots {
		if s.Date == date {
			out = append(out, s)
		}
	}
	return out
}

// Dates lists the distinct days that have at least one slot, ascending.
func (c Collection) Dates() []string {
	out := []string{}
	for _, s := range c.slots {
		if n := len(out); n == 0 || out[n-1] != s.Date {
			out = append(out, s.Date)
		}
	}
	return out
}

// Today formats the current calendar day in loc.
func Today(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Format(DateLayout)
}

package availability

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/urban-assist/internal/booking"
	"github.com/wolfman30/urban-assist/internal/marketplace"
)

// ErrInvalidWindow marks a backend record that cannot become a TimeSlot.
var ErrInvalidWindow = errors.New("availability: invalid window")

// Zone-less timestamps are read as wall time in the display zone.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// parseTimestamp reads an ISO-8601 instant. Timestamps without an offset are
// interpreted in loc.
func parseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrInvalidWindow, value)
}

// NormalizeRecord converts one backend record into a TimeSlot in loc.
// SourceStart and SourceEnd carry the backend strings untouched. service is
// used when the record does not name its own.
func NormalizeRecord(rec marketplace.AvailabilityRecord, providerID, service string, loc *time.Location) (booking.TimeSlot, error) {
	if loc == nil {
		loc = time.Local
	}
	id := strings.TrimSpace(string(rec.ID))
	if id == "" {
		return booking.TimeSlot{}, fmt.Errorf("%w: missing id", ErrInvalidWindow)
	}
	start, err := parseTimestamp(rec.StartTime, loc)
	if err != nil {
		return booking.TimeSlot{}, err
	}
	end, err := parseTimestamp(rec.EndTime, loc)
	if err != nil {
		return booking.TimeSlot{}, err
	}
	if !end.After(start) {
		return booking.TimeSlot{}, fmt.Errorf("%w: slot %s ends before it starts", ErrInvalidWindow, id)
	}

	localStart, localEnd := start.In(loc), end.In(loc)
	date := localStart.Format(booking.DateLayout)
	if localEnd.Format(booking.DateLayout) != date {
		return booking.TimeSlot{}, fmt.Errorf("%w: slot %s crosses midnight", ErrInvalidWindow, id)
	}
	startClock := localStart.Format(booking.ClockLayout)
	endClock := localEnd.Format(booking.ClockLayout)
	if startClock >= endClock {
		return booking.TimeSlot{}, fmt.Errorf("%w: slot %s is shorter than a minute", ErrInvalidWindow, id)
	}

	return booking.TimeSlot{
		ID:            id,
		Date:          date,
		StartTime:     startClock,
		EndTime:       endClock,
		ProviderID:    providerID,
		ProviderEmail: rec.ProviderEmail,
		Service:       firstNonEmpty(rec.Service, service),
		SourceStart:   rec.StartTime,
		SourceEnd:     rec.EndTime,
	}, nil
}

// Normalize converts a fetch into a collection and reports how many records
// were dropped, including repeated ids.
func Normalize(records []marketplace.AvailabilityRecord, providerID, service string, loc *time.Location) (booking.Collection, int) {
	slots := make([]booking.TimeSlot, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	skipped := 0
	for _, rec := range records {
		slot, err := NormalizeRecord(rec, providerID, service, loc)
		if err != nil {
			skipped++
			continue
		}
		if _, dup := seen[slot.ID]; dup {
			skipped++
			continue
		}
		seen[slot.ID] = struct{}{}
		slots = append(slots, slot)
	}
	return booking.NewCollection(slots), skipped
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

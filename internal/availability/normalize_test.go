package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/urban-assist/internal/booking"
	"github.com/wolfman30/urban-assist/internal/marketplace"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("tzdata unavailable for %s: %v", name, err)
	}
	return loc
}

func TestNormalizeRecordConvertsToLocal(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	rec := marketplace.AvailabilityRecord{
		ID:            "a1",
		StartTime:     "2024-06-10T13:00:00Z",
		EndTime:       "2024-06-10T14:00:00Z",
		ProviderEmail: "pro@example.com",
		Service:       "plumbing",
	}

	slot, err := NormalizeRecord(rec, "p-1", "ignored", ny)
	require.NoError(t, err)
	assert.Equal(t, booking.TimeSlot{
		ID: "a1", Date: "2024-06-10", StartTime: "09:00", EndTime: "10:00",
		ProviderID: "p-1", ProviderEmail: "pro@example.com", Service: "plumbing",
		SourceStart: "2024-06-10T13:00:00Z", SourceEnd: "2024-06-10T14:00:00Z",
	}, slot)
}

func TestNormalizeRecordKeepsSourceVerbatim(t *testing.T) {
	rec := marketplace.AvailabilityRecord{
		ID:        "x",
		StartTime: "2024-06-10T13:00:00.000+00:00",
		EndTime:   "2024-06-10T13:30:00.000+00:00",
	}
	slot, err := NormalizeRecord(rec, "p-1", "cleaning", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-10T13:00:00.000+00:00", slot.SourceStart)
	assert.Equal(t, "13:30", slot.EndTime)
	assert.Equal(t, "cleaning", slot.Service)
}

func TestNormalizeRecordZonelessUsesDisplayZone(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	slot, err := NormalizeRecord(marketplace.AvailabilityRecord{
		ID: "z", StartTime: "2024-06-10T09:00:00", EndTime: "2024-06-10T10:15:00",
	}, "p-1", "s", ny)
	require.NoError(t, err)
	assert.Equal(t, "09:00", slot.StartTime)
	assert.Equal(t, "10:15", slot.EndTime)
}

func TestNormalizeRecordRejectsBadWindows(t *testing.T) {
	tests := []struct {
		name string
		rec  marketplace.AvailabilityRecord
	}{
		{"missing id", marketplace.AvailabilityRecord{StartTime: "2024-06-10T13:00:00Z", EndTime: "2024-06-10T14:00:00Z"}},
		{"garbage start", marketplace.AvailabilityRecord{ID: "1", StartTime: "tomorrow", EndTime: "2024-06-10T14:00:00Z"}},
		{"end before start", marketplace.AvailabilityRecord{ID: "1", StartTime: "2024-06-10T14:00:00Z", EndTime: "2024-06-10T13:00:00Z"}},
		{"zero length", marketplace.AvailabilityRecord{ID: "1", StartTime: "2024-06-10T14:00:00Z", EndTime: "2024-06-10T14:00:00Z"}},
		{"crosses midnight", marketplace.AvailabilityRecord{ID: "1", StartTime: "2024-06-10T23:00:00Z", EndTime: "2024-06-11T00:30:00Z"}},
		{"sub-minute", marketplace.AvailabilityRecord{ID: "1", StartTime: "2024-06-10T14:00:00Z", EndTime: "2024-06-10T14:00:30Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeRecord(tt.rec, "p-1", "s", time.UTC)
			assert.True(t, errors.Is(err, ErrInvalidWindow), "got %v", err)
		})
	}
}

func TestNormalizeCountsSkipped(t *testing.T) {
	records := []marketplace.AvailabilityRecord{
		{ID: "b", StartTime: "2024-06-11T09:00:00Z", EndTime: "2024-06-11T10:00:00Z"},
		{ID: "a", StartTime: "2024-06-10T09:00:00Z", EndTime: "2024-06-10T10:00:00Z"},
		{ID: "a", StartTime: "2024-06-10T11:00:00Z", EndTime: "2024-06-10T12:00:00Z"},
		{ID: "bad", StartTime: "nope", EndTime: "2024-06-10T12:00:00Z"},
	}
	slots, skipped := Normalize(records, "p-1", "s", time.UTC)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, 2, slots.Len())
	assert.Equal(t, []string{"2024-06-10", "2024-06-11"}, slots.Dates())
	got, ok := slots.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "09:00", got.StartTime)
}

func TestNormalizeEmpty(t *testing.T) {
	slots, skipped := Normalize(nil, "p-1", "s", time.UTC)
	assert.Equal(t, 0, slots.Len())
	assert.Equal(t, 0, skipped)
}

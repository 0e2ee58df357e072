package session

import (
	"strings"
	"time"

	"github.com/wolfman30/urban-assist/internal/booking"
)

// View is what a presentation layer renders for one session.
type View struct {
	ID              string                   `json:"id"`
	ProviderID      string                   `json:"providerId"`
	Service         string                   `json:"service"`
	Phase           string                   `json:"phase"`
	SelectedDate    string                   `json:"selectedDate,omitempty"`
	SelectedSlot    *booking.TimeSlot        `json:"selectedSlot,omitempty"`
	SlotsForDate    []booking.TimeSlot       `json:"slotsForDate"`
	CalendarDates   []string                 `json:"calendarDates"`
	TotalSlots      int                      `json:"totalSlots"`
	SkippedSlots    int                      `json:"skippedSlots"`
	Loading         bool                     `json:"loading"`
	LoadError       string                   `json:"loadError,omitempty"`
	CanConfirm      bool                     `json:"canConfirm"`
	Pending         *booking.CheckoutRequest `json:"pending,omitempty"`
	PaymentInFlight bool                     `json:"paymentInFlight"`
	PaymentError    string                   `json:"paymentError,omitempty"`
	Booking         *BookingView             `json:"booking,omitempty"`
	Version         int64                    `json:"version"`
	UpdatedAt       time.Time                `json:"updatedAt"`
}

// BookingView is the confirmation screen: the paid slot with its times
// rendered from the original timestamps in the display zone.
type BookingView struct {
	booking.Confirmation
	LocalDate  string `json:"localDate"`
	LocalStart string `json:"localStart"`
	LocalEnd   string `json:"localEnd"`
}

func buildView(s *Snapshot, loc *time.Location, now time.Time) *View {
	slots := s.Collection()
	state := s.State.Clone()

	v := &View{
		ID:              s.ID,
		ProviderID:      s.ProviderID,
		Service:         s.Service,
		Phase:           state.Phase.String(),
		SelectedDate:    state.SelectedDate,
		SelectedSlot:    state.SelectedSlot,
		SlotsForDate:    []booking.TimeSlot{},
		CalendarDates:   slots.Dates(),
		TotalSlots:      slots.Len(),
		SkippedSlots:    s.Skipped,
		Loading:         s.Loading,
		LoadError:       s.LoadError,
		CanConfirm:      state.CanConfirm(),
		Pending:         state.Pending,
		PaymentInFlight: s.PaymentInFlight(now),
		PaymentError:    state.PaymentError,
		Version:         s.Version,
		UpdatedAt:       s.UpdatedAt,
	}
	if state.SelectedDate != "" {
		v.SlotsForDate = slots.SlotsOn(state.SelectedDate)
	}
	if state.Booking != nil {
		v.Booking = bookingView(*state.Booking, loc)
	}
	return v
}

func bookingView(c booking.Confirmation, loc *time.Location) *BookingView {
	bv := &BookingView{
		Confirmation: c,
		LocalDate:    c.Slot.Date,
		LocalStart:   c.Slot.StartTime,
		LocalEnd:     c.Slot.EndTime,
	}
	start, errStart := time.Parse(time.RFC3339Nano, strings.TrimSpace(c.Slot.SourceStart))
	end, errEnd := time.Parse(time.RFC3339Nano, strings.TrimSpace(c.Slot.SourceEnd))
	if errStart == nil && errEnd == nil {
		bv.LocalDate = start.In(loc).Format(booking.DateLayout)
		bv.LocalStart = start.In(loc).Format(booking.ClockLayout)
		bv.LocalEnd = end.In(loc).Format(booking.ClockLayout)
	}
	return bv
}

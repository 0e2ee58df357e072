package booking

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidSlot is returned when a slot is not selectable for the current date and fetch.
	ErrInvalidSlot = errors.New("booking: invalid slot")
	// ErrNoSlotChosen is returned when confirming without a selected slot.
	ErrNoSlotChosen = errors.New("booking: no slot chosen")
	// ErrInvalidDate is returned when a date is not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("booking: invalid date")
)

// Phase is the stage of a selection.
type Phase int

const (
	PhaseNoDateSelected Phase = iota
	PhaseDateSelected
	PhaseSlotSelected
	PhaseConfirmed
	PhaseBooked
)

var phaseNames = map[Phase]string{
	PhaseNoDateSelected: "no_date_selected",
	PhaseDateSelected:   "date_selected",
	PhaseSlotSelected:   "slot_selected",
	PhaseConfirmed:      "confirmed",
	PhaseBooked:         "booked",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText encodes the phase by name so persisted snapshots stay readable.
func (p Phase) MarshalText() ([]byte, error) {
	if _, ok := phaseNames[p]; !ok {
		return nil, fmt.Errorf("booking: unknown phase %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("booking: unknown phase %q", string(text))
}

// CheckoutRequest is the frozen hand-off produced by a successful confirm.
type CheckoutRequest struct {
	ID         string    `json:"id"`
	Slot       TimeSlot  `json:"slot"`
	ProviderID string    `json:"providerId"`
	Service    string    `json:"service"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Confirmation records a paid booking.
type Confirmation struct {
	RequestID   string    `json:"requestId"`
	BookingID   string    `json:"bookingId,omitempty"`
	Message     string    `json:"message,omitempty"`
	Slot        TimeSlot  `json:"slot"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// State is an immutable selection snapshot. Reduce never mutates the values
// behind its pointers; it allocates new ones.
type State struct {
	Phase        Phase            `json:"phase"`
	SelectedDate string           `json:"selectedDate,omitempty"`
	SelectedSlot *TimeSlot        `json:"selectedSlot,omitempty"`
	Pending      *CheckoutRequest `json:"pending,omitempty"`
	PaymentError string           `json:"paymentError,omitempty"`
	Booking      *Confirmation    `json:"booking,omitempty"`
}

// NewState opens a selection on the given day, or with no day when date is empty.
func NewState(date string) State {
	if date == "" {
		return State{Phase: PhaseNoDateSelected}
	}
	return State{Phase: PhaseDateSelected, SelectedDate: date}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	if s.SelectedSlot != nil {
		slot := *s.SelectedSlot
		out.SelectedSlot = &slot
	}
	if s.Pending != nil {
		pending := *s.Pending
		out.Pending = &pending
	}
	if s.Booking != nil {
		booking := *s.Booking
		out.Booking = &booking
	}
	return out
}

// CanConfirm reports whether Confirm would succeed.
func (s State) CanConfirm() bool {
	return s.Phase == PhaseSlotSelected && s.SelectedSlot != nil
}

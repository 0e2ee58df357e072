package booking

import (
	"fmt"
	"time"
)

// Reduce applies ev to s given the current slot collection and returns the
// next state. On error the returned state equals s. Payment outcomes that do
// not match the pending request are ignored and return s unchanged.
func Reduce(s State, slots Collection, ev Event) (State, error) {
	switch e := ev.(type) {
	case SelectDate:
		if _, err := time.Parse(DateLayout, e.Date); err != nil {
			return s, fmt.Errorf("%w: %q", ErrInvalidDate, e.Date)
		}
		return State{Phase: PhaseDateSelected, SelectedDate: e.Date}, nil

	case SelectSlot:
		if s.Phase != PhaseDateSelected && s.Phase != PhaseSlotSelected {
			return s, ErrInvalidSlot
		}
		if e.Slot.Date != s.SelectedDate || !slots.Contains(e.Slot) {
			return s, ErrInvalidSlot
		}
		slot := e.Slot
		return State{Phase: PhaseSlotSelected, SelectedDate: s.SelectedDate, SelectedSlot: &slot}, nil

	case Confirm:
		if !s.CanConfirm() {
			return s, ErrNoSlotChosen
		}
		if s.SelectedSlot.Date != s.SelectedDate || !slots.Contains(*s.SelectedSlot) {
			return s, ErrInvalidSlot
		}
		slot := *s.SelectedSlot
		req := &CheckoutRequest{
			ID:         e.RequestID,
			Slot:       slot,
			ProviderID: slot.ProviderID,
			Service:    slot.Service,
			CreatedAt:  e.At,
		}
		return State{Phase: PhaseConfirmed, SelectedDate: s.SelectedDate, SelectedSlot: &slot, Pending: req}, nil

	case Reset:
		return State{Phase: PhaseNoDateSelected}, nil

	case Refreshed:
		if s.SelectedDate == "" {
			return State{Phase: PhaseNoDateSelected}, nil
		}
		return State{Phase: PhaseDateSelected, SelectedDate: s.SelectedDate}, nil

	case PaymentFailed:
		if !s.awaiting(e.RequestID) {
			return s, nil
		}
		slot := s.Pending.Slot
		return State{
			Phase:        PhaseSlotSelected,
			SelectedDate: s.SelectedDate,
			SelectedSlot: &slot,
			PaymentError: e.Reason,
		}, nil

	case PaymentSucceeded:
		if !s.awaiting(e.RequestID) {
			return s, nil
		}
		slot := s.Pending.Slot
		return State{
			Phase:        PhaseBooked,
			SelectedDate: s.SelectedDate,
			SelectedSlot: &slot,
			Booking: &Confirmation{
				RequestID:   e.RequestID,
				BookingID:   e.BookingID,
				Message:     e.Message,
				Slot:        slot,
				ConfirmedAt: e.At,
			},
		}, nil
	}
	return s, fmt.Errorf("booking: unsupported event %T", ev)
}

func (s State) awaiting(requestID string) bool {
	return s.Phase == PhaseConfirmed && s.Pending != nil && requestID != "" && s.Pending.ID == requestID
}

package booking

import (
	"time"

	"github.com/google/uuid"
)

// Machine drives one selection against one slot collection. It is not safe
// for concurrent use; callers serialize access.
type Machine struct {
	state State
	slots Collection
	now   func() time.Time
	newID func() string
}

// NewMachine resumes a selection from state over slots.
func NewMachine(state State, slots Collection) *Machine {
	return &Machine{
		state: state.Clone(),
		slots: slots,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// WithClock overrides the time source used for confirmations.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	if now != nil {
		m.now = now
	}
	return m
}

// WithIDGenerator overrides how checkout request ids are minted.
func (m *Machine) WithIDGenerator(newID func() string) *Machine {
	if newID != nil {
		m.newID = newID
	}
	return m
}

// State returns a copy of the current selection.
func (m *Machine) State() State { return m.state.Clone() }

// Slots returns the collection the machine validates against.
func (m *Machine) Slots() Collection { return m.slots }

// Apply runs ev through the reducer and keeps the result.
func (m *Machine) Apply(ev Event) error {
	next, err := Reduce(m.state, m.slots, ev)
	if err != nil {
		return err
	}
	m.state = next
	return nil
}

// SelectDate moves to the given day and clears any slot.
func (m *Machine) SelectDate(date string) error {
	return m.Apply(SelectDate{Date: date})
}

// SelectSlot selects s if it belongs to the selected day and current fetch.
func (m *Machine) SelectSlot(s TimeSlot) error {
	return m.Apply(SelectSlot{Slot: s})
}

// SelectSlotByID looks the slot up in the current collection first.
func (m *Machine) SelectSlotByID(id string) error {
	slot, ok := m.slots.Lookup(id)
	if !ok {
		return ErrInvalidSlot
	}
	return m.SelectSlot(slot)
}

// Confirm freezes the selected slot into a new CheckoutRequest.
func (m *Machine) Confirm() (CheckoutRequest, error) {
	if err := m.Apply(Confirm{RequestID: m.newID(), At: m.now().UTC()}); err != nil {
		return CheckoutRequest{}, err
	}
	return *m.state.Pending, nil
}

// Reset clears the selection.
func (m *Machine) Reset() {
	m.state, _ = Reduce(m.state, m.slots, Reset{})
}

// Refresh swaps in a newly fetched collection and drops the slot choice.
func (m *Machine) Refresh(slots Collection) {
	m.slots = slots
	m.state, _ = Reduce(m.state, m.slots, Refreshed{})
}

// PaymentFailed feeds a failed checkout back. It reports whether the outcome
// matched the pending request.
func (m *Machine) PaymentFailed(requestID, reason string) bool {
	before := m.state.Phase
	m.state, _ = Reduce(m.state, m.slots, PaymentFailed{RequestID: requestID, Reason: reason})
	return before != m.state.Phase
}

// PaymentSucceeded feeds a completed checkout back. It reports whether the
// outcome matched the pending request.
func (m *Machine) PaymentSucceeded(requestID, bookingID, message string) bool {
	before := m.state.Phase
	m.state, _ = Reduce(m.state, m.slots, PaymentSucceeded{
		RequestID: requestID,
		BookingID: bookingID,
		Message:   message,
		At:        m.now().UTC(),
	})
	return before != m.state.Phase
}

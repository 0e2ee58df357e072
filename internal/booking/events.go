package booking

import "time"

// Event is an input to Reduce.
type Event interface {
	eventName() string
}

// SelectDate picks a calendar day. Valid from every phase.
type SelectDate struct {
	Date string
}

// SelectSlot picks a slot from the current collection.
type SelectSlot struct {
	Slot TimeSlot
}

// Confirm freezes the selected slot into a CheckoutRequest.
type Confirm struct {
	RequestID string
	At        time.Time
}

// Reset clears the selection entirely.
type Reset struct{}

// Refreshed signals the slot collection was replaced underneath the selection.
type Refreshed struct{}

// PaymentFailed reports a failed checkout for RequestID.
type PaymentFailed struct {
	RequestID string
	Reason    string
}

// PaymentSucceeded reports a completed checkout for RequestID.
type PaymentSucceeded struct {
	RequestID string
	BookingID string
	Message   string
	At        time.Time
}

func (SelectDate) eventName() string       { return "select_date" }
func (SelectSlot) eventName() string       { return "select_slot" }
func (Confirm) eventName() string          { return "confirm" }
func (Reset) eventName() string            { return "reset" }
func (Refreshed) eventName() string        { return "refreshed" }
func (PaymentFailed) eventName() string    { return "payment_failed" }
func (PaymentSucceeded) eventName() string { return "payment_succeeded" }

// EventName returns a stable label for logs and metrics.
func EventName(ev Event) string {
	if ev == nil {
		return "unknown"
	}
	return ev.eventName()
}

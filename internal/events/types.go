package events

import "time"

// BookingConfirmedV1 is emitted once a charge for a confirmed slot succeeds.
type BookingConfirmedV1 struct {
	RequestID         string    `json:"request_id"`
	BookingID         string    `json:"booking_id,omitempty"`
	UserID            string    `json:"user_id"`
	ProviderID        string    `json:"provider_id"`
	Service           string    `json:"service"`
	SlotID            string    `json:"slot_id"`
	Date              string    `json:"date"`
	StartTime         string    `json:"start_time"`
	EndTime           string    `json:"end_time"`
	OriginalStartTime string    `json:"original_start_time"`
	OriginalEndTime   string    `json:"original_end_time"`
	Amount            float64   `json:"amount"`
	Currency          string    `json:"currency"`
	ConfirmedAt       time.Time `json:"confirmed_at"`
}

func (BookingConfirmedV1) EventType() string { return "booking.confirmed.v1" }

// PaymentFailedV1 is emitted when a checkout attempt fails after validation.
type PaymentFailedV1 struct {
	RequestID  string    `json:"request_id"`
	UserID     string    `json:"user_id"`
	ProviderID string    `json:"provider_id"`
	Service    string    `json:"service"`
	SlotID     string    `json:"slot_id"`
	Category   string    `json:"category"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (PaymentFailedV1) EventType() string { return "booking.payment_failed.v1" }

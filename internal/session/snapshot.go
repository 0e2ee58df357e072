package session

import (
	"errors"
	"time"

	"github.com/wolfman30/urban-assist/internal/booking"
)

var (
	// ErrNotFound is returned for unknown, expired, closed or foreign sessions.
	ErrNotFound = errors.New("session: not found")
	// ErrVersionConflict is returned when a snapshot changed underneath a save.
	ErrVersionConflict = errors.New("session: version conflict")
	// ErrNotConfirmed is returned when paying without a confirmed checkout request.
	ErrNotConfirmed = errors.New("session: no confirmed checkout to pay for")
	// ErrPaymentInProgress is returned while a charge for the session is in flight.
	ErrPaymentInProgress = errors.New("session: payment in progress")
	// ErrInvalidRequest is returned when a session is opened without routing ids.
	ErrInvalidRequest = errors.New("session: provider id and service are required")
)

// paymentLease bounds how long an in-flight marker blocks the session if the
// process that set it never clears it.
const paymentLease = 2 * time.Minute

// Snapshot is the persisted form of one booking session.
type Snapshot struct {
	ID               string             `json:"id"`
	Owner            string             `json:"owner"`
	UserID           string             `json:"userId,omitempty"`
	ProviderID       string             `json:"providerId"`
	Service          string             `json:"service"`
	State            booking.State      `json:"state"`
	Slots            []booking.TimeSlot `json:"slots"`
	Skipped          int                `json:"skipped"`
	Loading          bool               `json:"loading"`
	LoadError        string             `json:"loadError,omitempty"`
	FetchSeq         uint64             `json:"fetchSeq"`
	PaymentRequestID string             `json:"paymentRequestId,omitempty"`
	PaymentStartedAt time.Time          `json:"paymentStartedAt,omitzero"`
	Version          int64              `json:"version"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.State = s.State.Clone()
	out.Slots = append([]booking.TimeSlot(nil), s.Slots...)
	return &out
}

// Collection rebuilds the slot collection from the persisted slots.
func (s *Snapshot) Collection() booking.Collection {
	return booking.NewCollection(s.Slots)
}

// PaymentInFlight reports whether a charge started less than paymentLease ago
// is still unresolved.
func (s *Snapshot) PaymentInFlight(now time.Time) bool {
	return s.PaymentRequestID != "" && now.Sub(s.PaymentStartedAt) < paymentLease
}

// Package checkout hands a confirmed booking selection to the payment
// collaborators: price lookup, payment method creation and the card-pay charge.
package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/urban-assist/internal/auth"
	"github.com/wolfman30/urban-assist/internal/booking"
	"github.com/wolfman30/urban-assist/internal/events"
	"github.com/wolfman30/urban-assist/internal/marketplace"
	"github.com/wolfman30/urban-assist/internal/observability/metrics"
	"github.com/wolfman30/urban-assist/pkg/logging"
)

var checkoutTracer = otel.Tracer("urbanassist.internal.checkout")

// Backend is the marketplace surface the handoff talks to.
type Backend interface {
	GetProviderProfile(ctx context.Context, a auth.Context, providerID, service string) (*marketplace.ProviderProfile, error)
	SubmitCardPayment(ctx context.Context, a auth.Context, req marketplace.CardPayRequest) (*marketplace.CardPayResponse, error)
}

// Receipt describes a successful checkout.
type Receipt struct {
	RequestID       string
	BookingID       string
	Message         string
	Amount          float64
	Currency        string
	PaymentMethodID string
	CompletedAt     time.Time
}

// Handoff runs one checkout per call. It never retries.
type Handoff struct {
	backend   Backend
	gateway   Gateway
	ledger    Recorder
	publisher events.Publisher
	currency  string
	logger    *logging.Logger
	metrics   *metrics.BookingMetrics
	now       func() time.Time
}

// NewHandoff wires the handoff. ledger and publisher are optional.
func NewHandoff(backend Backend, gateway Gateway, currency string, logger *logging.Logger) *Handoff {
	if logger == nil {
		logger = logging.Default()
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}
	return &Handoff{
		backend:  backend,
		gateway:  gateway,
		currency: currency,
		logger:   logger,
		now:      time.Now,
	}
}

// WithLedger records every attempt and its outcome in r.
func (h *Handoff) WithLedger(r Recorder) *Handoff {
	h.ledger = r
	return h
}

// WithPublisher emits checkout events on p.
func (h *Handoff) WithPublisher(p events.Publisher) *Handoff {
	h.publisher = p
	return h
}

// WithMetrics attaches booking metrics.
func (h *Handoff) WithMetrics(m *metrics.BookingMetrics) *Handoff {
	h.metrics = m
	return h
}

// Submit validates the card, prices the slot, creates a payment method and
// posts the charge. Failures come back as *PaymentError.
func (h *Handoff) Submit(ctx context.Context, a auth.Context, req booking.CheckoutRequest, card CardInput) (*Receipt, error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("urbanassist.request_id", req.ID),
		attribute.String("urbanassist.provider_id", req.ProviderID),
		attribute.String("urbanassist.slot_id", req.Slot.ID),
	)
	started := h.now()

	attempt := Attempt{
		RequestID:   req.ID,
		UserID:      a.UserID,
		ProviderID:  req.ProviderID,
		Service:     req.Service,
		SlotID:      req.Slot.ID,
		SourceStart: req.Slot.SourceStart,
		SourceEnd:   req.Slot.SourceEnd,
		Currency:    h.currency,
	}

	fail := func(perr *PaymentError) (*Receipt, error) {
		span.RecordError(perr)
		span.SetAttributes(attribute.String("urbanassist.failure_category", string(perr.Category)))
		h.metrics.ObservePayment(OutcomeFailed, string(perr.Category), h.now().Sub(started).Seconds())
		h.logger.Warn("checkout failed",
			"request_id", req.ID,
			"provider_id", req.ProviderID,
			"slot_id", req.Slot.ID,
			"category", string(perr.Category),
			"reason", RedactPAN(perr.Message),
		)
		if perr.Category != CategoryValidation {
			attempt.Outcome = OutcomeFailed
			attempt.Category = perr.Category
			attempt.Message = perr.Message
			h.record(ctx, attempt)
			h.publish(ctx, req.ID, events.PaymentFailedV1{
				RequestID:  req.ID,
				UserID:     a.UserID,
				ProviderID: req.ProviderID,
				Service:    req.Service,
				SlotID:     req.Slot.ID,
				Category:   string(perr.Category),
				Reason:     RedactPAN(perr.Message),
				OccurredAt: h.now().UTC(),
			})
		}
		return nil, perr
	}

	if req.ID == "" || req.Slot.ID == "" || req.ProviderID == "" {
		return fail(failure(CategoryValidation, "No confirmed slot to pay for", nil))
	}
	if err := card.Validate(h.now()); err != nil {
		var perr *PaymentError
		errors.As(err, &perr)
		return fail(perr)
	}
	if !a.Authenticated() {
		return fail(failure(CategoryValidation, "You must be logged in to pay", auth.ErrNotAuthenticated))
	}

	profile, err := h.backend.GetProviderProfile(ctx, a, req.ProviderID, req.Service)
	if err != nil {
		return fail(failure(CategoryNetwork, "could not load provider price", err))
	}
	if profile.Price <= 0 {
		return fail(failure(CategoryValidation, "This service has no price set", nil))
	}
	attempt.Amount = profile.Price

	pmID, err := h.gateway.CreatePaymentMethod(ctx, card)
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			return fail(failure(CategoryGateway, gwErr.Message, err))
		}
		return fail(failure(CategoryNetwork, errorText(err), err))
	}
	attempt.PaymentMethodID = pmID

	charge := marketplace.CardPayRequest{
		User: marketplace.CardPayUser{
			ID:         a.UserID,
			Service:    req.Service,
			ProviderID: req.ProviderID,
			Provider:   profile.Raw,
			Slot: marketplace.CardPaySlot{
				ID:                req.Slot.ID,
				Date:              req.Slot.Date,
				StartTime:         req.Slot.StartTime,
				EndTime:           req.Slot.EndTime,
				OriginalStartTime: req.Slot.SourceStart,
				OriginalEndTime:   req.Slot.SourceEnd,
			},
		},
		Card: marketplace.CardPayCard{
			Amount:          profile.Price,
			Currency:        h.currency,
			PaymentMethodID: pmID,
			CardholderName:  strings.TrimSpace(card.CardholderName),
		},
	}
	resp, err := h.backend.SubmitCardPayment(ctx, a, charge)
	if err != nil {
		var apiErr *marketplace.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict:
			return fail(failure(CategoryConflict, firstNonEmpty(apiErr.Message, "This slot is no longer available"), err))
		case errors.As(err, &apiErr):
			return fail(failure(CategoryBackend, firstNonEmpty(apiErr.Message, apiErr.Body), err))
		default:
			return fail(failure(CategoryNetwork, errorText(err), err))
		}
	}

	completed := h.now().UTC()
	receipt := &Receipt{
		RequestID:       req.ID,
		BookingID:       resp.BookingID,
		Message:         firstNonEmpty(resp.Message, "Payment successful!"),
		Amount:          profile.Price,
		Currency:        h.currency,
		PaymentMethodID: pmID,
		CompletedAt:     completed,
	}

	attempt.Outcome = OutcomeSucceeded
	h.record(ctx, attempt)
	h.publish(ctx, req.ID, events.BookingConfirmedV1{
		RequestID:         req.ID,
		BookingID:         resp.BookingID,
		UserID:            a.UserID,
		ProviderID:        req.ProviderID,
		Service:           req.Service,
		SlotID:            req.Slot.ID,
		Date:              req.Slot.Date,
		StartTime:         req.Slot.StartTime,
		EndTime:           req.Slot.EndTime,
		OriginalStartTime: req.Slot.SourceStart,
		OriginalEndTime:   req.Slot.SourceEnd,
		Amount:            profile.Price,
		Currency:          h.currency,
		ConfirmedAt:       completed,
	})
	h.metrics.ObservePayment(OutcomeSucceeded, "", h.now().Sub(started).Seconds())
	h.logger.Info("checkout succeeded", "request_id", req.ID, "provider_id", req.ProviderID, "slot_id", req.Slot.ID, "booking_id", resp.BookingID)
	return receipt, nil
}

// record and publish outlive the caller's cancellation.
func (h *Handoff) record(ctx context.Context, a Attempt) {
	if h.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	a.CreatedAt = h.now().UTC()
	if err := h.ledger.RecordAttempt(ctx, a); err != nil {
		h.logger.Error("failed to record checkout attempt", "request_id", a.RequestID, "error", err)
	}
}

func (h *Handoff) publish(ctx context.Context, requestID string, evt events.CanonicalEvent) {
	if h.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.publisher.Publish(ctx, "checkout:"+requestID, evt); err != nil {
		h.logger.Error("failed to publish booking event", "request_id", requestID, "event_type", evt.EventType(), "error", err)
	}
}

func errorText(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "request was cancelled"
	}
	return RedactPAN(err.Error())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

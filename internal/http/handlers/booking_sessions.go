package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/urban-assist/internal/auth"
	"github.com/wolfman30/urban-assist/internal/availability"
	"github.com/wolfman30/urban-assist/internal/booking"
	"github.com/wolfman30/urban-assist/internal/checkout"
	"github.com/wolfman30/urban-assist/internal/session"
	"github.com/wolfman30/urban-assist/pkg/logging"
)

const maxBodyBytes = 64 << 10

// SessionService is the booking session surface the HTTP layer drives.
type SessionService interface {
	Open(ctx context.Context, a auth.Context, providerID, service string) (*session.View, error)
	Get(ctx context.Context, a auth.Context, id string) (*session.View, error)
	Refresh(ctx context.Context, a auth.Context, id string) (*session.View, error)
	SelectDate(ctx context.Context, a auth.Context, id, date string) (*session.View, error)
	SelectSlot(ctx context.Context, a auth.Context, id, slotID string) (*session.View, error)
	Confirm(ctx context.Context, a auth.Context, id string) (*session.View, error)
	Reset(ctx context.Context, a auth.Context, id string) (*session.View, error)
	Pay(ctx context.Context, a auth.Context, id string, card checkout.CardInput) (*session.View, *checkout.Receipt, error)
	Close(ctx context.Context, a auth.Context, id string) error
}

// BookingSessionsHandler exposes booking sessions to the SPA.
type BookingSessionsHandler struct {
	sessions SessionService
	logger   *logging.Logger
}

func NewBookingSessionsHandler(sessions SessionService, logger *logging.Logger) *BookingSessionsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingSessionsHandler{sessions: sessions, logger: logger}
}

// Routes mounts the session endpoints. Callers add bearer auth in front.
func (h *BookingSessionsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Open)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Close)
		r.Post("/refresh", h.Refresh)
		r.Put("/date", h.SelectDate)
		r.Put("/slot", h.SelectSlot)
		r.Post("/confirm", h.Confirm)
		r.Post("/reset", h.Reset)
		r.Post("/payment", h.Pay)
	})
	return r
}

type openSessionRequest struct {
	ProviderID string `json:"providerId"`
	Service    string `json:"service"`
}

type selectDateRequest struct {
	Date string `json:"date"`
}

type selectSlotRequest struct {
	SlotID string `json:"slotId"`
}

type paymentRequest struct {
	CardholderName string      `json:"cardholderName"`
	Card           paymentCard `json:"card"`
}

type paymentCard struct {
	Token    string `json:"token"`
	Number   string `json:"number"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
	CVC      string `json:"cvc"`
}

type paymentResponse struct {
	Session *session.View `json:"session"`
	Receipt *receiptView  `json:"receipt,omitempty"`
}

type receiptView struct {
	RequestID string  `json:"requestId"`
	BookingID string  `json:"bookingId,omitempty"`
	Message   string  `json:"message,omitempty"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

type errorResponse struct {
	Error    string        `json:"error"`
	Category string        `json:"category,omitempty"`
	Session  *session.View `json:"session,omitempty"`
}

// Open starts a session and runs the first availability fetch.
// Route: POST /api/booking/sessions
func (h *BookingSessionsHandler) Open(w http.ResponseWriter, r *http.Request) {
	a, ok := h.authContext(w, r)
	if !ok {
		return
	}
	var req openSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	view, err := h.sessions.Open(r.Context(), a, req.ProviderID, req.Service)
	if err != nil {
		h.writeError(w, r, view, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// Route: GET /api/booking/sessions/{sessionID}
func (h *BookingSessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.viewAction(w, r, func(ctx context.Context, a auth.Context, id string) (*session.View, error) {
		return h.sessions.Get(ctx, a, id)
	})
}

// Route: POST /api/booking/sessions/{sessionID}/refresh
func (h *BookingSessionsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.viewAction(w, r, func(ctx context.Context, a auth.Context, id string) (*session.View, error) {
		return h.sessions.Refresh(ctx, a, id)
	})
}

// Route: PUT /api/booking/sessions/{sessionID}/date
func (h *BookingSessionsHandler) SelectDate(w http.ResponseWriter, r *http.Request) {
	var req selectDateRequest
	h.viewActionWithBody(w, r, &req, func(ctx context.Context, a auth.Context, id string) (*session.View, error) {
		return h.sessions.SelectDate(ctx, a, id, req.Date)
	})
}

// Route: PUT /api/booking/sessions/{sessionID}/slot
func (h *BookingSessionsHandler) SelectSlot(w http.ResponseWriter, r *http.Request) {
	var req selectSlotRequest
	h.viewActionWithBody(w, r, &req, func(ctx context.Context, a auth.Context, id string) (*session.View, error) {
		return h.sessions.SelectSlot(ctx, a, id, req.SlotID)
	})
}

// Route: POST /api/booking/sessions/{sessionID}/confirm
func (h *BookingSessionsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.viewAction(w, r, func(ctx context.Context, a auth.Context, id string) (*session.View, error) {
		return h.sessions.Confirm(ctx, a, id)
	})
}

// Route: POST /api/booking/sessions/{sessionID}/reset
func (h *BookingSessionsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.viewAction(w, r, func(ctx context.Context, a auth.Context, id string) (*session.View, error) {
		return h.sessions.Reset(ctx, a, id)
	})
}

// Pay charges the confirmed request. Card fields are never logged.
// Route: POST /api/booking/sessions/{sessionID}/payment
func (h *BookingSessionsHandler) Pay(w http.ResponseWriter, r *http.Request) {
	a, ok := h.authContext(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	card := checkout.CardInput{
		CardholderName: req.CardholderName,
		Token:          req.Card.Token,
		Number:         req.Card.Number,
		ExpMonth:       req.Card.ExpMonth,
		ExpYear:        req.Card.ExpYear,
		CVC:            req.Card.CVC,
	}
	view, receipt, err := h.sessions.Pay(r.Context(), a, sessionID(r), card)
	if err != nil {
		h.writeError(w, r, view, err)
		return
	}
	resp := paymentResponse{Session: view}
	if receipt != nil {
		resp.Receipt = &receiptView{
			RequestID: receipt.RequestID,
			BookingID: receipt.BookingID,
			Message:   receipt.Message,
			Amount:    receipt.Amount,
			Currency:  receipt.Currency,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Route: DELETE /api/booking/sessions/{sessionID}
func (h *BookingSessionsHandler) Close(w http.ResponseWriter, r *http.Request) {
	a, ok := h.authContext(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Close(r.Context(), a, sessionID(r)); err != nil {
		h.writeError(w, r, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BookingSessionsHandler) viewAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, auth.Context, string) (*session.View, error)) {
	a, ok := h.authContext(w, r)
	if !ok {
		return
	}
	view, err := fn(r.Context(), a, sessionID(r))
	if err != nil {
		h.writeError(w, r, view, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *BookingSessionsHandler) viewActionWithBody(w http.ResponseWriter, r *http.Request, body any, fn func(context.Context, auth.Context, string) (*session.View, error)) {
	if _, ok := h.authContext(w, r); !ok {
		return
	}
	if !decodeBody(w, r, body) {
		return
	}
	h.viewAction(w, r, fn)
}

func (h *BookingSessionsHandler) authContext(w http.ResponseWriter, r *http.Request) (auth.Context, bool) {
	a, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not authenticated"})
		return auth.Context{}, false
	}
	return a, true
}

// writeError maps domain errors onto statuses. view, when present, is the
// session as it stands after the failure.
func (h *BookingSessionsHandler) writeError(w http.ResponseWriter, r *http.Request, view *session.View, err error) {
	resp := errorResponse{Error: err.Error(), Session: view}
	status := http.StatusInternalServerError

	var perr *checkout.PaymentError
	var ferr *availability.FetchError
	switch {
	case errors.As(err, &perr):
		status = http.StatusPaymentRequired
		resp.Category = string(perr.Category)
		resp.Error = perr.DisplayMessage()
	case errors.As(err, &ferr):
		status = http.StatusBadGateway
		resp.Error = ferr.Message
	case errors.Is(err, auth.ErrNotAuthenticated):
		status = http.StatusUnauthorized
		resp.Error = "not authenticated"
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
		resp.Error = "session not found"
		resp.Session = nil
	case errors.Is(err, session.ErrInvalidRequest), errors.Is(err, booking.ErrInvalidDate):
		status = http.StatusBadRequest
	case errors.Is(err, booking.ErrInvalidSlot), errors.Is(err, booking.ErrNoSlotChosen),
		errors.Is(err, session.ErrPaymentInProgress), errors.Is(err, session.ErrNotConfirmed),
		errors.Is(err, session.ErrVersionConflict):
		status = http.StatusConflict
	default:
		resp.Error = "internal error"
		h.logger.Error("booking session request failed", "path", r.URL.Path, "session_id", sessionID(r), "error", err)
	}
	writeJSON(w, status, resp)
}

func sessionID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "sessionID"))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

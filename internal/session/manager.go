// Package session hosts booking sessions: one per view instance, each owning
// its slot collection and selection state. Mutations of a session are
// serialized; network calls run outside the lock and apply their results only
// if they are still the latest.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/urban-assist/internal/auth"
	"github.com/wolfman30/urban-assist/internal/availability"
	"github.com/wolfman30/urban-assist/internal/booking"
	"github.com/wolfman30/urban-assist/internal/checkout"
	"github.com/wolfman30/urban-assist/internal/observability/metrics"
	"github.com/wolfman30/urban-assist/pkg/logging"
)

const (
	maxConflictRetries = 3
	defaultIdleTTL     = 30 * time.Minute
	sweepInterval      = time.Minute
)

var errStale = errors.New("session: stale result")

// Fetcher loads availability for a session.
type Fetcher interface {
	Fetch(ctx context.Context, a auth.Context, providerID, service string) (*availability.Result, error)
}

// Checkout runs the payment handoff for a confirmed request.
type Checkout interface {
	Submit(ctx context.Context, a auth.Context, req booking.CheckoutRequest, card checkout.CardInput) (*checkout.Receipt, error)
}

type liveSession struct {
	mu        sync.Mutex
	seq       availability.Sequencer
	payCancel context.CancelFunc
	lastSeen  time.Time
}

// Manager owns every booking session served by this instance.
type Manager struct {
	store    Store
	fetcher  Fetcher
	checkout Checkout
	loc      *time.Location
	logger   *logging.Logger
	metrics  *metrics.BookingMetrics
	now      func() time.Time
	newID    func() string

	idleTTL   time.Duration
	mu        sync.Mutex
	live      map[string]*liveSession
	lastSweep time.Time
}

// NewManager builds a manager. loc is the display zone used for "today" and
// confirmation times.
func NewManager(store Store, fetcher Fetcher, co Checkout, loc *time.Location, logger *logging.Logger) *Manager {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		store:    store,
		fetcher:  fetcher,
		checkout: co,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		idleTTL:  defaultIdleTTL,
		live:     make(map[string]*liveSession),
	}
}

// WithMetrics records stale fetches, transitions and the live session count on bm.
func (m *Manager) WithMetrics(bm *metrics.BookingMetrics) *Manager {
	m.metrics = bm
	return m
}

// WithIdleTTL sets how long an untouched session keeps its in-memory state.
// It should match the store TTL so state is dropped once the store expires.
func (m *Manager) WithIdleTTL(d time.Duration) *Manager {
	if d > 0 {
		m.idleTTL = d
	}
	return m
}

// WithClock overrides the time source (tests).
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// Open starts a session on today's date and runs the first fetch. A failed
// fetch still returns the view, carrying LoadError, together with the error.
func (m *Manager) Open(ctx context.Context, a auth.Context, providerID, service string) (*View, error) {
	if !a.Authenticated() {
		return nil, auth.ErrNotAuthenticated
	}
	providerID, service = strings.TrimSpace(providerID), strings.TrimSpace(service)
	if providerID == "" || service == "" {
		return nil, ErrInvalidRequest
	}

	now := m.now()
	snap := &Snapshot{
		ID:         m.newID(),
		Owner:      ownerKey(a),
		UserID:     a.UserID,
		ProviderID: providerID,
		Service:    service,
		State:      booking.NewState(booking.Today(now, m.loc)),
		Slots:      []booking.TimeSlot{},
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
	if err := m.store.Create(ctx, snap); err != nil {
		return nil, err
	}
	m.logger.Info("booking session opened", "session_id", snap.ID, "provider_id", providerID, "service", service, "user_id", a.UserID)
	return m.Refresh(ctx, a, snap.ID)
}

// Get returns the current view.
func (m *Manager) Get(ctx context.Context, a auth.Context, id string) (*View, error) {
	snap, err := m.load(ctx, a, id)
	if err != nil {
		return nil, err
	}
	return m.view(snap), nil
}

// Refresh re-fetches availability. Only the most recent refresh of a session
// applies its result; an older one returns the current view untouched.
func (m *Manager) Refresh(ctx context.Context, a auth.Context, id string) (*View, error) {
	ls := m.liveSession(id)

	var (
		ticket availability.Ticket
		fctx   context.Context
		done   context.CancelFunc
	)
	snap, err := m.update(ctx, a, id, func(s *Snapshot) error {
		if s.PaymentInFlight(m.now()) {
			return ErrPaymentInProgress
		}
		if done != nil {
			done()
		}
		ls.seq.Resume(availability.Ticket(s.FetchSeq))
		ticket, fctx, done = ls.seq.Begin(ctx)
		s.FetchSeq = uint64(ticket)
		s.Loading = true
		return nil
	})
	if err != nil {
		if done != nil {
			done()
		}
		return m.viewOrNil(snap), err
	}
	defer done()

	res, fetchErr := m.fetcher.Fetch(fctx, a, snap.ProviderID, snap.Service)

	final, err := m.update(context.WithoutCancel(ctx), a, id, func(s *Snapshot) error {
		if s.FetchSeq != uint64(ticket) {
			return errStale
		}
		if !ls.seq.Commit(ticket, func() { m.applyFetch(s, res, fetchErr) }) {
			return errStale
		}
		return nil
	})
	if errors.Is(err, errStale) {
		m.metrics.ObserveFetch("stale", 0)
		m.logger.Debug("discarded stale availability result", "session_id", id, "ticket", uint64(ticket))
		return m.viewOrNil(final), nil
	}
	if err != nil {
		return nil, err
	}
	return m.view(final), fetchErr
}

func (m *Manager) applyFetch(s *Snapshot, res *availability.Result, fetchErr error) {
	s.Loading = false
	if fetchErr != nil {
		s.LoadError = availability.FetchFailedMessage
		var fe *availability.FetchError
		if errors.As(fetchErr, &fe) && fe.Message != "" {
			s.LoadError = fe.Message
		}
		return
	}
	machine := booking.NewMachine(s.State, s.Collection())
	machine.Refresh(res.Slots)
	s.State = machine.State()
	s.Slots = res.Slots.All()
	s.Skipped = res.Skipped
	s.LoadError = ""
}

// SelectDate moves the session to another calendar day.
func (m *Manager) SelectDate(ctx context.Context, a auth.Context, id, date string) (*View, error) {
	return m.transition(ctx, a, id, "select_date", func(mc *booking.Machine) error {
		return mc.SelectDate(strings.TrimSpace(date))
	})
}

// SelectSlot picks a slot of the selected day by id.
func (m *Manager) SelectSlot(ctx context.Context, a auth.Context, id, slotID string) (*View, error) {
	return m.transition(ctx, a, id, "select_slot", func(mc *booking.Machine) error {
		return mc.SelectSlotByID(strings.TrimSpace(slotID))
	})
}

// Confirm freezes the selected slot into a checkout request.
func (m *Manager) Confirm(ctx context.Context, a auth.Context, id string) (*View, error) {
	return m.transition(ctx, a, id, "confirm", func(mc *booking.Machine) error {
		_, err := mc.Confirm()
		return err
	})
}

// Reset clears the selection.
func (m *Manager) Reset(ctx context.Context, a auth.Context, id string) (*View, error) {
	return m.transition(ctx, a, id, "reset", func(mc *booking.Machine) error {
		mc.Reset()
		return nil
	})
}

func (m *Manager) transition(ctx context.Context, a auth.Context, id, name string, apply func(*booking.Machine) error) (*View, error) {
	var reduceErr error
	snap, err := m.update(ctx, a, id, func(s *Snapshot) error {
		if s.PaymentInFlight(m.now()) {
			return ErrPaymentInProgress
		}
		mc := booking.NewMachine(s.State, s.Collection()).WithClock(m.now)
		if reduceErr = apply(mc); reduceErr != nil {
			return reduceErr
		}
		s.State = mc.State()
		return nil
	})
	if reduceErr != nil || err == nil {
		m.metrics.ObserveTransition(name, err == nil)
	}
	if err != nil {
		if reduceErr != nil {
			m.logger.Debug("selection event rejected", "session_id", id, "event", name, "error", err)
		}
		return m.viewOrNil(snap), err
	}
	return m.view(snap), nil
}

// Pay runs the checkout for the confirmed request and feeds the outcome back
// into the selection. The view reflects the outcome; the error is the
// checkout failure, if any.
func (m *Manager) Pay(ctx context.Context, a auth.Context, id string, card checkout.CardInput) (*View, *checkout.Receipt, error) {
	var req booking.CheckoutRequest
	snap, err := m.update(ctx, a, id, func(s *Snapshot) error {
		if s.PaymentInFlight(m.now()) {
			return ErrPaymentInProgress
		}
		if s.State.Phase != booking.PhaseConfirmed || s.State.Pending == nil {
			return ErrNotConfirmed
		}
		req = *s.State.Pending
		s.PaymentRequestID = req.ID
		s.PaymentStartedAt = m.now().UTC()
		return nil
	})
	if err != nil {
		return m.viewOrNil(snap), nil, err
	}

	ls := m.liveSession(id)
	pctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	ls.payCancel = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		ls.payCancel = nil
		m.mu.Unlock()
		cancel()
	}()

	receipt, payErr := m.checkout.Submit(pctx, a, req, card)

	final, err := m.update(context.WithoutCancel(ctx), a, id, func(s *Snapshot) error {
		if s.PaymentRequestID == req.ID {
			s.PaymentRequestID = ""
			s.PaymentStartedAt = time.Time{}
		}
		mc := booking.NewMachine(s.State, s.Collection()).WithClock(m.now)
		var matched bool
		if payErr != nil {
			matched = mc.PaymentFailed(req.ID, displayMessage(payErr))
		} else {
			matched = mc.PaymentSucceeded(req.ID, receipt.BookingID, receipt.Message)
		}
		if !matched {
			m.logger.Warn("checkout outcome no longer matches session", "session_id", id, "request_id", req.ID, "succeeded", payErr == nil)
		}
		s.State = mc.State()
		return nil
	})
	if err != nil {
		return nil, receipt, err
	}
	return m.view(final), receipt, payErr
}

// Close cancels in-flight work for the session and deletes it. Results that
// arrive afterwards are discarded.
func (m *Manager) Close(ctx context.Context, a auth.Context, id string) error {
	ls := m.liveSession(id)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if _, err := m.loadOwned(ctx, a, id); err != nil {
		return err
	}
	ls.seq.Close()
	m.mu.Lock()
	if ls.payCancel != nil {
		ls.payCancel()
	}
	delete(m.live, id)
	m.metrics.SetLiveSessions(len(m.live))
	m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("booking session closed", "session_id", id)
	return nil
}

// update loads, mutates and saves a snapshot under the session lock, retrying
// on version conflicts from other instances. When fn fails the unsaved
// snapshot is returned with fn's error.
func (m *Manager) update(ctx context.Context, a auth.Context, id string, fn func(*Snapshot) error) (*Snapshot, error) {
	ls := m.liveSession(id)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		snap, err := m.loadOwned(ctx, a, id)
		if err != nil {
			return nil, err
		}
		before := snap.Clone()
		if err := fn(snap); err != nil {
			return before, err
		}
		snap.UpdatedAt = m.now().UTC()
		err = m.store.Save(ctx, snap)
		if errors.Is(err, ErrVersionConflict) {
			m.logger.Debug("session version conflict, retrying", "session_id", id, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return snap, nil
	}
	return nil, ErrVersionConflict
}

func (m *Manager) load(ctx context.Context, a auth.Context, id string) (*Snapshot, error) {
	ls := m.liveSession(id)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return m.loadOwned(ctx, a, id)
}

// loadOwned must be called with the session lock held.
func (m *Manager) loadOwned(ctx context.Context, a auth.Context, id string) (*Snapshot, error) {
	if !a.Authenticated() {
		return nil, auth.ErrNotAuthenticated
	}
	snap, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		m.forget(id)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if snap.Owner != ownerKey(a) {
		return nil, ErrNotFound
	}
	return snap, nil
}

func (m *Manager) liveSession(id string) *liveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.Sub(m.lastSweep) >= sweepInterval {
		m.pruneLocked(now)
	}
	ls, ok := m.live[id]
	if !ok {
		ls = &liveSession{}
		m.live[id] = ls
		m.metrics.SetLiveSessions(len(m.live))
	}
	ls.lastSeen = now
	return ls
}

// pruneLocked drops sessions untouched for idleTTL. Sessions that are locked
// or have a payment in flight are kept. m.mu must be held.
func (m *Manager) pruneLocked(now time.Time) {
	m.lastSweep = now
	for id, ls := range m.live {
		if now.Sub(ls.lastSeen) < m.idleTTL || ls.payCancel != nil {
			continue
		}
		if !ls.mu.TryLock() {
			continue
		}
		ls.seq.Close()
		delete(m.live, id)
		ls.mu.Unlock()
	}
	m.metrics.SetLiveSessions(len(m.live))
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.live, id)
	m.metrics.SetLiveSessions(len(m.live))
	m.mu.Unlock()
}

func (m *Manager) view(s *Snapshot) *View {
	return buildView(s, m.loc, m.now())
}

func (m *Manager) viewOrNil(s *Snapshot) *View {
	if s == nil {
		return nil
	}
	return m.view(s)
}

// ownerKey binds a session to its user when the token signature was
// verified, and to the bearer token otherwise.
func ownerKey(a auth.Context) string {
	if a.Verified && a.UserID != "" {
		return "user:" + a.UserID
	}
	sum := sha256.Sum256([]byte(a.Token))
	return "token:" + hex.EncodeToString(sum[:])
}

func displayMessage(err error) string {
	var perr *checkout.PaymentError
	if errors.As(err, &perr) {
		return perr.DisplayMessage()
	}
	return "Payment request failed: " + checkout.RedactPAN(err.Error())
}

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/urban-assist/internal/auth"
	"github.com/wolfman30/urban-assist/internal/availability"
	"github.com/wolfman30/urban-assist/internal/booking"
	"github.com/wolfman30/urban-assist/internal/checkout"
	"github.com/wolfman30/urban-assist/internal/observability/metrics"
	"github.com/wolfman30/urban-assist/pkg/logging"
)

var (
	testNow  = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	testAuth = auth.Context{Token: "tok-abc", UserID: "user-1", Verified: true}

	slotA1 = booking.TimeSlot{
		ID: "a1", Date: "2024-06-10", StartTime: "09:00", EndTime: "10:00",
		ProviderID: "p-1", Service: "plumbing",
		SourceStart: "2024-06-10T09:00:00Z", SourceEnd: "2024-06-10T10:00:00Z",
	}
	slotA2 = booking.TimeSlot{
		ID: "a2", Date: "2024-06-10", StartTime: "11:00", EndTime: "12:00",
		ProviderID: "p-1", Service: "plumbing",
		SourceStart: "2024-06-10T11:00:00Z", SourceEnd: "2024-06-10T12:00:00Z",
	}
	slotB1 = booking.TimeSlot{
		ID: "b1", Date: "2024-06-11", StartTime: "09:00", EndTime: "10:00",
		ProviderID: "p-1", Service: "plumbing",
		SourceStart: "2024-06-11T09:00:00Z", SourceEnd: "2024-06-11T10:00:00Z",
	}
)

type fetchReply struct {
	result  *availability.Result
	err     error
	release chan struct{}
}

// stubFetcher answers fetches in call order. A reply with a release channel
// blocks until the channel is closed, regardless of cancellation.
type stubFetcher struct {
	mu      sync.Mutex
	replies []fetchReply
	calls   int
	started chan int
}

func newStubFetcher(replies ...fetchReply) *stubFetcher {
	return &stubFetcher{replies: replies, started: make(chan int, 16)}
}

func (f *stubFetcher) Fetch(_ context.Context, a auth.Context, providerID, service string) (*availability.Result, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	var reply fetchReply
	if idx < len(f.replies) {
		reply = f.replies[idx]
	} else if len(f.replies) > 0 {
		reply = f.replies[len(f.replies)-1]
	}
	f.mu.Unlock()

	f.started <- idx
	if reply.release != nil {
		<-reply.release
	}
	return reply.result, reply.err
}

func result(slots ...booking.TimeSlot) fetchReply {
	return fetchReply{result: &availability.Result{Slots: booking.NewCollection(slots), FetchedAt: testNow}}
}

type stubCheckout struct {
	receipt *checkout.Receipt
	err     error
	block   chan struct{}
	calls   []booking.CheckoutRequest
}

func (c *stubCheckout) Submit(ctx context.Context, _ auth.Context, req booking.CheckoutRequest, _ checkout.CardInput) (*checkout.Receipt, error) {
	c.calls = append(c.calls, req)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return nil, &checkout.PaymentError{Category: checkout.CategoryNetwork, Message: "request was cancelled", Err: ctx.Err()}
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	r := *c.receipt
	r.RequestID = req.ID
	return &r, nil
}

func newTestManager(t *testing.T, f Fetcher, co Checkout) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(time.Hour)
	m := NewManager(store, f, co, time.UTC, logging.Discard()).WithClock(func() time.Time { return testNow })
	return m, store
}

func openConfirmed(t *testing.T, m *Manager) *View {
	t.Helper()
	v, err := m.Open(context.Background(), testAuth, "p-1", "plumbing")
	require.NoError(t, err)
	_, err = m.SelectSlot(context.Background(), testAuth, v.ID, "a1")
	require.NoError(t, err)
	v, err = m.Confirm(context.Background(), testAuth, v.ID)
	require.NoError(t, err)
	require.Equal(t, "confirmed", v.Phase)
	return v
}

func TestOpenStartsOnTodayWithFetchedSlots(t *testing.T) {
	m, _ := newTestManager(t, newStubFetcher(result(slotB1, slotA2, slotA1)), &stubCheckout{})

	v, err := m.Open(context.Background(), testAuth, "p-1", "plumbing")
	require.NoError(t, err)

	assert.Equal(t, "date_selected", v.Phase)
	assert.Equal(t, "2024-06-10", v.SelectedDate)
	assert.Equal(t, 3, v.TotalSlots)
	assert.Equal(t, []string{"2024-06-10", "2024-06-11"}, v.CalendarDates)
	require.Len(t, v.SlotsForDate, 2)
	assert.Equal(t, "a1", v.SlotsForDate[0].ID)
	assert.False(t, v.Loading)
	assert.Empty(t, v.LoadError)
}

func TestOpenRejectsMissingRoutingAndAuth(t *testing.T) {
	m, _ := newTestManager(t, newStubFetcher(result()), &stubCheckout{})

	_, err := m.Open(context.Background(), auth.Context{}, "p-1", "plumbing")
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	_, err = m.Open(context.Background(), testAuth, "", "plumbing")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.Open(context.Background(), testAuth, "p-1", "  ")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestOpenKeepsSessionWhenFetchFails(t *testing.T) {
	fetchErr := &availability.FetchError{Message: availability.FetchFailedMessage, Err: errors.New("boom")}
	m, _ := newTestManager(t, newStubFetcher(fetchReply{err: fetchErr}, result(slotA1)), &stubCheckout{})

	v, err := m.Open(context.Background(), testAuth, "p-1", "plumbing")
	require.ErrorIs(t, err, availability.ErrFetchFailed)
	require.NotNil(t, v)
	assert.Equal(t, availability.FetchFailedMessage, v.LoadError)
	assert.Equal(t, 0, v.TotalSlots)
	assert.Empty(t, v.SlotsForDate)

	v, err = m.Refresh(context.Background(), testAuth, v.ID)
	require.NoError(t, err)
	assert.Empty(t, v.LoadError)
	assert.Equal(t, 1, v.TotalSlots)
}

func TestRefreshDiscardsStaleResult(t *testing.T) {
	release := make(chan struct{})
	f := newStubFetcher(
		result(slotA1),
		fetchReply{result: &availability.Result{Slots: booking.NewCollection([]booking.TimeSlot{slotA2})}, release: release},
		result(slotB1),
	)
	m, _ := newTestManager(t, f, &stubCheckout{})

	v, err := m.Open(context.Background(), testAuth, "p-1", "plumbing")
	require.NoError(t, err)
	<-f.started

	type outcome struct {
		view *View
		err  error
	}
	slow := make(chan outcome, 1)
	go func() {
		view, err := m.Refresh(context.Background(), testAuth, v.ID)
		slow <- outcome{view, err}
	}()
	require.Equal(t, 1, <-f.started)

	fresh, err := m.Refresh(context.Background(), testAuth, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-11"}, fresh.CalendarDates)

	close(release)
	got := <-slow
	require.NoError(t, got.err)

	current, err := m.Get(context.Background(), testAuth, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.TotalSlots)
	assert.Equal(t, []string{"2024-06-11"}, current.CalendarDates)
}

func TestRefreshClearsSlotButKeepsDate(t *testing.T) {
	m, _ := newTestManager(t, newStubFetcher(result(slotA1, slotA2)), &stubCheckout{})
	v, err := m.Open(context.Background(), testAuth, "p-1", "plumbing")
	require.NoError(t, err)

	v, err = m.SelectSlot(context.Background(), testAuth, v.ID, "a2")
	require.NoError(t, err)
	assert.Equal(t, "slot_selected", v.Phase)

	v, err = m.Refresh(context.Background(), testAuth, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "date_selected", v.Phase)
	assert.Equal(t, "2024-06-10", v.SelectedDate)
	assert.Nil(t, v.SelectedSlot)
}

func TestCloseDiscardsInFlightFetch(t *testing.T) {
	release := make(chan struct{})
	f := newStubFetcher(result(slotA1), fetchReply{result: &availability.Result{Slots: booking.NewCollection([]booking.TimeSlot{slotB1})}, release: release})
	m, store := newTestManager(t, f, &stubCheckout{})

	v, err := m.Open(context.Background(), testAuth, "p-1", "plumbing")
	require.NoError(t, err)
	<-f.started

	done := make(chan error, 1)
	go func() {
		_, err := m.Refresh(context.Background(), testAuth, v.ID)
		done <- err
	}()
	<-f.started

	require.NoError(t, m.Close(context.Background(), testAuth, v.ID))
	close(release)

	assert.ErrorIs(t, <-done, ErrNotFound)
	assert.Equal(t, 0, store.Len())

	_, err = m.Get(context.Background(), testAuth, v.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSelectionErrorsLeaveStateUntouched(t *testing.T) {
	m, _ := newTestManager(t, newStubFetcher(result(slotA1, slotB1)), &stubCheckout{})
	v, err := m.Open(context.Background(), testAuth, "p-1", "plumbing")
	require.NoError(t, err)

	after, err := m.SelectSlot(context.Background(), testAuth, v.ID, "b1")
	assert.ErrorIs(t, err, booking.ErrInvalidSlot)
	assert.Equal(t, "date_selected", after.Phase)

	after, err = m.Confirm(context.Background(), testAuth, v.ID)
	assert.ErrorIs(t, err, booking.ErrNoSlotChosen)
	assert.Equal(t, "date_selected", after.Phase)

	_, err = m.SelectDate(context.Background(), testAuth, v.ID, "June 11")
	assert.ErrorIs(t, err, booking.ErrInvalidDate)

	after, err = m.SelectDate(context.Background(), testAuth, v.ID, "2024-06-11")
	require.NoError(t, err)
	require.Len(t, after.SlotsForDate, 1)
	assert.Equal(t, "b1", after.SlotsForDate[0].ID)

	after, err = m.Reset(context.Background(), testAuth, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "no_date_selected", after.Phase)
	assert.Empty(t, after.SlotsForDate)
}

func TestPaymentFailureKeepsSelectedSlot(t *testing.T) {
	co := &stubCheckout{err: &checkout.PaymentError{Category: checkout.CategoryBackend, Message: "slot taken"}}
	m, _ := newTestManager(t, newStubFetcher(result(slotA1)), co)
	v := openConfirmed(t, m)

	v, receipt, err := m.Pay(context.Background(), testAuth, v.ID, checkout.CardInput{CardholderName: "Ada", Token: "tok_visa"})
	require.ErrorIs(t, err, checkout.ErrPaymentFailed)
	assert.Nil(t, receipt)
	assert.Equal(t, "slot_selected", v.Phase)
	require.NotNil(t, v.SelectedSlot)
	assert.Equal(t, "a1", v.SelectedSlot.ID)
	assert.Equal(t, "Payment failed: slot taken", v.PaymentError)
	assert.False(t, v.PaymentInFlight)
	assert.True(t, v.CanConfirm)

	v, err = m.Confirm(context.Background(), testAuth, v.ID)
	require.NoError(t, err)
	assert.Empty(t, v.PaymentError)
	require.Len(t, co.calls, 1)
	assert.NotEqual(t, co.calls[0].ID, v.Pending.ID)
}

func TestPaymentSuccessBooksSlot(t *testing.T) {
	co := &stubCheckout{receipt: &checkout.Receipt{BookingID: "bk-9", Message: "Booked!"}}
	m, _ := newTestManager(t, newStubFetcher(result(slotA1)), co)
	v := openConfirmed(t, m)
	requestID := v.Pending.ID

	v, receipt, err := m.Pay(context.Background(), testAuth, v.ID, checkout.CardInput{CardholderName: "Ada", Token: "tok_visa"})
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, requestID, receipt.RequestID)
	assert.Equal(t, "booked", v.Phase)
	require.NotNil(t, v.Booking)
	assert.Equal(t, "bk-9", v.Booking.BookingID)
	assert.Equal(t, "2024-06-10", v.Booking.LocalDate)
	assert.Equal(t, "09:00", v.Booking.LocalStart)
	assert.Equal(t, "10:00", v.Booking.LocalEnd)

	_, _, err = m.Pay(context.Background(), testAuth, v.ID, checkout.CardInput{CardholderName: "Ada", Token: "tok_visa"})
	assert.ErrorIs(t, err, ErrNotConfirmed)
}

func TestPayRequiresConfirmation(t *testing.T) {
	co := &stubCheckout{receipt: &checkout.Receipt{}}
	m, _ := newTestManager(t, newStubFetcher(result(slotA1)), co)
	v, err := m.Open(context.Background(), testAuth, "p-1", "plumbing")
	require.NoError(t, err)

	_, _, err = m.Pay(context.Background(), testAuth, v.ID, checkout.CardInput{})
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.Empty(t, co.calls)
}

func TestMutationsBlockedWhilePaymentInFlight(t *testing.T) {
	co := &stubCheckout{receipt: &checkout.Receipt{BookingID: "bk-1"}, block: make(chan struct{})}
	f := newStubFetcher(result(slotA1))
	m, store := newTestManager(t, f, co)
	v := openConfirmed(t, m)
	<-f.started

	paid := make(chan error, 1)
	go func() {
		_, _, err := m.Pay(context.Background(), testAuth, v.ID, checkout.CardInput{CardholderName: "Ada", Token: "tok_visa"})
		paid <- err
	}()
	require.Eventually(t, func() bool {
		snap, err := store.Get(context.Background(), v.ID)
		return err == nil && snap.PaymentRequestID != ""
	}, time.Second, 5*time.Millisecond)

	_, err := m.Reset(context.Background(), testAuth, v.ID)
	assert.ErrorIs(t, err, ErrPaymentInProgress)
	_, err = m.Refresh(context.Background(), testAuth, v.ID)
	assert.ErrorIs(t, err, ErrPaymentInProgress)
	_, _, err = m.Pay(context.Background(), testAuth, v.ID, checkout.CardInput{})
	assert.ErrorIs(t, err, ErrPaymentInProgress)

	close(co.block)
	require.NoError(t, <-paid)

	got, err := m.Get(context.Background(), testAuth, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "booked", got.Phase)
	assert.False(t, got.PaymentInFlight)
}

func TestSessionsAreScopedToTheirOwner(t *testing.T) {
	m, _ := newTestManager(t, newStubFetcher(result(slotA1)), &stubCheckout{})
	v, err := m.Open(context.Background(), testAuth, "p-1", "plumbing")
	require.NoError(t, err)

	other := auth.Context{Token: "tok-other", UserID: "user-2", Verified: true}
	_, err = m.Get(context.Background(), other, v.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.SelectSlot(context.Background(), other, v.ID, "a1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Close(context.Background(), other, v.ID), ErrNotFound)

	_, err = m.Get(context.Background(), auth.Context{}, v.ID)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	_, err = m.Get(context.Background(), testAuth, v.ID)
	assert.NoError(t, err)
}

func TestOwnerKeyFallsBackToTokenHash(t *testing.T) {
	assert.Equal(t, "user:u-1", ownerKey(auth.Context{Token: "x", UserID: "u-1", Verified: true}))
	assert.Equal(t, ownerKey(auth.Context{Token: "x"}), ownerKey(auth.Context{Token: "x", UserID: "u-1"}))
	k1 := ownerKey(auth.Context{Token: "opaque-1"})
	k2 := ownerKey(auth.Context{Token: "opaque-2"})
	assert.NotEqual(t, k1, k2)
	assert.NotContains(t, k1, "opaque-1")
}

func TestUnverifiedClaimsCannotReachAnotherUsersSession(t *testing.T) {
	m, _ := newTestManager(t, newStubFetcher(result(slotA1)), &stubCheckout{})
	v, err := m.Open(context.Background(), testAuth, "p-1", "plumbing")
	require.NoError(t, err)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{UserID: testAuth.UserID}).
		SignedString([]byte("attacker-key"))
	require.NoError(t, err)
	attacker, err := auth.NewClaimsReader("").Read(forged)
	require.NoError(t, err)
	require.Equal(t, testAuth.UserID, attacker.UserID)
	require.False(t, attacker.Verified)

	_, err = m.Get(context.Background(), attacker, v.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.SelectSlot(context.Background(), attacker, v.ID, "a1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Close(context.Background(), attacker, v.ID), ErrNotFound)

	got, err := m.Get(context.Background(), testAuth, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
}

type staticFetcher struct{ slots []booking.TimeSlot }

func (f staticFetcher) Fetch(context.Context, auth.Context, string, string) (*availability.Result, error) {
	return &availability.Result{Slots: booking.NewCollection(f.slots), FetchedAt: testNow}, nil
}

func liveGauge(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "urbanassist_booking_sessions_open" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("sessions gauge not registered")
	return 0
}

func TestIdleSessionsArePrunedFromMemory(t *testing.T) {
	clock := testNow
	now := func() time.Time { return clock }
	store := NewMemoryStore(time.Minute)
	store.now = now
	reg := prometheus.NewRegistry()
	m := NewManager(store, staticFetcher{slots: []booking.TimeSlot{slotA1}}, &stubCheckout{}, time.UTC, logging.Discard()).
		WithClock(now).
		WithMetrics(metrics.NewBookingMetrics(reg)).
		WithIdleTTL(time.Minute)

	var ids []string
	for i := 0; i < 50; i++ {
		v, err := m.Open(context.Background(), testAuth, "p-1", "plumbing")
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}
	require.Len(t, m.live, 50)
	assert.Equal(t, float64(50), liveGauge(t, reg))

	keep := ids[len(ids)-1]
	clock = clock.Add(30 * time.Second)
	_, err := m.Refresh(context.Background(), testAuth, keep)
	require.NoError(t, err)

	clock = clock.Add(40 * time.Second)
	_, err = m.Get(context.Background(), testAuth, keep)
	require.NoError(t, err)
	assert.Len(t, m.live, 1)
	assert.Equal(t, float64(1), liveGauge(t, reg))

	_, err = m.Get(context.Background(), testAuth, ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, m.live, 1)
	assert.Equal(t, float64(1), liveGauge(t, reg))
}

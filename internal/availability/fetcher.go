// Package availability loads a provider's open windows from the marketplace
// backend and turns them into a booking.Collection.
package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/urban-assist/internal/auth"
	"github.com/wolfman30/urban-assist/internal/booking"
	"github.com/wolfman30/urban-assist/internal/marketplace"
	"github.com/wolfman30/urban-assist/internal/observability/metrics"
	"github.com/wolfman30/urban-assist/pkg/logging"
)

// FetchFailedMessage is shown to the user when availability cannot be loaded.
const FetchFailedMessage = "Failed to load availabilities. Please try again later."

var (
	// ErrFetchFailed matches every *FetchError.
	ErrFetchFailed = errors.New("availability: fetch failed")
	// ErrMissingRouting is wrapped when the provider id or service is absent.
	ErrMissingRouting = errors.New("availability: provider id and service are required")
)

// FetchError carries the user-facing message alongside the underlying cause.
type FetchError struct {
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return "availability: " + e.Message
	}
	return fmt.Sprintf("availability: %s: %v", e.Message, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// Source is the backend read the fetcher depends on.
type Source interface {
	ListAvailabilities(ctx context.Context, a auth.Context, providerID, service string) ([]marketplace.AvailabilityRecord, error)
}

// Result is one successful fetch.
type Result struct {
	Slots     booking.Collection
	Skipped   int
	FetchedAt time.Time
}

// Fetcher reads and normalizes availability for one provider and service.
type Fetcher struct {
	source  Source
	loc     *time.Location
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewFetcher builds a fetcher that renders local fields in loc.
func NewFetcher(source Source, loc *time.Location, logger *logging.Logger) *Fetcher {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Fetcher{
		source: source,
		loc:    loc,
		logger: logger,
		tracer: otel.Tracer("urbanassist.internal.availability"),
		now:    time.Now,
	}
}

// WithMetrics attaches booking metrics.
func (f *Fetcher) WithMetrics(m *metrics.BookingMetrics) *Fetcher {
	f.metrics = m
	return f
}

// Location is the display zone used for Date, StartTime and EndTime.
func (f *Fetcher) Location() *time.Location { return f.loc }

// Fetch issues one availability read. Any failure yields a *FetchError with
// FetchFailedMessage; the caller keeps whatever it loaded before.
func (f *Fetcher) Fetch(ctx context.Context, a auth.Context, providerID, service string) (*Result, error) {
	ctx, span := f.tracer.Start(ctx, "availability.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("urbanassist.provider_id", providerID),
		attribute.String("urbanassist.service", service),
	)

	if strings.TrimSpace(providerID) == "" || strings.TrimSpace(service) == "" {
		span.RecordError(ErrMissingRouting)
		return nil, &FetchError{Message: FetchFailedMessage, Err: ErrMissingRouting}
	}

	started := f.now()
	records, err := f.source.ListAvailabilities(ctx, a, providerID, service)
	elapsed := f.now().Sub(started).Seconds()
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, context.Canceled) {
			f.logger.Warn("availability fetch failed", "provider_id", providerID, "service", service, "error", err)
		}
		f.metrics.ObserveFetch("failed", elapsed)
		return nil, &FetchError{Message: FetchFailedMessage, Err: err}
	}

	slots, skipped := Normalize(records, providerID, service, f.loc)
	if skipped > 0 {
		f.logger.Warn("dropped malformed availability records", "provider_id", providerID, "skipped", skipped, "received", len(records))
	}
	span.SetAttributes(
		attribute.Int("urbanassist.slots", slots.Len()),
		attribute.Int("urbanassist.skipped", skipped),
	)
	f.metrics.ObserveFetch("ok", elapsed)
	f.metrics.ObserveSkipped(skipped)

	return &Result{Slots: slots, Skipped: skipped, FetchedAt: f.now().UTC()}, nil
}

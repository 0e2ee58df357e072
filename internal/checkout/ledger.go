package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Attempt is one row of the payment attempt ledger. It never holds card data.
type Attempt struct {
	ID              uuid.UUID
	RequestID       string
	UserID          string
	ProviderID      string
	Service         string
	SlotID          string
	SourceStart     string
	SourceEnd       string
	Amount          float64
	Currency        string
	PaymentMethodID string
	Outcome         string
	Category        Category
	Message         string
	CreatedAt       time.Time
}

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Recorder persists checkout attempts.
type Recorder interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLedger appends attempts to the checkout_attempts table.
type PostgresLedger struct {
	pool execer
}

// NewPostgresLedger accepts a *pgxpool.Pool or anything with the same Exec.
func NewPostgresLedger(pool execer) *PostgresLedger {
	if pool == nil {
		panic("checkout: ledger pool cannot be nil")
	}
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) RecordAttempt(ctx context.Context, a Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO checkout_attempts (
			id, request_id, user_id, provider_id, service, slot_id,
			source_start, source_end, amount, currency, payment_method_id,
			outcome, category, message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := l.pool.Exec(ctx, query,
		a.ID, a.RequestID, a.UserID, a.ProviderID, a.Service, a.SlotID,
		a.SourceStart, a.SourceEnd, a.Amount, a.Currency, nullIfEmpty(a.PaymentMethodID),
		a.Outcome, nullIfEmpty(string(a.Category)), nullIfEmpty(RedactPAN(a.Message)), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("checkout: record attempt: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

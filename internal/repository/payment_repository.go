package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contest-core/internal/domain"
	"contest-core/pkg/database"

	"github.com/jackc/pgx/v5"
)

const intentColumns = `id, voter, contest_id, entry_id, package_id, package_price, package_currency,
		       package_credits, order_ref, status, COALESCE(capture_id, ''), COALESCE(failure_reason, ''),
		       capture_claimed_at, late_capture_at, expires_at, created_at, updated_at`

type PostgresPaymentRepository struct {
	db *database.PostgresDB
}

func NewPaymentRepository(db *database.PostgresDB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

func scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	var p domain.PaymentIntent
	var status string
	err := row.Scan(
		&p.ID,
		&p.Voter,
		&p.ContestID,
		&p.EntryID,
		&p.Package.ID,
		&p.Package.Price,
		&p.Package.Currency,
		&p.Package.Credits,
		&p.OrderRef,
		&status,
		&p.CaptureID,
		&p.FailureReason,
		&p.CaptureClaimedAt,
		&p.LateCaptureAt,
		&p.ExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

func collectIntents(rows pgx.Rows) ([]domain.PaymentIntent, error) {
	defer rows.Close()
	intents := make([]domain.PaymentIntent, 0)
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment intent: %w", err)
		}
		intents = append(intents, *intent)
	}
	return intents, rows.Err()
}

// Create inserts a new payment intent
func (r *PostgresPaymentRepository) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO payment_intents (
			id, voter, contest_id, entry_id, package_id, package_price, package_currency,
			package_credits, order_ref, status, expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		intent.ID,
		intent.Voter,
		intent.ContestID,
		intent.EntryID,
		intent.Package.ID,
		intent.Package.Price,
		intent.Package.Currency,
		intent.Package.Credits,
		intent.OrderRef,
		string(intent.Status),
		intent.ExpiresAt,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment intent: %w", err)
	}
	return nil
}

// GetByOrderRef gets a payment intent by its provider order reference
func (r *PostgresPaymentRepository) GetByOrderRef(ctx context.Context, orderRef string) (*domain.PaymentIntent, error) {
	intent, err := scanIntent(r.db.Pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE order_ref = $1`, orderRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return intent, nil
}

// ClaimCapture is a compare-and-set on capture_claimed_at
func (r *PostgresPaymentRepository) ClaimCapture(ctx context.Context, orderRef string, now time.Time, staleAfter time.Duration) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE payment_intents
		SET capture_claimed_at = $2, updated_at = $2
		WHERE order_ref = $1 AND status = 'created' AND expires_at > $2
		  AND (capture_claimed_at IS NULL OR capture_claimed_at < $3)
	`, orderRef, now, now.Add(-staleAfter))
	if err != nil {
		return false, fmt.Errorf("failed to claim capture: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	existing, err := r.GetByOrderRef(ctx, orderRef)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, domain.ErrPaymentNotFound
	}
	return false, nil
}

// ReleaseClaim clears the in-flight marker of a still-created intent
func (r *PostgresPaymentRepository) ReleaseClaim(ctx context.Context, orderRef string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE payment_intents SET capture_claimed_at = NULL
		WHERE order_ref = $1 AND status = 'created'
	`, orderRef)
	if err != nil {
		return fmt.Errorf("failed to release capture claim: %w", err)
	}
	return nil
}

// Complete moves a created intent to a terminal status. An already terminal
// intent is returned unchanged.
func (r *PostgresPaymentRepository) Complete(ctx context.Context, orderRef string, status domain.PaymentStatus, captureID, reason string, now time.Time) (*domain.PaymentIntent, error) {
	intent, err := scanIntent(r.db.Pool.QueryRow(ctx, `
		UPDATE payment_intents
		SET status = $2, capture_id = NULLIF($3, ''), failure_reason = NULLIF($4, ''),
		    capture_claimed_at = NULL, updated_at = $5
		WHERE order_ref = $1 AND status = 'created'
		RETURNING `+intentColumns,
		orderRef, string(status), captureID, reason, now,
	))
	if err == nil {
		return intent, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to complete payment intent: %w", err)
	}

	existing, err := r.GetByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return existing, nil
}

// MarkLateCapture stamps a capture attempt on an expired intent
func (r *PostgresPaymentRepository) MarkLateCapture(ctx context.Context, orderRef string, now time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE payment_intents SET late_capture_at = $2, updated_at = $2
		WHERE order_ref = $1
	`, orderRef, now)
	if err != nil {
		return fmt.Errorf("failed to mark late capture: %w", err)
	}
	return nil
}

// ExpireStale expires unclaimed created intents past expires_at
func (r *PostgresPaymentRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE payment_intents SET status = 'expired', updated_at = $1
		WHERE status = 'created' AND capture_claimed_at IS NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire payment intents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByStatus lists intents with a status, oldest first
func (r *PostgresPaymentRepository) ListByStatus(ctx context.Context, status domain.PaymentStatus) ([]domain.PaymentIntent, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE status = $1
		ORDER BY created_at ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list payment intents: %w", err)
	}
	return collectIntents(rows)
}

// ListClaimedBefore lists created intents whose capture claim predates cutoff
func (r *PostgresPaymentRepository) ListClaimedBefore(ctx context.Context, cutoff time.Time) ([]domain.PaymentIntent, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE status = 'created' AND capture_claimed_at IS NOT NULL AND capture_claimed_at < $1
		ORDER BY created_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list claimed payment intents: %w", err)
	}
	return collectIntents(rows)
}

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

const ledgerColumns = `id, contest_id, entry_id, voter, amount, source, COALESCE(payment_ref, ''), created_at`

// versionQuery counts the writes that can change a ranking. Records are
// append-only and approvals are final, so the count only grows.
const versionQuery = `
	SELECT (SELECT COUNT(*) FROM ledger_records WHERE contest_id = $1)
	     + (SELECT COUNT(*) FROM entries WHERE contest_id = $1 AND moderation_state = 'approved')`

type PostgresLedgerRepository struct {
	db *database.PostgresDB
}

func NewLedgerRepository(db *database.PostgresDB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

func scanLedgerRecord(row pgx.Row) (*domain.LedgerRecord, error) {
	var rec domain.LedgerRecord
	var source string
	err := row.Scan(
		&rec.ID,
		&rec.ContestID,
		&rec.EntryID,
		&rec.Voter,
		&rec.Amount,
		&source,
		&rec.PaymentRef,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Source = domain.CreditSource(source)
	return &rec, nil
}

func nullableRef(ref string) *string {
	if ref == "" {
		return nil
	}
	return &ref
}

// Append writes one ledger record. The contest row is held FOR SHARE so a
// concurrent transition to completed either waits for this commit or is
// observed by the guard; the entry row is held FOR UPDATE so the free-vote
// cool-down check and the insert are atomic per entry. Paid records rely on
// the unique payment_ref index via ON CONFLICT DO NOTHING.
func (r *PostgresLedgerRepository) Append(ctx context.Context, record *domain.LedgerRecord, guard domain.CreditGuard) (*domain.LedgerRecord, bool, error) {
	if record.Source == domain.SourcePaid {
		existing, err := r.GetByPaymentRef(ctx, record.PaymentRef)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	var stored *domain.LedgerRecord
	inserted := false

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		contest, err := scanContest(tx.QueryRow(ctx, `SELECT `+contestColumns+` FROM contests WHERE id = $1 FOR SHARE`, record.ContestID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrContestNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock contest: %w", err)
		}

		entry, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1 AND contest_id = $2 FOR UPDATE`, record.EntryID, record.ContestID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock entry: %w", err)
		}

		state := domain.CreditState{Contest: contest, Entry: entry}
		if record.Source == domain.SourceFree {
			var last *time.Time
			err := tx.QueryRow(ctx, `
				SELECT MAX(created_at) FROM ledger_records
				WHERE entry_id = $1 AND voter = $2 AND source = 'free'
			`, record.EntryID, record.Voter).Scan(&last)
			if err != nil {
				return fmt.Errorf("failed to read last free credit: %w", err)
			}
			state.LastFreeCreditAt = last
		}

		if err := guard(state); err != nil {
			return err
		}

		rec, err := scanLedgerRecord(tx.QueryRow(ctx, `
			INSERT INTO ledger_records (id, contest_id, entry_id, voter, amount, source, payment_ref, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (payment_ref) WHERE payment_ref IS NOT NULL DO NOTHING
			RETURNING `+ledgerColumns,
			record.ID,
			record.ContestID,
			record.EntryID,
			record.Voter,
			record.Amount,
			string(record.Source),
			nullableRef(record.PaymentRef),
			record.CreatedAt,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race on payment_ref; the winner has committed by now.
			existing, err := scanLedgerRecord(tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledger_records WHERE payment_ref = $1`, record.PaymentRef))
			if err != nil {
				return fmt.Errorf("failed to read conflicting ledger record: %w", err)
			}
			stored = existing
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to append ledger record: %w", err)
		}
		stored = rec
		inserted = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, inserted, nil
}

// GetByPaymentRef gets the ledger record for a payment reference
func (r *PostgresLedgerRepository) GetByPaymentRef(ctx context.Context, paymentRef string) (*domain.LedgerRecord, error) {
	rec, err := scanLedgerRecord(r.db.Pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledger_records WHERE payment_ref = $1`, paymentRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger record: %w", err)
	}
	return rec, nil
}

// EntryTotal sums the credits of one entry
func (r *PostgresLedgerRepository) EntryTotal(ctx context.Context, entryID string) (int64, error) {
	var total int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_records WHERE entry_id = $1`, entryID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum entry credits: %w", err)
	}
	return total, nil
}

// Version returns the contest's ledger version
func (r *PostgresLedgerRepository) Version(ctx context.Context, contestID string) (int64, error) {
	var version int64
	if err := r.db.Pool.QueryRow(ctx, versionQuery, contestID).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read ledger version: %w", err)
	}
	return version, nil
}

// ContestTotals reads the version and every approved entry with its total
// inside one repeatable-read transaction
func (r *PostgresLedgerRepository) ContestTotals(ctx context.Context, contestID string) ([]domain.EntryTotal, int64, error) {
	var totals []domain.EntryTotal
	var version int64

	err := r.db.WithReadTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, versionQuery, contestID).Scan(&version); err != nil {
			return fmt.Errorf("failed to read ledger version: %w", err)
		}

		var err error
		totals, err = queryContestTotals(ctx, tx, contestID)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return totals, version, nil
}

func queryContestTotals(ctx context.Context, tx pgx.Tx, contestID string) ([]domain.EntryTotal, error) {
	rows, err := tx.Query(ctx, `
		SELECT e.id, e.participant_id, e.title, e.created_at, COALESCE(SUM(l.amount), 0)
		FROM entries e
		LEFT JOIN ledger_records l ON l.entry_id = e.id
		WHERE e.contest_id = $1 AND e.moderation_state = 'approved'
		GROUP BY e.id
		ORDER BY e.id
	`, contestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get contest totals: %w", err)
	}
	defer rows.Close()

	totals := make([]domain.EntryTotal, 0)
	for rows.Next() {
		var t domain.EntryTotal
		if err := rows.Scan(&t.EntryID, &t.ParticipantID, &t.Title, &t.SubmittedAt, &t.Total); err != nil {
			return nil, fmt.Errorf("failed to scan entry total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// ListByEntry lists the ledger records of an entry, oldest first
func (r *PostgresLedgerRepository) ListByEntry(ctx context.Context, entryID string) ([]domain.LedgerRecord, error) {
	rows, err := r.db.ReadPool.Query(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_records
		WHERE entry_id = $1
		ORDER BY created_at ASC, id ASC
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.LedgerRecord, 0)
	for rows.Next() {
		rec, err := scanLedgerRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

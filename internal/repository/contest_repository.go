package repository

import (
	"context"
	"errors"
	"fmt"

	"contest-core/internal/domain"
	"contest-core/pkg/database"

	"github.com/jackc/pgx/v5"
)

const contestColumns = `id, title, description, start_at, end_at, prize_amount, max_participants,
		       status, status_forced, frozen_at, archived_at, created_at, updated_at`

type PostgresContestRepository struct {
	db *database.PostgresDB
}

func NewContestRepository(db *database.PostgresDB) *PostgresContestRepository {
	return &PostgresContestRepository{db: db}
}

// NewPostgresRepositories wires every Postgres-backed repository
func NewPostgresRepositories(db *database.PostgresDB) *Repositories {
	return &Repositories{
		Contest: NewContestRepository(db),
		Entry:   NewEntryRepository(db),
		Ledger:  NewLedgerRepository(db),
		Payment: NewPaymentRepository(db),
	}
}

func scanContest(row pgx.Row) (*domain.Contest, error) {
	var c domain.Contest
	var status string
	err := row.Scan(
		&c.ID,
		&c.Title,
		&c.Description,
		&c.StartAt,
		&c.EndAt,
		&c.PrizeAmount,
		&c.MaxParticipants,
		&status,
		&c.StatusForced,
		&c.FrozenAt,
		&c.ArchivedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = domain.ContestStatus(status)
	return &c, nil
}

// Create inserts a new contest
func (r *PostgresContestRepository) Create(ctx context.Context, contest *domain.Contest) error {
	query := `
		INSERT INTO contests (
			id, title, description, start_at, end_at, prize_amount, max_participants,
			status, status_forced, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		contest.ID,
		contest.Title,
		contest.Description,
		contest.StartAt,
		contest.EndAt,
		contest.PrizeAmount,
		contest.MaxParticipants,
		string(contest.Status),
		contest.StatusForced,
		contest.CreatedAt,
		contest.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contest: %w", err)
	}
	return nil
}

// GetByID gets a contest by ID. It reads the primary: ranking and purchase
// checks compare the contest's status with ledger state read there too.
func (r *PostgresContestRepository) GetByID(ctx context.Context, id string) (*domain.Contest, error) {
	query := `SELECT ` + contestColumns + ` FROM contests WHERE id = $1`

	contest, err := scanContest(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contest: %w", err)
	}
	return contest, nil
}

// List gets contests ordered by start time
func (r *PostgresContestRepository) List(ctx context.Context, includeArchived bool) ([]domain.Contest, error) {
	query := `SELECT ` + contestColumns + ` FROM contests
		WHERE ($1 OR archived_at IS NULL)
		ORDER BY start_at ASC, id ASC`

	rows, err := r.db.ReadPool.Query(ctx, query, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("failed to list contests: %w", err)
	}
	defer rows.Close()

	contests := make([]domain.Contest, 0)
	for rows.Next() {
		contest, err := scanContest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contest: %w", err)
		}
		contests = append(contests, *contest)
	}
	return contests, rows.Err()
}

// Transition locks the contest row FOR UPDATE, which waits for every
// in-flight credit (they hold FOR SHARE) and blocks new ones until commit.
func (r *PostgresContestRepository) Transition(ctx context.Context, id string, fn func(contest *domain.Contest, hasLedger bool) error) (*domain.Contest, error) {
	var result *domain.Contest

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		contest, err := scanContest(tx.QueryRow(ctx, `SELECT `+contestColumns+` FROM contests WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrContestNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock contest: %w", err)
		}

		var hasLedger bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_records WHERE contest_id = $1)`, id).Scan(&hasLedger); err != nil {
			return fmt.Errorf("failed to check ledger: %w", err)
		}

		if err := fn(contest, hasLedger); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE contests
			SET status = $2, status_forced = $3, start_at = $4, end_at = $5,
			    frozen_at = $6, archived_at = $7, updated_at = $8
			WHERE id = $1
		`,
			contest.ID,
			string(contest.Status),
			contest.StatusForced,
			contest.StartAt,
			contest.EndAt,
			contest.FrozenAt,
			contest.ArchivedAt,
			contest.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update contest: %w", err)
		}
		result = contest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a contest without ledger records
func (r *PostgresContestRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var hasLedger bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM ledger_records WHERE contest_id = c.id)
			FROM contests c WHERE c.id = $1 FOR UPDATE
		`, id).Scan(&hasLedger)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrContestNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock contest: %w", err)
		}
		if hasLedger {
			return domain.Invalid("contest has ledger records and can only be archived")
		}

		if _, err := tx.Exec(ctx, `DELETE FROM payment_intents WHERE contest_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete payment intents: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM contests WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete contest: %w", err)
		}
		return nil
	})
}

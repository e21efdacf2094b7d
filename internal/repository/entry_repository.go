package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contest-core/internal/domain"
	"contest-core/pkg/database"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const entryColumns = `id, contest_id, participant_id, title, description, media_ref,
		       moderation_state, COALESCE(moderated_by, ''), moderated_at, created_at`

// uniqueViolation is the Postgres SQLSTATE for unique constraint violations
const uniqueViolation = "23505"

type PostgresEntryRepository struct {
	db *database.PostgresDB
}

func NewEntryRepository(db *database.PostgresDB) *PostgresEntryRepository {
	return &PostgresEntryRepository{db: db}
}

func scanEntry(row pgx.Row) (*domain.Entry, error) {
	var e domain.Entry
	var state string
	err := row.Scan(
		&e.ID,
		&e.ContestID,
		&e.ParticipantID,
		&e.Title,
		&e.Description,
		&e.MediaRef,
		&state,
		&e.ModeratedBy,
		&e.ModeratedAt,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ModerationState = domain.ModerationState(state)
	return &e, nil
}

// Submit inserts a pending entry while holding the contest row, so the
// participant cap is checked against a stable count
func (r *PostgresEntryRepository) Submit(ctx context.Context, entry *domain.Entry, check func(contest *domain.Contest, activeEntries int) error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		contest, err := scanContest(tx.QueryRow(ctx, `SELECT `+contestColumns+` FROM contests WHERE id = $1 FOR UPDATE`, entry.ContestID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrContestNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock contest: %w", err)
		}

		var active int
		err = tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM entries
			WHERE contest_id = $1 AND moderation_state <> 'rejected'
		`, entry.ContestID).Scan(&active)
		if err != nil {
			return fmt.Errorf("failed to count entries: %w", err)
		}

		if err := check(contest, active); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO entries (
				id, contest_id, participant_id, title, description, media_ref,
				moderation_state, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			entry.ID,
			entry.ContestID,
			entry.ParticipantID,
			entry.Title,
			entry.Description,
			entry.MediaRef,
			string(entry.ModerationState),
			entry.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return domain.ErrDuplicateEntry
			}
			return fmt.Errorf("failed to create entry: %w", err)
		}
		return nil
	})
}

// GetByID gets an entry by ID
func (r *PostgresEntryRepository) GetByID(ctx context.Context, id string) (*domain.Entry, error) {
	entry, err := scanEntry(r.db.Pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return entry, nil
}

// ListByContest lists entries of a contest in submission order
func (r *PostgresEntryRepository) ListByContest(ctx context.Context, contestID string, state *domain.ModerationState) ([]domain.Entry, error) {
	var filter *string
	if state != nil {
		s := string(*state)
		filter = &s
	}

	rows, err := r.db.ReadPool.Query(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE contest_id = $1 AND ($2::text IS NULL OR moderation_state = $2)
		ORDER BY created_at ASC, id ASC
	`, contestID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Moderate updates a pending entry. The contest row is held FOR SHARE like
// a credit, so an approval cannot commit across a transition to completed.
func (r *PostgresEntryRepository) Moderate(ctx context.Context, id string, state domain.ModerationState, moderator string, at time.Time, check func(contest *domain.Contest) error) (*domain.Entry, error) {
	var moderated *domain.Entry

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var contestID string
		err := tx.QueryRow(ctx, `SELECT contest_id FROM entries WHERE id = $1`, id).Scan(&contestID)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get entry: %w", err)
		}

		contest, err := scanContest(tx.QueryRow(ctx, `SELECT `+contestColumns+` FROM contests WHERE id = $1 FOR SHARE`, contestID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrContestNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock contest: %w", err)
		}

		entry, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return fmt.Errorf("failed to lock entry: %w", err)
		}
		if entry.ModerationState != domain.ModerationPending {
			return domain.ErrAlreadyModerated
		}
		if err := check(contest); err != nil {
			return err
		}

		moderated, err = scanEntry(tx.QueryRow(ctx, `
			UPDATE entries
			SET moderation_state = $2, moderated_by = $3, moderated_at = $4
			WHERE id = $1
			RETURNING `+entryColumns,
			id, string(state), moderator, at,
		))
		if err != nil {
			return fmt.Errorf("failed to moderate entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moderated, nil
}

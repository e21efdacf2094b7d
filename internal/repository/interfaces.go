package repository

import (
	"context"
	"time"

	"contest-core/internal/domain"
)

// ContestRepository defines the interface for contest data operations.
// Getters return nil, nil when the contest does not exist.
type ContestRepository interface {
	// Create inserts a new contest
	Create(ctx context.Context, contest *domain.Contest) error

	// GetByID retrieves a contest by ID
	GetByID(ctx context.Context, id string) (*domain.Contest, error)

	// List returns contests ordered by start time, archived ones only when asked
	List(ctx context.Context, includeArchived bool) ([]domain.Contest, error)

	// Transition runs fn with exclusive access to the contest row and
	// persists the mutated contest if fn succeeds. No credit can commit
	// while fn runs. hasLedger reports whether the contest has ledger records.
	Transition(ctx context.Context, id string, fn func(contest *domain.Contest, hasLedger bool) error) (*domain.Contest, error)

	// Delete physically removes a contest; it fails when ledger records exist
	Delete(ctx context.Context, id string) error
}

// EntryRepository defines the interface for entry data operations.
type EntryRepository interface {
	// Submit inserts a pending entry after check approves the contest. The
	// store enforces one non-rejected entry per participant per contest and
	// returns domain.ErrDuplicateEntry otherwise. activeEntries is the count
	// of non-rejected entries in the contest.
	Submit(ctx context.Context, entry *domain.Entry, check func(contest *domain.Contest, activeEntries int) error) error

	// GetByID retrieves an entry by ID
	GetByID(ctx context.Context, id string) (*domain.Entry, error)

	// ListByContest lists entries of a contest, optionally filtered by state
	ListByContest(ctx context.Context, contestID string, state *domain.ModerationState) ([]domain.Entry, error)

	// Moderate moves a pending entry to state after check accepts the
	// entry's contest, observed under the same lock credits take. It returns
	// domain.ErrAlreadyModerated when the entry is no longer pending.
	Moderate(ctx context.Context, id string, state domain.ModerationState, moderator string, at time.Time, check func(contest *domain.Contest) error) (*domain.Entry, error)
}

// LedgerRepository defines the interface for the append-only vote ledger.
type LedgerRepository interface {
	// Append writes record if guard accepts the state observed under the
	// contest's lock. Paid records are insert-if-absent on PaymentRef: when
	// the reference exists the stored record is returned with inserted=false.
	Append(ctx context.Context, record *domain.LedgerRecord, guard domain.CreditGuard) (stored *domain.LedgerRecord, inserted bool, err error)

	// GetByPaymentRef retrieves the record carrying a payment reference
	GetByPaymentRef(ctx context.Context, paymentRef string) (*domain.LedgerRecord, error)

	// EntryTotal sums the credits of one entry
	EntryTotal(ctx context.Context, entryID string) (int64, error)

	// Version returns the contest's ledger version. It grows with every
	// appended record and every approval, in the same commit as the write,
	// so equal versions always mean equal rankings.
	Version(ctx context.Context, contestID string) (int64, error)

	// ContestTotals returns every approved entry of a contest with its
	// total and the version they reflect, read as one consistent snapshot
	ContestTotals(ctx context.Context, contestID string) ([]domain.EntryTotal, int64, error)

	// ListByEntry returns the records of an entry, oldest first
	ListByEntry(ctx context.Context, entryID string) ([]domain.LedgerRecord, error)
}

// PaymentRepository defines the interface for payment intent operations.
type PaymentRepository interface {
	// Create inserts a new intent
	Create(ctx context.Context, intent *domain.PaymentIntent) error

	// GetByOrderRef retrieves an intent by its external order reference
	GetByOrderRef(ctx context.Context, orderRef string) (*domain.PaymentIntent, error)

	// ClaimCapture atomically marks a created, unexpired, unclaimed (or
	// stale-claimed) intent as being captured. It returns false when another
	// caller holds the claim, the intent has expired or is no longer created.
	ClaimCapture(ctx context.Context, orderRef string, now time.Time, staleAfter time.Duration) (bool, error)

	// ReleaseClaim clears an in-flight claim so a later retry can capture
	ReleaseClaim(ctx context.Context, orderRef string) error

	// Complete moves a created intent to a terminal status
	Complete(ctx context.Context, orderRef string, status domain.PaymentStatus, captureID, reason string, now time.Time) (*domain.PaymentIntent, error)

	// MarkLateCapture records a capture attempt against an expired intent
	MarkLateCapture(ctx context.Context, orderRef string, now time.Time) error

	// ExpireStale moves unclaimed created intents past their expiry to expired
	ExpireStale(ctx context.Context, now time.Time) (int64, error)

	// ListByStatus lists intents with the given status
	ListByStatus(ctx context.Context, status domain.PaymentStatus) ([]domain.PaymentIntent, error)

	// ListClaimedBefore lists created intents whose claim is older than cutoff
	ListClaimedBefore(ctx context.Context, cutoff time.Time) ([]domain.PaymentIntent, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Contest ContestRepository
	Entry   EntryRepository
	Ledger  LedgerRepository
	Payment PaymentRepository
}

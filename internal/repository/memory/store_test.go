package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"contest-core/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*Store, *domain.Contest, *domain.Entry) {
	t.Helper()
	ctx := context.Background()
	s := NewStore()
	repos := s.Repositories()

	contest := &domain.Contest{
		ID:      "c1",
		Title:   "Contest",
		StartAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
		Status:  domain.ContestActive,
	}
	require.NoError(t, repos.Contest.Create(ctx, contest))

	entry := &domain.Entry{
		ID:              "e1",
		ContestID:       "c1",
		ParticipantID:   "alice",
		ModerationState: domain.ModerationApproved,
		CreatedAt:       now,
	}
	require.NoError(t, repos.Entry.Submit(ctx, entry, func(*domain.Contest, int) error { return nil }))
	return s, contest, entry
}

func allow(domain.CreditState) error { return nil }

func anyContest(*domain.Contest) error { return nil }

func paid(ref string, amount int64) *domain.LedgerRecord {
	return &domain.LedgerRecord{
		ID:         "r-" + ref,
		ContestID:  "c1",
		EntryID:    "e1",
		Voter:      "bob",
		Amount:     amount,
		Source:     domain.SourcePaid,
		PaymentRef: ref,
		CreatedAt:  now,
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	s, _, _ := seed(t)
	repos := s.Repositories()
	ctx := context.Background()

	c, err := repos.Contest.GetByID(ctx, "c1")
	require.NoError(t, err)
	c.Title = "mutated"

	again, err := repos.Contest.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Contest", again.Title)

	missing, err := repos.Contest.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLedger_AppendPaidIsInsertIfAbsent(t *testing.T) {
	s, _, _ := seed(t)
	ledger := s.Repositories().Ledger
	ctx := context.Background()

	first, inserted, err := ledger.Append(ctx, paid("ORDER-1", 10), allow)
	require.NoError(t, err)
	assert.True(t, inserted)

	guardCalled := false
	again, inserted, err := ledger.Append(ctx, paid("ORDER-1", 10), func(domain.CreditState) error {
		guardCalled = true
		return domain.ErrContestClosed
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.False(t, guardCalled)
	assert.Equal(t, first.ID, again.ID)

	total, err := ledger.EntryTotal(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)

	rec, err := ledger.GetByPaymentRef(ctx, "ORDER-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, first.ID, rec.ID)
}

func TestLedger_GuardSeesLastFreeCredit(t *testing.T) {
	s, _, _ := seed(t)
	ledger := s.Repositories().Ledger
	ctx := context.Background()

	free := func(id string, at time.Time) *domain.LedgerRecord {
		return &domain.LedgerRecord{ID: id, ContestID: "c1", EntryID: "e1", Voter: "bob", Amount: 1, Source: domain.SourceFree, CreatedAt: at}
	}

	var seen *time.Time
	capture := func(state domain.CreditState) error {
		seen = state.LastFreeCreditAt
		return nil
	}

	_, _, err := ledger.Append(ctx, free("f1", now), capture)
	require.NoError(t, err)
	assert.Nil(t, seen)

	_, _, err = ledger.Append(ctx, free("f2", now.Add(time.Hour)), capture)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, now, *seen)

	rejected := errors.New("nope")
	_, _, err = ledger.Append(ctx, free("f3", now.Add(2*time.Hour)), func(domain.CreditState) error { return rejected })
	assert.ErrorIs(t, err, rejected)

	records, err := ledger.ListByEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestLedger_ContestTotalsOnlyApproved(t *testing.T) {
	s, _, _ := seed(t)
	repos := s.Repositories()
	ctx := context.Background()

	pending := &domain.Entry{ID: "e2", ContestID: "c1", ParticipantID: "bob", ModerationState: domain.ModerationPending, CreatedAt: now}
	require.NoError(t, repos.Entry.Submit(ctx, pending, func(*domain.Contest, int) error { return nil }))
	_, _, err := repos.Ledger.Append(ctx, paid("ORDER-1", 7), allow)
	require.NoError(t, err)

	totals, version, err := repos.Ledger.ContestTotals(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "e1", totals[0].EntryID)
	assert.Equal(t, int64(7), totals[0].Total)
	assert.Equal(t, int64(1), version)
}

func TestLedger_VersionAdvancesWithWrites(t *testing.T) {
	s := NewStore()
	repos := s.Repositories()
	ctx := context.Background()

	require.NoError(t, repos.Contest.Create(ctx, &domain.Contest{ID: "c1", Status: domain.ContestActive, StartAt: now.Add(-time.Hour), EndAt: now.Add(time.Hour)}))
	for _, id := range []string{"e1", "e2"} {
		require.NoError(t, repos.Entry.Submit(ctx, &domain.Entry{
			ID: id, ContestID: "c1", ParticipantID: "p-" + id, ModerationState: domain.ModerationPending, CreatedAt: now,
		}, func(*domain.Contest, int) error { return nil }))
	}

	version := func() int64 {
		v, err := repos.Ledger.Version(ctx, "c1")
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, int64(0), version())

	_, err := repos.Entry.Moderate(ctx, "e1", domain.ModerationApproved, "mod", now, anyContest)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version())

	// Rejections never reach a ranking
	_, err = repos.Entry.Moderate(ctx, "e2", domain.ModerationRejected, "mod", now, anyContest)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version())

	_, _, err = repos.Ledger.Append(ctx, paid("ORDER-1", 3), allow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version())

	// A replayed payment reference writes nothing
	_, _, err = repos.Ledger.Append(ctx, paid("ORDER-1", 3), allow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version())

	_, _, err = repos.Ledger.Append(ctx, paid("ORDER-2", 3), func(domain.CreditState) error { return domain.ErrContestClosed })
	assert.ErrorIs(t, err, domain.ErrContestClosed)
	assert.Equal(t, int64(2), version())

	_, v, err := repos.Ledger.ContestTotals(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, version(), v)
}

func TestContest_DeleteBlockedByLedger(t *testing.T) {
	s, _, _ := seed(t)
	repos := s.Repositories()
	ctx := context.Background()

	_, _, err := repos.Ledger.Append(ctx, paid("ORDER-1", 1), allow)
	require.NoError(t, err)

	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(repos.Contest.Delete(ctx, "c1")))
	assert.ErrorIs(t, repos.Contest.Delete(ctx, "missing"), domain.ErrContestNotFound)

	_, err = repos.Contest.Transition(ctx, "c1", func(c *domain.Contest, hasLedger bool) error {
		assert.True(t, hasLedger)
		return nil
	})
	require.NoError(t, err)
}

func TestEntry_SubmitDuplicateAndModerate(t *testing.T) {
	s, _, _ := seed(t)
	repos := s.Repositories()
	ctx := context.Background()

	dup := &domain.Entry{ID: "e9", ContestID: "c1", ParticipantID: "alice", ModerationState: domain.ModerationPending, CreatedAt: now}
	err := repos.Entry.Submit(ctx, dup, func(_ *domain.Contest, active int) error {
		assert.Equal(t, 1, active)
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateEntry)

	_, err = repos.Entry.Moderate(ctx, "e1", domain.ModerationRejected, "mod", now, anyContest)
	assert.ErrorIs(t, err, domain.ErrAlreadyModerated)
	_, err = repos.Entry.Moderate(ctx, "e404", domain.ModerationApproved, "mod", now, anyContest)
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)

	pending := &domain.Entry{ID: "e2", ContestID: "c1", ParticipantID: "bob", ModerationState: domain.ModerationPending, CreatedAt: now}
	require.NoError(t, repos.Entry.Submit(ctx, pending, func(*domain.Contest, int) error { return nil }))

	var seen *domain.Contest
	_, err = repos.Entry.Moderate(ctx, "e2", domain.ModerationApproved, "mod", now, func(c *domain.Contest) error {
		seen = c
		return domain.ErrContestClosed
	})
	assert.ErrorIs(t, err, domain.ErrContestClosed)
	require.NotNil(t, seen)
	assert.Equal(t, "c1", seen.ID)

	still, err := repos.Entry.GetByID(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, domain.ModerationPending, still.ModerationState)
}

func TestPayment_ClaimCapture(t *testing.T) {
	s := NewStore()
	payments := s.Repositories().Payment
	ctx := context.Background()

	require.NoError(t, payments.Create(ctx, &domain.PaymentIntent{
		ID:        "i1",
		OrderRef:  "ORDER-1",
		Status:    domain.PaymentCreated,
		ExpiresAt: now.Add(30 * time.Minute),
		CreatedAt: now,
	}))
	assert.Error(t, payments.Create(ctx, &domain.PaymentIntent{ID: "i2", OrderRef: "ORDER-1"}))

	ok, err := payments.ClaimCapture(ctx, "ORDER-1", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = payments.ClaimCapture(ctx, "ORDER-1", now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	stuck, err := payments.ListClaimedBefore(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, stuck, 1)

	// A stale claim can be taken over
	ok, err = payments.ClaimCapture(ctx, "ORDER-1", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Claimed intents are never expired underneath the capture
	n, err := payments.ExpireStale(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	done, err := payments.Complete(ctx, "ORDER-1", domain.PaymentCaptured, "CAP-1", "", now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCaptured, done.Status)
	assert.Nil(t, done.CaptureClaimedAt)

	// Terminal states are final
	again, err := payments.Complete(ctx, "ORDER-1", domain.PaymentFailed, "", "late decline", now.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCaptured, again.Status)

	ok, err = payments.ClaimCapture(ctx, "ORDER-1", now.Add(time.Hour), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = payments.ClaimCapture(ctx, "ORDER-404", now, time.Minute)
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestPayment_ClaimCaptureRefusesExpired(t *testing.T) {
	s := NewStore()
	payments := s.Repositories().Payment
	ctx := context.Background()

	require.NoError(t, payments.Create(ctx, &domain.PaymentIntent{
		ID:        "i1",
		OrderRef:  "ORDER-1",
		Status:    domain.PaymentCreated,
		ExpiresAt: now.Add(10 * time.Minute),
		CreatedAt: now,
	}))

	ok, err := payments.ClaimCapture(ctx, "ORDER-1", now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// The claim is stale, but the intent expired in the meantime
	ok, err = payments.ClaimCapture(ctx, "ORDER-1", now.Add(20*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := payments.ExpireStale(ctx, now.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	stuck, err := payments.ListClaimedBefore(ctx, now.Add(19*time.Minute))
	require.NoError(t, err)
	assert.Len(t, stuck, 1)
}

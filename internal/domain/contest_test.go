package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func windowContest(start, end time.Duration) *Contest {
	return &Contest{
		ID:      "c1",
		StartAt: base.Add(start),
		EndAt:   base.Add(end),
		Status:  ContestUpcoming,
	}
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		current   ContestStatus
		target    ContestStatus
		hasLedger bool
		force     bool
		ok        bool
	}{
		{ContestDraft, ContestUpcoming, false, false, true},
		{ContestDraft, ContestActive, false, false, true},
		{ContestDraft, ContestActive, true, false, false},
		{ContestDraft, ContestCompleted, false, false, false},
		{ContestDraft, ContestCompleted, false, true, true},
		{ContestUpcoming, ContestActive, false, false, true},
		{ContestUpcoming, ContestDraft, false, false, true},
		{ContestUpcoming, ContestDraft, true, false, false},
		{ContestUpcoming, ContestCompleted, false, false, false},
		{ContestUpcoming, ContestCompleted, false, true, true},
		{ContestActive, ContestCompleted, true, false, true},
		{ContestActive, ContestUpcoming, false, false, false},
		{ContestActive, ContestActive, false, false, false},
		{ContestActive, ContestDraft, true, true, false},
		{ContestCompleted, ContestActive, true, true, false},
		{ContestCompleted, ContestDraft, false, true, false},
		{ContestCompleted, ContestCompleted, true, true, false},
	}

	for _, tt := range tests {
		name := string(tt.current) + "->" + string(tt.target)
		t.Run(name, func(t *testing.T) {
			err := CheckTransition(tt.current, tt.target, tt.hasLedger, tt.force)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, KindInvalidTransition, KindOf(err))
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	c := windowContest(time.Hour, 2*time.Hour)

	assert.Equal(t, ContestUpcoming, DeriveStatus(c, base))
	assert.Equal(t, ContestActive, DeriveStatus(c, base.Add(time.Hour)))
	assert.Equal(t, ContestActive, DeriveStatus(c, base.Add(2*time.Hour-time.Nanosecond)))
	assert.Equal(t, ContestCompleted, DeriveStatus(c, base.Add(2*time.Hour)))

	c.Status = ContestDraft
	c.StatusForced = true
	assert.Equal(t, ContestDraft, DeriveStatus(c, base.Add(90*time.Minute)))
}

func TestApplyTransition(t *testing.T) {
	t.Run("early activation pulls start in", func(t *testing.T) {
		c := windowContest(time.Hour, 2*time.Hour)
		require.NoError(t, ApplyTransition(c, ContestActive, base))
		assert.Equal(t, base, c.StartAt)
		assert.Equal(t, ContestActive, DeriveStatus(c, base))
	})

	t.Run("activation after end fails", func(t *testing.T) {
		c := windowContest(-2*time.Hour, -time.Hour)
		assert.ErrorIs(t, ApplyTransition(c, ContestActive, base), ErrInvalidTransition)
	})

	t.Run("upcoming after start fails", func(t *testing.T) {
		c := windowContest(-time.Hour, time.Hour)
		assert.ErrorIs(t, ApplyTransition(c, ContestUpcoming, base), ErrInvalidTransition)
	})

	t.Run("completion freezes", func(t *testing.T) {
		c := windowContest(-time.Hour, time.Hour)
		require.NoError(t, ApplyTransition(c, ContestCompleted, base))
		require.NotNil(t, c.FrozenAt)
		assert.Equal(t, base, *c.FrozenAt)
		assert.Equal(t, ContestCompleted, DeriveStatus(c, base.Add(-24*time.Hour)))
	})

	t.Run("unknown target", func(t *testing.T) {
		c := windowContest(-time.Hour, time.Hour)
		assert.Equal(t, KindInvalidInput, KindOf(ApplyTransition(c, ContestStatus("paused"), base)))
	})
}

func TestCheckCredit(t *testing.T) {
	approved := &Entry{ModerationState: ModerationApproved}
	pending := &Entry{ModerationState: ModerationPending}
	archivedAt := base

	tests := []struct {
		name    string
		contest *Contest
		entry   *Entry
		want    error
	}{
		{"active approved", windowContest(-time.Hour, time.Hour), approved, nil},
		{"active pending", windowContest(-time.Hour, time.Hour), pending, ErrEntryNotApproved},
		{"upcoming approved", windowContest(time.Hour, 2*time.Hour), approved, ErrContestNotActive},
		{"upcoming pending", windowContest(time.Hour, 2*time.Hour), pending, ErrEntryNotApproved},
		{"ended", windowContest(-2*time.Hour, -time.Hour), approved, ErrContestClosed},
		{"archived", &Contest{StartAt: base.Add(-time.Hour), EndAt: base.Add(time.Hour), ArchivedAt: &archivedAt}, approved, ErrContestClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCredit(tt.contest, tt.entry, base)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateContestRequest_Validate(t *testing.T) {
	negative := 0
	valid := CreateContestRequest{Title: "Spring", StartAt: base, EndAt: base.Add(time.Hour)}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.MaxParticipants = &negative
	assert.Equal(t, KindInvalidInput, KindOf(bad.Validate()))

	bad = valid
	bad.EndAt = time.Time{}
	assert.Equal(t, KindInvalidInput, KindOf(bad.Validate()))
}

func TestParsers(t *testing.T) {
	s, err := ParseContestStatus("active")
	require.NoError(t, err)
	assert.Equal(t, ContestActive, s)
	_, err = ParseContestStatus("ACTIVE")
	assert.Error(t, err)

	m, err := ParseModerationState("rejected")
	require.NoError(t, err)
	assert.Equal(t, ModerationRejected, m)
	_, err = ParseModerationState("")
	assert.Error(t, err)

	_, err = ModerationDecision("approve").Outcome()
	assert.NoError(t, err)
}

func TestErrorKinds(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrContestClosed)
	assert.ErrorIs(t, wrapped, ErrContestClosed)
	assert.Equal(t, KindContestClosed, KindOf(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))

	// Not-found sentinels share a kind
	assert.ErrorIs(t, ErrEntryNotFound, &Error{Kind: KindNotFound})
	assert.NotErrorIs(t, ErrEntryNotFound, ErrContestClosed)
}

package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ContestStatus is the closed set of lifecycle states a contest can be in.
type ContestStatus string

const (
	ContestDraft     ContestStatus = "draft"
	ContestUpcoming  ContestStatus = "upcoming"
	ContestActive    ContestStatus = "active"
	ContestCompleted ContestStatus = "completed"
)

// ParseContestStatus validates a status coming from the wire or the database.
func ParseContestStatus(s string) (ContestStatus, error) {
	switch ContestStatus(s) {
	case ContestDraft, ContestUpcoming, ContestActive, ContestCompleted:
		return ContestStatus(s), nil
	default:
		return "", Invalid(fmt.Sprintf("unknown contest status %q", s))
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s ContestStatus) IsTerminal() bool {
	switch s {
	case ContestCompleted:
		return true
	case ContestDraft, ContestUpcoming, ContestActive:
		return false
	default:
		return false
	}
}

// AcceptsEntries reports whether participants may submit in this state.
func (s ContestStatus) AcceptsEntries() bool {
	switch s {
	case ContestUpcoming, ContestActive:
		return true
	case ContestDraft, ContestCompleted:
		return false
	default:
		return false
	}
}

// Contest is a time-boxed competition entries are submitted to and voted on.
type Contest struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	StartAt         time.Time       `json:"start_at"`
	EndAt           time.Time       `json:"end_at"`
	PrizeAmount     decimal.Decimal `json:"prize_amount"`
	MaxParticipants *int            `json:"max_participants,omitempty"`
	Status          ContestStatus   `json:"status"`
	// StatusForced pins Status regardless of the clock (admin draft hold or
	// early completion).
	StatusForced bool       `json:"status_forced"`
	FrozenAt     *time.Time `json:"frozen_at,omitempty"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CreateContestRequest is the admin payload for a new contest.
type CreateContestRequest struct {
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	StartAt         time.Time       `json:"start_at"`
	EndAt           time.Time       `json:"end_at"`
	PrizeAmount     decimal.Decimal `json:"prize_amount"`
	MaxParticipants *int            `json:"max_participants,omitempty"`
}

// Validate checks the invariants a new contest must satisfy.
func (r *CreateContestRequest) Validate() error {
	if r.Title == "" {
		return Invalid("title is required")
	}
	if r.StartAt.IsZero() || r.EndAt.IsZero() {
		return Invalid("start_at and end_at are required")
	}
	if !r.StartAt.Before(r.EndAt) {
		return Invalid("start_at must be before end_at")
	}
	if r.PrizeAmount.IsNegative() {
		return Invalid("prize_amount must not be negative")
	}
	if r.MaxParticipants != nil && *r.MaxParticipants < 1 {
		return Invalid("max_participants must be at least 1")
	}
	return nil
}

// DeriveStatus computes the effective status of a contest at now. A forced
// status wins; otherwise the status follows the contest window.
func DeriveStatus(c *Contest, now time.Time) ContestStatus {
	if c.StatusForced {
		return c.Status
	}
	switch {
	case now.Before(c.StartAt):
		return ContestUpcoming
	case now.Before(c.EndAt):
		return ContestActive
	default:
		return ContestCompleted
	}
}

// CheckTransition validates moving a contest from its effective status
// current to target. hasLedger reports whether any ledger record exists
// for the contest; force marks an admin-forced completion.
func CheckTransition(current, target ContestStatus, hasLedger, force bool) error {
	if current.IsTerminal() {
		return fmt.Errorf("%w: contest is %s", ErrInvalidTransition, current)
	}
	if current == target {
		return fmt.Errorf("%w: contest is already %s", ErrInvalidTransition, current)
	}

	switch target {
	case ContestCompleted:
		if force || current == ContestActive {
			return nil
		}
	case ContestDraft:
		if !hasLedger {
			return nil
		}
		return fmt.Errorf("%w: contest has ledger records and cannot return to draft", ErrInvalidTransition)
	case ContestUpcoming:
		if current == ContestDraft {
			return nil
		}
	case ContestActive:
		if current == ContestUpcoming {
			return nil
		}
		if current == ContestDraft {
			if hasLedger {
				return fmt.Errorf("%w: contest has ledger records", ErrInvalidTransition)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
}

// ApplyTransition mutates c so that DeriveStatus(c, now) == target after a
// transition that CheckTransition accepted. Window edges are pulled in when
// an admin moves the contest ahead of its schedule.
func ApplyTransition(c *Contest, target ContestStatus, now time.Time) error {
	switch target {
	case ContestDraft:
		c.Status = ContestDraft
		c.StatusForced = true
	case ContestUpcoming:
		if !now.Before(c.StartAt) {
			return fmt.Errorf("%w: start time has already passed", ErrInvalidTransition)
		}
		c.Status = ContestUpcoming
		c.StatusForced = false
	case ContestActive:
		if !now.Before(c.EndAt) {
			return fmt.Errorf("%w: end time has already passed", ErrInvalidTransition)
		}
		if now.Before(c.StartAt) {
			c.StartAt = now
		}
		c.Status = ContestActive
		c.StatusForced = false
	case ContestCompleted:
		c.Status = ContestCompleted
		c.StatusForced = true
		frozen := now
		c.FrozenAt = &frozen
	default:
		return Invalid(fmt.Sprintf("unknown contest status %q", target))
	}
	c.UpdatedAt = now
	return nil
}

// CheckCredit decides whether a ledger write against entry is admissible at
// now. It is evaluated inside the store's per-contest critical section.
func CheckCredit(c *Contest, e *Entry, now time.Time) error {
	if c.ArchivedAt != nil {
		return ErrContestClosed
	}
	switch DeriveStatus(c, now) {
	case ContestCompleted:
		return ErrContestClosed
	case ContestDraft, ContestUpcoming:
		if e.ModerationState != ModerationApproved {
			return ErrEntryNotApproved
		}
		return ErrContestNotActive
	case ContestActive:
		if e.ModerationState != ModerationApproved {
			return ErrEntryNotApproved
		}
		return nil
	default:
		return ErrContestClosed
	}
}

package service

import (
	"context"
	"fmt"
	"strings"

	"contest-core/internal/domain"
	"contest-core/internal/repository"
	"contest-core/pkg/logger"

	"github.com/google/uuid"
)

// SubmissionService is the moderation gate between participants and the
// ledger. Only approved entries can ever be credited.
type SubmissionService struct {
	contests repository.ContestRepository
	entries  repository.EntryRepository
	clock    Clock
	logger   *logger.Logger
}

// NewSubmissionService creates a new submission service
func NewSubmissionService(repos *repository.Repositories, clock Clock, logger *logger.Logger) *SubmissionService {
	return &SubmissionService{
		contests: repos.Contest,
		entries:  repos.Entry,
		clock:    clock,
		logger:   logger,
	}
}

// Submit creates a pending entry for participant
func (s *SubmissionService) Submit(ctx context.Context, contestID, participant string, req *domain.SubmitEntryRequest) (*domain.Entry, error) {
	if strings.TrimSpace(participant) == "" {
		return nil, domain.Invalid("participant identity is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entry := &domain.Entry{
		ID:              uuid.NewString(),
		ContestID:       contestID,
		ParticipantID:   participant,
		Title:           req.Title,
		Description:     req.Description,
		MediaRef:        req.MediaRef,
		ModerationState: domain.ModerationPending,
		CreatedAt:       now,
	}

	err := s.entries.Submit(ctx, entry, func(c *domain.Contest, activeEntries int) error {
		if c.ArchivedAt != nil {
			return fmt.Errorf("%w: contest is archived", domain.ErrContestNotAcceptingEntries)
		}
		if status := domain.DeriveStatus(c, now); !status.AcceptsEntries() {
			return fmt.Errorf("%w: contest is %s", domain.ErrContestNotAcceptingEntries, status)
		}
		if c.MaxParticipants != nil && activeEntries >= *c.MaxParticipants {
			return fmt.Errorf("%w: contest is full", domain.ErrContestNotAcceptingEntries)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"entry_id":   entry.ID,
		"contest_id": contestID,
	}).Info("Entry submitted")
	return entry, nil
}

// Moderate approves or rejects a pending entry. Approving into a completed
// contest fails with ErrContestClosed: its ranking is frozen.
func (s *SubmissionService) Moderate(ctx context.Context, entryID string, decision domain.ModerationDecision, moderator string) (*domain.Entry, error) {
	state, err := decision.Outcome()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entry, err := s.entries.Moderate(ctx, entryID, state, moderator, now, func(c *domain.Contest) error {
		if state == domain.ModerationApproved && domain.DeriveStatus(c, now) == domain.ContestCompleted {
			return fmt.Errorf("%w: contest is completed", domain.ErrContestClosed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"entry_id":  entryID,
		"decision":  decision,
		"moderator": moderator,
	}).Info("Entry moderated")
	return entry, nil
}

// GetEntry returns an entry by ID
func (s *SubmissionService) GetEntry(ctx context.Context, entryID string) (*domain.Entry, error) {
	entry, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, domain.ErrEntryNotFound
	}
	return entry, nil
}

// ListEntries lists a contest's entries, optionally filtered by state
func (s *SubmissionService) ListEntries(ctx context.Context, contestID string, state *domain.ModerationState) ([]domain.Entry, error) {
	contest, err := s.contests.GetByID(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if contest == nil {
		return nil, domain.ErrContestNotFound
	}
	return s.entries.ListByContest(ctx, contestID, state)
}

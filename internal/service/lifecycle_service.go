package service

import (
	"context"
	"errors"
	"fmt"

	"contest-core/internal/domain"
	"contest-core/internal/repository"
	"contest-core/pkg/logger"

	"github.com/google/uuid"
)

var errNoStatusChange = errors.New("contest status unchanged")

// LifecycleService owns contest state. Every state change goes through the
// repository's Transition so it serializes with in-flight credits.
type LifecycleService struct {
	contests repository.ContestRepository
	ranking  *RankingService
	clock    Clock
	logger   *logger.Logger
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(repos *repository.Repositories, ranking *RankingService, clock Clock, logger *logger.Logger) *LifecycleService {
	return &LifecycleService{
		contests: repos.Contest,
		ranking:  ranking,
		clock:    clock,
		logger:   logger,
	}
}

// Create registers a new contest as a draft
func (s *LifecycleService) Create(ctx context.Context, req *domain.CreateContestRequest) (*domain.Contest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	contest := &domain.Contest{
		ID:              uuid.NewString(),
		Title:           req.Title,
		Description:     req.Description,
		StartAt:         req.StartAt.UTC(),
		EndAt:           req.EndAt.UTC(),
		PrizeAmount:     req.PrizeAmount,
		MaxParticipants: req.MaxParticipants,
		Status:          domain.ContestDraft,
		StatusForced:    true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.contests.Create(ctx, contest); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"contest_id": contest.ID,
		"start_at":   contest.StartAt,
		"end_at":     contest.EndAt,
	}).Info("Contest created")
	return contest, nil
}

// Get returns a contest with its effective status
func (s *LifecycleService) Get(ctx context.Context, id string) (*domain.Contest, error) {
	contest, err := s.contests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if contest == nil {
		return nil, domain.ErrContestNotFound
	}
	contest.Status = domain.DeriveStatus(contest, s.clock.Now())
	return contest, nil
}

// List returns contests with their effective status
func (s *LifecycleService) List(ctx context.Context, includeArchived bool) ([]domain.Contest, error) {
	contests, err := s.contests.List(ctx, includeArchived)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	for i := range contests {
		contests[i].Status = domain.DeriveStatus(&contests[i], now)
	}
	return contests, nil
}

// Transition moves a contest to target. force permits an admin completion
// from any non-terminal state. Reaching completed freezes the ledger: the
// repository holds the contest exclusively while the new status is written,
// so every credit either committed before or observes the frozen contest.
func (s *LifecycleService) Transition(ctx context.Context, id string, target domain.ContestStatus, force bool, actor string) (*domain.Contest, error) {
	if _, err := domain.ParseContestStatus(string(target)); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var from domain.ContestStatus
	contest, err := s.contests.Transition(ctx, id, func(c *domain.Contest, hasLedger bool) error {
		if c.ArchivedAt != nil {
			return fmt.Errorf("%w: contest is archived", domain.ErrInvalidTransition)
		}
		from = domain.DeriveStatus(c, now)
		if err := domain.CheckTransition(from, target, hasLedger, force); err != nil {
			return err
		}
		return domain.ApplyTransition(c, target, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"contest_id": id,
		"from":       from,
		"to":         target,
		"forced":     force,
		"actor":      actor,
	}).Info("Contest transitioned")

	if target == domain.ContestCompleted {
		s.completed(ctx, contest)
	}
	return contest, nil
}

// SyncStatus persists the time-driven status of one contest. It reports
// whether anything changed.
func (s *LifecycleService) SyncStatus(ctx context.Context, id string) (bool, error) {
	now := s.clock.Now()
	contest, err := s.contests.Transition(ctx, id, func(c *domain.Contest, _ bool) error {
		if c.StatusForced || c.ArchivedAt != nil {
			return errNoStatusChange
		}
		derived := domain.DeriveStatus(c, now)
		if derived == c.Status {
			return errNoStatusChange
		}
		c.Status = derived
		c.UpdatedAt = now
		if derived == domain.ContestCompleted {
			frozen := now
			c.FrozenAt = &frozen
			c.StatusForced = true
		}
		return nil
	})
	if errors.Is(err, errNoStatusChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.WithFields(map[string]interface{}{
		"contest_id": id,
		"status":     contest.Status,
	}).Info("Contest status synced with schedule")

	if contest.Status == domain.ContestCompleted {
		s.completed(ctx, contest)
	}
	return true, nil
}

// SyncAll applies time-driven transitions to every live contest
func (s *LifecycleService) SyncAll(ctx context.Context) (int, error) {
	contests, err := s.contests.List(ctx, false)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, c := range contests {
		if c.StatusForced {
			continue
		}
		ok, err := s.SyncStatus(ctx, c.ID)
		if err != nil {
			s.logger.WithError(err).WithField("contest_id", c.ID).Error("Failed to sync contest status")
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

// Archive hides a draft or completed contest; its ledger is kept
func (s *LifecycleService) Archive(ctx context.Context, id string) (*domain.Contest, error) {
	now := s.clock.Now()
	contest, err := s.contests.Transition(ctx, id, func(c *domain.Contest, _ bool) error {
		if c.ArchivedAt != nil {
			return domain.Invalid("contest is already archived")
		}
		switch domain.DeriveStatus(c, now) {
		case domain.ContestDraft, domain.ContestCompleted:
		case domain.ContestUpcoming, domain.ContestActive:
			return fmt.Errorf("%w: only draft or completed contests can be archived", domain.ErrInvalidTransition)
		}
		archived := now
		c.ArchivedAt = &archived
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("contest_id", id).Info("Contest archived")
	return contest, nil
}

// Delete removes a draft contest that has no ledger records
func (s *LifecycleService) Delete(ctx context.Context, id string) error {
	contest, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if contest.Status != domain.ContestDraft {
		return fmt.Errorf("%w: only draft contests can be deleted", domain.ErrInvalidTransition)
	}
	if err := s.contests.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.WithField("contest_id", id).Info("Contest deleted")
	return nil
}

// completed runs the side effects of a freeze. The ledger can no longer
// change, so the ranking computed here is final.
func (s *LifecycleService) completed(ctx context.Context, contest *domain.Contest) {
	snapshot, err := s.ranking.Finalize(ctx, contest.ID)
	if err != nil {
		s.logger.WithError(err).WithField("contest_id", contest.ID).Error("Failed to finalize ranking")
		return
	}

	fields := map[string]interface{}{
		"contest_id":    contest.ID,
		"prize_amount":  contest.PrizeAmount.String(),
		"total_credits": snapshot.TotalCredits,
		"entries":       len(snapshot.Entries),
	}
	if len(snapshot.Entries) > 0 {
		fields["winner_entry_id"] = snapshot.Entries[0].EntryID
		fields["winner_participant_id"] = snapshot.Entries[0].ParticipantID
	}
	s.logger.WithFields(fields).Info("Contest completed, eligible for prize settlement")
}

package service

import (
	"context"
	"fmt"

	"contest-core/internal/domain"
	"contest-core/internal/repository"
	"contest-core/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// RankingService derives contest standings from the ledger. The cache is
// optional; without it every call recomputes.
type RankingService struct {
	contests repository.ContestRepository
	ledger   repository.LedgerRepository
	cache    SnapshotCache
	clock    Clock
	group    singleflight.Group
	logger   *logger.Logger
}

// NewRankingService creates a new ranking service. cache may be nil.
func NewRankingService(repos *repository.Repositories, cache SnapshotCache, clock Clock, logger *logger.Logger) *RankingService {
	return &RankingService{
		contests: repos.Contest,
		ledger:   repos.Ledger,
		cache:    cache,
		clock:    clock,
		logger:   logger,
	}
}

// Rank returns the current ranking of a contest. Cached snapshots are keyed
// by the ledger version the store reports, so a snapshot is only served for
// exactly the ledger state it was computed from.
func (s *RankingService) Rank(ctx context.Context, contestID string) (*domain.RankingSnapshot, error) {
	contest, err := s.contests.GetByID(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if contest == nil {
		return nil, domain.ErrContestNotFound
	}
	finalized := domain.DeriveStatus(contest, s.clock.Now()) == domain.ContestCompleted

	if s.cache == nil {
		snapshot, err := s.compute(ctx, contestID)
		if err != nil {
			return nil, err
		}
		return withFinalized(snapshot, finalized), nil
	}

	version, err := s.ledger.Version(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger version: %w", err)
	}

	if finalized {
		final, err := s.cache.GetFinal(ctx, contestID)
		switch {
		case err != nil:
			s.logger.WithError(err).WithField("contest_id", contestID).Warn("Final ranking lookup failed")
		case final != nil && final.Version == version:
			return final, nil
		case final != nil:
			s.logger.WithFields(map[string]interface{}{
				"contest_id":     contestID,
				"cached_version": final.Version,
				"ledger_version": version,
			}).Warn("Final ranking is behind the ledger, replacing it")
			if err := s.cache.DropFinal(ctx, contestID); err != nil {
				s.logger.WithError(err).WithField("contest_id", contestID).Warn("Failed to drop final ranking")
			}
			return s.Finalize(ctx, contestID)
		default:
			return s.Finalize(ctx, contestID)
		}
	}

	cached, err := s.cache.Get(ctx, contestID, version)
	if err != nil {
		s.logger.WithError(err).WithField("contest_id", contestID).Warn("Ranking cache unavailable, computing directly")
	} else if cached != nil {
		return withFinalized(cached, finalized), nil
	}

	key := fmt.Sprintf("%s:%d", contestID, version)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		snapshot, err := s.compute(ctx, contestID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Put(ctx, snapshot); err != nil {
			s.logger.WithError(err).WithField("contest_id", contestID).Warn("Failed to cache ranking")
		}
		return snapshot, nil
	})
	if err != nil {
		return nil, err
	}
	return withFinalized(v.(*domain.RankingSnapshot), finalized), nil
}

// Finalize computes and stores the frozen ranking of a completed contest
func (s *RankingService) Finalize(ctx context.Context, contestID string) (*domain.RankingSnapshot, error) {
	snapshot, err := s.compute(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize ranking: %w", err)
	}
	snapshot.Finalized = true

	if s.cache != nil {
		if err := s.cache.PutFinal(ctx, snapshot); err != nil {
			s.logger.WithError(err).WithField("contest_id", contestID).Error("Failed to store final ranking")
		}
	}
	return snapshot, nil
}

func (s *RankingService) compute(ctx context.Context, contestID string) (*domain.RankingSnapshot, error) {
	totals, version, err := s.ledger.ContestTotals(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("failed to read contest totals: %w", err)
	}
	snapshot := domain.ComputeRanking(contestID, totals, s.clock.Now())
	snapshot.Version = version
	return snapshot, nil
}

// withFinalized returns a shallow copy so shared snapshots are never mutated
func withFinalized(snapshot *domain.RankingSnapshot, finalized bool) *domain.RankingSnapshot {
	out := *snapshot
	out.Finalized = finalized
	return &out
}

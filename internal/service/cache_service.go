package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"contest-core/internal/domain"
	"contest-core/pkg/redis"

	"go.uber.org/zap"
)

// CacheService is the Redis-backed SnapshotCache. Snapshots are stored per
// ledger version; once the store's version moves on, older snapshots are
// never looked up again and age out.
type CacheService struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewCacheService creates a new cache service
func NewCacheService(redisClient *redis.Client, logger *zap.Logger) *CacheService {
	return &CacheService{
		redis:  redisClient,
		logger: logger,
	}
}

// Get returns the snapshot cached for version, nil on a miss
func (c *CacheService) Get(ctx context.Context, contestID string, version int64) (*domain.RankingSnapshot, error) {
	return c.load(ctx, c.redis.KeyBuilder.KeyRankingSnapshot(contestID, version))
}

// Put caches a snapshot under its own version
func (c *CacheService) Put(ctx context.Context, snapshot *domain.RankingSnapshot) error {
	key := c.redis.KeyBuilder.KeyRankingSnapshot(snapshot.ContestID, snapshot.Version)
	return c.store(ctx, key, snapshot, false)
}

// GetFinal returns the frozen snapshot of a completed contest, nil if absent
func (c *CacheService) GetFinal(ctx context.Context, contestID string) (*domain.RankingSnapshot, error) {
	return c.load(ctx, c.redis.KeyBuilder.KeyRankingFinal(contestID))
}

// PutFinal stores the frozen snapshot once; later calls keep the first one
func (c *CacheService) PutFinal(ctx context.Context, snapshot *domain.RankingSnapshot) error {
	return c.store(ctx, c.redis.KeyBuilder.KeyRankingFinal(snapshot.ContestID), snapshot, true)
}

// DropFinal removes the frozen snapshot so the next PutFinal can replace it
func (c *CacheService) DropFinal(ctx context.Context, contestID string) error {
	if err := c.redis.Delete(ctx, c.redis.KeyBuilder.KeyRankingFinal(contestID)); err != nil {
		return fmt.Errorf("failed to drop final ranking: %w", err)
	}
	c.logger.Info("Final ranking dropped", zap.String("contest_id", contestID))
	return nil
}

func (c *CacheService) load(ctx context.Context, key string) (*domain.RankingSnapshot, error) {
	data, err := c.redis.Get(ctx, key)
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking cache: %w", err)
	}

	var snapshot domain.RankingSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		// Treat corruption as a miss; the snapshot is recomputed from the ledger
		c.logger.Warn("Ranking cache corrupted, ignoring entry", zap.Error(err))
		return nil, nil
	}
	return &snapshot, nil
}

func (c *CacheService) store(ctx context.Context, key string, snapshot *domain.RankingSnapshot, once bool) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal ranking snapshot: %w", err)
	}

	if once {
		stored, err := c.redis.SetNX(ctx, key, string(data), redis.TTLRankingFinal)
		if err != nil {
			return fmt.Errorf("failed to cache final ranking: %w", err)
		}
		if !stored {
			c.logger.Debug("Final ranking already cached", zap.String("contest_id", snapshot.ContestID))
		}
		return nil
	}

	if err := c.redis.Set(ctx, key, string(data), redis.TTLRankingSnapshot); err != nil {
		return fmt.Errorf("failed to cache ranking: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/plotshare/models"
	"github.com/redis/go-redis/v9"
)

// CachedTeamStatsRepository serves team aggregates from redis and falls back to the wrapped
// repository on a miss. A nil client disables caching.
type CachedTeamStatsRepository struct {
	next   TeamStatsRepository
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCachedTeamStatsRepository wraps next with a redis read-through cache
func NewCachedTeamStatsRepository(next TeamStatsRepository, rc *redis.Client, prefix string, ttl time.Duration) TeamStatsRepository {
	if rc == nil {
		return next
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedTeamStatsRepository{next: next, rc: rc, prefix: prefix, ttl: ttl}
}

func (r *CachedTeamStatsRepository) key(userID uint) string {
	return fmt.Sprintf("%steam_stats:%d", r.prefix, userID)
}

// ByUserID returns the cached aggregate when present. Redis failures degrade to a database read.
func (r *CachedTeamStatsRepository) ByUserID(ctx context.Context, userID uint) (*models.TeamStats, error) {
	cacheKey := r.key(userID)
	if bs, err := r.rc.Get(ctx, cacheKey).Bytes(); err == nil && len(bs) > 0 {
		var stats models.TeamStats
		if json.Unmarshal(bs, &stats) == nil {
			return &stats, nil
		}
	}

	stats, err := r.next.ByUserID(ctx, userID)
	if err != nil || stats == nil {
		return stats, err
	}
	if bs, err := json.Marshal(stats); err == nil {
		_ = r.rc.Set(ctx, cacheKey, bs, r.ttl).Err()
	}
	return stats, nil
}

// Save writes through and drops the cached copy
func (r *CachedTeamStatsRepository) Save(ctx context.Context, stats *models.TeamStats) error {
	if err := r.next.Save(ctx, stats); err != nil {
		return err
	}
	_ = r.rc.Del(ctx, r.key(stats.UserID)).Err()
	return nil
}

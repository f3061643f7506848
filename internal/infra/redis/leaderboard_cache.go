package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"district-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// LeaderboardSource is the backing query the cache fills from.
type LeaderboardSource interface {
	TopScores(ctx context.Context, limit int) ([]domain.HighScore, error)
	TotalUserCount(ctx context.Context) (int, error)
}

// LeaderboardCache caches the scoreboard in Redis and falls back to the
// source on cache miss.
// Entries are stored as: SET leaderboard:top:{limit} {json} EX ttl
// The count is stored as: SET leaderboard:count   {n}    EX ttl
type LeaderboardCache struct {
	client *redis.Client
	source LeaderboardSource
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewLeaderboardCache(client *redis.Client, source LeaderboardSource, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *LeaderboardCache) TopScores(ctx context.Context, limit int) ([]domain.HighScore, error) {
	key := c.topKey(limit)

	if entries, ok := c.readScores(ctx, key); ok {
		return entries, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if entries, ok := c.readScores(ctx, key); ok {
			return entries, nil
		}

		entries, err := c.source.TopScores(ctx, limit)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(entries); err == nil {
			_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.HighScore), nil
}

func (c *LeaderboardCache) TotalUserCount(ctx context.Context) (int, error) {
	key := c.countKey()

	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		if count, err := strconv.Atoi(raw); err == nil {
			return count, nil
		}
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		count, err := c.source.TotalUserCount(ctx)
		if err != nil {
			return 0, err
		}
		_ = c.client.Set(ctx, key, strconv.Itoa(count), c.ttlWithJitter()).Err()
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (c *LeaderboardCache) readScores(ctx context.Context, key string) ([]domain.HighScore, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var entries []domain.HighScore
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (c *LeaderboardCache) topKey(limit int) string {
	return "leaderboard:top:" + strconv.Itoa(limit)
}

func (c *LeaderboardCache) countKey() string {
	return "leaderboard:count"
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

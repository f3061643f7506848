package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"district-quiz-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// LeaderboardSource is the backing query a cache fills from.
type LeaderboardSource interface {
	TopScores(ctx context.Context, limit int) ([]domain.HighScore, error)
	TotalUserCount(ctx context.Context) (int, error)
}

// LeaderboardCache caches the scoreboard with TTL to avoid hammering the
// backing store on every lobby entry.
type LeaderboardCache struct {
	source LeaderboardSource
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu       sync.RWMutex
	scores   map[int]cachedScores
	count    int
	countOK  bool
	countExp time.Time
	rndMu    sync.Mutex
}

type cachedScores struct {
	entries   []domain.HighScore
	expiresAt time.Time
}

func NewLeaderboardCache(source LeaderboardSource, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		scores: make(map[int]cachedScores),
	}
}

func (c *LeaderboardCache) TopScores(ctx context.Context, limit int) ([]domain.HighScore, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.scores[limit]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.entries, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do("top:"+strconv.Itoa(limit), func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.scores[limit]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.entries, nil
		}
		c.mu.RUnlock()

		entries, err := c.source.TopScores(ctx, limit)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.scores[limit] = cachedScores{entries: entries, expiresAt: now.Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.HighScore), nil
}

func (c *LeaderboardCache) TotalUserCount(ctx context.Context) (int, error) {
	now := c.clock()

	c.mu.RLock()
	if c.countOK && c.countExp.After(now) {
		count := c.count
		c.mu.RUnlock()
		return count, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do("count", func() (interface{}, error) {
		count, err := c.source.TotalUserCount(ctx)
		if err != nil {
			return 0, err
		}
		c.mu.Lock()
		c.count = count
		c.countOK = true
		c.countExp = c.clock().Add(c.ttlWithJitter())
		c.mu.Unlock()
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

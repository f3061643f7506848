package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"district-quiz-service/internal/domain"
)

// UserStore keeps user records on-device instead of a remote store. It serves
// both the record-store and leaderboard contracts so the service runs without
// Postgres or Redis configured.
type UserStore struct {
	now func() time.Time

	mu    sync.RWMutex
	users map[string]domain.User
}

func NewUserStore() *UserStore {
	return NewUserStoreWithClock(time.Now)
}

// NewUserStoreWithClock is test-only for deterministic dates.
func NewUserStoreWithClock(now func() time.Time) *UserStore {
	return &UserStore{now: now, users: make(map[string]domain.User)}
}

// GetOrCreate returns the existing record untouched, or creates a zeroed one.
func (s *UserStore) GetOrCreate(_ context.Context, email, name string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[email]; ok {
		return user, nil
	}
	user := domain.NewUser(email, name, s.now())
	s.users[email] = user
	return user, nil
}

// Upsert replaces the whole record, last writer wins.
func (s *UserStore) Upsert(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Email] = user
	return nil
}

// TopScores lists the highest cumulative scores, descending, excluding zeros.
func (s *UserStore) TopScores(_ context.Context, limit int) ([]domain.HighScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]domain.HighScore, 0, len(s.users))
	for _, user := range s.users {
		if user.Stats.CumulativeScore <= 0 {
			continue
		}
		entries = append(entries, domain.HighScore{
			Name:  user.Name,
			Score: user.Stats.CumulativeScore,
			Date:  s.now().UnixMilli(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Name < entries[j].Name
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// TotalUserCount counts every known record, independent of score.
func (s *UserStore) TotalUserCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

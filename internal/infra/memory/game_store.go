package memory

import (
	"sync"

	"district-quiz-service/internal/app"
)

// GameStore is an in-memory implementation of app.GameStore, one live game
// per signed-in identity.
type GameStore struct {
	factory func(email string) *app.Game

	mu    sync.RWMutex
	games map[string]*app.Game
}

// NewGameStore builds a store using the given game factory; tests pass a
// factory with a deterministic clock.
func NewGameStore(factory func(email string) *app.Game) *GameStore {
	if factory == nil {
		factory = app.NewGame
	}
	return &GameStore{
		factory: factory,
		games:   make(map[string]*app.Game),
	}
}

func (s *GameStore) GetOrCreate(email string) *app.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	if game, ok := s.games[email]; ok {
		return game
	}
	game := s.factory(email)
	s.games[email] = game
	return game
}

func (s *GameStore) Get(email string) (*app.Game, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	game, ok := s.games[email]
	return game, ok
}

func (s *GameStore) Delete(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, email)
}

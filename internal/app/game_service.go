package app

import (
	"context"
	"log"
	"sync"
	"time"

	"district-quiz-service/internal/domain"
)

// UserRepository abstracts the user record store (Postgres, in-memory, etc).
type UserRepository interface {
	// GetOrCreate is idempotent: an existing record's accumulated stats are
	// never overwritten.
	GetOrCreate(ctx context.Context, email, name string) (domain.User, error)
	// Upsert is a full-record, last-writer-wins write.
	Upsert(ctx context.Context, user domain.User) error
}

// LeaderboardQuery abstracts the cumulative-score scoreboard.
type LeaderboardQuery interface {
	// TopScores returns up to limit entries, descending, scores > 0 only.
	TopScores(ctx context.Context, limit int) ([]domain.HighScore, error)
	// TotalUserCount counts all known records regardless of score.
	TotalUserCount(ctx context.Context) (int, error)
}

// GameStore abstracts how live games are held per identity.
type GameStore interface {
	GetOrCreate(email string) *Game
	Get(email string) (*Game, bool)
	Delete(email string)
}

// Config tunes the game rules. Zero values take the defaults of the original
// game: 60-second sessions, 2 games per day, 100 points per correct answer.
type Config struct {
	SessionSeconds   int
	DailyGameLimit   int
	PointsPerCorrect int
	CorrectDelay     time.Duration
	WrongDelay       time.Duration
	TickInterval     time.Duration
	LeaderboardSize  int
}

func (c Config) withDefaults() Config {
	if c.SessionSeconds <= 0 {
		c.SessionSeconds = 60
	}
	if c.DailyGameLimit <= 0 {
		c.DailyGameLimit = 2
	}
	if c.PointsPerCorrect <= 0 {
		c.PointsPerCorrect = 100
	}
	if c.CorrectDelay <= 0 {
		c.CorrectDelay = 600 * time.Millisecond
	}
	if c.WrongDelay <= 0 {
		c.WrongDelay = 1200 * time.Millisecond
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.LeaderboardSize <= 0 {
		c.LeaderboardSize = 10
	}
	return c
}

// GameService contains the game use cases: sign-in, lobby, sessions, scoring.
type GameService struct {
	users UserRepository
	board LeaderboardQuery
	games GameStore
	gen   *Generator
	cfg   Config

	// test seams; defaults wired in NewGameService
	now        func() time.Time
	spawn      func(func())
	after      func(time.Duration, func()) Timer
	startClock func(*Game)

	mu        sync.Mutex
	lastBoard domain.Leaderboard
	haveBoard bool
}

func NewGameService(users UserRepository, board LeaderboardQuery, games GameStore, gen *Generator, cfg Config) *GameService {
	s := &GameService{
		users: users,
		board: board,
		games: games,
		gen:   gen,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		spawn: func(f func()) { go f() },
		after: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
	}
	s.startClock = s.startClockLoop
	return s
}

// Login loads or creates the record for an authenticated identity and enters
// LOBBY. The daily reset runs here and again on every LOBBY re-entry.
func (s *GameService) Login(ctx context.Context, email, name string) (domain.User, domain.Leaderboard, error) {
	user, err := s.users.GetOrCreate(ctx, email, name)
	if err != nil {
		return domain.User{}, domain.Leaderboard{}, err
	}
	game := s.games.GetOrCreate(email)
	user, reset := game.enterLobby(user)
	if reset {
		s.persist(user)
	}
	return user, s.fetchLeaderboard(ctx), nil
}

// Continue re-enters LOBBY after a finished session, re-running the daily
// reset check and refreshing the scoreboard.
func (s *GameService) Continue(ctx context.Context, email string) (domain.User, domain.Leaderboard, error) {
	game, ok := s.games.Get(email)
	if !ok {
		return domain.User{}, domain.Leaderboard{}, domain.ErrGameNotFound
	}
	user, reset, err := game.refreshLobby()
	if err != nil {
		return domain.User{}, domain.Leaderboard{}, err
	}
	if reset {
		s.persist(user)
	}
	return user, s.fetchLeaderboard(ctx), nil
}

// StartSession spends a daily credit, persists the spend without blocking
// gameplay, starts the session clock, and returns the first question.
func (s *GameService) StartSession(_ context.Context, email string) (domain.Question, int, error) {
	game, ok := s.games.Get(email)
	if !ok {
		return domain.Question{}, 0, domain.ErrGameNotFound
	}
	q, user, err := game.beginSession(s.gen, s.cfg.SessionSeconds, s.cfg.DailyGameLimit)
	if err != nil {
		return domain.Question{}, 0, err
	}
	s.persist(user)
	s.startClock(game)
	return q, s.cfg.SessionSeconds, nil
}

// SubmitAnswer judges a choice. Repeat submissions for the same question are
// ignored (accepted=false). The next question arrives over the event channel
// after a short delay for correct answers and a longer one for wrong answers,
// so the player can see the correct province.
func (s *GameService) SubmitAnswer(_ context.Context, email, choice string) (AnswerOutcome, bool, error) {
	game, ok := s.games.Get(email)
	if !ok {
		return AnswerOutcome{}, false, domain.ErrGameNotFound
	}
	out, accepted, err := game.submitAnswer(choice, s.cfg.PointsPerCorrect)
	if err != nil || !accepted {
		return out, accepted, err
	}
	delay := s.cfg.WrongDelay
	if out.Correct {
		delay = s.cfg.CorrectDelay
	}
	t := s.after(delay, func() { game.advanceRound(s.gen) })
	game.setAdvanceTimer(t)
	return out, true, nil
}

// Skip discards the current question without scoring and deals the next one.
func (s *GameService) Skip(_ context.Context, email string) (domain.Question, error) {
	game, ok := s.games.Get(email)
	if !ok {
		return domain.Question{}, domain.ErrGameNotFound
	}
	return game.skip(s.gen)
}

// Tick advances one session clock by one second. Exposed so the clock loop
// (and tests) drive the machine through the same path.
func (s *GameService) Tick(email string) bool {
	game, ok := s.games.Get(email)
	if !ok {
		return true
	}
	return s.tickGame(game)
}

// Logout discards the in-memory game unconditionally. No persistence.
func (s *GameService) Logout(email string) {
	game, ok := s.games.Get(email)
	if !ok {
		return
	}
	game.logout()
	s.games.Delete(email)
}

// Subscribe returns the asynchronous event channel for a live game.
func (s *GameService) Subscribe(email string) (<-chan Event, func(), error) {
	game, ok := s.games.Get(email)
	if !ok {
		return nil, nil, domain.ErrGameNotFound
	}
	ch, cancel := game.subscribe()
	return ch, cancel, nil
}

// Leaderboard returns the current scoreboard, falling back to the last good
// fetch when the query fails.
func (s *GameService) Leaderboard(ctx context.Context) domain.Leaderboard {
	return s.fetchLeaderboard(ctx)
}

func (s *GameService) startClockLoop(game *Game) {
	ctx, cancel := context.WithCancel(context.Background())
	game.setClockCancel(cancel)
	go func() {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.tickGame(game) {
					return
				}
			}
		}
	}()
}

func (s *GameService) tickGame(game *Game) bool {
	final, done := game.tick(s.cfg.PointsPerCorrect, s.cfg.DailyGameLimit)
	if final == nil {
		return done
	}
	s.persist(final.User)
	s.spawn(func() {
		board := s.fetchLeaderboard(context.Background())
		game.publish(Event{Type: EventLeaderboard, Board: &board})
	})
	return done
}

// persist writes a record without blocking the caller. Failures are logged
// and swallowed: the in-memory copy stays authoritative for the session.
func (s *GameService) persist(user domain.User) {
	s.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.users.Upsert(ctx, user); err != nil {
			log.Printf("persist user %s failed: %v", user.Email, err)
		}
	})
}

// fetchLeaderboard reads the scoreboard, keeping the last successful value on
// failure so the view degrades to stale rather than empty.
func (s *GameService) fetchLeaderboard(ctx context.Context) domain.Leaderboard {
	entries, err := s.board.TopScores(ctx, s.cfg.LeaderboardSize)
	if err != nil {
		log.Printf("leaderboard fetch failed: %v", err)
		return s.staleBoard()
	}
	count, err := s.board.TotalUserCount(ctx)
	if err != nil {
		log.Printf("user count fetch failed: %v", err)
		return s.staleBoard()
	}
	board := domain.Leaderboard{Entries: entries, TotalPlayers: count, UpdatedAt: s.now()}
	s.mu.Lock()
	s.lastBoard = board
	s.haveBoard = true
	s.mu.Unlock()
	return board
}

func (s *GameService) staleBoard() domain.Leaderboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBoard
}

package app

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"district-quiz-service/internal/domain"
)

// --- fakes ---

type stubUsers struct {
	mu         sync.Mutex
	users      map[string]domain.User
	failUpsert bool
}

func newStubUsers() *stubUsers {
	return &stubUsers{users: make(map[string]domain.User)}
}

func (s *stubUsers) GetOrCreate(_ context.Context, email, name string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[email]; ok {
		return user, nil
	}
	user := domain.NewUser(email, name, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s.users[email] = user
	return user, nil
}

func (s *stubUsers) Upsert(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert {
		return errors.New("store down")
	}
	s.users[user.Email] = user
	return nil
}

func (s *stubUsers) get(email string) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[email]
}

type stubBoard struct {
	entries []domain.HighScore
	count   int
	fail    bool
}

func (b *stubBoard) TopScores(context.Context, int) ([]domain.HighScore, error) {
	if b.fail {
		return nil, errors.New("board down")
	}
	return b.entries, nil
}

func (b *stubBoard) TotalUserCount(context.Context) (int, error) {
	if b.fail {
		return 0, errors.New("board down")
	}
	return b.count, nil
}

type stubGames struct {
	mu    sync.Mutex
	games map[string]*Game
	now   func() time.Time
}

func (s *stubGames) GetOrCreate(email string) *Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	if game, ok := s.games[email]; ok {
		return game
	}
	game := NewGameWithClock(email, s.now)
	s.games[email] = game
	return game
}

func (s *stubGames) Get(email string) (*Game, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[email]
	return game, ok
}

func (s *stubGames) Delete(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, email)
}

type fakeTimer struct{ stopped bool }

func (t *fakeTimer) Stop() bool {
	already := t.stopped
	t.stopped = true
	return !already
}

// harness drives the service with a frozen clock, synchronous persistence,
// captured answer delays, and no real session clock goroutine.
type harness struct {
	service *GameService
	users   *stubUsers
	board   *stubBoard
	current time.Time
	pending []func()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		users:   newStubUsers(),
		board:   &stubBoard{},
		current: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return h.current }
	gen, err := NewGeneratorWithRand(testCatalogue(), rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	s := NewGameService(h.users, h.board, &stubGames{games: make(map[string]*Game), now: now}, gen, Config{})
	s.now = now
	s.spawn = func(f func()) { f() }
	s.after = func(_ time.Duration, f func()) Timer {
		h.pending = append(h.pending, f)
		return &fakeTimer{}
	}
	s.startClock = func(*Game) {}
	h.service = s
	return h
}

// fireAdvance runs the captured answer-delay callbacks, dealing the next question.
func (h *harness) fireAdvance() {
	pending := h.pending
	h.pending = nil
	for _, f := range pending {
		f()
	}
}

// answerCorrectly submits the current question's own province.
func (h *harness) answerCorrectly(t *testing.T, email string) AnswerOutcome {
	t.Helper()
	game, ok := h.service.games.Get(email)
	if !ok {
		t.Fatalf("no game for %s", email)
	}
	game.mu.Lock()
	choice := game.question.Province
	game.mu.Unlock()
	out, accepted, err := h.service.SubmitAnswer(context.Background(), email, choice)
	if err != nil || !accepted {
		t.Fatalf("correct answer rejected: accepted=%v err=%v", accepted, err)
	}
	return out
}

func (h *harness) expire(t *testing.T, email string) {
	t.Helper()
	for i := 0; i < 60; i++ {
		if h.service.Tick(email) {
			return
		}
	}
	t.Fatalf("session did not expire after 60 ticks")
}

// --- tests ---

func TestLoginCreatesUserAndEntersLobby(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, _, err := h.service.Login(ctx, "a@example.com", "Alice")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Stats.CumulativeScore != 0 || user.Stats.DailyGamesPlayed != 0 {
		t.Fatalf("expected zeroed stats, got %+v", user.Stats)
	}
	game, ok := h.service.games.Get("a@example.com")
	if !ok || game.State() != StateLobby {
		t.Fatalf("expected LOBBY state")
	}
}

func TestDailyResetOnLobbyEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.users.users["a@example.com"] = domain.User{
		Email: "a@example.com",
		Name:  "Alice",
		Stats: domain.UserStats{
			CumulativeScore:  900,
			DailyScore:       400,
			DailyGamesPlayed: 2,
			LastPlayedDate:   "2023-12-31",
		},
	}

	user, _, err := h.service.Login(ctx, "a@example.com", "Alice")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Stats.DailyGamesPlayed != 0 || user.Stats.DailyScore != 0 {
		t.Fatalf("expected daily counters reset, got %+v", user.Stats)
	}
	if user.Stats.LastPlayedDate != "2024-01-01" {
		t.Fatalf("expected date advanced, got %s", user.Stats.LastPlayedDate)
	}
	if user.Stats.CumulativeScore != 900 {
		t.Fatalf("cumulative score must survive reset, got %d", user.Stats.CumulativeScore)
	}
	// Reset was persisted.
	if got := h.users.get("a@example.com").Stats.DailyGamesPlayed; got != 0 {
		t.Fatalf("expected persisted reset, got %d", got)
	}

	// Second reset check on the same day is a no-op.
	again, _, err := h.service.Continue(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if again.Stats != user.Stats {
		t.Fatalf("same-day reset mutated stats: %+v vs %+v", again.Stats, user.Stats)
	}
}

func TestStartSessionSpendsCreditUpFront(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, _, err := h.service.Login(ctx, "a@example.com", "Alice"); err != nil {
		t.Fatalf("login: %v", err)
	}
	q, timeLeft, err := h.service.StartSession(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if timeLeft != 60 {
		t.Fatalf("expected 60s session, got %d", timeLeft)
	}
	if len(q.Options) != 4 {
		t.Fatalf("expected 4 options, got %d", len(q.Options))
	}
	persisted := h.users.get("a@example.com")
	if persisted.Stats.DailyGamesPlayed != 1 {
		t.Fatalf("credit spend not persisted at start: %+v", persisted.Stats)
	}
	if len(persisted.PlayHistory) != 1 {
		t.Fatalf("expected play timestamp recorded, got %v", persisted.PlayHistory)
	}
}

func TestStartSessionRejectedWhenCreditExhausted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.users.users["a@example.com"] = domain.User{
		Email: "a@example.com",
		Name:  "Alice",
		Stats: domain.UserStats{
			DailyGamesPlayed: 2,
			LastPlayedDate:   "2024-01-01",
		},
	}
	if _, _, err := h.service.Login(ctx, "a@example.com", "Alice"); err != nil {
		t.Fatalf("login: %v", err)
	}

	_, _, err := h.service.StartSession(ctx, "a@example.com")
	if err != domain.ErrDailyLimitReached {
		t.Fatalf("expected ErrDailyLimitReached, got %v", err)
	}
	game, _ := h.service.games.Get("a@example.com")
	if game.State() != StateLobby {
		t.Fatalf("rejected start must stay in LOBBY, got %s", game.State())
	}
	if got := h.users.get("a@example.com").Stats.DailyGamesPlayed; got != 2 {
		t.Fatalf("rejected start mutated stats: %d", got)
	}
}

func TestDayBoundaryRestoresCredit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.users.users["a@example.com"] = domain.User{
		Email: "a@example.com",
		Name:  "Alice",
		Stats: domain.UserStats{
			DailyGamesPlayed: 2,
			DailyScore:       300,
			LastPlayedDate:   "2024-01-01",
		},
	}
	if _, _, err := h.service.Login(ctx, "a@example.com", "Alice"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := h.service.StartSession(ctx, "a@example.com"); err != domain.ErrDailyLimitReached {
		t.Fatalf("expected limit on same day, got %v", err)
	}

	// Sitting in the lobby across midnight must restore credit before the
	// exhausted check runs.
	h.current = h.current.Add(24 * time.Hour)
	if _, _, err := h.service.StartSession(ctx, "a@example.com"); err != nil {
		t.Fatalf("expected start after day boundary, got %v", err)
	}
	user := h.users.get("a@example.com")
	if user.Stats.DailyGamesPlayed != 1 || user.Stats.DailyScore != 0 {
		t.Fatalf("expected fresh daily counters plus one spent credit, got %+v", user.Stats)
	}
}

func TestScoringAndAttemptCounting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	email := "a@example.com"

	if _, _, err := h.service.Login(ctx, email, "Alice"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := h.service.StartSession(ctx, email); err != nil {
		t.Fatalf("start: %v", err)
	}

	out := h.answerCorrectly(t, email)
	if !out.Correct || out.SessionScore != 100 || out.Attempts != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	// A second submission for the same question is ignored.
	_, accepted, err := h.service.SubmitAnswer(ctx, email, "whatever")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if accepted {
		t.Fatalf("second answer for pending question must be ignored")
	}

	h.fireAdvance()

	// Wrong answer scores nothing but counts an attempt.
	out2, accepted, err := h.service.SubmitAnswer(ctx, email, "not-a-province")
	if err != nil || !accepted {
		t.Fatalf("wrong answer rejected: accepted=%v err=%v", accepted, err)
	}
	if out2.Correct || out2.SessionScore != 100 || out2.Attempts != 2 {
		t.Fatalf("unexpected wrong outcome: %+v", out2)
	}
	if out2.Province == "" {
		t.Fatalf("wrong answers must reveal the correct province")
	}
	h.fireAdvance()

	// Skip counts an attempt, never scores.
	if _, err := h.service.Skip(ctx, email); err != nil {
		t.Fatalf("skip: %v", err)
	}
	out3 := h.answerCorrectly(t, email)
	if out3.Attempts != 4 || out3.SessionScore != 200 {
		t.Fatalf("expected 4 attempts and 200 score, got %+v", out3)
	}
}

func TestFinalizeReconciliation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	email := "a@example.com"

	h.users.users[email] = domain.User{
		Email: email,
		Name:  "Alice",
		Stats: domain.UserStats{
			CumulativeScore: 500,
			DailyScore:      200,
			LastPlayedDate:  "2024-01-01",
		},
	}
	if _, _, err := h.service.Login(ctx, email, "Alice"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := h.service.StartSession(ctx, email); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 3; i++ {
		h.answerCorrectly(t, email)
		h.fireAdvance()
	}

	h.expire(t, email)

	game, _ := h.service.games.Get(email)
	if game.State() != StateSessionOver {
		t.Fatalf("expected SESSION_OVER, got %s", game.State())
	}
	user := h.users.get(email)
	if user.Stats.DailyScore != 500 || user.Stats.CumulativeScore != 800 {
		t.Fatalf("reconciliation wrong: %+v", user.Stats)
	}
	// Finalize never touches the credit counter; it was spent at start.
	if user.Stats.DailyGamesPlayed != 1 {
		t.Fatalf("finalize changed dailyGamesPlayed: %d", user.Stats.DailyGamesPlayed)
	}
	if user.Stats.TotalGames != 1 || user.Stats.TotalCorrect != 3 || user.Stats.MaxScore != 300 {
		t.Fatalf("stat rollups wrong: %+v", user.Stats)
	}
	if len(user.GameHistory) != 1 || user.GameHistory[0].Score != 300 {
		t.Fatalf("expected game history entry, got %+v", user.GameHistory)
	}

	// Ticks after expiry are inert.
	if !h.service.Tick(email) {
		t.Fatalf("tick after session end must report done")
	}
	if got := h.users.get(email).Stats.CumulativeScore; got != 800 {
		t.Fatalf("stray tick changed score: %d", got)
	}
}

func TestSessionEmitsTickAndSessionOverEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	email := "a@example.com"

	if _, _, err := h.service.Login(ctx, email, "Alice"); err != nil {
		t.Fatalf("login: %v", err)
	}
	events, cancel, err := h.service.Subscribe(email)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if _, _, err := h.service.StartSession(ctx, email); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.service.Tick(email)

	ev := <-events
	if ev.Type != EventTick || ev.Tick.Remaining != 59 || ev.Tick.NearEnd {
		t.Fatalf("unexpected first tick event: %+v", ev)
	}

	h.expire(t, email)
	sawSessionOver := false
	for i := 0; i < cap(events)+1 && !sawSessionOver; i++ {
		ev := <-events
		if ev.Type == EventSessionOver {
			sawSessionOver = true
			if ev.Summary.GamesLeft != 1 {
				t.Fatalf("expected one credit left, got %+v", ev.Summary)
			}
		}
	}
	if !sawSessionOver {
		t.Fatalf("expected sessionOver event")
	}
}

func TestLogoutDiscardsEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	email := "a@example.com"

	if _, _, err := h.service.Login(ctx, email, "Alice"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := h.service.StartSession(ctx, email); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := h.users.get(email)

	h.service.Logout(email)
	if _, ok := h.service.games.Get(email); ok {
		t.Fatalf("expected game discarded")
	}
	// Logout has no persistence side effect.
	if h.users.get(email).Stats != before.Stats {
		t.Fatalf("logout mutated persisted stats")
	}
	if _, _, err := h.service.Continue(ctx, email); err != domain.ErrGameNotFound {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestPersistFailureDoesNotBlockGameplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	email := "a@example.com"

	if _, _, err := h.service.Login(ctx, email, "Alice"); err != nil {
		t.Fatalf("login: %v", err)
	}
	h.users.failUpsert = true

	if _, _, err := h.service.StartSession(ctx, email); err != nil {
		t.Fatalf("start must succeed despite write failure: %v", err)
	}
	game, _ := h.service.games.Get(email)
	if game.State() != StatePlaying {
		t.Fatalf("expected PLAYING, got %s", game.State())
	}
	// Local state stays authoritative.
	if game.User().Stats.DailyGamesPlayed != 1 {
		t.Fatalf("expected local credit spend, got %+v", game.User().Stats)
	}
}

func TestLeaderboardKeepsLastGoodValue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.board.entries = []domain.HighScore{{Name: "Alice", Score: 700}}
	h.board.count = 3

	board := h.service.Leaderboard(ctx)
	if len(board.Entries) != 1 || board.TotalPlayers != 3 {
		t.Fatalf("unexpected board: %+v", board)
	}

	h.board.fail = true
	stale := h.service.Leaderboard(ctx)
	if len(stale.Entries) != 1 || stale.Entries[0].Score != 700 {
		t.Fatalf("expected stale board on failure, got %+v", stale)
	}
}

package app

import (
	"context"
	"sync"
	"time"

	"district-quiz-service/internal/domain"
)

// State is the scoring state machine's position.
type State string

const (
	StateStart       State = "START"
	StateLobby       State = "LOBBY"
	StatePlaying     State = "PLAYING"
	StateSessionOver State = "SESSION_OVER"
)

// Timer is the cancellable handle returned by the answer-delay scheduler.
type Timer interface {
	Stop() bool
}

// AnswerOutcome summarizes one judged answer.
type AnswerOutcome struct {
	Correct      bool
	Province     string
	SessionScore int
	Attempts     int
}

// FinalizedSession is produced exactly once per session, on clock expiry.
// User carries the merged stats ready to persist.
type FinalizedSession struct {
	User    domain.User
	Summary SessionSummary
}

// Game is the in-memory state machine for one signed-in player. All methods
// are safe for the interleaved tick/answer callbacks that drive it.
type Game struct {
	email string
	now   func() time.Time

	mu            sync.Mutex
	state         State
	user          domain.User
	sessionScore  int
	attempts      int
	streak        int
	bestStreak    int
	countdown     *Countdown
	question      *domain.Question
	answerPending bool
	advanceTimer  Timer
	clockCancel   context.CancelFunc
	subscribers   map[chan Event]struct{}
}

// NewGame creates a game at START for one identity.
func NewGame(email string) *Game {
	return NewGameWithClock(email, time.Now)
}

// NewGameWithClock is test-only for deterministic dates.
func NewGameWithClock(email string, now func() time.Time) *Game {
	return &Game{
		email:       email,
		now:         now,
		state:       StateStart,
		subscribers: make(map[chan Event]struct{}),
	}
}

// State reports the current machine state.
func (g *Game) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// User returns the working copy of the player's record.
func (g *Game) User() domain.User {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.user
}

// enterLobby installs the loaded record, re-runs the lazy daily reset, and
// moves START/SESSION_OVER to LOBBY. Returns the (possibly reset) record and
// whether a reset happened and needs persisting.
func (g *Game) enterLobby(user domain.User) (domain.User, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.user = user
	reset := g.user.ResetDailyIfStale(g.now())
	g.state = StateLobby
	return g.user, reset
}

// refreshLobby re-enters LOBBY from SESSION_OVER (or LOBBY itself) with the
// record already in memory, re-running the daily reset check.
func (g *Game) refreshLobby() (domain.User, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateLobby && g.state != StateSessionOver {
		return domain.User{}, false, domain.ErrNotInLobby
	}
	reset := g.user.ResetDailyIfStale(g.now())
	g.state = StateLobby
	return g.user, reset, nil
}

// beginSession spends one daily credit and starts a fresh session. The credit
// is spent here, not at session end, so abandoning a session cannot refund it.
// Returns the first question and the record to persist.
func (g *Game) beginSession(gen *Generator, seconds, dailyLimit int) (domain.Question, domain.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateLobby {
		return domain.Question{}, domain.User{}, domain.ErrNotInLobby
	}
	now := g.now()
	g.user.ResetDailyIfStale(now)
	if g.user.Stats.DailyGamesPlayed >= dailyLimit {
		return domain.Question{}, domain.User{}, domain.ErrDailyLimitReached
	}
	g.user.Stats.DailyGamesPlayed++
	g.user.PlayHistory = append(g.user.PlayHistory, now.UnixMilli())

	g.sessionScore = 0
	g.attempts = 0
	g.streak = 0
	g.bestStreak = 0
	g.countdown = NewCountdown(seconds)
	g.answerPending = false
	q := gen.Generate()
	g.question = &q
	g.state = StatePlaying
	return q, g.user, nil
}

// submitAnswer judges one choice against the current question. Ignored while
// a previous answer is still pending resolution: at most one judged answer per
// question.
func (g *Game) submitAnswer(choice string, points int) (AnswerOutcome, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StatePlaying {
		return AnswerOutcome{}, false, domain.ErrNotPlaying
	}
	if g.answerPending || g.question == nil {
		return AnswerOutcome{}, false, nil
	}
	g.attempts++
	g.answerPending = true
	correct := choice == g.question.Province
	if correct {
		g.sessionScore += points
		g.streak++
		if g.streak > g.bestStreak {
			g.bestStreak = g.streak
		}
	} else {
		g.streak = 0
	}
	return AnswerOutcome{
		Correct:      correct,
		Province:     g.question.Province,
		SessionScore: g.sessionScore,
		Attempts:     g.attempts,
	}, true, nil
}

// advanceRound replaces the current question once the answer delay elapses.
// A session that ended while the delay was pending drops the advance.
func (g *Game) advanceRound(gen *Generator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StatePlaying || !g.answerPending {
		return
	}
	g.answerPending = false
	g.advanceTimer = nil
	q := gen.Generate()
	g.question = &q
	g.broadcastLocked(Event{Type: EventQuestion, Question: &q})
}

// skip discards the current question without scoring. It cancels any pending
// answer delay so the next question is never generated twice.
func (g *Game) skip(gen *Generator) (domain.Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StatePlaying {
		return domain.Question{}, domain.ErrNotPlaying
	}
	if g.advanceTimer != nil {
		g.advanceTimer.Stop()
		g.advanceTimer = nil
	}
	g.answerPending = false
	g.streak = 0
	g.attempts++
	q := gen.Generate()
	g.question = &q
	return q, nil
}

// setAdvanceTimer records the delay timer so leaving PLAYING can cancel it.
// A no-op when the advance already ran (synchronous schedulers in tests).
func (g *Game) setAdvanceTimer(t Timer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.answerPending && g.state == StatePlaying {
		g.advanceTimer = t
	}
}

// setClockCancel stores the session clock's cancel handle.
func (g *Game) setClockCancel(cancel context.CancelFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clockCancel = cancel
}

// tick advances the session clock by one second. On expiry it finalizes the
// session exactly once and returns the merged record to persist. The second
// return is true when the clock loop should stop.
func (g *Game) tick(points, dailyLimit int) (*FinalizedSession, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StatePlaying || g.countdown == nil {
		return nil, true
	}
	res := g.countdown.Tick()
	if !res.Expired {
		g.broadcastLocked(Event{Type: EventTick, Tick: &TickInfo{Remaining: res.Remaining, NearEnd: res.NearEnd}})
		return nil, false
	}
	return g.finalizeLocked(points, dailyLimit), true
}

// finalizeLocked merges the session into the persisted counters. The daily
// credit was already spent at session start and is left untouched here.
func (g *Game) finalizeLocked(points, dailyLimit int) *FinalizedSession {
	if g.advanceTimer != nil {
		g.advanceTimer.Stop()
		g.advanceTimer = nil
	}
	g.answerPending = false
	g.question = nil
	g.state = StateSessionOver

	now := g.now()
	correct := 0
	if points > 0 {
		correct = g.sessionScore / points
	}
	wrong := g.attempts - correct

	stats := &g.user.Stats
	stats.DailyScore += g.sessionScore
	stats.CumulativeScore += g.sessionScore
	stats.LastPlayedDate = domain.Today(now)
	stats.TotalGames++
	stats.TotalScore += g.sessionScore
	stats.TotalCorrect += correct
	stats.TotalWrong += wrong
	if g.sessionScore > stats.MaxScore {
		stats.MaxScore = g.sessionScore
	}
	if g.bestStreak > stats.BestStreak {
		stats.BestStreak = g.bestStreak
	}
	g.user.GameHistory = append(g.user.GameHistory, domain.GameResult{
		Timestamp: now.UnixMilli(),
		Score:     g.sessionScore,
		Correct:   correct,
		Wrong:     wrong,
	})

	gamesLeft := dailyLimit - stats.DailyGamesPlayed
	if gamesLeft < 0 {
		gamesLeft = 0
	}
	summary := SessionSummary{
		SessionScore:    g.sessionScore,
		DailyScore:      stats.DailyScore,
		CumulativeScore: stats.CumulativeScore,
		Correct:         correct,
		Wrong:           wrong,
		GamesLeft:       gamesLeft,
	}
	g.broadcastLocked(Event{Type: EventSessionOver, Summary: &summary})
	return &FinalizedSession{User: g.user, Summary: summary}
}

// logout discards all in-memory state and returns to START. No persistence.
func (g *Game) logout() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clockCancel != nil {
		g.clockCancel()
		g.clockCancel = nil
	}
	if g.advanceTimer != nil {
		g.advanceTimer.Stop()
		g.advanceTimer = nil
	}
	g.state = StateStart
	g.user = domain.User{}
	g.question = nil
	g.countdown = nil
	g.answerPending = false
	g.sessionScore = 0
	g.attempts = 0
}

// subscribe returns a channel of asynchronous game events. The caller must
// invoke the returned cancel function to avoid leaks.
func (g *Game) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	g.mu.Lock()
	g.subscribers[ch] = struct{}{}
	g.mu.Unlock()

	cancel := func() {
		g.mu.Lock()
		if _, ok := g.subscribers[ch]; ok {
			delete(g.subscribers, ch)
			close(ch)
		}
		g.mu.Unlock()
	}
	return ch, cancel
}

// publish broadcasts an event produced outside the game's own methods.
func (g *Game) publish(ev Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcastLocked(ev)
}

func (g *Game) broadcastLocked(ev Event) {
	for ch := range g.subscribers {
		select {
		case ch <- ev:
		default:
			// Dropping the oldest update keeps a slow client from blocking the clock.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

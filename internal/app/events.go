package app

import "district-quiz-service/internal/domain"

// EventType labels the asynchronous signals a game pushes to subscribers.
type EventType string

const (
	// EventQuestion carries the next question after an answer delay or skip.
	EventQuestion EventType = "question"
	// EventTick carries the countdown state once per session second.
	EventTick EventType = "tick"
	// EventSessionOver carries the finalized session summary.
	EventSessionOver EventType = "sessionOver"
	// EventLeaderboard carries a refreshed scoreboard after finalize.
	EventLeaderboard EventType = "leaderboard"
)

// TickInfo is the payload of an EventTick.
type TickInfo struct {
	Remaining int  `json:"remaining"`
	NearEnd   bool `json:"nearEnd"`
}

// SessionSummary is the payload of an EventSessionOver.
type SessionSummary struct {
	SessionScore    int `json:"sessionScore"`
	DailyScore      int `json:"dailyScore"`
	CumulativeScore int `json:"cumulativeScore"`
	Correct         int `json:"correct"`
	Wrong           int `json:"wrong"`
	GamesLeft       int `json:"gamesLeft"`
}

// Event is one asynchronous game signal; exactly one payload field is set,
// matching Type.
type Event struct {
	Type     EventType
	Question *domain.Question
	Tick     *TickInfo
	Summary  *SessionSummary
	Board    *domain.Leaderboard
}

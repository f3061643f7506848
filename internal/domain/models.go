package domain

import "time"

// DateFormat is the calendar-date layout used for daily counters.
const DateFormat = "2006-01-02"

// Today formats a timestamp as the calendar date used by daily counters.
func Today(now time.Time) string {
	return now.Format(DateFormat)
}

// DistrictEntry is one (district, province) pair of the question catalogue.
type DistrictEntry struct {
	District string `yaml:"district" json:"district"`
	Province string `yaml:"province" json:"province"`
}

// Catalogue is the immutable set of district/province pairs loaded at startup.
type Catalogue []DistrictEntry

// Validate checks the generator preconditions: no empty fields and at least
// four distinct provinces, otherwise distractor sampling cannot terminate.
func (c Catalogue) Validate() error {
	if len(c) == 0 {
		return ErrCatalogueTooSmall
	}
	provinces := make(map[string]struct{}, len(c))
	for _, entry := range c {
		if entry.District == "" || entry.Province == "" {
			return ErrCatalogueEntryEmpty
		}
		provinces[entry.Province] = struct{}{}
	}
	if len(provinces) < 4 {
		return ErrCatalogueTooSmall
	}
	return nil
}

// Question is one round's puzzle: a district and four shuffled province
// options, exactly one of which is correct. The correct province is kept out
// of the JSON payload sent to clients.
type Question struct {
	District      string   `json:"district"`
	Province      string   `json:"-"`
	Options       []string `json:"options"`
	MapShapeIndex int      `json:"mapShapeIndex"`
}

// UserStats holds the persisted counters for one player.
type UserStats struct {
	CumulativeScore  int    `json:"cumulativeScore"`
	DailyScore       int    `json:"dailyScore"`
	DailyGamesPlayed int    `json:"dailyGamesPlayed"`
	LastPlayedDate   string `json:"lastPlayedDate"`
	MaxScore         int    `json:"maxScore"`
	TotalCorrect     int    `json:"totalCorrect"`
	TotalWrong       int    `json:"totalWrong"`
	BestStreak       int    `json:"bestStreak"`
	TotalGames       int    `json:"totalGames"`
	TotalScore       int    `json:"totalScore"`
}

// GameResult is one finished session in a user's history.
type GameResult struct {
	Timestamp int64 `json:"timestamp"`
	Score     int   `json:"score"`
	Correct   int   `json:"correct"`
	Wrong     int   `json:"wrong"`
}

// User is one persisted player record, keyed by email.
type User struct {
	Email       string       `json:"email"`
	Name        string       `json:"name"`
	IsAdmin     bool         `json:"isAdmin"`
	PlayHistory []int64      `json:"playHistory"`
	GameHistory []GameResult `json:"gameHistory"`
	Stats       UserStats    `json:"stats"`
}

// NewUser returns a fresh record with zeroed stats and today's date.
func NewUser(email, name string, now time.Time) User {
	return User{
		Email: email,
		Name:  name,
		Stats: UserStats{LastPlayedDate: Today(now)},
	}
}

// ResetDailyIfStale zeroes the daily counters when the record was last played
// on a different calendar date. Returns true when a reset happened; running it
// twice on the same day is a no-op the second time.
func (u *User) ResetDailyIfStale(now time.Time) bool {
	today := Today(now)
	if u.Stats.LastPlayedDate == today {
		return false
	}
	u.Stats.DailyGamesPlayed = 0
	u.Stats.DailyScore = 0
	u.Stats.LastPlayedDate = today
	return true
}

// HighScore is a read-only leaderboard projection of a user's cumulative score.
type HighScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Date  int64  `json:"date"`
}

// Leaderboard is the ordered top-N scoreboard plus the total player count.
type Leaderboard struct {
	Entries      []HighScore `json:"entries"`
	TotalPlayers int         `json:"totalPlayers"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

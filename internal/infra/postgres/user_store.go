package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"district-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// UserStore persists user records in Postgres. It also serves the leaderboard
// query, which is a sorted projection over the same rows.
type UserStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool, now: time.Now}
}

// GetOrCreate loads the record for an identity, inserting a zeroed one on
// first sign-in. Existing stats are never overwritten here.
func (s *UserStore) GetOrCreate(ctx context.Context, email, name string) (domain.User, error) {
	user, err := s.get(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, err
	}

	user = domain.NewUser(email, name, s.now())
	if err := s.insert(ctx, user); err != nil {
		// Lost a first-sign-in race: the other writer's row wins.
		if existing, getErr := s.get(ctx, email); getErr == nil {
			return existing, nil
		}
		return domain.User{}, err
	}
	return user, nil
}

// Upsert writes the full record, last writer wins.
func (s *UserStore) Upsert(ctx context.Context, user domain.User) error {
	playHistory, err := json.Marshal(user.PlayHistory)
	if err != nil {
		return fmt.Errorf("marshal play history: %w", err)
	}
	gameHistory, err := json.Marshal(user.GameHistory)
	if err != nil {
		return fmt.Errorf("marshal game history: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO users (
			email, name, is_admin,
			cumulative_score, daily_score, daily_games_played, last_played_date,
			max_score, total_correct, total_wrong, best_streak, total_games, total_score,
			play_history, game_history
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			is_admin = EXCLUDED.is_admin,
			cumulative_score = EXCLUDED.cumulative_score,
			daily_score = EXCLUDED.daily_score,
			daily_games_played = EXCLUDED.daily_games_played,
			last_played_date = EXCLUDED.last_played_date,
			max_score = EXCLUDED.max_score,
			total_correct = EXCLUDED.total_correct,
			total_wrong = EXCLUDED.total_wrong,
			best_streak = EXCLUDED.best_streak,
			total_games = EXCLUDED.total_games,
			total_score = EXCLUDED.total_score,
			play_history = EXCLUDED.play_history,
			game_history = EXCLUDED.game_history`,
		user.Email, user.Name, user.IsAdmin,
		user.Stats.CumulativeScore, user.Stats.DailyScore, user.Stats.DailyGamesPlayed, user.Stats.LastPlayedDate,
		user.Stats.MaxScore, user.Stats.TotalCorrect, user.Stats.TotalWrong, user.Stats.BestStreak,
		user.Stats.TotalGames, user.Stats.TotalScore,
		playHistory, gameHistory,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// TopScores lists the highest cumulative scores, excluding zeros.
func (s *UserStore) TopScores(ctx context.Context, limit int) ([]domain.HighScore, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, cumulative_score FROM users
		WHERE cumulative_score > 0
		ORDER BY cumulative_score DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top scores: %w", err)
	}
	defer rows.Close()

	var entries []domain.HighScore
	for rows.Next() {
		var entry domain.HighScore
		if err := rows.Scan(&entry.Name, &entry.Score); err != nil {
			return nil, fmt.Errorf("scan top score: %w", err)
		}
		entry.Date = s.now().UnixMilli()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// TotalUserCount counts all records, independent of score.
func (s *UserStore) TotalUserCount(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *UserStore) get(ctx context.Context, email string) (domain.User, error) {
	var (
		user        domain.User
		playHistory []byte
		gameHistory []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT email, name, is_admin,
			cumulative_score, daily_score, daily_games_played, last_played_date,
			max_score, total_correct, total_wrong, best_streak, total_games, total_score,
			play_history, game_history
		FROM users WHERE email=$1`, email).Scan(
		&user.Email, &user.Name, &user.IsAdmin,
		&user.Stats.CumulativeScore, &user.Stats.DailyScore, &user.Stats.DailyGamesPlayed, &user.Stats.LastPlayedDate,
		&user.Stats.MaxScore, &user.Stats.TotalCorrect, &user.Stats.TotalWrong, &user.Stats.BestStreak,
		&user.Stats.TotalGames, &user.Stats.TotalScore,
		&playHistory, &gameHistory,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if len(playHistory) > 0 {
		if err := json.Unmarshal(playHistory, &user.PlayHistory); err != nil {
			return domain.User{}, fmt.Errorf("unmarshal play history: %w", err)
		}
	}
	if len(gameHistory) > 0 {
		if err := json.Unmarshal(gameHistory, &user.GameHistory); err != nil {
			return domain.User{}, fmt.Errorf("unmarshal game history: %w", err)
		}
	}
	return user, nil
}

func (s *UserStore) insert(ctx context.Context, user domain.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (email, name, is_admin, last_played_date, play_history, game_history)
		VALUES ($1, $2, $3, $4, '[]', '[]')`,
		user.Email, user.Name, user.IsAdmin, user.Stats.LastPlayedDate)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

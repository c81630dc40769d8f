package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mitsukisegondconpte/Supetelebot/internal/domain"
)

// PostgresStore implements Store on plain database/sql with the pq driver.
type PostgresStore struct {
	db        *sql.DB
	maxActive int
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, maxActive: DefaultMaxActiveGames}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// SetMaxActiveGames adjusts the per-user cap. Non-positive values reset
// the default.
func (s *PostgresStore) SetMaxActiveGames(n int) {
	if n <= 0 {
		n = DefaultMaxActiveGames
	}
	s.maxActive = n
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (telegram_id, username, first_name, last_name, language_code)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (telegram_id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			language_code = EXCLUDED.language_code,
			last_activity = NOW()
		RETURNING id, telegram_id, username, first_name, last_name, language_code, blocked, last_activity, created_at`,
		u.TelegramID, u.Username, u.FirstName, u.LastName, u.LanguageCode)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByTelegramID(ctx context.Context, telegramID int64) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, telegram_id, username, first_name, last_name, language_code, blocked, last_activity, created_at
		FROM users WHERE telegram_id = $1`, telegramID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

func (s *PostgresStore) SetUserBlocked(ctx context.Context, telegramID int64, blocked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET blocked = $2 WHERE telegram_id = $1`, telegramID, blocked)
	if err != nil {
		return fmt.Errorf("set user blocked: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user blocked: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateGame(ctx context.Context, g domain.Game) (domain.Game, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Game{}, fmt.Errorf("begin create game: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Locking the user row serializes concurrent creates for the same
	// user, so the count below cannot race past the cap.
	var userID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM users WHERE id = $1 FOR UPDATE`, g.UserID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Game{}, ErrNotFound
	}
	if err != nil {
		return domain.Game{}, fmt.Errorf("lock user: %w", err)
	}

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM games WHERE user_id = $1 AND status = $2`,
		g.UserID, domain.GameActive).Scan(&active)
	if err != nil {
		return domain.Game{}, fmt.Errorf("count active games: %w", err)
	}
	if active >= s.maxActive {
		return domain.Game{}, ErrLimitExceeded
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO games (user_id, board_fen, move_count, status, result, skill_level, move_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		g.UserID, g.BoardFEN, g.MoveCount, g.Status, g.Result, g.SkillLevel, g.MoveTimeMillis).
		Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return domain.Game{}, fmt.Errorf("insert game: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Game{}, fmt.Errorf("commit create game: %w", err)
	}
	return g, nil
}

const gameColumns = `id, user_id, board_fen, move_count, status, result, skill_level, move_time_ms, created_at, finished_at`

func (s *PostgresStore) GetGame(ctx context.Context, id int64) (domain.Game, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Game{}, ErrNotFound
	}
	return g, err
}

func (s *PostgresStore) ActiveGame(ctx context.Context, userID int64) (domain.Game, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games
		 WHERE user_id = $1 AND status = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`, userID, domain.GameActive)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Game{}, ErrNotFound
	}
	return g, err
}

func (s *PostgresStore) CountActiveGames(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM games WHERE user_id = $1 AND status = $2`,
		userID, domain.GameActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active games: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListGamesByUser(ctx context.Context, userID int64, limit int) ([]domain.Game, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+gameColumns+` FROM games
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return collectGames(rows)
}

func (s *PostgresStore) ListActiveGames(ctx context.Context, limit int) ([]domain.Game, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+gameColumns+` FROM games
		 WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		domain.GameActive, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list active games: %w", err)
	}
	return collectGames(rows)
}

func (s *PostgresStore) ApplyMoves(ctx context.Context, gameID int64, moves []domain.Move, newFEN string,
	status domain.GameStatus, result domain.GameResult, finishedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current domain.GameStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM games WHERE id = $1 FOR UPDATE`, gameID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock game row: %w", err)
	}
	if current != domain.GameActive {
		return ErrNotActive
	}

	for _, m := range moves {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO moves (game_id, seq, uci, san, actor, elapsed_ms)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			gameID, m.Seq, m.UCI, m.SAN, m.Actor, m.Elapsed.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert move seq %d: %w", m.Seq, err)
		}
	}

	finished := sql.NullTime{Time: finishedAt, Valid: !finishedAt.IsZero()}
	_, err = tx.ExecContext(ctx, `
		UPDATE games SET board_fen = $2, move_count = move_count + $3, status = $4, result = $5, finished_at = $6
		WHERE id = $1`,
		gameID, newFEN, len(moves), status, result, finished)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit moves: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMoves(ctx context.Context, gameID int64) ([]domain.Move, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, game_id, seq, uci, san, actor, elapsed_ms, created_at
		FROM moves WHERE game_id = $1 ORDER BY seq ASC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list moves: %w", err)
	}
	defer rows.Close()

	var out []domain.Move
	for rows.Next() {
		var m domain.Move
		var elapsedMs int64
		if err := rows.Scan(&m.ID, &m.GameID, &m.Seq, &m.UCI, &m.SAN, &m.Actor, &elapsedMs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		m.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordActivity(ctx context.Context, rec domain.ActivityRecord) error {
	var payload any
	if rec.Payload != nil {
		raw, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("encode activity payload: %w", err)
		}
		payload = raw
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (user_id, kind, description, payload)
		VALUES ($1, $2, $3, $4)`,
		rec.UserID, rec.Kind, rec.Description, payload)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentActivities(ctx context.Context, limit int) ([]domain.ActivityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, description, payload, created_at
		FROM activities ORDER BY created_at DESC, id DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []domain.ActivityRecord
	for rows.Next() {
		var rec domain.ActivityRecord
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Kind, &rec.Description, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &rec.Payload); err != nil {
				return nil, fmt.Errorf("decode activity payload: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (domain.SystemStats, error) {
	var st domain.SystemStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM games WHERE status = $1),
			(SELECT COUNT(*) FROM games WHERE status = $2),
			(SELECT COUNT(*) FROM games WHERE created_at >= CURRENT_DATE),
			(SELECT COUNT(*) FROM moves WHERE created_at >= CURRENT_DATE)`,
		domain.GameActive, domain.GameFinished).
		Scan(&st.TotalUsers, &st.ActiveGames, &st.FinishedGames, &st.GamesToday, &st.MovesToday)
	if err != nil {
		return domain.SystemStats{}, fmt.Errorf("collect stats: %w", err)
	}
	st.GeneratedAt = time.Now().UTC()
	return st, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName,
		&u.LanguageCode, &u.Blocked, &u.LastActivity, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, err
		}
		return domain.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func scanGame(row rowScanner) (domain.Game, error) {
	var g domain.Game
	var finished sql.NullTime
	err := row.Scan(&g.ID, &g.UserID, &g.BoardFEN, &g.MoveCount, &g.Status, &g.Result,
		&g.SkillLevel, &g.MoveTimeMillis, &g.CreatedAt, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Game{}, err
		}
		return domain.Game{}, fmt.Errorf("scan game: %w", err)
	}
	if finished.Valid {
		g.FinishedAt = finished.Time
	}
	return g, nil
}

func collectGames(rows *sql.Rows) ([]domain.Game, error) {
	defer rows.Close()
	var out []domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

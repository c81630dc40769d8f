package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mitsukisegondconpte/Supetelebot/internal/domain"
)

// MemoryStore is the map-backed Store used by tests and local runs
// without a database.
type MemoryStore struct {
	mu         sync.RWMutex
	nextID     int64
	maxActive  int
	users      map[int64]domain.User
	games      map[int64]domain.Game
	moves      map[int64][]domain.Move
	activities []domain.ActivityRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		maxActive: DefaultMaxActiveGames,
		users:     make(map[int64]domain.User),
		games:     make(map[int64]domain.Game),
		moves:     make(map[int64][]domain.Move),
	}
}

// SetMaxActiveGames adjusts the per-user cap. Non-positive values reset
// the default.
func (s *MemoryStore) SetMaxActiveGames(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		n = DefaultMaxActiveGames
	}
	s.maxActive = n
}

// allocID must be called with mu held.
func (s *MemoryStore) allocID() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) UpsertUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, existing := range s.users {
		if existing.TelegramID == u.TelegramID {
			existing.Username = u.Username
			existing.FirstName = u.FirstName
			existing.LastName = u.LastName
			existing.LanguageCode = u.LanguageCode
			existing.LastActivity = now
			s.users[existing.ID] = existing
			return existing, nil
		}
	}
	u.ID = s.allocID()
	u.Blocked = false
	u.LastActivity = now
	u.CreatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) GetUserByTelegramID(_ context.Context, telegramID int64) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.TelegramID == telegramID {
			return u, nil
		}
	}
	return domain.User{}, ErrNotFound
}

func (s *MemoryStore) SetUserBlocked(_ context.Context, telegramID int64, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		if u.TelegramID == telegramID {
			u.Blocked = blocked
			s.users[id] = u
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) CreateGame(_ context.Context, g domain.Game) (domain.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, existing := range s.games {
		if existing.UserID == g.UserID && existing.Status == domain.GameActive {
			active++
		}
	}
	if active >= s.maxActive {
		return domain.Game{}, ErrLimitExceeded
	}
	g.ID = s.allocID()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	s.games[g.ID] = g
	return g, nil
}

func (s *MemoryStore) GetGame(_ context.Context, id int64) (domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	if !ok {
		return domain.Game{}, ErrNotFound
	}
	return g, nil
}

func (s *MemoryStore) ActiveGame(_ context.Context, userID int64) (domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found domain.Game
	ok := false
	for _, g := range s.games {
		if g.UserID != userID || g.Status != domain.GameActive {
			continue
		}
		if !ok || g.ID > found.ID {
			found = g
			ok = true
		}
	}
	if !ok {
		return domain.Game{}, ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) CountActiveGames(_ context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, g := range s.games {
		if g.UserID == userID && g.Status == domain.GameActive {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListGamesByUser(_ context.Context, userID int64, limit int) ([]domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Game
	for _, g := range s.games {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sortGamesNewestFirst(out)
	return truncateGames(out, clampLimit(limit)), nil
}

func (s *MemoryStore) ListActiveGames(_ context.Context, limit int) ([]domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Game
	for _, g := range s.games {
		if g.Status == domain.GameActive {
			out = append(out, g)
		}
	}
	sortGamesNewestFirst(out)
	return truncateGames(out, clampLimit(limit)), nil
}

func (s *MemoryStore) ApplyMoves(_ context.Context, gameID int64, moves []domain.Move, newFEN string,
	status domain.GameStatus, result domain.GameResult, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return ErrNotFound
	}
	if g.Status != domain.GameActive {
		return ErrNotActive
	}
	for _, m := range moves {
		m.ID = s.allocID()
		m.GameID = gameID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		s.moves[gameID] = append(s.moves[gameID], m)
	}
	g.BoardFEN = newFEN
	g.MoveCount += len(moves)
	g.Status = status
	g.Result = result
	g.FinishedAt = finishedAt
	s.games[gameID] = g
	return nil
}

func (s *MemoryStore) ListMoves(_ context.Context, gameID int64) ([]domain.Move, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.moves[gameID]
	out := make([]domain.Move, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) RecordActivity(_ context.Context, rec domain.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.allocID()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.activities = append(s.activities, rec)
	return nil
}

func (s *MemoryStore) RecentActivities(_ context.Context, limit int) ([]domain.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = clampLimit(limit)
	out := make([]domain.ActivityRecord, 0, limit)
	for i := len(s.activities) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.activities[i])
	}
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context) (domain.SystemStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	st := domain.SystemStats{TotalUsers: len(s.users), GeneratedAt: now}
	for _, g := range s.games {
		switch g.Status {
		case domain.GameActive:
			st.ActiveGames++
		case domain.GameFinished:
			st.FinishedGames++
		}
		if !g.CreatedAt.Before(midnight) {
			st.GamesToday++
		}
	}
	for _, ms := range s.moves {
		for _, m := range ms {
			if !m.CreatedAt.Before(midnight) {
				st.MovesToday++
			}
		}
	}
	return st, nil
}

func sortGamesNewestFirst(games []domain.Game) {
	sort.Slice(games, func(i, j int) bool {
		if games[i].CreatedAt.Equal(games[j].CreatedAt) {
			return games[i].ID > games[j].ID
		}
		return games[i].CreatedAt.After(games[j].CreatedAt)
	})
}

func truncateGames(games []domain.Game, limit int) []domain.Game {
	if len(games) > limit {
		return games[:limit]
	}
	return games
}

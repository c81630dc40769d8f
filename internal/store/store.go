// Package store persists users, games, moves and activity records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mitsukisegondconpte/Supetelebot/internal/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrNotActive     = errors.New("store: game not active")
	ErrLimitExceeded = errors.New("store: active game limit reached")
)

// DefaultMaxActiveGames caps active games per user unless a store is
// configured otherwise.
const DefaultMaxActiveGames = 5

// Store is the persistence surface used by the session manager and the
// monitor. ApplyMoves is the only mutation that touches a game's board
// state; it appends moves and updates the game row in one transaction.
type Store interface {
	UpsertUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (domain.User, error)
	SetUserBlocked(ctx context.Context, telegramID int64, blocked bool) error

	// CreateGame refuses a game that would push the user past the
	// active cap with ErrLimitExceeded.
	CreateGame(ctx context.Context, g domain.Game) (domain.Game, error)
	GetGame(ctx context.Context, id int64) (domain.Game, error)
	ActiveGame(ctx context.Context, userID int64) (domain.Game, error)
	CountActiveGames(ctx context.Context, userID int64) (int, error)
	ListGamesByUser(ctx context.Context, userID int64, limit int) ([]domain.Game, error)
	ListActiveGames(ctx context.Context, limit int) ([]domain.Game, error)

	// ApplyMoves rejects the call when the game is not active. An empty
	// move slice with a zero finishedAt leaves the game running.
	ApplyMoves(ctx context.Context, gameID int64, moves []domain.Move, newFEN string,
		status domain.GameStatus, result domain.GameResult, finishedAt time.Time) error
	ListMoves(ctx context.Context, gameID int64) ([]domain.Move, error)

	RecordActivity(ctx context.Context, rec domain.ActivityRecord) error
	RecentActivities(ctx context.Context, limit int) ([]domain.ActivityRecord, error)

	Stats(ctx context.Context) (domain.SystemStats, error)
}

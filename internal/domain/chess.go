package domain

import "time"

// GameStatus is the lifecycle state of a game.
type GameStatus string

const (
	GameActive    GameStatus = "active"
	GameFinished  GameStatus = "finished"
	GameAbandoned GameStatus = "abandoned"
)

// GameResult is the final result of a non-active game. Empty while active.
type GameResult string

const (
	ResultNone      GameResult = ""
	ResultWhiteWins GameResult = "white_wins"
	ResultBlackWins GameResult = "black_wins"
	ResultDraw      GameResult = "draw"
	ResultAbandoned GameResult = "abandoned"
)

// MoveActor identifies who played a half-move.
type MoveActor string

const (
	ActorUser   MoveActor = "user"
	ActorEngine MoveActor = "engine"
)

// User is a chat identity known to the bot. Deleting a user cascades its
// games, moves and activity records.
type User struct {
	ID           int64
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	Blocked      bool
	LastActivity time.Time
	CreatedAt    time.Time
}

// Game is one user-vs-engine game row. MoveCount always equals the number of
// persisted Move records; FinishedAt is zero exactly while Status is active.
type Game struct {
	ID             int64
	UserID         int64
	BoardFEN       string
	MoveCount      int
	Status         GameStatus
	Result         GameResult
	SkillLevel     int
	MoveTimeMillis int
	CreatedAt      time.Time
	FinishedAt     time.Time
}

// Move is one immutable half-move. Seq is monotonic per game starting at 1.
type Move struct {
	ID        int64
	GameID    int64
	Seq       int
	UCI       string
	SAN       string
	Actor     MoveActor
	Elapsed   time.Duration
	CreatedAt time.Time
}

// ActivityRecord is an append-only ledger entry; never updated and never
// referenced by other rows.
type ActivityRecord struct {
	ID          int64
	UserID      int64
	Kind        string
	Description string
	Payload     map[string]any
	CreatedAt   time.Time
}

// SystemStats is a point-in-time snapshot computed from the store.
type SystemStats struct {
	TotalUsers    int
	ActiveGames   int
	FinishedGames int
	GamesToday    int
	MovesToday    int
	GeneratedAt   time.Time
}

package session

import "errors"

var (
	ErrNotFound          = errors.New("game not found")
	ErrInvalidState      = errors.New("game not active")
	ErrIllegalMove       = errors.New("illegal move")
	ErrLimitExceeded     = errors.New("active game limit reached")
	ErrBusy              = errors.New("a move is already being processed for this game")
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrUserBlocked       = errors.New("user is blocked")
)

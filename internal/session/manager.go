// Package session coordinates games between users and the engine. All
// game mutations pass through here: rule validation, engine replies,
// atomic persistence and event publication.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mitsukisegondconpte/Supetelebot/internal/cache"
	"github.com/mitsukisegondconpte/Supetelebot/internal/domain"
	"github.com/mitsukisegondconpte/Supetelebot/internal/engine"
	"github.com/mitsukisegondconpte/Supetelebot/internal/events"
	"github.com/mitsukisegondconpte/Supetelebot/internal/ledger"
	"github.com/mitsukisegondconpte/Supetelebot/internal/rules"
	"github.com/mitsukisegondconpte/Supetelebot/internal/store"
)

// Profile is the chat identity attached to every request.
type Profile struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// MoveOutcome describes what was persisted for one submitted move. When
// SubmitMove returns ErrEngineUnavailable the outcome is still valid:
// the user move was kept and the game stays active awaiting the engine.
type MoveOutcome struct {
	Game          domain.Game
	UserMove      domain.Move
	EngineMove    domain.Move
	EngineReplied bool
	GameOver      bool
	Result        domain.GameResult
	Reason        string
}

type Config struct {
	MaxActiveGamesPerUser int
	DefaultSkillLevel     int
	DefaultMoveTime       time.Duration
	AnalysisDepth         int
}

func (c Config) withDefaults() Config {
	if c.MaxActiveGamesPerUser <= 0 {
		c.MaxActiveGamesPerUser = 5
	}
	if c.DefaultSkillLevel <= 0 {
		c.DefaultSkillLevel = 5
	}
	if c.DefaultMoveTime <= 0 {
		c.DefaultMoveTime = 800 * time.Millisecond
	}
	if c.AnalysisDepth <= 0 {
		c.AnalysisDepth = 15
	}
	return c
}

// Manager owns the per-game locks; exactly one move is processed per
// game at a time, concurrent submitters are rejected with ErrBusy.
type Manager struct {
	store  store.Store
	oracle engine.Oracle
	hub    *events.Hub
	ledger *ledger.Recorder
	cache  *cache.Cache
	logger *zap.Logger
	locks  *lockTable
	cfg    Config
}

func NewManager(st store.Store, oracle engine.Oracle, hub *events.Hub, rec *ledger.Recorder, logger *zap.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  st,
		oracle: oracle,
		hub:    hub,
		ledger: rec,
		logger: logger,
		locks:  newLockTable(),
		cfg:    cfg.withDefaults(),
	}
}

// AttachCache enables Redis-backed caching of rendered exports. The
// manager works without one; every cache read tolerates a miss.
func (m *Manager) AttachCache(c *cache.Cache) { m.cache = c }

// MaxActiveGames reports the configured per-user cap.
func (m *Manager) MaxActiveGames() int { return m.cfg.MaxActiveGamesPerUser }

// EnsureUser registers or refreshes the chat identity.
func (m *Manager) EnsureUser(ctx context.Context, p Profile) (domain.User, error) {
	u, err := m.store.UpsertUser(ctx, domain.User{
		TelegramID:   p.TelegramID,
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		LanguageCode: p.LanguageCode,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: upsert user: %v", ErrPersistenceFailed, err)
	}
	if u.Blocked {
		return u, ErrUserBlocked
	}
	return u, nil
}

// CreateGame starts a fresh game for the user. skillLevel and moveTime
// fall back to the configured defaults when zero.
func (m *Manager) CreateGame(ctx context.Context, p Profile, skillLevel int, moveTime time.Duration) (domain.Game, error) {
	u, err := m.EnsureUser(ctx, p)
	if err != nil {
		return domain.Game{}, err
	}

	active, err := m.store.CountActiveGames(ctx, u.ID)
	if err != nil {
		return domain.Game{}, fmt.Errorf("%w: count active games: %v", ErrPersistenceFailed, err)
	}
	if active >= m.cfg.MaxActiveGamesPerUser {
		return domain.Game{}, fmt.Errorf("%w: %d active games", ErrLimitExceeded, active)
	}

	if skillLevel <= 0 {
		skillLevel = m.cfg.DefaultSkillLevel
	}
	if moveTime <= 0 {
		moveTime = m.cfg.DefaultMoveTime
	}
	g, err := m.store.CreateGame(ctx, domain.Game{
		UserID:         u.ID,
		BoardFEN:       rules.StartingFEN,
		Status:         domain.GameActive,
		SkillLevel:     skillLevel,
		MoveTimeMillis: int(moveTime.Milliseconds()),
	})
	if err != nil {
		return domain.Game{}, m.mapStoreErr(err)
	}

	m.logger.Info("game created",
		zap.Int64("game_id", g.ID),
		zap.Int64("user_id", u.ID),
		zap.Int("skill_level", skillLevel))
	m.publish(events.KindGameCreated, map[string]any{
		"game_id": g.ID, "user_id": u.ID, "skill_level": skillLevel,
	})
	m.record(u.ID, "game_created", fmt.Sprintf("game %d started", g.ID), map[string]any{"game_id": g.ID})
	return g, nil
}

// SubmitMove plays one user move and, when the game continues, the
// engine reply. gameID 0 targets the user's most recent active game.
// A pending engine reply left over from an earlier engine failure is
// completed before the new user move is considered.
func (m *Manager) SubmitMove(ctx context.Context, p Profile, gameID int64, moveText string) (MoveOutcome, error) {
	u, err := m.EnsureUser(ctx, p)
	if err != nil {
		return MoveOutcome{}, err
	}
	g, err := m.resolveGame(ctx, u, gameID)
	if err != nil {
		return MoveOutcome{}, err
	}
	if g.Status != domain.GameActive {
		return MoveOutcome{}, fmt.Errorf("%w: game %d is %s", ErrInvalidState, g.ID, g.Status)
	}

	release, ok := m.locks.tryAcquire(g.ID)
	if !ok {
		return MoveOutcome{}, ErrBusy
	}
	defer release()

	// Re-read under the lock; a concurrent call may have just moved or
	// finished this game.
	g, err = m.store.GetGame(ctx, g.ID)
	if err != nil {
		return MoveOutcome{}, m.mapStoreErr(err)
	}
	if g.Status != domain.GameActive {
		return MoveOutcome{}, fmt.Errorf("%w: game %d is %s", ErrInvalidState, g.ID, g.Status)
	}

	if engineOwesReply(g) {
		g, err = m.completePendingReply(ctx, u, g)
		if err != nil {
			return MoveOutcome{}, err
		}
		if g.Status != domain.GameActive {
			return MoveOutcome{}, fmt.Errorf("%w: game %d finished by the pending engine reply", ErrInvalidState, g.ID)
		}
	}

	applied, err := rules.ApplyMove(g.BoardFEN, moveText)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			return MoveOutcome{}, fmt.Errorf("%w: %q", ErrIllegalMove, moveText)
		}
		return MoveOutcome{}, fmt.Errorf("validate move: %w", err)
	}
	userMove := domain.Move{
		GameID: g.ID,
		Seq:    g.MoveCount + 1,
		UCI:    applied.UCI,
		SAN:    applied.SAN,
		Actor:  domain.ActorUser,
	}

	verdict, err := rules.Outcome(applied.NewFEN)
	if err != nil {
		return MoveOutcome{}, fmt.Errorf("inspect position: %w", err)
	}
	if verdict.Terminal {
		g, err = m.finishGame(ctx, u, g, []domain.Move{userMove}, applied.NewFEN, verdict)
		if err != nil {
			return MoveOutcome{}, err
		}
		return buildOutcome(g, userMove, nil, verdict), nil
	}

	reply, engineErr := m.oracle.Play(ctx, applied.NewFEN, g.SkillLevel,
		time.Duration(g.MoveTimeMillis)*time.Millisecond)
	var engineApplied rules.Applied
	if engineErr == nil {
		engineApplied, err = rules.ApplyUCI(applied.NewFEN, reply.MoveUCI)
		if err != nil {
			m.logger.Warn("engine reply rejected by rule check",
				zap.Int64("game_id", g.ID),
				zap.String("reply", reply.MoveUCI),
				zap.Error(err))
			engineErr = fmt.Errorf("%w: reply %q", engine.ErrProtocol, reply.MoveUCI)
		}
	}
	if engineErr != nil {
		// The user move stands; the game stays active and the engine
		// reply is retried on the next submission.
		m.logger.Warn("engine move failed, keeping user move",
			zap.Int64("game_id", g.ID),
			zap.Error(engineErr))
		g, err = m.persistOngoing(ctx, u, g, []domain.Move{userMove}, applied.NewFEN)
		if err != nil {
			return MoveOutcome{}, err
		}
		return buildOutcome(g, userMove, nil, rules.Verdict{}),
			fmt.Errorf("%w: %v", ErrEngineUnavailable, engineErr)
	}

	engineMove := domain.Move{
		GameID:  g.ID,
		Seq:     g.MoveCount + 2,
		UCI:     engineApplied.UCI,
		SAN:     engineApplied.SAN,
		Actor:   domain.ActorEngine,
		Elapsed: reply.Elapsed,
	}
	pair := []domain.Move{userMove, engineMove}

	verdict, err = rules.Outcome(engineApplied.NewFEN)
	if err != nil {
		return MoveOutcome{}, fmt.Errorf("inspect position: %w", err)
	}
	if verdict.Terminal {
		g, err = m.finishGame(ctx, u, g, pair, engineApplied.NewFEN, verdict)
	} else {
		g, err = m.persistOngoing(ctx, u, g, pair, engineApplied.NewFEN)
	}
	if err != nil {
		return MoveOutcome{}, err
	}
	return buildOutcome(g, userMove, &engineMove, verdict), nil
}

// completePendingReply plays the engine half-move the game is waiting
// for. Caller holds the game lock.
func (m *Manager) completePendingReply(ctx context.Context, u domain.User, g domain.Game) (domain.Game, error) {
	reply, err := m.oracle.Play(ctx, g.BoardFEN, g.SkillLevel,
		time.Duration(g.MoveTimeMillis)*time.Millisecond)
	if err != nil {
		return g, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	applied, err := rules.ApplyUCI(g.BoardFEN, reply.MoveUCI)
	if err != nil {
		m.logger.Warn("engine reply rejected by rule check",
			zap.Int64("game_id", g.ID),
			zap.String("reply", reply.MoveUCI),
			zap.Error(err))
		return g, fmt.Errorf("%w: reply %q", ErrEngineUnavailable, reply.MoveUCI)
	}
	mv := domain.Move{
		GameID:  g.ID,
		Seq:     g.MoveCount + 1,
		UCI:     applied.UCI,
		SAN:     applied.SAN,
		Actor:   domain.ActorEngine,
		Elapsed: reply.Elapsed,
	}
	verdict, err := rules.Outcome(applied.NewFEN)
	if err != nil {
		return g, fmt.Errorf("inspect position: %w", err)
	}
	if verdict.Terminal {
		return m.finishGame(ctx, u, g, []domain.Move{mv}, applied.NewFEN, verdict)
	}
	return m.persistOngoing(ctx, u, g, []domain.Move{mv}, applied.NewFEN)
}

// Resign ends the user's game immediately; the engine is credited with
// the win. Resigning a game that already ended is a no-op reporting the
// recorded outcome.
func (m *Manager) Resign(ctx context.Context, p Profile, gameID int64) (domain.Game, error) {
	u, err := m.EnsureUser(ctx, p)
	if err != nil {
		return domain.Game{}, err
	}
	g, err := m.resolveGame(ctx, u, gameID)
	if err != nil {
		return domain.Game{}, err
	}
	if g.Status != domain.GameActive {
		return g, nil
	}

	release, ok := m.locks.tryAcquire(g.ID)
	if !ok {
		return domain.Game{}, ErrBusy
	}
	defer release()

	// Re-read under the lock; a concurrent call may have just ended
	// this game, which keeps the resign a no-op.
	g, err = m.store.GetGame(ctx, g.ID)
	if err != nil {
		return domain.Game{}, m.mapStoreErr(err)
	}
	if g.Status != domain.GameActive {
		return g, nil
	}

	now := time.Now().UTC()
	err = m.store.ApplyMoves(ctx, g.ID, nil, g.BoardFEN, domain.GameAbandoned, domain.ResultAbandoned, now)
	if err != nil {
		return domain.Game{}, m.mapStoreErr(err)
	}
	m.locks.forget(g.ID)

	g.Status = domain.GameAbandoned
	g.Result = domain.ResultAbandoned
	g.FinishedAt = now

	m.logger.Info("game resigned", zap.Int64("game_id", g.ID), zap.Int64("user_id", u.ID))
	m.publish(events.KindGameFinished, map[string]any{
		"game_id": g.ID, "user_id": u.ID, "result": string(g.Result), "reason": "resignation",
	})
	m.record(u.ID, "game_finished", fmt.Sprintf("game %d resigned", g.ID), map[string]any{"game_id": g.ID})
	return g, nil
}

// AnalyzePosition asks the engine for its view of the game's current
// position at full strength.
func (m *Manager) AnalyzePosition(ctx context.Context, p Profile, gameID int64, depth int) (engine.Evaluation, error) {
	u, err := m.EnsureUser(ctx, p)
	if err != nil {
		return engine.Evaluation{}, err
	}
	g, err := m.resolveGame(ctx, u, gameID)
	if err != nil {
		return engine.Evaluation{}, err
	}
	if depth <= 0 {
		depth = m.cfg.AnalysisDepth
	}
	ev, err := m.oracle.Evaluate(ctx, g.BoardFEN, depth)
	if err != nil {
		return engine.Evaluation{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	m.record(u.ID, "position_analyzed", fmt.Sprintf("game %d depth %d", g.ID, depth), map[string]any{"game_id": g.ID})
	return ev, nil
}

// ExportPGN renders the game's full move log.
func (m *Manager) ExportPGN(ctx context.Context, p Profile, gameID int64) (string, error) {
	u, err := m.EnsureUser(ctx, p)
	if err != nil {
		return "", err
	}
	g, err := m.resolveGame(ctx, u, gameID)
	if err != nil {
		return "", err
	}
	if m.cache != nil {
		if pgn, err := m.cache.PGN(ctx, g.ID); err == nil {
			return pgn, nil
		}
	}
	moves, err := m.store.ListMoves(ctx, g.ID)
	if err != nil {
		return "", m.mapStoreErr(err)
	}
	pgn, err := rules.BuildPGN(g, u, moves)
	if err != nil {
		return "", err
	}
	if m.cache != nil {
		if err := m.cache.SetPGN(ctx, g.ID, pgn); err != nil {
			m.logger.Warn("pgn cache write", zap.Int64("game_id", g.ID), zap.Error(err))
		}
	}
	return pgn, nil
}

// CurrentGame returns the user's most recent active game.
func (m *Manager) CurrentGame(ctx context.Context, p Profile) (domain.Game, error) {
	u, err := m.EnsureUser(ctx, p)
	if err != nil {
		return domain.Game{}, err
	}
	g, err := m.store.ActiveGame(ctx, u.ID)
	if err != nil {
		return domain.Game{}, m.mapStoreErr(err)
	}
	return g, nil
}

// History lists the user's games, newest first.
func (m *Manager) History(ctx context.Context, p Profile, limit int) ([]domain.Game, error) {
	u, err := m.EnsureUser(ctx, p)
	if err != nil {
		return nil, err
	}
	games, err := m.store.ListGamesByUser(ctx, u.ID, limit)
	if err != nil {
		return nil, m.mapStoreErr(err)
	}
	return games, nil
}

// Stats snapshots system-wide counters straight from the store.
func (m *Manager) Stats(ctx context.Context) (domain.SystemStats, error) {
	return m.store.Stats(ctx)
}

// SetUserBlocked toggles the admin block flag.
func (m *Manager) SetUserBlocked(ctx context.Context, telegramID int64, blocked bool) error {
	if err := m.store.SetUserBlocked(ctx, telegramID, blocked); err != nil {
		return m.mapStoreErr(err)
	}
	m.publish(events.KindSystemAlert, map[string]any{
		"telegram_id": telegramID, "blocked": blocked,
	})
	return nil
}

// engineOwesReply reports whether the last persisted half-move was the
// user's, which happens only after an engine failure.
func engineOwesReply(g domain.Game) bool {
	return g.MoveCount%2 == 1
}

func (m *Manager) resolveGame(ctx context.Context, u domain.User, gameID int64) (domain.Game, error) {
	if gameID == 0 {
		g, err := m.store.ActiveGame(ctx, u.ID)
		if err != nil {
			return domain.Game{}, m.mapStoreErr(err)
		}
		return g, nil
	}
	g, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		return domain.Game{}, m.mapStoreErr(err)
	}
	// Games of other users are indistinguishable from missing ones.
	if g.UserID != u.ID {
		return domain.Game{}, ErrNotFound
	}
	return g, nil
}

func (m *Manager) persistOngoing(ctx context.Context, u domain.User, g domain.Game, moves []domain.Move, newFEN string) (domain.Game, error) {
	err := m.store.ApplyMoves(ctx, g.ID, moves, newFEN, domain.GameActive, domain.ResultNone, time.Time{})
	if err != nil {
		return domain.Game{}, m.mapStoreErr(err)
	}
	g.BoardFEN = newFEN
	g.MoveCount += len(moves)
	m.dropCachedPGN(ctx, g.ID)
	m.emitMoves(u, g, moves)
	return g, nil
}

func (m *Manager) dropCachedPGN(ctx context.Context, gameID int64) {
	if m.cache == nil {
		return
	}
	if err := m.cache.InvalidatePGN(ctx, gameID); err != nil {
		m.logger.Warn("pgn cache invalidate", zap.Int64("game_id", gameID), zap.Error(err))
	}
}

func (m *Manager) finishGame(ctx context.Context, u domain.User, g domain.Game, moves []domain.Move, newFEN string, v rules.Verdict) (domain.Game, error) {
	now := time.Now().UTC()
	err := m.store.ApplyMoves(ctx, g.ID, moves, newFEN, domain.GameFinished, v.Result, now)
	if err != nil {
		return domain.Game{}, m.mapStoreErr(err)
	}
	m.locks.forget(g.ID)
	m.dropCachedPGN(ctx, g.ID)

	g.BoardFEN = newFEN
	g.MoveCount += len(moves)
	g.Status = domain.GameFinished
	g.Result = v.Result
	g.FinishedAt = now

	m.emitMoves(u, g, moves)
	m.logger.Info("game finished",
		zap.Int64("game_id", g.ID),
		zap.String("result", string(v.Result)),
		zap.String("reason", v.Reason))
	m.publish(events.KindGameFinished, map[string]any{
		"game_id": g.ID, "user_id": u.ID, "result": string(v.Result), "reason": v.Reason,
	})
	m.record(u.ID, "game_finished", fmt.Sprintf("game %d: %s by %s", g.ID, v.Result, v.Reason),
		map[string]any{"game_id": g.ID, "result": string(v.Result)})
	return g, nil
}

// emitMoves publishes a single move_played event per pipeline pass,
// carrying every half-move committed in it.
func (m *Manager) emitMoves(u domain.User, g domain.Game, moves []domain.Move) {
	if len(moves) == 0 {
		return
	}
	halves := make([]map[string]any, 0, len(moves))
	for _, mv := range moves {
		halves = append(halves, map[string]any{
			"seq": mv.Seq, "uci": mv.UCI, "san": mv.SAN,
			"actor": string(mv.Actor), "elapsed_ms": mv.Elapsed.Milliseconds(),
		})
	}
	payload := map[string]any{
		"game_id": g.ID, "user_id": u.ID,
		"fen": g.BoardFEN, "move_count": g.MoveCount,
		"game_over": g.Status != domain.GameActive,
		"moves":     halves,
	}
	if g.Status != domain.GameActive {
		payload["result"] = string(g.Result)
	}
	m.publish(events.KindMovePlayed, payload)
	m.record(u.ID, "move_played", fmt.Sprintf("game %d at move %d", g.ID, g.MoveCount),
		map[string]any{"game_id": g.ID, "move_count": g.MoveCount})
}

func buildOutcome(g domain.Game, userMove domain.Move, engineMove *domain.Move, v rules.Verdict) MoveOutcome {
	out := MoveOutcome{
		Game:     g,
		UserMove: userMove,
		GameOver: v.Terminal,
		Result:   v.Result,
		Reason:   v.Reason,
	}
	if engineMove != nil {
		out.EngineMove = *engineMove
		out.EngineReplied = true
	}
	return out
}

func (m *Manager) mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrNotActive):
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	case errors.Is(err, store.ErrLimitExceeded):
		return fmt.Errorf("%w: %v", ErrLimitExceeded, err)
	default:
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
}

func (m *Manager) publish(kind string, payload map[string]any) {
	if m.hub != nil {
		m.hub.Publish(kind, payload)
	}
}

// record writes to the activity ledger and mirrors the entry on the
// admin stream.
func (m *Manager) record(userID int64, kind, description string, payload map[string]any) {
	if m.ledger != nil {
		m.ledger.Record(userID, kind, description, payload)
	}
	m.publish(events.KindUserActivity, map[string]any{
		"user_id": userID, "activity": kind, "description": description,
	})
}

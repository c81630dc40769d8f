package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mitsukisegondconpte/Supetelebot/internal/domain"
	"github.com/mitsukisegondconpte/Supetelebot/internal/msgcat"
	"github.com/mitsukisegondconpte/Supetelebot/internal/session"
)

// Sender is the outgoing half of the chat transport.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// BoardRenderer turns a FEN into a printable diagram. Optional; without
// one the bot replies with move text only.
type BoardRenderer interface {
	Render(fen string) (string, error)
}

// Dispatcher maps chat commands onto session operations. Bare text that
// is not a command is treated as a move.
type Dispatcher struct {
	sessions *session.Manager
	cat      *msgcat.Catalog
	sender   Sender
	renderer BoardRenderer
	logger   *zap.Logger
}

func NewDispatcher(sessions *session.Manager, cat *msgcat.Catalog, sender Sender, renderer BoardRenderer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sessions: sessions, cat: cat, sender: sender, renderer: renderer, logger: logger}
}

// Handle processes one update end to end, replying in the same chat.
func (d *Dispatcher) Handle(ctx context.Context, upd Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	p := session.Profile{
		TelegramID:   msg.From.ID,
		Username:     msg.From.Username,
		FirstName:    msg.From.FirstName,
		LastName:     msg.From.LastName,
		LanguageCode: msg.From.LanguageCode,
	}

	command, arg := splitCommand(text)
	var reply string
	switch command {
	case "/start":
		name := p.FirstName
		if name == "" {
			name = p.Username
		}
		reply = d.cat.MustRender("bot.start", map[string]any{"Name": name})
	case "/help":
		reply = d.cat.MustRender("bot.help", nil)
	case "/new":
		reply = d.newGame(ctx, p, arg)
	case "/move":
		reply = d.playMove(ctx, p, arg)
	case "/resign":
		reply = d.resign(ctx, p)
	case "/analyze":
		reply = d.analyze(ctx, p)
	case "/board":
		reply = d.showBoard(ctx, p)
	case "/games":
		reply = d.history(ctx, p)
	case "/pgn":
		reply = d.exportPGN(ctx, p)
	default:
		if strings.HasPrefix(command, "/") {
			reply = d.cat.MustRender("bot.help", nil)
		} else {
			reply = d.playMove(ctx, p, text)
		}
	}
	if reply == "" {
		return
	}
	if err := d.sender.SendMessage(ctx, msg.Chat.ID, reply); err != nil {
		d.logger.Warn("reply failed",
			zap.Int64("chat_id", msg.Chat.ID),
			zap.Error(err))
	}
}

func (d *Dispatcher) newGame(ctx context.Context, p session.Profile, arg string) string {
	skill := 0
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > 20 {
			return d.cat.MustRender("bot.help", nil)
		}
		skill = n
	}
	g, err := d.sessions.CreateGame(ctx, p, skill, 0)
	if err != nil {
		return d.errorText(err)
	}
	return d.cat.MustRender("game.created", map[string]any{"GameID": g.ID, "Skill": g.SkillLevel})
}

func (d *Dispatcher) playMove(ctx context.Context, p session.Profile, moveText string) string {
	if moveText == "" {
		return d.cat.MustRender("bot.help", nil)
	}
	out, err := d.sessions.SubmitMove(ctx, p, 0, moveText)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrEngineUnavailable):
		return d.cat.MustRender("move.played_waiting", map[string]any{"UserSAN": out.UserMove.SAN})
	case errors.Is(err, session.ErrIllegalMove):
		return d.cat.MustRender("move.illegal", map[string]any{"Move": moveText})
	default:
		return d.errorText(err)
	}

	if out.GameOver {
		return d.finalText(out)
	}
	reply := d.cat.MustRender("move.played", map[string]any{
		"UserSAN":   out.UserMove.SAN,
		"EngineSAN": out.EngineMove.SAN,
	})
	if d.renderer != nil {
		if board, err := d.renderer.Render(out.Game.BoardFEN); err == nil {
			reply = reply + "\n" + board
		}
	}
	return reply
}

func (d *Dispatcher) finalText(out session.MoveOutcome) string {
	data := map[string]any{"Reason": out.Reason}
	switch out.Result {
	case domain.ResultWhiteWins:
		return d.cat.MustRender("move.win", data)
	case domain.ResultBlackWins:
		return d.cat.MustRender("move.loss", data)
	default:
		return d.cat.MustRender("move.draw", data)
	}
}

func (d *Dispatcher) resign(ctx context.Context, p session.Profile) string {
	g, err := d.sessions.Resign(ctx, p, 0)
	if err != nil {
		return d.errorText(err)
	}
	if g.Status != domain.GameAbandoned {
		// The game was already over; report the recorded end instead.
		return d.cat.MustRender("game.finished", nil)
	}
	return d.cat.MustRender("game.resigned", map[string]any{"GameID": g.ID})
}

func (d *Dispatcher) analyze(ctx context.Context, p session.Profile) string {
	ev, err := d.sessions.AnalyzePosition(ctx, p, 0, 0)
	if err != nil {
		return d.errorText(err)
	}
	if ev.MateIn != 0 {
		return d.cat.MustRender("analyze.mate", map[string]any{"Best": ev.BestMoveUCI, "Mate": ev.MateIn})
	}
	return d.cat.MustRender("analyze.result", map[string]any{
		"Best":  ev.BestMoveUCI,
		"Score": formatScore(ev.ScoreCP),
		"Depth": ev.Depth,
	})
}

func (d *Dispatcher) showBoard(ctx context.Context, p session.Profile) string {
	g, err := d.sessions.CurrentGame(ctx, p)
	if err != nil {
		return d.errorText(err)
	}
	reply := d.cat.MustRender("game.board", map[string]any{
		"GameID": g.ID,
		"Moves":  g.MoveCount,
	})
	if d.renderer != nil {
		if board, err := d.renderer.Render(g.BoardFEN); err == nil {
			reply = reply + "\n" + board
		}
	}
	return reply
}

func (d *Dispatcher) history(ctx context.Context, p session.Profile) string {
	games, err := d.sessions.History(ctx, p, 10)
	if err != nil {
		return d.errorText(err)
	}
	if len(games) == 0 {
		return d.cat.MustRender("history.empty", nil)
	}
	lines := make([]string, 0, len(games))
	for _, g := range games {
		lines = append(lines, d.cat.MustRender("history.line", map[string]any{
			"GameID": g.ID,
			"Status": string(g.Status),
			"Moves":  g.MoveCount,
		}))
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) exportPGN(ctx context.Context, p session.Profile) string {
	pgn, err := d.sessions.ExportPGN(ctx, p, 0)
	if err != nil {
		return d.errorText(err)
	}
	return pgn
}

func (d *Dispatcher) errorText(err error) string {
	switch {
	case errors.Is(err, session.ErrUserBlocked):
		return d.cat.MustRender("errors.blocked", nil)
	case errors.Is(err, session.ErrNotFound):
		return d.cat.MustRender("game.none", nil)
	case errors.Is(err, session.ErrInvalidState):
		return d.cat.MustRender("game.finished", nil)
	case errors.Is(err, session.ErrBusy):
		return d.cat.MustRender("game.busy", nil)
	case errors.Is(err, session.ErrLimitExceeded):
		return d.cat.MustRender("game.limit", map[string]any{"Count": d.sessions.MaxActiveGames()})
	case errors.Is(err, session.ErrEngineUnavailable):
		return d.cat.MustRender("errors.engine", nil)
	default:
		d.logger.Error("command failed", zap.Error(err))
		return d.cat.MustRender("errors.internal", nil)
	}
}

func splitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return text, ""
	}
	parts := strings.SplitN(text, " ", 2)
	command := strings.ToLower(parts[0])
	// Commands may carry the bot name, e.g. /move@SupeteleBot e4.
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	return command, arg
}

func formatScore(cp int) string {
	return fmt.Sprintf("%+.2f", float64(cp)/100)
}

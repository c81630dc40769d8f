package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/mitsukisegondconpte/Supetelebot/internal/domain"
)

// StartingFEN is the standard initial position.
const StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var ErrIllegalMove = errors.New("illegal move")

// Applied describes one legally applied half-move.
type Applied struct {
	NewFEN string
	UCI    string
	SAN    string
}

// Verdict reports whether a position is terminal and how.
type Verdict struct {
	Terminal bool
	Result   domain.GameResult
	Reason   string
}

func gameFromFEN(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return nchess.NewGame(opt), nil
}

// uciShape matches coordinate input like e2e4 or g1f3q. SAN never has
// this form, so shape decides the decoder: the SAN decoder is lenient
// and would read "g1f3" as the pawn move f3.
var uciShape = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

// ApplyMove validates a user-supplied move against fen and returns the
// resulting position. Coordinate (UCI) input is decoded as such;
// everything else is read as SAN, matching how players type moves in
// chat.
func ApplyMove(fen, moveText string) (Applied, error) {
	moveText = strings.TrimSpace(moveText)
	if moveText == "" {
		return Applied{}, ErrIllegalMove
	}

	game, err := gameFromFEN(fen)
	if err != nil {
		return Applied{}, err
	}

	pos := game.Position()
	lower := strings.ToLower(moveText)
	if uciShape.MatchString(lower) {
		move, err := nchess.UCINotation{}.Decode(pos, lower)
		if err != nil {
			return Applied{}, ErrIllegalMove
		}
		return apply(game, move)
	}
	move, err := nchess.AlgebraicNotation{}.Decode(pos, moveText)
	if err != nil {
		return Applied{}, ErrIllegalMove
	}
	return apply(game, move)
}

// ApplyUCI validates a move strictly in UCI notation. Engine replies go
// through here so a malformed reply is rejected rather than guessed at.
func ApplyUCI(fen, uci string) (Applied, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if uci == "" {
		return Applied{}, ErrIllegalMove
	}

	game, err := gameFromFEN(fen)
	if err != nil {
		return Applied{}, err
	}

	move, err := nchess.UCINotation{}.Decode(game.Position(), uci)
	if err != nil {
		return Applied{}, ErrIllegalMove
	}
	return apply(game, move)
}

func apply(game *nchess.Game, move *nchess.Move) (Applied, error) {
	pos := game.Position()
	san := nchess.AlgebraicNotation{}.Encode(pos, move)
	uci := strings.ToLower(nchess.UCINotation{}.Encode(pos, move))
	if err := game.Move(move, nil); err != nil {
		return Applied{}, ErrIllegalMove
	}
	return Applied{
		NewFEN: game.FEN(),
		UCI:    uci,
		SAN:    san,
	}, nil
}

// Outcome inspects fen for a terminal state. Threefold-repetition style
// draws require move history and are detected at move time by ApplyMove's
// game evaluation, so a position-only check covers mate, stalemate and
// insufficient material.
func Outcome(fen string) (Verdict, error) {
	game, err := gameFromFEN(fen)
	if err != nil {
		return Verdict{}, err
	}

	switch game.Outcome() {
	case nchess.WhiteWon:
		return Verdict{Terminal: true, Result: domain.ResultWhiteWins, Reason: methodName(game.Method())}, nil
	case nchess.BlackWon:
		return Verdict{Terminal: true, Result: domain.ResultBlackWins, Reason: methodName(game.Method())}, nil
	case nchess.Draw:
		return Verdict{Terminal: true, Result: domain.ResultDraw, Reason: methodName(game.Method())}, nil
	default:
		return Verdict{}, nil
	}
}

func methodName(m nchess.Method) string {
	return strings.ToLower(m.String())
}

// BuildPGN replays a game's persisted move log from the starting position
// and renders it as PGN with minimal tags.
func BuildPGN(g domain.Game, u domain.User, moves []domain.Move) (string, error) {
	game := nchess.NewGame()
	for _, mv := range moves {
		if err := game.PushNotationMove(strings.ToLower(mv.UCI), nchess.UCINotation{}, nil); err != nil {
			return "", fmt.Errorf("replay move %d (%s): %w", mv.Seq, mv.UCI, err)
		}
	}

	white := "Player"
	if name := strings.TrimSpace(u.FirstName); name != "" {
		white = name
	} else if u.Username != "" {
		white = u.Username
	}
	game.AddTagPair("Event", "Telegram chess")
	game.AddTagPair("White", white)
	game.AddTagPair("Black", fmt.Sprintf("Engine (skill %d)", g.SkillLevel))
	game.AddTagPair("Date", g.CreatedAt.Format("2006.01.02"))
	if g.Status != domain.GameActive {
		game.AddTagPair("Result", pgnResult(g.Result))
	}
	return game.String(), nil
}

func pgnResult(r domain.GameResult) string {
	switch r {
	case domain.ResultWhiteWins:
		return "1-0"
	case domain.ResultBlackWins, domain.ResultAbandoned:
		return "0-1"
	case domain.ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

package rules

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mitsukisegondconpte/Supetelebot/internal/domain"
)

func TestApplyMoveAcceptsSAN(t *testing.T) {
	applied, err := ApplyMove(StartingFEN, "e4")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if applied.SAN != "e4" || applied.UCI != "e2e4" {
		t.Fatalf("got san=%q uci=%q", applied.SAN, applied.UCI)
	}
	fields := strings.Fields(applied.NewFEN)
	if len(fields) < 2 || fields[1] != "b" {
		t.Fatalf("side to move not flipped: %q", applied.NewFEN)
	}
}

func TestApplyMoveAcceptsUCI(t *testing.T) {
	// Coordinate input must hit the UCI decoder: the SAN decoder reads
	// "g1f3" as the pawn move f3.
	applied, err := ApplyMove(StartingFEN, "g1f3")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if applied.SAN != "Nf3" || applied.UCI != "g1f3" {
		t.Fatalf("got san=%q uci=%q, want Nf3/g1f3", applied.SAN, applied.UCI)
	}

	applied, err = ApplyMove(StartingFEN, "B1C3")
	if err != nil {
		t.Fatalf("ApplyMove uppercase: %v", err)
	}
	if applied.SAN != "Nc3" {
		t.Fatalf("got san %q, want Nc3", applied.SAN)
	}
}

func TestApplyMoveRejectsIllegalUCIShape(t *testing.T) {
	// UCI-shaped but illegal input must not be retried as SAN.
	if _, err := ApplyMove(StartingFEN, "g1f4"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("got %v, want ErrIllegalMove", err)
	}
}

func TestApplyMoveEmptyFENMeansStart(t *testing.T) {
	applied, err := ApplyMove("", "d4")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if applied.UCI != "d2d4" {
		t.Fatalf("got uci %q, want d2d4", applied.UCI)
	}
}

func TestApplyMoveRejectsIllegal(t *testing.T) {
	for _, text := range []string{"e5", "e2e5", "Ke2", "nonsense"} {
		if _, err := ApplyMove(StartingFEN, text); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("ApplyMove(%q): got %v, want ErrIllegalMove", text, err)
		}
	}
}

func TestApplyUCIIsStrict(t *testing.T) {
	if _, err := ApplyUCI(StartingFEN, "Nf3"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("SAN accepted by strict parser: %v", err)
	}
	applied, err := ApplyUCI(StartingFEN, "e2e4")
	if err != nil {
		t.Fatalf("ApplyUCI: %v", err)
	}
	if applied.UCI != "e2e4" {
		t.Fatalf("got uci %q", applied.UCI)
	}
}

func TestOutcomeNonTerminal(t *testing.T) {
	v, err := Outcome(StartingFEN)
	if err != nil {
		t.Fatalf("Outcome: %v", err)
	}
	if v.Terminal {
		t.Fatalf("starting position reported terminal: %+v", v)
	}
}

func TestOutcomeCheckmate(t *testing.T) {
	fen := StartingFEN
	for _, text := range []string{"f3", "e5", "g4", "Qh4"} {
		applied, err := ApplyMove(fen, text)
		if err != nil {
			t.Fatalf("ApplyMove(%q): %v", text, err)
		}
		fen = applied.NewFEN
	}
	v, err := Outcome(fen)
	if err != nil {
		t.Fatalf("Outcome: %v", err)
	}
	if !v.Terminal || v.Result != domain.ResultBlackWins {
		t.Fatalf("fool's mate not detected: %+v", v)
	}
	if v.Reason != "checkmate" {
		t.Fatalf("got reason %q, want checkmate", v.Reason)
	}
}

func TestOutcomeStalemate(t *testing.T) {
	v, err := Outcome("5k2/5P2/5K2/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatalf("Outcome: %v", err)
	}
	if !v.Terminal || v.Result != domain.ResultDraw {
		t.Fatalf("stalemate not detected: %+v", v)
	}
}

func TestOutcomeInsufficientMaterial(t *testing.T) {
	v, err := Outcome("k7/8/1K6/8/8/8/8/8 w - - 0 1")
	if err != nil {
		t.Fatalf("Outcome: %v", err)
	}
	if !v.Terminal || v.Result != domain.ResultDraw {
		t.Fatalf("bare kings not a draw: %+v", v)
	}
}

func TestBuildPGN(t *testing.T) {
	g := domain.Game{
		ID:         7,
		Status:     domain.GameFinished,
		Result:     domain.ResultWhiteWins,
		SkillLevel: 5,
		CreatedAt:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	u := domain.User{FirstName: "Marc"}
	moves := []domain.Move{
		{Seq: 1, UCI: "e2e4", Actor: domain.ActorUser},
		{Seq: 2, UCI: "e7e5", Actor: domain.ActorEngine},
		{Seq: 3, UCI: "g1f3", Actor: domain.ActorUser},
	}
	pgn, err := BuildPGN(g, u, moves)
	if err != nil {
		t.Fatalf("BuildPGN: %v", err)
	}
	for _, want := range []string{"e4", "Nf3", "Marc", "1-0", "2025.06.01"} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("PGN missing %q:\n%s", want, pgn)
		}
	}
}

func TestBuildPGNRejectsCorruptLog(t *testing.T) {
	g := domain.Game{Status: domain.GameActive}
	if _, err := BuildPGN(g, domain.User{}, []domain.Move{{Seq: 1, UCI: "e2e5"}}); err == nil {
		t.Fatal("corrupt move log accepted")
	}
}

func TestBoardDiagramStartingPosition(t *testing.T) {
	diagram, err := BoardDiagram(StartingFEN)
	if err != nil {
		t.Fatalf("BoardDiagram: %v", err)
	}
	lines := strings.Split(diagram, "\n")
	if len(lines) != 9 {
		t.Fatalf("expected 8 ranks plus file legend, got %d lines", len(lines))
	}
	if lines[0] != "8 ♜ ♞ ♝ ♛ ♚ ♝ ♞ ♜" {
		t.Fatalf("rank 8 wrong: %q", lines[0])
	}
	if lines[7] != "1 ♖ ♘ ♗ ♕ ♔ ♗ ♘ ♖" {
		t.Fatalf("rank 1 wrong: %q", lines[7])
	}
	if lines[8] != "  a b c d e f g h" {
		t.Fatalf("legend wrong: %q", lines[8])
	}
}

func TestBoardDiagramBadFEN(t *testing.T) {
	if _, err := BoardDiagram("not a fen"); err == nil {
		t.Fatal("invalid FEN accepted")
	}
}

package rules

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

func pieceGlyph(p nchess.Piece) rune {
	if p.Color() == nchess.White {
		switch p.Type() {
		case nchess.King:
			return '♔'
		case nchess.Queen:
			return '♕'
		case nchess.Rook:
			return '♖'
		case nchess.Bishop:
			return '♗'
		case nchess.Knight:
			return '♘'
		case nchess.Pawn:
			return '♙'
		}
		return '?'
	}
	switch p.Type() {
	case nchess.King:
		return '♚'
	case nchess.Queen:
		return '♛'
	case nchess.Rook:
		return '♜'
	case nchess.Bishop:
		return '♝'
	case nchess.Knight:
		return '♞'
	case nchess.Pawn:
		return '♟'
	}
	return '?'
}

// BoardDiagram renders the position as a unicode diagram, rank 8 on
// top, suitable for monospace chat display.
func BoardDiagram(fen string) (string, error) {
	game, err := gameFromFEN(fen)
	if err != nil {
		return "", err
	}
	board := game.Position().Board()

	var b strings.Builder
	for rank := nchess.Rank8; rank >= nchess.Rank1; rank-- {
		b.WriteByte('1' + byte(rank))
		for file := nchess.FileA; file <= nchess.FileH; file++ {
			b.WriteByte(' ')
			p := board.Piece(nchess.NewSquare(file, rank))
			if p == nchess.NoPiece {
				b.WriteRune('·')
			} else {
				b.WriteRune(pieceGlyph(p))
			}
		}
		b.WriteByte('\n')
	}
	b.WriteString("  a b c d e f g h")
	return b.String(), nil
}

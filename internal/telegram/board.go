package telegram

import "github.com/mitsukisegondconpte/Supetelebot/internal/rules"

// TextBoard renders positions as unicode diagrams appended to move
// replies.
type TextBoard struct{}

func (TextBoard) Render(fen string) (string, error) {
	return rules.BoardDiagram(fen)
}

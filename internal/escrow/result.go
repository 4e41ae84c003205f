package escrow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/corentings/chess/v2"
)

// GameResult is the outcome of a finished external game, resolved from the
// host's PGN export.
type GameResult struct {
	Outcome chess.Outcome
	WhiteID string
	BlackID string
}

var pgnTagRe = regexp.MustCompile(`^\[(\w+)\s+"([^"]*)"\]`)

// ParsePGNResult reads the White, Black and Result tags from a PGN export.
func ParsePGNResult(pgn string) (GameResult, error) {
	res := GameResult{Outcome: chess.NoOutcome}

	for _, line := range strings.Split(pgn, "\n") {
		m := pgnTagRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		switch m[1] {
		// PGN tags carry the display-cased username; player ids are the
		// lowercase lichess id.
		case "White":
			res.WhiteID = strings.ToLower(m[2])
		case "Black":
			res.BlackID = strings.ToLower(m[2])
		case "Result":
			res.Outcome = chess.Outcome(m[2])
		}
	}

	if res.WhiteID == "" || res.BlackID == "" {
		return res, fmt.Errorf("PGN missing White/Black tags")
	}
	if res.Outcome == chess.NoOutcome {
		return res, fmt.Errorf("PGN has no decided result")
	}
	return res, nil
}

// Draw reports whether the game ended without a winner.
func (r GameResult) Draw() bool {
	return r.Outcome == chess.Draw
}

// WinnerID maps the winning color to a player identifier. ok is false for a
// draw or an undecided result.
func (r GameResult) WinnerID() (string, bool) {
	switch r.Outcome {
	case chess.WhiteWon:
		return r.WhiteID, true
	case chess.BlackWon:
		return r.BlackID, true
	default:
		return "", false
	}
}

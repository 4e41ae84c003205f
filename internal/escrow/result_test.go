package escrow

import (
	"testing"

	"github.com/corentings/chess/v2"
)

const whiteWinsPGN = `[Event "Cheth Game"]
[Site "https://lichess.org/AbCdEfGh"]
[White "alice"]
[Black "bob"]
[Result "1-0"]

1. e4 e5 2. Qh5 Nc6 3. Bc4 Nf6 4. Qxf7# 1-0
`

func TestParsePGNResultWhiteWins(t *testing.T) {
	res, err := ParsePGNResult(whiteWinsPGN)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if res.Outcome != chess.WhiteWon {
		t.Errorf("outcome: got %s, want %s", res.Outcome, chess.WhiteWon)
	}
	winner, ok := res.WinnerID()
	if !ok || winner != "alice" {
		t.Errorf("winner: got %q (ok=%v), want alice", winner, ok)
	}
	if res.Draw() {
		t.Error("decisive game reported as draw")
	}
}

func TestParsePGNResultBlackWins(t *testing.T) {
	pgn := `[White "alice"]
[Black "bob"]
[Result "0-1"]

1. f3 e5 2. g4 Qh4# 0-1
`
	res, err := ParsePGNResult(pgn)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	winner, ok := res.WinnerID()
	if !ok || winner != "bob" {
		t.Errorf("winner: got %q (ok=%v), want bob", winner, ok)
	}
}

func TestParsePGNResultLowercasesUsernames(t *testing.T) {
	// Lichess exports render display casing in the White/Black tags while
	// users are stored under the lowercase lichess id.
	pgn := `[White "Alice"]
[Black "BoB"]
[Result "1-0"]

1. e4 e5 2. Qh5 Nc6 3. Bc4 Nf6 4. Qxf7# 1-0
`
	res, err := ParsePGNResult(pgn)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	winner, ok := res.WinnerID()
	if !ok || winner != "alice" {
		t.Errorf("winner: got %q (ok=%v), want alice", winner, ok)
	}
	if res.BlackID != "bob" {
		t.Errorf("black id: got %q, want bob", res.BlackID)
	}
}

func TestParsePGNResultDraw(t *testing.T) {
	pgn := `[White "alice"]
[Black "bob"]
[Result "1/2-1/2"]

1. e4 e5 1/2-1/2
`
	res, err := ParsePGNResult(pgn)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.Draw() {
		t.Error("drawn game not reported as draw")
	}
	if _, ok := res.WinnerID(); ok {
		t.Error("draw produced a winner")
	}
}

func TestParsePGNResultUndecided(t *testing.T) {
	pgn := `[White "alice"]
[Black "bob"]
[Result "*"]

1. e4 e5
`
	if _, err := ParsePGNResult(pgn); err == nil {
		t.Error("undecided result parsed without error")
	}
}

func TestParsePGNResultMissingPlayers(t *testing.T) {
	pgn := `[Result "1-0"]

1. e4 1-0
`
	if _, err := ParsePGNResult(pgn); err == nil {
		t.Error("PGN without player tags parsed without error")
	}
}

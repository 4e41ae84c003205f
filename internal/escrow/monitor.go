package escrow

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/cheth/backend/internal/chesshost"
)

// GameEvent is one externally-sourced status update for a chess session.
type GameEvent struct {
	Status string
	Winner string // "white" or "black" when the host reports one
	PGN    string // set by the polling backend
}

// Statuses the chess host reports for a game that is over.
var terminalStatuses = map[string]bool{
	"mate":       true,
	"resign":     true,
	"draw":       true,
	"stalemate":  true,
	"outoftime":  true,
	"timeout":    true,
	"aborted":    true,
	"cheat":      true,
	"variantEnd": true,
	"finished":   true,
}

// Terminal reports whether the event ends the game.
func (e GameEvent) Terminal() bool {
	return terminalStatuses[e.Status]
}

// ResultSource delivers status events for an external game session. The two
// backends (push stream, pull poller) are selected by configuration.
type ResultSource interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan GameEvent, error)
}

// StreamSource attaches to the host's NDJSON event stream.
type StreamSource struct {
	Host *chesshost.Client
}

// streamEvent covers the shapes the host emits: top-level status fields and
// the gameFull wrapper carrying them under "state".
type streamEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Winner string `json:"winner"`
	State  *struct {
		Status string `json:"status"`
		Winner string `json:"winner"`
	} `json:"state"`
}

func (s *StreamSource) Subscribe(ctx context.Context, sessionID string) (<-chan GameEvent, error) {
	body, err := s.Host.StreamGame(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	events := make(chan GameEvent)
	go func() {
		defer close(events)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var raw streamEvent
			if err := json.Unmarshal(line, &raw); err != nil {
				log.Printf("[MONITOR] Error processing game update for %s: %v", sessionID, err)
				continue
			}

			evt := GameEvent{Status: raw.Status, Winner: raw.Winner}
			if raw.State != nil {
				evt.Status = raw.State.Status
				evt.Winner = raw.State.Winner
			}
			if evt.Status == "" {
				continue
			}

			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Printf("[MONITOR] Game stream for %s ended with error: %v", sessionID, err)
		} else {
			log.Printf("[MONITOR] Game stream for %s ended", sessionID)
		}
	}()

	return events, nil
}

// PollSource falls back to polling the PGN export until the Result tag is
// decided. The initial export doubles as the attach check so a dead session
// fails Subscribe the same way a dead stream does.
type PollSource struct {
	Host     *chesshost.Client
	Interval time.Duration
}

func (p *PollSource) Subscribe(ctx context.Context, sessionID string) (<-chan GameEvent, error) {
	pgn, err := p.Host.ExportGame(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	events := make(chan GameEvent)
	go func() {
		defer close(events)

		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()

		for {
			if evt, done := pollEvent(pgn); done {
				select {
				case events <- evt:
				case <-ctx.Done():
				}
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			next, err := p.Host.ExportGame(ctx, sessionID)
			if err != nil {
				log.Printf("[MONITOR] Poll export for %s failed: %v", sessionID, err)
				continue
			}
			pgn = next
		}
	}()

	return events, nil
}

func pollEvent(pgn string) (GameEvent, bool) {
	if _, err := ParsePGNResult(pgn); err != nil {
		return GameEvent{}, false
	}
	return GameEvent{Status: "finished", PGN: pgn}, true
}

package escrow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cheth/backend/internal/chesshost"
	"github.com/cheth/backend/internal/config"
)

func TestTerminalStatuses(t *testing.T) {
	for _, status := range []string{"mate", "resign", "draw", "outoftime", "aborted"} {
		if !(GameEvent{Status: status}).Terminal() {
			t.Errorf("%s should be terminal", status)
		}
	}
	for _, status := range []string{"", "started", "created"} {
		if (GameEvent{Status: status}).Terminal() {
			t.Errorf("%q should not be terminal", status)
		}
	}
}

func TestPollEvent(t *testing.T) {
	inProgress := `[White "alice"]
[Black "bob"]
[Result "*"]

1. e4 e5
`
	if _, done := pollEvent(inProgress); done {
		t.Error("in-progress PGN reported as finished")
	}

	if evt, done := pollEvent(whiteWinsPGN); !done {
		t.Error("decided PGN not reported as finished")
	} else {
		if evt.Status != "finished" {
			t.Errorf("status: got %q", evt.Status)
		}
		if evt.PGN == "" {
			t.Error("poll event dropped the PGN")
		}
	}
}

func hostClientFor(serverURL string) *chesshost.Client {
	cfg := &config.Config{
		LichessBaseURL:        serverURL,
		ClockLimitSeconds:     60,
		LichessTimeoutSeconds: 5,
	}
	return chesshost.NewClient(cfg, nil)
}

func TestStreamSourceParsesNDJSON(t *testing.T) {
	ndjson := `{"type":"gameFull","id":"abc123","state":{"status":"started"}}
{"type":"gameState","status":"started"}

{"type":"gameState","status":"mate","winner":"white"}
`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stream/game/abc123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(ndjson))
	}))
	defer server.Close()

	source := &StreamSource{Host: hostClientFor(server.URL)}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := source.Subscribe(ctx, "abc123")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var got []GameEvent
	for evt := range events {
		got = append(got, evt)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[0].Status != "started" {
		t.Errorf("gameFull state status not unwrapped: %+v", got[0])
	}
	last := got[2]
	if !last.Terminal() || last.Winner != "white" {
		t.Errorf("terminal event wrong: %+v", last)
	}
}

func TestStreamSourceFailsSubscribeOnRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	source := &StreamSource{Host: hostClientFor(server.URL)}
	if _, err := source.Subscribe(context.Background(), "abc123"); err == nil {
		t.Fatal("subscribe succeeded against a rate-limited host")
	}
}

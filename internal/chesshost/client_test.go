package chesshost

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cheth/backend/internal/config"
)

func testClient(serverURL string, rdb *redis.Client) *Client {
	cfg := &config.Config{
		LichessBaseURL:        serverURL,
		LichessToken:          "test-token",
		ClockLimitSeconds:     60,
		LichessTimeoutSeconds: 5,
	}
	return NewClient(cfg, rdb)
}

func TestCreateOpenChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/challenge/open" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("users"); got != "alice,bob" {
			t.Errorf("users: %q", got)
		}
		if got := r.PostForm.Get("clock.limit"); got != "60" {
			t.Errorf("clock.limit: %q", got)
		}
		if got := r.PostForm.Get("rated"); got != "false" {
			t.Errorf("rated: %q", got)
		}
		if got := r.PostForm.Get("rules"); got != "noRematch,noGiveTime,noEarlyDraw" {
			t.Errorf("rules: %q", got)
		}
		w.Write([]byte(`{"challenge":{"id":"AbCdEfGh","url":"https://lichess.org/AbCdEfGh"}}`))
	}))
	defer server.Close()

	c := testClient(server.URL, nil)
	id, err := c.CreateOpenChallenge(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	if id != "AbCdEfGh" {
		t.Errorf("challenge id: %q", id)
	}
}

func TestCreateOpenChallengeFlatID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"XyZw1234"}`))
	}))
	defer server.Close()

	c := testClient(server.URL, nil)
	id, err := c.CreateOpenChallenge(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	if id != "XyZw1234" {
		t.Errorf("challenge id: %q", id)
	}
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "15")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := testClient(server.URL, nil)
	_, err := c.CreateOpenChallenge(context.Background(), "alice", "bob")

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 15*time.Second {
		t.Errorf("retry after: %s", rl.RetryAfter)
	}
}

func TestRateLimitWithoutHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := testClient(server.URL, nil)
	_, err := c.ExportGame(context.Background(), "AbCdEfGh")

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 0 {
		t.Errorf("retry after without hint: %s", rl.RetryAfter)
	}
}

func TestExportGame(t *testing.T) {
	const pgn = `[White "alice"]
[Black "bob"]
[Result "1-0"]

1. e4 1-0
`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/game/export/AbCdEfGh" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "application/x-chess-pgn" {
			t.Errorf("accept header: %q", got)
		}
		w.Write([]byte(pgn))
	}))
	defer server.Close()

	c := testClient(server.URL, nil)
	got, err := c.ExportGame(context.Background(), "AbCdEfGh")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if got != pgn {
		t.Errorf("pgn mismatch: %q", got)
	}
}

func TestFetchUserInfoCaches(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"id":"alice","username":"Alice","perfs":{"rapid":{"rating":1850}}}`))
	}))
	defer server.Close()

	c := testClient(server.URL, rdb)
	ctx := context.Background()

	first, err := c.FetchUserInfo(ctx, "alice")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.Perfs.Rapid.Rating != 1850 {
		t.Errorf("rating: %d", first.Perfs.Rapid.Rating)
	}

	second, err := c.FetchUserInfo(ctx, "alice")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if second.ID != "alice" {
		t.Errorf("cached id: %q", second.ID)
	}
	if hits != 1 {
		t.Errorf("host hit %d times, cache miss", hits)
	}
}

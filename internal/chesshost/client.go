package chesshost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cheth/backend/internal/config"
)

// RateLimitError reports a 429 from the chess host, with the Retry-After
// hint when the host provided one.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by chess host (retry after %s)", e.RetryAfter)
	}
	return "rate limited by chess host"
}

// Client handles Lichess API integration
type Client struct {
	baseURL    string
	token      string
	clockLimit int
	rdb        *redis.Client
	httpClient *http.Client
	streamHTTP *http.Client
}

// NewClient creates a new Lichess client
func NewClient(cfg *config.Config, rdb *redis.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.LichessBaseURL, "/"),
		token:      cfg.LichessToken,
		clockLimit: cfg.ClockLimitSeconds,
		rdb:        rdb,
		httpClient: &http.Client{Timeout: time.Duration(cfg.LichessTimeoutSeconds) * time.Second},
		// Streams stay open for the length of a game; no global timeout here,
		// cancellation comes from the request context.
		streamHTTP: &http.Client{},
	}
}

// UserInfo is the subset of the Lichess user payload this service reads.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Perfs    struct {
		Rapid struct {
			Rating int `json:"rating"`
		} `json:"rapid"`
	} `json:"perfs"`
}

// challengeResponse covers both shapes Lichess has used for open challenges:
// a flat id and a nested challenge object.
type challengeResponse struct {
	ID        string `json:"id"`
	Challenge struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"challenge"`
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// checkRateLimit converts a 429 response into a RateLimitError with the
// Retry-After hint when present.
func checkRateLimit(resp *http.Response) error {
	if resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	var retryAfter time.Duration
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	return &RateLimitError{RetryAfter: retryAfter}
}

// CreateOpenChallenge opens a challenge naming both players with the
// configured time control and returns the Lichess game id.
func (c *Client) CreateOpenChallenge(ctx context.Context, player1, player2 string) (string, error) {
	form := url.Values{
		"variant":         {"standard"},
		"rated":           {"false"},
		"color":           {"random"},
		"clock.limit":     {strconv.Itoa(c.clockLimit)},
		"clock.increment": {"0"},
		"users":           {player1 + "," + player2},
		"rules":           {"noRematch,noGiveTime,noEarlyDraw"},
		"name":            {"Cheth Game"},
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/challenge/open", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create challenge request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("challenge request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkRateLimit(resp); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("challenge request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var challenge challengeResponse
	if err := json.NewDecoder(resp.Body).Decode(&challenge); err != nil {
		return "", fmt.Errorf("decode challenge response: %w", err)
	}

	id := challenge.ID
	if id == "" {
		id = challenge.Challenge.ID
	}
	if id == "" {
		return "", fmt.Errorf("no challenge id in response")
	}

	log.Printf("[LICHESS] Challenge created: id=%s players=%s,%s clock=%ds", id, player1, player2, c.clockLimit)
	return id, nil
}

// ExportGame fetches the PGN export for a finished or in-progress game.
func (c *Client) ExportGame(ctx context.Context, gameID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/game/export/"+gameID, nil)
	if err != nil {
		return "", fmt.Errorf("create export request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/x-chess-pgn")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("export request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkRateLimit(resp); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("export request failed with status %d", resp.StatusCode)
	}

	pgn, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read export body: %w", err)
	}
	return string(pgn), nil
}

// StreamGame opens the NDJSON event stream for a game. The caller owns the
// returned body and must close it.
func (c *Client) StreamGame(ctx context.Context, gameID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/stream/game/"+gameID, nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	c.authorize(req)

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}

	if err := checkRateLimit(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream request failed with status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// FetchUserInfo looks up a Lichess account, caching results in Redis for
// 10 minutes.
func (c *Client) FetchUserInfo(ctx context.Context, handle string) (*UserInfo, error) {
	cacheKey := "lichess_user:" + handle
	if c.rdb != nil {
		if cached, err := c.rdb.Get(ctx, cacheKey).Result(); err == nil {
			var info UserInfo
			if err := json.Unmarshal([]byte(cached), &info); err == nil {
				return &info, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/user/"+handle, nil)
	if err != nil {
		return nil, fmt.Errorf("create user request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkRateLimit(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user request failed with status %d", resp.StatusCode)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}

	if c.rdb != nil {
		if data, err := json.Marshal(&info); err == nil {
			c.rdb.Set(ctx, cacheKey, data, 10*time.Minute)
		}
	}
	return &info, nil
}

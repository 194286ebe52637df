// ABOUTME: REST client for the chat platform's HTTP API
// ABOUTME: Every call passes through the token bucket limiter before hitting the wire

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/harborbot/harbor/internal/ratelimit"
	"github.com/harborbot/harbor/internal/store"
)

// DefaultBaseURL is the platform's REST API root.
const DefaultBaseURL = "https://discord.com/api/v10"

const defaultAcquireTimeout = 30 * time.Second

// ErrRateLimited is returned when a request was rejected for rate limiting
// and the single retry was rejected too.
var ErrRateLimited = errors.New("rate limited by server")

// CommandOption is one parameter of a slash command.
type CommandOption struct {
	Type        int    `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
}

// CommandDefinition is the registration payload for one slash command.
type CommandDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Options     []CommandOption `json:"options,omitempty"`
}

// GatewayBotInfo is the /gateway/bot response: the socket URL plus the
// identify budget.
type GatewayBotInfo struct {
	URL               string `json:"url"`
	Shards            int    `json:"shards"`
	SessionStartLimit struct {
		Total          int `json:"total"`
		Remaining      int `json:"remaining"`
		ResetAfter     int `json:"reset_after"` // milliseconds
		MaxConcurrency int `json:"max_concurrency"`
	} `json:"session_start_limit"`
}

// Options configures a Client.
type Options struct {
	Token   string
	BaseURL string

	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter

	// Store persists the identify budget from /gateway/bot; may be nil.
	Store store.SessionStore

	// AcquireTimeout bounds how long a call may wait for a rate limit token.
	AcquireTimeout time.Duration

	Logger *slog.Logger
}

// Client talks to the REST API. Safe for concurrent use.
type Client struct {
	token   string
	baseURL string

	httpClient     *http.Client
	limiter        *ratelimit.Limiter
	store          store.SessionStore
	acquireTimeout time.Duration
	logger         *slog.Logger

	mu    sync.Mutex
	appID string // cached after the first lookup
}

// New creates a Client, applying defaults for anything unset.
func New(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	acquireTimeout := opts.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		token:          opts.Token,
		baseURL:        baseURL,
		httpClient:     httpClient,
		limiter:        opts.Limiter,
		store:          opts.Store,
		acquireTimeout: acquireTimeout,
		logger:         logger.With("component", "api"),
	}
}

// GatewayURL resolves the websocket URL to dial, with the protocol version
// and encoding pinned.
func (c *Client) GatewayURL(ctx context.Context) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/gateway", "/gateway", nil, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("gateway endpoint returned no url")
	}
	return resp.URL + "/?v=10&encoding=json", nil
}

// GatewayBot fetches the socket URL together with the identify budget, and
// persists the budget for observability.
func (c *Client) GatewayBot(ctx context.Context) (*GatewayBotInfo, error) {
	var info GatewayBotInfo
	if err := c.do(ctx, http.MethodGet, "/gateway/bot", "/gateway/bot", nil, &info); err != nil {
		return nil, err
	}

	if c.store != nil {
		limit := &store.SessionStartLimit{
			Total:          info.SessionStartLimit.Total,
			Remaining:      info.SessionStartLimit.Remaining,
			ResetAfter:     time.Duration(info.SessionStartLimit.ResetAfter) * time.Millisecond,
			MaxConcurrency: info.SessionStartLimit.MaxConcurrency,
			Shards:         info.Shards,
			UpdatedAt:      time.Now().UTC(),
		}
		if err := c.store.SaveSessionStartLimit(ctx, limit); err != nil {
			c.logger.Warn("persisting session start limit failed", "error", err)
		}
	}
	return &info, nil
}

// ApplicationID returns the bot's own application id, cached after the first
// lookup.
func (c *Client) ApplicationID(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.appID != "" {
		id := c.appID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/applications/@me", "/applications/@me", nil, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("application endpoint returned no id")
	}

	c.mu.Lock()
	c.appID = resp.ID
	c.mu.Unlock()
	return resp.ID, nil
}

// RegisterCommands replaces the application's global slash command set.
func (c *Client) RegisterCommands(ctx context.Context, appID string, commands []CommandDefinition) error {
	path := fmt.Sprintf("/applications/%s/commands", appID)
	err := c.do(ctx, http.MethodPut, "/applications/{id}/commands", path, commands, nil)
	if err != nil {
		return fmt.Errorf("registering %d commands: %w", len(commands), err)
	}
	c.logger.Info("commands registered", "count", len(commands))
	return nil
}

// RespondToInteraction sends the immediate text reply to a slash command
// invocation.
func (c *Client) RespondToInteraction(ctx context.Context, interactionID, interactionToken, content string) error {
	path := fmt.Sprintf("/interactions/%s/%s/callback", interactionID, interactionToken)
	body := map[string]any{
		"type": 4, // channel message with source
		"data": map[string]string{"content": content},
	}
	return c.do(ctx, http.MethodPost, "/interactions/{id}/{token}/callback", path, body, nil)
}

// SendMessage posts a plain text message to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) error {
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPost, "/channels/{id}/messages", path, body, nil)
}

// do runs one API call: take a token for the endpoint's bucket and the global
// one, send, fold quota headers back into the limiter, and retry exactly once
// after a server-side rate limit rejection. The retry goes back through
// acquire: the 429 drained the bucket and set its block window, so waiting for
// a token is what honors the server's delay. No request is ever dispatched
// without taking a token first.
func (c *Client) do(ctx context.Context, method, route, path string, body, out any) error {
	key := method + " " + route

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body for %s: %w", key, err)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.acquire(ctx, key); err != nil {
			return err
		}

		retryAfter, err := c.send(ctx, method, key, path, payload, out)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRateLimited) || attempt >= 1 {
			return err
		}

		c.logger.Warn("rate limited by server, retrying once",
			"key", key, "retry_after", retryAfter)
	}
}

// acquire takes one token from the endpoint bucket and one from the global
// bucket, each wait bounded by the acquire timeout.
func (c *Client) acquire(ctx context.Context, key string) error {
	if c.limiter == nil {
		return nil
	}

	actx, cancel := context.WithTimeout(ctx, c.acquireTimeout)
	defer cancel()

	if err := c.limiter.Acquire(actx, key); err != nil {
		return err
	}
	return c.limiter.Acquire(actx, ratelimit.GlobalKey)
}

// send performs one HTTP round trip. A 429 drains the bucket and returns
// ErrRateLimited along with how long the server asked us to wait.
func (c *Client) send(ctx context.Context, method, key, path string, payload []byte, out any) (time.Duration, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("building request %s: %w", key, err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("reading response for %s: %w", key, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header, respBody)
		if c.limiter != nil {
			c.limiter.Drain(key, retryAfter)
		}
		return retryAfter, fmt.Errorf("%s: %w", key, ErrRateLimited)
	}

	c.observe(key, resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%s: unexpected status %d: %s",
			key, resp.StatusCode, truncate(respBody, 200))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return 0, fmt.Errorf("decoding response for %s: %w", key, err)
		}
	}
	return 0, nil
}

// observe folds the server's quota headers into the local bucket.
func (c *Client) observe(key string, h http.Header) {
	if c.limiter == nil {
		return
	}

	remainingStr := h.Get("X-RateLimit-Remaining")
	if remainingStr == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return
	}

	var resetAfter time.Duration
	if s := h.Get("X-RateLimit-Reset-After"); s != "" {
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			resetAfter = time.Duration(secs * float64(time.Second))
		}
	}

	c.limiter.Observe(key, remaining, resetAfter)
}

// parseRetryAfter extracts the server's requested delay from a 429 response:
// the JSON body's retry_after (seconds) wins, then the Retry-After header,
// then a one second fallback.
func parseRetryAfter(h http.Header, body []byte) time.Duration {
	var parsed struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.RetryAfter > 0 {
		return time.Duration(parsed.RetryAfter * float64(time.Second))
	}

	if s := h.Get("Retry-After"); s != "" {
		if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return time.Second
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// ABOUTME: Tests for the REST client against an in-process HTTP server

package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborbot/harbor/internal/ratelimit"
	"github.com/harborbot/harbor/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *ratelimit.Limiter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	limiter := ratelimit.New(40, nil, testLogger())
	client := New(Options{
		Token:          "tok-test",
		BaseURL:        srv.URL,
		Limiter:        limiter,
		AcquireTimeout: time.Second,
		Logger:         testLogger(),
	})
	return client, limiter
}

func TestGatewayURL(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/gateway", r.URL.Path)
		assert.Equal(t, "Bot tok-test", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "wss://gw.example.com"})
	}))

	url, err := client.GatewayURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://gw.example.com/?v=10&encoding=json", url)
}

func TestGatewayBotPersistsStartLimit(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gateway/bot", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"url": "wss://gw.example.com",
			"shards": 1,
			"session_start_limit": {
				"total": 1000, "remaining": 997,
				"reset_after": 14400000, "max_concurrency": 1
			}
		}`))
	}))
	st := store.NewMockStore()
	client.store = st

	info, err := client.GatewayBot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://gw.example.com", info.URL)
	assert.Equal(t, 997, info.SessionStartLimit.Remaining)

	saved := st.StartLimit()
	require.NotNil(t, saved)
	assert.Equal(t, 1000, saved.Total)
	assert.Equal(t, 997, saved.Remaining)
	assert.Equal(t, 4*time.Hour, saved.ResetAfter)
	assert.Equal(t, 1, saved.Shards)
}

func TestApplicationIDCached(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/applications/@me", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "app-123"})
	}))

	ctx := context.Background()
	id, err := client.ApplicationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "app-123", id)

	id, err = client.ApplicationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "app-123", id)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegisterCommands(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/applications/app-123/commands", r.URL.Path)

		var cmds []CommandDefinition
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cmds))
		require.Len(t, cmds, 2)
		assert.Equal(t, "ahoy", cmds[0].Name)
		assert.Equal(t, "blp", cmds[1].Name)
	}))

	err := client.RegisterCommands(context.Background(), "app-123", []CommandDefinition{
		{Name: "ahoy", Description: "Say ahoy"},
		{Name: "blp", Description: "Convert an image to BLP"},
	})
	require.NoError(t, err)
}

func TestRespondToInteraction(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/interactions/i-1/tok-i/callback", r.URL.Path)

		var body struct {
			Type int `json:"type"`
			Data struct {
				Content string `json:"content"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 4, body.Type)
		assert.Equal(t, "Ahoy!", body.Data.Content)
	}))

	err := client.RespondToInteraction(context.Background(), "i-1", "tok-i", "Ahoy!")
	require.NoError(t, err)
}

func TestRateLimitedRequestRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	client, limiter := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retry_after": 0.01}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "wss://gw.example.com"})
	}))

	url, err := client.GatewayURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://gw.example.com/?v=10&encoding=json", url)
	assert.Equal(t, int32(2), calls.Load())

	// The first rejection drained the endpoint bucket.
	assert.Less(t, limiter.Tokens("GET /gateway"), 40.0)
}

func TestRateLimitedRetryWaitsForToken(t *testing.T) {
	const retryAfter = 50 * time.Millisecond

	var calls atomic.Int32
	var firstAt, secondAt time.Time
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			firstAt = time.Now()
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retry_after": 0.05}`))
		default:
			secondAt = time.Now()
			_, _ = w.Write([]byte(`{}`))
		}
	}))

	err := client.SendMessage(context.Background(), "chan-1", "hello")
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())

	// The retry must take a token like any other call. The 429 drained the
	// bucket and blocked refills for retry_after, so the second request
	// cannot hit the wire before the block window ends and one token
	// refills (1/40s at the test rate).
	minGap := retryAfter + time.Second/40
	assert.GreaterOrEqual(t, secondAt.Sub(firstAt), minGap)
}

func TestRateLimitedTwiceSurfacesError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"retry_after": 0.01}`))
	}))

	_, err := client.GatewayURL(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestQuotaHeadersClampBucket(t *testing.T) {
	client, limiter := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "2")
		w.Header().Set("X-RateLimit-Reset-After", "1.5")
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "wss://gw.example.com"})
	}))

	_, err := client.GatewayURL(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, limiter.Tokens("GET /gateway"), 2.0)
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "Missing Access"}`))
	}))

	err := client.SendMessage(context.Background(), "chan-1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "Missing Access")
}

func TestParseRetryAfterFallbacks(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, time.Second, parseRetryAfter(h, nil))

	h.Set("Retry-After", "2")
	assert.Equal(t, 2*time.Second, parseRetryAfter(h, nil))

	// Body wins over the header.
	assert.Equal(t, 500*time.Millisecond, parseRetryAfter(h, []byte(`{"retry_after": 0.5}`)))
}

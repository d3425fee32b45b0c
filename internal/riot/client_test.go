package riot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EmeraldsHub/tft/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := &config.Config{
		RiotAPIKey:          "test-key",
		RiotRegionalBaseURL: baseURL,
		RiotPlatformBaseURL: baseURL,
	}
	c := NewClient(cfg, zerolog.Nop())
	c.sleep = func(time.Duration) {}
	return c
}

func TestParseRiotID(t *testing.T) {
	name, tag, ok := ParseRiotID("Faker#KR1")
	require.True(t, ok)
	assert.Equal(t, "Faker", name)
	assert.Equal(t, "KR1", tag)

	_, _, ok = ParseRiotID("NoTag")
	assert.False(t, ok)
	_, _, ok = ParseRiotID("#tag")
	assert.False(t, ok)
	_, _, ok = ParseRiotID("name#")
	assert.False(t, ok)
}

func TestMissingAPIKeyReturnsNil(t *testing.T) {
	cfg := &config.Config{RiotRegionalBaseURL: "http://127.0.0.1:1", RiotPlatformBaseURL: "http://127.0.0.1:1"}
	c := NewClient(cfg, zerolog.Nop())

	assert.Nil(t, c.AccountByRiotID(context.Background(), "a#b"))
	assert.Nil(t, c.MatchByID(context.Background(), "EUW1_1"))
	assert.False(t, c.Limited())
}

func TestRateLimitRetriesAndSetsFlag(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"puuid": "abc", "gameName": "A", "tagLine": "B"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	acc := c.AccountByRiotID(context.Background(), "A#B")

	require.NotNil(t, acc)
	assert.Equal(t, "abc", acc.PUUID)
	assert.Equal(t, int64(3), hits.Load())
	assert.True(t, c.Limited())

	c.ResetLimited()
	assert.False(t, c.Limited())
}

func TestRateLimitGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	assert.Nil(t, c.AccountByRiotID(context.Background(), "A#B"))
	assert.Equal(t, int64(3), hits.Load())
	assert.True(t, c.Limited())
}

func TestNonRateLimitFailuresAreNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	assert.Nil(t, c.MatchByID(context.Background(), "EUW1_1"))
	assert.Equal(t, int64(1), hits.Load())
	assert.False(t, c.Limited())
}

func TestLiveGameCachesNotInGame(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	// 404 with allow404 is "not in game", not an error, and it is cached.
	assert.Nil(t, c.LiveGameByPUUID(context.Background(), "abc"))
	assert.Nil(t, c.LiveGameByPUUID(context.Background(), "abc"))
	assert.Equal(t, int64(1), hits.Load())
}

func TestLeagueEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"queueType": "RANKED_TFT", "tier": "GOLD", "rank": "II", "leaguePoints": 54},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	entries := c.LeagueEntriesByPUUID(context.Background(), "abc")
	require.Len(t, entries, 1)
	assert.Equal(t, "GOLD", entries[0].Tier)
	assert.Equal(t, 54, entries[0].LeaguePoints)
}

package riot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/EmeraldsHub/tft/internal/cache"
	"github.com/EmeraldsHub/tft/internal/config"
	"github.com/EmeraldsHub/tft/internal/constants"
	"github.com/EmeraldsHub/tft/internal/domain"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Client wraps the Riot TFT API. Every lookup degrades to nil on any
// failure (missing credential, transport error, non-2xx) so callers can
// always render something; a 404 on an explicitly-allowed path is a
// legitimate "not found", also nil. Rate-limit responses are retried a
// bounded number of times and recorded on a client-wide flag that batch
// jobs poll to abort early.
type Client struct {
	apiKey       string
	regionalBase string
	platformBase string
	client       *fasthttp.Client
	logger       zerolog.Logger

	limitMu sync.Mutex
	limited bool

	liveCache *cache.TTLCache[*domain.LiveGame]

	sleep func(time.Duration)
}

func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		apiKey:       cfg.RiotAPIKey,
		regionalBase: strings.TrimSuffix(cfg.RiotRegionalBaseURL, "/"),
		platformBase: strings.TrimSuffix(cfg.RiotPlatformBaseURL, "/"),
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger:    logger,
		liveCache: cache.New[*domain.LiveGame](constants.LiveGameClientTTL),
		sleep:     time.Sleep,
	}
}

// Limited reports whether any request since the last reset hit a
// rate-limit response.
func (c *Client) Limited() bool {
	c.limitMu.Lock()
	defer c.limitMu.Unlock()
	return c.limited
}

// ResetLimited clears the rate-limit flag. Batch callers reset it before
// each unit of work.
func (c *Client) ResetLimited() {
	c.limitMu.Lock()
	c.limited = false
	c.limitMu.Unlock()
}

func (c *Client) markLimited() {
	c.limitMu.Lock()
	c.limited = true
	c.limitMu.Unlock()
}

// ParseRiotID splits a "name#tag" identity string.
func ParseRiotID(riotID string) (gameName, tagLine string, ok bool) {
	trimmed := strings.TrimSpace(riotID)
	idx := strings.Index(trimmed, "#")
	if idx <= 0 || idx == len(trimmed)-1 {
		return "", "", false
	}
	return trimmed[:idx], trimmed[idx+1:], true
}

func (c *Client) AccountByRiotID(ctx context.Context, riotID string) *domain.RiotAccount {
	gameName, tagLine, ok := ParseRiotID(riotID)
	if !ok {
		return nil
	}
	u := fmt.Sprintf("%s/riot/account/v1/accounts/by-riot-id/%s/%s",
		c.regionalBase, url.PathEscape(gameName), url.PathEscape(tagLine))
	return doRequest[domain.RiotAccount](ctx, c, u, requestOptions{})
}

func (c *Client) SummonerByPUUID(ctx context.Context, puuid string) *domain.RiotSummoner {
	u := fmt.Sprintf("%s/tft/summoner/v1/summoners/by-puuid/%s", c.platformBase, url.PathEscape(puuid))
	return doRequest[domain.RiotSummoner](ctx, c, u, requestOptions{})
}

func (c *Client) LeagueEntriesByPUUID(ctx context.Context, puuid string) []domain.LeagueEntry {
	u := fmt.Sprintf("%s/tft/league/v1/by-puuid/%s", c.platformBase, url.PathEscape(puuid))
	entries := doRequest[[]domain.LeagueEntry](ctx, c, u, requestOptions{})
	if entries == nil {
		return nil
	}
	return *entries
}

func (c *Client) LeagueEntriesBySummonerID(ctx context.Context, summonerID string) []domain.LeagueEntry {
	u := fmt.Sprintf("%s/tft/league/v1/entries/by-summoner/%s", c.platformBase, url.PathEscape(summonerID))
	entries := doRequest[[]domain.LeagueEntry](ctx, c, u, requestOptions{})
	if entries == nil {
		return nil
	}
	return *entries
}

func (c *Client) MatchIDsByPUUID(ctx context.Context, puuid string, count int) []string {
	if count <= 0 {
		count = constants.RecentMatchCount
	}
	u := fmt.Sprintf("%s/tft/match/v1/matches/by-puuid/%s/ids?count=%d",
		c.regionalBase, url.PathEscape(puuid), count)
	ids := doRequest[[]string](ctx, c, u, requestOptions{})
	if ids == nil {
		return nil
	}
	return *ids
}

func (c *Client) MatchByID(ctx context.Context, matchID string) *domain.MatchPayload {
	u := fmt.Sprintf("%s/tft/match/v1/matches/%s", c.regionalBase, url.PathEscape(matchID))
	return doRequest[domain.MatchPayload](ctx, c, u, requestOptions{})
}

// LiveGameByPUUID looks up the spectator feed. Absence of an active game
// (404) is a valid, cacheable "not in game" result. Results sit in a
// short-lived client-local cache independent of the persisted caches.
func (c *Client) LiveGameByPUUID(ctx context.Context, puuid string) *domain.LiveGame {
	if live, ok := c.liveCache.Get(puuid); ok {
		return live
	}
	u := fmt.Sprintf("%s/tft/spectator/v5/active-games/by-puuid/%s", c.platformBase, url.PathEscape(puuid))
	live := doRequest[domain.LiveGame](ctx, c, u, requestOptions{allow404: true})
	c.liveCache.Set(puuid, live)
	return live
}

type requestOptions struct {
	allow404 bool
}

func doRequest[T any](ctx context.Context, c *Client, url string, opts requestOptions) *T {
	if c.apiKey == "" {
		return nil
	}

	for attempt := 1; attempt <= constants.MaxRiotAttempts; attempt++ {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()

		req.SetRequestURI(url)
		req.Header.SetMethod(fasthttp.MethodGet)
		req.Header.Set("X-Riot-Token", c.apiKey)

		deadline := time.Now().Add(constants.ExternalAPITimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}

		err := c.client.DoDeadline(req, resp, deadline)
		fasthttp.ReleaseRequest(req)
		if err != nil {
			fasthttp.ReleaseResponse(resp)
			c.logger.Debug().Err(err).Str("url", url).Msg("riot request failed")
			return nil
		}

		status := resp.StatusCode()

		if status == fasthttp.StatusTooManyRequests {
			c.markLimited()
			backoff := time.Duration(attempt) * constants.RetryBackoffStep
			if retryAfter := string(resp.Header.Peek(fasthttp.HeaderRetryAfter)); retryAfter != "" {
				if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
					backoff = time.Duration(secs) * time.Second
				}
			}
			fasthttp.ReleaseResponse(resp)
			c.logger.Warn().Str("url", url).Int("attempt", attempt).Dur("backoff", backoff).Msg("riot rate limited")
			c.sleep(backoff)
			continue
		}

		if status == fasthttp.StatusNotFound && opts.allow404 {
			fasthttp.ReleaseResponse(resp)
			return nil
		}

		if status != fasthttp.StatusOK {
			fasthttp.ReleaseResponse(resp)
			c.logger.Debug().Str("url", url).Int("status", status).Msg("riot non-200")
			return nil
		}

		var result T
		unmarshalErr := json.Unmarshal(resp.Body(), &result)
		fasthttp.ReleaseResponse(resp)
		if unmarshalErr != nil {
			c.logger.Debug().Err(unmarshalErr).Str("url", url).Msg("riot response parse failed")
			return nil
		}
		return &result
	}

	return nil
}

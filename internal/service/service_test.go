package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EmeraldsHub/tft/internal/assets"
	"github.com/EmeraldsHub/tft/internal/config"
	"github.com/EmeraldsHub/tft/internal/constants"
	"github.com/EmeraldsHub/tft/internal/database"
	"github.com/EmeraldsHub/tft/internal/domain"
	"github.com/EmeraldsHub/tft/internal/repository"
	"github.com/EmeraldsHub/tft/internal/riot"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRiot is an httptest stand-in for the upstream game API. State is
// mutable per test; unknown paths 404 like the real thing.
type fakeRiot struct {
	mu        sync.Mutex
	matches   map[string]*domain.MatchPayload
	matchHits map[string]int
	matchIDs  map[string][]string
	leagues   map[string][]domain.LeagueEntry
	accounts  map[string]*domain.RiotAccount
	summoners map[string]*domain.RiotSummoner
	live      map[string]*domain.LiveGame
	srv       *httptest.Server
}

func newFakeRiot(t *testing.T) *fakeRiot {
	t.Helper()
	f := &fakeRiot{
		matches:   map[string]*domain.MatchPayload{},
		matchHits: map[string]int{},
		matchIDs:  map[string][]string{},
		leagues:   map[string][]domain.LeagueEntry{},
		accounts:  map[string]*domain.RiotAccount{},
		summoners: map[string]*domain.RiotSummoner{},
		live:      map[string]*domain.LiveGame{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRiot) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	write := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case strings.HasPrefix(path, "/riot/account/v1/accounts/by-riot-id/"):
		rest := strings.TrimPrefix(path, "/riot/account/v1/accounts/by-riot-id/")
		if acc, ok := f.accounts[rest]; ok {
			write(acc)
			return
		}
	case strings.HasPrefix(path, "/tft/match/v1/matches/by-puuid/") && strings.HasSuffix(path, "/ids"):
		puuid := strings.TrimSuffix(strings.TrimPrefix(path, "/tft/match/v1/matches/by-puuid/"), "/ids")
		if ids, ok := f.matchIDs[puuid]; ok {
			write(ids)
			return
		}
	case strings.HasPrefix(path, "/tft/match/v1/matches/"):
		id := strings.TrimPrefix(path, "/tft/match/v1/matches/")
		f.matchHits[id]++
		if m, ok := f.matches[id]; ok {
			write(m)
			return
		}
	case strings.HasPrefix(path, "/tft/league/v1/by-puuid/"):
		puuid := strings.TrimPrefix(path, "/tft/league/v1/by-puuid/")
		if entries, ok := f.leagues[puuid]; ok {
			write(entries)
			return
		}
	case strings.HasPrefix(path, "/tft/summoner/v1/summoners/by-puuid/"):
		puuid := strings.TrimPrefix(path, "/tft/summoner/v1/summoners/by-puuid/")
		if s, ok := f.summoners[puuid]; ok {
			write(s)
			return
		}
	case strings.HasPrefix(path, "/tft/spectator/v5/active-games/by-puuid/"):
		puuid := strings.TrimPrefix(path, "/tft/spectator/v5/active-games/by-puuid/")
		if g, ok := f.live[puuid]; ok {
			write(g)
			return
		}
	}
	http.NotFound(w, r)
}

func (f *fakeRiot) hitsFor(matchID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matchHits[matchID]
}

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload any
		switch r.URL.Path {
		case "/tftchampions.json":
			payload = []map[string]any{
				{"apiName": "TFT14_Ahri", "squareIconPath": "/lol-game-data/assets/ASSETS/Characters/TFT14_Ahri/hud/tft14_ahri_square.tex"},
				{"apiName": "TFT14_Garen", "squareIconPath": "/lol-game-data/assets/ASSETS/Characters/TFT14_Garen/hud/tft14_garen_square.tex"},
			}
		case "/tftitems.json":
			payload = []map[string]any{
				{"apiName": "TFT_Item_InfinityEdge", "iconPath": "/lol-game-data/assets/ASSETS/Item_Icons/Infinity_Edge.png"},
			}
		case "/tfttraits.json":
			payload = []map[string]any{
				{"apiName": "TFT14_Vanguard", "name": "Vanguard", "iconPath": "/lol-game-data/assets/ASSETS/TraitIcons/Trait_Icon_Vanguard.png"},
			}
		default:
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	db       *sql.DB
	upstream *fakeRiot
	players  *repository.TrackedPlayerRepository
	matches  *repository.MatchCacheRepository
	locks    *repository.JobLockRepository
	riot     *riot.Client
	assets   *assets.Resolver
	previews *PreviewService
	player   *PlayerService
	sync     *SyncService
	board    *LeaderboardService
	caches   *Caches
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	upstream := newFakeRiot(t)
	catalogSrv := newCatalogServer(t)

	cfg := &config.Config{
		RiotAPIKey:          "test-key",
		RiotRegionalBaseURL: upstream.srv.URL,
		RiotPlatformBaseURL: upstream.srv.URL,
		CDragonDataBaseURL:  catalogSrv.URL,
		CDragonAssetBaseURL: "https://cdn.example.com/default/",
	}

	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := database.Open(dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	playerRepo := repository.NewTrackedPlayerRepository(db, log)
	matchRepo := repository.NewMatchCacheRepository(db, log)
	lockRepo := repository.NewJobLockRepository(db, log)
	client := riot.NewClient(cfg, log)
	resolver := assets.NewResolver(cfg, log)
	caches := NewCaches()
	previews := NewPreviewService(client, resolver, matchRepo, log)
	player := NewPlayerService(playerRepo, matchRepo, client, resolver, previews, caches, log)
	syncSvc := NewSyncService(playerRepo, lockRepo, client, player, log)
	syncSvc.pause = func(time.Duration) {}
	board := NewLeaderboardService(playerRepo, caches, log)

	return &fixture{
		db:       db,
		upstream: upstream,
		players:  playerRepo,
		matches:  matchRepo,
		locks:    lockRepo,
		riot:     client,
		assets:   resolver,
		previews: previews,
		player:   player,
		sync:     syncSvc,
		board:    board,
		caches:   caches,
	}
}

func payloadFor(participants ...domain.MatchParticipant) *domain.MatchPayload {
	dt := int64(1700000000000)
	queue := constants.RankedQueueID
	return &domain.MatchPayload{Info: &domain.MatchInfo{
		Participants: participants,
		GameDatetime: &dt,
		QueueID:      &queue,
	}}
}

func participant(puuid string, placement int) domain.MatchParticipant {
	p := placement
	lvl := 8
	return domain.MatchParticipant{
		PUUID:     puuid,
		GameName:  "Player-" + puuid,
		TagLine:   "EUW",
		Placement: &p,
		Level:     &lvl,
		Units: []domain.ParticipantUnit{
			{CharacterID: "TFT14_Ahri", Tier: 2, ItemNames: []string{"TFT_Item_InfinityEdge"}},
		},
		Traits: []domain.ParticipantTrait{
			{Name: "TFT14_Vanguard", NumUnits: 3, Style: 2, TierCurrent: 1, TierTotal: 4},
		},
	}
}

func (f *fixture) addTrackedPlayer(t *testing.T, id, slugName, puuid string) *domain.TrackedPlayer {
	t.Helper()
	p := &domain.TrackedPlayer{
		ID:        id,
		RiotID:    "Player" + id + "#EUW",
		Region:    constants.SupportedPlatform,
		Slug:      slugName,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.players.Create(context.Background(), p))
	if puuid != "" {
		require.NoError(t, f.players.UpdatePUUID(context.Background(), id, puuid))
		p.PUUID = puuid
	}
	return p
}

func TestGetOrFetchMatchCachesOnFirstRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upstream.matches["NA1_1234567890"] = payloadFor(participant("abc", 1), participant("def", 2))

	first, err := f.previews.GetOrFetchMatch(ctx, "NA1_1234567890")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	require.Len(t, first.Participants, 2)
	assert.Equal(t, 1, *first.Participants[0].Placement)
	assert.Equal(t, 2, *first.Participants[1].Placement)

	second, err := f.previews.GetOrFetchMatch(ctx, "NA1_1234567890")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	require.Len(t, second.Participants, 2)
	assert.Equal(t, *first.Participants[0].Placement, *second.Participants[0].Placement)
	assert.Equal(t, 1, f.upstream.hitsFor("NA1_1234567890"), "second read must not hit upstream")

	entry, err := f.matches.GetByID(ctx, "NA1_1234567890")
	require.NoError(t, err)
	assert.Equal(t, "AMERICAS", entry.Region, "shard prefix maps to its routing region")
}

func TestGetOrFetchMatchStoreFailureIsNotAMiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upstream.matches["EUW1_9"] = payloadFor(participant("abc", 1))

	require.NoError(t, f.db.Close())

	_, err := f.previews.GetOrFetchMatch(ctx, "EUW1_9")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUpstreamUnavailable, "store failure must surface as itself")
	assert.Zero(t, f.upstream.hitsFor("EUW1_9"), "a broken store must not trigger an upstream fetch")
}

func TestGetOrFetchMatchUpstreamUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.previews.GetOrFetchMatch(ctx, "NA1_404")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = f.matches.GetByID(ctx, "NA1_404")
	assert.ErrorIs(t, err, sql.ErrNoRows, "failed fetch must not persist anything")
}

func TestGetOrFetchMatchInvalidID(t *testing.T) {
	f := newFixture(t)
	_, err := f.previews.GetOrFetchMatch(context.Background(), "not a match id")
	assert.ErrorIs(t, err, ErrInvalidMatchID)
}

func TestPreviewIconsResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upstream.matches["EUW1_1"] = payloadFor(participant("abc", 3))

	detail, err := f.previews.GetOrFetchMatch(ctx, "EUW1_1")
	require.NoError(t, err)
	require.Len(t, detail.Participants, 1)
	p := detail.Participants[0]

	require.Len(t, p.Units, 1)
	assert.True(t, strings.HasSuffix(p.Units[0].ChampIconURL, ".png"))
	assert.NotEqual(t, assets.UnknownUnitIcon, p.Units[0].ChampIconURL)
	require.Len(t, p.Units[0].ItemIconURLs, 1)
	assert.True(t, strings.HasSuffix(p.Units[0].ItemIconURLs[0], ".png"))

	require.Len(t, p.TopTraits, 1)
	assert.Equal(t, "TFT14_Vanguard", p.TopTraits[0].Name)
	assert.NotEmpty(t, p.TopTraits[0].IconURL)

	assert.False(t, previewNeedsIcons(p))
}

func TestRepairIsFixedPoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Simulate a row written before the catalog could resolve anything.
	payload := payloadFor(participant("abc", 1))
	stale := &domain.MatchCacheEntry{
		MatchID:      "EUW1_50",
		Region:       "EUW1",
		GameDatetime: time.UnixMilli(1700000000000),
		Data:         payload,
		Previews: map[string]*domain.Preview{
			"abc": {
				PUUID:     "abc",
				Placement: payload.Info.Participants[0].Placement,
				Units: []domain.PreviewUnit{{
					CharacterID:  "TFT14_Ahri",
					Tier:         2,
					ItemNames:    []string{"TFT_Item_InfinityEdge"},
					ChampIconURL: assets.UnknownUnitIcon,
					ItemIconURLs: []string{assets.UnknownItemIcon},
				}},
			},
		},
		FetchedAt: time.Now().UTC(),
	}
	require.NoError(t, f.matches.Insert(ctx, stale))
	require.True(t, previewNeedsIcons(stale.Previews["abc"]))

	detail, err := f.previews.GetOrFetchMatch(ctx, "EUW1_50")
	require.NoError(t, err)
	assert.True(t, detail.Cached)
	repaired := detail.Participants[0]
	assert.False(t, previewNeedsIcons(repaired), "repair resolves icons from the stored payload")
	assert.Zero(t, f.upstream.hitsFor("EUW1_50"), "repair never calls upstream")

	// Fixed point: a second pass leaves the stored preview untouched.
	entry, err := f.matches.GetByID(ctx, "EUW1_50")
	require.NoError(t, err)
	before := *entry.Previews["abc"]

	detail2, err := f.previews.GetOrFetchMatch(ctx, "EUW1_50")
	require.NoError(t, err)
	assert.False(t, previewNeedsIcons(detail2.Participants[0]))

	entry2, err := f.matches.GetByID(ctx, "EUW1_50")
	require.NoError(t, err)
	assert.Equal(t, before.Units, entry2.Previews["abc"].Units)
}

func TestPreviewsForPlayerKeySetEquality(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// NA1_1 cached with a preview for abc, NA1_2 only upstream,
	// NA1_3 unavailable, plus one malformed id.
	f.upstream.matches["NA1_1"] = payloadFor(participant("abc", 2))
	f.upstream.matches["NA1_2"] = payloadFor(participant("abc", 5))
	_, err := f.previews.GetOrFetchMatch(ctx, "NA1_1")
	require.NoError(t, err)

	ids := []string{"NA1_1", "NA1_2", "NA1_3", "bogus id"}
	result := f.previews.PreviewsForPlayer(ctx, "abc", ids, "NA1")

	require.Len(t, result, len(ids))
	for _, id := range ids {
		require.Contains(t, result, id)
		require.NotNil(t, result[id])
	}

	assert.Equal(t, 2, *result["NA1_1"].Placement)
	assert.Empty(t, result["NA1_1"].Reason)
	assert.Equal(t, 5, *result["NA1_2"].Placement)
	assert.Equal(t, domain.ReasonPlayerNotFound, result["NA1_3"].Reason)
	assert.Equal(t, domain.ReasonPlayerNotFound, result["bogus id"].Reason)

	// the fetched match landed in the persisted cache under the hint's
	// routing region
	entry, err := f.matches.GetByID(ctx, "NA1_2")
	require.NoError(t, err)
	assert.Equal(t, "AMERICAS", entry.Region)
}

func TestRoutingRegionMapping(t *testing.T) {
	assert.Equal(t, "EUROPE", routingRegion("euw1"))
	assert.Equal(t, "AMERICAS", routingRegion(" NA1 "))
	assert.Equal(t, "ASIA", routingRegion("KR"))
	assert.Equal(t, "ASIA", routingRegion("asia"), "routing names pass through")
	assert.Equal(t, "EUROPE", routingRegion("XYZ"))
	assert.Equal(t, "EUROPE", routingRegion(""))
}

func TestPreviewsForPlayerCaseInsensitiveMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upstream.matches["EUW1_7"] = payloadFor(participant("abcDEF", 4))

	result := f.previews.PreviewsForPlayer(ctx, "ABCdef", []string{"EUW1_7"}, "EUW1")
	require.Contains(t, result, "EUW1_7")
	assert.Empty(t, result["EUW1_7"].Reason, "case drift must not trigger the fallback")
	assert.Equal(t, 4, *result["EUW1_7"].Placement)
}

func TestPreviewsForPlayerFallbackTop1(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upstream.matches["EUW1_8"] = payloadFor(participant("someone", 3), participant("winner", 1))

	result := f.previews.PreviewsForPlayer(ctx, "missing-puuid", []string{"EUW1_8"}, "")
	require.Contains(t, result, "EUW1_8")
	p := result["EUW1_8"]
	assert.Equal(t, domain.ReasonFallbackTop1, p.Reason)
	assert.Equal(t, 1, *p.Placement, "fallback picks the best-placed board")
	assert.Equal(t, "winner", p.PUUID)
}

func TestAveragePlacement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.addTrackedPlayer(t, "p1", "player-one", "abc")

	f.upstream.matchIDs["abc"] = []string{"EUW1_1", "EUW1_2", "EUW1_3"}
	f.upstream.matches["EUW1_1"] = payloadFor(participant("abc", 1))
	f.upstream.matches["EUW1_2"] = payloadFor(participant("abc", 4))
	f.upstream.matches["EUW1_3"] = payloadFor(participant("abc", 8))

	avg, status := f.player.EnsureAveragePlacement(ctx, player, false)
	require.NotNil(t, avg)
	assert.InDelta(t, 4.33, *avg, 0.001)
	assert.Equal(t, domain.StatusUpdated, status)

	stored, err := f.players.GetByID(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, stored.AvgPlacement)
	assert.InDelta(t, 4.33, *stored.AvgPlacement, 0.001)

	// fresh timestamp short-circuits
	avg2, status2 := f.player.EnsureAveragePlacement(ctx, stored, false)
	assert.Equal(t, domain.StatusCached, status2)
	assert.InDelta(t, *avg, *avg2, 0.001)
}

func TestAveragePlacementNoMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.addTrackedPlayer(t, "p1", "player-one", "nomatches")
	f.upstream.matchIDs["nomatches"] = []string{}

	avg, status := f.player.EnsureAveragePlacement(ctx, player, false)
	assert.Nil(t, avg, "zero matches is not enough data")
	assert.Equal(t, domain.StatusUpdated, status)

	stored, err := f.players.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, stored.AvgPlacement, "nothing persisted for zero matches")
}

func TestAveragePlacementIgnoresUnresolvedMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.addTrackedPlayer(t, "p1", "player-one", "abc")

	f.upstream.matchIDs["abc"] = []string{"EUW1_1", "EUW1_404"}
	f.upstream.matches["EUW1_1"] = payloadFor(participant("abc", 2))

	avg, status := f.player.EnsureAveragePlacement(ctx, player, false)
	require.NotNil(t, avg)
	assert.InDelta(t, 2.0, *avg, 0.001, "mean over resolved placements only")
	assert.Equal(t, domain.StatusUpdated, status)
}

func TestRankedQueueTieBreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.addTrackedPlayer(t, "p1", "player-one", "abc")

	f.upstream.leagues["abc"] = []domain.LeagueEntry{
		{QueueType: "RANKED_TFT_TURBO", Tier: "GOLD", Rank: "I", LeaguePoints: 90},
		{QueueType: "RANKED_TFT", Tier: "DIAMOND", Rank: "II", LeaguePoints: 54},
	}

	res := f.player.RankedInfo(ctx, player, false)
	require.NotNil(t, res.Ranked)
	assert.Equal(t, "DIAMOND", res.Ranked.Tier, "main ranked queue wins the tie-break")
	assert.Equal(t, "RANKED_TFT", res.RankedQueue)
	assert.Equal(t, domain.StatusUpdated, res.Status)
	assert.Contains(t, res.RankIconURL, "diamond")

	// in-process cache serves the second read
	res2 := f.player.RankedInfo(ctx, player, false)
	assert.Equal(t, domain.StatusCached, res2.Status)
	assert.Equal(t, "DIAMOND", res2.Ranked.Tier)
}

func TestRankedStaleFallbackOnUpstreamMiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.addTrackedPlayer(t, "p1", "player-one", "abc")

	old := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, f.players.UpdateRanked(ctx, "p1",
		&domain.RankedInfo{Tier: "PLATINUM", Rank: "IV", LeaguePoints: 10}, "RANKED_TFT", old))
	player, err := f.players.GetByID(ctx, "p1")
	require.NoError(t, err)

	// no league entries registered upstream: 404, client returns nil
	res := f.player.RankedInfo(ctx, player, false)
	require.NotNil(t, res.Ranked)
	assert.Equal(t, "PLATINUM", res.Ranked.Tier, "stored value survives an upstream miss")
	assert.Equal(t, domain.StatusSkipped, res.Status)
}

func TestLiveStatusNotInGameIsCacheable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.addTrackedPlayer(t, "p1", "player-one", "abc")

	res := f.player.LiveStatus(ctx, player, false)
	assert.False(t, res.InGame)
	assert.Equal(t, domain.StatusUpdated, res.Status)

	res2 := f.player.LiveStatus(ctx, player, false)
	assert.Equal(t, domain.StatusCached, res2.Status)
	assert.False(t, res2.InGame)
}

func TestLiveStatusInGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := f.addTrackedPlayer(t, "p1", "player-one", "abc")

	start := int64(1700000000000)
	f.upstream.live["abc"] = &domain.LiveGame{
		GameStartTime: &start,
		Participants:  []any{map[string]any{}, map[string]any{}},
	}

	res := f.player.LiveStatus(ctx, player, false)
	assert.True(t, res.InGame)
	require.NotNil(t, res.GameStartTime)
	assert.Equal(t, start, *res.GameStartTime)
	require.NotNil(t, res.ParticipantCount)
	assert.Equal(t, 2, *res.ParticipantCount)

	stored, err := f.players.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, stored.LiveInGame)
}

func TestSyncPlayerUnsupportedRegion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := &domain.TrackedPlayer{
		ID: "p1", RiotID: "Na#Player", Region: "NA1", Slug: "na-player",
		IsActive: true, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.players.Create(ctx, p))

	res, err := f.sync.SyncPlayerByID(ctx, "p1", false)
	require.NoError(t, err)
	assert.False(t, res.Updated)
	assert.Contains(t, res.Warning, "unsupported region")
	assert.Equal(t, domain.StatusSkipped, res.Statuses.Ranked)
}

func TestSyncPlayerResolvesPUUIDAndRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := &domain.TrackedPlayer{
		ID: "p1", RiotID: "Faker#EUW", Region: constants.SupportedPlatform,
		Slug: "faker-euw", IsActive: true, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.players.Create(ctx, p))

	f.upstream.accounts["Faker/EUW"] = &domain.RiotAccount{PUUID: "abc", GameName: "Faker", TagLine: "EUW"}
	f.upstream.leagues["abc"] = []domain.LeagueEntry{
		{QueueType: "RANKED_TFT", Tier: "MASTER", Rank: "I", LeaguePoints: 200},
	}
	f.upstream.matchIDs["abc"] = []string{"EUW1_1"}
	f.upstream.matches["EUW1_1"] = payloadFor(participant("abc", 3))

	res, err := f.sync.SyncPlayerByID(ctx, "p1", false)
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.Equal(t, domain.StatusUpdated, res.Statuses.Ranked)
	assert.Equal(t, domain.StatusUpdated, res.Statuses.Live)
	assert.Equal(t, domain.StatusUpdated, res.Statuses.AvgPlacement)
	require.NotNil(t, res.AvgPlacement)
	assert.InDelta(t, 3.0, *res.AvgPlacement, 0.001)

	stored, err := f.players.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "abc", stored.PUUID)
	assert.Equal(t, "MASTER", stored.RankedTier)
}

func TestSyncPlayerUnresolvedPUUID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTrackedPlayer(t, "p1", "player-one", "")

	res, err := f.sync.SyncPlayerByID(ctx, "p1", false)
	require.NoError(t, err)
	assert.False(t, res.Updated)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, domain.StatusSkipped, res.Statuses.Ranked)
}

func TestSyncAllSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, _, err := f.locks.Acquire(ctx, constants.SyncAllLockName, constants.SyncAllLockTTL)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.sync.SyncAll(ctx)
	require.NoError(t, err)
	assert.False(t, res.Ran)
	assert.Equal(t, "locked", res.Reason)
}

func TestSyncAllReleasesLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTrackedPlayer(t, "p1", "player-one", "abc")
	f.upstream.matchIDs["abc"] = []string{}

	res, err := f.sync.SyncAll(ctx)
	require.NoError(t, err)
	assert.True(t, res.Ran)
	assert.Contains(t, res.Results, "p1")

	ok, _, err := f.locks.Acquire(ctx, constants.SyncAllLockName, constants.SyncAllLockTTL)
	require.NoError(t, err)
	assert.True(t, ok, "lock is released after the run")
}

func TestLeaderboardOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(id, slugName, riotID string, ranked *domain.RankedInfo) {
		p := &domain.TrackedPlayer{
			ID: id, RiotID: riotID, Region: constants.SupportedPlatform,
			Slug: slugName, IsActive: true, CreatedAt: now,
		}
		require.NoError(t, f.players.Create(ctx, p))
		if ranked != nil {
			require.NoError(t, f.players.UpdateRanked(ctx, id, ranked, "RANKED_TFT", now))
		}
	}
	mk("p1", "gold", "Gold#EUW", &domain.RankedInfo{Tier: "GOLD", Rank: "I", LeaguePoints: 50})
	mk("p2", "diamond", "Diamond#EUW", &domain.RankedInfo{Tier: "DIAMOND", Rank: "IV", LeaguePoints: 1})
	mk("p3", "unranked", "Unranked#EUW", nil)
	mk("p4", "gold2", "AGold#EUW", &domain.RankedInfo{Tier: "GOLD", Rank: "I", LeaguePoints: 50})

	entries, err := f.board.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "p2", entries[0].ID, "higher tier beats higher LP in a lower tier")
	assert.Equal(t, "p4", entries[1].ID, "riot id breaks the score tie")
	assert.Equal(t, "p1", entries[2].ID)
	assert.Equal(t, "p3", entries[3].ID, "unranked sinks to the bottom")
	assert.Equal(t, assets.UnrankedIcon, entries[3].RankIconURL)
}

func TestProfileBySlug(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTrackedPlayer(t, "p1", "player-one", "abc")

	f.upstream.leagues["abc"] = []domain.LeagueEntry{
		{QueueType: "RANKED_TFT", Tier: "EMERALD", Rank: "III", LeaguePoints: 30},
	}
	f.upstream.matchIDs["abc"] = []string{"EUW1_1"}
	f.upstream.matches["EUW1_1"] = payloadFor(participant("abc", 2), participant("other", 6))

	view, err := f.player.ProfileBySlug(ctx, "player-one", false)
	require.NoError(t, err)
	assert.False(t, view.Cached)
	require.NotNil(t, view.Ranked)
	assert.Equal(t, "EMERALD", view.Ranked.Ranked.Tier)
	require.NotNil(t, view.AvgPlacement)
	assert.InDelta(t, 2.0, *view.AvgPlacement, 0.001)
	require.Len(t, view.RecentMatches, 1)
	assert.Equal(t, "EUW1_1", view.RecentMatches[0].MatchID)
	require.NotNil(t, view.Favorites)
	assert.Equal(t, "TFT14_Ahri", view.Favorites.Unit.CharacterID)

	// second read comes from the profile cache
	view2, err := f.player.ProfileBySlug(ctx, "player-one", false)
	require.NoError(t, err)
	assert.True(t, view2.Cached)

	_, err = f.player.ProfileBySlug(ctx, "nobody", false)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestCreateTrackedPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upstream.accounts["New/EUW"] = &domain.RiotAccount{PUUID: "new-puuid", GameName: "New", TagLine: "EUW"}

	created, warning, err := f.player.CreateTrackedPlayer(ctx, "New#EUW", "euw1", "")
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, "new-euw-euw1", created.Slug)
	assert.Equal(t, "EUW1", created.Region)
	assert.Equal(t, "new-puuid", created.PUUID)

	_, _, err = f.player.CreateTrackedPlayer(ctx, "no-tag", "euw1", "")
	assert.Error(t, err)

	// unresolvable identity creates the row with a warning
	created2, warning2, err := f.player.CreateTrackedPlayer(ctx, "Ghost#EUW", "euw1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, warning2)
	assert.Empty(t, created2.PUUID)
}

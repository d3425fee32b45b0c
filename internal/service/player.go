package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/EmeraldsHub/tft/internal/assets"
	"github.com/EmeraldsHub/tft/internal/cache"
	"github.com/EmeraldsHub/tft/internal/constants"
	"github.com/EmeraldsHub/tft/internal/domain"
	"github.com/EmeraldsHub/tft/internal/repository"
	"github.com/EmeraldsHub/tft/internal/riot"
	"github.com/EmeraldsHub/tft/internal/slug"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrPlayerNotFound = errors.New("tracked player not found")

// Ranked queue pick order. First hit wins, no merging across queues.
var rankedQueuePriority = []string{
	"RANKED_TFT",
	"RANKED_TFT_DOUBLE_UP",
	"RANKED_TFT_TURBO",
}

// RankedSnapshot is the in-process cached ranked fact for one player.
type RankedSnapshot struct {
	Info  *domain.RankedInfo
	Queue string
}

// Caches bundles the process-local derived-fact caches. They are pure
// performance layers; every read path also works against an empty cache.
type Caches struct {
	Rank        *cache.TTLCache[RankedSnapshot]
	Live        *cache.TTLCache[domain.LiveGameStatus]
	Profile     *cache.TTLCache[*domain.ProfileView]
	Leaderboard *cache.TTLCache[[]domain.LeaderboardEntry]
	Refresh     *cache.RefreshTracker
}

func NewCaches() *Caches {
	return &Caches{
		Rank:        cache.New[RankedSnapshot](constants.RankedTTL),
		Live:        cache.New[domain.LiveGameStatus](constants.LiveTTL),
		Profile:     cache.New[*domain.ProfileView](constants.PlayerCacheTTL),
		Leaderboard: cache.New[[]domain.LeaderboardEntry](constants.LeaderboardCacheTTL),
		Refresh:     cache.NewRefreshTracker(constants.PlayerRefreshTTL),
	}
}

type PlayerService struct {
	repo     *repository.TrackedPlayerRepository
	matches  *repository.MatchCacheRepository
	riot     *riot.Client
	assets   *assets.Resolver
	previews *PreviewService
	caches   *Caches
	logger   zerolog.Logger
	now      func() time.Time
}

func NewPlayerService(
	repo *repository.TrackedPlayerRepository,
	matches *repository.MatchCacheRepository,
	riotClient *riot.Client,
	resolver *assets.Resolver,
	previews *PreviewService,
	caches *Caches,
	logger zerolog.Logger,
) *PlayerService {
	return &PlayerService{
		repo:     repo,
		matches:  matches,
		riot:     riotClient,
		assets:   resolver,
		previews: previews,
		caches:   caches,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateTrackedPlayer adds a roster entry and attempts to resolve its puuid
// immediately. Resolution failure is a warning, not an error; the next sync
// retries.
func (s *PlayerService) CreateTrackedPlayer(ctx context.Context, riotID, region, profileImageURL string) (*domain.TrackedPlayer, string, error) {
	riotID = strings.TrimSpace(riotID)
	if _, _, ok := riot.ParseRiotID(riotID); !ok {
		return nil, "", fmt.Errorf("riot id must be in name#tag form")
	}
	if region == "" {
		region = constants.SupportedPlatform
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate id: %w", err)
	}

	player := &domain.TrackedPlayer{
		ID:              id,
		RiotID:          riotID,
		Region:          strings.ToUpper(region),
		Slug:            slug.FromRiotID(riotID, region),
		IsActive:        true,
		ProfileImageURL: profileImageURL,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.repo.Create(ctx, player); err != nil {
		return nil, "", err
	}

	warning := s.resolvePUUID(ctx, player)
	s.logger.Info().Str("id", player.ID).Str("slug", player.Slug).Msg("tracked player created")
	return player, warning, nil
}

// resolvePUUID resolves and persists the opaque player identifier. Returns
// a warning string on failure, empty on success or when already resolved.
func (s *PlayerService) resolvePUUID(ctx context.Context, player *domain.TrackedPlayer) string {
	if player.PUUID != "" {
		return ""
	}
	account := s.riot.AccountByRiotID(ctx, player.RiotID)
	if account == nil || account.PUUID == "" {
		s.logger.Warn().Str("riot_id", player.RiotID).Msg("could not resolve puuid")
		return "could not resolve player identifier, will retry on next sync"
	}
	if err := s.repo.UpdatePUUID(ctx, player.ID, account.PUUID); err != nil {
		s.logger.Error().Err(err).Str("id", player.ID).Msg("failed to persist puuid")
		return "resolved player identifier but failed to persist it"
	}
	player.PUUID = account.PUUID
	return ""
}

type UpdatePlayerPatch struct {
	RiotID          *string `json:"riot_id,omitempty"`
	Region          *string `json:"region,omitempty"`
	IsActive        *bool   `json:"is_active,omitempty"`
	ProfileImageURL *string `json:"profile_image_url,omitempty"`
}

func (s *PlayerService) UpdateTrackedPlayer(ctx context.Context, id string, patch UpdatePlayerPatch) (*domain.TrackedPlayer, string, error) {
	player, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrPlayerNotFound
		}
		return nil, "", err
	}
	oldSlug := player.Slug

	identityChanged := false
	if patch.RiotID != nil && *patch.RiotID != player.RiotID {
		if _, _, ok := riot.ParseRiotID(*patch.RiotID); !ok {
			return nil, "", fmt.Errorf("riot id must be in name#tag form")
		}
		player.RiotID = strings.TrimSpace(*patch.RiotID)
		identityChanged = true
	}
	if patch.Region != nil && !strings.EqualFold(*patch.Region, player.Region) {
		player.Region = strings.ToUpper(*patch.Region)
		identityChanged = true
	}
	if patch.IsActive != nil {
		player.IsActive = *patch.IsActive
	}
	if patch.ProfileImageURL != nil {
		player.ProfileImageURL = *patch.ProfileImageURL
	}

	if identityChanged {
		player.Slug = slug.FromRiotID(player.RiotID, player.Region)
		player.PUUID = ""
	}

	if err := s.repo.Update(ctx, player); err != nil {
		return nil, "", err
	}

	var warning string
	if identityChanged {
		if err := s.repo.UpdatePUUID(ctx, player.ID, ""); err != nil {
			s.logger.Error().Err(err).Str("id", player.ID).Msg("failed to clear puuid")
		}
		warning = s.resolvePUUID(ctx, player)
	}

	s.caches.Profile.Delete(oldSlug)
	s.caches.Profile.Delete(player.Slug)
	s.caches.Rank.Delete(player.ID)
	s.caches.Live.Delete(player.ID)
	return player, warning, nil
}

func (s *PlayerService) DeleteTrackedPlayer(ctx context.Context, id string) error {
	player, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPlayerNotFound
		}
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.caches.Profile.Delete(player.Slug)
	s.caches.Rank.Delete(id)
	s.caches.Live.Delete(id)
	return nil
}

func (s *PlayerService) ListTrackedPlayers(ctx context.Context) ([]domain.TrackedPlayer, error) {
	return s.repo.List(ctx)
}

func (s *PlayerService) SearchPlayers(ctx context.Context, query string) ([]domain.TrackedPlayer, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.repo.Search(ctx, query, constants.SearchSuggestionLimit)
}

// RankedInfo returns the player's current ranked standing with a freshness
// status. Upstream failure falls back to the stored value rather than
// erasing it.
func (s *PlayerService) RankedInfo(ctx context.Context, player *domain.TrackedPlayer, force bool) *domain.RankedResult {
	if !force {
		if snap, ok := s.caches.Rank.Get(player.ID); ok {
			return rankedResult(snap, domain.StatusCached)
		}
		if player.RankedUpdatedAt != nil && s.now().Sub(*player.RankedUpdatedAt) < constants.RankedTTL {
			snap := storedRankedSnapshot(player)
			s.caches.Rank.Set(player.ID, snap)
			return rankedResult(snap, domain.StatusCached)
		}
	}

	if player.PUUID == "" {
		return rankedResult(storedRankedSnapshot(player), domain.StatusSkipped)
	}

	entries := s.riot.LeagueEntriesByPUUID(ctx, player.PUUID)
	if entries == nil && player.SummonerID != "" {
		entries = s.riot.LeagueEntriesBySummonerID(ctx, player.SummonerID)
	}
	if entries == nil {
		s.logger.Debug().Str("id", player.ID).Msg("league entries unavailable, serving stored ranked")
		return rankedResult(storedRankedSnapshot(player), domain.StatusSkipped)
	}

	snap := pickRankedQueue(entries)
	now := s.now().UTC()
	if err := s.repo.UpdateRanked(ctx, player.ID, snap.Info, snap.Queue, now); err != nil {
		s.logger.Error().Err(err).Str("id", player.ID).Msg("failed to persist ranked info")
	}
	player.RankedUpdatedAt = &now
	if snap.Info != nil {
		player.RankedTier = snap.Info.Tier
		player.RankedRank = snap.Info.Rank
		lp := snap.Info.LeaguePoints
		player.RankedLP = &lp
		player.RankedQueue = snap.Queue
	} else {
		player.RankedTier = ""
		player.RankedRank = ""
		player.RankedLP = nil
		player.RankedQueue = ""
	}
	s.caches.Rank.Set(player.ID, snap)
	return rankedResult(snap, domain.StatusUpdated)
}

func pickRankedQueue(entries []domain.LeagueEntry) RankedSnapshot {
	for _, queue := range rankedQueuePriority {
		for _, e := range entries {
			if e.QueueType == queue {
				return RankedSnapshot{
					Info: &domain.RankedInfo{
						Tier:         e.Tier,
						Rank:         e.Rank,
						LeaguePoints: e.LeaguePoints,
					},
					Queue: queue,
				}
			}
		}
	}
	return RankedSnapshot{}
}

func storedRankedSnapshot(player *domain.TrackedPlayer) RankedSnapshot {
	if player.RankedTier == "" {
		return RankedSnapshot{}
	}
	lp := 0
	if player.RankedLP != nil {
		lp = *player.RankedLP
	}
	return RankedSnapshot{
		Info: &domain.RankedInfo{
			Tier:         player.RankedTier,
			Rank:         player.RankedRank,
			LeaguePoints: lp,
		},
		Queue: player.RankedQueue,
	}
}

func rankedResult(snap RankedSnapshot, status domain.FactStatus) *domain.RankedResult {
	res := &domain.RankedResult{
		Ranked:      snap.Info,
		RankedQueue: snap.Queue,
		Status:      status,
	}
	if snap.Info != nil {
		res.RankIconURL = assets.RankIconURL(snap.Info.Tier)
	} else {
		res.RankIconURL = assets.UnrankedIcon
	}
	return res
}

// LiveStatus reports whether the player is in a game right now. "Not in
// game" is a valid cacheable answer, not an error.
func (s *PlayerService) LiveStatus(ctx context.Context, player *domain.TrackedPlayer, force bool) *domain.LiveResult {
	if !force {
		if status, ok := s.caches.Live.Get(player.ID); ok {
			return &domain.LiveResult{LiveGameStatus: status, Status: domain.StatusCached}
		}
		if player.LiveUpdatedAt != nil && s.now().Sub(*player.LiveUpdatedAt) < constants.LiveTTL {
			status := domain.LiveGameStatus{
				InGame:        player.LiveInGame,
				GameStartTime: player.LiveGameStartTime,
			}
			s.caches.Live.Set(player.ID, status)
			return &domain.LiveResult{LiveGameStatus: status, Status: domain.StatusCached}
		}
	}

	if player.PUUID == "" {
		return &domain.LiveResult{Status: domain.StatusSkipped}
	}

	game := s.riot.LiveGameByPUUID(ctx, player.PUUID)
	status := domain.LiveGameStatus{InGame: game != nil}
	if game != nil {
		status.GameStartTime = game.GameStartTime
		count := len(game.Participants)
		status.ParticipantCount = &count
	}

	now := s.now().UTC()
	if err := s.repo.UpdateLive(ctx, player.ID, status.InGame, status.GameStartTime, now); err != nil {
		s.logger.Error().Err(err).Str("id", player.ID).Msg("failed to persist live status")
	}
	player.LiveInGame = status.InGame
	player.LiveGameStartTime = status.GameStartTime
	player.LiveUpdatedAt = &now
	s.caches.Live.Set(player.ID, status)
	return &domain.LiveResult{LiveGameStatus: status, Status: domain.StatusUpdated}
}

// EnsureAveragePlacement recomputes the rolling ten-match average placement
// when the stored value is stale or force is set. Zero resolvable matches
// yields nil without persisting.
func (s *PlayerService) EnsureAveragePlacement(ctx context.Context, player *domain.TrackedPlayer, force bool) (*float64, domain.FactStatus) {
	if !force && player.AvgPlacementUpdatedAt != nil &&
		s.now().Sub(*player.AvgPlacementUpdatedAt) < constants.AvgPlacementTTL {
		return player.AvgPlacement, domain.StatusCached
	}
	if player.PUUID == "" {
		return player.AvgPlacement, domain.StatusSkipped
	}

	matchIDs := s.riot.MatchIDsByPUUID(ctx, player.PUUID, constants.RecentMatchCount)
	if matchIDs == nil {
		return player.AvgPlacement, domain.StatusSkipped
	}
	if len(matchIDs) == 0 {
		return nil, domain.StatusUpdated
	}

	var mu sync.Mutex
	var placements []int
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.PreviewFetchConcurrency)
	for _, id := range matchIDs {
		matchID := id
		g.Go(func() error {
			detail, err := s.previews.GetOrFetchMatch(gctx, matchID)
			if err != nil {
				return nil
			}
			want := normalizePUUID(player.PUUID)
			for _, p := range detail.Participants {
				if normalizePUUID(p.PUUID) == want && p.Placement != nil {
					mu.Lock()
					placements = append(placements, *p.Placement)
					mu.Unlock()
					break
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(placements) == 0 {
		return nil, domain.StatusSkipped
	}

	sum := 0
	for _, p := range placements {
		sum += p
	}
	avg := math.Round(float64(sum)/float64(len(placements))*100) / 100

	now := s.now().UTC()
	if err := s.repo.UpdateAvgPlacement(ctx, player.ID, &avg, now); err != nil {
		s.logger.Error().Err(err).Str("id", player.ID).Msg("failed to persist average placement")
	}
	player.AvgPlacement = &avg
	player.AvgPlacementUpdatedAt = &now
	return &avg, domain.StatusUpdated
}

// ProfileBySlug assembles the full profile view. Forced refreshes are rate
// limited per slug through the refresh tracker.
func (s *PlayerService) ProfileBySlug(ctx context.Context, slugOrID string, refresh bool) (*domain.ProfileView, error) {
	if refresh && !s.caches.Refresh.Mark(slugOrID) {
		refresh = false
	}
	if !refresh {
		if view, ok := s.caches.Profile.Get(slugOrID); ok {
			cached := *view
			cached.Cached = true
			return &cached, nil
		}
	}

	player, err := s.repo.GetBySlug(ctx, slugOrID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}

	ranked := s.RankedInfo(ctx, player, refresh)
	live := s.LiveStatus(ctx, player, refresh)
	avg, _ := s.EnsureAveragePlacement(ctx, player, refresh)

	view := &domain.ProfileView{
		Player:       player,
		Ranked:       ranked,
		Live:         live,
		AvgPlacement: avg,
	}

	if player.PUUID != "" {
		entries, err := s.matches.RecentByPUUID(ctx, player.PUUID, constants.RecentMatchCount)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", player.ID).Msg("failed to load recent matches")
		}
		view.RecentMatches = s.matchSummaries(ctx, entries, player.PUUID)
		view.Favorites = s.favorites(ctx, entries, player.PUUID)
	}
	if view.RecentMatches == nil {
		view.RecentMatches = []domain.MatchSummary{}
	}

	s.caches.Profile.Set(player.Slug, view)
	return view, nil
}

func (s *PlayerService) matchSummaries(ctx context.Context, entries []domain.MatchCacheEntry, puuid string) []domain.MatchSummary {
	summaries := make([]domain.MatchSummary, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		preview := s.previews.previewFromEntry(ctx, entry, puuid)
		summary := domain.MatchSummary{
			MatchID: entry.MatchID,
			Preview: preview,
		}
		if preview != nil {
			summary.Placement = preview.Placement
		}
		if !entry.GameDatetime.IsZero() {
			ms := entry.GameDatetime.UnixMilli()
			summary.GameDateTime = &ms
		}
		if entry.Data != nil && entry.Data.Info != nil {
			summary.GameStartTime = entry.Data.Info.GameStartTime
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// favorites aggregates the player's most played unit, items and traits over
// their cached ranked-queue matches.
func (s *PlayerService) favorites(ctx context.Context, entries []domain.MatchCacheEntry, puuid string) *domain.Favorites {
	want := normalizePUUID(puuid)
	unitCounts := map[string]int{}
	itemCounts := map[string]int{}
	traitCounts := map[string]int{}

	for i := range entries {
		entry := &entries[i]
		if entry.QueueID == nil || *entry.QueueID != constants.RankedQueueID {
			continue
		}
		if entry.Data == nil || entry.Data.Info == nil {
			continue
		}
		for j := range entry.Data.Info.Participants {
			p := &entry.Data.Info.Participants[j]
			if normalizePUUID(p.PUUID) != want {
				continue
			}
			for _, u := range p.Units {
				unitCounts[u.CharacterID]++
				for _, item := range u.ItemNames {
					itemCounts[item]++
				}
			}
			for _, t := range p.Traits {
				if t.Style > 0 {
					traitCounts[t.Name]++
				}
			}
			break
		}
	}
	if len(unitCounts) == 0 && len(itemCounts) == 0 && len(traitCounts) == 0 {
		return nil
	}

	fav := &domain.Favorites{}
	if name, count := topCounted(unitCounts); name != "" {
		icon := s.assets.ChampionIconURL(ctx, name)
		if icon == "" {
			icon = assets.UnknownUnitIcon
		}
		fav.Unit = &domain.FavoriteUnit{CharacterID: name, IconURL: icon, Count: count}
	}
	for _, name := range topN(itemCounts, 3) {
		icon := s.assets.ItemIconURL(ctx, name)
		if icon == "" {
			icon = assets.UnknownItemIcon
		}
		fav.Items = append(fav.Items, domain.FavoriteItem{Name: name, IconURL: icon, Count: itemCounts[name]})
	}
	for _, name := range topN(traitCounts, 3) {
		fav.Traits = append(fav.Traits, domain.FavoriteTrait{Name: name, IconURL: s.assets.TraitIconURL(ctx, name), Count: traitCounts[name]})
	}
	return fav
}

func topCounted(counts map[string]int) (string, int) {
	best, bestCount := "", 0
	for name, count := range counts {
		if count > bestCount || (count == bestCount && name < best) {
			best, bestCount = name, count
		}
	}
	return best, bestCount
}

func topN(counts map[string]int, n int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	// deterministic: count desc, name asc
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// InvalidateCaches drops every process-local cache, including the asset
// catalog. The admin endpoint calls this after manual data fixes.
func (s *PlayerService) InvalidateCaches() {
	s.caches.Rank.Purge()
	s.caches.Live.Purge()
	s.caches.Profile.Purge()
	s.caches.Leaderboard.Purge()
	s.assets.Invalidate()
}

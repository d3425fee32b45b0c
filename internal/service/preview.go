package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/EmeraldsHub/tft/internal/assets"
	"github.com/EmeraldsHub/tft/internal/constants"
	"github.com/EmeraldsHub/tft/internal/domain"
	"github.com/EmeraldsHub/tft/internal/repository"
	"github.com/EmeraldsHub/tft/internal/riot"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrUpstreamUnavailable marks a match fetch that failed transiently.
// Nothing is persisted; the next request retries from scratch.
var ErrUpstreamUnavailable = errors.New("upstream match data unavailable")

var ErrInvalidMatchID = errors.New("invalid match id")

var matchIDPattern = regexp.MustCompile(`^[A-Z0-9]+_\d+$`)

// PreviewService owns the match cache and the per-participant preview
// pipeline: fetch, derive, persist, and self-heal incomplete previews on
// read as the asset catalog grows.
type PreviewService struct {
	riot    *riot.Client
	assets  *assets.Resolver
	matches *repository.MatchCacheRepository
	logger  zerolog.Logger
}

func NewPreviewService(riotClient *riot.Client, resolver *assets.Resolver, matches *repository.MatchCacheRepository, logger zerolog.Logger) *PreviewService {
	return &PreviewService{
		riot:    riotClient,
		assets:  resolver,
		matches: matches,
		logger:  logger,
	}
}

func normalizePUUID(puuid string) string {
	return strings.ToLower(strings.TrimSpace(puuid))
}

// GetOrFetchMatch returns the enriched participants of a match, from the
// persisted cache when possible. A cache hit whose previews look incomplete
// is repaired in place from the stored payload, no upstream call.
func (s *PreviewService) GetOrFetchMatch(ctx context.Context, matchID string) (*domain.MatchDetail, error) {
	if !matchIDPattern.MatchString(matchID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMatchID, matchID)
	}

	entry, err := s.matches.GetByID(ctx, matchID)
	switch {
	case err == nil:
		s.repairPreviews(ctx, entry)
		return s.detailFromEntry(entry, true), nil
	case !errors.Is(err, sql.ErrNoRows):
		// store failure, not a miss; do not mask it with an upstream fetch
		return nil, fmt.Errorf("load cached match %s: %w", matchID, err)
	}

	payload := s.riot.MatchByID(ctx, matchID)
	if payload == nil || payload.Info == nil {
		s.logger.Warn().Str("match_id", matchID).Msg("match unavailable upstream")
		return nil, ErrUpstreamUnavailable
	}

	entry = s.entryFromPayload(ctx, matchID, payload, routingRegion(regionFromMatchID(matchID)))
	if err := s.matches.Insert(ctx, entry); err != nil {
		// benign in the duplicate-insert race; surface anything else
		s.logger.Warn().Err(err).Str("match_id", matchID).Msg("failed to persist match")
	}
	return s.detailFromEntry(entry, false), nil
}

func (s *PreviewService) entryFromPayload(ctx context.Context, matchID string, payload *domain.MatchPayload, region string) *domain.MatchCacheEntry {
	previews := make(map[string]*domain.Preview, len(payload.Info.Participants))
	for i := range payload.Info.Participants {
		p := &payload.Info.Participants[i]
		if p.PUUID == "" {
			continue
		}
		previews[p.PUUID] = s.buildPreview(ctx, p)
	}

	var gameDatetime time.Time
	if payload.Info.GameDatetime != nil {
		gameDatetime = time.UnixMilli(*payload.Info.GameDatetime)
	} else if payload.Info.GameStartTime != nil {
		gameDatetime = time.UnixMilli(*payload.Info.GameStartTime)
	}

	return &domain.MatchCacheEntry{
		MatchID:      matchID,
		Region:       region,
		GameDatetime: gameDatetime,
		QueueID:      payload.Info.QueueID,
		Data:         payload,
		Previews:     previews,
		FetchedAt:    time.Now().UTC(),
	}
}

func (s *PreviewService) detailFromEntry(entry *domain.MatchCacheEntry, cached bool) *domain.MatchDetail {
	participants := make([]*domain.Preview, 0, len(entry.Previews))
	for _, p := range entry.Previews {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		pi, pj := participants[i].Placement, participants[j].Placement
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		case *pi != *pj:
			return *pi < *pj
		}
		return participants[i].PUUID < participants[j].PUUID
	})

	detail := &domain.MatchDetail{
		MatchID:      entry.MatchID,
		Cached:       cached,
		QueueID:      entry.QueueID,
		Participants: participants,
	}
	if !entry.GameDatetime.IsZero() {
		ms := entry.GameDatetime.UnixMilli()
		detail.GameDatetime = &ms
	}
	return detail
}

// repairPreviews rebuilds any missing or incomplete preview from the stored
// raw payload and persists the patched map. No upstream traffic.
func (s *PreviewService) repairPreviews(ctx context.Context, entry *domain.MatchCacheEntry) {
	if entry.Data == nil || entry.Data.Info == nil {
		return
	}

	changed := false
	if entry.Previews == nil {
		entry.Previews = make(map[string]*domain.Preview, len(entry.Data.Info.Participants))
	}
	for i := range entry.Data.Info.Participants {
		p := &entry.Data.Info.Participants[i]
		if p.PUUID == "" {
			continue
		}
		existing, ok := entry.Previews[p.PUUID]
		if ok && !previewNeedsIcons(existing) {
			continue
		}
		rebuilt := s.buildPreview(ctx, p)
		if ok && previewNeedsIcons(rebuilt) {
			// catalog still can't do better, keep the stored one
			continue
		}
		entry.Previews[p.PUUID] = rebuilt
		changed = true
	}

	if changed {
		if err := s.matches.UpdatePreviews(ctx, entry.MatchID, entry.Previews); err != nil {
			s.logger.Warn().Err(err).Str("match_id", entry.MatchID).Msg("failed to persist repaired previews")
		}
	}
}

// buildPreview derives the render-ready summary of one participant's board.
// Unresolvable icons get the unknown placeholders so the caller always has
// something to draw; previewNeedsIcons treats those as repairable.
func (s *PreviewService) buildPreview(ctx context.Context, p *domain.MatchParticipant) *domain.Preview {
	units := make([]domain.PreviewUnit, 0, len(p.Units))
	for _, u := range p.Units {
		champIcon := s.assets.ChampionIconURL(ctx, u.CharacterID)
		if champIcon == "" {
			champIcon = assets.UnknownUnitIcon
		}
		itemNames := u.ItemNames
		if itemNames == nil {
			itemNames = []string{}
		}
		itemIcons := make([]string, len(itemNames))
		for i, item := range itemNames {
			icon := s.assets.ItemIconURL(ctx, item)
			if icon == "" {
				icon = assets.UnknownItemIcon
			}
			itemIcons[i] = icon
		}
		units = append(units, domain.PreviewUnit{
			CharacterID:  u.CharacterID,
			Tier:         u.Tier,
			ItemNames:    itemNames,
			ChampIconURL: champIcon,
			ItemIconURLs: itemIcons,
		})
	}

	traits := make([]domain.Trait, 0, len(p.Traits))
	for _, t := range p.Traits {
		traits = append(traits, domain.Trait{
			Name:        t.Name,
			NumUnits:    t.NumUnits,
			Style:       t.Style,
			TierCurrent: t.TierCurrent,
			TierTotal:   t.TierTotal,
		})
	}

	preview := &domain.Preview{
		PUUID:     p.PUUID,
		GameName:  p.GameName,
		TagLine:   p.TagLine,
		Placement: p.Placement,
		Level:     p.Level,
		Units:     units,
		Traits:    traits,
		TopTraits: s.topTraits(ctx, p.Traits),
	}
	if len(units) == 0 {
		preview.Reason = domain.ReasonNoUnits
	}
	return preview
}

// topTraits keeps active traits (style or current tier above zero), sorted
// by style desc then unit count desc, capped at the display limit.
func (s *PreviewService) topTraits(ctx context.Context, traits []domain.ParticipantTrait) []domain.TopTrait {
	active := make([]domain.ParticipantTrait, 0, len(traits))
	for _, t := range traits {
		if t.Style > 0 || t.TierCurrent > 0 {
			active = append(active, t)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Style != active[j].Style {
			return active[i].Style > active[j].Style
		}
		return active[i].NumUnits > active[j].NumUnits
	})
	if len(active) > constants.TopTraitLimit {
		active = active[:constants.TopTraitLimit]
	}

	out := make([]domain.TopTrait, 0, len(active))
	for _, t := range active {
		out = append(out, domain.TopTrait{
			Name:     t.Name,
			NumUnits: t.NumUnits,
			Style:    t.Style,
			IconURL:  s.assets.TraitIconURL(ctx, t.Name),
		})
	}
	return out
}

// previewNeedsIcons reports whether a stored preview should be rebuilt. A
// placeholder icon counts as missing so catalog growth heals old rows.
func previewNeedsIcons(p *domain.Preview) bool {
	if p == nil {
		return true
	}
	for _, u := range p.Units {
		if u.ChampIconURL == "" || u.ChampIconURL == assets.UnknownUnitIcon {
			return true
		}
		if len(u.ItemIconURLs) != len(u.ItemNames) {
			return true
		}
		for _, icon := range u.ItemIconURLs {
			if icon == "" || icon == assets.UnknownItemIcon {
				return true
			}
		}
	}
	return false
}

// PreviewsForPlayer resolves one player's preview across up to ten matches.
// The returned map's key set always equals the requested ID set; a match
// that cannot be resolved gets a PLAYER_NOT_FOUND placeholder, never an
// absent key. regionHint is the caller's shard or routing region; freshly
// fetched matches are stored under its routing region.
func (s *PreviewService) PreviewsForPlayer(ctx context.Context, puuid string, matchIDs []string, regionHint string) map[string]*domain.Preview {
	if len(matchIDs) > constants.MatchPreviewLimit {
		matchIDs = matchIDs[:constants.MatchPreviewLimit]
	}
	region := routingRegion(regionHint)

	result := make(map[string]*domain.Preview, len(matchIDs))
	valid := make([]string, 0, len(matchIDs))
	for _, id := range matchIDs {
		if _, dup := result[id]; dup {
			continue
		}
		if !matchIDPattern.MatchString(id) {
			result[id] = notFoundPreview(puuid)
			continue
		}
		result[id] = nil
		valid = append(valid, id)
	}

	cached, err := s.matches.GetByIDs(ctx, valid)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load cached matches")
		cached = map[string]*domain.MatchCacheEntry{}
	}

	var missing []string
	for _, id := range valid {
		entry, ok := cached[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		result[id] = s.previewFromEntry(ctx, entry, puuid)
	}

	if len(missing) > 0 {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(constants.PreviewFetchConcurrency)
		for _, id := range missing {
			matchID := id
			g.Go(func() error {
				preview := s.fetchPreview(gctx, matchID, puuid, region)
				mu.Lock()
				result[matchID] = preview
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait() // workers never return errors
	}

	for id, p := range result {
		if p == nil {
			result[id] = notFoundPreview(puuid)
		}
	}
	return result
}

// previewFromEntry reads one player's preview out of a cached entry,
// repairing or deriving it from the stored payload when needed.
func (s *PreviewService) previewFromEntry(ctx context.Context, entry *domain.MatchCacheEntry, puuid string) *domain.Preview {
	want := normalizePUUID(puuid)
	for key, p := range entry.Previews {
		if normalizePUUID(key) != want {
			continue
		}
		if !previewNeedsIcons(p) {
			return p
		}
		break
	}

	preview, matchedKey := s.deriveForPlayer(ctx, entry.Data, puuid)
	if preview == nil {
		return notFoundPreview(puuid)
	}

	if entry.Previews == nil {
		entry.Previews = map[string]*domain.Preview{}
	}
	entry.Previews[matchedKey] = preview
	if err := s.matches.UpdatePreviews(ctx, entry.MatchID, entry.Previews); err != nil {
		s.logger.Warn().Err(err).Str("match_id", entry.MatchID).Msg("failed to persist repaired preview")
	}
	return preview
}

func (s *PreviewService) fetchPreview(ctx context.Context, matchID, puuid, region string) *domain.Preview {
	payload := s.riot.MatchByID(ctx, matchID)
	if payload == nil || payload.Info == nil {
		return notFoundPreview(puuid)
	}

	preview, matchedKey := s.deriveForPlayer(ctx, payload, puuid)
	if preview == nil {
		return notFoundPreview(puuid)
	}

	entry := s.entryFromPayload(ctx, matchID, payload, region)
	entry.Previews[matchedKey] = preview
	if err := s.matches.Insert(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("match_id", matchID).Msg("failed to persist match")
	}
	return preview
}

// deriveForPlayer builds the requested player's preview from a payload. A
// puuid that matches no participant falls back to the best-placed board,
// tagged with a diagnostic reason. The fallback is a deliberate UX crutch
// for identifier-casing drift; case-insensitive matching runs first.
func (s *PreviewService) deriveForPlayer(ctx context.Context, payload *domain.MatchPayload, puuid string) (*domain.Preview, string) {
	if payload == nil || payload.Info == nil || len(payload.Info.Participants) == 0 {
		return nil, ""
	}

	want := normalizePUUID(puuid)
	for i := range payload.Info.Participants {
		p := &payload.Info.Participants[i]
		if normalizePUUID(p.PUUID) == want {
			return s.buildPreview(ctx, p), p.PUUID
		}
	}

	best := &payload.Info.Participants[0]
	for i := 1; i < len(payload.Info.Participants); i++ {
		p := &payload.Info.Participants[i]
		if p.Placement == nil {
			continue
		}
		if best.Placement == nil || *p.Placement < *best.Placement {
			best = p
		}
	}
	preview := s.buildPreview(ctx, best)
	preview.Reason = domain.ReasonFallbackTop1
	return preview, best.PUUID
}

func notFoundPreview(puuid string) *domain.Preview {
	return &domain.Preview{
		PUUID:  puuid,
		Units:  []domain.PreviewUnit{},
		Traits: []domain.Trait{},
		Reason: domain.ReasonPlayerNotFound,
	}
}

func regionFromMatchID(matchID string) string {
	if i := strings.IndexByte(matchID, '_'); i > 0 {
		return matchID[:i]
	}
	return ""
}

// routingRegion maps a platform shard (EUW1, NA1, ...) to the routing region
// its match data lives under. Already-routing values pass through; anything
// unrecognized falls back to EUROPE, home of the supported shard.
func routingRegion(hint string) string {
	switch strings.ToUpper(strings.TrimSpace(hint)) {
	case "EUW1", "EUN1", "RU", "TR1", "EUROPE":
		return "EUROPE"
	case "NA1", "BR1", "LA1", "LA2", "OC1", "AMERICAS":
		return "AMERICAS"
	case "KR", "JP1", "ASIA":
		return "ASIA"
	}
	return "EUROPE"
}

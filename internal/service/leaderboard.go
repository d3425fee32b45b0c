package service

import (
	"context"
	"sort"

	"github.com/EmeraldsHub/tft/internal/assets"
	"github.com/EmeraldsHub/tft/internal/domain"
	"github.com/EmeraldsHub/tft/internal/repository"
	"github.com/rs/zerolog"
)

const leaderboardCacheKey = "leaderboard"

var tierOrder = map[string]int{
	"IRON": 0, "BRONZE": 1, "SILVER": 2, "GOLD": 3, "PLATINUM": 4,
	"EMERALD": 5, "DIAMOND": 6, "MASTER": 7, "GRANDMASTER": 8, "CHALLENGER": 9,
}

var divisionOrder = map[string]int{
	"IV": 0, "III": 1, "II": 2, "I": 3,
}

// LeaderboardService builds the public board from stored ranked facts; it
// never calls upstream itself.
type LeaderboardService struct {
	repo   *repository.TrackedPlayerRepository
	caches *Caches
	logger zerolog.Logger
}

func NewLeaderboardService(repo *repository.TrackedPlayerRepository, caches *Caches, logger zerolog.Logger) *LeaderboardService {
	return &LeaderboardService{
		repo:   repo,
		caches: caches,
		logger: logger,
	}
}

// Leaderboard returns active players ordered by ranked standing, riot id as
// the tiebreak. Unranked players sink to the bottom.
func (s *LeaderboardService) Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	if entries, ok := s.caches.Leaderboard.Get(leaderboardCacheKey); ok {
		return entries, nil
	}

	players, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.LeaderboardEntry, 0, len(players))
	for i := range players {
		p := &players[i]
		entry := domain.LeaderboardEntry{
			ID:              p.ID,
			RiotID:          p.RiotID,
			Slug:            p.Slug,
			ProfileImageURL: p.ProfileImageURL,
			Tier:            p.RankedTier,
			Rank:            p.RankedRank,
			LeaguePoints:    p.RankedLP,
			AvgPlacement:    p.AvgPlacement,
			LiveInGame:      p.LiveInGame,
		}
		if p.RankedTier != "" {
			entry.RankIconURL = assets.RankIconURL(p.RankedTier)
		} else {
			entry.RankIconURL = assets.UnrankedIcon
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		si, sj := rankScore(&entries[i]), rankScore(&entries[j])
		if si != sj {
			return si > sj
		}
		return entries[i].RiotID < entries[j].RiotID
	})

	s.caches.Leaderboard.Set(leaderboardCacheKey, entries)
	return entries, nil
}

func (s *LeaderboardService) Invalidate() {
	s.caches.Leaderboard.Delete(leaderboardCacheKey)
}

func rankScore(e *domain.LeaderboardEntry) int {
	tier, ok := tierOrder[e.Tier]
	if !ok {
		return -1
	}
	lp := 0
	if e.LeaguePoints != nil {
		lp = *e.LeaguePoints
	}
	return tier*1000 + divisionOrder[e.Rank]*100 + lp
}

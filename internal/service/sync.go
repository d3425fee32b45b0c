package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/EmeraldsHub/tft/internal/constants"
	"github.com/EmeraldsHub/tft/internal/domain"
	"github.com/EmeraldsHub/tft/internal/repository"
	"github.com/EmeraldsHub/tft/internal/riot"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SyncService orchestrates full refreshes of tracked players: identifier
// resolution, then ranked, live and average placement in sequence, each
// reporting its own status.
type SyncService struct {
	repo    *repository.TrackedPlayerRepository
	locks   *repository.JobLockRepository
	riot    *riot.Client
	players *PlayerService
	logger  zerolog.Logger
	pause   func(time.Duration)
}

func NewSyncService(
	repo *repository.TrackedPlayerRepository,
	locks *repository.JobLockRepository,
	riotClient *riot.Client,
	players *PlayerService,
	logger zerolog.Logger,
) *SyncService {
	return &SyncService{
		repo:    repo,
		locks:   locks,
		riot:    riotClient,
		players: players,
		logger:  logger,
		pause:   time.Sleep,
	}
}

// SyncPlayerByID refreshes every derived fact of one player. Players homed
// on an unsupported shard get a non-fatal "unsupported" result.
func (s *SyncService) SyncPlayerByID(ctx context.Context, id string, force bool) (*domain.SyncResult, error) {
	player, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}

	if player.Region != constants.SupportedPlatform {
		return &domain.SyncResult{
			Updated: false,
			Warning: "unsupported region: " + player.Region,
			Statuses: &domain.SyncStatuses{
				Ranked:       domain.StatusSkipped,
				Live:         domain.StatusSkipped,
				AvgPlacement: domain.StatusSkipped,
			},
		}, nil
	}

	warning := s.players.resolvePUUID(ctx, player)
	if player.PUUID == "" {
		return &domain.SyncResult{
			Updated: false,
			Warning: warning,
			Statuses: &domain.SyncStatuses{
				Ranked:       domain.StatusSkipped,
				Live:         domain.StatusSkipped,
				AvgPlacement: domain.StatusSkipped,
			},
		}, nil
	}

	ranked := s.players.RankedInfo(ctx, player, force)
	live := s.players.LiveStatus(ctx, player, force)
	avg, avgStatus := s.players.EnsureAveragePlacement(ctx, player, force)

	statuses := &domain.SyncStatuses{
		Ranked:       ranked.Status,
		Live:         live.Status,
		AvgPlacement: avgStatus,
	}
	result := &domain.SyncResult{
		Updated: ranked.Status == domain.StatusUpdated ||
			live.Status == domain.StatusUpdated ||
			avgStatus == domain.StatusUpdated,
		Warning:      warning,
		Ranked:       ranked.Ranked,
		Live:         &live.LiveGameStatus,
		AvgPlacement: avg,
		Statuses:     statuses,
	}

	s.logger.Info().
		Str("id", id).
		Str("slug", player.Slug).
		Bool("updated", result.Updated).
		Str("ranked", string(statuses.Ranked)).
		Str("live", string(statuses.Live)).
		Str("avg", string(statuses.AvgPlacement)).
		Msg("player synced")
	return result, nil
}

// SyncBatch runs admin-selected players sequentially, aborting on the
// upstream rate-limit flag and marking the untouched remainder.
func (s *SyncService) SyncBatch(ctx context.Context, ids []string, force bool) map[string]*domain.SyncResult {
	results := make(map[string]*domain.SyncResult, len(ids))
	for i, id := range ids {
		s.riot.ResetLimited()
		res, err := s.SyncPlayerByID(ctx, id, force)
		if err != nil {
			results[id] = &domain.SyncResult{Warning: err.Error()}
			continue
		}
		results[id] = res

		if s.riot.Limited() {
			s.logger.Warn().Int("remaining", len(ids)-i-1).Msg("rate limited, aborting batch")
			for _, rest := range ids[i+1:] {
				results[rest] = &domain.SyncResult{Warning: "rate_limited", Statuses: &domain.SyncStatuses{
					Ranked:       domain.StatusSkipped,
					Live:         domain.StatusSkipped,
					AvgPlacement: domain.StatusSkipped,
				}}
			}
			break
		}
	}
	return results
}

// SyncAll is the cron entry point: it takes the batch job lock, walks the
// stalest active players, and always releases the lock on the way out.
func (s *SyncService) SyncAll(ctx context.Context) (*domain.BatchSyncResult, error) {
	ok, lockedUntil, err := s.locks.Acquire(ctx, constants.SyncAllLockName, constants.SyncAllLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Info().Time("locked_until", lockedUntil).Msg("sync_all lock held, skipping run")
		return &domain.BatchSyncResult{Ran: false, Reason: "locked"}, nil
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), constants.SyncAllLockName); err != nil {
			s.logger.Error().Err(err).Msg("failed to release sync_all lock")
		}
	}()

	players, err := s.repo.ListActiveByStaleness(ctx, constants.BatchSyncLimit)
	if err != nil {
		return nil, err
	}

	results := make(map[string]*domain.SyncResult, len(players))
	for i := range players {
		player := &players[i]
		s.riot.ResetLimited()

		res, err := s.SyncPlayerByID(ctx, player.ID, false)
		if err != nil {
			results[player.ID] = &domain.SyncResult{Warning: err.Error()}
		} else {
			results[player.ID] = res
		}

		if s.riot.Limited() {
			s.logger.Warn().Int("remaining", len(players)-i-1).Msg("rate limited, aborting sync_all")
			for _, rest := range players[i+1:] {
				results[rest.ID] = &domain.SyncResult{Warning: "rate_limited", Statuses: &domain.SyncStatuses{
					Ranked:       domain.StatusSkipped,
					Live:         domain.StatusSkipped,
					AvgPlacement: domain.StatusSkipped,
				}}
			}
			break
		}
		if i < len(players)-1 {
			s.pause(constants.BatchSyncPause)
		}
	}

	return &domain.BatchSyncResult{Ran: true, Results: results}, nil
}

// SyncLeaderboard refreshes ranked standing for every active player with a
// small worker pool, backfilling missing summoner ids along the way.
func (s *SyncService) SyncLeaderboard(ctx context.Context) (int, error) {
	players, err := s.repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.LeaderboardSyncConcurrency)
	for i := range players {
		player := &players[i]
		g.Go(func() error {
			if player.PUUID == "" {
				if warning := s.players.resolvePUUID(gctx, player); warning != "" {
					return nil
				}
			}
			if player.SummonerID == "" {
				if summoner := s.riot.SummonerByPUUID(gctx, player.PUUID); summoner != nil && summoner.ID != "" {
					if err := s.repo.UpdateSummonerID(gctx, player.ID, summoner.ID); err != nil {
						s.logger.Warn().Err(err).Str("id", player.ID).Msg("failed to backfill summoner id")
					}
				}
			}
			s.players.RankedInfo(gctx, player, true)
			return nil
		})
	}
	_ = g.Wait()

	s.players.caches.Leaderboard.Purge()
	return len(players), nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/EmeraldsHub/tft/internal/domain"
	"github.com/rs/zerolog"
)

const playerColumns = `id, riot_id, region, slug, puuid, summoner_id, is_active,
	profile_image_url, ranked_tier, ranked_rank, ranked_lp, ranked_queue, ranked_updated_at,
	avg_placement_10, avg_placement_updated_at, live_in_game, live_game_start_time,
	live_updated_at, riot_data_updated_at, created_at`

type TrackedPlayerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewTrackedPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *TrackedPlayerRepository {
	return &TrackedPlayerRepository{
		db:     sqlDB,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (*domain.TrackedPlayer, error) {
	var p domain.TrackedPlayer
	var puuid, summonerID, profileImageURL sql.NullString
	var rankedTier, rankedRank, rankedQueue sql.NullString
	var rankedLP sql.NullInt64
	var rankedUpdatedAt, avgUpdatedAt, liveUpdatedAt, riotUpdatedAt sql.NullTime
	var avgPlacement sql.NullFloat64
	var liveGameStartTime sql.NullInt64

	err := row.Scan(
		&p.ID, &p.RiotID, &p.Region, &p.Slug, &puuid, &summonerID, &p.IsActive,
		&profileImageURL, &rankedTier, &rankedRank, &rankedLP, &rankedQueue, &rankedUpdatedAt,
		&avgPlacement, &avgUpdatedAt, &p.LiveInGame, &liveGameStartTime,
		&liveUpdatedAt, &riotUpdatedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.PUUID = puuid.String
	p.SummonerID = summonerID.String
	p.ProfileImageURL = profileImageURL.String
	p.RankedTier = rankedTier.String
	p.RankedRank = rankedRank.String
	p.RankedQueue = rankedQueue.String
	if rankedLP.Valid {
		lp := int(rankedLP.Int64)
		p.RankedLP = &lp
	}
	if rankedUpdatedAt.Valid {
		p.RankedUpdatedAt = &rankedUpdatedAt.Time
	}
	if avgPlacement.Valid {
		p.AvgPlacement = &avgPlacement.Float64
	}
	if avgUpdatedAt.Valid {
		p.AvgPlacementUpdatedAt = &avgUpdatedAt.Time
	}
	if liveGameStartTime.Valid {
		p.LiveGameStartTime = &liveGameStartTime.Int64
	}
	if liveUpdatedAt.Valid {
		p.LiveUpdatedAt = &liveUpdatedAt.Time
	}
	if riotUpdatedAt.Valid {
		p.RiotDataUpdatedAt = &riotUpdatedAt.Time
	}
	return &p, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *TrackedPlayerRepository) Create(ctx context.Context, p *domain.TrackedPlayer) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracked_players (id, riot_id, region, slug, puuid, summoner_id, is_active, profile_image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RiotID, p.Region, p.Slug, nullStr(p.PUUID), nullStr(p.SummonerID),
		p.IsActive, nullStr(p.ProfileImageURL), p.CreatedAt,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("slug", p.Slug).Msg("failed to create tracked player")
		return fmt.Errorf("failed to create tracked player: %w", err)
	}
	return nil
}

func (r *TrackedPlayerRepository) GetByID(ctx context.Context, id string) (*domain.TrackedPlayer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM tracked_players WHERE id = ?`, id)
	return scanPlayer(row)
}

// GetBySlug looks the player up by slug, falling back to a slugified form of
// the riot id so older links keep resolving after a slug edit.
func (r *TrackedPlayerRepository) GetBySlug(ctx context.Context, slug string) (*domain.TrackedPlayer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM tracked_players WHERE slug = ?`, slug)
	p, err := scanPlayer(row)
	if err == nil {
		return p, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	row = r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM tracked_players
		 WHERE LOWER(REPLACE(riot_id, '#', '-')) = LOWER(?)`, slug)
	return scanPlayer(row)
}

func (r *TrackedPlayerRepository) GetByPUUID(ctx context.Context, puuid string) (*domain.TrackedPlayer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM tracked_players WHERE puuid = ?`, puuid)
	return scanPlayer(row)
}

func (r *TrackedPlayerRepository) List(ctx context.Context) ([]domain.TrackedPlayer, error) {
	return r.queryPlayers(ctx,
		`SELECT `+playerColumns+` FROM tracked_players ORDER BY created_at DESC`)
}

func (r *TrackedPlayerRepository) ListActive(ctx context.Context) ([]domain.TrackedPlayer, error) {
	return r.queryPlayers(ctx,
		`SELECT `+playerColumns+` FROM tracked_players WHERE is_active = 1 ORDER BY created_at DESC`)
}

// ListActiveByStaleness returns active players ordered oldest riot data
// first, never-synced players leading. Batch sync consumes this order.
func (r *TrackedPlayerRepository) ListActiveByStaleness(ctx context.Context, limit int) ([]domain.TrackedPlayer, error) {
	return r.queryPlayers(ctx,
		`SELECT `+playerColumns+` FROM tracked_players
		 WHERE is_active = 1
		 ORDER BY riot_data_updated_at ASC NULLS FIRST
		 LIMIT ?`, limit)
}

// Search matches prefix hits first, then substring hits, across riot id and
// slug. Results are deduplicated and capped at limit.
func (r *TrackedPlayerRepository) Search(ctx context.Context, query string, limit int) ([]domain.TrackedPlayer, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}

	prefix, err := r.queryPlayers(ctx,
		`SELECT `+playerColumns+` FROM tracked_players
		 WHERE is_active = 1 AND (LOWER(riot_id) LIKE ? OR LOWER(slug) LIKE ?)
		 ORDER BY riot_id LIMIT ?`,
		q+"%", q+"%", limit)
	if err != nil {
		return nil, err
	}
	if len(prefix) >= limit {
		return prefix[:limit], nil
	}

	contains, err := r.queryPlayers(ctx,
		`SELECT `+playerColumns+` FROM tracked_players
		 WHERE is_active = 1 AND (LOWER(riot_id) LIKE ? OR LOWER(slug) LIKE ?)
		 ORDER BY riot_id LIMIT ?`,
		"%"+q+"%", "%"+q+"%", limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(prefix))
	for _, p := range prefix {
		seen[p.ID] = struct{}{}
	}
	out := prefix
	for _, p := range contains {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		out = append(out, p)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *TrackedPlayerRepository) Update(ctx context.Context, p *domain.TrackedPlayer) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tracked_players
		SET riot_id = ?, region = ?, slug = ?, is_active = ?, profile_image_url = ?
		WHERE id = ?`,
		p.RiotID, p.Region, p.Slug, p.IsActive, nullStr(p.ProfileImageURL), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update tracked player: %w", err)
	}
	return requireRow(res)
}

func (r *TrackedPlayerRepository) UpdatePUUID(ctx context.Context, id, puuid string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tracked_players SET puuid = ? WHERE id = ?`, nullStr(puuid), id)
	return err
}

func (r *TrackedPlayerRepository) UpdateSummonerID(ctx context.Context, id, summonerID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tracked_players SET summoner_id = ? WHERE id = ?`, nullStr(summonerID), id)
	return err
}

func (r *TrackedPlayerRepository) UpdateRanked(ctx context.Context, id string, ranked *domain.RankedInfo, queue string, at time.Time) error {
	var tier, rank, rankedQueue sql.NullString
	var lp sql.NullInt64
	if ranked != nil {
		tier = nullStr(ranked.Tier)
		rank = nullStr(ranked.Rank)
		lp = sql.NullInt64{Int64: int64(ranked.LeaguePoints), Valid: true}
		rankedQueue = nullStr(queue)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE tracked_players
		SET ranked_tier = ?, ranked_rank = ?, ranked_lp = ?, ranked_queue = ?,
		    ranked_updated_at = ?, riot_data_updated_at = ?
		WHERE id = ?`,
		tier, rank, lp, rankedQueue, at, at, id,
	)
	return err
}

func (r *TrackedPlayerRepository) UpdateAvgPlacement(ctx context.Context, id string, avg *float64, at time.Time) error {
	var val sql.NullFloat64
	if avg != nil {
		val = sql.NullFloat64{Float64: *avg, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE tracked_players
		SET avg_placement_10 = ?, avg_placement_updated_at = ?, riot_data_updated_at = ?
		WHERE id = ?`,
		val, at, at, id,
	)
	return err
}

func (r *TrackedPlayerRepository) UpdateLive(ctx context.Context, id string, inGame bool, gameStartTime *int64, at time.Time) error {
	var start sql.NullInt64
	if gameStartTime != nil {
		start = sql.NullInt64{Int64: *gameStartTime, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE tracked_players
		SET live_in_game = ?, live_game_start_time = ?, live_updated_at = ?, riot_data_updated_at = ?
		WHERE id = ?`,
		inGame, start, at, at, id,
	)
	return err
}

func (r *TrackedPlayerRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tracked_players WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tracked player: %w", err)
	}
	return requireRow(res)
}

func (r *TrackedPlayerRepository) queryPlayers(ctx context.Context, query string, args ...any) ([]domain.TrackedPlayer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []domain.TrackedPlayer
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

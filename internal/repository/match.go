package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EmeraldsHub/tft/internal/domain"
	"github.com/rs/zerolog"
)

type MatchCacheRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewMatchCacheRepository(sqlDB *sql.DB, logger zerolog.Logger) *MatchCacheRepository {
	return &MatchCacheRepository{
		db:     sqlDB,
		logger: logger,
	}
}

// Insert stores a match payload. Concurrent inserts of the same match id are
// expected; the duplicate row is silently dropped and the stored row wins.
func (r *MatchCacheRepository) Insert(ctx context.Context, entry *domain.MatchCacheEntry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal match data: %w", err)
	}
	previews, err := marshalPreviews(entry.Previews)
	if err != nil {
		return err
	}

	var queueID sql.NullInt64
	if entry.QueueID != nil {
		queueID = sql.NullInt64{Int64: int64(*entry.QueueID), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tft_match_cache (match_id, region, game_datetime, queue_id, data, player_previews, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(match_id) DO NOTHING`,
		entry.MatchID, entry.Region, entry.GameDatetime.UnixMilli(), queueID,
		string(data), previews, entry.FetchedAt,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("match_id", entry.MatchID).Msg("failed to insert match")
		return fmt.Errorf("failed to insert match %s: %w", entry.MatchID, err)
	}
	return nil
}

func (r *MatchCacheRepository) GetByID(ctx context.Context, matchID string) (*domain.MatchCacheEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT match_id, region, game_datetime, queue_id, data, player_previews, fetched_at
		FROM tft_match_cache WHERE match_id = ?`, matchID)
	return scanMatch(row)
}

func (r *MatchCacheRepository) GetByIDs(ctx context.Context, matchIDs []string) (map[string]*domain.MatchCacheEntry, error) {
	if len(matchIDs) == 0 {
		return map[string]*domain.MatchCacheEntry{}, nil
	}

	placeholders := strings.Repeat("?,", len(matchIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(matchIDs))
	for i, id := range matchIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT match_id, region, game_datetime, queue_id, data, player_previews, fetched_at
		FROM tft_match_cache WHERE match_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*domain.MatchCacheEntry, len(matchIDs))
	for rows.Next() {
		entry, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out[entry.MatchID] = entry
	}
	return out, rows.Err()
}

// UpdatePreviews replaces the stored preview map. The raw match payload is
// never touched after insert.
func (r *MatchCacheRepository) UpdatePreviews(ctx context.Context, matchID string, previews map[string]*domain.Preview) error {
	data, err := marshalPreviews(previews)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE tft_match_cache SET player_previews = ? WHERE match_id = ?`,
		data, matchID)
	if err != nil {
		r.logger.Error().Err(err).Str("match_id", matchID).Msg("failed to update previews")
		return fmt.Errorf("failed to update previews for %s: %w", matchID, err)
	}
	return nil
}

// RecentByPUUID returns the newest cached matches that include the given
// puuid as a participant, newest first.
func (r *MatchCacheRepository) RecentByPUUID(ctx context.Context, puuid string, limit int) ([]domain.MatchCacheEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT match_id, region, game_datetime, queue_id, data, player_previews, fetched_at
		FROM tft_match_cache
		WHERE EXISTS (
			SELECT 1 FROM json_each(data, '$.info.participants') jp
			WHERE LOWER(json_extract(jp.value, '$.puuid')) = LOWER(?)
		)
		ORDER BY game_datetime DESC
		LIMIT ?`, puuid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.MatchCacheEntry
	for rows.Next() {
		entry, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanMatch(row rowScanner) (*domain.MatchCacheEntry, error) {
	var entry domain.MatchCacheEntry
	var gameDatetime sql.NullInt64
	var queueID sql.NullInt64
	var data string
	var previews sql.NullString

	err := row.Scan(&entry.MatchID, &entry.Region, &gameDatetime, &queueID,
		&data, &previews, &entry.FetchedAt)
	if err != nil {
		return nil, err
	}

	if gameDatetime.Valid {
		entry.GameDatetime = time.UnixMilli(gameDatetime.Int64)
	}
	if queueID.Valid {
		q := int(queueID.Int64)
		entry.QueueID = &q
	}
	if err := json.Unmarshal([]byte(data), &entry.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match data for %s: %w", entry.MatchID, err)
	}
	if previews.Valid && previews.String != "" {
		if err := json.Unmarshal([]byte(previews.String), &entry.Previews); err != nil {
			return nil, fmt.Errorf("failed to unmarshal previews for %s: %w", entry.MatchID, err)
		}
	}
	return &entry, nil
}

func marshalPreviews(previews map[string]*domain.Preview) (sql.NullString, error) {
	if previews == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(previews)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal previews: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

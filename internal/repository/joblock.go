package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

// JobLockRepository implements a coarse advisory lock table so overlapping
// cron invocations of the same job skip instead of stacking.
type JobLockRepository struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewJobLockRepository(sqlDB *sql.DB, logger zerolog.Logger) *JobLockRepository {
	return &JobLockRepository{
		db:     sqlDB,
		logger: logger,
		now:    time.Now,
	}
}

// Acquire takes the named lock for ttl. It returns false plus the current
// holder's expiry when another holder owns an unexpired lock. Expired locks
// are stolen.
func (r *JobLockRepository) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, time.Time, error) {
	now := r.now()
	until := now.Add(ttl)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO job_locks (name, locked_until) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET locked_until = excluded.locked_until
		WHERE job_locks.locked_until <= ?`,
		name, until, now,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("lock", name).Msg("failed to acquire job lock")
		return false, time.Time{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, time.Time{}, err
	}
	if n > 0 {
		return true, until, nil
	}
	var held time.Time
	if err := r.db.QueryRowContext(ctx,
		`SELECT locked_until FROM job_locks WHERE name = ?`, name,
	).Scan(&held); err != nil && err != sql.ErrNoRows {
		return false, time.Time{}, err
	}
	return false, held, nil
}

// Release resets the lock's expiry to the epoch. The row stays; locks are
// only ever expired or reset, never removed.
func (r *JobLockRepository) Release(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE job_locks SET locked_until = ? WHERE name = ?`,
		time.Unix(0, 0).UTC(), name)
	if err != nil {
		r.logger.Error().Err(err).Str("lock", name).Msg("failed to release job lock")
	}
	return err
}

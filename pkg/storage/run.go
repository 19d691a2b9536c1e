package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/yurykabanov/srvbackup/pkg/domain"
)

const (
	runInsertQuery = `
		INSERT INTO runs (
			job, archive, size,
			archived, uploaded, retention_ran,
			diagnostics, evictions, error,
			started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	runUpdateQuery = `
		UPDATE runs SET
			job = ?, archive = ?, size = ?,
			archived = ?, uploaded = ?, retention_ran = ?,
			diagnostics = ?, evictions = ?, error = ?,
			started_at = ?, finished_at = ?
		WHERE id = ?
	`

	runSelectLastSuccessful = `
		SELECT
			r.id,
			r.job, r.archive, r.size,
			r.archived, r.uploaded, r.retention_ran,
			r.diagnostics, r.evictions, r.error,
			r.started_at, r.finished_at
		FROM runs r
		INNER JOIN (
			SELECT job, MAX(id) AS id
			FROM runs
			WHERE archived = 1 AND uploaded = 1 AND error = ''
			GROUP BY job
		) l ON l.id = r.id
		ORDER BY r.job
	`

	runSelectRecent = `
		SELECT
			id,
			job, archive, size,
			archived, uploaded, retention_ran,
			diagnostics, evictions, error,
			started_at, finished_at
		FROM runs
		WHERE job = ?
		ORDER BY id DESC
		LIMIT ?
	`
)

type RunRepository struct {
	db *sqlx.DB
}

func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{
		db: db,
	}
}

func (r *RunRepository) Create(ctx context.Context, run domain.Run) (domain.Run, error) {
	res, err := r.db.ExecContext(
		ctx, runInsertQuery,
		run.Job, run.Archive, run.Size,
		run.Archived, run.Uploaded, run.RetentionRan,
		run.Diagnostics, run.Evictions, run.Error,
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return run, errors.Wrap(err, "Unable to insert run")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return run, err
	}

	run.Id = id

	return run, nil
}

func (r *RunRepository) Update(ctx context.Context, run domain.Run) error {
	_, err := r.db.ExecContext(
		ctx, runUpdateQuery,
		run.Job, run.Archive, run.Size,
		run.Archived, run.Uploaded, run.RetentionRan,
		run.Diagnostics, run.Evictions, run.Error,
		run.StartedAt, run.FinishedAt,
		run.Id,
	)

	return errors.Wrap(err, "Unable to update run")
}

// FindLastSuccessful returns the latest successful run of every job.
func (r *RunRepository) FindLastSuccessful(ctx context.Context) ([]domain.Run, error) {
	var runs []domain.Run

	err := r.db.SelectContext(ctx, &runs, runSelectLastSuccessful)
	if err != nil {
		return nil, err
	}

	return runs, nil
}

func (r *RunRepository) FindRecent(ctx context.Context, job string, limit int) ([]domain.Run, error) {
	var runs []domain.Run

	err := r.db.SelectContext(ctx, &runs, runSelectRecent, job, limit)
	if err != nil {
		return nil, err
	}

	return runs, nil
}

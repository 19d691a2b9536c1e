package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yurykabanov/srvbackup/internal/sqlfx"
	"github.com/yurykabanov/srvbackup/pkg/domain"
	"github.com/yurykabanov/srvbackup/pkg/storage"
)

func openDatabase(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	require.NoError(t, sqlfx.Migrate(db, "file://../../migrations", "srvbackup"))

	t.Cleanup(func() { db.Close() })

	return db
}

func finishedRun(t *testing.T, repo *storage.RunRepository, run domain.Run, err string) domain.Run {
	t.Helper()

	ctx := context.Background()

	run, createErr := repo.Create(ctx, run)
	require.NoError(t, createErr)

	finishedAt := run.StartedAt.Add(time.Minute)
	run.FinishedAt = &finishedAt
	run.Error = err

	require.NoError(t, repo.Update(ctx, run))

	return run
}

func TestRunRepository_CreateAndFindRecent(t *testing.T) {
	repo := storage.NewRunRepository(openDatabase(t))
	ctx := context.Background()

	startedAt := time.Date(2024, 3, 1, 13, 5, 0, 0, time.UTC)

	run, err := repo.Create(ctx, domain.Run{Job: "world", StartedAt: startedAt})
	require.NoError(t, err)
	assert.NotZero(t, run.Id)

	runs, err := repo.FindRecent(ctx, "world", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	assert.Equal(t, run.Id, runs[0].Id)
	assert.True(t, startedAt.Equal(runs[0].StartedAt))
	assert.Nil(t, runs[0].FinishedAt)
	assert.False(t, runs[0].Archived)
}

func TestRunRepository_Update(t *testing.T) {
	repo := storage.NewRunRepository(openDatabase(t))
	ctx := context.Background()

	run := finishedRun(t, repo, domain.Run{
		Job:          "world",
		Archive:      "/var/backups/world/backup-2024-03-01-13-05.zip",
		Size:         2048,
		Archived:     true,
		Uploaded:     true,
		RetentionRan: true,
		Diagnostics:  3,
		Evictions:    1,
		StartedAt:    time.Date(2024, 3, 1, 13, 5, 0, 0, time.UTC),
	}, "")

	runs, err := repo.FindRecent(ctx, "world", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	stored := runs[0]
	assert.Equal(t, run.Archive, stored.Archive)
	assert.Equal(t, int64(2048), stored.Size)
	assert.True(t, stored.RetentionRan)
	assert.Equal(t, 3, stored.Diagnostics)
	assert.Equal(t, 1, stored.Evictions)
	require.NotNil(t, stored.FinishedAt)
	assert.True(t, run.FinishedAt.Equal(*stored.FinishedAt))
}

func TestRunRepository_FindLastSuccessful(t *testing.T) {
	repo := storage.NewRunRepository(openDatabase(t))
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ok := domain.Run{Archived: true, Uploaded: true}

	ok.Job, ok.StartedAt, ok.Size = "world", base, 100
	finishedRun(t, repo, ok, "")

	ok.Job, ok.StartedAt, ok.Size = "world", base.Add(time.Hour), 200
	latest := finishedRun(t, repo, ok, "")

	// Failed runs never replace the last successful one
	ok.Job, ok.StartedAt, ok.Size = "world", base.Add(2*time.Hour), 300
	finishedRun(t, repo, ok, "upload of archive failed")

	ok.Job, ok.StartedAt, ok.Size = "plugins", base, 50
	plugins := finishedRun(t, repo, ok, "")

	finishedRun(t, repo, domain.Run{Job: "nether", Archived: true, StartedAt: base}, "")

	runs, err := repo.FindLastSuccessful(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, plugins.Id, runs[0].Id)
	assert.Equal(t, latest.Id, runs[1].Id)
	assert.Equal(t, int64(200), runs[1].Size)
}

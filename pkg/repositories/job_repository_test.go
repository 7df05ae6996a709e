package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/database"
	"github.com/ekaya-inc/edp-engine/pkg/models"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestJob(t *testing.T, created time.Time) *models.Job {
	t.Helper()
	threshold := 2.5
	return models.NewJob(models.Asset{
		Location: "/data/sales.csv",
		Filename: "sales.csv",
		Name:     "Sales",
	}, &config.AnalysisOverrides{ZScoreThreshold: &threshold}, created)
}

// exerciseJobRepository runs the behaviour every JobRepository shares.
func exerciseJobRepository(t *testing.T, newRepo func(t *testing.T) JobRepository) {
	t.Run("save and get round trip", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		job := newTestJob(t, baseTime)
		require.NoError(t, repo.Save(ctx, job))

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, models.JobStateQueued, got.State)
		assert.Equal(t, job.Asset, got.Asset)
		require.NotNil(t, got.Overrides)
		require.NotNil(t, got.Overrides.ZScoreThreshold)
		assert.Equal(t, 2.5, *got.Overrides.ZScoreThreshold)
		assert.True(t, got.CreatedAt.Equal(baseTime))
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.FinishedAt)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("get unknown job", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(context.Background(), uuid.New())
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	})

	t.Run("newer version replaces record", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		job := newTestJob(t, baseTime)
		require.NoError(t, repo.Save(ctx, job))

		require.NoError(t, job.Transition(models.JobStateRunning, baseTime.Add(time.Second)))
		job.Attempts = 1
		require.NoError(t, repo.Save(ctx, job))

		require.NoError(t, job.Transition(models.JobStateFailed, baseTime.Add(2*time.Second)))
		job.ErrorKind = string(apperrors.KindUnrecognizedAsset)
		job.ErrorMessage = "no signature"
		require.NoError(t, repo.Save(ctx, job))

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStateFailed, got.State)
		assert.Equal(t, 1, got.Attempts)
		assert.Equal(t, "UnrecognizedAssetError", got.ErrorKind)
		assert.Equal(t, "no signature", got.ErrorMessage)
		require.NotNil(t, got.StartedAt)
		require.NotNil(t, got.FinishedAt)
		assert.True(t, got.FinishedAt.Equal(baseTime.Add(2*time.Second)))
		assert.Equal(t, int64(3), got.Version)
	})

	t.Run("stale version is ignored", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		job := newTestJob(t, baseTime)
		queued := job.Clone()
		require.NoError(t, job.Transition(models.JobStateRunning, baseTime.Add(time.Second)))
		running := job.Clone()

		require.NoError(t, repo.Save(ctx, running))
		require.NoError(t, repo.Save(ctx, queued))

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStateRunning, got.State)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("list filters by state newest first", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		older := newTestJob(t, baseTime)
		newer := newTestJob(t, baseTime.Add(time.Minute))
		running := newTestJob(t, baseTime.Add(2*time.Minute))
		require.NoError(t, running.Transition(models.JobStateRunning, baseTime.Add(3*time.Minute)))
		for _, j := range []*models.Job{older, newer, running} {
			require.NoError(t, repo.Save(ctx, j))
		}

		queued, err := repo.List(ctx, JobFilter{States: []models.JobState{models.JobStateQueued}})
		require.NoError(t, err)
		require.Len(t, queued, 2)
		assert.Equal(t, newer.ID, queued[0].ID)
		assert.Equal(t, older.ID, queued[1].ID)

		all, err := repo.List(ctx, JobFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		limited, err := repo.List(ctx, JobFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, running.ID, limited[0].ID)
	})

	t.Run("finished before returns expired terminal jobs", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		expired := newTestJob(t, baseTime)
		require.NoError(t, expired.Transition(models.JobStateRunning, baseTime))
		require.NoError(t, expired.Transition(models.JobStateCompleted, baseTime.Add(time.Minute)))

		recent := newTestJob(t, baseTime)
		require.NoError(t, recent.Transition(models.JobStateRunning, baseTime))
		require.NoError(t, recent.Transition(models.JobStateFailed, baseTime.Add(time.Hour)))

		active := newTestJob(t, baseTime)

		for _, j := range []*models.Job{expired, recent, active} {
			require.NoError(t, repo.Save(ctx, j))
		}

		got, err := repo.ListFinishedBefore(ctx, baseTime.Add(30*time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, expired.ID, got[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		job := newTestJob(t, baseTime)
		require.NoError(t, repo.Save(ctx, job))
		require.NoError(t, repo.Delete(ctx, job.ID))

		_, err := repo.Get(ctx, job.ID)
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
		assert.True(t, errors.Is(repo.Delete(ctx, job.ID), apperrors.ErrNotFound))
	})
}

func TestMemoryJobRepository(t *testing.T) {
	exerciseJobRepository(t, func(t *testing.T) JobRepository {
		return NewMemoryJobRepository()
	})
}

func TestMemoryJobRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryJobRepository()
	ctx := context.Background()

	job := newTestJob(t, baseTime)
	require.NoError(t, repo.Save(ctx, job))
	job.ErrorMessage = "mutated after save"

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ErrorMessage)

	got.State = models.JobStateFailed
	again, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, again.State)
}

func TestSQLiteJobRepository(t *testing.T) {
	exerciseJobRepository(t, func(t *testing.T) JobRepository {
		db, err := database.OpenSQLite(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		require.NoError(t, database.RunSQLiteMigrations(db, zap.NewNop()))
		return NewSQLiteJobRepository(db)
	})
}

func TestSQLiteJobRepository_PersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/jobs.db"
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, database.RunSQLiteMigrations(db, zap.NewNop()))

	job := newTestJob(t, baseTime)
	require.NoError(t, NewSQLiteJobRepository(db).Save(ctx, job))
	require.NoError(t, db.Close())

	db, err = database.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.RunSQLiteMigrations(db, zap.NewNop()))

	got, err := NewSQLiteJobRepository(db).Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Asset.Location, got.Asset.Location)
}

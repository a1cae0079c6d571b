package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirhaul/dirhaul/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	logger := zerolog.New(zerolog.NewTestWriter(t))
	store, err := Open(filepath.Join(t.TempDir(), "data", "history.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

// testReport builds a finished report with deterministic timestamps so
// ordering assertions hold.
func testReport(job string, status models.RunStatus, day int) *models.RunReport {
	rep := models.NewRunReport(job)
	rep.Status = status
	rep.ArchiveBytes = 1024
	rep.PrunedLocal = 1
	rep.PrunedRemote = 2
	rep.StartedAt = time.Date(2025, 1, day, 2, 0, 0, 0, time.UTC)
	rep.FinishedAt = rep.StartedAt.Add(90 * time.Second)
	if status == models.RunFailed {
		rep.Error = "upload failed"
	} else {
		rep.Artifact = fmt.Sprintf("%s-backup-202501%02d-020000.tar.gz", job, day)
	}
	return rep
}

func TestStore_RecordRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	want := testReport("media-rig", models.RunCompleted, 5)
	require.NoError(t, store.RecordRun(ctx, want))

	runs, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Job, got.Job)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Artifact, got.Artifact)
	assert.Equal(t, want.Error, got.Error)
	assert.Equal(t, want.ArchiveBytes, got.ArchiveBytes)
	assert.Equal(t, want.PrunedLocal, got.PrunedLocal)
	assert.Equal(t, want.PrunedRemote, got.PrunedRemote)
	assert.Equal(t, want.StartedAt.Unix(), got.StartedAt.Unix())
	assert.Equal(t, want.FinishedAt.Unix(), got.FinishedAt.Unix())
}

func TestStore_List(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Inserted out of order on purpose.
	for _, day := range []int{3, 1, 5, 4, 2} {
		status := models.RunCompleted
		if day == 2 || day == 4 {
			status = models.RunFailed
		}
		require.NoError(t, store.RecordRun(ctx, testReport("media-rig", status, day)))
	}
	require.NoError(t, store.RecordRun(ctx, testReport("photos", models.RunCompleted, 1)))

	t.Run("newest first", func(t *testing.T) {
		runs, err := store.List(ctx, ListOptions{Job: "media-rig"})
		require.NoError(t, err)
		require.Len(t, runs, 5)
		for i, wantDay := range []int{5, 4, 3, 2, 1} {
			assert.Equal(t, wantDay, runs[i].StartedAt.Day())
		}
	})

	t.Run("limit caps the result", func(t *testing.T) {
		runs, err := store.List(ctx, ListOptions{Job: "media-rig", Limit: 2})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, 5, runs[0].StartedAt.Day())
		assert.Equal(t, 4, runs[1].StartedAt.Day())
	})

	t.Run("failed filter", func(t *testing.T) {
		runs, err := store.List(ctx, ListOptions{Job: "media-rig", OnlyFailed: true})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		for _, r := range runs {
			assert.Equal(t, models.RunFailed, r.Status)
			assert.Equal(t, "upload failed", r.Error)
		}
	})

	t.Run("job filter", func(t *testing.T) {
		runs, err := store.List(ctx, ListOptions{Job: "photos"})
		require.NoError(t, err)
		require.Len(t, runs, 1)
	})

	t.Run("no filter sees every job", func(t *testing.T) {
		runs, err := store.List(ctx, ListOptions{})
		require.NoError(t, err)
		assert.Len(t, runs, 6)
	})
}

func TestStore_LastRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.LastRun(ctx, "media-rig")
	assert.ErrorIs(t, err, ErrNoRuns)

	require.NoError(t, store.RecordRun(ctx, testReport("media-rig", models.RunCompleted, 1)))
	require.NoError(t, store.RecordRun(ctx, testReport("media-rig", models.RunFailed, 2)))

	last, err := store.LastRun(ctx, "media-rig")
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, last.Status)
	assert.Equal(t, 2, last.StartedAt.Day())
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	logger := zerolog.New(zerolog.NewTestWriter(t))
	ctx := context.Background()

	store, err := Open(path, logger)
	require.NoError(t, err)
	require.NoError(t, store.RecordRun(ctx, testReport("media-rig", models.RunCompleted, 1)))
	require.NoError(t, store.Close())

	reopened, err := Open(path, logger)
	require.NoError(t, err)
	defer reopened.Close()

	runs, err := reopened.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/port"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newJob(t *testing.T) *domain.Job {
	t.Helper()
	j, err := domain.NewJob(domain.NewJobParams{UserID: "user-1", InputType: domain.InputTypeLocal}, now)
	require.NoError(t, err)
	return j
}

func TestNewStore(t *testing.T) {
	t.Run("creates empty store if file doesn't exist", func(t *testing.T) {
		tempDir := t.TempDir()

		store, err := NewStore(tempDir)

		require.NoError(t, err)
		assert.Empty(t, store.st.Jobs)
		_, err = os.Stat(filepath.Join(tempDir, fileName))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("handles empty JSON file", func(t *testing.T) {
		tempDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(tempDir, fileName), []byte(""), 0600))

		store, err := NewStore(tempDir)

		assert.NoError(t, err)
		assert.Empty(t, store.st.Jobs)
	})

	t.Run("returns error for invalid JSON", func(t *testing.T) {
		tempDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(tempDir, fileName), []byte("invalid json"), 0600))

		store, err := NewStore(tempDir)

		assert.Error(t, err)
		assert.Nil(t, store)
	})

	t.Run("rejects unknown job status", func(t *testing.T) {
		tempDir := t.TempDir()
		data := `{"jobs":{"a":{"id":"a","status":"ARCHIVED"}}}`
		require.NoError(t, os.WriteFile(filepath.Join(tempDir, fileName), []byte(data), 0600))

		_, err := NewStore(tempDir)

		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("reloads persisted data", func(t *testing.T) {
		tempDir := t.TempDir()
		store, err := NewStore(tempDir)
		require.NoError(t, err)
		job := newJob(t)
		require.NoError(t, store.CreateJob(context.Background(), job))

		reopened, err := NewStore(tempDir)

		require.NoError(t, err)
		got, err := reopened.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.UserID, got.UserID)
		assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
	})
}

func TestStoreJobs(t *testing.T) {
	ctx := context.Background()

	t.Run("get returns ErrJobNotFound", func(t *testing.T) {
		store, _ := NewStore(t.TempDir())

		got, err := store.GetJob(ctx, "missing")

		assert.ErrorIs(t, err, domain.ErrJobNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Nil(t, got)
	})

	t.Run("returned jobs are copies", func(t *testing.T) {
		store, _ := NewStore(t.TempDir())
		job := newJob(t)
		require.NoError(t, store.CreateJob(ctx, job))

		got, _ := store.GetJob(ctx, job.ID)
		got.Status = domain.JobStatusReady

		again, _ := store.GetJob(ctx, job.ID)
		assert.Equal(t, domain.JobStatusCreated, again.Status)
	})

	t.Run("list filters by status and cutoff", func(t *testing.T) {
		store, _ := NewStore(t.TempDir())
		old := newJob(t)
		old.CreatedAt = now.Add(-48 * time.Hour)
		fresh := newJob(t)
		failed := newJob(t)
		failed.CreatedAt = now.Add(-48 * time.Hour)
		failed.Status = domain.JobStatusFailed
		for _, j := range []*domain.Job{old, fresh, failed} {
			require.NoError(t, store.CreateJob(ctx, j))
		}

		jobs, err := store.ListJobsCreatedBefore(ctx, domain.JobStatusCreated, now.Add(-24*time.Hour))

		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, old.ID, jobs[0].ID)
	})

	t.Run("delete cascades to sessions but keeps clips", func(t *testing.T) {
		store, _ := NewStore(t.TempDir())
		job := newJob(t)
		require.NoError(t, store.CreateJob(ctx, job))
		us, err := domain.NewUploadSession(domain.NewSessionParams{
			JobID: job.ID, ObjectKey: "k", UploadID: "u", PartSize: 5, TotalParts: 1, TotalBytes: 5,
		}, now)
		require.NoError(t, err)
		require.NoError(t, store.CreateSession(ctx, us))
		clips, _ := domain.NewClips(job.ID, []domain.ClipInput{{StartTime: 0, EndTime: 1, StorageKey: "c"}}, now)
		require.NoError(t, store.CreateClips(ctx, clips))

		require.NoError(t, store.DeleteJob(ctx, job.ID))

		_, err = store.GetSession(ctx, us.ID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		remaining, err := store.ListClips(ctx, job.ID)
		require.NoError(t, err)
		assert.Len(t, remaining, 1)
	})
}

func TestStoreAtomic(t *testing.T) {
	ctx := context.Background()

	t.Run("rolls back on error", func(t *testing.T) {
		store, _ := NewStore(t.TempDir())
		job := newJob(t)
		boom := errors.New("boom")

		err := store.Atomic(ctx, func(tx port.Tx) error {
			require.NoError(t, tx.CreateJob(ctx, job))
			require.NoError(t, tx.EnqueueTask(ctx, domain.NewTriggerTask(job.ID, now)))
			return boom
		})

		assert.ErrorIs(t, err, boom)
		_, err = store.GetJob(ctx, job.ID)
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
		assert.Empty(t, store.st.Tasks)
	})

	t.Run("commits job and task together", func(t *testing.T) {
		store, _ := NewStore(t.TempDir())
		job := newJob(t)

		err := store.Atomic(ctx, func(tx port.Tx) error {
			if err := tx.CreateJob(ctx, job); err != nil {
				return err
			}
			return tx.EnqueueTask(ctx, domain.NewTriggerTask(job.ID, now))
		})

		require.NoError(t, err)
		assert.Len(t, store.st.Tasks, 1)
	})

	t.Run("serializes concurrent writers", func(t *testing.T) {
		store, _ := NewStore(t.TempDir())

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			job := newJob(t)
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = store.CreateJob(ctx, job)
			}()
		}
		wg.Wait()

		assert.Len(t, store.st.Jobs, 10)
	})

	t.Run("writes temp file then renames", func(t *testing.T) {
		tempDir := t.TempDir()
		store, _ := NewStore(tempDir)

		require.NoError(t, store.CreateJob(ctx, newJob(t)))

		_, err := os.Stat(filepath.Join(tempDir, fileName))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(tempDir, fileName+".tmp"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestStoreSessions(t *testing.T) {
	ctx := context.Background()
	store, _ := NewStore(t.TempDir())
	job := newJob(t)
	require.NoError(t, store.CreateJob(ctx, job))

	_, err := store.GetActiveSession(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	us, err := domain.NewUploadSession(domain.NewSessionParams{
		JobID: job.ID, ObjectKey: "k", UploadID: "u", PartSize: 5, TotalParts: 2, TotalBytes: 10,
	}, now)
	require.NoError(t, err)
	require.NoError(t, store.CreateSession(ctx, us))

	_, err = us.RecordPart(2, `"e2"`, 5, now)
	require.NoError(t, err)
	require.NoError(t, store.UpdateSession(ctx, us))

	active, err := store.GetActiveSession(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, us.ID, active.ID)
	assert.Equal(t, int64(5), active.BytesUploaded)
	assert.Equal(t, `"e2"`, active.CompletedParts[0].ETag)

	us.Abort("user", now)
	require.NoError(t, store.UpdateSession(ctx, us))
	_, err = store.GetActiveSession(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/clipper/internal/domain"
)

func newLockManager(t *testing.T) (*LockManager, *fakeClock, *recordingPublisher) {
	t.Helper()
	clock := newFakeClock()
	events := &recordingPublisher{}
	store := newTestStore(t)
	m := NewLockManager(store, events, nil, DefaultStaleLockAfter).WithClock(clock.Now)
	return m, clock, events
}

func TestLockManager_ClaimCompleteScenario(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newLockManager(t)
	job := seedJob(t, m.store, clock, domain.InputTypeLocal, uploadedEvents()...)

	res, err := m.Claim(ctx, job.ID, "lockA")
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	assert.Equal(t, "uploads/user-1/src.mp4", res.SourceKey)
	require.NotNil(t, res.Config)
	assert.Equal(t, 5, res.Config.ClipCount)
	assert.Equal(t, 1, res.AttemptCount)

	res, err = m.Claim(ctx, job.ID, "lockB")
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	assert.Equal(t, ReasonAlreadyLocked, res.Reason)

	clips := []domain.ClipInput{
		{Index: 0, StartTime: 0, EndTime: 30, StorageKey: "clips/a.mp4"},
		{Index: 1, StartTime: 40, EndTime: 70, StorageKey: "clips/b.mp4"},
	}

	done, err := m.Complete(ctx, job.ID, "lockB", clips, 600)
	require.NoError(t, err)
	assert.False(t, done.Success)
	assert.Equal(t, ReasonLockMismatch, done.Reason)

	done, err = m.Complete(ctx, job.ID, "lockA", clips, 600)
	require.NoError(t, err)
	assert.True(t, done.Success)
	assert.Equal(t, 2, done.ClipCount)

	stored := getJob(t, m.store, job.ID)
	assert.Equal(t, domain.JobStatusReady, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.Empty(t, stored.ProcessingLockID)
	assert.Nil(t, stored.ProcessingStartedAt)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, 600.0, stored.VideoDuration)

	attached, err := m.store.ListClips(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, attached, 2)
}

func TestLockManager_StaleReclaimIsolatesSupersededWorker(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newLockManager(t)
	job := seedJob(t, m.store, clock, domain.InputTypeLocal, uploadedEvents()...)

	_, err := m.Claim(ctx, job.ID, "lockA")
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	res, err := m.Claim(ctx, job.ID, "lockB")
	require.NoError(t, err)
	assert.False(t, res.Claimed, "exactly 30 minutes is still fresh")

	clock.Advance(time.Second)
	res, err = m.Claim(ctx, job.ID, "lockB")
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	assert.Equal(t, 2, res.AttemptCount)

	progress, err := m.ReportProgress(ctx, job.ID, "lockA", 90, "rendering")
	require.NoError(t, err)
	assert.False(t, progress.Success)
	assert.Equal(t, ReasonLockMismatch, progress.Reason)

	done, err := m.Complete(ctx, job.ID, "lockA", nil, 10)
	require.NoError(t, err)
	assert.False(t, done.Success)

	failed, err := m.Fail(ctx, job.ID, "lockA", "oom", "processing")
	require.NoError(t, err)
	assert.False(t, failed.Success)

	stored := getJob(t, m.store, job.ID)
	assert.Equal(t, domain.JobStatusProcessing, stored.Status)
	assert.Equal(t, "lockB", stored.ProcessingLockID)
	assert.Equal(t, 0, stored.Progress)
	assert.Empty(t, stored.CurrentStep)
}

func TestLockManager_ClaimRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown job", func(t *testing.T) {
		m, _, _ := newLockManager(t)
		res, err := m.Claim(ctx, "missing", "lockA")
		require.NoError(t, err)
		assert.Equal(t, ReasonNotFound, res.Reason)
	})

	t.Run("not uploaded yet", func(t *testing.T) {
		m, clock, _ := newLockManager(t)
		job := seedJob(t, m.store, clock, domain.InputTypeLocal, domain.StartUpload{})

		res, err := m.Claim(ctx, job.ID, "lockA")
		require.NoError(t, err)
		assert.False(t, res.Claimed)
		assert.Equal(t, ReasonWrongStatus, res.Reason)
		assert.Equal(t, domain.JobStatusUploading, res.Status)
	})

	t.Run("remote submission without source object", func(t *testing.T) {
		m, clock, _ := newLockManager(t)
		job := seedJob(t, m.store, clock, domain.InputTypeYouTube, domain.SubmitRemote{})

		res, err := m.Claim(ctx, job.ID, "lockA")
		require.NoError(t, err)
		assert.False(t, res.Claimed)
		assert.Equal(t, ReasonSourceMissing, res.Reason)

		stored := getJob(t, m.store, job.ID)
		assert.Equal(t, domain.JobStatusUploaded, stored.Status)
		assert.Empty(t, stored.ProcessingLockID)
		assert.Equal(t, 0, stored.AttemptCount)
	})

	t.Run("empty lock id", func(t *testing.T) {
		m, clock, _ := newLockManager(t)
		job := seedJob(t, m.store, clock, domain.InputTypeLocal, uploadedEvents()...)

		res, err := m.Claim(ctx, job.ID, "")
		require.NoError(t, err)
		assert.Equal(t, ReasonInvalidInput, res.Reason)
	})

	t.Run("repeated claim by holder", func(t *testing.T) {
		m, clock, _ := newLockManager(t)
		job := seedJob(t, m.store, clock, domain.InputTypeLocal, uploadedEvents()...)

		_, err := m.Claim(ctx, job.ID, "lockA")
		require.NoError(t, err)
		res, err := m.Claim(ctx, job.ID, "lockA")
		require.NoError(t, err)

		assert.True(t, res.Claimed)
		assert.Equal(t, 1, res.AttemptCount)
	})
}

func TestLockManager_ProgressAndFail(t *testing.T) {
	ctx := context.Background()
	m, clock, events := newLockManager(t)
	job := seedJob(t, m.store, clock, domain.InputTypeLocal, uploadedEvents()...)
	_, err := m.Claim(ctx, job.ID, "lockA")
	require.NoError(t, err)

	res, err := m.ReportProgress(ctx, job.ID, "lockA", 45, "transcribing")
	require.NoError(t, err)
	assert.True(t, res.Success)
	stored := getJob(t, m.store, job.ID)
	assert.Equal(t, 45, stored.Progress)
	assert.Equal(t, "transcribing", stored.CurrentStep)

	failed, err := m.Fail(ctx, job.ID, "lockA", "model timeout", "")
	require.NoError(t, err)
	assert.True(t, failed.Success)

	stored = getJob(t, m.store, job.ID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, "model timeout", stored.Error)
	assert.Equal(t, domain.ErrorStageProcessing, stored.ErrorStage)
	assert.Empty(t, stored.ProcessingLockID)

	assert.Equal(t, []domain.JobStatus{
		domain.JobStatusProcessing, domain.JobStatusProcessing, domain.JobStatusFailed,
	}, events.statuses())

	again, err := m.Fail(ctx, job.ID, "lockA", "late", "processing")
	require.NoError(t, err)
	assert.False(t, again.Success, "terminal job ignores late failure")
}

func TestLockManager_CompleteRejectsInvalidClips(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newLockManager(t)
	job := seedJob(t, m.store, clock, domain.InputTypeLocal, uploadedEvents()...)
	_, err := m.Claim(ctx, job.ID, "lockA")
	require.NoError(t, err)

	res, err := m.Complete(ctx, job.ID, "lockA", []domain.ClipInput{{Index: 0, StartTime: 10, EndTime: 5, StorageKey: "k"}}, 0)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonInvalidInput, res.Reason)
	assert.Equal(t, domain.JobStatusProcessing, getJob(t, m.store, job.ID).Status)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/clipper/internal/adapter/storage/jsonfile"
	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/port"
	"github.com/bnema/clipper/internal/port/mocks"
)

type jobFixture struct {
	svc     *JobService
	store   *jsonfile.Store
	storage *mocks.MockObjectStorage
	trigger *mocks.MockTrigger
	clock   *fakeClock
	events  *recordingPublisher
}

func newJobFixture(t *testing.T, secret string) *jobFixture {
	t.Helper()
	f := &jobFixture{
		store:   newTestStore(t),
		storage: &mocks.MockObjectStorage{},
		trigger: &mocks.MockTrigger{},
		clock:   newFakeClock(),
		events:  &recordingPublisher{},
	}
	f.storage.ExpectPresignAny()
	f.svc = NewJobService(f.store, f.storage, f.trigger, f.events, nil, JobSettings{WebhookSecret: secret}).
		WithClock(f.clock.Now)
	return f
}

func TestJobService_CreateJob(t *testing.T) {
	f := newJobFixture(t, "s3cret")

	job, err := f.svc.CreateJob(context.Background(), CreateJobInput{
		UserID:    owner,
		InputType: domain.InputTypeLocal,
		Config:    domain.GenerationConfig{ClipCount: 4, AspectRatio: "9:16"},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCreated, job.Status)
	assert.Equal(t, 0, job.AttemptCount)
	assert.Equal(t, "9:16", getJob(t, f.store, job.ID).Config.AspectRatio)

	_, err = f.svc.CreateJob(context.Background(), CreateJobInput{UserID: owner, InputType: "ftp"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestJobService_GetJobSignsClips(t *testing.T) {
	ctx := context.Background()
	f := newJobFixture(t, "s3cret")
	job := seedJob(t, f.store, f.clock, domain.InputTypeLocal)
	clips, err := domain.NewClips(job.ID, []domain.ClipInput{{Index: 0, StartTime: 1, EndTime: 2, StorageKey: "clips/0.mp4"}}, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.CreateClips(ctx, clips))

	view, err := f.svc.GetJob(ctx, owner, job.ID)
	require.NoError(t, err)
	require.Len(t, view.Clips, 1)
	assert.Equal(t, "https://storage.test/download", view.Clips[0].URL)

	_, err = f.svc.GetJob(ctx, "other", job.ID)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = f.svc.GetJob(ctx, owner, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("aborts active upload session", func(t *testing.T) {
		f := newJobFixture(t, "s3cret")
		job := seedJob(t, f.store, f.clock, domain.InputTypeLocal, domain.StartUpload{})
		session, err := domain.NewUploadSession(domain.NewSessionParams{
			JobID: job.ID, ObjectKey: "uploads/k", UploadID: "up-9", PartSize: 10, TotalParts: 1, TotalBytes: 10,
		}, f.clock.Now())
		require.NoError(t, err)
		require.NoError(t, f.store.CreateSession(ctx, session))

		cancelled, err := f.svc.Cancel(ctx, owner, job.ID, "")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, cancelled.Status)
		assert.Equal(t, domain.ErrorStageUpload, cancelled.ErrorStage)
		assert.Equal(t, defaultCancelReason, cancelled.Error)

		stored, err := f.store.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatusAborted, stored.Status)

		tasks := pendingTasks(t, f.store)
		require.Len(t, tasks, 1)
		assert.Equal(t, domain.TaskKindAbortMultipart, tasks[0].Kind)
	})

	t.Run("processing job loses its lock", func(t *testing.T) {
		f := newJobFixture(t, "s3cret")
		events := append(uploadedEvents(), domain.Claim{LockID: "lockA", StaleAfter: DefaultStaleLockAfter})
		job := seedJob(t, f.store, f.clock, domain.InputTypeLocal, events...)

		cancelled, err := f.svc.Cancel(ctx, owner, job.ID, "changed my mind")
		require.NoError(t, err)
		assert.Equal(t, domain.ErrorStageProcessing, cancelled.ErrorStage)
		assert.Empty(t, cancelled.ProcessingLockID)

		res, err := NewLockManager(f.store, nil, nil, 0).Complete(ctx, job.ID, "lockA", nil, 1)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, domain.JobStatusFailed, getJob(t, f.store, job.ID).Status)
	})

	t.Run("terminal job cannot be cancelled", func(t *testing.T) {
		f := newJobFixture(t, "s3cret")
		job := seedJob(t, f.store, f.clock, domain.InputTypeLocal, domain.Abort{Error: "x"})

		_, err := f.svc.Cancel(ctx, owner, job.ID, "")
		assert.ErrorIs(t, err, domain.ErrTerminal)
	})
}

func TestJobService_RemotePath(t *testing.T) {
	ctx := context.Background()
	f := newJobFixture(t, "s3cret")
	job := seedJob(t, f.store, f.clock, domain.InputTypeYouTube)

	_, err := f.svc.SubmitRemote(ctx, owner, job.ID)
	require.NoError(t, err)
	assert.Empty(t, pendingTasks(t, f.store), "no hand-off without a source object")

	_, err = f.svc.StartDownload(ctx, owner, job.ID)
	require.NoError(t, err)

	done, err := f.svc.FinishDownload(ctx, owner, job.ID, "downloads/xyz.mp4")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusUploaded, done.Status)
	assert.Equal(t, "downloads/xyz.mp4", done.SourceKey)

	tasks := pendingTasks(t, f.store)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskKindTriggerProcessing, tasks[0].Kind)
}

func TestJobService_FailDownload(t *testing.T) {
	ctx := context.Background()
	f := newJobFixture(t, "s3cret")
	job := seedJob(t, f.store, f.clock, domain.InputTypeYouTube, domain.SubmitRemote{})

	_, err := f.svc.FailDownload(ctx, owner, job.ID, "video unavailable")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "not downloading yet")

	_, err = f.svc.StartDownload(ctx, owner, job.ID)
	require.NoError(t, err)
	failed, err := f.svc.FailDownload(ctx, owner, job.ID, "video unavailable")
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorStageDownload, failed.ErrorStage)
}

func TestJobService_HandOff(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted", func(t *testing.T) {
		f := newJobFixture(t, "s3cret")
		job := seedJob(t, f.store, f.clock, domain.InputTypeLocal, uploadedEvents()...)
		f.trigger.On("Trigger", mock.Anything, port.TriggerRequest{
			JobID:         job.ID,
			SourceKey:     "uploads/user-1/src.mp4",
			Config:        job.Config,
			WebhookSecret: "s3cret",
		}).Return(nil).Once()

		require.NoError(t, f.svc.HandOff(ctx, job.ID))

		assert.Equal(t, domain.JobStatusUploaded, getJob(t, f.store, job.ID).Status)
		f.trigger.AssertExpectations(t)
	})

	t.Run("network failure fails job at trigger stage", func(t *testing.T) {
		f := newJobFixture(t, "s3cret")
		job := seedJob(t, f.store, f.clock, domain.InputTypeLocal, uploadedEvents()...)
		f.trigger.On("Trigger", mock.Anything, mock.Anything).Return(errors.New("connection refused")).Once()

		require.NoError(t, f.svc.HandOff(ctx, job.ID))

		stored := getJob(t, f.store, job.ID)
		assert.Equal(t, domain.JobStatusFailed, stored.Status)
		assert.Equal(t, domain.ErrorStageTrigger, stored.ErrorStage)
		assert.Contains(t, stored.Error, "connection refused")
	})

	t.Run("shutdown mid-trigger keeps job for retry", func(t *testing.T) {
		f := newJobFixture(t, "s3cret")
		job := seedJob(t, f.store, f.clock, domain.InputTypeLocal, uploadedEvents()...)
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		f.trigger.On("Trigger", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return(fmt.Errorf("post worker: %w", context.Canceled)).Once()

		err := f.svc.HandOff(runCtx, job.ID)

		assert.ErrorIs(t, err, context.Canceled)
		stored := getJob(t, f.store, job.ID)
		assert.Equal(t, domain.JobStatusUploaded, stored.Status)
		assert.Empty(t, stored.Error)
		f.trigger.AssertExpectations(t)
	})

	t.Run("duplicate hand-off is a no-op", func(t *testing.T) {
		f := newJobFixture(t, "s3cret")
		events := append(uploadedEvents(), domain.Claim{LockID: "l", StaleAfter: DefaultStaleLockAfter})
		job := seedJob(t, f.store, f.clock, domain.InputTypeLocal, events...)

		require.NoError(t, f.svc.HandOff(ctx, job.ID))
		require.NoError(t, f.svc.HandOff(ctx, "deleted-job"))

		assert.Equal(t, domain.JobStatusProcessing, getJob(t, f.store, job.ID).Status)
		f.trigger.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
	})

	t.Run("youtube without source object is rejected", func(t *testing.T) {
		f := newJobFixture(t, "s3cret")
		job := seedJob(t, f.store, f.clock, domain.InputTypeYouTube, domain.SubmitRemote{})

		require.NoError(t, f.svc.HandOff(ctx, job.ID))

		stored := getJob(t, f.store, job.ID)
		assert.Equal(t, domain.JobStatusFailed, stored.Status)
		assert.Equal(t, domain.ErrorStageTrigger, stored.ErrorStage)
		assert.Equal(t, "server-side fetch no longer supported", stored.Error)
		f.trigger.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
	})

	t.Run("missing webhook secret", func(t *testing.T) {
		f := newJobFixture(t, "")
		job := seedJob(t, f.store, f.clock, domain.InputTypeLocal, uploadedEvents()...)

		require.NoError(t, f.svc.HandOff(ctx, job.ID))

		stored := getJob(t, f.store, job.ID)
		assert.Equal(t, domain.JobStatusFailed, stored.Status)
		assert.Contains(t, stored.Error, "WEBHOOK_SECRET")
	})

	t.Run("no trigger configured", func(t *testing.T) {
		store := newTestStore(t)
		clock := newFakeClock()
		svc := NewJobService(store, nil, nil, nil, nil, JobSettings{WebhookSecret: "s"}).WithClock(clock.Now)
		job := seedJob(t, store, clock, domain.InputTypeLocal, uploadedEvents()...)

		require.NoError(t, svc.HandOff(ctx, job.ID))

		assert.Equal(t, domain.ErrorStageTrigger, getJob(t, store, job.ID).ErrorStage)
	})
}

func TestJobService_RequeueHandOff(t *testing.T) {
	ctx := context.Background()
	f := newJobFixture(t, "s3cret")
	job := seedJob(t, f.store, f.clock, domain.InputTypeLocal, uploadedEvents()...)

	_, err := f.svc.RequeueHandOff(ctx, owner, job.ID)
	require.NoError(t, err)
	assert.Len(t, pendingTasks(t, f.store), 1)

	created := seedJob(t, f.store, f.clock, domain.InputTypeLocal)
	_, err = f.svc.RequeueHandOff(ctx, owner, created.ID)
	assert.ErrorIs(t, err, domain.ErrWrongStatus)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/infrastructure/logger"
	"github.com/bnema/clipper/internal/port"
)

const defaultCancelReason = "cancelled by user"

type JobSettings struct {
	// WebhookSecret is handed to the worker so it can call back. Empty means
	// hand-offs fail with a configuration error.
	WebhookSecret  string
	DownloadURLTTL time.Duration
}

// JobService drives a job through its lifecycle on behalf of the owner and
// performs the hand-off to the external worker.
type JobService struct {
	store    port.Store
	storage  port.ObjectStorage
	trigger  port.ProcessingTrigger
	hooks    jobHooks
	settings JobSettings
	now      Clock
}

// NewJobService accepts a nil trigger when no worker endpoint is configured.
func NewJobService(
	store port.Store,
	storage port.ObjectStorage,
	trigger port.ProcessingTrigger,
	events EventPublisher,
	metrics port.Metrics,
	settings JobSettings,
) *JobService {
	if settings.DownloadURLTTL <= 0 {
		settings.DownloadURLTTL = 6 * time.Hour
	}
	return &JobService{
		store:    store,
		storage:  storage,
		trigger:  trigger,
		hooks:    newJobHooks(events, metrics),
		settings: settings,
		now:      systemClock,
	}
}

func (s *JobService) WithClock(c Clock) *JobService {
	s.now = c
	return s
}

type CreateJobInput struct {
	UserID    string
	ProfileID string
	InputType domain.InputType
	SourceURL string
	Config    domain.GenerationConfig
}

func (s *JobService) CreateJob(ctx context.Context, in CreateJobInput) (*domain.Job, error) {
	job, err := domain.NewJob(domain.NewJobParams{
		UserID:    in.UserID,
		ProfileID: in.ProfileID,
		InputType: in.InputType,
		SourceURL: in.SourceURL,
		Config:    in.Config,
	}, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	logger.Info.Printf("job %s created (input=%s, user=%s)", job.ID, job.InputType, logger.SanitizeForLog(job.UserID))
	s.hooks.committed(job.Status, job)
	return job, nil
}

type ClipView struct {
	domain.Clip
	URL string `json:"url,omitempty"`
}

type JobView struct {
	*domain.Job
	Clips []ClipView `json:"clips"`
}

// GetJob returns the job with its clips. Clip URLs are signed on the fly; a
// signing failure leaves the URL empty rather than failing the read.
func (s *JobService) GetJob(ctx context.Context, owner, id string) (*JobView, error) {
	job, err := loadJob(ctx, s.store, id, owner)
	if err != nil {
		return nil, err
	}

	clips, err := s.store.ListClips(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}

	view := &JobView{Job: job, Clips: make([]ClipView, 0, len(clips))}
	for _, c := range clips {
		cv := ClipView{Clip: c}
		if s.storage != nil {
			url, err := s.storage.PresignDownload(ctx, c.StorageKey, s.settings.DownloadURLTTL)
			if err != nil {
				logger.Warn.Printf("job %s: sign clip %d: %v", id, c.Index, err)
			}
			cv.URL = url
		}
		view.Clips = append(view.Clips, cv)
	}
	return view, nil
}

// Cancel fails the job from any non-terminal status. An active upload session
// is aborted with it and the storage-side upload is released asynchronously.
func (s *JobService) Cancel(ctx context.Context, owner, id, reason string) (*domain.Job, error) {
	if reason == "" {
		reason = defaultCancelReason
	}
	now := s.now()
	return mutateJob(ctx, s.store, s.hooks, id, owner, func(tx port.Tx, j *domain.Job) error {
		if err := j.Apply(domain.Abort{Error: reason}, now); err != nil {
			return err
		}

		session, err := tx.GetActiveSession(ctx, j.ID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		session.Abort(reason, now)
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		return tx.EnqueueTask(ctx, domain.NewAbortMultipartTask(session, now))
	})
}

// SubmitRemote marks a youtube job ready for the browser relay download.
func (s *JobService) SubmitRemote(ctx context.Context, owner, id string) (*domain.Job, error) {
	return s.apply(ctx, owner, id, domain.SubmitRemote{})
}

func (s *JobService) StartDownload(ctx context.Context, owner, id string) (*domain.Job, error) {
	return s.apply(ctx, owner, id, domain.StartDownload{})
}

// FinishDownload records the relayed source object and queues the hand-off.
func (s *JobService) FinishDownload(ctx context.Context, owner, id, sourceKey string) (*domain.Job, error) {
	now := s.now()
	return mutateJob(ctx, s.store, s.hooks, id, owner, func(tx port.Tx, j *domain.Job) error {
		if err := j.Apply(domain.FinishDownload{SourceKey: sourceKey}, now); err != nil {
			return err
		}
		return tx.EnqueueTask(ctx, domain.NewTriggerTask(j.ID, now))
	})
}

func (s *JobService) FailDownload(ctx context.Context, owner, id, reason string) (*domain.Job, error) {
	if reason == "" {
		reason = "download failed"
	}
	now := s.now()
	return mutateJob(ctx, s.store, s.hooks, id, owner, func(_ port.Tx, j *domain.Job) error {
		if j.Status != domain.JobStatusDownloading {
			return &domain.TransitionError{From: j.Status, Event: "fail_download"}
		}
		return j.Apply(domain.Abort{Error: reason, Stage: domain.ErrorStageDownload}, now)
	})
}

// RequeueHandOff queues a fresh trigger for a job still waiting in UPLOADED.
func (s *JobService) RequeueHandOff(ctx context.Context, owner, id string) (*domain.Job, error) {
	now := s.now()
	job, err := mutateJob(ctx, s.store, s.hooks, id, owner, func(tx port.Tx, j *domain.Job) error {
		if j.Status != domain.JobStatusUploaded {
			return &domain.WrongStatusError{Status: j.Status}
		}
		return tx.EnqueueTask(ctx, domain.NewTriggerTask(j.ID, now))
	})
	if err == nil {
		logger.Info.Printf("job %s: hand-off requeued", id)
	}
	return job, err
}

func (s *JobService) apply(ctx context.Context, owner, id string, ev domain.Event) (*domain.Job, error) {
	now := s.now()
	return mutateJob(ctx, s.store, s.hooks, id, owner, func(_ port.Tx, j *domain.Job) error {
		return j.Apply(ev, now)
	})
}

// HandOff runs a trigger_processing task. It only returns an error when the
// store could not be read or written or ctx ended mid-trigger; every other
// problem is recorded on the job and the task is done.
func (s *JobService) HandOff(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Info.Printf("hand-off skipped: job %s no longer exists", jobID)
		s.hooks.metrics.HandOff("skipped", 0)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	if job.Status != domain.JobStatusUploaded {
		logger.Info.Printf("hand-off skipped: job %s is %s", jobID, job.Status)
		s.hooks.metrics.HandOff("skipped", 0)
		return nil
	}

	if job.SourceKey == "" {
		msg := "job has no source object"
		if job.InputType == domain.InputTypeYouTube {
			msg = domain.ErrRemoteFetchUnsupported.Error()
		}
		return s.failHandOff(ctx, jobID, msg, "rejected")
	}

	if s.trigger == nil || s.settings.WebhookSecret == "" {
		return s.failHandOff(ctx, jobID, "processing worker is not configured: WORKER_ENDPOINT and WEBHOOK_SECRET are required", "misconfigured")
	}

	start := time.Now()
	err = s.trigger.Trigger(ctx, port.TriggerRequest{
		JobID:         job.ID,
		SourceKey:     job.SourceKey,
		Config:        job.Config,
		WebhookSecret: s.settings.WebhookSecret,
	})
	took := time.Since(start)
	if err != nil && ctx.Err() != nil {
		// Shutting down: leave the job UPLOADED so the task runs again.
		logger.Warn.Printf("job %s: hand-off interrupted after %s: %v", jobID, took, err)
		s.hooks.metrics.HandOff("interrupted", took)
		return fmt.Errorf("trigger processing for job %s: %w", jobID, ctx.Err())
	}
	if err != nil {
		logger.Error.Printf("job %s: trigger failed after %s: %v", jobID, took, err)
		s.hooks.metrics.HandOff("failed", took)
		return s.failHandOff(ctx, jobID, fmt.Sprintf("trigger processing: %v", err), "")
	}

	logger.Info.Printf("job %s: handed off to worker in %s", jobID, took)
	s.hooks.metrics.HandOff("accepted", took)
	return nil
}

// failHandOff fails the job with stage trigger unless something else has
// moved it on since the hand-off started.
func (s *JobService) failHandOff(ctx context.Context, jobID, msg, outcome string) error {
	if outcome != "" {
		logger.Warn.Printf("job %s: hand-off %s: %s", jobID, outcome, msg)
		s.hooks.metrics.HandOff(outcome, 0)
	}
	now := s.now()
	_, err := mutateJob(ctx, s.store, s.hooks, jobID, "", func(_ port.Tx, j *domain.Job) error {
		if j.Status != domain.JobStatusUploaded {
			return errNoChange
		}
		return j.Apply(domain.Abort{Error: msg, Stage: domain.ErrorStageTrigger}, now)
	})
	if errors.Is(err, errNoChange) || errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

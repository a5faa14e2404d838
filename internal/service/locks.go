package service

import (
	"context"
	"errors"
	"time"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/infrastructure/logger"
	"github.com/bnema/clipper/internal/port"
)

const DefaultStaleLockAfter = 30 * time.Minute

// Reasons carried by unsuccessful lock results.
const (
	ReasonNotFound      = "not_found"
	ReasonWrongStatus   = "wrong_status"
	ReasonAlreadyLocked = "already_locked"
	ReasonLockMismatch  = "lock_mismatch"
	ReasonInvalidInput  = "invalid_input"
	ReasonSourceMissing = "source_not_ready"
)

type ClaimResult struct {
	Claimed      bool                     `json:"claimed"`
	Reason       string                   `json:"reason,omitempty"`
	Status       domain.JobStatus         `json:"status,omitempty"`
	JobID        string                   `json:"jobId,omitempty"`
	SourceKey    string                   `json:"sourceKey,omitempty"`
	InputType    domain.InputType         `json:"inputType,omitempty"`
	Config       *domain.GenerationConfig `json:"config,omitempty"`
	AttemptCount int                      `json:"attemptCount,omitempty"`
}

type ProgressResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type CompletionResult struct {
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	ClipCount int    `json:"clipCount,omitempty"`
}

type FailureResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// LockManager serves the worker-facing claim, progress, complete and fail
// calls. Precondition failures come back as results; only storage problems
// are returned as errors.
type LockManager struct {
	store      port.Store
	hooks      jobHooks
	staleAfter time.Duration
	now        Clock
}

func NewLockManager(store port.Store, events EventPublisher, metrics port.Metrics, staleAfter time.Duration) *LockManager {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleLockAfter
	}
	return &LockManager{
		store:      store,
		hooks:      newJobHooks(events, metrics),
		staleAfter: staleAfter,
		now:        systemClock,
	}
}

func (m *LockManager) WithClock(c Clock) *LockManager {
	m.now = c
	return m
}

// Claim hands the job to lockID. Repeating a claim with the lock already held
// by the same lockID succeeds again without counting a new attempt.
func (m *LockManager) Claim(ctx context.Context, jobID, lockID string) (ClaimResult, error) {
	now := m.now()
	var reclaimed string
	job, err := mutateJob(ctx, m.store, m.hooks, jobID, "", func(_ port.Tx, j *domain.Job) error {
		if j.Status == domain.JobStatusProcessing && j.ProcessingLockID == lockID && lockID != "" {
			return errNoChange
		}
		if j.Status == domain.JobStatusProcessing {
			reclaimed = j.ProcessingLockID
		}
		return j.Apply(domain.Claim{LockID: lockID, StaleAfter: m.staleAfter}, now)
	})

	var wrong *domain.WrongStatusError
	switch {
	case errors.Is(err, errNoChange):
		logger.Debug.Printf("job %s: repeated claim by %s", jobID, logger.SanitizeForLog(lockID))
		m.hooks.metrics.LockClaim("repeated")
		return claimed(job), nil
	case errors.Is(err, domain.ErrNotFound):
		m.hooks.metrics.LockClaim(ReasonNotFound)
		return ClaimResult{Reason: ReasonNotFound}, nil
	case errors.As(err, &wrong):
		m.hooks.metrics.LockClaim(ReasonWrongStatus)
		return ClaimResult{Reason: ReasonWrongStatus, Status: wrong.Status}, nil
	case errors.Is(err, domain.ErrAlreadyLocked):
		logger.Debug.Printf("job %s: claim by %s rejected, lock held", jobID, logger.SanitizeForLog(lockID))
		m.hooks.metrics.LockClaim(ReasonAlreadyLocked)
		return ClaimResult{Reason: ReasonAlreadyLocked, Status: domain.JobStatusProcessing}, nil
	case errors.Is(err, domain.ErrSourceNotReady):
		m.hooks.metrics.LockClaim(ReasonSourceMissing)
		return ClaimResult{Reason: ReasonSourceMissing, Status: domain.JobStatusUploaded}, nil
	case errors.Is(err, domain.ErrInvalidInput):
		m.hooks.metrics.LockClaim(ReasonInvalidInput)
		return ClaimResult{Reason: ReasonInvalidInput}, nil
	case err != nil:
		return ClaimResult{}, err
	}

	if reclaimed != "" {
		logger.Warn.Printf("job %s: stale lock %s reclaimed by %s (attempt %d)",
			jobID, logger.SanitizeForLog(reclaimed), logger.SanitizeForLog(lockID), job.AttemptCount)
		m.hooks.metrics.LockClaim("reclaimed")
	} else {
		m.hooks.metrics.LockClaim("granted")
	}
	return claimed(job), nil
}

func claimed(j *domain.Job) ClaimResult {
	cfg := j.Config
	return ClaimResult{
		Claimed:      true,
		Status:       j.Status,
		JobID:        j.ID,
		SourceKey:    j.SourceKey,
		InputType:    j.InputType,
		Config:       &cfg,
		AttemptCount: j.AttemptCount,
	}
}

// ReportProgress is a no-op for anyone but the current lock holder.
func (m *LockManager) ReportProgress(ctx context.Context, jobID, lockID string, progress int, step string) (ProgressResult, error) {
	now := m.now()
	_, err := mutateJob(ctx, m.store, m.hooks, jobID, "", func(_ port.Tx, j *domain.Job) error {
		if !j.RecordProgress(lockID, progress, step, now) {
			return errNoChange
		}
		return nil
	})
	switch {
	case errors.Is(err, errNoChange):
		logger.Debug.Printf("job %s: progress from superseded lock %s ignored", jobID, logger.SanitizeForLog(lockID))
		return ProgressResult{Reason: ReasonLockMismatch}, nil
	case errors.Is(err, domain.ErrNotFound):
		return ProgressResult{Reason: ReasonNotFound}, nil
	case err != nil:
		return ProgressResult{}, err
	}
	return ProgressResult{Success: true}, nil
}

// Complete stores the clips and marks the job READY in one transaction.
func (m *LockManager) Complete(ctx context.Context, jobID, lockID string, clips []domain.ClipInput, videoDuration float64) (CompletionResult, error) {
	now := m.now()
	records, err := domain.NewClips(jobID, clips, now)
	if err != nil {
		return CompletionResult{Reason: ReasonInvalidInput, Message: err.Error()}, nil
	}

	_, err = mutateJob(ctx, m.store, m.hooks, jobID, "", func(tx port.Tx, j *domain.Job) error {
		if err := j.Apply(domain.Complete{LockID: lockID, VideoDuration: videoDuration}, now); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateClips(ctx, records)
	})
	switch {
	case errors.Is(err, domain.ErrLockMismatch):
		logger.Debug.Printf("job %s: completion from %s ignored, lock mismatch", jobID, logger.SanitizeForLog(lockID))
		return CompletionResult{Reason: ReasonLockMismatch}, nil
	case errors.Is(err, domain.ErrNotFound):
		return CompletionResult{Reason: ReasonNotFound}, nil
	case err != nil:
		return CompletionResult{}, err
	}

	logger.Info.Printf("job %s: completed with %d clips", jobID, len(records))
	return CompletionResult{Success: true, ClipCount: len(records)}, nil
}

func (m *LockManager) Fail(ctx context.Context, jobID, lockID, errMsg, stage string) (FailureResult, error) {
	now := m.now()
	_, err := mutateJob(ctx, m.store, m.hooks, jobID, "", func(_ port.Tx, j *domain.Job) error {
		return j.Apply(domain.WorkerFail{LockID: lockID, Error: errMsg, Stage: domain.ParseErrorStage(stage)}, now)
	})
	switch {
	case errors.Is(err, domain.ErrLockMismatch):
		logger.Debug.Printf("job %s: failure from %s ignored, lock mismatch", jobID, logger.SanitizeForLog(lockID))
		return FailureResult{Reason: ReasonLockMismatch}, nil
	case errors.Is(err, domain.ErrNotFound):
		return FailureResult{Reason: ReasonNotFound}, nil
	case err != nil:
		return FailureResult{}, err
	}

	logger.Warn.Printf("job %s: worker reported failure: %s", jobID, logger.SanitizeForLog(errMsg))
	return FailureResult{Success: true}, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/infrastructure/logger"
	"github.com/bnema/clipper/internal/port"
)

type UploadSettings struct {
	UploadURLTTL time.Duration
	MaxPartCount int
}

// UploadService tracks resumable multipart uploads of job sources.
type UploadService struct {
	store    port.Store
	storage  port.ObjectStorage
	hooks    jobHooks
	settings UploadSettings
	now      Clock
}

func NewUploadService(
	store port.Store,
	storage port.ObjectStorage,
	events EventPublisher,
	metrics port.Metrics,
	settings UploadSettings,
) *UploadService {
	if settings.UploadURLTTL <= 0 {
		settings.UploadURLTTL = time.Hour
	}
	if settings.MaxPartCount <= 0 {
		settings.MaxPartCount = 10000
	}
	return &UploadService{
		store:    store,
		storage:  storage,
		hooks:    newJobHooks(events, metrics),
		settings: settings,
		now:      systemClock,
	}
}

func (s *UploadService) WithClock(c Clock) *UploadService {
	s.now = c
	return s
}

type CreateSessionInput struct {
	FileName    string
	ContentType string
	PartSize    int64
	TotalParts  int
	TotalBytes  int64
}

type PartURL struct {
	PartNumber int    `json:"partNumber"`
	URL        string `json:"url"`
}

// SessionView is what a client needs to (re)start sending parts.
type SessionView struct {
	Session      *domain.UploadSession `json:"session"`
	MissingParts []int                 `json:"missingParts"`
	PartURLs     []PartURL             `json:"partUrls"`
}

// CreateSession opens a multipart upload in storage, then records the session
// and moves the job to UPLOADING.
func (s *UploadService) CreateSession(ctx context.Context, owner, jobID string, in CreateSessionInput) (*SessionView, error) {
	job, err := loadJob(ctx, s.store, jobID, owner)
	if err != nil {
		return nil, err
	}

	probe := *job
	if err := probe.Apply(domain.StartUpload{}, s.now()); err != nil {
		return nil, err
	}
	if err := domain.ValidateSessionShape(in.PartSize, in.TotalParts, in.TotalBytes, s.settings.MaxPartCount); err != nil {
		return nil, err
	}

	key := sourceObjectKey(job, in.FileName)
	uploadID, err := s.storage.CreateMultipartUpload(ctx, key, in.ContentType)
	if err != nil {
		logger.Error.Printf("job %s: create multipart upload: %v", jobID, err)
		return nil, fmt.Errorf("create multipart upload: %w", err)
	}

	now := s.now()
	session, err := domain.NewUploadSession(domain.NewSessionParams{
		JobID:      jobID,
		ObjectKey:  key,
		UploadID:   uploadID,
		PartSize:   in.PartSize,
		TotalParts: in.TotalParts,
		TotalBytes: in.TotalBytes,
		MaxParts:   s.settings.MaxPartCount,
	}, now)
	if err != nil {
		return nil, err
	}

	_, err = mutateJob(ctx, s.store, s.hooks, jobID, owner, func(tx port.Tx, j *domain.Job) error {
		if err := j.Apply(domain.StartUpload{}, now); err != nil {
			return err
		}
		return tx.CreateSession(ctx, session)
	})
	if err != nil {
		if abortErr := s.storage.AbortMultipartUpload(ctx, key, uploadID); abortErr != nil {
			logger.Warn.Printf("job %s: release orphaned upload %s: %v", jobID, logger.SanitizeForLog(uploadID), abortErr)
		}
		return nil, err
	}

	logger.Info.Printf("job %s: upload session %s opened (%d parts, %d bytes)", jobID, session.ID, session.TotalParts, session.TotalBytes)
	return s.view(ctx, session)
}

type PartResult struct {
	Recorded        bool  `json:"recorded"`
	AlreadyReported bool  `json:"alreadyReported"`
	BytesUploaded   int64 `json:"bytesUploaded"`
	CompletedParts  int   `json:"completedParts"`
	TotalParts      int   `json:"totalParts"`
}

// ReportPart records a confirmed part. Repeats of a known part number change
// nothing and come back with AlreadyReported set.
func (s *UploadService) ReportPart(ctx context.Context, owner, sessionID string, partNumber int, etag string, size int64) (PartResult, error) {
	var res PartResult
	err := s.store.Atomic(ctx, func(tx port.Tx) error {
		session, err := s.ownedSession(ctx, tx, owner, sessionID)
		if err != nil {
			return err
		}
		recorded, err := session.RecordPart(partNumber, etag, size, s.now())
		if err != nil {
			return err
		}
		res = PartResult{
			Recorded:        recorded,
			AlreadyReported: !recorded,
			BytesUploaded:   session.BytesUploaded,
			CompletedParts:  len(session.CompletedParts),
			TotalParts:      session.TotalParts,
		}
		if !recorded {
			return nil
		}
		return tx.UpdateSession(ctx, session)
	})
	switch {
	case err != nil:
		s.hooks.metrics.UploadPart("rejected")
		return PartResult{}, err
	case res.AlreadyReported:
		s.hooks.metrics.UploadPart("duplicate")
		logger.Debug.Printf("session %s: part %d already reported", sessionID, partNumber)
	default:
		s.hooks.metrics.UploadPart("recorded")
	}
	return res, nil
}

// CompleteSession assembles the object in storage and, in one transaction,
// closes the session, moves the job to UPLOADED and queues the hand-off.
// A storage failure here fails the job.
func (s *UploadService) CompleteSession(ctx context.Context, owner, sessionID string) (*domain.Job, error) {
	session, err := s.ownedSession(ctx, s.store, owner, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.CheckComplete(); err != nil {
		return nil, err
	}

	finalKey, err := s.storage.CompleteMultipartUpload(ctx, session.ObjectKey, session.UploadID, session.SortedParts())
	if errors.Is(err, domain.ErrUploadGone) {
		// Usually a concurrent complete already finished the upload; leave
		// the session and job to that call.
		logger.Warn.Printf("session %s: multipart upload %s is gone", sessionID, logger.SanitizeForLog(session.UploadID))
		return nil, fmt.Errorf("%w: %w", domain.ErrSessionNotActive, err)
	}
	if err != nil {
		logger.Error.Printf("session %s: complete multipart upload: %v", sessionID, err)
		reason := fmt.Sprintf("finalize upload: %v", err)
		if _, abortErr := s.abort(ctx, owner, sessionID, reason); abortErr != nil {
			logger.Error.Printf("session %s: fail job after storage error: %v", sessionID, abortErr)
		}
		return nil, fmt.Errorf("complete multipart upload: %w", err)
	}

	now := s.now()
	job, err := mutateJob(ctx, s.store, s.hooks, session.JobID, owner, func(tx port.Tx, j *domain.Job) error {
		current, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := current.Complete(now); err != nil {
			return err
		}
		if err := j.Apply(domain.FinishUpload{SourceKey: finalKey}, now); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, current); err != nil {
			return err
		}
		return tx.EnqueueTask(ctx, domain.NewTriggerTask(j.ID, now))
	})
	if err != nil {
		return nil, err
	}

	logger.Info.Printf("session %s completed, job %s source at %s", sessionID, job.ID, logger.SanitizeForLog(finalKey))
	return job, nil
}

type AbortResult struct {
	Aborted bool   `json:"aborted"`
	Reason  string `json:"reason,omitempty"`
}

// AbortSession fails the job with stage upload. Aborting a session that is no
// longer active is reported in the result, not as an error.
func (s *UploadService) AbortSession(ctx context.Context, owner, sessionID, reason string) (AbortResult, error) {
	if reason == "" {
		reason = "upload aborted"
	}
	return s.abort(ctx, owner, sessionID, reason)
}

func (s *UploadService) abort(ctx context.Context, owner, sessionID, reason string) (AbortResult, error) {
	session, err := s.ownedSession(ctx, s.store, owner, sessionID)
	if err != nil {
		return AbortResult{}, err
	}

	now := s.now()
	_, err = mutateJob(ctx, s.store, s.hooks, session.JobID, owner, func(tx port.Tx, j *domain.Job) error {
		current, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !current.Abort(reason, now) {
			return errNoChange
		}
		if err := tx.UpdateSession(ctx, current); err != nil {
			return err
		}
		if !j.Status.IsTerminal() {
			if err := j.Apply(domain.Abort{Error: reason, Stage: domain.ErrorStageUpload}, now); err != nil {
				return err
			}
		}
		return tx.EnqueueTask(ctx, domain.NewAbortMultipartTask(current, now))
	})
	if errors.Is(err, errNoChange) {
		return AbortResult{Aborted: false, Reason: "session is not active"}, nil
	}
	if err != nil {
		return AbortResult{}, err
	}

	logger.Info.Printf("session %s aborted: %s", sessionID, logger.SanitizeForLog(reason))
	return AbortResult{Aborted: true}, nil
}

// GetActiveSession returns nil, nil when the job has nothing to resume.
func (s *UploadService) GetActiveSession(ctx context.Context, owner, jobID string) (*SessionView, error) {
	if _, err := loadJob(ctx, s.store, jobID, owner); err != nil {
		return nil, err
	}
	session, err := s.store.GetActiveSession(ctx, jobID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.view(ctx, session)
}

// ReleaseUpload runs an abort_multipart task.
func (s *UploadService) ReleaseUpload(ctx context.Context, t *domain.Task) error {
	if t.Payload.ObjectKey == "" || t.Payload.UploadID == "" {
		logger.Warn.Printf("task %s: abort_multipart without upload reference", t.ID)
		return nil
	}
	if err := s.storage.AbortMultipartUpload(ctx, t.Payload.ObjectKey, t.Payload.UploadID); err != nil {
		return fmt.Errorf("abort multipart upload: %w", err)
	}
	return nil
}

func (s *UploadService) ownedSession(ctx context.Context, store interface {
	port.JobStore
	port.SessionStore
}, owner, sessionID string) (*domain.UploadSession, error) {
	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := loadJob(ctx, store, session.JobID, owner); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *UploadService) view(ctx context.Context, session *domain.UploadSession) (*SessionView, error) {
	missing := session.MissingParts()
	urls := make([]PartURL, 0, len(missing))
	for _, n := range missing {
		url, err := s.storage.PresignUploadPart(ctx, session.ObjectKey, session.UploadID, n, s.settings.UploadURLTTL)
		if err != nil {
			return nil, fmt.Errorf("presign part %d: %w", n, err)
		}
		urls = append(urls, PartURL{PartNumber: n, URL: url})
	}
	return &SessionView{Session: session, MissingParts: missing, PartURLs: urls}, nil
}

func sourceObjectKey(j *domain.Job, fileName string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(fileName, "\\", "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " ?#%") {
		ext = ""
	}
	return fmt.Sprintf("uploads/%s/%s/source%s", j.UserID, j.ID, ext)
}

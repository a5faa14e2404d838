package domain

import (
	"fmt"
	"strings"
	"time"
)

// Event is a request to move a Job between statuses. The set of events is
// closed; Apply is the only place that interprets them.
type Event interface {
	eventName() string
}

type StartUpload struct{}

type FinishUpload struct {
	SourceKey string
}

type SubmitRemote struct{}

type StartDownload struct{}

type FinishDownload struct {
	SourceKey string
}

type Claim struct {
	LockID     string
	StaleAfter time.Duration
}

type Complete struct {
	LockID        string
	VideoDuration float64
}

type WorkerFail struct {
	LockID string
	Error  string
	Stage  ErrorStage
}

// Abort fails a job from any non-terminal status. An empty Stage is derived
// from the status the job is leaving.
type Abort struct {
	Error string
	Stage ErrorStage
}

func (StartUpload) eventName() string    { return "start_upload" }
func (FinishUpload) eventName() string   { return "finish_upload" }
func (SubmitRemote) eventName() string   { return "submit_remote" }
func (StartDownload) eventName() string  { return "start_download" }
func (FinishDownload) eventName() string { return "finish_download" }
func (Claim) eventName() string          { return "claim" }
func (Complete) eventName() string       { return "complete" }
func (WorkerFail) eventName() string     { return "worker_fail" }
func (Abort) eventName() string          { return "abort" }

// Apply validates ev against the job's current status and mutates the job in
// place. On error the job is left unchanged.
func (j *Job) Apply(ev Event, now time.Time) error {
	switch e := ev.(type) {
	case Claim:
		return j.applyClaim(e, now)
	case Complete:
		if err := j.requireLock(e.LockID); err != nil {
			return err
		}
		j.Status = JobStatusReady
		j.Progress = 100
		j.VideoDuration = e.VideoDuration
		j.clearLock()
		j.CompletedAt = &now
	case WorkerFail:
		if err := j.requireLock(e.LockID); err != nil {
			return err
		}
		stage := e.Stage
		if stage == "" {
			stage = ErrorStageProcessing
		}
		j.fail(e.Error, stage)
	case Abort:
		if j.Status.IsTerminal() {
			return j.reject(ev)
		}
		stage := e.Stage
		if stage == "" {
			stage = StageFor(j.Status)
		}
		j.fail(e.Error, stage)
	case StartUpload:
		if j.Status != JobStatusCreated {
			return j.reject(ev)
		}
		j.Status = JobStatusUploading
	case FinishUpload:
		if j.Status != JobStatusUploading {
			return j.reject(ev)
		}
		if strings.TrimSpace(e.SourceKey) == "" {
			return fmt.Errorf("%w: source key is required", ErrInvalidInput)
		}
		j.Status = JobStatusUploaded
		j.SourceKey = e.SourceKey
	case SubmitRemote:
		if j.Status != JobStatusCreated || j.InputType != InputTypeYouTube {
			return j.reject(ev)
		}
		if j.SourceURL == "" {
			return fmt.Errorf("%w: remote submission requires a source url", ErrInvalidInput)
		}
		j.Status = JobStatusUploaded
	case StartDownload:
		if j.Status != JobStatusUploaded || j.InputType != InputTypeYouTube || j.SourceKey != "" {
			return j.reject(ev)
		}
		j.Status = JobStatusDownloading
	case FinishDownload:
		if j.Status != JobStatusDownloading {
			return j.reject(ev)
		}
		if strings.TrimSpace(e.SourceKey) == "" {
			return fmt.Errorf("%w: source key is required", ErrInvalidInput)
		}
		j.Status = JobStatusUploaded
		j.SourceKey = e.SourceKey
	default:
		return fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
	}

	j.UpdatedAt = now
	return nil
}

func (j *Job) applyClaim(c Claim, now time.Time) error {
	if strings.TrimSpace(c.LockID) == "" {
		return fmt.Errorf("%w: lock id is required", ErrInvalidInput)
	}
	switch j.Status {
	case JobStatusUploaded:
		// A remote submission sits in UPLOADED with nothing to process yet.
		if strings.TrimSpace(j.SourceKey) == "" {
			return ErrSourceNotReady
		}
	case JobStatusProcessing:
		if !j.LockIsStale(now, c.StaleAfter) {
			return ErrAlreadyLocked
		}
	default:
		return &WrongStatusError{Status: j.Status}
	}

	j.Status = JobStatusProcessing
	j.ProcessingLockID = c.LockID
	j.ProcessingStartedAt = &now
	j.AttemptCount++
	j.Progress = 0
	j.CurrentStep = ""
	j.Error = ""
	j.ErrorStage = ""
	j.UpdatedAt = now
	return nil
}

// requireLock guards worker reports. Terminal jobs never hold a lock, so a
// late report after cancellation also lands here.
func (j *Job) requireLock(lockID string) error {
	if !j.IsLocked() || j.ProcessingLockID != lockID {
		return ErrLockMismatch
	}
	return nil
}

func (j *Job) fail(msg string, stage ErrorStage) {
	if strings.TrimSpace(msg) == "" {
		msg = "job failed"
	}
	j.Status = JobStatusFailed
	j.Error = msg
	j.ErrorStage = stage
	j.clearLock()
}

func (j *Job) reject(ev Event) error {
	return &TransitionError{From: j.Status, Event: ev.eventName()}
}

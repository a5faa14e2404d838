package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusCreated     JobStatus = "CREATED"
	JobStatusUploading   JobStatus = "UPLOADING"
	JobStatusUploaded    JobStatus = "UPLOADED"
	JobStatusDownloading JobStatus = "DOWNLOADING"
	JobStatusProcessing  JobStatus = "PROCESSING"
	JobStatusReady       JobStatus = "READY"
	JobStatusFailed      JobStatus = "FAILED"
)

var jobStatuses = []JobStatus{
	JobStatusCreated,
	JobStatusUploading,
	JobStatusUploaded,
	JobStatusDownloading,
	JobStatusProcessing,
	JobStatusReady,
	JobStatusFailed,
}

// ParseJobStatus rejects any value outside the known set so that a corrupt
// row never reaches the state machine.
func ParseJobStatus(s string) (JobStatus, error) {
	for _, st := range jobStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown job status %q", ErrInvalidInput, s)
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusReady || s == JobStatusFailed
}

type InputType string

const (
	InputTypeYouTube InputType = "youtube"
	InputTypeLocal   InputType = "local"
)

func ParseInputType(s string) (InputType, error) {
	switch InputType(strings.ToLower(s)) {
	case InputTypeYouTube:
		return InputTypeYouTube, nil
	case InputTypeLocal:
		return InputTypeLocal, nil
	}
	return "", fmt.Errorf("%w: unknown input type %q", ErrInvalidInput, s)
}

type ErrorStage string

const (
	ErrorStageUpload     ErrorStage = "upload"
	ErrorStageDownload   ErrorStage = "download"
	ErrorStageTrigger    ErrorStage = "trigger"
	ErrorStageProcessing ErrorStage = "processing"
)

// ParseErrorStage returns ErrorStageProcessing for anything it does not know;
// worker-reported stages are free text.
func ParseErrorStage(s string) ErrorStage {
	switch ErrorStage(strings.ToLower(strings.TrimSpace(s))) {
	case ErrorStageUpload:
		return ErrorStageUpload
	case ErrorStageDownload:
		return ErrorStageDownload
	case ErrorStageTrigger:
		return ErrorStageTrigger
	default:
		return ErrorStageProcessing
	}
}

// StageFor maps the status a job failed in to the coarse stage shown to users.
func StageFor(status JobStatus) ErrorStage {
	switch status {
	case JobStatusCreated, JobStatusUploading:
		return ErrorStageUpload
	case JobStatusDownloading:
		return ErrorStageDownload
	case JobStatusUploaded:
		return ErrorStageTrigger
	default:
		return ErrorStageProcessing
	}
}

// GenerationConfig is passed through to the worker untouched.
type GenerationConfig struct {
	ClipCount    int    `json:"clipCount,omitempty"`
	Layout       string `json:"layout,omitempty"`
	MinDuration  int    `json:"minDuration,omitempty"`
	MaxDuration  int    `json:"maxDuration,omitempty"`
	AspectRatio  string `json:"aspectRatio,omitempty"`
	Tone         string `json:"tone,omitempty"`
	CaptionStyle string `json:"captionStyle,omitempty"`
}

type Job struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"userId"`
	ProfileID           string           `json:"profileId,omitempty"`
	Status              JobStatus        `json:"status"`
	InputType           InputType        `json:"inputType"`
	SourceURL           string           `json:"sourceUrl,omitempty"`
	SourceKey           string           `json:"r2SourceKey,omitempty"`
	Config              GenerationConfig `json:"config"`
	AttemptCount        int              `json:"attemptCount"`
	ProcessingLockID    string           `json:"processingLockId,omitempty"`
	ProcessingStartedAt *time.Time       `json:"processingStartedAt,omitempty"`
	Progress            int              `json:"progress"`
	CurrentStep         string           `json:"currentStep,omitempty"`
	Error               string           `json:"error,omitempty"`
	ErrorStage          ErrorStage       `json:"errorStage,omitempty"`
	VideoDuration       float64          `json:"videoDuration,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
	CompletedAt         *time.Time       `json:"completedAt,omitempty"`
}

type NewJobParams struct {
	UserID    string
	ProfileID string
	InputType InputType
	SourceURL string
	Config    GenerationConfig
}

func NewJob(p NewJobParams, now time.Time) (*Job, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	inputType, err := ParseInputType(string(p.InputType))
	if err != nil {
		return nil, err
	}
	if inputType == InputTypeYouTube && strings.TrimSpace(p.SourceURL) == "" {
		return nil, fmt.Errorf("%w: youtube input requires a source url", ErrInvalidInput)
	}

	return &Job{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		ProfileID: p.ProfileID,
		Status:    JobStatusCreated,
		InputType: inputType,
		SourceURL: strings.TrimSpace(p.SourceURL),
		Config:    p.Config,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (j *Job) IsLocked() bool {
	return j.ProcessingLockID != ""
}

// LockIsStale reports whether the current holder has exceeded the staleness window.
func (j *Job) LockIsStale(now time.Time, staleAfter time.Duration) bool {
	if !j.IsLocked() || j.ProcessingStartedAt == nil {
		return false
	}
	return now.Sub(*j.ProcessingStartedAt) > staleAfter
}

// RecordProgress applies a worker progress report. It returns false, leaving
// the job untouched, when lockID is not the current holder.
func (j *Job) RecordProgress(lockID string, progress int, step string, now time.Time) bool {
	if !j.IsLocked() || j.ProcessingLockID != lockID {
		return false
	}
	j.Progress = clampProgress(progress)
	j.CurrentStep = step
	j.UpdatedAt = now
	return true
}

func (j *Job) clearLock() {
	j.ProcessingLockID = ""
	j.ProcessingStartedAt = nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bnema/clipper/internal/domain"
)

// Timestamps are stored as unix milliseconds.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

var jobColumns = []string{
	"id", "user_id", "profile_id", "status", "input_type", "source_url", "source_key",
	"config", "attempt_count", "lock_id", "lock_started_at", "progress", "current_step",
	"error", "error_stage", "video_duration", "created_at", "updated_at", "completed_at",
}

type jobRow struct {
	ID            string        `db:"id"`
	UserID        string        `db:"user_id"`
	ProfileID     string        `db:"profile_id"`
	Status        string        `db:"status"`
	InputType     string        `db:"input_type"`
	SourceURL     string        `db:"source_url"`
	SourceKey     string        `db:"source_key"`
	Config        string        `db:"config"`
	AttemptCount  int           `db:"attempt_count"`
	LockID        string        `db:"lock_id"`
	LockStartedAt sql.NullInt64 `db:"lock_started_at"`
	Progress      int           `db:"progress"`
	CurrentStep   string        `db:"current_step"`
	Error         string        `db:"error"`
	ErrorStage    string        `db:"error_stage"`
	VideoDuration float64       `db:"video_duration"`
	CreatedAt     int64         `db:"created_at"`
	UpdatedAt     int64         `db:"updated_at"`
	CompletedAt   sql.NullInt64 `db:"completed_at"`
}

func jobValues(j *domain.Job) (map[string]any, error) {
	cfg, err := json.Marshal(j.Config)
	if err != nil {
		return nil, fmt.Errorf("encode generation config: %w", err)
	}
	return map[string]any{
		"id":              j.ID,
		"user_id":         j.UserID,
		"profile_id":      j.ProfileID,
		"status":          string(j.Status),
		"input_type":      string(j.InputType),
		"source_url":      j.SourceURL,
		"source_key":      j.SourceKey,
		"config":          string(cfg),
		"attempt_count":   j.AttemptCount,
		"lock_id":         j.ProcessingLockID,
		"lock_started_at": nullMillis(j.ProcessingStartedAt),
		"progress":        j.Progress,
		"current_step":    j.CurrentStep,
		"error":           j.Error,
		"error_stage":     string(j.ErrorStage),
		"video_duration":  j.VideoDuration,
		"created_at":      toMillis(j.CreatedAt),
		"updated_at":      toMillis(j.UpdatedAt),
		"completed_at":    nullMillis(j.CompletedAt),
	}, nil
}

func (r jobRow) toDomain() (*domain.Job, error) {
	status, err := domain.ParseJobStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", r.ID, err)
	}
	var cfg domain.GenerationConfig
	if r.Config != "" {
		if err := json.Unmarshal([]byte(r.Config), &cfg); err != nil {
			return nil, fmt.Errorf("job %s: decode generation config: %w", r.ID, err)
		}
	}
	return &domain.Job{
		ID:                  r.ID,
		UserID:              r.UserID,
		ProfileID:           r.ProfileID,
		Status:              status,
		InputType:           domain.InputType(r.InputType),
		SourceURL:           r.SourceURL,
		SourceKey:           r.SourceKey,
		Config:              cfg,
		AttemptCount:        r.AttemptCount,
		ProcessingLockID:    r.LockID,
		ProcessingStartedAt: fromNullMillis(r.LockStartedAt),
		Progress:            r.Progress,
		CurrentStep:         r.CurrentStep,
		Error:               r.Error,
		ErrorStage:          domain.ErrorStage(r.ErrorStage),
		VideoDuration:       r.VideoDuration,
		CreatedAt:           fromMillis(r.CreatedAt),
		UpdatedAt:           fromMillis(r.UpdatedAt),
		CompletedAt:         fromNullMillis(r.CompletedAt),
	}, nil
}

var sessionColumns = []string{
	"id", "job_id", "object_key", "upload_id", "part_size", "total_parts", "total_bytes",
	"bytes_uploaded", "status", "abort_reason", "created_at", "updated_at", "completed_at",
}

type sessionRow struct {
	ID            string        `db:"id"`
	JobID         string        `db:"job_id"`
	ObjectKey     string        `db:"object_key"`
	UploadID      string        `db:"upload_id"`
	PartSize      int64         `db:"part_size"`
	TotalParts    int           `db:"total_parts"`
	TotalBytes    int64         `db:"total_bytes"`
	BytesUploaded int64         `db:"bytes_uploaded"`
	Status        string        `db:"status"`
	AbortReason   string        `db:"abort_reason"`
	CreatedAt     int64         `db:"created_at"`
	UpdatedAt     int64         `db:"updated_at"`
	CompletedAt   sql.NullInt64 `db:"completed_at"`
}

func sessionValues(us *domain.UploadSession) map[string]any {
	return map[string]any{
		"id":             us.ID,
		"job_id":         us.JobID,
		"object_key":     us.ObjectKey,
		"upload_id":      us.UploadID,
		"part_size":      us.PartSize,
		"total_parts":    us.TotalParts,
		"total_bytes":    us.TotalBytes,
		"bytes_uploaded": us.BytesUploaded,
		"status":         string(us.Status),
		"abort_reason":   us.AbortReason,
		"created_at":     toMillis(us.CreatedAt),
		"updated_at":     toMillis(us.UpdatedAt),
		"completed_at":   nullMillis(us.CompletedAt),
	}
}

func (r sessionRow) toDomain(parts []partRow) (*domain.UploadSession, error) {
	status, err := domain.ParseSessionStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("upload session %s: %w", r.ID, err)
	}
	completed := make([]domain.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, domain.CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag, Size: p.Size})
	}
	return &domain.UploadSession{
		ID:             r.ID,
		JobID:          r.JobID,
		ObjectKey:      r.ObjectKey,
		UploadID:       r.UploadID,
		PartSize:       r.PartSize,
		TotalParts:     r.TotalParts,
		TotalBytes:     r.TotalBytes,
		CompletedParts: completed,
		BytesUploaded:  r.BytesUploaded,
		Status:         status,
		AbortReason:    r.AbortReason,
		CreatedAt:      fromMillis(r.CreatedAt),
		UpdatedAt:      fromMillis(r.UpdatedAt),
		CompletedAt:    fromNullMillis(r.CompletedAt),
	}, nil
}

type partRow struct {
	PartNumber int    `db:"part_number"`
	ETag       string `db:"etag"`
	Size       int64  `db:"size"`
}

var clipColumns = []string{
	"id", "job_id", "idx", "start_time", "end_time", "storage_key", "title", "score", "metadata", "created_at",
}

type clipRow struct {
	ID         string          `db:"id"`
	JobID      string          `db:"job_id"`
	Index      int             `db:"idx"`
	StartTime  float64         `db:"start_time"`
	EndTime    float64         `db:"end_time"`
	StorageKey string          `db:"storage_key"`
	Title      string          `db:"title"`
	Score      sql.NullFloat64 `db:"score"`
	Metadata   string          `db:"metadata"`
	CreatedAt  int64           `db:"created_at"`
}

func clipValues(c domain.Clip) ([]any, error) {
	var meta string
	if len(c.Metadata) > 0 {
		b, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode clip metadata: %w", err)
		}
		meta = string(b)
	}
	var score sql.NullFloat64
	if c.Score != nil {
		score = sql.NullFloat64{Float64: *c.Score, Valid: true}
	}
	return []any{
		c.ID, c.JobID, c.Index, c.StartTime, c.EndTime, c.StorageKey, c.Title, score, meta, toMillis(c.CreatedAt),
	}, nil
}

func (r clipRow) toDomain() (domain.Clip, error) {
	c := domain.Clip{
		ID:         r.ID,
		JobID:      r.JobID,
		Index:      r.Index,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		StorageKey: r.StorageKey,
		Title:      r.Title,
		CreatedAt:  fromMillis(r.CreatedAt),
	}
	if r.Score.Valid {
		score := r.Score.Float64
		c.Score = &score
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &c.Metadata); err != nil {
			return domain.Clip{}, fmt.Errorf("clip %s: decode metadata: %w", r.ID, err)
		}
	}
	return c, nil
}

var taskColumns = []string{
	"id", "kind", "job_id", "object_key", "upload_id", "status", "attempts", "last_error",
	"run_at", "created_at", "updated_at",
}

type taskRow struct {
	ID        string `db:"id"`
	Kind      string `db:"kind"`
	JobID     string `db:"job_id"`
	ObjectKey string `db:"object_key"`
	UploadID  string `db:"upload_id"`
	Status    string `db:"status"`
	Attempts  int    `db:"attempts"`
	LastError string `db:"last_error"`
	RunAt     int64  `db:"run_at"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r taskRow) toDomain() *domain.Task {
	return &domain.Task{
		ID:        r.ID,
		Kind:      domain.TaskKind(r.Kind),
		JobID:     r.JobID,
		Payload:   domain.TaskPayload{ObjectKey: r.ObjectKey, UploadID: r.UploadID},
		Status:    domain.TaskStatus(r.Status),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		RunAt:     fromMillis(r.RunAt),
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

type TaskKind string

const (
	TaskKindTriggerProcessing TaskKind = "trigger_processing"
	TaskKindAbortMultipart    TaskKind = "abort_multipart"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

type TaskPayload struct {
	ObjectKey string `json:"objectKey,omitempty"`
	UploadID  string `json:"uploadId,omitempty"`
}

// Task is an outbox entry written in the same transaction as the mutation
// that needs a follow-up.
type Task struct {
	ID        string      `json:"id"`
	Kind      TaskKind    `json:"kind"`
	JobID     string      `json:"jobId"`
	Payload   TaskPayload `json:"payload"`
	Status    TaskStatus  `json:"status"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"lastError,omitempty"`
	RunAt     time.Time   `json:"runAt"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func newTask(kind TaskKind, jobID string, payload TaskPayload, now time.Time) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		JobID:     jobID,
		Payload:   payload,
		Status:    TaskStatusPending,
		RunAt:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NewTriggerTask(jobID string, now time.Time) *Task {
	return newTask(TaskKindTriggerProcessing, jobID, TaskPayload{}, now)
}

func NewAbortMultipartTask(s *UploadSession, now time.Time) *Task {
	return newTask(TaskKindAbortMultipart, s.JobID, TaskPayload{ObjectKey: s.ObjectKey, UploadID: s.UploadID}, now)
}

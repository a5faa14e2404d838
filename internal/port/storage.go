package port

import (
	"context"
	"time"

	"github.com/bnema/clipper/internal/domain"
)

type JobStore interface {
	CreateJob(ctx context.Context, j *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	UpdateJob(ctx context.Context, j *domain.Job) error
	DeleteJob(ctx context.Context, id string) error
	// ListJobsCreatedBefore returns jobs in status whose createdAt is before cutoff.
	ListJobsCreatedBefore(ctx context.Context, status domain.JobStatus, cutoff time.Time) ([]*domain.Job, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.UploadSession) error
	GetSession(ctx context.Context, id string) (*domain.UploadSession, error)
	// GetActiveSession returns domain.ErrSessionNotFound when the job has no ACTIVE session.
	GetActiveSession(ctx context.Context, jobID string) (*domain.UploadSession, error)
	UpdateSession(ctx context.Context, s *domain.UploadSession) error
}

type ClipStore interface {
	CreateClips(ctx context.Context, clips []domain.Clip) error
	ListClips(ctx context.Context, jobID string) ([]domain.Clip, error)
}

// Tx is the view of the store inside Atomic. Tasks can only be enqueued here
// so they commit or roll back with the mutation that produced them.
type Tx interface {
	JobStore
	SessionStore
	ClipStore
	EnqueueTask(ctx context.Context, t *domain.Task) error
}

type Store interface {
	JobStore
	SessionStore
	ClipStore
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

package port

import (
	"context"
	"time"

	"github.com/bnema/clipper/internal/domain"
)

type TaskQueue interface {
	// Claim returns nil, nil when no task is due.
	Claim(ctx context.Context, now time.Time) (*domain.Task, error)
	Complete(ctx context.Context, id string) error
	// Fail puts the task back to pending at retryAt, or marks it failed for good when retryAt is nil.
	Fail(ctx context.Context, id string, errMsg string, retryAt *time.Time) error
	ResetStalled(ctx context.Context) error
}

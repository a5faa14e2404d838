package service

import (
	"context"
	"errors"
	"time"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/infrastructure/logger"
	"github.com/bnema/clipper/internal/port"
)

// Clock returns the current time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// errNoChange lets a mutation bail out of its transaction without it being
// reported as a failure.
var errNoChange = errors.New("no change")

// jobHooks runs after a job mutation has committed.
type jobHooks struct {
	events  EventPublisher
	metrics port.Metrics
}

func newJobHooks(events EventPublisher, metrics port.Metrics) jobHooks {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return jobHooks{events: events, metrics: metrics}
}

func (h jobHooks) committed(from domain.JobStatus, j *domain.Job) {
	if from != j.Status {
		h.metrics.JobTransition(from, j.Status)
		logger.Info.Printf("job %s: %s -> %s", j.ID, from, j.Status)
	}
	if h.events != nil {
		h.events.Publish(j.ID, NewJobEvent(j))
	}
}

// loadJob fetches a job and, when owner is set, checks it belongs to them.
func loadJob(ctx context.Context, store port.JobStore, id, owner string) (*domain.Job, error) {
	j, err := store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner != "" && j.UserID != owner {
		return nil, domain.ErrNotOwner
	}
	return j, nil
}

// mutateJob loads a job inside a transaction, lets fn change it, saves it,
// and fires the hooks once committed. fn may return errNoChange to abandon
// the transaction quietly; mutateJob then returns the unchanged job and
// errNoChange.
func mutateJob(ctx context.Context, store port.Store, hooks jobHooks, id, owner string,
	fn func(tx port.Tx, j *domain.Job) error) (*domain.Job, error) {
	var (
		job  *domain.Job
		from domain.JobStatus
	)
	err := store.Atomic(ctx, func(tx port.Tx) error {
		j, err := loadJob(ctx, tx, id, owner)
		if err != nil {
			return err
		}
		job, from = j, j.Status
		if err := fn(tx, j); err != nil {
			return err
		}
		return tx.UpdateJob(ctx, j)
	})
	if errors.Is(err, errNoChange) {
		return job, errNoChange
	}
	if err != nil {
		return nil, err
	}
	hooks.committed(from, job)
	return job, nil
}

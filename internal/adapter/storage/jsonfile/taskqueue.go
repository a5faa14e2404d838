package jsonfile

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/port"
)

// TaskQueue consumes the tasks written through Store.Atomic.
type TaskQueue struct {
	store *Store
}

func NewTaskQueue(store *Store) *TaskQueue {
	return &TaskQueue{store: store}
}

func (q *TaskQueue) Claim(ctx context.Context, now time.Time) (*domain.Task, error) {
	if !q.hasDue(now) {
		return nil, nil
	}

	var claimed *domain.Task
	err := q.mutate(ctx, func(st *state) error {
		var next *domain.Task
		for _, t := range st.Tasks {
			if t.Status != domain.TaskStatusPending || t.RunAt.After(now) {
				continue
			}
			if next == nil || t.RunAt.Before(next.RunAt) ||
				(t.RunAt.Equal(next.RunAt) && t.CreatedAt.Before(next.CreatedAt)) {
				next = t
			}
		}
		if next == nil {
			return nil
		}
		next.Status = domain.TaskStatusRunning
		next.Attempts++
		next.UpdatedAt = now
		cp := *next
		claimed = &cp
		return nil
	})
	return claimed, err
}

func (q *TaskQueue) Complete(ctx context.Context, id string) error {
	return q.update(ctx, id, func(t *domain.Task) {
		t.Status = domain.TaskStatusCompleted
		t.UpdatedAt = time.Now().UTC()
	})
}

func (q *TaskQueue) Fail(ctx context.Context, id string, errMsg string, retryAt *time.Time) error {
	return q.update(ctx, id, func(t *domain.Task) {
		t.LastError = errMsg
		t.UpdatedAt = time.Now().UTC()
		if retryAt == nil {
			t.Status = domain.TaskStatusFailed
			return
		}
		t.Status = domain.TaskStatusPending
		t.RunAt = *retryAt
	})
}

func (q *TaskQueue) ResetStalled(ctx context.Context) error {
	return q.mutate(ctx, func(st *state) error {
		for _, t := range st.Tasks {
			if t.Status == domain.TaskStatusRunning {
				t.Status = domain.TaskStatusPending
			}
		}
		return nil
	})
}

// hasDue is a read-only scan; Claim only persists when it finds work.
func (q *TaskQueue) hasDue(now time.Time) bool {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	for _, t := range q.store.st.Tasks {
		if t.Status == domain.TaskStatusPending && !t.RunAt.After(now) {
			return true
		}
	}
	return false
}

func (q *TaskQueue) update(ctx context.Context, id string, fn func(t *domain.Task)) error {
	return q.mutate(ctx, func(st *state) error {
		t, ok := st.Tasks[id]
		if !ok {
			return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
		}
		fn(t)
		return nil
	})
}

func (q *TaskQueue) mutate(ctx context.Context, fn func(st *state) error) error {
	return q.store.Atomic(ctx, func(tx port.Tx) error {
		return fn(tx.(*view).st)
	})
}

var _ port.TaskQueue = (*TaskQueue)(nil)

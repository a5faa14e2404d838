package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/port"
)

// TaskQueue consumes the tasks written through Store.Atomic.
type TaskQueue struct {
	q *queries
}

func NewTaskQueue(store *Store) *TaskQueue {
	return &TaskQueue{q: store.q}
}

// Claim moves the oldest due pending task to running in a single statement.
func (tq *TaskQueue) Claim(ctx context.Context, now time.Time) (*domain.Task, error) {
	ms := toMillis(now)
	next := "id = (SELECT id FROM tasks WHERE status = ? AND run_at <= ? ORDER BY run_at, created_at LIMIT 1)"

	var row taskRow
	err := tq.q.get(ctx, &row, psql.Update("tasks").
		Set("status", string(domain.TaskStatusRunning)).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("updated_at", ms).
		Where(next, string(domain.TaskStatusPending), ms).
		Suffix("RETURNING "+strings.Join(taskColumns, ", ")))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return row.toDomain(), nil
}

func (tq *TaskQueue) Complete(ctx context.Context, id string) error {
	return tq.q.execOne(ctx, psql.Update("tasks").
		Set("status", string(domain.TaskStatusCompleted)).
		Set("updated_at", toMillis(time.Now())).
		Where(sq.Eq{"id": id}), taskNotFound(id))
}

func (tq *TaskQueue) Fail(ctx context.Context, id string, errMsg string, retryAt *time.Time) error {
	b := psql.Update("tasks").
		Set("last_error", errMsg).
		Set("updated_at", toMillis(time.Now())).
		Where(sq.Eq{"id": id})
	if retryAt == nil {
		b = b.Set("status", string(domain.TaskStatusFailed))
	} else {
		b = b.Set("status", string(domain.TaskStatusPending)).Set("run_at", toMillis(*retryAt))
	}
	return tq.q.execOne(ctx, b, taskNotFound(id))
}

func (tq *TaskQueue) ResetStalled(ctx context.Context) error {
	_, err := tq.q.exec(ctx, psql.Update("tasks").
		Set("status", string(domain.TaskStatusPending)).
		Where(sq.Eq{"status": string(domain.TaskStatusRunning)}))
	return err
}

func taskNotFound(id string) error {
	return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
}

var _ port.TaskQueue = (*TaskQueue)(nil)

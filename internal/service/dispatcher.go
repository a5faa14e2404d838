package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/infrastructure/logger"
	"github.com/bnema/clipper/internal/port"
)

// TaskHandler runs one outbox task. Returning an error schedules a retry.
type TaskHandler func(ctx context.Context, t *domain.Task) error

// Dispatcher drains the outbox with a fixed pool of polling workers.
type Dispatcher struct {
	queue       port.TaskQueue
	handlers    map[domain.TaskKind]TaskHandler
	backoff     Backoff
	maxAttempts int
	workers     int
	metrics     port.Metrics
	now         Clock

	idleWait  time.Duration
	errorWait time.Duration
	wg        sync.WaitGroup
}

func NewDispatcher(queue port.TaskQueue, workers, maxAttempts int, backoff Backoff, metrics port.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &Dispatcher{
		queue:       queue,
		handlers:    make(map[domain.TaskKind]TaskHandler),
		backoff:     backoff,
		maxAttempts: maxAttempts,
		workers:     workers,
		metrics:     metrics,
		now:         systemClock,
		idleWait:    500 * time.Millisecond,
		errorWait:   2 * time.Second,
	}
}

func (d *Dispatcher) WithClock(c Clock) *Dispatcher {
	d.now = c
	return d
}

func (d *Dispatcher) Handle(kind domain.TaskKind, h TaskHandler) {
	d.handlers[kind] = h
}

func (d *Dispatcher) Start(ctx context.Context) {
	// Tasks left running by a previous process go back to pending.
	if err := d.queue.ResetStalled(ctx); err != nil {
		logger.Error.Printf("failed to reset stalled tasks: %v", err)
	}

	for i := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i)
	}
	logger.Info.Printf("started %d dispatch workers", d.workers)
}

// Wait blocks until every worker has returned after ctx was cancelled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			logger.Info.Printf("dispatch worker %d shutting down", id)
			return
		default:
		}

		ran, err := d.RunOnce(ctx)
		switch {
		case err != nil:
			logger.Error.Printf("dispatch worker %d: %v", id, err)
			sleep(ctx, d.errorWait)
		case !ran:
			sleep(ctx, d.idleWait)
		}
	}
}

// RunOnce claims and runs at most one due task. It reports whether a task was
// found; the error covers queue failures only.
func (d *Dispatcher) RunOnce(ctx context.Context) (bool, error) {
	task, err := d.queue.Claim(ctx, d.now())
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	logger.Debug.Printf("running task %s (kind=%s, job=%s, attempt=%d)", task.ID, task.Kind, task.JobID, task.Attempts)

	handler, ok := d.handlers[task.Kind]
	if !ok {
		d.metrics.Task(task.Kind, "unhandled")
		return true, d.queue.Fail(ctx, task.ID, fmt.Sprintf("no handler for task kind %q", task.Kind), nil)
	}

	if runErr := handler(ctx, task); runErr != nil {
		if task.Attempts >= d.maxAttempts {
			logger.Error.Printf("task %s (%s) failed permanently after %d attempts: %v", task.ID, task.Kind, task.Attempts, runErr)
			d.metrics.Task(task.Kind, "failed")
			return true, d.queue.Fail(ctx, task.ID, runErr.Error(), nil)
		}
		retryAt := d.now().Add(d.backoff.Duration(task.Attempts))
		logger.Warn.Printf("task %s (%s) attempt %d failed, retrying at %s: %v",
			task.ID, task.Kind, task.Attempts, retryAt.Format(time.RFC3339), runErr)
		d.metrics.Task(task.Kind, "retry")
		return true, d.queue.Fail(ctx, task.ID, runErr.Error(), &retryAt)
	}

	d.metrics.Task(task.Kind, "completed")
	return true, d.queue.Complete(ctx, task.ID)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/clipper/internal/adapter/storage/jsonfile"
	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/port"
	"github.com/bnema/clipper/internal/port/mocks"
)

func newTestDispatcher(q *mocks.MockTaskQueue, clock *fakeClock) *Dispatcher {
	b := NewBackoff(time.Minute, time.Hour, 2)
	b.Jitter = false
	return NewDispatcher(q, 1, 3, b, nil).WithClock(clock.Now)
}

func TestDispatcher_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue", func(t *testing.T) {
		q := &mocks.MockTaskQueue{}
		clock := newFakeClock()
		q.On("Claim", mock.Anything, clock.Now()).Return(nil, nil).Once()

		ran, err := newTestDispatcher(q, clock).RunOnce(ctx)

		require.NoError(t, err)
		assert.False(t, ran)
	})

	t.Run("success completes task", func(t *testing.T) {
		q := &mocks.MockTaskQueue{}
		clock := newFakeClock()
		task := &domain.Task{ID: "t1", Kind: domain.TaskKindTriggerProcessing, JobID: "j1", Attempts: 1}
		q.On("Claim", mock.Anything, mock.Anything).Return(task, nil).Once()
		q.On("Complete", mock.Anything, "t1").Return(nil).Once()

		d := newTestDispatcher(q, clock)
		var got string
		d.Handle(domain.TaskKindTriggerProcessing, func(_ context.Context, t *domain.Task) error {
			got = t.JobID
			return nil
		})

		ran, err := d.RunOnce(ctx)
		require.NoError(t, err)
		assert.True(t, ran)
		assert.Equal(t, "j1", got)
		q.AssertExpectations(t)
	})

	t.Run("failure schedules retry with backoff", func(t *testing.T) {
		q := &mocks.MockTaskQueue{}
		clock := newFakeClock()
		task := &domain.Task{ID: "t1", Kind: domain.TaskKindAbortMultipart, Attempts: 2}
		want := clock.Now().Add(2 * time.Minute)
		q.On("Claim", mock.Anything, mock.Anything).Return(task, nil).Once()
		q.On("Fail", mock.Anything, "t1", "storage down", mock.MatchedBy(func(at *time.Time) bool {
			return at != nil && at.Equal(want)
		})).Return(nil).Once()

		d := newTestDispatcher(q, clock)
		d.Handle(domain.TaskKindAbortMultipart, func(context.Context, *domain.Task) error {
			return errors.New("storage down")
		})

		_, err := d.RunOnce(ctx)
		require.NoError(t, err)
		q.AssertExpectations(t)
	})

	t.Run("last attempt fails permanently", func(t *testing.T) {
		q := &mocks.MockTaskQueue{}
		clock := newFakeClock()
		task := &domain.Task{ID: "t1", Kind: domain.TaskKindAbortMultipart, Attempts: 3}
		q.On("Claim", mock.Anything, mock.Anything).Return(task, nil).Once()
		q.On("Fail", mock.Anything, "t1", "storage down", (*time.Time)(nil)).Return(nil).Once()

		d := newTestDispatcher(q, clock)
		d.Handle(domain.TaskKindAbortMultipart, func(context.Context, *domain.Task) error {
			return errors.New("storage down")
		})

		_, err := d.RunOnce(ctx)
		require.NoError(t, err)
		q.AssertExpectations(t)
	})

	t.Run("unknown kind", func(t *testing.T) {
		q := &mocks.MockTaskQueue{}
		clock := newFakeClock()
		q.On("Claim", mock.Anything, mock.Anything).Return(&domain.Task{ID: "t9", Kind: "mystery"}, nil).Once()
		q.On("Fail", mock.Anything, "t9", mock.AnythingOfType("string"), (*time.Time)(nil)).Return(nil).Once()

		ran, err := newTestDispatcher(q, clock).RunOnce(ctx)
		require.NoError(t, err)
		assert.True(t, ran)
		q.AssertExpectations(t)
	})

	t.Run("claim error", func(t *testing.T) {
		q := &mocks.MockTaskQueue{}
		clock := newFakeClock()
		q.On("Claim", mock.Anything, mock.Anything).Return(nil, errors.New("locked")).Once()

		_, err := newTestDispatcher(q, clock).RunOnce(ctx)
		assert.ErrorContains(t, err, "locked")
	})
}

type completionCounter struct {
	port.TaskQueue
	completed atomic.Int32
}

func (q *completionCounter) Complete(ctx context.Context, id string) error {
	err := q.TaskQueue.Complete(ctx, id)
	if err == nil {
		q.completed.Add(1)
	}
	return err
}

func TestDispatcher_StartDrainsOutbox(t *testing.T) {
	store := newTestStore(t)
	clock := newFakeClock()
	job := seedJob(t, store, clock, domain.InputTypeLocal)
	require.NoError(t, store.Atomic(context.Background(), func(tx port.Tx) error {
		return tx.EnqueueTask(context.Background(), domain.NewTriggerTask(job.ID, clock.Now()))
	}))

	queue := &completionCounter{TaskQueue: jsonfile.NewTaskQueue(store)}
	var handled atomic.Int32
	d := NewDispatcher(queue, 2, 3, NewBackoff(time.Second, time.Minute, 2), nil).WithClock(clock.Now)
	d.idleWait = 5 * time.Millisecond
	d.Handle(domain.TaskKindTriggerProcessing, func(context.Context, *domain.Task) error {
		handled.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	assert.Eventually(t, func() bool { return queue.completed.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	d.Wait()

	assert.Equal(t, int32(1), handled.Load())
	assert.Empty(t, pendingTasks(t, store))
}

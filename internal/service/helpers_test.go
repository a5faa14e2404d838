package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bnema/clipper/internal/adapter/storage/jsonfile"
	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/port"
)

const owner = "user-1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []JobEvent
}

func (p *recordingPublisher) Publish(_ string, ev JobEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) statuses() []domain.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.JobStatus, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Status)
	}
	return out
}

func newTestStore(t *testing.T) *jsonfile.Store {
	t.Helper()
	store, err := jsonfile.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

// seedJob stores a job moved through the given events.
func seedJob(t *testing.T, store port.Store, clock *fakeClock, inputType domain.InputType, events ...domain.Event) *domain.Job {
	t.Helper()
	p := domain.NewJobParams{UserID: owner, InputType: inputType, Config: domain.GenerationConfig{ClipCount: 5, Layout: "split"}}
	if inputType == domain.InputTypeYouTube {
		p.SourceURL = "https://youtu.be/xyz"
	}
	job, err := domain.NewJob(p, clock.Now())
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, job.Apply(ev, clock.Now()))
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func uploadedEvents() []domain.Event {
	return []domain.Event{domain.StartUpload{}, domain.FinishUpload{SourceKey: "uploads/user-1/src.mp4"}}
}

// pendingTasks drains every task the store currently holds.
func pendingTasks(t *testing.T, store *jsonfile.Store) []*domain.Task {
	t.Helper()
	q := jsonfile.NewTaskQueue(store)
	var tasks []*domain.Task
	for {
		task, err := q.Claim(context.Background(), time.Now().Add(24*time.Hour*365))
		require.NoError(t, err)
		if task == nil {
			return tasks
		}
		tasks = append(tasks, task)
	}
}

func getJob(t *testing.T, store port.Store, id string) *domain.Job {
	t.Helper()
	j, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

package service

import (
	"sync"

	"github.com/bnema/clipper/internal/domain"
)

// JobEvent is the snapshot pushed to live subscribers after a committed change.
type JobEvent struct {
	JobID      string            `json:"jobId"`
	Status     domain.JobStatus  `json:"status"`
	Progress   int               `json:"progress"`
	Step       string            `json:"step,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorStage domain.ErrorStage `json:"errorStage,omitempty"`
}

func NewJobEvent(j *domain.Job) JobEvent {
	return JobEvent{
		JobID:      j.ID,
		Status:     j.Status,
		Progress:   j.Progress,
		Step:       j.CurrentStep,
		Error:      j.Error,
		ErrorStage: j.ErrorStage,
	}
}

type EventPublisher interface {
	Publish(jobID string, event JobEvent)
}

type EventBus struct {
	subscribers map[string][]chan JobEvent
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan JobEvent),
	}
}

func (eb *EventBus) Subscribe(jobID string) chan JobEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan JobEvent, 16)
	eb.subscribers[jobID] = append(eb.subscribers[jobID], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(jobID string, ch chan JobEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[jobID]) == 0 {
		delete(eb.subscribers, jobID)
	}
}

func (eb *EventBus) Publish(jobID string, event JobEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[jobID] {
		select {
		case ch <- event:
		default:
			// slow subscriber, drop
		}
	}
}

func (eb *EventBus) SubscriberCount(jobID string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers[jobID])
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

type AttemptRecord struct {
	Count        int
	LastAttempt  time.Time
	BlockedUntil time.Time
}

// FailureLimiter blocks a client after too many failed attempts inside a
// window. Only failures count; a success resets the client.
type FailureLimiter struct {
	mu             sync.Mutex
	attempts       map[string]*AttemptRecord
	maxFailures    int
	windowDuration time.Duration
	blockDuration  time.Duration
	now            func() time.Time
}

func NewFailureLimiter(maxFailures int, windowDuration, blockDuration time.Duration) *FailureLimiter {
	return &FailureLimiter{
		attempts:       make(map[string]*AttemptRecord),
		maxFailures:    maxFailures,
		windowDuration: windowDuration,
		blockDuration:  blockDuration,
		now:            time.Now,
	}
}

func (l *FailureLimiter) WithClock(now func() time.Time) *FailureLimiter {
	l.now = now
	return l
}

// Allowed reports whether clientID may try again and, if not, for how long
// it stays blocked.
func (l *FailureLimiter) Allowed(clientID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.attempts[clientID]
	if !ok {
		return true, 0
	}
	now := l.now()
	if now.Before(record.BlockedUntil) {
		return false, record.BlockedUntil.Sub(now)
	}
	return true, 0
}

// Fail records a failed attempt and reports whether it tipped the client
// into a block.
func (l *FailureLimiter) Fail(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	record, ok := l.attempts[clientID]
	if !ok {
		record = &AttemptRecord{}
		l.attempts[clientID] = record
	}

	if now.Sub(record.LastAttempt) > l.windowDuration {
		record.Count = 0
	}
	record.Count++
	record.LastAttempt = now

	if record.Count >= l.maxFailures {
		record.Count = 0
		record.BlockedUntil = now.Add(l.blockDuration)
		return true
	}
	return false
}

func (l *FailureLimiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.attempts, clientID)
}

// Prune forgets clients that are neither blocked nor inside a window.
func (l *FailureLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for clientID, record := range l.attempts {
		if now.Sub(record.LastAttempt) > l.windowDuration*2 && now.After(record.BlockedUntil) {
			delete(l.attempts, clientID)
		}
	}
}

// Run prunes once a minute until ctx is cancelled.
func (l *FailureLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

func (l *FailureLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}

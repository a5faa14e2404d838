package domain

import "time"

type RetentionPolicy struct {
	FailedAfter    time.Duration
	ReadyAfter     time.Duration
	AbandonedAfter time.Duration
}

func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		FailedAfter:    7 * 24 * time.Hour,
		ReadyAfter:     30 * 24 * time.Hour,
		AbandonedAfter: 24 * time.Hour,
	}
}

// RetentionRule deletes jobs in Status created before now minus MaxAge.
type RetentionRule struct {
	Status JobStatus
	MaxAge time.Duration
}

func (p RetentionPolicy) Rules() []RetentionRule {
	return []RetentionRule{
		{Status: JobStatusFailed, MaxAge: p.FailedAfter},
		{Status: JobStatusReady, MaxAge: p.ReadyAfter},
		{Status: JobStatusCreated, MaxAge: p.AbandonedAfter},
	}
}

func (r RetentionRule) Cutoff(now time.Time) time.Time {
	return now.Add(-r.MaxAge)
}

// Expired reports whether any rule selects j.
func (p RetentionPolicy) Expired(j *Job, now time.Time) bool {
	for _, r := range p.Rules() {
		if j.Status == r.Status && j.CreatedAt.Before(r.Cutoff(now)) {
			return true
		}
	}
	return false
}

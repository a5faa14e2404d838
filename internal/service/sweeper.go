package service

import (
	"context"
	"errors"
	"time"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/infrastructure/logger"
	"github.com/bnema/clipper/internal/port"
)

type SweepReport struct {
	Deleted map[domain.JobStatus]int
	Errors  int
}

func (r SweepReport) Total() int {
	n := 0
	for _, c := range r.Deleted {
		n += c
	}
	return n
}

// Sweeper deletes terminal and abandoned jobs past their retention window.
// Clips of deleted jobs are left in place.
type Sweeper struct {
	store   port.Store
	policy  domain.RetentionPolicy
	metrics port.Metrics
	now     Clock
}

func NewSweeper(store port.Store, policy domain.RetentionPolicy, metrics port.Metrics) *Sweeper {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &Sweeper{store: store, policy: policy, metrics: metrics, now: systemClock}
}

func (s *Sweeper) WithClock(c Clock) *Sweeper {
	s.now = c
	return s
}

// Sweep makes one pass. A failure on one job is counted and logged, and the
// pass moves on.
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	now := s.now()
	report := SweepReport{Deleted: make(map[domain.JobStatus]int)}

	for _, rule := range s.policy.Rules() {
		if rule.MaxAge <= 0 {
			continue
		}
		cutoff := rule.Cutoff(now)
		jobs, err := s.store.ListJobsCreatedBefore(ctx, rule.Status, cutoff)
		if err != nil {
			logger.Error.Printf("sweep: list %s jobs: %v", rule.Status, err)
			report.Errors++
			s.metrics.SweepError()
			continue
		}

		for _, j := range jobs {
			if ctx.Err() != nil {
				return report
			}
			deleted, err := s.deleteIfExpired(ctx, j.ID, rule.Status, cutoff)
			if err != nil {
				logger.Error.Printf("sweep: delete job %s: %v", j.ID, err)
				report.Errors++
				s.metrics.SweepError()
				continue
			}
			if deleted {
				report.Deleted[rule.Status]++
			}
		}
		if n := report.Deleted[rule.Status]; n > 0 {
			s.metrics.SweepDeleted(rule.Status, n)
		}
	}

	if total := report.Total(); total > 0 || report.Errors > 0 {
		logger.Info.Printf("sweep: deleted %d jobs (%d errors)", total, report.Errors)
	}
	return report
}

// deleteIfExpired re-reads the job inside the transaction and deletes it only
// if it is still in status and older than cutoff. A job that moved on since
// it was listed is kept.
func (s *Sweeper) deleteIfExpired(ctx context.Context, id string, status domain.JobStatus, cutoff time.Time) (bool, error) {
	err := s.store.Atomic(ctx, func(tx port.Tx) error {
		j, err := tx.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if j.Status != status || !j.CreatedAt.Before(cutoff) {
			return errNoChange
		}
		return tx.DeleteJob(ctx, id)
	})
	if errors.Is(err, errNoChange) || errors.Is(err, domain.ErrNotFound) {
		logger.Debug.Printf("sweep: job %s changed since listing, kept", id)
		return false, nil
	}
	return err == nil, err
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.Sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

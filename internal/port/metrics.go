package port

import (
	"time"

	"github.com/bnema/clipper/internal/domain"
)

type Metrics interface {
	JobTransition(from, to domain.JobStatus)
	LockClaim(outcome string)
	UploadPart(outcome string)
	HandOff(outcome string, took time.Duration)
	SweepDeleted(status domain.JobStatus, n int)
	SweepError()
	Task(kind domain.TaskKind, outcome string)
}

type NopMetrics struct{}

func (NopMetrics) JobTransition(domain.JobStatus, domain.JobStatus) {}
func (NopMetrics) LockClaim(string)                                 {}
func (NopMetrics) UploadPart(string)                                {}
func (NopMetrics) HandOff(string, time.Duration)                    {}
func (NopMetrics) SweepDeleted(domain.JobStatus, int)               {}
func (NopMetrics) SweepError()                                      {}
func (NopMetrics) Task(domain.TaskKind, string)                     {}

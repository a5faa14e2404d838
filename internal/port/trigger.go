package port

import (
	"context"

	"github.com/bnema/clipper/internal/domain"
)

type TriggerRequest struct {
	JobID         string                  `json:"jobId"`
	SourceKey     string                  `json:"sourceKey"`
	Config        domain.GenerationConfig `json:"generationConfig"`
	WebhookSecret string                  `json:"webhookSecret"`
}

// ProcessingTrigger asks the external worker to start on a job. A nil error
// means the worker acknowledged the request.
type ProcessingTrigger interface {
	Trigger(ctx context.Context, req TriggerRequest) error
}

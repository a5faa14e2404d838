package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Clip struct {
	ID         string         `json:"id"`
	JobID      string         `json:"jobId"`
	Index      int            `json:"index"`
	StartTime  float64        `json:"startTime"`
	EndTime    float64        `json:"endTime"`
	StorageKey string         `json:"storageKey"`
	Title      string         `json:"title,omitempty"`
	Score      *float64       `json:"score,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ClipInput is a clip as reported by the worker on completion.
type ClipInput struct {
	Index      int            `json:"index"`
	StartTime  float64        `json:"startTime"`
	EndTime    float64        `json:"endTime"`
	StorageKey string         `json:"storageKey"`
	Title      string         `json:"title,omitempty"`
	Score      *float64       `json:"score,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (in ClipInput) Validate() error {
	if strings.TrimSpace(in.StorageKey) == "" {
		return fmt.Errorf("%w: clip %d has no storage key", ErrInvalidInput, in.Index)
	}
	if in.StartTime < 0 || in.EndTime <= in.StartTime {
		return fmt.Errorf("%w: clip %d has invalid bounds %.2f-%.2f", ErrInvalidInput, in.Index, in.StartTime, in.EndTime)
	}
	return nil
}

// NewClips validates every input before building any clip.
func NewClips(jobID string, inputs []ClipInput, now time.Time) ([]Clip, error) {
	clips := make([]Clip, 0, len(inputs))
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		clips = append(clips, Clip{
			ID:         uuid.NewString(),
			JobID:      jobID,
			Index:      in.Index,
			StartTime:  in.StartTime,
			EndTime:    in.EndTime,
			StorageKey: in.StorageKey,
			Title:      in.Title,
			Score:      in.Score,
			Metadata:   in.Metadata,
			CreatedAt:  now,
		})
	}
	return clips, nil
}

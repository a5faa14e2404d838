package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusAborted   SessionStatus = "ABORTED"
)

func ParseSessionStatus(s string) (SessionStatus, error) {
	switch SessionStatus(s) {
	case SessionStatusActive, SessionStatusCompleted, SessionStatusAborted:
		return SessionStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown session status %q", ErrInvalidInput, s)
}

// CompletedPart is one confirmed chunk. ETag is kept exactly as storage
// returned it, quotes included.
type CompletedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

type UploadSession struct {
	ID             string          `json:"id"`
	JobID          string          `json:"jobId"`
	ObjectKey      string          `json:"objectKey"`
	UploadID       string          `json:"uploadId"`
	PartSize       int64           `json:"partSize"`
	TotalParts     int             `json:"totalParts"`
	TotalBytes     int64           `json:"totalBytes"`
	CompletedParts []CompletedPart `json:"completedParts"`
	BytesUploaded  int64           `json:"bytesUploaded"`
	Status         SessionStatus   `json:"status"`
	AbortReason    string          `json:"abortReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

type NewSessionParams struct {
	JobID      string
	ObjectKey  string
	UploadID   string
	PartSize   int64
	TotalParts int
	TotalBytes int64
	MaxParts   int
}

// ExpectedParts is the number of partSize chunks needed to carry totalBytes.
func ExpectedParts(totalBytes, partSize int64) int {
	if partSize <= 0 || totalBytes <= 0 {
		return 0
	}
	return int((totalBytes + partSize - 1) / partSize)
}

// ValidateSessionShape checks the part layout before any storage call is made.
func ValidateSessionShape(partSize int64, totalParts int, totalBytes int64, maxParts int) error {
	switch {
	case partSize <= 0:
		return fmt.Errorf("%w: part size must be positive", ErrInvalidInput)
	case totalBytes <= 0:
		return fmt.Errorf("%w: total bytes must be positive", ErrInvalidInput)
	case totalParts <= 0:
		return fmt.Errorf("%w: total parts must be positive", ErrInvalidInput)
	case maxParts > 0 && totalParts > maxParts:
		return fmt.Errorf("%w: %d parts exceeds the limit of %d", ErrInvalidInput, totalParts, maxParts)
	}
	if want := ExpectedParts(totalBytes, partSize); want != totalParts {
		return fmt.Errorf("%w: %d bytes in %d-byte parts needs %d parts, got %d",
			ErrInvalidInput, totalBytes, partSize, want, totalParts)
	}
	return nil
}

func NewUploadSession(p NewSessionParams, now time.Time) (*UploadSession, error) {
	if p.JobID == "" || strings.TrimSpace(p.ObjectKey) == "" || strings.TrimSpace(p.UploadID) == "" {
		return nil, fmt.Errorf("%w: job id, object key and upload id are required", ErrInvalidInput)
	}
	if err := ValidateSessionShape(p.PartSize, p.TotalParts, p.TotalBytes, p.MaxParts); err != nil {
		return nil, err
	}
	return &UploadSession{
		ID:             uuid.NewString(),
		JobID:          p.JobID,
		ObjectKey:      p.ObjectKey,
		UploadID:       p.UploadID,
		PartSize:       p.PartSize,
		TotalParts:     p.TotalParts,
		TotalBytes:     p.TotalBytes,
		CompletedParts: []CompletedPart{},
		Status:         SessionStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *UploadSession) IsActive() bool {
	return s.Status == SessionStatusActive
}

func (s *UploadSession) HasPart(partNumber int) bool {
	for _, p := range s.CompletedParts {
		if p.PartNumber == partNumber {
			return true
		}
	}
	return false
}

// RecordPart stores a confirmed part. A part number seen before is reported
// with recorded=false and nothing changes, whatever its etag.
func (s *UploadSession) RecordPart(partNumber int, etag string, size int64, now time.Time) (recorded bool, err error) {
	if !s.IsActive() {
		return false, ErrSessionNotActive
	}
	if partNumber < 1 || partNumber > s.TotalParts {
		return false, fmt.Errorf("%w: part number %d outside 1..%d", ErrInvalidInput, partNumber, s.TotalParts)
	}
	if etag == "" {
		return false, fmt.Errorf("%w: etag is required", ErrInvalidInput)
	}
	if size < 0 {
		return false, fmt.Errorf("%w: part size cannot be negative", ErrInvalidInput)
	}
	if s.HasPart(partNumber) {
		return false, nil
	}

	s.CompletedParts = append(s.CompletedParts, CompletedPart{PartNumber: partNumber, ETag: etag, Size: size})
	s.BytesUploaded += size
	s.UpdatedAt = now
	return true, nil
}

func (s *UploadSession) MissingParts() []int {
	seen := make(map[int]struct{}, len(s.CompletedParts))
	for _, p := range s.CompletedParts {
		seen[p.PartNumber] = struct{}{}
	}
	missing := make([]int, 0, s.TotalParts-len(seen))
	for n := 1; n <= s.TotalParts; n++ {
		if _, ok := seen[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// CheckComplete returns an *IncompletePartsError until every part is recorded.
func (s *UploadSession) CheckComplete() error {
	if !s.IsActive() {
		return ErrSessionNotActive
	}
	if missing := len(s.MissingParts()); missing > 0 {
		return &IncompletePartsError{Missing: missing, Total: s.TotalParts}
	}
	return nil
}

func (s *UploadSession) Complete(now time.Time) error {
	if err := s.CheckComplete(); err != nil {
		return err
	}
	s.Status = SessionStatusCompleted
	s.UpdatedAt = now
	s.CompletedAt = &now
	return nil
}

// Abort reports false when the session was no longer active.
func (s *UploadSession) Abort(reason string, now time.Time) bool {
	if !s.IsActive() {
		return false
	}
	s.Status = SessionStatusAborted
	s.AbortReason = reason
	s.UpdatedAt = now
	return true
}

// SortedParts returns a copy ordered by part number, the order storage
// expects when the multipart upload is finalized.
func (s *UploadSession) SortedParts() []CompletedPart {
	parts := make([]CompletedPart, len(s.CompletedParts))
	copy(parts, s.CompletedParts)
	sort.Slice(parts, func(a, b int) bool { return parts[a].PartNumber < parts[b].PartNumber })
	return parts
}

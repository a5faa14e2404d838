package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, totalParts int) *UploadSession {
	t.Helper()
	s, err := NewUploadSession(NewSessionParams{
		JobID:      "job-1",
		ObjectKey:  "uploads/job-1/source.mp4",
		UploadID:   "upload-1",
		PartSize:   10,
		TotalParts: totalParts,
		TotalBytes: int64(totalParts * 10),
	}, t0)
	require.NoError(t, err)
	return s
}

func TestExpectedParts(t *testing.T) {
	tests := []struct {
		total, size int64
		want        int
	}{
		{100, 10, 10},
		{101, 10, 11},
		{1, 10, 1},
		{0, 10, 0},
		{10, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpectedParts(tt.total, tt.size), "%d/%d", tt.total, tt.size)
	}
}

func TestValidateSessionShape(t *testing.T) {
	assert.NoError(t, ValidateSessionShape(10, 3, 25, 0))
	assert.ErrorIs(t, ValidateSessionShape(10, 2, 25, 0), ErrInvalidInput)
	assert.ErrorIs(t, ValidateSessionShape(10, 3, 25, 2), ErrInvalidInput)
	assert.ErrorIs(t, ValidateSessionShape(0, 1, 25, 0), ErrInvalidInput)
	assert.ErrorIs(t, ValidateSessionShape(10, 0, 0, 0), ErrInvalidInput)
}

func TestUploadSession_RecordPartIsIdempotent(t *testing.T) {
	s := newTestSession(t, 3)

	recorded, err := s.RecordPart(1, `"etag-1"`, 10, t0)
	require.NoError(t, err)
	assert.True(t, recorded)

	recorded, err = s.RecordPart(1, `"etag-1"`, 10, t0)
	require.NoError(t, err)
	assert.False(t, recorded)

	recorded, err = s.RecordPart(1, "different", 99, t0)
	require.NoError(t, err)
	assert.False(t, recorded)

	assert.Len(t, s.CompletedParts, 1)
	assert.Equal(t, int64(10), s.BytesUploaded)
	assert.Equal(t, `"etag-1"`, s.CompletedParts[0].ETag, "etag stored verbatim")
}

func TestUploadSession_RecordPartValidation(t *testing.T) {
	s := newTestSession(t, 3)

	_, err := s.RecordPart(0, "e", 1, t0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.RecordPart(4, "e", 1, t0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.RecordPart(1, "", 1, t0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.RecordPart(1, "e", -1, t0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.True(t, s.Abort("user", t0))
	_, err = s.RecordPart(1, "e", 1, t0)
	assert.ErrorIs(t, err, ErrSessionNotActive)
}

func TestUploadSession_CompleteRequiresFullCoverage(t *testing.T) {
	s := newTestSession(t, 3)
	_, _ = s.RecordPart(3, "e3", 10, t0)
	_, _ = s.RecordPart(1, "e1", 10, t0)

	err := s.Complete(t0)
	var ipe *IncompletePartsError
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, 1, ipe.Missing)
	assert.Equal(t, 3, ipe.Total)
	assert.Equal(t, SessionStatusActive, s.Status)
	assert.Equal(t, []int{2}, s.MissingParts())

	_, _ = s.RecordPart(2, "e2", 10, t0)
	require.NoError(t, s.Complete(t0.Add(time.Second)))
	assert.Equal(t, SessionStatusCompleted, s.Status)
	require.NotNil(t, s.CompletedAt)

	parts := s.SortedParts()
	assert.Equal(t, []int{1, 2, 3}, []int{parts[0].PartNumber, parts[1].PartNumber, parts[2].PartNumber})
	assert.Equal(t, 3, s.CompletedParts[0].PartNumber, "original order untouched")
}

func TestUploadSession_Abort(t *testing.T) {
	s := newTestSession(t, 2)
	assert.True(t, s.Abort("network", t0))
	assert.Equal(t, SessionStatusAborted, s.Status)
	assert.Equal(t, "network", s.AbortReason)
	assert.False(t, s.Abort("again", t0))
	assert.Equal(t, "network", s.AbortReason)
}

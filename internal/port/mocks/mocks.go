package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/port"
)

var (
	_ port.ObjectStorage     = (*MockObjectStorage)(nil)
	_ port.ProcessingTrigger = (*MockTrigger)(nil)
	_ port.TaskQueue         = (*MockTaskQueue)(nil)
)

type MockObjectStorage struct {
	mock.Mock
}

func (m *MockObjectStorage) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	args := m.Called(ctx, key, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockObjectStorage) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, uploadID, partNumber, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockObjectStorage) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []domain.CompletedPart) (string, error) {
	args := m.Called(ctx, key, uploadID, parts)
	return args.String(0), args.Error(1)
}

func (m *MockObjectStorage) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	args := m.Called(ctx, key, uploadID)
	return args.Error(0)
}

func (m *MockObjectStorage) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

// ExpectPresignAny answers every presign call with a URL built from the key.
func (m *MockObjectStorage) ExpectPresignAny() {
	m.On("PresignUploadPart", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("https://storage.test/part", nil).Maybe()
	m.On("PresignDownload", mock.Anything, mock.Anything, mock.Anything).
		Return("https://storage.test/download", nil).Maybe()
}

type MockTrigger struct {
	mock.Mock
}

func (m *MockTrigger) Trigger(ctx context.Context, req port.TriggerRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

type MockTaskQueue struct {
	mock.Mock
}

func (m *MockTaskQueue) Claim(ctx context.Context, now time.Time) (*domain.Task, error) {
	args := m.Called(ctx, now)
	t, _ := args.Get(0).(*domain.Task)
	return t, args.Error(1)
}

func (m *MockTaskQueue) Complete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTaskQueue) Fail(ctx context.Context, id string, errMsg string, retryAt *time.Time) error {
	args := m.Called(ctx, id, errMsg, retryAt)
	return args.Error(0)
}

func (m *MockTaskQueue) ResetStalled(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

package port

import (
	"context"
	"time"

	"github.com/bnema/clipper/internal/domain"
)

type ObjectStorage interface {
	CreateMultipartUpload(ctx context.Context, key, contentType string) (uploadID string, err error)
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error)
	// CompleteMultipartUpload returns the key of the assembled object.
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []domain.CompletedPart) (string, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

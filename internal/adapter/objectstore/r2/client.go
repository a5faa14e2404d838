package r2

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/infrastructure/logger"
	"github.com/bnema/clipper/internal/port"
)

type Config struct {
	// Endpoint is the S3-compatible API URL, e.g. https://<account>.r2.cloudflarestorage.com.
	// Empty means AWS S3 itself.
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	MaxRetries      int
	Timeout         time.Duration
}

// Client talks to an S3-compatible bucket. Uploads never pass through this
// process: it only opens, closes and signs multipart uploads.
type Client struct {
	s3      *s3.Client
	presign *s3.PresignClient
	bucket  string
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}

	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Client{
		s3:      client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

func buildAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	if cfg.MaxRetries > 0 {
		optFns = append(optFns, awsconfig.WithRetryMaxAttempts(cfg.MaxRetries))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	optFns = append(optFns, awsconfig.WithHTTPClient(&http.Client{Timeout: timeout}))

	return awsconfig.LoadDefaultConfig(ctx, optFns...)
}

func (c *Client) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := c.s3.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", fmt.Errorf("create multipart upload: %w", err)
	}
	if aws.ToString(out.UploadId) == "" {
		return "", errors.New("create multipart upload: storage returned no upload id")
	}

	logger.Debug.Printf("multipart upload opened for %s", logger.SanitizeForLog(key))
	return aws.ToString(out.UploadId), nil
}

func (c *Client) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error) {
	req, err := c.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign part %d: %w", partNumber, err)
	}
	return req.URL, nil
}

// CompleteMultipartUpload passes the ETags through exactly as the client
// reported them; storage rejects re-quoted values.
func (c *Client) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []domain.CompletedPart) (string, error) {
	completed := make([]s3types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, s3types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.PartNumber)),
		})
	}

	out, err := c.s3.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if isNoSuchUpload(err) {
		return "", fmt.Errorf("complete multipart upload %s: %w", uploadID, domain.ErrUploadGone)
	}
	if err != nil {
		return "", fmt.Errorf("complete multipart upload: %w", err)
	}

	if finalKey := aws.ToString(out.Key); finalKey != "" {
		return finalKey, nil
	}
	return key, nil
}

// AbortMultipartUpload treats an upload storage no longer knows about as
// already aborted.
func (c *Client) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := c.s3.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil && !isNoSuchUpload(err) {
		return fmt.Errorf("abort multipart upload: %w", err)
	}
	return nil
}

func (c *Client) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return req.URL, nil
}

// isNoSuchUpload also checks the raw error code: CompleteMultipartUpload has
// no modeled NoSuchUpload error in the SDK.
func isNoSuchUpload(err error) bool {
	if err == nil {
		return false
	}
	var nsu *s3types.NoSuchUpload
	var nf *s3types.NotFound
	if errors.As(err, &nsu) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchUpload"
}

var _ port.ObjectStorage = (*Client)(nil)

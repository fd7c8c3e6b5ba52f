package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/domrelay/domrelay/internal/relayserver/core"
	"github.com/domrelay/domrelay/pkg/log"
	"github.com/domrelay/domrelay/pkg/options"
)

var _ core.ArtifactStorage = (*MinIO)(nil)

// MinIO keeps evidence artifacts in an S3-compatible bucket.
type MinIO struct {
	client     *minio.Client
	bucketName string
	region     string

	// bucketOnce guards the lazy bucket check.
	bucketOnce sync.Once
	bucketErr  error
}

// NewMinIO creates the S3 client. No request is made until the first presign.
func NewMinIO(opts *options.S3Options) (*MinIO, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIO{
		client:     client,
		bucketName: opts.BucketName,
		region:     opts.Region,
	}, nil
}

// CheckBucket creates the evidence bucket when it does not exist yet.
func (p *MinIO) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating...", "bucket", p.bucketName)
		if err := p.client.MakeBucket(ctx, p.bucketName, minio.MakeBucketOptions{Region: p.region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (p *MinIO) ensureBucket(ctx context.Context) error {
	p.bucketOnce.Do(func() { p.bucketErr = p.CheckBucket(ctx) })
	return p.bucketErr
}

func (p *MinIO) PresignUpload(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	if err := p.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("failed to connect to object storage: %w", err)
	}
	u, err := p.client.PresignedPutObject(ctx, p.bucketName, objectKey, expiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign upload: %w", err)
	}
	return u.String(), nil
}

func (p *MinIO) PresignDownload(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := p.client.PresignedGetObject(ctx, p.bucketName, objectKey, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign download: %w", err)
	}
	return u.String(), nil
}

package storage

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOUploader puts objects into an S3-compatible server
type MinIOUploader struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinIOUploader creates a MinIO uploader
func NewMinIOUploader(config *MinIOConfig) (*MinIOUploader, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &MinIOUploader{client: client, bucket: config.Bucket, region: config.Region}, nil
}

// Destination returns minio://bucket
func (u *MinIOUploader) Destination() string {
	return "minio://" + u.bucket
}

// EnsureBucket creates the bucket when it does not exist yet
func (u *MinIOUploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	return u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: u.region})
}

// PutFile uploads a local file to key
func (u *MinIOUploader) PutFile(ctx context.Context, key, localPath string) error {
	_, err := u.client.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to MinIO: %w", key, err)
	}
	return nil
}

package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSUploader puts objects into a Google Cloud Storage bucket
type GCSUploader struct {
	client     *gcs.Client
	bucketName string
}

// NewGCSUploader creates a GCS uploader. Without a credentials file the
// application default credentials are used.
func NewGCSUploader(ctx context.Context, config *GCSConfig) (*GCSUploader, error) {
	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSUploader{client: client, bucketName: config.Bucket}, nil
}

// Destination returns gs://bucket
func (u *GCSUploader) Destination() string {
	return "gs://" + u.bucketName
}

// PutFile streams a local file to key
func (u *GCSUploader) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := u.client.Bucket(u.bucketName).Object(key).NewWriter(ctx)
	w.ContentType = "application/gzip"

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("failed to write %s to GCS: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to upload %s to GCS: %w", key, err)
	}
	return nil
}

// Close releases the client
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

package storage

import (
	"context"
	"fmt"

	"mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/logging"
)

// Options carries the run-level settings that shape a backend
type Options struct {
	DeleteLocal   bool
	RetentionDays int
	Logger        *logging.Logger
}

// New creates the backend selected by config.Type
func New(ctx context.Context, config Config, opts Options) (Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.NewConfigurationError("invalid storage configuration", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	switch config.Type {
	case TypeGit:
		return NewRepository(ExecGit{Binary: config.Git.Binary}, config.Git.Remote, opts.RetentionDays, logger), nil

	case TypeS3:
		uploader, err := NewS3Uploader(config.S3)
		if err != nil {
			return nil, err
		}
		return NewObjectStore(uploader, config.S3.Prefix, opts.DeleteLocal, logger), nil

	case TypeGCS:
		uploader, err := NewGCSUploader(ctx, config.GCS)
		if err != nil {
			return nil, err
		}
		return NewObjectStore(uploader, config.GCS.Prefix, opts.DeleteLocal, logger), nil

	case TypeAzure:
		uploader, err := NewAzureUploader(config.Azure)
		if err != nil {
			return nil, err
		}
		return NewObjectStore(uploader, config.Azure.Prefix, opts.DeleteLocal, logger), nil

	case TypeMinIO:
		uploader, err := NewMinIOUploader(config.MinIO)
		if err != nil {
			return nil, err
		}
		return NewObjectStore(uploader, config.MinIO.Prefix, opts.DeleteLocal, logger), nil

	case TypeSFTP:
		dialer := NewSFTPDialer(config.SFTP, logger)
		return NewRemoteSync(dialer, config.SFTP.RemoteDir, opts.DeleteLocal, logger), nil

	case TypeLocal:
		dialer := LocalDialer{Root: config.Local.Path}
		return NewRemoteSync(dialer, config.Local.Path, opts.DeleteLocal, logger), nil

	default:
		return nil, errors.NewConfigurationError(fmt.Sprintf("unsupported storage type: %s", config.Type), nil)
	}
}

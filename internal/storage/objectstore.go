package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"mysql-backup-sync/internal/backup"
	"mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/logging"
)

// Uploader is an object store client able to put one local file under a key
type Uploader interface {
	// Destination describes the bucket or container, e.g. s3://bucket
	Destination() string
	PutFile(ctx context.Context, key, localPath string) error
}

// bucketEnsurer is implemented by uploaders that can create their bucket
type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// ObjectStore copies the directory's artifacts to <prefix>/<YYYYMMDD>/<relpath>
// in a single transfer. The transfer stops at the first failed object and the
// transcript of what was attempted becomes the error detail.
type ObjectStore struct {
	uploader    Uploader
	prefix      string
	deleteLocal bool
	now         func() time.Time
	logger      *logging.Logger
}

// NewObjectStore wraps an uploader
func NewObjectStore(uploader Uploader, prefix string, deleteLocal bool, logger *logging.Logger) *ObjectStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ObjectStore{
		uploader:    uploader,
		prefix:      strings.Trim(prefix, "/"),
		deleteLocal: deleteLocal,
		now:         time.Now,
		logger:      logger,
	}
}

// Name returns the destination of the transfer
func (o *ObjectStore) Name() string {
	return o.uploader.Destination()
}

// Close releases the uploader's client when it holds one
func (o *ObjectStore) Close() error {
	if c, ok := o.uploader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Key builds the object key for a file relative to the backup directory
func (o *ObjectStore) Key(date time.Time, rel string) string {
	return path.Join(o.prefix, date.Format(backup.DateLayout), filepath.ToSlash(rel))
}

// Upload transfers every compressed artifact under dir
func (o *ObjectStore) Upload(ctx context.Context, dir string) error {
	files, err := artifactFiles(dir)
	if err != nil {
		return errors.NewUploadError(fmt.Sprintf("cannot scan %s", dir), err).WithContext("path", dir)
	}

	if e, ok := o.uploader.(bucketEnsurer); ok {
		if err := e.EnsureBucket(ctx); err != nil {
			return errors.NewUploadError(fmt.Sprintf("bucket for %s unavailable", o.uploader.Destination()), err)
		}
	}

	today := o.now()
	var transcript bytes.Buffer
	uploaded := 0

	for _, rel := range files {
		key := o.Key(today, rel)
		dest := o.uploader.Destination() + "/" + key
		local := filepath.Join(dir, rel)

		if err := o.uploader.PutFile(ctx, key, local); err != nil {
			fmt.Fprintf(&transcript, "upload failed: %s to %s: %v\n", local, dest, err)
			o.logger.WithFields(map[string]interface{}{
				"path":        local,
				"destination": dest,
			}).WithError(err).Error("Object upload failed")

			return errors.NewUploadError(
				fmt.Sprintf("transfer to %s failed after %d of %d objects:\n%s",
					o.uploader.Destination(), uploaded, len(files), strings.TrimSpace(transcript.String())),
				err,
			).WithContext("path", local)
		}

		fmt.Fprintf(&transcript, "upload: %s to %s\n", local, dest)
		o.logger.WithField("destination", dest).Debug("Uploaded object")
		uploaded++
	}

	o.logger.WithFields(map[string]interface{}{
		"destination": o.uploader.Destination(),
		"objects":     uploaded,
	}).Info("Object store transfer completed")

	return nil
}

// Cleanup deletes local artifacts when delete_local is enabled
func (o *ObjectStore) Cleanup(_ context.Context, dir string) error {
	if !o.deleteLocal {
		return nil
	}
	return removeArtifacts(dir, o.logger)
}

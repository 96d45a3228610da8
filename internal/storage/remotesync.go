package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/logging"
)

// RemoteFS is a remote directory tree reachable file by file
type RemoteFS interface {
	MkdirAll(dir string) error
	Put(ctx context.Context, localPath, remotePath string) error
	Close() error
}

// Dialer opens a RemoteFS session
type Dialer interface {
	Dial(ctx context.Context) (RemoteFS, error)
	// Destination describes the remote root, e.g. sftp://host/dir
	Destination() string
}

// RemoteSync mirrors artifacts one file at a time. A failed file is logged
// and the walk continues; the upload fails once every file was attempted.
type RemoteSync struct {
	dialer      Dialer
	remoteDir   string
	deleteLocal bool
	logger      *logging.Logger
}

// NewRemoteSync creates a remote sync backend rooted at remoteDir
func NewRemoteSync(dialer Dialer, remoteDir string, deleteLocal bool, logger *logging.Logger) *RemoteSync {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RemoteSync{
		dialer:      dialer,
		remoteDir:   remoteDir,
		deleteLocal: deleteLocal,
		logger:      logger,
	}
}

// Name returns the remote destination
func (r *RemoteSync) Name() string {
	return r.dialer.Destination()
}

// Upload copies every compressed artifact under dir
func (r *RemoteSync) Upload(ctx context.Context, dir string) error {
	files, err := artifactFiles(dir)
	if err != nil {
		return errors.NewUploadError(fmt.Sprintf("cannot scan %s", dir), err).WithContext("path", dir)
	}

	remote, err := r.dialer.Dial(ctx)
	if err != nil {
		return errors.NewUploadError(fmt.Sprintf("cannot connect to %s", r.dialer.Destination()), err)
	}
	defer remote.Close()

	failed := 0
	for _, rel := range files {
		local := filepath.Join(dir, rel)
		target := path.Join(r.remoteDir, filepath.ToSlash(rel))
		log := r.logger.WithFields(map[string]interface{}{
			"path":   local,
			"remote": target,
		})

		if err := remote.MkdirAll(path.Dir(target)); err != nil {
			log.WithError(err).Error("Failed to create remote directory")
			failed++
			continue
		}
		if err := remote.Put(ctx, local, target); err != nil {
			log.WithError(err).Error("Failed to copy artifact")
			failed++
			continue
		}
		log.Debug("Artifact copied")
	}

	if failed > 0 {
		return errors.NewUploadError(
			fmt.Sprintf("%d of %d artifacts failed to copy to %s", failed, len(files), r.dialer.Destination()),
			nil,
		).WithContext("failed", failed)
	}

	r.logger.WithFields(map[string]interface{}{
		"destination": r.dialer.Destination(),
		"files":       len(files),
	}).Info("Remote sync completed")
	return nil
}

// Cleanup deletes local artifacts when delete_local is enabled
func (r *RemoteSync) Cleanup(_ context.Context, dir string) error {
	if !r.deleteLocal {
		return nil
	}
	return removeArtifacts(dir, r.logger)
}

// Package storage ships finished artifacts to a remote backend. Every backend
// implements the same Upload/Cleanup contract; the orchestrator never looks
// past it.
package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"mysql-backup-sync/internal/backup"
	"mysql-backup-sync/internal/logging"
)

// Backend uploads the artifacts found in a backup directory
type Backend interface {
	// Name identifies the backend in logs and metrics
	Name() string
	// Upload transfers the directory's compressed artifacts
	Upload(ctx context.Context, dir string) error
	// Cleanup removes local artifacts after a confirmed upload, when enabled
	Cleanup(ctx context.Context, dir string) error
}

// Close releases whatever client b holds. Backends without one are a no-op.
func Close(b Backend) error {
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// artifactFiles walks dir and returns every compressed artifact with its path
// relative to dir. Other files and any .git directory are ignored.
func artifactFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !backup.IsArtifact(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}

// removeArtifacts deletes the compressed artifacts under dir and nothing else
func removeArtifacts(dir string, logger *logging.Logger) error {
	files, err := artifactFiles(dir)
	if err != nil {
		return err
	}

	removed := 0
	var firstErr error
	for _, rel := range files {
		path := filepath.Join(dir, rel)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.WithField("path", path).WithError(err).Warn("Failed to delete local artifact")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}

	logger.WithFields(map[string]interface{}{
		"dir":     dir,
		"removed": removed,
	}).Info("Local artifacts deleted after upload")

	return firstErr
}

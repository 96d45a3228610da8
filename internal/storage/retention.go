package storage

import (
	"os"
	"path/filepath"
	"time"

	"mysql-backup-sync/internal/backup"
	"mysql-backup-sync/internal/logging"
)

// KeepForever disables retention
const KeepForever = -1

// RetentionCutoff returns the first date that is kept. Artifacts dated before
// it are expired. Zero days keeps only today.
func RetentionCutoff(now time.Time, days int) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return today.AddDate(0, 0, -days)
}

// ApplyRetention deletes compressed artifacts under dir whose file name date
// is older than days. A negative policy deletes nothing. Files that do not
// carry an artifact name are never touched.
func ApplyRetention(dir string, days int, now time.Time, logger *logging.Logger) ([]string, error) {
	if days < 0 {
		return nil, nil
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	files, err := artifactFiles(dir)
	if err != nil {
		return nil, err
	}

	cutoff := RetentionCutoff(now, days)
	var removed []string
	var firstErr error

	for _, rel := range files {
		date, db, ok := backup.ParseArtifactName(rel)
		if !ok {
			continue
		}
		day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, cutoff.Location())
		if !day.Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, rel)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.WithField("path", path).WithError(err).Warn("Failed to delete expired artifact")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		logger.WithFields(map[string]interface{}{
			"path":     path,
			"database": db,
			"date":     date.Format(backup.DateLayout),
		}).Debug("Expired artifact deleted")
		removed = append(removed, rel)
	}

	if len(removed) > 0 {
		logger.WithFields(map[string]interface{}{
			"removed":        len(removed),
			"retention_days": days,
		}).Info("Retention policy applied")
	}

	return removed, firstErr
}

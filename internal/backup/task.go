package backup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"

	"mysql-backup-sync/internal/compression"
	"mysql-backup-sync/internal/credentials"
	"mysql-backup-sync/internal/database"
	"mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/fingerprint"
	"mysql-backup-sync/internal/logging"
)

// Runner backs up one database of one host
type Runner interface {
	Run(ctx context.Context, target database.Target, db string) Outcome
}

// TaskOptions configures a Task
type TaskOptions struct {
	OutputDir string
	Dumper    database.Dumper
	Stager    *credentials.Stager
	// Detector enables incremental mode; nil disables it
	Detector *fingerprint.Detector
	Logger   *logging.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Task dumps, deduplicates and compresses a single database
type Task struct {
	outputDir string
	dumper    database.Dumper
	stager    *credentials.Stager
	detector  *fingerprint.Detector
	logger    *logging.Logger
	now       func() time.Time
}

// NewTask creates a task runner
func NewTask(opts TaskOptions) *Task {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Task{
		outputDir: opts.OutputDir,
		dumper:    opts.Dumper,
		stager:    opts.Stager,
		detector:  opts.Detector,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// Run executes the task. It never panics on external failures; every problem
// is reported through the outcome.
func (t *Task) Run(ctx context.Context, target database.Target, db string) Outcome {
	start := time.Now()
	today := t.now()
	outcome := Outcome{Host: target.Host, Database: db}
	log := t.logger.With("host", target.Host).With("database", db)

	session := t.stager.NewSession()
	defer func() {
		if err := session.Close(); err != nil {
			log.WithError(err).Warn("Failed to remove credential file")
		}
	}()

	fail := func(err error) Outcome {
		outcome.Status = StatusFailed
		outcome.Err = err
		outcome.Duration = time.Since(start)
		log.WithError(err).Error("Backup task failed")
		return outcome
	}

	cred, err := session.Stage(target)
	if err != nil {
		return fail(errors.NewDumpError("cannot stage credentials", err))
	}

	dumpPath := ArtifactPath(t.outputDir, today, db, false)
	if err := t.dumper.Dump(ctx, db, cred.Path, dumpPath); err != nil {
		os.Remove(dumpPath)
		return fail(err)
	}

	info, err := os.Stat(dumpPath)
	if err != nil {
		os.Remove(dumpPath)
		return fail(errors.NewDumpError("dump output missing", err).WithContext("path", dumpPath))
	}
	if info.Size() == 0 {
		os.Remove(dumpPath)
		return fail(errors.NewDumpError(fmt.Sprintf("dump of %s produced an empty file", db), nil).
			WithContext("path", dumpPath))
	}

	if t.detector != nil {
		previous := ArtifactPath(t.outputDir, today.AddDate(0, 0, -1), db, true)
		unchanged, err := t.detector.IsUnchanged(dumpPath, previous)
		if err != nil {
			log.WithError(err).Warn("Change detection failed, keeping the new dump")
		} else if unchanged {
			if err := os.Remove(dumpPath); err != nil {
				log.WithError(err).Warn("Failed to remove unchanged dump")
			}
			outcome.Status = StatusSkipped
			outcome.Duration = time.Since(start)
			log.Info("Database unchanged since previous backup, skipping")
			return outcome
		}
	}

	gzPath := ArtifactPath(t.outputDir, today, db, true)
	stats, err := compression.CompressFile(dumpPath, gzPath, gzip.BestCompression)
	os.Remove(dumpPath)
	if err != nil {
		return fail(err)
	}

	outcome.Status = StatusSuccess
	outcome.Artifact = &Artifact{
		Date:       today,
		Database:   db,
		Path:       gzPath,
		SizeBytes:  stats.CompressedSize,
		Compressed: true,
	}
	outcome.Duration = time.Since(start)

	log.WithFields(map[string]interface{}{
		"path":              gzPath,
		"original_size":     stats.OriginalSize,
		"compressed_size":   stats.CompressedSize,
		"compression_ratio": fmt.Sprintf("%.2f", stats.CompressionRatio),
		"duration":          outcome.Duration.String(),
	}).Debug("Artifact compressed")
	log.Successf("Backed up %s", db)

	return outcome
}

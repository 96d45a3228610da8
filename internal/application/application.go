// Package application wires the backup run together: it validates the
// configuration, holds the host lock, schedules the per-database tasks,
// ships the artifacts to the storage backend and exports run metrics.
package application

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"mysql-backup-sync/internal/backup"
	"mysql-backup-sync/internal/config"
	"mysql-backup-sync/internal/credentials"
	"mysql-backup-sync/internal/database"
	appErrors "mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/fingerprint"
	"mysql-backup-sync/internal/lock"
	"mysql-backup-sync/internal/logging"
	"mysql-backup-sync/internal/metrics"
	"mysql-backup-sync/internal/storage"
)

// BackendFactory builds the storage backend for a run
type BackendFactory func(ctx context.Context, cfg storage.Config, opts storage.Options) (storage.Backend, error)

// Dependencies lets callers replace the external capabilities of a run.
// Zero values select the production implementations.
type Dependencies struct {
	Inspector  database.Inspector
	Dumper     database.Dumper
	NewBackend BackendFactory
	Finalizer  *appErrors.Finalizer
	// CredentialDir defaults to os.TempDir()
	CredentialDir string
	Now           func() time.Time
}

// Result describes a finished run
type Result struct {
	RunID     string
	Report    *backup.Report
	Backend   string
	UploadErr error
	Duration  time.Duration
}

// Orchestrator runs one backup cycle
type Orchestrator struct {
	config     *config.Config
	logger     *logging.Logger
	inspector  database.Inspector
	dumper     database.Dumper
	newBackend BackendFactory
	finalizer  *appErrors.Finalizer
	stager     *credentials.Stager
	now        func() time.Time
	newRunID   func() string
}

// New creates an orchestrator for cfg
func New(cfg *config.Config, logger *logging.Logger, deps Dependencies) *Orchestrator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if deps.Inspector == nil {
		deps.Inspector = database.NewService(logger)
	}
	if deps.Dumper == nil {
		deps.Dumper = database.NewMysqldumpDumper(cfg.Dump.Binary, cfg.Dump.ExtraArgs, logger)
	}
	if deps.NewBackend == nil {
		deps.NewBackend = storage.New
	}
	if deps.Finalizer == nil {
		deps.Finalizer = appErrors.NewFinalizer()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Orchestrator{
		config:     cfg,
		logger:     logger,
		inspector:  deps.Inspector,
		dumper:     deps.Dumper,
		newBackend: deps.NewBackend,
		finalizer:  deps.Finalizer,
		stager:     credentials.NewStager(deps.CredentialDir),
		now:        deps.Now,
		newRunID:   func() string { return uuid.New().String() },
	}
}

// Run executes a full backup cycle. The returned error is nil on success,
// a fatal RunError if the run could not start, INTERRUPTED if ctx was
// cancelled or a signal arrived, or a RUN_FAILED error wrapping the catalog
// of failed units. Use errors.ExitCode to map it to an exit status.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	started := o.now()
	runID := o.newRunID()
	logger := o.logger.With("run_id", runID)
	result := &Result{RunID: runID, Report: backup.NewReport(runID)}

	if err := o.config.Validate(); err != nil {
		logger.WithError(err).Error("Configuration is inconsistent, nothing was backed up")
		return result, err
	}

	if err := os.MkdirAll(o.config.BackupDir, 0750); err != nil {
		err = appErrors.NewConfigurationError("failed to create backup directory", err).
			WithContext("backup_dir", o.config.BackupDir)
		logger.WithError(err).Error("Backup directory is unusable")
		return result, err
	}

	locks := lock.NewManager(o.config.LockFile, logger)
	handle, err := locks.Acquire()
	if err != nil {
		logger.WithError(err).Error("Could not acquire the run lock")
		return result, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.finalizer.Register(func() error { return locks.Release(handle) })
	o.finalizer.Register(o.stager.Sweep)
	o.finalizer.Register(func() error {
		removed, err := backup.RemovePartialDumps(o.config.BackupDir)
		if len(removed) > 0 {
			logger.WithField("files", removed).Warn("Removed partial dumps")
		}
		return err
	})
	o.finalizer.Start(func(sig os.Signal) {
		logger.WithField("signal", sig.String()).Warn("Interrupted, stopping in-flight dumps; signal again to exit immediately")
		cancel()
	})
	defer o.finalizer.Run()
	defer o.finalizer.Stop()

	logger.WithFields(map[string]interface{}{
		"hosts":       len(o.config.Hosts),
		"parallelism": o.config.Parallelism,
		"storage":     o.config.Storage.Type,
		"backup_dir":  o.config.BackupDir,
	}).Info("Backup run starting")

	scheduler := o.newScheduler(logger)
	scheduler.RunAll(ctx, o.config.Targets(), o.config.Parallelism, result.Report)

	if ctx.Err() == nil {
		o.ship(ctx, logger, result)
	}

	result.Duration = o.now().Sub(started)
	o.exportMetrics(logger, result)

	if err := ctx.Err(); err != nil {
		logger.WithField("failed", len(result.Report.Failures())).Error("Backup run interrupted")
		return result, appErrors.NewInterruptionError(err)
	}
	return result, o.conclude(logger, result)
}

// Plan pings every host and lists the databases a run would back up,
// without taking the lock or dumping anything
func (o *Orchestrator) Plan(ctx context.Context) ([]backup.HostPlan, *backup.Report, error) {
	runID := o.newRunID()
	report := backup.NewReport(runID)
	if err := o.config.Validate(); err != nil {
		return nil, report, err
	}

	logger := o.logger.With("run_id", runID)
	plans := o.newScheduler(logger).Plan(ctx, o.config.Targets(), report)
	if report.Failed() {
		return plans, report, appErrors.NewRunFailedError(len(report.Failures()), report.Err())
	}
	return plans, report, nil
}

func (o *Orchestrator) newScheduler(logger *logging.Logger) *backup.Scheduler {
	task := backup.NewTask(backup.TaskOptions{
		OutputDir: o.config.BackupDir,
		Dumper:    o.dumper,
		Stager:    o.stager,
		Detector:  o.detector(logger),
		Logger:    logger,
		Now:       o.now,
	})

	return backup.NewScheduler(backup.SchedulerOptions{
		Inspector: o.inspector,
		Runner:    task,
		Include:   o.config.Databases,
		Exclude:   o.config.ExcludeDatabases,
		Logger:    logger,
	})
}

// detector returns nil when incremental mode is off or cannot be honored
func (o *Orchestrator) detector(logger *logging.Logger) *fingerprint.Detector {
	if !o.config.Incremental {
		return nil
	}
	d, err := fingerprint.New(o.config.Fingerprint)
	if err != nil {
		logger.WithError(err).WithField("fingerprint", o.config.Fingerprint).
			Warn("Checksum capability unavailable, incremental mode disabled for this run")
		return nil
	}
	logger.Debugf("Incremental mode using %s fingerprints", d.Algorithm())
	return d
}

// ship uploads the backup directory and cleans up local copies on success.
// Upload runs even when some tasks failed so completed artifacts still leave the host.
func (o *Orchestrator) ship(ctx context.Context, logger *logging.Logger, result *Result) {
	backend, err := o.newBackend(ctx, o.config.Storage, storage.Options{
		DeleteLocal:   o.config.DeleteLocal,
		RetentionDays: o.config.RetentionDays,
		Logger:        logger,
	})
	if err != nil {
		result.UploadErr = err
		result.Report.RecordFailure("upload:"+string(o.config.Storage.Type), err)
		logger.WithError(err).Error("Storage backend could not be initialized")
		return
	}
	result.Backend = backend.Name()
	defer func() {
		if err := storage.Close(backend); err != nil {
			logger.WithError(err).Warn("Storage client did not close cleanly")
		}
	}()

	done := logger.LogOperationStart("upload", map[string]interface{}{"backend": backend.Name()})
	err = backend.Upload(ctx, o.config.BackupDir)
	done(err)
	if err != nil {
		result.UploadErr = err
		result.Report.RecordFailure("upload:"+backend.Name(), err)
		return
	}

	if err := backend.Cleanup(ctx, o.config.BackupDir); err != nil {
		logger.WithError(err).WithField("backend", backend.Name()).Warn("Local cleanup after upload failed")
	}
}

func (o *Orchestrator) exportMetrics(logger *logging.Logger, result *Result) {
	if o.config.Metrics.Textfile == "" {
		return
	}

	counts := result.Report.Counts()
	tasks := make(map[string]int, len(counts))
	for status, n := range counts {
		tasks[string(status)] = n
	}

	recorder := metrics.NewRecorder()
	recorder.Observe(metrics.RunSummary{
		Succeeded:    !result.Report.Failed(),
		Tasks:        tasks,
		HostFailures: hostFailures(result.Report),
		Bytes:        result.Report.ArtifactBytes(),
		Duration:     result.Duration,
		Backend:      result.Backend,
		UploadOK:     result.Backend != "" && result.UploadErr == nil,
		FinishedAt:   o.now(),
	})
	if err := recorder.WriteTextfile(o.config.Metrics.Textfile); err != nil {
		logger.WithError(err).Warn("Could not export run metrics")
	}
}

func (o *Orchestrator) conclude(logger *logging.Logger, result *Result) error {
	counts := result.Report.Counts()
	fields := map[string]interface{}{
		"succeeded": counts[backup.StatusSuccess],
		"skipped":   counts[backup.StatusSkipped],
		"failed":    counts[backup.StatusFailed],
		"bytes":     result.Report.ArtifactBytes(),
		"duration":  result.Duration.Round(time.Millisecond).String(),
	}

	if !result.Report.Failed() {
		logger.WithFields(fields).WithField("result", "success").Info("Backup run completed")
		return nil
	}

	failures := result.Report.Failures()
	for _, f := range failures {
		logger.WithField("unit", f.Unit).WithError(f.Err).Error("Unit failed")
	}
	logger.WithFields(fields).Error(fmt.Sprintf("Backup run finished with %d failed unit(s)", len(failures)))
	return appErrors.NewRunFailedError(len(failures), result.Report.Err())
}

// hostFailures counts failures recorded against a whole host rather than a database
func hostFailures(report *backup.Report) int {
	n := 0
	for _, f := range report.Failures() {
		if f.Err != nil && appErrors.IsType(f.Err, appErrors.ErrorTypeConnectivity) {
			n++
		}
	}
	return n
}

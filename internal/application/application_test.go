package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-backup-sync/internal/backup"
	"mysql-backup-sync/internal/config"
	"mysql-backup-sync/internal/database"
	appErrors "mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/storage"
)

type fakeInspector struct {
	databases map[string][]string
	pingErr   map[string]error
}

func (i *fakeInspector) Ping(_ context.Context, target database.Target) error {
	return i.pingErr[target.Host]
}

func (i *fakeInspector) ListDatabases(_ context.Context, target database.Target) ([]string, error) {
	return i.databases[target.Host], nil
}

// fakeDumper writes a small dump and records the credential files it was given
type fakeDumper struct {
	fail map[string]bool

	mu        sync.Mutex
	dumped    []string
	credFiles []string
	credSeen  []bool
}

func (d *fakeDumper) Dump(_ context.Context, db, credentialsFile, outPath string) error {
	_, statErr := os.Stat(credentialsFile)

	d.mu.Lock()
	d.dumped = append(d.dumped, db)
	d.credFiles = append(d.credFiles, credentialsFile)
	d.credSeen = append(d.credSeen, statErr == nil)
	d.mu.Unlock()

	if d.fail[db] {
		return appErrors.NewDumpError("mysqldump exited with status 2", nil)
	}
	return os.WriteFile(outPath, []byte("-- dump of "+db+"\nCREATE TABLE t (id INT);\n"), 0640)
}

// interruptingDumper signals the process while dumping one database, the way
// an operator pressing Ctrl-C would, and blocks until the run is cancelled
type interruptingDumper struct {
	*fakeDumper
	at string
}

func (d *interruptingDumper) Dump(ctx context.Context, db, credentialsFile, outPath string) error {
	if db != d.at {
		return d.fakeDumper.Dump(ctx, db, credentialsFile, outPath)
	}
	if err := os.WriteFile(outPath, []byte("-- partial"), 0640); err != nil {
		return err
	}
	// a sibling cut off while compressing
	stray := filepath.Join(filepath.Dir(outPath), "."+filepath.Base(outPath)+".gz.4242.tmp")
	if err := os.WriteFile(stray, []byte("partial"), 0640); err != nil {
		return err
	}
	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("run was not cancelled after SIGTERM")
	}
}

type fakeBackend struct {
	uploadErr error

	uploads  []string
	cleanups []string
	// artifacts holds the directory listing seen at upload time
	artifacts []string
	closed    int
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Upload(_ context.Context, dir string) error {
	b.uploads = append(b.uploads, dir)
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		b.artifacts = append(b.artifacts, e.Name())
	}
	return b.uploadErr
}

func (b *fakeBackend) Cleanup(_ context.Context, dir string) error {
	b.cleanups = append(b.cleanups, dir)
	return nil
}

func (b *fakeBackend) Close() error {
	b.closed++
	return nil
}

type fixture struct {
	cfg       *config.Config
	inspector *fakeInspector
	dumper    *fakeDumper
	backend   *fakeBackend
	credDir   string
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 10, 2, 0, 0, 0, time.Local)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	cfg := &config.Config{
		Hosts:         []string{"db1", "db2"},
		Users:         []string{"backup", "backup"},
		Passwords:     []string{"pw1", "pw2"},
		Ports:         []int{3306, 3306},
		BackupDir:     filepath.Join(root, "backups"),
		LockFile:      filepath.Join(root, "run.lock"),
		Parallelism:   2,
		RetentionDays: 7,
		Fingerprint:   "blake2b",
		Storage:       storage.Config{Type: storage.TypeGit},
		Log:           config.LogConfig{Format: "text"},
	}

	return &fixture{
		cfg: cfg,
		inspector: &fakeInspector{
			databases: map[string][]string{"db1": {"app", "billing"}, "db2": {"crm"}},
			pingErr:   map[string]error{},
		},
		dumper:  &fakeDumper{fail: map[string]bool{}},
		backend: &fakeBackend{},
		credDir: filepath.Join(root, "creds"),
	}
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	require.NoError(t, os.MkdirAll(f.credDir, 0700))
	return New(f.cfg, nil, Dependencies{
		Inspector: f.inspector,
		Dumper:    f.dumper,
		NewBackend: func(context.Context, storage.Config, storage.Options) (storage.Backend, error) {
			return f.backend, nil
		},
		CredentialDir: f.credDir,
		Now:           fixedNow,
	})
}

func (f *fixture) assertNoLeftovers(t *testing.T) {
	t.Helper()
	_, err := os.Stat(f.cfg.LockFile)
	assert.True(t, os.IsNotExist(err), "lock file must be removed at the end of the run")

	entries, err := os.ReadDir(f.credDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "credential files must not outlive the run")
}

func TestOrchestrator_Run_Success(t *testing.T) {
	f := newFixture(t)

	result, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, appErrors.ExitOK, appErrors.ExitCode(err))

	assert.ElementsMatch(t, []string{"app", "billing", "crm"}, f.dumper.dumped)
	assert.Equal(t, []string{f.cfg.BackupDir}, f.backend.uploads)
	assert.Equal(t, []string{f.cfg.BackupDir}, f.backend.cleanups)
	assert.ElementsMatch(t, []string{
		"20240310_app.sql.gz",
		"20240310_billing.sql.gz",
		"20240310_crm.sql.gz",
	}, f.backend.artifacts)

	assert.Equal(t, "fake", result.Backend)
	assert.Equal(t, 1, f.backend.closed, "storage client is released after shipping")
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 3, result.Report.Counts()[backup.StatusSuccess])
	for _, seen := range f.dumper.credSeen {
		assert.True(t, seen, "credential file must exist while the dump runs")
	}
	f.assertNoLeftovers(t)
}

func TestOrchestrator_Run_InvalidConfigDoesNoWork(t *testing.T) {
	f := newFixture(t)
	f.cfg.Users = []string{"backup"}

	_, err := f.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ExitConfiguration, appErrors.ExitCode(err))
	assert.Empty(t, f.dumper.dumped)
	assert.Empty(t, f.backend.uploads)

	_, statErr := os.Stat(f.cfg.LockFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestOrchestrator_Run_AlreadyRunning(t *testing.T) {
	f := newFixture(t)
	owner := strconv.Itoa(os.Getppid())
	require.NoError(t, os.WriteFile(f.cfg.LockFile, []byte(owner+"\n"), 0644))

	_, err := f.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ExitAlreadyRunning, appErrors.ExitCode(err))
	assert.Empty(t, f.dumper.dumped)
	assert.Empty(t, f.backend.uploads)

	data, readErr := os.ReadFile(f.cfg.LockFile)
	require.NoError(t, readErr)
	assert.Equal(t, owner, strings.TrimSpace(string(data)), "a foreign lock must be left alone")
}

func TestOrchestrator_Run_StaleLockIsReclaimed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.cfg.LockFile, []byte("not-a-pid\n"), 0644))

	_, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.dumper.dumped, 3)
	f.assertNoLeftovers(t)
}

func TestOrchestrator_Run_TaskFailureStillUploads(t *testing.T) {
	f := newFixture(t)
	f.dumper.fail["billing"] = true

	result, err := f.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ExitRunFailed, appErrors.ExitCode(err))
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeRunFailed))

	assert.Len(t, f.backend.uploads, 1, "completed artifacts are shipped even when a sibling failed")
	assert.ElementsMatch(t, []string{"20240310_app.sql.gz", "20240310_crm.sql.gz"}, f.backend.artifacts)

	failures := result.Report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "db1/billing", failures[0].Unit)
	assert.Contains(t, err.Error(), "db1/billing")
	f.assertNoLeftovers(t)
}

func TestOrchestrator_Run_UnreachableHostIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.inspector.pingErr["db1"] = appErrors.NewConnectivityError("connection refused", nil)

	result, err := f.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"crm"}, f.dumper.dumped)
	assert.Len(t, f.backend.uploads, 1)

	failures := result.Report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "db1:3306", failures[0].Unit)
	assert.Equal(t, 1, hostFailures(result.Report))
}

func TestOrchestrator_Run_UploadFailureSkipsCleanup(t *testing.T) {
	f := newFixture(t)
	f.backend.uploadErr = appErrors.NewUploadError("push rejected", nil)

	result, err := f.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ExitRunFailed, appErrors.ExitCode(err))
	assert.Empty(t, f.backend.cleanups)
	assert.Equal(t, 1, f.backend.closed)
	assert.Equal(t, f.backend.uploadErr, result.UploadErr)

	failures := result.Report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "upload:fake", failures[0].Unit)
}

func TestOrchestrator_Run_BackendInitFailure(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)
	o.newBackend = func(context.Context, storage.Config, storage.Options) (storage.Backend, error) {
		return nil, fmt.Errorf("no credentials")
	}

	result, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, f.dumper.dumped, 3)

	failures := result.Report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "upload:git", failures[0].Unit)
	f.assertNoLeftovers(t)
}

func TestOrchestrator_Run_IncrementalSkipsUnchanged(t *testing.T) {
	f := newFixture(t)
	f.cfg.Incremental = true

	// day one produces the baseline artifacts
	day1 := f.orchestrator(t)
	day1.now = func() time.Time { return fixedNow().AddDate(0, 0, -1) }
	_, err := day1.Run(context.Background())
	require.NoError(t, err)

	result, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Report.Counts()[backup.StatusSkipped])

	_, statErr := os.Stat(filepath.Join(f.cfg.BackupDir, "20240310_app.sql.gz"))
	assert.True(t, os.IsNotExist(statErr), "unchanged dump must not produce an artifact")
	_, statErr = os.Stat(filepath.Join(f.cfg.BackupDir, "20240310_app.sql"))
	assert.True(t, os.IsNotExist(statErr), "unchanged raw dump must be removed")
}

func TestOrchestrator_Run_UnknownFingerprintDisablesIncremental(t *testing.T) {
	f := newFixture(t)
	f.cfg.Incremental = true
	f.cfg.Fingerprint = "md4"

	result, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Report.Counts()[backup.StatusSuccess])
}

func TestOrchestrator_Run_WritesMetrics(t *testing.T) {
	f := newFixture(t)
	f.cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "mysql_backup.prom")
	f.dumper.fail["crm"] = true

	_, err := f.orchestrator(t).Run(context.Background())
	require.Error(t, err)

	data, readErr := os.ReadFile(f.cfg.Metrics.Textfile)
	require.NoError(t, readErr)
	content := string(data)
	assert.Contains(t, content, "mysql_backup_last_run_success 0")
	assert.Contains(t, content, `mysql_backup_tasks{status="success"} 2`)
	assert.Contains(t, content, `mysql_backup_tasks{status="failed"} 1`)
	assert.Contains(t, content, `mysql_backup_upload_success{backend="fake"} 1`)
}

func TestOrchestrator_Plan(t *testing.T) {
	f := newFixture(t)

	plans, report, err := f.orchestrator(t).Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, []string{"app", "billing"}, plans[0].Databases)
	assert.Equal(t, []string{"crm"}, plans[1].Databases)
	assert.False(t, report.Failed())
	assert.Empty(t, f.dumper.dumped)

	_, statErr := os.Stat(f.cfg.LockFile)
	assert.True(t, os.IsNotExist(statErr), "planning never takes the lock")
}

func TestOrchestrator_PlanReportsUnreachableHosts(t *testing.T) {
	f := newFixture(t)
	f.inspector.pingErr["db2"] = appErrors.NewConnectivityError("access denied", nil)

	plans, _, err := f.orchestrator(t).Plan(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ExitRunFailed, appErrors.ExitCode(err))
	require.Len(t, plans, 1)
	assert.Equal(t, "db1", plans[0].Target.Host)
}

func TestOrchestrator_Run_SignalStopsRunAndCleansUp(t *testing.T) {
	f := newFixture(t)
	f.cfg.Parallelism = 1
	o := f.orchestrator(t)
	o.dumper = &interruptingDumper{fakeDumper: f.dumper, at: "billing"}

	result, err := o.Run(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeInterruption), "got %v", err)
	assert.Equal(t, appErrors.InterruptedExitCode, appErrors.ExitCode(err))

	assert.Empty(t, f.backend.uploads, "an interrupted run does not upload")
	assert.NotContains(t, f.dumper.dumped, "crm", "no task starts after the signal")
	assert.Equal(t, 2, result.Report.Counts()[backup.StatusFailed])

	entries, readErr := os.ReadDir(f.cfg.BackupDir)
	require.NoError(t, readErr)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"20240310_app.sql.gz"}, names, "partial dumps must be removed")
	f.assertNoLeftovers(t)
}

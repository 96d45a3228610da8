// Package lock provides the host-wide single-run lock. The lock is a small
// file holding the owner's process ID; a file whose owner is no longer alive
// is considered stale and is reclaimed.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	appErrors "mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/logging"
)

const guardSuffix = ".guard"

// Handle is an acquired lock
type Handle struct {
	OwnerPID int
	Path     string
}

// Manager acquires and releases the run lock
type Manager struct {
	path   string
	pid    int
	alive  func(pid int) bool
	logger *logging.Logger
}

// NewManager creates a lock manager for path owned by the current process
func NewManager(path string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		path:   path,
		pid:    os.Getpid(),
		alive:  processAlive,
		logger: logger,
	}
}

// Acquire takes the lock. It fails with an ALREADY_RUNNING error if a live
// process holds it and reclaims it if the recorded owner is gone.
// Check and reclaim happen under an exclusive flock on a guard file next to
// the lock, so two contenders can never both remove a stale lock.
func (m *Manager) Acquire() (*Handle, error) {
	unlock, err := m.guard()
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Two attempts: the second one follows removal of a stale file.
	for attempt := 0; attempt < 2; attempt++ {
		err := m.create()
		if err == nil {
			return &Handle{OwnerPID: m.pid, Path: m.path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file %s: %w", m.path, err)
		}

		owner, readErr := readOwner(m.path)
		if readErr != nil && !errors.Is(readErr, fs.ErrNotExist) {
			m.logger.WithField("lock_file", m.path).WithError(readErr).Warn("Unreadable lock file, treating as stale")
		}
		if readErr == nil && m.alive(owner) {
			return nil, appErrors.NewAlreadyRunningError(owner, m.path)
		}

		if readErr == nil {
			m.logger.WithFields(map[string]interface{}{
				"lock_file": m.path,
				"stale_pid": owner,
			}).Warn("Removing stale lock left by a process that is no longer running")
		}
		if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock %s: %w", m.path, err)
		}
	}

	owner, _ := readOwner(m.path)
	return nil, appErrors.NewAlreadyRunningError(owner, m.path)
}

// Release removes the lock file if it still records this process as owner
func (m *Manager) Release(h *Handle) error {
	if h == nil {
		return nil
	}

	unlock, err := m.guard()
	if err != nil {
		return err
	}
	defer unlock()

	owner, err := readOwner(h.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read lock file %s: %w", h.Path, err)
	}

	if owner != h.OwnerPID {
		m.logger.WithFields(map[string]interface{}{
			"lock_file": h.Path,
			"owner_pid": owner,
		}).Warn("Lock is owned by another process, leaving it in place")
		return nil
	}

	if err := os.Remove(h.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file %s: %w", h.Path, err)
	}
	return nil
}

// guard takes an exclusive flock on <path>.guard and returns its release.
// The guard file is never removed; deleting it would let a later contender
// lock a different inode.
func (m *Manager) guard() (func(), error) {
	f, err := os.OpenFile(m.path+guardSuffix, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock guard %s: %w", m.path+guardSuffix, err)
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock guard %s: %w", m.path+guardSuffix, err)
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

// create publishes a fully written lock file with link(2), which fails if
// the path already exists. Readers never observe a half-written pid.
func (m *Manager) create() error {
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".lock-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.Itoa(m.pid) + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Link(tmp.Name(), m.path)
}

func readOwner(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("lock file %s does not contain a pid: %w", path, err)
	}
	return pid, nil
}

// processAlive sends signal 0. EPERM means the process exists but belongs to
// another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

package storage

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/logging"
)

// GitRunner runs a git command inside a working tree and returns its
// combined output
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGit runs the git binary. Each command gets its own working directory;
// the process working directory is never changed.
type ExecGit struct {
	Binary string
}

// Run implements GitRunner
func (g ExecGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	binary := g.Binary
	if binary == "" {
		binary = "git"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// Repository commits the backup directory and pushes it. The directory is
// the git working tree.
type Repository struct {
	git           GitRunner
	remote        string
	retentionDays int
	now           func() time.Time
	logger        *logging.Logger
}

// NewRepository creates a repository backend pushing to remote
func NewRepository(git GitRunner, remote string, retentionDays int, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if remote == "" {
		remote = "origin"
	}
	return &Repository{
		git:           git,
		remote:        remote,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger,
	}
}

// Name returns git:<remote>
func (r *Repository) Name() string {
	return "git:" + r.remote
}

// Upload applies retention, then commits and pushes any change
func (r *Repository) Upload(ctx context.Context, dir string) error {
	now := r.now()

	if _, err := ApplyRetention(dir, r.retentionDays, now, r.logger); err != nil {
		r.logger.WithError(err).Warn("Retention could not delete every expired artifact")
	}

	branch, err := r.git.Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return r.gitError("cannot resolve current branch", branch, err)
	}

	if out, err := r.git.Run(ctx, dir, "pull", r.remote, branch); err != nil {
		r.logger.WithFields(map[string]interface{}{
			"remote": r.remote,
			"branch": branch,
			"output": out,
		}).Warn("git pull failed, continuing with local state")
	}

	status, err := r.git.Run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return r.gitError("cannot read working tree status", status, err)
	}
	if status == "" {
		r.logger.With("branch", branch).Info("No changes to commit")
		return nil
	}

	if out, err := r.git.Run(ctx, dir, "add", "-A"); err != nil {
		return r.gitError("git add failed", out, err)
	}

	message := "Backup " + now.Format("2006-01-02")
	if out, err := r.git.Run(ctx, dir, "commit", "-m", message); err != nil {
		return r.gitError("git commit failed", out, err)
	}

	if out, err := r.git.Run(ctx, dir, "push", r.remote, branch); err != nil {
		return r.gitError(fmt.Sprintf("git push to %s/%s failed", r.remote, branch), out, err)
	}

	r.logger.WithFields(map[string]interface{}{
		"remote":  r.remote,
		"branch":  branch,
		"message": message,
	}).Info("Backups committed and pushed")
	return nil
}

// Cleanup is a no-op: the backup directory is the repository
func (r *Repository) Cleanup(context.Context, string) error {
	return nil
}

func (r *Repository) gitError(msg, output string, err error) error {
	if output != "" {
		msg = msg + ": " + output
	}
	return errors.NewUploadError(msg, err).WithContext("remote", r.remote)
}

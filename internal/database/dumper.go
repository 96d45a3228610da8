package database

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/logging"
)

// Dumper produces a logical SQL dump of one database into outPath. The
// credentials file is a MySQL option file; host, port, user and password are
// read from it and never appear on the command line.
type Dumper interface {
	Dump(ctx context.Context, database, credentialsFile, outPath string) error
}

// stderrLimit bounds how much of mysqldump's stderr is kept for error reports
const stderrLimit = 8 * 1024

// MysqldumpDumper runs the mysqldump client
type MysqldumpDumper struct {
	Binary    string
	ExtraArgs []string
	logger    *logging.Logger
	command   func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewMysqldumpDumper creates a dumper using binary (default "mysqldump")
func NewMysqldumpDumper(binary string, extraArgs []string, logger *logging.Logger) *MysqldumpDumper {
	if binary == "" {
		binary = "mysqldump"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MysqldumpDumper{
		Binary:    binary,
		ExtraArgs: extraArgs,
		logger:    logger,
		command:   exec.CommandContext,
	}
}

// Args returns the argument vector for a dump. --defaults-extra-file must be
// the first option or mysqldump ignores it.
func (d *MysqldumpDumper) Args(database, credentialsFile string) []string {
	args := []string{
		"--defaults-extra-file=" + credentialsFile,
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--events",
	}
	args = append(args, d.ExtraArgs...)
	return append(args, database)
}

// Dump writes the dump to outPath. The output file is left in place on
// failure; callers remove it.
func (d *MysqldumpDumper) Dump(ctx context.Context, database, credentialsFile, outPath string) error {
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return errors.NewDumpError(fmt.Sprintf("cannot create dump file for %s", database), err).
			WithContext("path", outPath)
	}
	defer out.Close()

	stderr := &limitedBuffer{limit: stderrLimit}
	cmd := d.command(ctx, d.Binary, d.Args(database, credentialsFile)...)
	cmd.Stdout = out
	cmd.Stderr = stderr

	d.logger.WithFields(map[string]interface{}{
		"database": database,
		"binary":   d.Binary,
		"output":   outPath,
	}).Debug("Starting mysqldump")

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		msg := fmt.Sprintf("mysqldump failed for %s", database)
		if detail != "" {
			msg = fmt.Sprintf("%s: %s", msg, detail)
		}
		return errors.NewDumpError(msg, err).WithContext("database", database)
	}

	if err := out.Sync(); err != nil {
		return errors.NewDumpError(fmt.Sprintf("cannot flush dump file for %s", database), err)
	}
	return nil
}

// limitedBuffer keeps the tail of what is written to it
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

package database

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-backup-sync/internal/errors"
)

// fakeCommand re-executes the test binary as a stand-in for mysqldump
func fakeCommand(mode string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	args = args[1:]

	switch os.Getenv("HELPER_MODE") {
	case "ok":
		fmt.Fprintf(os.Stdout, "-- dump of %s\nCREATE TABLE t (id int);\n", args[len(args)-1])
		fmt.Fprintf(os.Stdout, "-- first option %s\n", args[1])
		os.Exit(0)
	case "fail":
		fmt.Fprint(os.Stderr, "mysqldump: Got error: 1044: Access denied for user 'backup'\n")
		os.Exit(2)
	}
	os.Exit(3)
}

func TestMysqldumpDumper_Args(t *testing.T) {
	d := NewMysqldumpDumper("", []string{"--hex-blob"}, nil)
	args := d.Args("app", "/tmp/cred.cnf")

	assert.Equal(t, "mysqldump", d.Binary)
	assert.Equal(t, "--defaults-extra-file=/tmp/cred.cnf", args[0])
	assert.Equal(t, "app", args[len(args)-1])
	assert.Contains(t, args, "--hex-blob")
	assert.Contains(t, args, "--single-transaction")
	for _, a := range args {
		assert.False(t, strings.HasPrefix(a, "--password"), "password must not appear in argv")
		assert.False(t, strings.HasPrefix(a, "-p"), "password must not appear in argv")
	}
}

func TestMysqldumpDumper_DumpWritesOutput(t *testing.T) {
	d := NewMysqldumpDumper("mysqldump", nil, nil)
	d.command = fakeCommand("ok")

	out := filepath.Join(t.TempDir(), "20240102_app.sql")
	require.NoError(t, d.Dump(context.Background(), "app", "/tmp/cred.cnf", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- dump of app")
	assert.Contains(t, string(data), "--defaults-extra-file=/tmp/cred.cnf")
}

func TestMysqldumpDumper_DumpFailureCarriesStderr(t *testing.T) {
	d := NewMysqldumpDumper("mysqldump", nil, nil)
	d.command = fakeCommand("fail")

	out := filepath.Join(t.TempDir(), "20240102_app.sql")
	err := d.Dump(context.Background(), "app", "/tmp/cred.cnf", out)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDump))
	assert.Contains(t, err.Error(), "Access denied")
}

func TestMysqldumpDumper_UnwritableOutput(t *testing.T) {
	d := NewMysqldumpDumper("mysqldump", nil, nil)
	d.command = fakeCommand("ok")

	err := d.Dump(context.Background(), "app", "/tmp/cred.cnf", "/nonexistent/dir/out.sql")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDump))
}

func TestLimitedBuffer_KeepsTail(t *testing.T) {
	b := &limitedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "cdef", b.String())
}

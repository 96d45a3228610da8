package display

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-backup-sync/internal/backup"
	"mysql-backup-sync/internal/database"
)

func TestPalette_DisabledForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPalette(&buf, false)
	assert.False(t, p.Enabled())
	assert.Equal(t, "ok", p.Success("ok"))
}

func TestPalette_EnabledEmitsEscapes(t *testing.T) {
	p := newPalette(true)
	assert.True(t, p.Enabled())
	assert.Contains(t, p.Failure("boom"), "\x1b[")
	assert.Contains(t, p.Failure("boom"), "boom")
}

func TestTable_Render(t *testing.T) {
	table := NewTable("NAME", "SIZE")
	table.SetMaxWidth(0)
	table.SetAlignment(1, AlignRight)
	table.AddRow("app", "1.0 KiB")
	table.AddRow("billing", "12 B")

	var buf bytes.Buffer
	require.NoError(t, table.Render(&buf))

	want := "" +
		"+---------+---------+\n" +
		"| NAME    |    SIZE |\n" +
		"+---------+---------+\n" +
		"| app     | 1.0 KiB |\n" +
		"| billing |    12 B |\n" +
		"+---------+---------+\n"
	assert.Equal(t, want, buf.String())
}

func TestTable_ShrinksToWidth(t *testing.T) {
	table := NewTable("UNIT", "ERROR")
	table.SetMaxWidth(40)
	table.AddRow("db1/app", strings.Repeat("x", 80))

	var buf bytes.Buffer
	require.NoError(t, table.Render(&buf))
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.LessOrEqual(t, len(line), 40)
	}
	assert.Contains(t, buf.String(), "...")
}

func TestTable_PainterDoesNotShiftColumns(t *testing.T) {
	table := NewTable("A")
	table.SetMaxWidth(0)
	table.AddRow("x")
	table.SetPainter(func(row, _ int, padded string) string { return "<" + padded + ">" })

	var buf bytes.Buffer
	require.NoError(t, table.Render(&buf))
	assert.Contains(t, buf.String(), "| <A> |")
	assert.Contains(t, buf.String(), "| <x> |")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0 B", FormatBytes(0))
	assert.Equal(t, "1023 B", FormatBytes(1023))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "1.5 MiB", FormatBytes(1536*1024))
	assert.Equal(t, "2.0 GiB", FormatBytes(2<<30))
}

func TestRenderRun(t *testing.T) {
	report := backup.NewReport("run-1")
	report.Record(backup.Outcome{Host: "db1", Database: "app", Status: backup.StatusSuccess,
		Artifact: &backup.Artifact{SizeBytes: 2048}, Duration: time.Second})
	report.Record(backup.Outcome{Host: "db1", Database: "audit", Status: backup.StatusSkipped})
	report.Record(backup.Outcome{Host: "db2", Database: "crm", Status: backup.StatusFailed,
		Err: errors.New("mysqldump exited with status 2")})

	var buf bytes.Buffer
	require.NoError(t, RenderRun(&buf, newPalette(false), RunSummary{
		Report:   report,
		Backend:  "git:origin",
		Duration: 3 * time.Second,
	}))

	out := buf.String()
	assert.Contains(t, out, "Backup run run-1")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "Failed units:")
	assert.Contains(t, out, "db2/crm: mysqldump exited with status 2")
	assert.Contains(t, out, "Status: FAILED  succeeded=1 skipped=1 failed=1")
	assert.Contains(t, out, "upload: ok (git:origin)")
	assert.Less(t, strings.Index(out, "app"), strings.Index(out, "audit"))
}

func TestRenderRun_UploadFailure(t *testing.T) {
	report := backup.NewReport("run-2")
	report.RecordFailure("upload:s3://b", errors.New("access denied"))

	var buf bytes.Buffer
	require.NoError(t, RenderRun(&buf, newPalette(false), RunSummary{
		Report:    report,
		Backend:   "s3://b",
		UploadErr: errors.New("access denied"),
	}))
	assert.Contains(t, buf.String(), "upload: failed")
	assert.NotContains(t, buf.String(), "HOST")
}

func TestRenderPlan(t *testing.T) {
	report := backup.NewReport("plan")
	report.RecordFailure("db3:3306", errors.New("connection refused"))
	plans := []backup.HostPlan{
		{Target: database.Target{Host: "db1", Port: 3306}, Databases: []string{"app", "billing"}},
		{Target: database.Target{Host: "db2", Port: 3307}},
	}

	var buf bytes.Buffer
	require.NoError(t, RenderPlan(&buf, newPalette(false), plans, report))

	out := buf.String()
	assert.Contains(t, out, "app, billing")
	assert.Contains(t, out, "3307")
	assert.Contains(t, out, "(none selected)")
	assert.Contains(t, out, "skipped db3:3306: connection refused")
}

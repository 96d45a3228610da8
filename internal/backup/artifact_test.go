package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactName(t *testing.T) {
	date := time.Date(2024, 1, 2, 23, 59, 0, 0, time.Local)
	assert.Equal(t, "20240102_app.sql", ArtifactName(date, "app", false))
	assert.Equal(t, "20240102_app.sql.gz", ArtifactName(date, "app", true))
	assert.Equal(t, "/backups/20240102_app.sql.gz", ArtifactPath("/backups", date, "app", true))
}

func TestParseArtifactName(t *testing.T) {
	tests := []struct {
		name   string
		ok     bool
		date   string
		dbName string
	}{
		{"20240102_app.sql.gz", true, "20240102", "app"},
		{"/backups/20240102_my_app_db.sql.gz", true, "20240102", "my_app_db"},
		{"20240102_app.sql", false, "", ""},
		{"notes.txt", false, "", ""},
		{"2024010_app.sql.gz", false, "", ""},
		{"20241302_app.sql.gz", false, "", ""},
		{"20240102_.sql.gz", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, db, ok := ParseArtifactName(tt.name)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.date, date.Format(DateLayout))
				assert.Equal(t, tt.dbName, db)
			}
		})
	}
}

func TestIsArtifact(t *testing.T) {
	assert.True(t, IsArtifact("20240102_app.sql.gz"))
	assert.True(t, IsArtifact("/x/y/20240102_app.sql.gz"))
	assert.False(t, IsArtifact("20240102_app.sql"))
	assert.False(t, IsArtifact("readme.txt"))
}

func TestReport(t *testing.T) {
	r := NewReport("run-1")
	assert.False(t, r.Failed())
	assert.NoError(t, r.Err())

	r.Record(Outcome{Host: "db1", Database: "a", Status: StatusSuccess, Artifact: &Artifact{SizeBytes: 10}})
	r.Record(Outcome{Host: "db1", Database: "b", Status: StatusSkipped})
	r.Record(Outcome{Host: "db1", Database: "c", Status: StatusSuccess, Artifact: &Artifact{SizeBytes: 5}})
	assert.False(t, r.Failed())
	assert.Equal(t, int64(15), r.ArtifactBytes())

	r.Record(Outcome{Host: "db1", Database: "d", Status: StatusFailed, Err: errors.New("dump failed")})
	r.RecordFailure("upload:s3", errors.New("bucket missing"))
	r.Record(Outcome{Host: "db2", Database: "e", Status: StatusFailed})

	assert.True(t, r.Failed())
	counts := r.Counts()
	assert.Equal(t, 2, counts[StatusSuccess])
	assert.Equal(t, 1, counts[StatusSkipped])
	assert.Equal(t, 2, counts[StatusFailed])

	failures := r.Failures()
	assert.Len(t, failures, 3)
	assert.Equal(t, "db1/d", failures[0].Unit)
	assert.Equal(t, "upload:s3", failures[1].Unit)
	assert.Error(t, failures[2].Err)

	msg := r.Err().Error()
	assert.Contains(t, msg, "3 unit(s) failed")
	assert.Contains(t, msg, "db1/d: dump failed")
	assert.Contains(t, msg, "upload:s3: bucket missing")
}

func TestRemovePartialDumps(t *testing.T) {
	dir := t.TempDir()
	files := map[string]bool{
		"20240310_app.sql":                true,
		".20240310_crm.sql.gz.123456.tmp": true,
		"20240309_app.sql.gz":             false,
		"notes.sql":                       false,
		"README":                          false,
	}
	for name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0640))
	}

	removed, err := RemovePartialDumps(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"20240310_app.sql", ".20240310_crm.sql.gz.123456.tmp"}, removed)

	for name, partial := range files {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.Equal(t, partial, os.IsNotExist(statErr), name)
	}

	removed, err = RemovePartialDumps(filepath.Join(dir, "missing"))
	assert.NoError(t, err)
	assert.Empty(t, removed)
}

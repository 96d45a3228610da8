package backup

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"mysql-backup-sync/internal/compression"
)

const (
	// DateLayout is the date prefix of every artifact name
	DateLayout = "20060102"
	// DumpExtension marks an uncompressed dump
	DumpExtension = ".sql"
	// ArtifactExtension marks a finished, compressed artifact
	ArtifactExtension = DumpExtension + compression.Extension
)

// Artifact is one database dump identified by (Date, Database)
type Artifact struct {
	Date       time.Time `json:"date"`
	Database   string    `json:"database"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	Compressed bool      `json:"compressed"`
}

// ArtifactName returns <YYYYMMDD>_<database>.sql or .sql.gz
func ArtifactName(date time.Time, database string, compressed bool) string {
	name := date.Format(DateLayout) + "_" + database + DumpExtension
	if compressed {
		name += compression.Extension
	}
	return name
}

// ArtifactPath joins dir and ArtifactName
func ArtifactPath(dir string, date time.Time, database string, compressed bool) string {
	return filepath.Join(dir, ArtifactName(date, database, compressed))
}

// IsArtifact reports whether name is a finished compressed artifact
func IsArtifact(name string) bool {
	return strings.HasSuffix(filepath.Base(name), ArtifactExtension)
}

// ParseArtifactName extracts the date and database from a compressed
// artifact's file name. Database names may contain underscores.
func ParseArtifactName(name string) (time.Time, string, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ArtifactExtension) {
		return time.Time{}, "", false
	}
	stem := strings.TrimSuffix(base, ArtifactExtension)

	if len(stem) < len(DateLayout)+2 || stem[len(DateLayout)] != '_' {
		return time.Time{}, "", false
	}
	date, err := time.ParseInLocation(DateLayout, stem[:len(DateLayout)], time.Local)
	if err != nil {
		return time.Time{}, "", false
	}
	return date, stem[len(DateLayout)+1:], true
}

// RemovePartialDumps deletes uncompressed dumps and unfinished compression
// temporaries left directly in dir by interrupted tasks. Finished artifacts
// and unrelated files are kept.
func RemovePartialDumps(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var removed []string
	var firstErr error
	for _, e := range entries {
		if !e.Type().IsRegular() || !isPartialDump(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed = append(removed, e.Name())
	}
	return removed, firstErr
}

func isPartialDump(name string) bool {
	if strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp") &&
		strings.Contains(name, ArtifactExtension+".") {
		return true
	}
	if !strings.HasSuffix(name, DumpExtension) {
		return false
	}
	_, _, ok := ParseArtifactName(name + compression.Extension)
	return ok
}

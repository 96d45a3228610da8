// Package credentials stages MySQL client option files so passwords reach
// mysqldump through --defaults-extra-file instead of argv or the environment.
package credentials

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"mysql-backup-sync/internal/database"
)

// Artifact is a staged option file holding one target's credentials
type Artifact struct {
	Path  string
	Owner string
}

// Stager creates option files and tracks the ones still on disk
type Stager struct {
	dir  string
	mu   sync.Mutex
	live map[string]*Artifact
}

// NewStager creates a stager writing into dir; an empty dir uses os.TempDir()
func NewStager(dir string) *Stager {
	return &Stager{
		dir:  dir,
		live: make(map[string]*Artifact),
	}
}

// Stage writes the target's credentials to a new 0600 file
func (s *Stager) Stage(target database.Target) (*Artifact, error) {
	// CreateTemp opens with mode 0600, so the file is private before any byte is written.
	f, err := os.CreateTemp(s.dir, "mysql-backup-sync-*.cnf")
	if err != nil {
		return nil, fmt.Errorf("failed to create credential file: %w", err)
	}

	artifact := &Artifact{Path: f.Name(), Owner: target.Username}
	s.track(artifact)

	if _, err := f.WriteString(optionFile(target)); err != nil {
		f.Close()
		s.Unstage(artifact)
		return nil, fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := f.Close(); err != nil {
		s.Unstage(artifact)
		return nil, fmt.Errorf("failed to close credential file: %w", err)
	}

	return artifact, nil
}

// Unstage removes the artifact from disk
func (s *Stager) Unstage(a *Artifact) error {
	if a == nil {
		return nil
	}

	s.mu.Lock()
	delete(s.live, a.Path)
	s.mu.Unlock()

	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential file %s: %w", a.Path, err)
	}
	return nil
}

// Sweep removes every artifact still staged. It is used when the run is
// interrupted while tasks hold credentials.
func (s *Stager) Sweep() error {
	s.mu.Lock()
	artifacts := make([]*Artifact, 0, len(s.live))
	for _, a := range s.live {
		artifacts = append(artifacts, a)
	}
	s.mu.Unlock()

	var firstErr error
	for _, a := range artifacts {
		if err := s.Unstage(a); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Live returns the number of artifacts currently on disk
func (s *Stager) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Stager) track(a *Artifact) {
	s.mu.Lock()
	s.live[a.Path] = a
	s.mu.Unlock()
}

// Session is one task's credential slot. At most one artifact is live per
// session; staging again replaces the previous artifact.
type Session struct {
	stager  *Stager
	current *Artifact
}

// NewSession opens a credential slot on the stager
func (s *Stager) NewSession() *Session {
	return &Session{stager: s}
}

// Stage unstages the current artifact, if any, and stages target
func (s *Session) Stage(target database.Target) (*Artifact, error) {
	if err := s.Close(); err != nil {
		return nil, err
	}
	artifact, err := s.stager.Stage(target)
	if err != nil {
		return nil, err
	}
	s.current = artifact
	return artifact, nil
}

// Close unstages the current artifact
func (s *Session) Close() error {
	if s.current == nil {
		return nil
	}
	err := s.stager.Unstage(s.current)
	s.current = nil
	return err
}

// optionFile renders a [client] section. Values are quoted so that '#', ';'
// and whitespace in passwords survive the option file parser.
func optionFile(t database.Target) string {
	var b strings.Builder
	b.WriteString("[client]\n")
	b.WriteString("user=" + quote(t.Username) + "\n")
	b.WriteString("password=" + quote(t.Password) + "\n")
	b.WriteString("host=" + quote(t.Host) + "\n")
	b.WriteString("port=" + strconv.Itoa(t.Port) + "\n")
	return b.String()
}

func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	if !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

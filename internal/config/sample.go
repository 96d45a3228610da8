package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mysql-backup-sync/internal/fingerprint"
	"mysql-backup-sync/internal/logging"
	"mysql-backup-sync/internal/storage"
)

const sampleHeader = `# mysql-backup-sync configuration
#
# hosts, users, passwords and ports are parallel lists: entry i of each
# describes one MySQL server. Every key can be overridden from the
# environment, e.g. MYSQL_BACKUP_SYNC_PARALLELISM=2.
#
# storage.type is one of: git, s3, gcs, azure, minio, sftp, local
# retention_days: -1 keeps forever, 0 keeps today only (git backend)

`

// Sample returns a configuration for one local server backed up to a git repository
func Sample(host, user, password string, port int) *Config {
	if port == 0 {
		port = defaultPort
	}
	return &Config{
		Hosts:         []string{host},
		Users:         []string{user},
		Passwords:     []string{password},
		Ports:         []int{port},
		BackupDir:     "/var/backups/mysql",
		LockFile:      filepath.Join(os.TempDir(), "mysql-backup-sync.lock"),
		Parallelism:   4,
		RetentionDays: 7,
		Incremental:   true,
		Fingerprint:   string(fingerprint.DefaultAlgorithm),
		Dump:          DumpConfig{Binary: "mysqldump"},
		Storage: storage.Config{
			Type: storage.TypeGit,
			Git:  &storage.GitConfig{Remote: "origin"},
		},
		Log: LogConfig{Level: string(logging.LogLevelNormal), Format: "text"},
	}
}

// Marshal renders cfg as commented YAML
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(sampleHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes cfg to path with owner-only permissions. It refuses to
// replace an existing file unless overwrite is set.
func WriteFile(path string, cfg *Config, overwrite bool) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("configuration file %s already exists", path)
		}
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return f.Close()
}

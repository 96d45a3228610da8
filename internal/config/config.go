package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"mysql-backup-sync/internal/database"
	appErrors "mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/fingerprint"
	"mysql-backup-sync/internal/logging"
	"mysql-backup-sync/internal/storage"
)

// EnvPrefix is prepended to every environment override, e.g. MYSQL_BACKUP_SYNC_PARALLELISM
const EnvPrefix = "MYSQL_BACKUP_SYNC"

// DefaultFileName is looked up in the home directory when no --config is given
const DefaultFileName = ".mysql-backup-sync"

const defaultPort = 3306

// Config is the resolved configuration of one backup run
type Config struct {
	Hosts     []string `mapstructure:"hosts" yaml:"hosts"`
	Users     []string `mapstructure:"users" yaml:"users"`
	Passwords []string `mapstructure:"passwords" yaml:"passwords"`
	Ports     []int    `mapstructure:"ports" yaml:"ports"`

	Databases        []string `mapstructure:"databases" yaml:"databases,omitempty"`
	ExcludeDatabases []string `mapstructure:"exclude_databases" yaml:"exclude_databases,omitempty"`

	BackupDir     string `mapstructure:"backup_dir" yaml:"backup_dir"`
	LockFile      string `mapstructure:"lock_file" yaml:"lock_file"`
	Parallelism   int    `mapstructure:"parallelism" yaml:"parallelism"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
	Incremental   bool   `mapstructure:"incremental" yaml:"incremental"`
	Fingerprint   string `mapstructure:"fingerprint" yaml:"fingerprint"`
	DeleteLocal   bool   `mapstructure:"delete_local" yaml:"delete_local"`

	Dump    DumpConfig     `mapstructure:"dump" yaml:"dump"`
	Storage storage.Config `mapstructure:"storage" yaml:"storage"`
	Metrics MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig      `mapstructure:"log" yaml:"log"`
}

// DumpConfig controls the mysqldump invocation
type DumpConfig struct {
	Binary    string   `mapstructure:"binary" yaml:"binary"`
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args,omitempty"`
}

// MetricsConfig points at a node_exporter textfile; empty disables export
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile,omitempty"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backup_dir", "backups")
	v.SetDefault("lock_file", filepath.Join(os.TempDir(), "mysql-backup-sync.lock"))
	v.SetDefault("parallelism", 4)
	v.SetDefault("retention_days", 7)
	v.SetDefault("incremental", true)
	v.SetDefault("fingerprint", string(fingerprint.DefaultAlgorithm))
	v.SetDefault("delete_local", false)
	v.SetDefault("dump.binary", "mysqldump")
	v.SetDefault("storage.type", string(storage.TypeGit))
	v.SetDefault("log.level", string(logging.LogLevelNormal))
	v.SetDefault("log.format", "text")
}

// NewViper creates a viper instance reading cfgFile, or the default file in
// the home directory, with environment overrides under EnvPrefix.
// A missing default file is not an error; a missing explicit file is.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(DefaultFileName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, appErrors.NewConfigurationError("failed to read configuration file", err)
		}
	}

	return v, nil
}

// Load decodes v into a Config. It does not validate.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, appErrors.NewConfigurationError("failed to decode configuration", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// SetDefaults fills values that depend on other fields
func (c *Config) SetDefaults() {
	if len(c.Ports) == 0 && len(c.Hosts) > 0 {
		c.Ports = make([]int, len(c.Hosts))
		for i := range c.Ports {
			c.Ports[i] = defaultPort
		}
	}
	if c.Dump.Binary == "" {
		c.Dump.Binary = "mysqldump"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports every inconsistency at once as a ConfigurationInconsistency error
func (c *Config) Validate() error {
	var errs []error

	if len(c.Hosts) == 0 {
		errs = append(errs, errors.New("at least one host is required"))
	}
	lists := []struct {
		name string
		n    int
	}{{"users", len(c.Users)}, {"passwords", len(c.Passwords)}, {"ports", len(c.Ports)}}
	for _, l := range lists {
		if l.n != len(c.Hosts) {
			errs = append(errs, fmt.Errorf("%s has %d entries but hosts has %d", l.name, l.n, len(c.Hosts)))
		}
	}
	if len(errs) == 0 {
		for i, target := range c.Targets() {
			if err := target.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("target %d: %w", i, err))
			}
		}
	}

	if c.BackupDir == "" {
		errs = append(errs, errors.New("backup_dir is required"))
	}
	if c.LockFile == "" {
		errs = append(errs, errors.New("lock_file is required"))
	} else if c.BackupDir != "" && within(c.BackupDir, c.LockFile) {
		errs = append(errs, errors.New("lock_file must live outside backup_dir"))
	}
	if c.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism must be at least 1, got %d", c.Parallelism))
	}
	if c.RetentionDays < storage.KeepForever {
		errs = append(errs, fmt.Errorf("retention_days must be -1 or greater, got %d", c.RetentionDays))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return appErrors.NewConfigurationError("configuration is inconsistent", errors.Join(errs...))
	}
	return nil
}

// Targets zips the host, user, password and port lists. Callers validate first.
func (c *Config) Targets() []database.Target {
	n := len(c.Hosts)
	for _, l := range []int{len(c.Users), len(c.Passwords), len(c.Ports)} {
		if l < n {
			n = l
		}
	}

	targets := make([]database.Target, 0, n)
	for i := 0; i < n; i++ {
		targets = append(targets, database.Target{
			Host:     c.Hosts[i],
			Port:     c.Ports[i],
			Username: c.Users[i],
			Password: c.Passwords[i],
		})
	}
	return targets
}

// LoggerConfig converts the log section for the logging package
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:   logging.ParseLevel(c.Log.Level),
		Format:  c.Log.Format,
		LogFile: c.Log.File,
	}
}

func within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

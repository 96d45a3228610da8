package database

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Target holds the connection parameters of one MySQL host
type Target struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// String identifies the target in logs without exposing the password
func (t Target) String() string {
	return fmt.Sprintf("%s@%s", t.Username, t.Address())
}

// Address returns host:port
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Validate checks that the target has everything needed to connect
func (t Target) Validate() error {
	var errs []error

	if t.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}

	if t.Port <= 0 || t.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}

	if t.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("target %q is invalid: %w", t.Host, errors.Join(errs...))
	}

	return nil
}

// DSN returns the driver data source name. It is only handed to the in-process
// driver and never to a subprocess.
func (t Target) DSN(timeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = t.Username
	cfg.Passwd = t.Password
	cfg.Net = "tcp"
	cfg.Addr = t.Address()
	cfg.Timeout = timeout
	cfg.ReadTimeout = timeout
	return cfg.FormatDSN()
}

// SystemSchemas are never backed up
var SystemSchemas = map[string]struct{}{
	"information_schema": {},
	"performance_schema": {},
	"mysql":              {},
	"sys":                {},
}

// IsSystemSchema reports whether name is one of the server's own schemas
func IsSystemSchema(name string) bool {
	_, ok := SystemSchemas[name]
	return ok
}

// FilterDatabases applies the include and exclude lists. An empty include list
// keeps every database. Order of names is preserved.
func FilterDatabases(names, include, exclude []string) []string {
	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	filtered := make([]string, 0, len(names))
	for _, name := range names {
		if IsSystemSchema(name) {
			continue
		}
		if len(includeSet) > 0 {
			if _, ok := includeSet[name]; !ok {
				continue
			}
		}
		if _, ok := excludeSet[name]; ok {
			continue
		}
		filtered = append(filtered, name)
	}
	return filtered
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

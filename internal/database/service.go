package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/logging"
)

// Inspector is the connectivity and catalog side of the database capability
type Inspector interface {
	Ping(ctx context.Context, target Target) error
	ListDatabases(ctx context.Context, target Target) ([]string, error)
}

// Service implements Inspector over the MySQL wire protocol
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	classifier        *errors.ErrorClassifier
	open              func(dsn string) (*sql.DB, error)
}

// NewService creates a new database service with default settings
func NewService(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Service{
		connectionTimeout: 10 * time.Second,
		logger:            logger,
		classifier:        errors.NewErrorClassifier(),
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("mysql", dsn)
		},
	}
}

// NewServiceWithTimeout creates a database service with a custom connect timeout
func NewServiceWithTimeout(logger *logging.Logger, timeout time.Duration) *Service {
	s := NewService(logger)
	if timeout > 0 {
		s.connectionTimeout = timeout
	}
	return s
}

// Ping checks that the host accepts a connection with the target's credentials
func (s *Service) Ping(ctx context.Context, target Target) error {
	startTime := time.Now()

	db, err := s.connect(target)
	if err != nil {
		return s.classifier.ClassifyConnectivity(target.Host, err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	err = db.PingContext(pingCtx)

	fields := map[string]interface{}{
		"operation": "database_ping",
		"host":      target.Host,
		"port":      target.Port,
		"duration":  time.Since(startTime).String(),
	}
	if err != nil {
		classified := s.classifier.ClassifyConnectivity(target.Host, err)
		s.logger.WithFields(fields).WithError(err).Debug("Database ping failed")
		return classified
	}

	s.logger.WithFields(fields).Debug("Database ping succeeded")
	return nil
}

// ListDatabases returns the non-system schemas visible to the target's user
func (s *Service) ListDatabases(ctx context.Context, target Target) ([]string, error) {
	db, err := s.connect(target)
	if err != nil {
		return nil, s.classifier.ClassifyConnectivity(target.Host, err)
	}
	defer db.Close()

	queryCtx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	rows, err := db.QueryContext(queryCtx, "SHOW DATABASES")
	if err != nil {
		return nil, s.classifier.ClassifyConnectivity(target.Host, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan database name on %s: %w", target.Host, err)
		}
		if IsSystemSchema(name) {
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list databases on %s: %w", target.Host, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"host":  target.Host,
		"count": len(names),
	}).Debug("Listed databases")

	return names, nil
}

func (s *Service) connect(target Target) (*sql.DB, error) {
	db, err := s.open(target.DSN(s.connectionTimeout))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)
	return db, nil
}

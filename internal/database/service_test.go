package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/logging"
)

func newMockService(t *testing.T, db *sql.DB) *Service {
	t.Helper()
	s := NewService(logging.NewNopLogger())
	s.open = func(string) (*sql.DB, error) { return db, nil }
	return s
}

func testTarget() Target {
	return Target{Host: "db1", Port: 3306, Username: "backup", Password: "pw"}
}

func TestNewService(t *testing.T) {
	service := NewService(nil)
	if service == nil {
		t.Fatal("Expected service to be created")
	}
	if service.connectionTimeout != 10*time.Second {
		t.Errorf("Expected default timeout to be 10s, got %v", service.connectionTimeout)
	}

	custom := NewServiceWithTimeout(nil, 3*time.Second)
	if custom.connectionTimeout != 3*time.Second {
		t.Errorf("Expected timeout to be 3s, got %v", custom.connectionTimeout)
	}
}

func TestPing_Success(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectClose()

	s := newMockService(t, db)
	assert.NoError(t, s.Ping(context.Background(), testTarget()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPing_AccessDenied(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(&mysql.MySQLError{Number: 1045, Message: "Access denied"})
	mock.ExpectClose()

	s := newMockService(t, db)
	err = s.Ping(context.Background(), testTarget())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectivity))
	assert.Contains(t, err.Error(), "db1")
}

func TestListDatabases_ExcludesSystemSchemas(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectQuery("SHOW DATABASES").WillReturnRows(
		sqlmock.NewRows([]string{"Database"}).
			AddRow("information_schema").
			AddRow("app").
			AddRow("mysql").
			AddRow("performance_schema").
			AddRow("billing").
			AddRow("sys"),
	)

	s := newMockService(t, db)
	names, err := s.ListDatabases(context.Background(), testTarget())
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "billing"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDatabases_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectQuery("SHOW DATABASES").WillReturnError(&mysql.MySQLError{Number: 1130, Message: "not allowed"})

	s := newMockService(t, db)
	_, err = s.ListDatabases(context.Background(), testTarget())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectivity))
}

func TestTarget_DSNAndString(t *testing.T) {
	target := Target{Host: "db1.internal", Port: 3307, Username: "backup", Password: "secret"}

	dsn := target.DSN(5 * time.Second)
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "backup", cfg.User)
	assert.Equal(t, "secret", cfg.Passwd)
	assert.Equal(t, "db1.internal:3307", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	assert.Equal(t, "backup@db1.internal:3307", target.String())
	assert.NotContains(t, target.String(), "secret")
}

func TestFilterDatabases(t *testing.T) {
	names := []string{"app", "mysql", "billing", "scratch", "sys"}

	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{"no filters", nil, nil, []string{"app", "billing", "scratch"}},
		{"exclude", nil, []string{"scratch"}, []string{"app", "billing"}},
		{"include", []string{"billing", "missing"}, nil, []string{"billing"}},
		{"include system schema is ignored", []string{"mysql", "app"}, nil, []string{"app"}},
		{"include and exclude", []string{"app", "billing"}, []string{"app"}, []string{"billing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterDatabases(names, tt.include, tt.exclude))
		})
	}
}

func TestTarget_Validate(t *testing.T) {
	assert.NoError(t, testTarget().Validate())

	err := Target{Port: 0}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")
	assert.Contains(t, err.Error(), "port must be between 1 and 65535")
	assert.Contains(t, err.Error(), "username is required")
}

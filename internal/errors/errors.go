package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// ErrorType represents the failure categories of a backup run
type ErrorType string

const (
	// ErrorTypeAlreadyRunning means another run holds the host lock
	ErrorTypeAlreadyRunning ErrorType = "ALREADY_RUNNING"
	// ErrorTypeConnectivity means a host could not be reached or authenticated
	ErrorTypeConnectivity ErrorType = "CONNECTIVITY_FAILURE"
	// ErrorTypeDump means a database dump failed or produced nothing
	ErrorTypeDump ErrorType = "DUMP_FAILURE"
	// ErrorTypeCompression means an artifact could not be compressed
	ErrorTypeCompression ErrorType = "COMPRESSION_FAILURE"
	// ErrorTypeUpload means a storage backend transfer failed
	ErrorTypeUpload ErrorType = "UPLOAD_FAILURE"
	// ErrorTypeConfiguration means the resolved configuration is inconsistent
	ErrorTypeConfiguration ErrorType = "CONFIGURATION_INCONSISTENCY"
	// ErrorTypeRunFailed means at least one unit of a finished run failed
	ErrorTypeRunFailed ErrorType = "RUN_FAILED"
	// ErrorTypeInterruption means the run was stopped by a signal
	ErrorTypeInterruption ErrorType = "INTERRUPTED"
	// ErrorTypeUnknown represents unclassified errors
	ErrorTypeUnknown ErrorType = "UNKNOWN"
)

// RunError is a classified failure with enough context to diagnose it from the logs
type RunError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *RunError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *RunError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *RunError) WithContext(key string, value interface{}) *RunError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsFatal reports whether the error stops the whole run before any work starts
func (e *RunError) IsFatal() bool {
	return e.Type == ErrorTypeAlreadyRunning || e.Type == ErrorTypeConfiguration
}

// NewRunError creates a new RunError
func NewRunError(errorType ErrorType, message string, cause error) *RunError {
	return &RunError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewAlreadyRunningError(pid int, lockPath string) *RunError {
	return NewRunError(ErrorTypeAlreadyRunning,
		fmt.Sprintf("another backup run (pid %d) holds %s", pid, lockPath), nil).
		WithContext("pid", pid).
		WithContext("lock_file", lockPath)
}

func NewConnectivityError(message string, cause error) *RunError {
	return NewRunError(ErrorTypeConnectivity, message, cause)
}

func NewDumpError(message string, cause error) *RunError {
	return NewRunError(ErrorTypeDump, message, cause)
}

func NewCompressionError(message string, cause error) *RunError {
	return NewRunError(ErrorTypeCompression, message, cause)
}

func NewUploadError(message string, cause error) *RunError {
	return NewRunError(ErrorTypeUpload, message, cause)
}

func NewConfigurationError(message string, cause error) *RunError {
	return NewRunError(ErrorTypeConfiguration, message, cause)
}

// NewInterruptionError reports a run stopped by a signal or a cancelled context
func NewInterruptionError(cause error) *RunError {
	return NewRunError(ErrorTypeInterruption, "backup run interrupted", cause)
}

// NewRunFailedError summarizes a run whose catalog of failures is cause
func NewRunFailedError(failed int, cause error) *RunError {
	return NewRunError(ErrorTypeRunFailed, fmt.Sprintf("backup run finished with %d failed unit(s)", failed), cause).
		WithContext("failed_units", failed)
}

// Process exit codes of the CLI
const (
	ExitOK             = 0
	ExitRunFailed      = 1
	ExitConfiguration  = 2
	ExitAlreadyRunning = 3
)

// ExitCode maps err to the process exit code. The outermost RunError decides.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch GetErrorType(err) {
	case ErrorTypeConfiguration:
		return ExitConfiguration
	case ErrorTypeAlreadyRunning:
		return ExitAlreadyRunning
	case ErrorTypeInterruption:
		return InterruptedExitCode
	default:
		return ExitRunFailed
	}
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err (or anything it wraps) is a RunError of the given type
func IsType(err error, errorType ErrorType) bool {
	return err != nil && GetErrorType(err) == errorType
}

// IsFatal reports whether err aborts the run
func IsFatal(err error) bool {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.IsFatal()
	}
	return false
}

// ErrorClassifier turns driver, network and filesystem errors into connectivity
// failures with a message an operator can act on
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyConnectivity classifies an error raised while probing a host
func (ec *ErrorClassifier) ClassifyConnectivity(host string, err error) *RunError {
	if err == nil {
		return nil
	}

	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr
	}

	message := ec.describe(err)
	return NewConnectivityError(fmt.Sprintf("%s: %s", host, message), err).
		WithContext("host", host)
}

func (ec *ErrorClassifier) describe(err error) string {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045:
			return "access denied - check username and password"
		case 1049:
			return "unknown database"
		case 1130:
			return "host is not allowed to connect"
		case 2003, 2005:
			return "cannot connect to MySQL server - server may be down or unreachable"
		case 2006:
			return "MySQL server has gone away"
		default:
			return fmt.Sprintf("MySQL error %d: %s", mysqlErr.Number, mysqlErr.Message)
		}
	}

	if errors.Is(err, sql.ErrConnDone) {
		return "database connection is closed"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "connection timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "connection attempt canceled"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "network operation timed out"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("cannot resolve host %s", dnsErr.Name)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "failed to establish network connection"
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection refused"
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return fmt.Sprintf("cannot access %s", pathErr.Path)
	}

	return "connection check failed"
}

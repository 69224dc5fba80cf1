// Package errors classifies storage errors for the session stores.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DatabaseErrorType represents the type of database error.
type DatabaseErrorType int

const (
	// ErrorTypeUnknown represents an unknown database error.
	ErrorTypeUnknown DatabaseErrorType = iota
	// ErrorTypeNotFound represents a record not found error.
	ErrorTypeNotFound
	// ErrorTypeDuplicateKey represents a duplicate key constraint violation (MySQL 1062).
	ErrorTypeDuplicateKey
	// ErrorTypeDataTooLong represents a payload larger than its column (MySQL 1406).
	ErrorTypeDataTooLong
	// ErrorTypeDeadlock represents a deadlock or lock wait timeout (MySQL 1213, 1205).
	ErrorTypeDeadlock
	// ErrorTypeMissingTable represents a table that was never migrated (MySQL 1146).
	ErrorTypeMissingTable
	// ErrorTypeConnectionError represents a database connection error.
	ErrorTypeConnectionError
)

func (t DatabaseErrorType) String() string {
	switch t {
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeDuplicateKey:
		return "duplicate_key"
	case ErrorTypeDataTooLong:
		return "data_too_long"
	case ErrorTypeDeadlock:
		return "deadlock"
	case ErrorTypeMissingTable:
		return "missing_table"
	case ErrorTypeConnectionError:
		return "connection"
	default:
		return "unknown"
	}
}

// DatabaseError wraps a database error with classification information.
type DatabaseError struct {
	Type         DatabaseErrorType
	OriginalErr  error
	MySQLErrCode uint16
	Message      string
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.MySQLErrCode > 0 {
		return fmt.Sprintf("%s (MySQL error %d): %v", e.Message, e.MySQLErrCode, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// Retryable reports whether repeating the statement may succeed.
func (e *DatabaseError) Retryable() bool {
	return e.Type == ErrorTypeDeadlock || e.Type == ErrorTypeConnectionError
}

// ClassifyDBError classifies a database error into a specific error type.
//
//   - gorm.ErrRecordNotFound → ErrorTypeNotFound
//   - MySQL 1062 → ErrorTypeDuplicateKey
//   - MySQL 1406 → ErrorTypeDataTooLong
//   - MySQL 1213, 1205 → ErrorTypeDeadlock
//   - MySQL 1146 → ErrorTypeMissingTable
//   - dial, reset and timeout messages → ErrorTypeConnectionError
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{Type: ErrorTypeNotFound, OriginalErr: err, Message: "record not found"}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return classifyMySQLError(mysqlErr)
	}

	if errors.Is(err, mysql.ErrInvalidConn) || isConnectionError(err.Error()) {
		return &DatabaseError{Type: ErrorTypeConnectionError, OriginalErr: err, Message: "database connection error"}
	}

	return &DatabaseError{Type: ErrorTypeUnknown, OriginalErr: err, Message: "unknown database error"}
}

func classifyMySQLError(err *mysql.MySQLError) *DatabaseError {
	d := &DatabaseError{OriginalErr: err, MySQLErrCode: err.Number}
	switch err.Number {
	case 1062: // ER_DUP_ENTRY
		d.Type, d.Message = ErrorTypeDuplicateKey, "duplicate key constraint violation"
	case 1406: // ER_DATA_TOO_LONG
		d.Type, d.Message = ErrorTypeDataTooLong, "data too long for column"
	case 1213: // ER_LOCK_DEADLOCK
		d.Type, d.Message = ErrorTypeDeadlock, "deadlock detected"
	case 1205: // ER_LOCK_WAIT_TIMEOUT
		d.Type, d.Message = ErrorTypeDeadlock, "lock wait timeout exceeded"
	case 1146: // ER_NO_SUCH_TABLE
		d.Type, d.Message = ErrorTypeMissingTable, "table does not exist"
	default:
		d.Type, d.Message = ErrorTypeUnknown, "MySQL error"
	}
	return d
}

var connectionKeywords = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"connection lost",
	"can't connect",
	"dial tcp",
}

func isConnectionError(errMsg string) bool {
	msg := strings.ToLower(errMsg)
	for _, keyword := range connectionKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

// IsNotFoundError checks if the error is a record not found error.
func IsNotFoundError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == ErrorTypeNotFound
}

// IsRetryable checks if the error is transient (deadlock or lost connection).
func IsRetryable(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Retryable()
}

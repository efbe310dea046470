package db

import (
	"strings"

	"github.com/weavel-fastllm/fastllm/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed
// database. This occurs during shutdown when the connection is closed while
// an in-flight run is still persisting its log.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is
// closed. Handles both wrapped ErrDatabaseClosed errors and raw sql driver
// errors, which cannot be wrapped at their source.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "database is closed") ||
		strings.Contains(errMsg, "sql: database is closed")
}

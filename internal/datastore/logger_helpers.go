// Package datastore provides helper functions for logging and metrics
package datastore

import (
	"errors"
	"regexp"
	"strings"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// sqlUnknown is used when SQL operation or table cannot be determined.
const sqlUnknown = "unknown"

// sqlStatements pairs each statement kind with the pattern that
// captures its target table. The optional quote class covers the
// identifier quoting of both supported dialects (backtick and double
// quote) plus sqlite's single quote.
var sqlStatements = []struct {
	operation string
	pattern   *regexp.Regexp
}{
	{"select", regexp.MustCompile(`(?i)^\s*SELECT\s+.*?\s+FROM\s+['"\x60]?(\w+)['"\x60]?`)},
	{"insert", regexp.MustCompile(`(?i)^\s*INSERT\s+INTO\s+['"\x60]?(\w+)['"\x60]?`)},
	{"update", regexp.MustCompile(`(?i)^\s*UPDATE\s+['"\x60]?(\w+)['"\x60]?`)},
	{"delete", regexp.MustCompile(`(?i)^\s*DELETE\s+FROM\s+['"\x60]?(\w+)['"\x60]?`)},
	{"create", regexp.MustCompile(`(?i)^\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?['"\x60]?(\w+)['"\x60]?`)},
	{"drop", regexp.MustCompile(`(?i)^\s*DROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?['"\x60]?(\w+)['"\x60]?`)},
	{"alter", regexp.MustCompile(`(?i)^\s*ALTER\s+TABLE\s+['"\x60]?(\w+)['"\x60]?`)},
}

// parseSQLOperation extracts the operation type and table name from a
// SQL statement, for metrics and slow-query log labels.
func parseSQLOperation(sql string) (operation, table string) {
	sql = strings.TrimSpace(sql)
	for _, s := range sqlStatements {
		if m := s.pattern.FindStringSubmatch(sql); len(m) > 1 {
			return s.operation, m[1]
		}
	}
	return sqlUnknown, sqlUnknown
}

// categorizeError categorizes database errors for metrics
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}

	// Typed driver errors beat string matching when the driver exposes
	// them; the string fallback below covers wrapped and pooled errors
	// that lose their concrete type.
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return "database_locked"
		case sqlite3.ErrConstraint:
			return "constraint_violation"
		case sqlite3.ErrFull:
			return "disk_full"
		}
	}
	var mysqlErr *mysqldrv.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062:
			return "constraint_violation"
		case 1205:
			return "timeout"
		case 1213:
			return "deadlock"
		case 1452:
			return "foreign_key_violation"
		}
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "duplicate entry"):
		return "constraint_violation"
	case strings.Contains(errStr, "deadlock"):
		return "deadlock"
	case strings.Contains(errStr, "foreign key"):
		return "foreign_key_violation"
	case strings.Contains(errStr, "not null"):
		return "null_violation"
	case strings.Contains(errStr, "database is locked"):
		return "database_locked"
	case strings.Contains(errStr, "connection"):
		return "connection_error"
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "syntax"):
		return "syntax_error"
	case strings.Contains(errStr, "permission") || strings.Contains(errStr, "denied"):
		return "permission_denied"
	case strings.Contains(errStr, "disk full") || strings.Contains(errStr, "no space"):
		return "disk_full"
	default:
		return "other"
	}
}

// isRetryableError reports whether a write failure is worth another
// attempt. Constraint and validation failures never clear up on retry;
// lock contention, connection drops and timeouts often do.
func isRetryableError(err error) bool {
	switch categorizeError(err) {
	case "database_locked", "connection_error", "timeout", "deadlock", "disk_full":
		return true
	default:
		return false
	}
}

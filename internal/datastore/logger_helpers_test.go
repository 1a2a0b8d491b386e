// logger_helpers_test.go: SQL statement parsing and error categorization tests
package datastore

import (
	"errors"
	"fmt"
	"testing"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestParseSQLOperation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		sql       string
		operation string
		table     string
	}{
		{"select", "SELECT id, common_name FROM species WHERE id = ?", "select", "species"},
		{"select backtick", "SELECT * FROM `observations` LIMIT 10", "select", "observations"},
		{"insert", "INSERT INTO observations (id) VALUES (?)", "insert", "observations"},
		{"update", `UPDATE "species_image_caches" SET url = ?`, "update", "species_image_caches"},
		{"delete", "DELETE FROM diseases WHERE id = ?", "delete", "diseases"},
		{"create", "CREATE TABLE IF NOT EXISTS observations (id text)", "create", "observations"},
		{"drop", "DROP TABLE IF EXISTS legacy_results", "drop", "legacy_results"},
		{"alter", "ALTER TABLE species ADD COLUMN genus text", "alter", "species"},
		{"leading whitespace", "  \n\tselect one from dual", "select", "dual"},
		{"pragma", "PRAGMA foreign_keys = ON", sqlUnknown, sqlUnknown},
		{"empty", "", sqlUnknown, sqlUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			operation, table := parseSQLOperation(tt.sql)
			assert.Equal(t, tt.operation, operation)
			assert.Equal(t, tt.table, table)
		})
	}
}

func TestCategorizeError_TypedDriverErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "none"},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, "database_locked"},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, "database_locked"},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, "constraint_violation"},
		{"sqlite full", sqlite3.Error{Code: sqlite3.ErrFull}, "disk_full"},
		{"mysql duplicate", &mysqldrv.MySQLError{Number: 1062, Message: "Duplicate entry"}, "constraint_violation"},
		{"mysql lock timeout", &mysqldrv.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, "timeout"},
		{"mysql deadlock", &mysqldrv.MySQLError{Number: 1213, Message: "Deadlock found"}, "deadlock"},
		{"mysql fk", &mysqldrv.MySQLError{Number: 1452, Message: "Cannot add or update a child row"}, "foreign_key_violation"},
		{"wrapped sqlite", fmt.Errorf("insert observation: %w", sqlite3.Error{Code: sqlite3.ErrConstraint}), "constraint_violation"},
		{"string fallback locked", errors.New("database is locked"), "database_locked"},
		{"string fallback connection", errors.New("connection refused"), "connection_error"},
		{"unclassified", errors.New("something else entirely"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, categorizeError(tt.err))
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	assert.True(t, isRetryableError(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, isRetryableError(&mysqldrv.MySQLError{Number: 1213, Message: "Deadlock found"}))
	assert.True(t, isRetryableError(errors.New("i/o timeout")))
	assert.False(t, isRetryableError(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, isRetryableError(errors.New("syntax error near SELECT")))
}

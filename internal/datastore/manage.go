package datastore

import (
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/observability/metrics"
)

const (
	// DefaultSlowQueryThreshold defines the duration after which a query is
	// considered slow. 1 second accommodates migration batch queries which
	// can take 800-900ms while still flagging queries that need attention.
	DefaultSlowQueryThreshold = 1 * time.Second

	// MaxColumnsForDetailedDisplay defines the maximum number of columns to
	// list in migration logs before only the count is shown.
	MaxColumnsForDetailedDisplay = 5
)

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger(dbMetrics *metrics.DatastoreMetrics) gormlogger.Interface {
	return NewGormLogger(DefaultSlowQueryThreshold, gormlogger.Warn, dbMetrics)
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	migrationStart := time.Now()
	migrationLogger := getLogger().With("db_type", dbType)

	migrationLogger.Debug("Starting database migration",
		"connection", redactDSN(connectionInfo))

	successCount, err := migrateTables(db, dbType, migrationLogger)
	if err != nil {
		return err
	}

	if err := createOptimizedIndexes(db, dbType, migrationLogger); err != nil {
		return err
	}

	migrationLogger.Debug("Database migration completed successfully",
		"total_duration", time.Since(migrationStart),
		"tables_migrated", successCount)

	return nil
}

// migrateTables performs the actual table migrations
func migrateTables(db *gorm.DB, dbType string, migrationLogger *slog.Logger) (int, error) {
	tableMappings := []struct {
		model any
		name  string
	}{
		{&Species{}, "species"},
		{&SpeciesLocale{}, "species_locales"},
		{&Disease{}, "diseases"},
		{&DiseaseLocale{}, "disease_locales"},
		{&Observation{}, "observations"},
		{&SpeciesImageCache{}, "species_image_caches"},
	}

	migrationLogger.Debug("Starting table migrations",
		"table_count", len(tableMappings))

	// Migrate each table individually for better logging
	successCount := 0
	for _, table := range tableMappings {
		if err := migrateTable(db, table.model, table.name, dbType); err != nil {
			return successCount, err
		}
		successCount++
	}

	return successCount, nil
}

// migrateTable migrates a single table with detailed logging
func migrateTable(db *gorm.DB, model any, tableName, dbType string) error {
	tableStart := time.Now()

	tableExists := db.Migrator().HasTable(model)

	getLogger().Debug("Migrating table",
		"table", tableName,
		"exists", tableExists)

	columnsBefore := getTableColumns(db, model, tableExists)

	if err := db.AutoMigrate(model); err != nil {
		enhancedErr := dbError(err, "auto_migrate_table", "critical",
			"db_type", dbType,
			"table", tableName,
			"action", "database_schema_setup")

		getLogger().Error("Table migration failed",
			"table", tableName,
			"error", enhancedErr)
		return enhancedErr
	}

	action, addedColumns := determineTableChanges(db, model, tableExists, columnsBefore)
	logTableMigration(tableName, action, addedColumns, time.Since(tableStart))

	return nil
}

// getTableColumns retrieves column names for a table
func getTableColumns(db *gorm.DB, model any, tableExists bool) []string {
	var columns []string
	if tableExists {
		if cols, err := db.Migrator().ColumnTypes(model); err == nil {
			for _, col := range cols {
				columns = append(columns, col.Name())
			}
		}
	}
	return columns
}

// determineTableChanges checks what changed after migration
func determineTableChanges(db *gorm.DB, model any, tableExists bool, columnsBefore []string) (action string, addedColumns []string) {
	action = "updated"

	if !tableExists {
		action = "created"
		if cols, err := db.Migrator().ColumnTypes(model); err == nil {
			for _, col := range cols {
				addedColumns = append(addedColumns, col.Name())
			}
		}
	} else {
		addedColumns = findNewColumns(db, model, columnsBefore)
		if len(addedColumns) == 0 {
			action = "unchanged"
		}
	}

	return action, addedColumns
}

// findNewColumns identifies columns added during migration
func findNewColumns(db *gorm.DB, model any, columnsBefore []string) []string {
	var addedColumns []string

	if cols, err := db.Migrator().ColumnTypes(model); err == nil {
		for _, col := range cols {
			colName := col.Name()
			if !slices.Contains(columnsBefore, colName) {
				addedColumns = append(addedColumns, colName)
			}
		}
	}

	return addedColumns
}

// createOptimizedIndexes creates composite indexes the query layer leans
// on: observations filtered by species and time are the hot path.
func createOptimizedIndexes(db *gorm.DB, dbType string, migrationLogger *slog.Logger) error {
	indexStart := time.Now()
	indexName := "idx_observations_sciname_observedat"
	tableName := "observations"

	if db.Migrator().HasIndex(&Observation{}, indexName) {
		migrationLogger.Debug("Optimized index already exists, skipping creation",
			"index", indexName,
			"table", tableName)
		return nil
	}

	if err := db.Exec(
		"CREATE INDEX " + indexName + " ON " + tableName + " (species_scientific_name, observed_at)",
	).Error; err != nil {
		errMsg := strings.ToLower(err.Error())
		isDuplicateIndex := strings.Contains(errMsg, "duplicate key name") ||
			strings.Contains(errMsg, "already exists") ||
			strings.Contains(errMsg, "duplicate")

		if isDuplicateIndex {
			migrationLogger.Debug("Index already exists, continuing",
				"index", indexName,
				"table", tableName)
			return nil
		}

		return dbError(err, "create_optimized_index", "",
			"db_type", dbType,
			"index_name", indexName,
			"table_name", tableName)
	}

	migrationLogger.Debug("Optimized index created successfully",
		"index", indexName,
		"table", tableName,
		"duration", time.Since(indexStart))

	return nil
}

// logTableMigration logs the result of a table migration
func logTableMigration(tableName, action string, addedColumns []string, duration time.Duration) {
	logArgs := []any{
		"table", tableName,
		"action", action,
		"duration", duration,
	}

	if len(addedColumns) > 0 {
		logArgs = append(logArgs, "columns_added", len(addedColumns))
		if len(addedColumns) <= MaxColumnsForDetailedDisplay {
			logArgs = append(logArgs, "new_columns", addedColumns)
		}
	}

	getLogger().Debug("Table migration completed", logArgs...)
}

// redactDSN strips the password from a MySQL DSN for log output.
func redactDSN(dsn string) string {
	parseInput := dsn
	if !strings.Contains(parseInput, "://") {
		parseInput = "dummy://" + parseInput
	}

	u, err := url.Parse(parseInput)
	if err != nil {
		return "[REDACTED DSN]"
	}

	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "[REDACTED]")
		}
	}

	return strings.TrimPrefix(u.String(), "dummy://")
}

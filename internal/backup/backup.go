// Package backup produces point-in-time archives of the observation
// database and the image artifact tree and ships them to configured
// targets (local directory, FTP, SFTP).
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/logging"
)

const (
	// archivePrefix and archiveExt frame every backup file name. The
	// timestamp between them sorts lexically in creation order.
	archivePrefix = "culicidaelab-backup-"
	archiveExt    = ".tar.gz"

	// timestampLayout is UTC and free of path-hostile characters.
	timestampLayout = "20060102-150405"

	snapshotFileName = "database.db"
	artifactDirName  = "artifacts"

	snapshotTimeout = 5 * time.Minute
	storeTimeout    = 15 * time.Minute
)

// Manager orchestrates backup runs: snapshot, archive, upload, prune.
type Manager struct {
	settings *conf.Settings
	targets  []Target
	logger   *slog.Logger
}

// NewManager builds a manager with one Target per enabled entry in the
// backup configuration. A disabled target entry is skipped silently; a
// misconfigured one fails construction.
func NewManager(settings *conf.Settings) (*Manager, error) {
	m := &Manager{
		settings: settings,
		logger:   getLoggerSafe("backup"),
	}

	for i := range settings.Backup.Targets {
		tc := &settings.Backup.Targets[i]
		if !tc.Enabled {
			continue
		}
		target, err := NewTarget(tc)
		if err != nil {
			return nil, err
		}
		m.targets = append(m.targets, target)
	}

	return m, nil
}

// Targets returns the names of the registered targets.
func (m *Manager) Targets() []string {
	names := make([]string, 0, len(m.targets))
	for _, t := range m.targets {
		names = append(names, t.Name())
	}
	return names
}

// Run performs one full backup: it snapshots the SQLite database,
// archives the snapshot together with the artifact tree, stores the
// archive on every target, and prunes local targets per the retention
// policy. Targets are independent; a failing upload does not stop the
// others, and the first failure is returned after all have been tried.
func (m *Manager) Run(ctx context.Context) error {
	if len(m.targets) == 0 {
		return errors.Newf("no backup targets configured").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}

	start := time.Now().UTC()
	stamp := start.Format(timestampLayout)

	tempDir, err := os.MkdirTemp("", "culicidaelab-backup-*")
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "create_temp_dir").
			Build()
	}
	defer os.RemoveAll(tempDir)

	snapshotPath := filepath.Join(tempDir, snapshotFileName)
	if err := m.snapshotDatabase(ctx, snapshotPath); err != nil {
		return err
	}

	archivePath := filepath.Join(tempDir, archivePrefix+stamp+archiveExt)
	if err := m.writeArchive(ctx, archivePath, snapshotPath); err != nil {
		return err
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "stat_archive").
			Build()
	}

	var firstErr error
	for _, target := range m.targets {
		storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		err := target.Store(storeCtx, archivePath)
		cancel()
		if err != nil {
			m.logger.Error("backup upload failed",
				"target", target.Name(),
				"archive", filepath.Base(archivePath),
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.logger.Info("backup stored",
			"target", target.Name(),
			"archive", filepath.Base(archivePath),
			"size_bytes", info.Size())
	}

	if err := m.pruneTargets(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr == nil {
		m.logger.Info("backup run complete",
			"targets", len(m.targets),
			"size_bytes", info.Size(),
			"duration_ms", time.Since(start).Milliseconds())
	}
	return firstErr
}

// snapshotDatabase writes a consistent copy of the SQLite database to
// dest. A plain file copy can tear pages while a writer holds the WAL;
// VACUUM INTO serializes the snapshot through SQLite itself and leaves
// the live connections untouched.
func (m *Manager) snapshotDatabase(ctx context.Context, dest string) error {
	if !m.settings.Output.SQLite.Enabled {
		return errors.Newf("backup requires the SQLite output to be enabled").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}

	dir, fileName := filepath.Split(m.settings.Output.SQLite.Path)
	dbPath := filepath.Join(conf.GetBasePath(dir), fileName)

	if _, err := os.Stat(dbPath); err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "locate_database").
			Context("path", dbPath).
			Build()
	}

	snapCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "open_database").
			Context("path", dbPath).
			Build()
	}
	defer func() {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	}()

	if err := db.WithContext(snapCtx).Exec("VACUUM INTO ?", dest).Error; err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryBackup).
			Context("operation", "vacuum_into").
			Context("path", dbPath).
			Build()
	}

	if m.settings.Backup.Debug {
		if info, err := os.Stat(dest); err == nil {
			m.logger.Debug("database snapshot written",
				"path", dest, "size_bytes", info.Size())
		}
	}
	return nil
}

// writeArchive builds a gzipped tar containing the database snapshot
// and, when an artifact root is configured, the full artifact tree
// under the artifacts/ prefix.
func (m *Manager) writeArchive(ctx context.Context, dest, snapshotPath string) error {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return archiveError(err, "create_archive", dest)
	}
	defer out.Close()

	gzWriter := gzip.NewWriter(out)
	tarWriter := tar.NewWriter(gzWriter)

	if err := m.addFileToArchive(tarWriter, snapshotPath, snapshotFileName); err != nil {
		return err
	}

	if root := m.settings.Artifacts.Root; root != "" {
		if err := m.addArtifactTree(ctx, tarWriter, root); err != nil {
			return err
		}
	}

	if err := tarWriter.Close(); err != nil {
		return archiveError(err, "close_tar", dest)
	}
	if err := gzWriter.Close(); err != nil {
		return archiveError(err, "close_gzip", dest)
	}
	if err := out.Sync(); err != nil {
		return archiveError(err, "sync_archive", dest)
	}
	return nil
}

func (m *Manager) addArtifactTree(ctx context.Context, tw *tar.Writer, root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		m.logger.Warn("artifact root does not exist, archiving database only",
			"root", root)
		return nil
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return archiveError(err, "walk_artifacts", path)
		}
		if err := ctx.Err(); err != nil {
			return errors.New(err).
				Component("backup").
				Category(errors.CategoryCancellation).
				Context("operation", "archive_artifacts").
				Build()
		}
		if d.IsDir() {
			return nil
		}
		// Variants still being written land under temp names with a
		// leading dot and are skipped.
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return archiveError(err, "relativize_artifact", path)
		}
		entryName := filepath.ToSlash(filepath.Join(artifactDirName, rel))
		return m.addFileToArchive(tw, path, entryName)
	})
}

func (m *Manager) addFileToArchive(tw *tar.Writer, path, entryName string) error {
	info, err := os.Stat(path)
	if err != nil {
		return archiveError(err, "stat_entry", path)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return archiveError(err, "build_header", path)
	}
	header.Name = entryName

	if err := tw.WriteHeader(header); err != nil {
		return archiveError(err, "write_header", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return archiveError(err, "open_entry", path)
	}
	defer file.Close()

	if _, err := io.Copy(tw, file); err != nil {
		return archiveError(err, "copy_entry", path)
	}
	return nil
}

// pruneTargets enforces the retention policy on every target that can
// enumerate and delete its own backups. Remote archival targets only
// accept uploads, so pruning stays a local concern.
func (m *Manager) pruneTargets(ctx context.Context) error {
	retention := m.settings.Backup.Retention
	maxAge, err := parseRetentionAge(retention.MaxAge)
	if err != nil {
		m.logger.Warn("invalid retention age, pruning by count only",
			"maxage", retention.MaxAge, "error", err)
		maxAge = 0
	}

	var firstErr error
	for _, target := range m.targets {
		p, ok := target.(prunable)
		if !ok {
			continue
		}

		backups, err := p.List(ctx)
		if err != nil {
			m.logger.Error("failed to list backups for pruning",
				"target", target.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		sort.Slice(backups, func(i, j int) bool {
			return backups[i].Timestamp.After(backups[j].Timestamp)
		})

		for i := range backups {
			if shouldKeep(i, &backups[i], maxAge, retention.MinBackups, retention.MaxBackups) {
				continue
			}
			if err := p.Delete(ctx, backups[i].Name); err != nil {
				m.logger.Error("failed to prune backup",
					"target", target.Name(),
					"backup", backups[i].Name,
					"error", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if m.settings.Backup.Debug {
				m.logger.Debug("pruned backup",
					"target", target.Name(), "backup", backups[i].Name)
			}
		}
	}
	return firstErr
}

// shouldKeep decides whether the backup at the given recency index
// survives pruning. Index 0 is the newest backup.
func shouldKeep(index int, b *StoredBackup, maxAge time.Duration, minBackups, maxBackups int) bool {
	if index < minBackups {
		return true
	}
	if maxAge > 0 && time.Since(b.Timestamp) < maxAge {
		return true
	}
	if maxBackups > 0 && index < maxBackups {
		return true
	}
	return false
}

// parseRetentionAge parses a retention age such as "30d", "6m" or "1y"
// into a duration. Months and years are approximated at 30 and 365
// days. An empty string disables age-based retention.
func parseRetentionAge(age string) (time.Duration, error) {
	if age == "" {
		return 0, nil
	}

	var num int
	var unit string
	if _, err := fmt.Sscanf(age, "%d%s", &num, &unit); err != nil {
		return 0, errors.Newf("invalid retention age format: %s", age).
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}
	if num < 0 {
		return 0, errors.Newf("retention age cannot be negative: %s", age).
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}

	switch unit {
	case "d":
		return time.Duration(num) * 24 * time.Hour, nil
	case "m":
		return time.Duration(num) * 30 * 24 * time.Hour, nil
	case "y":
		return time.Duration(num) * 365 * 24 * time.Hour, nil
	default:
		return 0, errors.Newf("invalid retention age unit: %s", unit).
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}
}

func archiveError(err error, operation, path string) error {
	return errors.New(err).
		Component("backup").
		Category(errors.CategoryBackup).
		Context("operation", operation).
		Context("path", path).
		Build()
}

// getLoggerSafe returns a service logger, falling back to the default
// logger when the logging subsystem has not been initialized.
func getLoggerSafe(service string) *slog.Logger {
	logger := logging.ForService(service)
	if logger == nil {
		logger = slog.Default().With("service", service)
	}
	return logger
}

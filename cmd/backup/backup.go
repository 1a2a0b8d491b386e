// Package backup provides the backup command for CulicidaeLab-Go
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/backup"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/logging"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/notify"
)

const (
	backupTimeout = 10 * time.Minute
	notifyTimeout = 30 * time.Second
)

// Command creates and returns the backup command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Perform an immediate backup of the database and artifact tree",
		Long:  `Backup command uses the configured backup settings to create an immediate backup of the observation database and the stored image artifacts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(settings)
		},
	}

	return cmd
}

func runBackup(settings *conf.Settings) error {
	logging.Init()

	if !settings.Backup.Enabled {
		return errors.Newf("backup functionality is not enabled in configuration").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}

	// Create a backup manager with one target per enabled config entry
	manager, err := backup.NewManager(settings)
	if err != nil {
		return err
	}

	// Create a context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	// Run the backup
	if err := manager.Run(ctx); err != nil {
		notifyBackupFailure(settings, strings.Join(manager.Targets(), ", "), err)
		return err
	}

	fmt.Println("Backup completed successfully")
	return nil
}

// notifyBackupFailure alerts the operator through the configured
// notification services. Alerting trouble is logged, never returned; the
// backup error itself is what the caller reports.
func notifyBackupFailure(settings *conf.Settings, targets string, runErr error) {
	notifier, err := notify.New(settings, nil)
	if err != nil || !notifier.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := notifier.BackupFailure(ctx, targets, runErr); err != nil {
		slog.Warn("backup failure notification failed", "error", err)
	}
}

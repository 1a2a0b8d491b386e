// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"strconv"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	// Validate model settings
	if err := validateModelSettings(&settings.Model); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate artifact pipeline settings
	if err := validateArtifactsSettings(&settings.Artifacts); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate reference catalog settings
	if err := validateReferenceSettings(&settings.Reference); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate WebServer settings
	if err := validateWebServerSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate output settings
	if err := validateOutputSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate notification settings
	if err := validateNotificationSettings(&settings.Notification); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate backup settings
	if err := validateBackupSettings(&settings.Backup); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// If there are any errors, return the ValidationError
	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateModelSettings validates the classifier model settings
func validateModelSettings(settings *ModelConfig) error {
	var errs []string

	if settings.Identifier == "" {
		errs = append(errs, "model identifier must not be empty")
	}

	// Check if threads is non-negative
	if settings.Threads < 0 {
		errs = append(errs, "model threads must be at least 0")
	}

	// If there are any errors, return them as a single error
	if len(errs) > 0 {
		return fmt.Errorf("model settings errors: %v", errs)
	}

	return nil
}

// validateArtifactsSettings validates the image artifact pipeline settings
func validateArtifactsSettings(settings *ArtifactsConfig) error {
	var errs []string

	if settings.MaxUploadBytes <= 0 {
		errs = append(errs, "artifacts maxuploadbytes must be positive")
	}

	if settings.PipelineTimeout <= 0 {
		errs = append(errs, "artifacts pipelinetimeout must be positive")
	}

	if settings.MinDimension < 1 {
		errs = append(errs, "artifacts mindimension must be at least 1")
	}

	if settings.MaxDimension <= settings.MinDimension {
		errs = append(errs, "artifacts maxdimension must be greater than mindimension")
	}

	if settings.MaxDiskUsage != "" {
		percent, err := ParsePercentage(settings.MaxDiskUsage)
		if err != nil {
			errs = append(errs, fmt.Sprintf("artifacts maxdiskusage is not a valid percentage: %v", err))
		} else if percent <= 0 || percent > 100 {
			errs = append(errs, "artifacts maxdiskusage must be between 0% and 100%")
		}
	}

	// Storage root is only needed when persistence is on
	if settings.Enabled && settings.Root == "" {
		errs = append(errs, "artifacts root must be set when artifact persistence is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("artifacts settings errors: %v", errs)
	}

	return nil
}

// validateReferenceSettings validates the reference catalog settings
func validateReferenceSettings(settings *ReferenceConfig) error {
	var errs []string

	if _, err := NormalizeLocale(settings.DefaultLocale); err != nil {
		errs = append(errs, fmt.Sprintf("reference defaultlocale: %v", err))
	}

	if settings.CacheTTL < 0 {
		errs = append(errs, "reference cachettl must not be negative")
	}

	if settings.SimilarityLimit < 1 {
		errs = append(errs, "reference similaritylimit must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("reference settings errors: %v", errs)
	}

	return nil
}

// validateWebServerSettings validates the WebServer-specific settings
func validateWebServerSettings(settings *Settings) error {
	if settings.WebServer.Enabled {
		// Check if port is provided when enabled
		if settings.WebServer.Port == "" {
			return errors.New("WebServer port is required when enabled")
		}
		port, err := strconv.Atoi(settings.WebServer.Port)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("WebServer port must be a number between 1 and 65535, got %q", settings.WebServer.Port)
		}
	}

	if settings.WebServer.RateLimit < 0 {
		return errors.New("WebServer ratelimit must not be negative")
	}

	return nil
}

// validateOutputSettings validates the database and MQTT output settings
func validateOutputSettings(settings *Settings) error {
	var errs []string

	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path == "" {
		errs = append(errs, "SQLite output path must be set when SQLite output is enabled")
	}

	if settings.Output.MySQL.Enabled {
		if settings.Output.MySQL.Host == "" {
			errs = append(errs, "MySQL host must be set when MySQL output is enabled")
		}
		if settings.Output.MySQL.Database == "" {
			errs = append(errs, "MySQL database must be set when MySQL output is enabled")
		}
		if settings.Output.MySQL.Username == "" {
			errs = append(errs, "MySQL username must be set when MySQL output is enabled")
		}
	}

	if settings.Output.MQTT.Enabled {
		if settings.Output.MQTT.Broker == "" {
			errs = append(errs, "MQTT broker must be set when MQTT output is enabled")
		}
		if settings.Output.MQTT.Topic == "" {
			errs = append(errs, "MQTT topic must be set when MQTT output is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("output settings errors: %v", errs)
	}

	return nil
}

// validateNotificationSettings validates the operator alerting settings
func validateNotificationSettings(settings *NotificationConfig) error {
	if settings.Enabled && len(settings.URLs) == 0 {
		return errors.New("notification urls must be set when notifications are enabled")
	}
	return nil
}

// validBackupTargetTypes lists the backup target types the backup package implements.
var validBackupTargetTypes = map[string]bool{
	"local": true,
	"ftp":   true,
	"sftp":  true,
}

// validateBackupSettings validates the backup settings
func validateBackupSettings(settings *BackupConfig) error {
	if !settings.Enabled {
		return nil
	}

	var errs []string

	if len(settings.Targets) == 0 {
		errs = append(errs, "at least one backup target must be configured when backups are enabled")
	}

	for i := range settings.Targets {
		target := &settings.Targets[i]
		if !validBackupTargetTypes[target.Type] {
			errs = append(errs, fmt.Sprintf("backup target %d has unknown type %q", i, target.Type))
		}
	}

	if settings.Retention.MaxAge != "" {
		if _, err := ParseRetentionPeriod(settings.Retention.MaxAge); err != nil {
			errs = append(errs, fmt.Sprintf("backup retention maxage: %v", err))
		}
	}

	if settings.Retention.MinBackups > settings.Retention.MaxBackups && settings.Retention.MaxBackups > 0 {
		errs = append(errs, "backup retention minbackups must not exceed maxbackups")
	}

	if len(errs) > 0 {
		return fmt.Errorf("backup settings errors: %v", errs)
	}

	return nil
}

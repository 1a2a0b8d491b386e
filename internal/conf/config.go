// config.go: configuration structures and loading for CulicidaeLab-Go
package conf

import (
	"crypto/rand"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// ModelConfig contains the classifier model settings.
type ModelConfig struct {
	Debug       bool   // true to enable debug mode
	Identifier  string // model identifier reported in results, e.g. "culicidaelab-classifier_v1"
	WeightsPath string // path to external model weights file
	LabelsPath  string // path to external model labels file
	Threads     int    // number of TFLite threads, 0 to use all performance cores
	UseXNNPACK  bool   // true to use XNNPACK delegate for inference
}

// ArtifactsConfig contains the image artifact pipeline settings.
type ArtifactsConfig struct {
	Debug           bool          // true to enable debug mode
	Enabled         bool          // true to persist uploaded images and derived variants
	Root            string        // root directory for the artifact store
	MaxUploadBytes  int64         // maximum accepted upload size in bytes
	PipelineTimeout time.Duration // overall deadline for variant generation
	MaxDiskUsage    string        // disk usage percentage above which writes are refused, e.g. "90%"
	MinDimension    int           // minimum accepted image width/height in pixels
	MaxDimension    int           // maximum accepted image width/height in pixels
	RetryWrites     bool          // true to retry failed artifact writes with backoff
}

// ReferenceConfig contains reference catalog settings.
type ReferenceConfig struct {
	DefaultLocale   string        // locale used when a request does not specify one
	CacheTTL        time.Duration // time to live for cached reference lookups
	SimilarityLimit int           // default number of neighbours returned by similarity queries
}

// MQTTConfig contains settings for publishing stored observations to a broker.
type MQTTConfig struct {
	Enabled  bool   // true to enable MQTT publishing
	Broker   string // MQTT broker URL, e.g. tcp://localhost:1883
	Topic    string // topic to publish observations to
	Username string // MQTT username
	Password string // MQTT password
	Retain   bool   // true to publish messages with the retained flag
}

// SpeciesImagesConfig contains settings for fetching species reference
// imagery from an external provider.
type SpeciesImagesConfig struct {
	Debug    bool   // true to enable debug mode
	Enabled  bool   // true to fetch species images
	Provider string // image provider, "wikimedia"
}

// NotificationConfig contains operator alerting settings.
type NotificationConfig struct {
	Debug   bool     // true to enable debug mode
	Enabled bool     // true to send operator notifications
	URLs    []string // shoutrrr service URLs
}

// SentryConfig contains error telemetry settings. Reporting is opt-in.
type SentryConfig struct {
	Debug   bool   // true to enable debug mode
	Enabled bool   // true to enable Sentry error reporting
	DSN     string // Sentry DSN, empty to use the project default
}

// BackupRetention defines the backup retention policy.
type BackupRetention struct {
	MaxAge     string `yaml:"maxage"`     // duration string like "30d", "6m", "1y"
	MaxBackups int    `yaml:"maxbackups"` // maximum number of backups to keep
	MinBackups int    `yaml:"minbackups"` // minimum number of backups to keep regardless of age
}

// BackupTarget defines settings for a backup target.
type BackupTarget struct {
	Type     string         `yaml:"type"`     // "local", "ftp", "sftp"
	Enabled  bool           `yaml:"enabled"`  // true to enable this target
	Settings map[string]any `yaml:"settings"` // target-specific settings
}

// BackupConfig defines the configuration for database backups.
type BackupConfig struct {
	Enabled   bool            `yaml:"enabled"`   // true to enable backup functionality
	Debug     bool            `yaml:"debug"`     // true to enable debug logging
	Schedule  string          `yaml:"schedule"`  // cron expression for scheduled backups
	Retention BackupRetention `yaml:"retention"` // backup retention settings
	Targets   []BackupTarget  `yaml:"targets"`   // list of backup targets
}

// Settings contains all configuration options for CulicidaeLab-Go.
type Settings struct {
	Debug bool // true to enable debug mode

	Version   string `yaml:"-"` // Version from build
	BuildDate string `yaml:"-"` // Build date from build
	SystemID  string `yaml:"-"` // Anonymous system identifier for telemetry

	Main struct {
		Name string    // name of this node, used to identify this instance
		Log  LogConfig // logging configuration for the main log
	}

	Model     ModelConfig     // classifier model configuration
	Artifacts ArtifactsConfig // image artifact pipeline configuration
	Reference ReferenceConfig // reference catalog configuration

	WebServer struct {
		Debug     bool      // true to enable debug mode
		Enabled   bool      // true to enable the web server
		Port      string    // port for the web server
		RateLimit int       // accepted requests per second per client, 0 to disable
		Log       LogConfig // logging configuration for the web server
	}

	Output struct {
		SQLite struct {
			Enabled bool   // true to enable SQLite output
			Path    string // path to the SQLite database
		}

		MySQL struct {
			Enabled  bool   // true to enable MySQL output
			Username string // username for the MySQL database
			Password string // password for the MySQL database
			Database string // database name for the MySQL database
			Host     string // host for the MySQL database
			Port     string // port for the MySQL database
		}

		MQTT MQTTConfig // observation publishing configuration
	}

	SpeciesImages SpeciesImagesConfig // species imagery configuration
	Notification  NotificationConfig  // operator alerting configuration
	Backup        BackupConfig        // backup configuration
	Sentry        SentryConfig        // error telemetry configuration
}

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled     bool         // true to enable this log
	Path        string       // Path to the log file
	Rotation    RotationType // Type of log rotation
	MaxSize     int64        // Max size in bytes for RotationSize
	RotationDay string       // Day of the week for RotationWeekly (as a string: "Sunday", "Monday", etc.)
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new
// Settings instance and makes it the current one.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	// Create a new settings struct
	settings := &Settings{}

	// Initialize viper and read config
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	// Unmarshal the config into settings
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	// Validate settings
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	// Save settings instance
	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Get OS specific config paths
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	// Assign config paths to Viper
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	// Bind environment variable overrides, function defined in env.go
	if err := configureEnvironmentVariables(); err != nil {
		log.Printf("Environment variable configuration: %v", err)
	}

	// Read configuration file
	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file on disk, run with defaults. The serve command
			// calls EnsureDefaultConfig to materialize one for editing.
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// EnsureDefaultConfig writes the embedded default configuration to the first
// default config path unless a config file already exists. It returns the
// path of the config file in use.
func EnsureDefaultConfig() (string, error) {
	if existing, err := FindConfigFile(); err == nil {
		return existing, nil
	}

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	// Create directories for config file
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("error creating directories for config file: %w", err)
	}

	// Write default config file
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return "", fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return configPath, viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveSettings saves the current settings to the configuration file.
// It uses SaveYAMLConfig to handle the atomic write process.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	// Create a copy of the settings
	settingsCopy := *settingsInstance

	// Find the path of the current config file
	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	// Save the settings to the config file
	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	log.Printf("Settings saved successfully to %s", configPath)
	return nil
}

// Setting returns the current settings instance, initializing it if necessary.
// When no configuration file exists the built-in defaults are used, so callers
// always get a usable instance.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Printf("Error loading settings, using defaults: %v", err)
				settingsMutex.Lock()
				settingsInstance = defaultSettings()
				settingsMutex.Unlock()
			}
		}
	})
	return GetSettings()
}

// defaultSettings builds a Settings instance from the viper defaults alone.
func defaultSettings() *Settings {
	setDefaultConfig()
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		log.Printf("Error unmarshaling default settings: %v", err)
	}
	return settings
}

// SaveYAMLConfig updates the YAML configuration file with new settings.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	// Marshal the settings struct to YAML
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write the YAML data to a temporary file
	// This is done to ensure atomic write operation
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	// Ensure the temporary file is removed in case of any failure
	defer os.Remove(tempFileName)

	// Write the YAML data to the temporary file
	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	// Close the temporary file after writing
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	// Try to rename the temporary file to replace the original config file
	// This is typically an atomic operation on most filesystems
	if err := os.Rename(tempFileName, configPath); err != nil {
		// If rename fails (e.g., cross-device link), fall back to copy & delete
		// This might happen when the temp directory is on a different filesystem
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	// If we've reached this point, the operation was successful
	return nil
}

// GenerateRandomSecret generates a URL-safe base64 encoded random string
// suitable for use as a client secret. The output is 43 characters long,
// providing 256 bits of entropy.
func GenerateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// Log the error and return a safe fallback or empty string
		log.Printf("Failed to generate random secret: %v", err)
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// MaxDiskUsagePercent parses the configured artifact disk usage limit.
// A missing or malformed value disables the limit.
func (c *ArtifactsConfig) MaxDiskUsagePercent() float64 {
	if c.MaxDiskUsage == "" {
		return 0
	}
	percent, err := ParsePercentage(c.MaxDiskUsage)
	if err != nil {
		return 0
	}
	return percent
}

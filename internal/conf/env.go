// env.go - Environment variable configuration and validation for CulicidaeLab-Go
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Model configuration
		{"model.identifier", "CULICIDAELAB_MODEL_IDENTIFIER", nil},
		{"model.weightspath", "CULICIDAELAB_MODEL_WEIGHTSPATH", validateEnvPath},
		{"model.labelspath", "CULICIDAELAB_MODEL_LABELSPATH", validateEnvPath},
		{"model.threads", "CULICIDAELAB_MODEL_THREADS", validateEnvThreads},
		{"model.usexnnpack", "CULICIDAELAB_MODEL_USEXNNPACK", validateEnvBool},

		// Artifact pipeline configuration
		{"artifacts.enabled", "CULICIDAELAB_ARTIFACTS_ENABLED", validateEnvBool},
		{"artifacts.root", "CULICIDAELAB_ARTIFACTS_ROOT", nil},
		{"artifacts.maxuploadbytes", "CULICIDAELAB_ARTIFACTS_MAXUPLOADBYTES", validateEnvBytes},

		// Reference catalog configuration
		{"reference.defaultlocale", "CULICIDAELAB_REFERENCE_DEFAULTLOCALE", validateEnvLocale},

		// Database outputs
		{"output.sqlite.path", "CULICIDAELAB_SQLITE_PATH", nil},
		{"output.mysql.password", "CULICIDAELAB_MYSQL_PASSWORD", nil},
		{"output.mqtt.password", "CULICIDAELAB_MQTT_PASSWORD", nil},

		// Web server
		{"webserver.port", "CULICIDAELAB_WEBSERVER_PORT", validateEnvPort},

		// Telemetry
		{"sentry.enabled", "CULICIDAELAB_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "CULICIDAELAB_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		// Bind the environment variable to the config key
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		// Validate the value if it's set and validation function is provided
		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	_, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvLocale(value string) error {
	if _, err := NormalizeLocale(value); err != nil {
		return err
	}
	return nil
}

func validateEnvThreads(value string) error {
	threads, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid threads: %w", err)
	}
	if threads < 0 {
		return fmt.Errorf("threads must be non-negative, got %d", threads)
	}
	return nil
}

func validateEnvBytes(value string) error {
	bytes, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid byte count: %w", err)
	}
	if bytes <= 0 {
		return fmt.Errorf("byte count must be positive, got %d", bytes)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvPath(value string) error {
	// Clean the path first to normalize it
	cleanedPath := filepath.Clean(value)

	// Require absolute paths for security
	if !filepath.IsAbs(cleanedPath) {
		return fmt.Errorf("path must be absolute, got relative path: %s", cleanedPath)
	}

	// Check for path traversal attempts after cleaning
	// Split path and check each component
	pathParts := strings.Split(cleanedPath, string(os.PathSeparator))
	for _, part := range pathParts {
		if part == ".." {
			return fmt.Errorf("path traversal detected in cleaned path: %s", cleanedPath)
		}
	}

	// Optionally check if file exists (warn but don't fail)
	if _, err := os.Stat(cleanedPath); os.IsNotExist(err) {
		// Return a warning as part of the error that can be logged
		// but doesn't prevent the app from starting
		return fmt.Errorf("warning: file does not exist: %s", cleanedPath)
	}

	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	// Set up key replacer for nested config keys
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific environment variables with validation
	// Return any errors to the caller for centralized handling
	return bindEnvVars()
}

// Package telemetry - integration with the error handling system
package telemetry

import (
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// InitializeErrorIntegration sets up the error package to report through
// telemetry when enabled. Call after InitSentry.
func InitializeErrorIntegration() {
	settings := conf.GetSettings()
	enabled := settings != nil && settings.Sentry.Enabled

	errors.SetTelemetryReporter(errors.NewSentryReporter(enabled))
	errors.SetPrivacyScrubber(ScrubMessage)
}

// UpdateErrorIntegration updates the error integration when telemetry
// settings change at runtime.
func UpdateErrorIntegration(enabled bool) {
	errors.SetTelemetryReporter(errors.NewSentryReporter(enabled))
}

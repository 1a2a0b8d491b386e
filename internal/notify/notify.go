// Package notify pushes operator alerts through shoutrrr services.
// Alerts are reserved for conditions needing operator action: the
// classifier entering its terminal error state and failed backup runs.
package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"regexp"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/patrickmn/go-cache"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/logging"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/observability/metrics"
)

// Severity labels an alert for the receiving service.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is one operator alert.
type Notification struct {
	Component string
	Title     string
	Message   string
	Severity  Severity
}

const (
	sendTimeout = 30 * time.Second

	// dedupWindow suppresses repeats of the same alert; a flapping
	// condition produces one push per window, not one per occurrence.
	dedupWindow = 10 * time.Minute
)

// serviceURLPattern matches service URLs embedded in shoutrrr errors.
// They carry tokens, so they never reach logs unredacted.
var serviceURLPattern = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*)://\S+`)

// Notifier fans an alert out to the configured shoutrrr URLs. A
// disabled notifier is valid and drops alerts silently, so callers
// never need a nil check.
type Notifier struct {
	enabled bool
	sender  *router.ServiceRouter
	recent  *cache.Cache
	metrics *metrics.NotificationMetrics
	logger  *slog.Logger
}

// New builds a Notifier from the notification settings. Disabled
// settings or an empty URL list produce a no-op notifier.
func New(settings *conf.Settings, notificationMetrics *metrics.NotificationMetrics) (*Notifier, error) {
	n := &Notifier{
		metrics: notificationMetrics,
		logger:  getLoggerSafe("notify"),
	}
	if settings == nil || !settings.Notification.Enabled || len(settings.Notification.URLs) == 0 {
		return n, nil
	}

	sender, err := shoutrrr.CreateSender(settings.Notification.URLs...)
	if err != nil {
		return nil, errors.Newf("invalid notification URL: %s", redactServiceURLs(err.Error())).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Context("url_count", len(settings.Notification.URLs)).
			Build()
	}
	sender.Timeout = sendTimeout
	sender.SetLogger(log.New(io.Discard, "", 0))

	n.enabled = true
	n.sender = sender
	n.recent = cache.New(dedupWindow, dedupWindow)
	return n, nil
}

// Enabled reports whether alerts will actually be sent.
func (n *Notifier) Enabled() bool {
	return n != nil && n.enabled
}

// Send pushes one alert to every configured service. Repeats of the
// same component and title inside the dedup window are dropped.
func (n *Notifier) Send(_ context.Context, alert *Notification) error {
	if !n.Enabled() || alert == nil {
		return nil
	}

	key := alert.Component + "|" + alert.Title
	if _, dup := n.recent.Get(key); dup {
		n.logger.Debug("suppressed duplicate alert",
			"component", alert.Component,
			"title", alert.Title)
		return nil
	}
	n.recent.Set(key, struct{}{}, cache.DefaultExpiration)

	params := stypes.Params{}
	if alert.Title != "" {
		params.SetTitle(alert.Title)
	}

	start := time.Now()
	var firstErr error
	for _, sendErr := range n.sender.Send(alert.Message, &params) {
		if sendErr != nil && firstErr == nil {
			firstErr = sendErr
		}
	}

	if firstErr != nil {
		if n.metrics != nil {
			n.metrics.RecordDelivery("shoutrrr", "error", time.Since(start))
			n.metrics.RecordDeliveryError("shoutrrr", string(alert.Severity))
		}
		return errors.Newf("alert delivery failed: %s", redactServiceURLs(firstErr.Error())).
			Component("notify").
			Category(errors.CategoryNotification).
			Context("alert_component", alert.Component).
			Context("severity", string(alert.Severity)).
			Build()
	}

	if n.metrics != nil {
		n.metrics.RecordDelivery("shoutrrr", "success", time.Since(start))
	}
	n.logger.Info("alert delivered",
		"component", alert.Component,
		"title", alert.Title,
		"severity", string(alert.Severity))
	return nil
}

// EngineError alerts that the classifier settled in its terminal error
// state and identification is offline until an operator reload.
func (n *Notifier) EngineError(ctx context.Context, err error) error {
	return n.Send(ctx, &Notification{
		Component: "classifier",
		Title:     "Classifier engine unavailable",
		Message:   fmt.Sprintf("Model load failed and identification is offline until a reload: %v", err),
		Severity:  SeverityError,
	})
}

// BackupFailure alerts that a backup run failed for a target.
func (n *Notifier) BackupFailure(ctx context.Context, target string, err error) error {
	return n.Send(ctx, &Notification{
		Component: "backup",
		Title:     fmt.Sprintf("Backup to %s failed", target),
		Message:   fmt.Sprintf("The last backup run did not complete: %v", err),
		Severity:  SeverityError,
	})
}

// redactServiceURLs strips everything after the scheme from service
// URLs so tokens stay out of logs and error chains.
func redactServiceURLs(s string) string {
	return serviceURLPattern.ReplaceAllString(s, "$1://[redacted]")
}

// getLoggerSafe returns a service logger, falling back to the default
// logger when logging is not yet initialized.
func getLoggerSafe(service string) *slog.Logger {
	logger := logging.ForService(service)
	if logger == nil {
		logger = slog.Default().With("service", service)
	}
	return logger
}

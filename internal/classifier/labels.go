package classifier

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/telemetry"
)

// loadLabels reads the class label file, one scientific name per line.
// Line order must match the model output tensor.
func loadLabels(labelsPath string) ([]string, error) {
	start := time.Now()

	// Deferred capture: the classifier may initialize before Sentry
	telemetry.CaptureMessageDeferred(
		fmt.Sprintf("Using label file: %s", labelsPath),
		sentry.LevelInfo,
		"classifier-label-loading",
	)

	file, err := os.Open(labelsPath)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryFileIO).
			Context("label_path", labelsPath).
			Context("operation", "open").
			Timing("label-file-open", time.Since(start)).
			Build()
	}
	defer func() {
		if err := file.Close(); err != nil {
			getLoggerSafe("classifier").Warn("failed to close label file",
				"path", labelsPath,
				"error", err)
		}
	}()

	labels, err := parseLabels(file)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("label_path", labelsPath).
			Context("operation", "parse").
			Timing("label-file-load", time.Since(start)).
			Build()
	}

	if len(labels) == 0 {
		return nil, errors.Newf("label file %s contains no labels", labelsPath).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("label_path", labelsPath).
			Build()
	}

	return labels, nil
}

// parseLabels reads labels line by line, skipping blank lines.
func parseLabels(file *os.File) ([]string, error) {
	var labels []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		label := strings.TrimSpace(scanner.Text())
		if label == "" {
			continue
		}
		labels = append(labels, label)
	}
	return labels, scanner.Err()
}

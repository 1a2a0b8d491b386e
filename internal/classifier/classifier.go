// Package classifier owns the loaded mosquito species identification
// model and exposes a single Predict operation over normalized pixel
// buffers. The model loads lazily exactly once; recovery from a failed
// load requires an explicit operator reload.
package classifier

import (
	"log/slog"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/logging"
)

// State is the engine lifecycle state.
type State int32

const (
	// StateUnloaded means no load has been attempted yet.
	StateUnloaded State = iota
	// StateLoading means a load is in flight; callers wait on it.
	StateLoading
	// StateReady means the model is loaded and serving predictions.
	StateReady
	// StateError is terminal until an operator reload clears it.
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Prediction is one ranked classifier output entry.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float32 `json:"probability"`
}

// ErrModelUnavailable is returned by Predict while the engine is in the
// error state. No implicit reload is attempted.
var ErrModelUnavailable = errors.NewStd("classifier model unavailable")

// errModelClosed reports an invoke on a model instance that was
// replaced by a reload; the engine retries on the current instance.
var errModelClosed = errors.NewStd("model instance closed")

// maxPredictions bounds the ranked list Predict returns.
const maxPredictions = 10

// getLoggerSafe returns a service logger, falling back to the default
// logger when logging is not yet initialized.
func getLoggerSafe(service string) *slog.Logger {
	logger := logging.ForService(service)
	if logger == nil {
		logger = slog.Default().With("service", service)
	}
	return logger
}

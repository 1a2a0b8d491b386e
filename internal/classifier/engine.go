package classifier

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/observability/metrics"
)

// invoker abstracts a loaded model instance. The TFLite model
// implements it; tests substitute fixed-output fakes.
type invoker interface {
	Invoke(pixels []float32) ([]float32, error)
	Labels() []string
	Identifier() string
	Close()
}

// Engine guards one shared model instance behind the
// UNLOADED -> LOADING -> READY lifecycle. The instance is read-only
// after the READY transition, so concurrent Predict calls need no
// locking beyond the one-time load barrier and the bounded inference
// semaphore.
type Engine struct {
	settings *conf.Settings
	metrics  *metrics.ClassifierMetrics
	logger   *slog.Logger

	// loadFn produces a model instance; tests replace it
	loadFn func(ctx context.Context) (invoker, error)

	mu       sync.Mutex
	state    State
	model    invoker
	loadErr  error
	loadDone chan struct{}
	onError  func(error)

	loadCount atomic.Int64
	active    atomic.Int64

	sem *semaphore.Weighted
}

// New creates an engine in the unloaded state. The model is loaded by
// the first Predict call, or eagerly via Reload.
func New(settings *conf.Settings, classifierMetrics *metrics.ClassifierMetrics) *Engine {
	e := &Engine{
		settings: settings,
		metrics:  classifierMetrics,
		logger:   getLoggerSafe("classifier"),
		state:    StateUnloaded,
		sem:      semaphore.NewWeighted(int64(inferenceSlots(settings))),
	}
	e.loadFn = func(ctx context.Context) (invoker, error) {
		return loadModel(settings)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LoadCount reports how many actual model loads have run. Concurrent
// first callers share a single load, so this stays at 1 until an
// operator reload.
func (e *Engine) LoadCount() int64 {
	return e.loadCount.Load()
}

// SetErrorListener registers fn to run whenever a load settles the
// engine in the terminal error state. Used to alert operators; a
// reload that restores a previously serving model does not fire it.
func (e *Engine) SetErrorListener(fn func(error)) {
	e.mu.Lock()
	e.onError = fn
	e.mu.Unlock()
}

// Identifier returns the configured model identifier.
func (e *Engine) Identifier() string {
	return e.settings.Model.Identifier
}

// Predict runs inference on a normalized NHWC pixel buffer and returns
// ranked (label, probability) pairs sorted by probability descending.
// Identical buffers against the same loaded model produce identical
// output. In the error state it fails fast with ErrModelUnavailable.
func (e *Engine) Predict(ctx context.Context, pixels []float32) ([]Prediction, error) {
	start := time.Now()

	model, err := e.ensureReady(ctx)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordPrediction(e.Identifier(), time.Since(start).Seconds(), err)
		}
		return nil, err
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategorySystem).
			Context("operation", "acquire_inference_slot").
			Build()
	}
	defer e.sem.Release(1)

	if e.metrics != nil {
		e.metrics.SetActiveProcessing(float64(e.active.Add(1)))
		defer func() {
			e.metrics.SetActiveProcessing(float64(e.active.Add(-1)))
		}()
	}

	invokeStart := time.Now()
	logits, err := model.Invoke(pixels)
	if errors.Is(err, errModelClosed) {
		// The instance was swapped out by a reload mid-request; resolve
		// the current one and retry once.
		model, err = e.ensureReady(ctx)
		if err == nil {
			logits, err = model.Invoke(pixels)
		}
	}
	if e.metrics != nil {
		e.metrics.RecordModelInvoke(model.Identifier(), time.Since(invokeStart).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordPrediction(model.Identifier(), time.Since(start).Seconds(), err)
		}
		return nil, err
	}

	predictions, err := rankPredictions(model.Labels(), logits)
	if e.metrics != nil {
		e.metrics.RecordPrediction(model.Identifier(), time.Since(start).Seconds(), err)
	}
	if err != nil {
		return nil, err
	}

	return predictions, nil
}

// ensureReady resolves the current model, triggering the single-flight
// initial load when no load has run yet.
func (e *Engine) ensureReady(ctx context.Context) (invoker, error) {
	for {
		e.mu.Lock()
		switch e.state {
		case StateReady:
			model := e.model
			e.mu.Unlock()
			return model, nil

		case StateError:
			loadErr := e.loadErr
			e.mu.Unlock()
			return nil, errors.New(ErrModelUnavailable).
				Component("classifier").
				Category(errors.CategoryModelLoad).
				Context("state", StateError.String()).
				Context("load_error", loadErr.Error()).
				Build()

		case StateUnloaded:
			e.beginLoadLocked()
			e.mu.Unlock()
			e.runLoad(ctx, nil, StateUnloaded)

		case StateLoading:
			done := e.loadDone
			e.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return nil, errors.New(ctx.Err()).
					Component("classifier").
					Category(errors.CategoryModelLoad).
					Context("operation", "await_model_load").
					Build()
			}
		}
	}
}

// Reload performs an operator-triggered model load. It clears the
// terminal error state; when a reload fails while a previous model was
// serving, that model keeps serving and the error is reported.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	for e.state == StateLoading {
		done := e.loadDone
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return errors.New(ctx.Err()).
				Component("classifier").
				Category(errors.CategoryModelLoad).
				Context("operation", "await_model_load").
				Build()
		}
		e.mu.Lock()
	}

	previous := e.model
	previousState := e.state
	e.beginLoadLocked()
	e.mu.Unlock()

	e.logger.Info("model reload requested",
		"model", e.Identifier(),
		"previous_state", previousState.String())

	return e.runLoad(ctx, previous, previousState)
}

// beginLoadLocked transitions to LOADING with a fresh completion
// channel. Callers hold e.mu.
func (e *Engine) beginLoadLocked() {
	e.state = StateLoading
	e.model = nil
	e.loadErr = nil
	e.loadDone = make(chan struct{})
}

// runLoad executes the load and settles the lifecycle. When the load
// fails and a previously ready model exists, it is restored.
func (e *Engine) runLoad(ctx context.Context, previous invoker, previousState State) error {
	e.loadCount.Add(1)
	start := time.Now()

	model, err := e.loadFn(ctx)

	e.mu.Lock()
	var enteredError bool
	switch {
	case err == nil:
		e.state = StateReady
		e.model = model
	case previous != nil && previousState == StateReady:
		e.state = StateReady
		e.model = previous
	default:
		e.state = StateError
		e.loadErr = err
		enteredError = true
	}
	onError := e.onError
	close(e.loadDone)
	e.mu.Unlock()

	if enteredError && onError != nil {
		onError(err)
	}

	if e.metrics != nil {
		e.metrics.RecordModelLoad(e.Identifier(), err)
		if err != nil && e.State() == StateReady {
			// A restored previous model is still serving
			e.metrics.SetModelLoaded(true)
		}
	}

	if err != nil {
		e.logger.Error("model load failed",
			"model", e.Identifier(),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return err
	}

	e.logger.Info("model loaded",
		"model", e.Identifier(),
		"labels", len(model.Labels()),
		"duration_ms", time.Since(start).Milliseconds())

	// The old instance is closed only after the swap, so in-flight
	// predictions either finish on it or retry on the new one.
	if previous != nil {
		previous.Close()
	}

	return nil
}

// Close releases the loaded model. The engine returns to the unloaded
// state and may be loaded again.
func (e *Engine) Close() {
	e.mu.Lock()
	model := e.model
	e.state = StateUnloaded
	e.model = nil
	e.loadErr = nil
	e.mu.Unlock()

	if model != nil {
		model.Close()
	}
}

// inferenceSlots sizes the bounded inference pool to hardware
// parallelism, honoring an explicit thread setting.
func inferenceSlots(settings *conf.Settings) int {
	threads := determineThreadCount(settings.Model.Threads)
	if threads < 1 {
		return 1
	}
	return threads
}

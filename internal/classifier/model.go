package classifier

import (
	"os"
	"runtime"
	"sync"
	"time"

	tflite "github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/cpuspec"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// tfliteModel is the production invoker backed by a TensorFlow Lite
// interpreter. One interpreter serves all predictions; access is
// serialized by its own mutex.
type tfliteModel struct {
	identifier string
	labels     []string

	mu          sync.Mutex
	interpreter *tflite.Interpreter
	closed      bool
}

// loadModel reads the configured weights, builds the interpreter and
// validates it against the label file.
func loadModel(settings *conf.Settings) (invoker, error) {
	start := time.Now()
	logger := getLoggerSafe("classifier")

	weightsPath := settings.Model.WeightsPath
	modelData, err := os.ReadFile(weightsPath)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			ModelContext(weightsPath, settings.Model.Identifier).
			Timing("model-load", time.Since(start)).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Component("classifier").
			Category(errors.CategoryModelInit).
			ModelContext(weightsPath, settings.Model.Identifier).
			Context("model_size_mb", len(modelData)/1024/1024).
			Context("use_xnnpack", settings.Model.UseXNNPACK).
			Build()
	}

	threads := determineThreadCount(settings.Model.Threads)

	options := tflite.NewInterpreterOptions()
	if settings.Model.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: thread count bounded by CPU count, safe conversion
		if delegate == nil {
			logger.Warn("failed to create XNNPACK delegate, falling back to default CPU")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}

	options.SetErrorReporter(func(msg string, userData any) {
		getLoggerSafe("classifier").Error("TFLite error", "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		return nil, errors.Newf("cannot create TFLite interpreter").
			Component("classifier").
			Category(errors.CategoryModelInit).
			ModelContext(weightsPath, settings.Model.Identifier).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		return nil, errors.Newf("tensor allocation failed").
			Component("classifier").
			Category(errors.CategoryModelInit).
			ModelContext(weightsPath, settings.Model.Identifier).
			Build()
	}

	// TFLite holds its own copy of the model data by now
	runtime.GC()

	labels, err := loadLabels(settings.Model.LabelsPath)
	if err != nil {
		interpreter.Delete()
		return nil, err
	}

	if err := validateModelAndLabels(interpreter, labels, settings); err != nil {
		interpreter.Delete()
		return nil, err
	}

	if settings.Model.Threads == 0 {
		spec := cpuspec.GetCPUSpec()
		logger.Info("classifier model initialized",
			"model", settings.Model.Identifier,
			"threads", threads,
			"performance_cores", spec.PerformanceCores,
			"total_cpus", runtime.NumCPU())
	} else {
		logger.Info("classifier model initialized",
			"model", settings.Model.Identifier,
			"threads", threads,
			"total_cpus", runtime.NumCPU(),
			"threads_configured", true)
	}

	return &tfliteModel{
		identifier:  settings.Model.Identifier,
		labels:      labels,
		interpreter: interpreter,
	}, nil
}

// validateModelAndLabels checks that the label file matches the model
// output dimension.
func validateModelAndLabels(interpreter *tflite.Interpreter, labels []string, settings *conf.Settings) error {
	outputTensor := interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return errors.Newf("cannot get output tensor from model").
			Component("classifier").
			Category(errors.CategoryValidation).
			ModelContext(settings.Model.WeightsPath, settings.Model.Identifier).
			Build()
	}

	modelOutputSize := outputTensor.Dim(outputTensor.NumDims() - 1)
	if len(labels) != modelOutputSize {
		return errors.Newf("label count mismatch: model expects %d classes but label file has %d labels",
			modelOutputSize, len(labels)).
			Component("classifier").
			Category(errors.CategoryValidation).
			ModelContext(settings.Model.WeightsPath, settings.Model.Identifier).
			Context("expected_labels", modelOutputSize).
			Context("actual_labels", len(labels)).
			Build()
	}

	return nil
}

// Invoke runs one inference pass and returns the raw output logits.
func (m *tfliteModel) Invoke(pixels []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errModelClosed
	}

	inputTensor := m.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, errors.Newf("cannot get input tensor").
			Component("classifier").
			Category(errors.CategorySystem).
			Build()
	}

	input := inputTensor.Float32s()
	if len(pixels) != len(input) {
		return nil, errors.Newf("input buffer size mismatch: got %d floats, model expects %d",
			len(pixels), len(input)).
			Component("classifier").
			Category(errors.CategoryValidation).
			Context("model", m.identifier).
			Build()
	}
	copy(input, pixels)

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("tensor invoke failed: %v", status).
			Component("classifier").
			Category(errors.CategorySystem).
			Context("model", m.identifier).
			Build()
	}

	outputTensor := m.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return nil, errors.Newf("cannot get output tensor").
			Component("classifier").
			Category(errors.CategorySystem).
			Build()
	}

	// Copy out: the tensor buffer is reused by the next invoke
	output := outputTensor.Float32s()
	logits := make([]float32, len(output))
	copy(logits, output)

	return logits, nil
}

func (m *tfliteModel) Labels() []string { return m.labels }

func (m *tfliteModel) Identifier() string { return m.identifier }

// Close waits out a running invoke, then frees the interpreter.
func (m *tfliteModel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.interpreter.Delete()
	m.interpreter = nil
}

// determineThreadCount calculates the number of interpreter threads
// from settings and system capabilities.
func determineThreadCount(configuredThreads int) int {
	systemCPUCount := runtime.NumCPU()

	// Zero means size to the performance cores when known
	if configuredThreads == 0 {
		spec := cpuspec.GetCPUSpec()
		optimalThreads := spec.GetOptimalThreadCount()
		if optimalThreads > 0 {
			return min(optimalThreads, systemCPUCount)
		}
		return systemCPUCount
	}

	if configuredThreads > systemCPUCount {
		return systemCPUCount
	}

	return configuredThreads
}

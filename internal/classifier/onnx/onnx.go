// Package onnx runs the ingredient classifier in-process with ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/vbonduro/dapoerkito/internal/imageprep"
)

// The ONNX Runtime environment is process-wide; it is initialized by the first
// Open and torn down by the last Close.
var (
	envMu   sync.Mutex
	envRefs int
)

type Options struct {
	// LibPath is the path to libonnxruntime. Empty uses the library default.
	LibPath string
	// InputName and OutputName select the graph tensors. Empty picks the
	// model's first input and first output.
	InputName  string
	OutputName string
	// NumClasses is the width of the output probability vector.
	NumClasses int
	// Logger receives cleanup failures. Nil uses slog.Default.
	Logger *slog.Logger
}

// Model owns a loaded ONNX session. The session is read-only after Open, and
// each Infer call allocates its own tensors, so Infer is safe for concurrent use.
type Model struct {
	session    *ort.DynamicAdvancedSession
	numClasses int
	logger     *slog.Logger
	closeOnce  sync.Once
}

// Open loads modelPath once. Any failure here is meant to be fatal to the caller.
func Open(modelPath string, opts Options) (*Model, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model artifact unavailable: %w", err)
	}
	if opts.NumClasses <= 0 {
		return nil, fmt.Errorf("invalid class count %d", opts.NumClasses)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := acquireEnv(opts.LibPath); err != nil {
		return nil, err
	}

	inputName, outputName, err := resolveNames(modelPath, opts.InputName, opts.OutputName)
	if err != nil {
		releaseEnv(logger)
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputName}, []string{outputName}, nil)
	if err != nil {
		releaseEnv(logger)
		return nil, fmt.Errorf("failed to create onnx session: %w", err)
	}

	return &Model{session: session, numClasses: opts.NumClasses, logger: logger}, nil
}

func (m *Model) Infer(ctx context.Context, t *imageprep.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, err := ort.NewTensor(ort.NewShape(t.Shape[:]...), t.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer destroyWithLog(m.logger, "input tensor", input)

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.numClasses)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer destroyWithLog(m.logger, "output tensor", output)

	if err := m.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}

	probs := make([]float32, m.numClasses)
	copy(probs, output.GetData())
	return probs, nil
}

// Close destroys the session. It is safe to call more than once.
func (m *Model) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.session.Destroy()
		releaseEnv(m.logger)
	})
	return err
}

func resolveNames(modelPath, inputName, outputName string) (string, string, error) {
	if inputName != "" && outputName != "" {
		return inputName, outputName, nil
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return "", "", fmt.Errorf("model has %d inputs and %d outputs", len(inputs), len(outputs))
	}
	if inputName == "" {
		inputName = inputs[0].Name
	}
	if outputName == "" {
		outputName = outputs[0].Name
	}
	return inputName, outputName, nil
}

func acquireEnv(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize onnx runtime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnv(logger *slog.Logger) {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		if err := ort.DestroyEnvironment(); err != nil {
			logger.Error("failed to destroy onnx runtime environment", "error", err)
		}
	}
}

type destroyer interface {
	Destroy() error
}

func destroyWithLog(logger *slog.Logger, what string, d destroyer) {
	if err := d.Destroy(); err != nil {
		logger.Debug("failed to destroy onnx "+what, "error", err)
	}
}

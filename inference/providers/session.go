package providers

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/live-detect/inference"
)

var envMu sync.Mutex

// Session is an inference.Engine backed by an onnxruntime AdvancedSession with
// preallocated input and output tensors.
//
// Run calls are serialized because the native tensors are shared across runs.
type Session struct {
	mu       sync.Mutex
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	geometry inference.Geometry
	backend  ProviderBackend
	logger   *zap.Logger
}

var _ inference.Engine = (*Session)(nil)

// NewSession creates a new ONNX detector session.
//
// Order of operations:
//  1. Library path check: Ensures native runtime is accessible.
//  2. Environment setup: Loads the native library once per process.
//  3. Tensor allocation: Prepares fixed-shape buffers for input/output data.
//  4. Session options: Threading, optimization level and the execution provider.
//  5. Session creation: Loads model and binds the tensors.
//  6. Warmup: Blank runs so the first real frame does not pay for lazy initialization.
//
// Arguments:
//   - cfg: The session configuration.
//   - geometry: The model input and output dimensions.
//   - logger: The logger; nil disables logging.
//
// Returns:
//   - *Session: The runnable engine. Close releases all native resources.
//   - error: An error if any step fails; partially created resources are released.
func NewSession(cfg Config, geometry inference.Geometry, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid provider config")
	}
	if err := geometry.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid model geometry")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model not found at %s", cfg.ModelPath)
	}

	libPath, err := GetSharedLibPath(cfg.LibraryPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(libPath); err != nil {
		return nil, errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}
	if err := initEnvironment(libPath, cfg.Verbose); err != nil {
		return nil, err
	}

	s := &Session{geometry: geometry, backend: cfg.Backend, logger: logger}

	s.input, err = ort.NewEmptyTensor[float32](int64Shape(geometry.InputShape()))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	s.output, err = ort.NewEmptyTensor[float32](int64Shape(geometry.OutputShape()))
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := newSessionOptions(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	defer options.Destroy()

	s.session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{s.input},
		[]ort.Value{s.output},
		options,
	)
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	for i := 0; i < cfg.Warmup; i++ {
		if err := s.session.Run(); err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "warmup run %d failed", i)
		}
	}

	logger.Info("inference session ready",
		zap.String("model", cfg.ModelPath),
		zap.String("backend", string(cfg.Backend)),
		zap.Ints("input_shape", geometry.InputShape()),
		zap.Ints("output_shape", geometry.OutputShape()),
		zap.Int("warmup", cfg.Warmup),
	)
	return s, nil
}

// Backend reports the execution provider the session was created with.
func (s *Session) Backend() ProviderBackend {
	return s.backend
}

// InputBuffer exposes the native input tensor so a codec can encode frames in place.
// It must only be written between Run calls by the goroutine that calls Run.
func (s *Session) InputBuffer() []float32 {
	return s.input.GetData()
}

// Run copies input into the native tensor (unless it already is the native buffer),
// executes the model and returns a copy of the output.
//
// Arguments:
//   - ctx: Checked before the native call; a running inference cannot be interrupted.
//   - input: BatchSize*ChannelCount*InputSize*InputSize values.
//
// Returns:
//   - *tensor.Dense: A [1, 4+C, A] tensor owned by the caller.
//   - error: An error if the input is the wrong size or the native run fails.
func (s *Session) Run(ctx context.Context, input []float32) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("session is closed")
	}

	dst := s.input.GetData()
	if len(input) != len(dst) {
		return nil, errors.Errorf("input holds %d floats, model needs %d", len(input), len(dst))
	}
	if &input[0] != &dst[0] {
		copy(dst, input)
	}

	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "error running ORT session")
	}

	out := make([]float32, s.geometry.OutputLen())
	copy(out, s.output.GetData())
	return s.geometry.NewOutput(out)
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		err = multierr.Append(err, errors.Wrap(s.session.Destroy(), "error destroying ORT session"))
		s.session = nil
	}
	if s.input != nil {
		err = multierr.Append(err, s.input.Destroy())
		s.input = nil
	}
	if s.output != nil {
		err = multierr.Append(err, s.output.Destroy())
		s.output = nil
	}
	return err
}

// Shutdown tears down the process-wide onnxruntime environment once every session is closed.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return errors.Wrap(ort.DestroyEnvironment(), "error destroying ORT environment")
}

func initEnvironment(libPath string, verbose bool) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}

	if verbose {
		ort.SetEnvironmentLogLevel(ort.LoggingLevelVerbose)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

func int64Shape(dims []int) ort.Shape {
	shape := make([]int64, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}
	return ort.NewShape(shape...)
}

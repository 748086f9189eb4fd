// Package providers - ONNX Runtime session configuration and execution providers.
package providers

import (
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

const (
	// CPUProviderBackend runs on the default CPU execution provider.
	CPUProviderBackend ProviderBackend = "cpu"
	// CUDAProviderBackend uses NVIDIA CUDA for inference optimization.
	CUDAProviderBackend ProviderBackend = "cuda"
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// Config describes how a detection model session is created.
type Config struct {
	// Backend selects the execution provider.
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// ModelPath is the path to the ONNX model file.
	ModelPath string `json:"modelPath" yaml:"modelPath"`
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string `json:"libraryPath" yaml:"libraryPath"`
	// InputName is the model's image input node.
	InputName string `json:"inputName" yaml:"inputName"`
	// OutputName is the model's detection output node.
	OutputName string `json:"outputName" yaml:"outputName"`
	// Optimization controls threading and graph rewrites.
	Optimization OptimizationConfig `json:"optimization" yaml:"optimization"`
	// Warmup is the number of blank runs performed before the session is returned.
	Warmup int `json:"warmup" yaml:"warmup"`
	// Verbose enables onnxruntime's verbose native logging.
	Verbose bool `json:"verbose" yaml:"verbose"`

	CUDA     CUDAOptions     `json:"cuda" yaml:"cuda"`
	CoreML   CoreMLOptions   `json:"coreml" yaml:"coreml"`
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// OptimizationConfig contains the ONNX Runtime session tuning knobs.
type OptimizationConfig struct {
	// GraphOptimizationLevel is one of "disabled", "basic", "extended", "all".
	GraphOptimizationLevel string `json:"graphOptimizationLevel" yaml:"graphOptimizationLevel"`
	// ExecutionMode is "sequential" or "parallel".
	ExecutionMode string `json:"executionMode" yaml:"executionMode"`
	// IntraOpNumThreads sets threads for parallelizing ops; 0 lets the runtime decide.
	IntraOpNumThreads int `json:"intraOpNumThreads" yaml:"intraOpNumThreads"`
	// InterOpNumThreads sets threads for parallelizing independent ops; 0 lets the runtime decide.
	InterOpNumThreads int `json:"interOpNumThreads" yaml:"interOpNumThreads"`
}

// DefaultConfig returns a CPU configuration for a YOLOv8 export.
func DefaultConfig() Config {
	return Config{
		Backend:    CPUProviderBackend,
		InputName:  "images",
		OutputName: "output0",
		Optimization: OptimizationConfig{
			GraphOptimizationLevel: "extended",
			ExecutionMode:          "sequential",
			IntraOpNumThreads:      max(1, runtime.NumCPU()/2),
		},
		Warmup: 1,
	}
}

// Validate checks the configuration without touching the native runtime.
func (c Config) Validate() error {
	switch c.Backend {
	case CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend:
	case "":
		return errors.New("backend is required")
	default:
		return errors.Errorf("no matching provider backend registered: %s", c.Backend)
	}
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.InputName == "" || c.OutputName == "" {
		return errors.New("input and output node names are required")
	}
	if c.Warmup < 0 {
		return errors.Errorf("warmup must not be negative, got %d", c.Warmup)
	}
	if _, err := graphOptimizationLevel(c.Optimization.GraphOptimizationLevel); err != nil {
		return err
	}
	if _, err := executionMode(c.Optimization.ExecutionMode); err != nil {
		return err
	}
	if c.Optimization.IntraOpNumThreads < 0 || c.Optimization.InterOpNumThreads < 0 {
		return errors.New("thread counts must not be negative")
	}
	return nil
}

func graphOptimizationLevel(s string) (ort.GraphOptimizationLevel, error) {
	switch s {
	case "disabled":
		return ort.GraphOptimizationLevelDisableAll, nil
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic, nil
	case "", "extended":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case "all":
		return ort.GraphOptimizationLevelEnableAll, nil
	default:
		return 0, errors.Errorf("unknown graph optimization level %q", s)
	}
}

func executionMode(s string) (ort.ExecutionMode, error) {
	switch s {
	case "", "sequential":
		return ort.ExecutionModeSequential, nil
	case "parallel":
		return ort.ExecutionModeParallel, nil
	default:
		return 0, errors.Errorf("unknown execution mode %q", s)
	}
}

// newSessionOptions builds native session options with the configured execution provider.
// The caller owns the returned options and must Destroy them.
func newSessionOptions(c Config) (*ort.SessionOptions, error) {
	level, err := graphOptimizationLevel(c.Optimization.GraphOptimizationLevel)
	if err != nil {
		return nil, err
	}
	mode, err := executionMode(c.Optimization.ExecutionMode)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	fail := func(err error, msg string) (*ort.SessionOptions, error) {
		options.Destroy()
		return nil, errors.Wrap(err, msg)
	}

	if err := options.SetIntraOpNumThreads(c.Optimization.IntraOpNumThreads); err != nil {
		return fail(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(c.Optimization.InterOpNumThreads); err != nil {
		return fail(err, "error setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(level); err != nil {
		return fail(err, "error setting graph optimization level")
	}
	if err := options.SetExecutionMode(mode); err != nil {
		return fail(err, "error setting execution mode")
	}

	switch c.Backend {
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(c.CoreML.Flags()); err != nil {
			return fail(err, "error enabling CoreML")
		}
	case OpenVINOProviderBackend:
		if err := options.AppendExecutionProviderOpenVINO(c.OpenVINO.ProviderOptions()); err != nil {
			return fail(err, "error enabling OpenVINO")
		}
	case CUDAProviderBackend:
		cuda, err := c.CUDA.ToNativeProviderOptions()
		if err != nil {
			return fail(err, "error converting CUDA options")
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fail(err, "error enabling CUDA")
		}
	}

	return options, nil
}

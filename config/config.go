// Package config loads the live-detect YAML configuration.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/live-detect/camera"
	"github.com/nvr-ai/live-detect/controller"
	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/inference"
	"github.com/nvr-ai/live-detect/inference/preprocess"
	"github.com/nvr-ai/live-detect/inference/providers"
	"github.com/nvr-ai/live-detect/logging"
	"github.com/nvr-ai/live-detect/models"
	"github.com/nvr-ai/live-detect/models/postprocess"
	"github.com/nvr-ai/live-detect/viewport"
)

// Config represents the complete live-detect configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Detection DetectionConfig `yaml:"detection"`
	Camera    CameraConfig    `yaml:"camera"`
	Display   DisplayConfig   `yaml:"display"`
	Output    OutputConfig    `yaml:"output"`
	Profiler  ProfilerConfig  `yaml:"profiler"`
	Log       logging.Config  `yaml:"log"`
}

// ModelConfig describes the detection model and how its input is prepared.
type ModelConfig struct {
	// Provider configures the onnxruntime session (backend, model path, tuning).
	Provider providers.Config `yaml:"provider"`
	// Geometry holds the model's input and output shape constants.
	Geometry inference.Geometry `yaml:"geometry"`
	// LabelsPath is a newline-delimited label file; empty uses the built-in table of Family.
	LabelsPath string `yaml:"labelsPath"`
	// Family selects the built-in label table: yolo or coco.
	Family models.ModelFamily `yaml:"family"`
	// ColorMode is rgb or bgr.
	ColorMode string `yaml:"colorMode"`
}

// DetectionConfig holds the decode and suppression thresholds.
type DetectionConfig struct {
	Confidence float32 `yaml:"confidence"`
	IoU        float32 `yaml:"iou"`
	// Workers bounds how many classes are suppressed concurrently.
	Workers int `yaml:"workers"`
}

// CameraConfig selects the frame source. A non-empty FramesDir replays a directory
// instead of opening Device.
type CameraConfig struct {
	Device    camera.DeviceConfig `yaml:"device"`
	FramesDir string              `yaml:"framesDir"`
	// FPS paces directory replay.
	FPS  float64 `yaml:"fps"`
	Loop bool    `yaml:"loop"`
}

// DisplayConfig describes the preview the detections are mapped into.
type DisplayConfig struct {
	// CaptureAspect is the camera aspect ratio in W:H form.
	CaptureAspect images.AspectRatio `yaml:"captureAspect"`
	Width         int                `yaml:"width"`
	Height        int                `yaml:"height"`
	// ShowWindow opens a preview window with the overlay drawn on each frame.
	ShowWindow bool `yaml:"showWindow"`
}

// OutputConfig says where captures are saved.
type OutputConfig struct {
	// Dir is the pictures directory; empty means $HOME/Pictures.
	Dir string `yaml:"dir"`
	App string `yaml:"app"`
}

// ProfilerConfig controls the runtime profiler report.
type ProfilerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ReportInterval time.Duration `yaml:"reportInterval"`
}

// Default returns a configuration for a 640px YOLOv8 COCO model on camera 0.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:  providers.DefaultConfig(),
			Geometry:  inference.DefaultGeometry(),
			Family:    models.ModelFamilyYOLO,
			ColorMode: preprocess.ColorModeRGB.String(),
		},
		Detection: DetectionConfig{
			Confidence: 0.25,
			IoU:        0.5,
			Workers:    1,
		},
		Camera: CameraConfig{
			Device: camera.DeviceConfig{Resolution: images.ResolutionTypeHD720p},
			FPS:    30,
		},
		Display: DisplayConfig{
			CaptureAspect: images.AspectRatio169,
			Width:         1280,
			Height:        720,
		},
		Output: OutputConfig{App: "live-detect"},
		Profiler: ProfilerConfig{
			Enabled:        true,
			ReportInterval: 10 * time.Second,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads a YAML configuration file over the defaults and validates it.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - *Config: The merged configuration.
//   - error: An error if the file cannot be read or parsed, or the result is invalid.
func Load(path string) (*Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Parse reads a YAML configuration file over the defaults without validating it, so
// command-line overrides can be applied first.
func Parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	return cfg, nil
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var err error
	if e := c.Model.Provider.Validate(); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "model.provider"))
	}
	if e := c.Model.Geometry.Validate(); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "model.geometry"))
	}
	if _, e := preprocess.ParseColorMode(c.Model.ColorMode); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "model.colorMode"))
	}
	if c.Model.LabelsPath == "" {
		if _, e := models.Builtin(c.Model.Family); e != nil {
			err = multierr.Append(err, errors.Wrap(e, "model.family"))
		}
	}
	if c.Detection.Confidence < 0 || c.Detection.Confidence > 1 {
		err = multierr.Append(err, errors.Errorf("detection.confidence must be in [0, 1], got %v", c.Detection.Confidence))
	}
	nms := c.nms()
	if e := nms.Validate(); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "detection"))
	}
	if _, e := c.Display.CaptureAspect.Ratio(); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "display.captureAspect"))
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		err = multierr.Append(err, errors.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height))
	}
	if c.Camera.FramesDir == "" && c.Camera.Device.Resolution != "" {
		if _, ok := images.GetResolutionByType(c.Camera.Device.Resolution); !ok {
			err = multierr.Append(err, errors.Errorf("camera.device.resolution %q is unknown", c.Camera.Device.Resolution))
		}
	}
	if c.Camera.FPS < 0 || c.Camera.Device.FPS < 0 {
		err = multierr.Append(err, errors.New("camera fps must not be negative"))
	}
	if c.Profiler.ReportInterval < 0 {
		err = multierr.Append(err, errors.New("profiler.reportInterval must not be negative"))
	}
	if e := c.Log.Validate(); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "log"))
	}
	return err
}

func (c *Config) nms() postprocess.NMSConfig {
	return postprocess.NMSConfig{IoUThreshold: c.Detection.IoU, Workers: c.Detection.Workers}
}

// PipelineConfig converts the model, detection and display sections into a pipeline
// configuration.
func (c *Config) PipelineConfig() (controller.Config, error) {
	mode, err := preprocess.ParseColorMode(c.Model.ColorMode)
	if err != nil {
		return controller.Config{}, err
	}
	return controller.Config{
		Geometry:            c.Model.Geometry,
		ColorMode:           mode,
		ConfidenceThreshold: c.Detection.Confidence,
		NMS:                 c.nms(),
		CaptureAspect:       c.Display.CaptureAspect,
		Viewport:            viewport.Size{Width: c.Display.Width, Height: c.Display.Height},
	}, nil
}

// Labels loads the label file, or the built-in table when no file is configured.
func (c *Config) Labels() (*models.ClassLabelTable, error) {
	if c.Model.LabelsPath != "" {
		return models.LoadLabels(c.Model.LabelsPath)
	}
	return models.Builtin(c.Model.Family)
}

// OutputDir resolves the pictures directory captures are saved under.
func (c *Config) OutputDir() (string, error) {
	if c.Output.Dir != "" {
		return c.Output.Dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "cannot resolve the pictures directory")
	}
	return filepath.Join(home, "Pictures"), nil
}

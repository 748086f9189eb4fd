package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/inference/preprocess"
	"github.com/nvr-ai/live-detect/inference/providers"
	"github.com/nvr-ai/live-detect/models"
	"github.com/nvr-ai/live-detect/viewport"
)

const sampleConfig = `
model:
  provider:
    backend: cuda
    modelPath: /models/yolov8n.onnx
  geometry:
    inputSize: 320
    classCount: 2
    anchorCount: 2100
  colorMode: bgr
detection:
  confidence: 0.4
  iou: 0.45
  workers: 4
camera:
  framesDir: /data/clip
  fps: 15
  loop: true
display:
  captureAspect: "4:3"
  width: 800
  height: 600
  showWindow: true
output:
  dir: /tmp/captures
profiler:
  reportInterval: 30s
log:
  level: debug
  encoding: json
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "live-detect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validDefault() *Config {
	cfg := Default()
	cfg.Model.Provider.ModelPath = "yolov8n.onnx"
	return cfg
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, providers.CUDAProviderBackend, cfg.Model.Provider.Backend)
	assert.Equal(t, "/models/yolov8n.onnx", cfg.Model.Provider.ModelPath)
	// Unset fields keep their defaults.
	assert.Equal(t, "images", cfg.Model.Provider.InputName)
	assert.Equal(t, 3, cfg.Model.Geometry.ChannelCount)
	assert.Equal(t, 1, cfg.Model.Geometry.BatchSize)
	assert.Equal(t, 320, cfg.Model.Geometry.InputSize)
	assert.Equal(t, "live-detect", cfg.Output.App)
	assert.True(t, cfg.Profiler.Enabled)

	assert.Equal(t, 30*time.Second, cfg.Profiler.ReportInterval)
	assert.Equal(t, "/data/clip", cfg.Camera.FramesDir)
	assert.True(t, cfg.Camera.Loop)
	assert.True(t, cfg.Display.ShowWindow)
	assert.Equal(t, "debug", cfg.Log.Level)

	dir, err := cfg.OutputDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/captures", dir)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "model: [unclosed"))
	assert.Error(t, err)

	// Defaults alone have no model path.
	_, err = Load(writeConfig(t, "detection:\n  iou: 0.3\n"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		errs   int
	}{
		{"valid", func(*Config) {}, 0},
		{"no model path", func(c *Config) { c.Model.Provider.ModelPath = "" }, 1},
		{"bad geometry", func(c *Config) { c.Model.Geometry.BatchSize = 2 }, 1},
		{"bad color mode", func(c *Config) { c.Model.ColorMode = "hsv" }, 1},
		{"unknown family", func(c *Config) { c.Model.Family = "imagenet" }, 1},
		{"family ignored with labels file", func(c *Config) {
			c.Model.Family = "imagenet"
			c.Model.LabelsPath = "labels.txt"
		}, 0},
		{"confidence above one", func(c *Config) { c.Detection.Confidence = 1.5 }, 1},
		{"zero iou", func(c *Config) { c.Detection.IoU = 0 }, 1},
		{"negative workers", func(c *Config) { c.Detection.Workers = -1 }, 1},
		{"bad aspect", func(c *Config) { c.Display.CaptureAspect = "wide" }, 1},
		{"zero display", func(c *Config) { c.Display.Width = 0 }, 1},
		{"unknown resolution", func(c *Config) { c.Camera.Device.Resolution = "8K" }, 1},
		{"resolution ignored for replay", func(c *Config) {
			c.Camera.Device.Resolution = "8K"
			c.Camera.FramesDir = "/data"
		}, 0},
		{"negative fps", func(c *Config) { c.Camera.FPS = -1 }, 1},
		{"negative report interval", func(c *Config) { c.Profiler.ReportInterval = -time.Second }, 1},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, 1},
		{"several problems", func(c *Config) {
			c.Detection.IoU = 2
			c.Display.Height = -1
			c.Log.Encoding = "xml"
		}, 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validDefault()
			tc.mutate(cfg)
			err := cfg.Validate()
			assert.Len(t, multierr.Errors(err), tc.errs)
		})
	}
}

func TestConfig_PipelineConfig(t *testing.T) {
	cfg := validDefault()
	cfg.Model.ColorMode = "bgr"
	cfg.Detection.Workers = 2

	pc, err := cfg.PipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, preprocess.ColorModeBGR, pc.ColorMode)
	assert.Equal(t, cfg.Model.Geometry, pc.Geometry)
	assert.InDelta(t, 0.25, pc.ConfidenceThreshold, 1e-6)
	assert.InDelta(t, 0.5, pc.NMS.IoUThreshold, 1e-6)
	assert.Equal(t, 2, pc.NMS.Workers)
	assert.Equal(t, images.AspectRatio169, pc.CaptureAspect)
	assert.Equal(t, viewport.Size{Width: 1280, Height: 720}, pc.Viewport)

	cfg.Model.ColorMode = "hsv"
	_, err = cfg.PipelineConfig()
	assert.Error(t, err)
}

func TestConfig_Labels(t *testing.T) {
	cfg := validDefault()
	labels, err := cfg.Labels()
	require.NoError(t, err)
	assert.Same(t, models.COCO80, labels)

	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("person\nbicycle\n"), 0o600))
	cfg.Model.LabelsPath = path
	labels, err = cfg.Labels()
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "bicycle"}, labels.Names())
}

func TestParse_SkipsValidation(t *testing.T) {
	cfg, err := Parse(writeConfig(t, "detection:\n  iou: 0.3\n"))
	require.NoError(t, err)
	assert.InDelta(t, 0.3, cfg.Detection.IoU, 1e-6)
	assert.Error(t, cfg.Validate())

	cfg.Model.Provider.ModelPath = "yolov8n.onnx"
	assert.NoError(t, cfg.Validate())
}

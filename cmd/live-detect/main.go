// Package main is the live-detect command: it runs a YOLO detector over a camera feed or a
// frame directory and saves annotated captures on request.
package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagConfig     = "config"
	flagModel      = "model"
	flagLabels     = "labels"
	flagBackend    = "backend"
	flagDevice     = "device"
	flagVideo      = "video"
	flagFramesDir  = "frames-dir"
	flagLoop       = "loop"
	flagConfidence = "confidence"
	flagIoU        = "iou"
	flagOutputDir  = "output-dir"
	flagShowWindow = "show-window"
	flagLogLevel   = "log-level"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "live-detect",
		Usage: "real-time object detection on a camera feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:    flagModel,
				Aliases: []string{"m"},
				Usage:   "path to the YOLO ONNX `MODEL`",
				EnvVars: []string{"LIVE_DETECT_MODEL"},
			},
			&cli.StringFlag{
				Name:  flagLabels,
				Usage: "newline-delimited label `FILE`; defaults to the built-in COCO labels",
			},
			&cli.StringFlag{
				Name:  flagBackend,
				Usage: "execution provider: cpu, cuda, coreml or openvino",
			},
			&cli.IntFlag{
				Name:  flagDevice,
				Usage: "camera device `ID`",
			},
			&cli.StringFlag{
				Name:  flagVideo,
				Usage: "read frames from a video file or stream `URL` instead of a camera",
			},
			&cli.StringFlag{
				Name:  flagFramesDir,
				Usage: "replay frame-N.jpg/.png/.webp files from `DIR` instead of a camera",
			},
			&cli.BoolFlag{
				Name:  flagLoop,
				Usage: "replay the frame directory forever",
			},
			&cli.Float64Flag{
				Name:  flagConfidence,
				Usage: "minimum class score for a detection",
			},
			&cli.Float64Flag{
				Name:  flagIoU,
				Usage: "overlap at which same-class boxes are suppressed",
			},
			&cli.StringFlag{
				Name:  flagOutputDir,
				Usage: "pictures `DIR` captures are saved under",
			},
			&cli.BoolFlag{
				Name:  flagShowWindow,
				Usage: "show a preview window; press c to capture, q to quit",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "debug, info, warn or error",
			},
		},
		Action: run,
	}
}

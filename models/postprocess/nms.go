// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"iter"
	"slices"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/models/yolo"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// IoUThreshold is the overlap at or above which the lower-ranked box is suppressed.
	IoUThreshold float32 `json:"iouThreshold" yaml:"iouThreshold"`
	// Workers bounds how many class partitions are suppressed concurrently; <= 1 runs serially.
	Workers int `json:"workers" yaml:"workers"`
}

// DefaultNMSConfig returns the configuration used when none is given: IoU 0.5, serial.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{IoUThreshold: 0.5}
}

// Validate checks the suppression parameters.
func (c *NMSConfig) Validate() error {
	if math32.IsNaN(c.IoUThreshold) || c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return errors.Errorf("iou threshold must be in (0, 1], got %v", c.IoUThreshold)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// Suppress runs per-class greedy NMS over a candidate sequence.
//
// Candidates are converted to corner boxes, partitioned by class, ranked by score (descending,
// ties by ascending anchor) and greedily kept or discarded. The survivors are returned
// concatenated in ascending class order, each class in its kept order.
//
// Arguments:
//   - candidates: The decoded candidates, consumed once.
//   - config: NMS configuration; nil uses DefaultNMSConfig.
//
// Returns:
//   - []Result: The surviving detections; empty (not nil) when there are none.
func Suppress(candidates iter.Seq[yolo.Candidate], config *NMSConfig) []Result {
	return ApplyGreedyNMS(FromCandidates(candidates), config)
}

// ApplyGreedyNMS performs class-aware greedy Non-Maximum Suppression.
//
// Boxes of different classes never suppress each other. Within a class the highest-ranked
// box is kept and every remaining box whose IoU with it is >= IoUThreshold is discarded,
// then the next surviving box is taken. The input slice is not modified.
//
// Arguments:
//   - detections: Detections in any order.
//   - config: NMS configuration; nil uses DefaultNMSConfig.
//
// Returns:
//   - []Result: The filtered detections, grouped by ascending class.
func ApplyGreedyNMS(detections []Result, config *NMSConfig) []Result {
	if len(detections) == 0 {
		return []Result{}
	}
	if config == nil {
		def := DefaultNMSConfig()
		config = &def
	}

	groups := partition(detections)
	kept := make([][]Result, len(groups))

	if config.Workers <= 1 || len(groups) == 1 {
		for i, g := range groups {
			kept[i] = greedy(g, config.IoUThreshold)
		}
	} else {
		var eg errgroup.Group
		eg.SetLimit(config.Workers)
		for i, g := range groups {
			eg.Go(func() error {
				kept[i] = greedy(g, config.IoUThreshold)
				return nil
			})
		}
		_ = eg.Wait()
	}

	out := make([]Result, 0, len(detections))
	for _, k := range kept {
		out = append(out, k...)
	}
	return out
}

// partition copies detections into per-class slices ordered by ascending class.
func partition(detections []Result) [][]Result {
	byClass := make(map[int][]Result)
	for _, d := range detections {
		byClass[d.Class] = append(byClass[d.Class], d)
	}

	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	slices.Sort(classes)

	groups := make([][]Result, len(classes))
	for i, c := range classes {
		groups[i] = byClass[c]
	}
	return groups
}

// greedy ranks one class partition in place and returns its survivors.
func greedy(group []Result, threshold float32) []Result {
	slices.SortStableFunc(group, func(a, b Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return a.Anchor - b.Anchor
		}
	})

	n := len(group)
	used := make([]bool, n)
	filtered := make([]Result, 0, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := group[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if images.CalculateIoU(anchor.Box, group[j].Box) >= threshold {
				used[j] = true
			}
		}
	}

	return filtered
}

// Package models - Class label tables for detection models.
package models

import (
	"fmt"
	"strings"
)

// ModelFamily identifies the naming convention / dataset of a label table.
type ModelFamily string

const (
	// ModelFamilyYOLO is the 80 COCO classes with no background entry.
	ModelFamilyYOLO ModelFamily = "yolo"
	// ModelFamilyCOCO is the 80 COCO classes plus "__background__" at index 0.
	ModelFamilyCOCO ModelFamily = "coco"
)

// ClassLabelTable maps class indices to human-readable names. It is immutable once built.
type ClassLabelTable struct {
	names     []string
	nameToIdx map[string]int
}

// NewClassLabelTable builds a table from names in index order. The slice is copied.
func NewClassLabelTable(names []string) *ClassLabelTable {
	t := &ClassLabelTable{
		names:     append([]string(nil), names...),
		nameToIdx: make(map[string]int, len(names)),
	}
	for i, n := range t.names {
		// The first occurrence wins for duplicated names.
		if _, ok := t.nameToIdx[n]; !ok {
			t.nameToIdx[n] = i
		}
	}
	return t
}

// Len returns the number of classes.
func (t *ClassLabelTable) Len() int {
	return len(t.names)
}

// Name returns the label for idx, or "class <idx>" when idx is out of range.
func (t *ClassLabelTable) Name(idx int) string {
	if idx < 0 || idx >= len(t.names) {
		return fmt.Sprintf("class %d", idx)
	}
	return t.names[idx]
}

// Index returns the index of name.
func (t *ClassLabelTable) Index(name string) (int, bool) {
	idx, ok := t.nameToIdx[name]
	return idx, ok
}

// Names returns a copy of the labels in index order.
func (t *ClassLabelTable) Names() []string {
	return append([]string(nil), t.names...)
}

// Validate checks that the table describes exactly classCount classes.
//
// Arguments:
//   - classCount: The number of class score rows the model emits.
//
// Returns:
//   - error: A *ConfigError if the counts disagree or a label is blank.
func (t *ClassLabelTable) Validate(classCount int) error {
	if len(t.names) != classCount {
		return &ConfigError{
			Field:  "labels",
			Reason: fmt.Sprintf("label table has %d entries, model emits %d classes", len(t.names), classCount),
		}
	}
	for i, n := range t.names {
		if strings.TrimSpace(n) == "" {
			return &ConfigError{Field: "labels", Reason: fmt.Sprintf("label %d is blank", i)}
		}
	}
	return nil
}

// Builtin returns the built-in label table of a model family.
func Builtin(family ModelFamily) (*ClassLabelTable, error) {
	switch family {
	case ModelFamilyYOLO, "":
		return COCO80, nil
	case ModelFamilyCOCO:
		return NewClassLabelTable(append([]string{"__background__"}, cocoNames...)), nil
	default:
		return nil, &ConfigError{Field: "labels", Reason: fmt.Sprintf("unknown model family %q", family)}
	}
}

// COCO80 is the 80-class COCO table that YOLO models index directly into.
var COCO80 = NewClassLabelTable(cocoNames)

var cocoNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

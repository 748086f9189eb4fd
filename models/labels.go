package models

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ConfigError reports a startup configuration problem. It is fatal for the pipeline.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap returns the underlying error, if any.
func (e *ConfigError) Unwrap() error { return e.Err }

// LoadLabels reads a newline-delimited label file.
//
// Arguments:
//   - path: The label file path.
//
// Returns:
//   - *ClassLabelTable: The labels in file order.
//   - error: A *ConfigError if the file cannot be read or holds no labels.
func LoadLabels(path string) (*ClassLabelTable, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, &ConfigError{Field: "labels", Reason: "cannot open " + path, Err: err}
	}
	defer f.Close()

	table, err := ParseLabels(f)
	if err != nil {
		return nil, &ConfigError{Field: "labels", Reason: "cannot parse " + path, Err: err}
	}
	return table, nil
}

// ParseLabels reads one label per line. CRLF line endings are tolerated and trailing blank
// lines are ignored. Commas are part of a label, not separators.
func ParseLabels(r io.Reader) (*ClassLabelTable, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		labels = append(labels, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read labels")
	}

	for len(labels) > 0 && strings.TrimSpace(labels[len(labels)-1]) == "" {
		labels = labels[:len(labels)-1]
	}
	if len(labels) == 0 {
		return nil, errors.New("no labels found")
	}
	return NewClassLabelTable(labels), nil
}

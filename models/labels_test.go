package models

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabels(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
		wantErr  bool
	}{
		{"unix newlines", "person\nbicycle\ncar\n", []string{"person", "bicycle", "car"}, false},
		{"crlf", "person\r\nbicycle\r\n", []string{"person", "bicycle"}, false},
		{"trailing blank lines", "person\nbicycle\n\n\n", []string{"person", "bicycle"}, false},
		{"no trailing newline", "person\nbicycle", []string{"person", "bicycle"}, false},
		{"labels with spaces", "traffic light\nstop sign\n", []string{"traffic light", "stop sign"}, false},
		{"comma inside a label", "person, seated\n", []string{"person, seated"}, false},
		{"empty", "", nil, true},
		{"only blanks", "\n\n", nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			table, err := ParseLabels(strings.NewReader(tc.input))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, table.Names())
		})
	}
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(COCO80.Names(), "\n")+"\n"), 0o600))

	table, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, 80, table.Len())
	assert.NoError(t, table.Validate(80))

	_, err = LoadLabels(filepath.Join(dir, "missing.txt"))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "labels", cfgErr.Field)
}

func TestClassLabelTable_Validate(t *testing.T) {
	table := NewClassLabelTable([]string{"person", "car"})
	assert.NoError(t, table.Validate(2))

	err := table.Validate(80)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Error(), "2 entries")

	assert.Error(t, NewClassLabelTable([]string{"person", " "}).Validate(2))
}

func TestClassLabelTable_Lookup(t *testing.T) {
	assert.Equal(t, "person", COCO80.Name(0))
	assert.Equal(t, "toothbrush", COCO80.Name(79))
	assert.Equal(t, "class 80", COCO80.Name(80))
	assert.Equal(t, "class -1", COCO80.Name(-1))

	idx, ok := COCO80.Index("dog")
	assert.True(t, ok)
	assert.Equal(t, 16, idx)
	_, ok = COCO80.Index("unicorn")
	assert.False(t, ok)

	// Names returns a copy.
	names := COCO80.Names()
	names[0] = "changed"
	assert.Equal(t, "person", COCO80.Name(0))
}

func TestBuiltin(t *testing.T) {
	yolo, err := Builtin(ModelFamilyYOLO)
	require.NoError(t, err)
	assert.Equal(t, 80, yolo.Len())

	coco, err := Builtin(ModelFamilyCOCO)
	require.NoError(t, err)
	assert.Equal(t, 81, coco.Len())
	assert.Equal(t, "__background__", coco.Name(0))
	assert.Equal(t, "person", coco.Name(1))

	_, err = Builtin("voc")
	assert.Error(t, err)
}

// Package labels maps classifier output indices to sign words.
package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Unknown is returned for indices outside the table.
const Unknown = "unknown"

// ErrEmptyTable is returned when a label file holds no labels.
var ErrEmptyTable = errors.New("label table is empty")

// Table is an ordered, read-only list of class labels.
type Table struct {
	labels []string
}

// New returns a table holding a copy of labels.
func New(labels ...string) *Table {
	return &Table{labels: append([]string(nil), labels...)}
}

// Default is the table used when no label file is configured.
func Default() *Table {
	return New("hello")
}

type document struct {
	Labels []string `json:"labels" yaml:"labels"`
}

// Load reads a label table from a .json, .yaml or .yml file. The file may be
// a bare list or an object with a "labels" list.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	var list []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		list, err = decodeYAML(raw)
	default:
		list, err = decodeJSON(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse labels %s: %w", path, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyTable)
	}
	for i, l := range list {
		if strings.TrimSpace(l) == "" {
			return nil, fmt.Errorf("%s: label %d is blank", path, i)
		}
	}
	return New(list...), nil
}

func decodeJSON(raw []byte) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc.Labels, nil
}

func decodeYAML(raw []byte) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc.Labels, nil
}

// Lookup returns the label at index i, or Unknown when i is out of range.
func (t *Table) Lookup(i int) string {
	if t == nil || i < 0 || i >= len(t.labels) {
		return Unknown
	}
	return t.labels[i]
}

// Len returns the number of labels.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.labels)
}

// Labels returns a copy of the labels in index order.
func (t *Table) Labels() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.labels...)
}

package encoding

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Vocabulary encodes every column with a fixed label table learnt at training
// time, so a label always maps to the same code.
type Vocabulary struct {
	columns []string
	tables  []map[string]int
}

// vocabularyFile is the on-disk layout: column name to label to code.
type vocabularyFile struct {
	Columns map[string]map[string]int `json:"columns" yaml:"columns"`
}

// LoadVocabulary reads a JSON or YAML vocabulary (chosen by file extension)
// and keeps the tables for columns, in that order.
func LoadVocabulary(path string, columns []string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary %s: %w", path, err)
	}

	var file vocabularyFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary %s: %w", path, err)
	}

	return NewVocabulary(file.Columns, columns)
}

// NewVocabulary builds a Vocabulary from per-column tables.
func NewVocabulary(tables map[string]map[string]int, columns []string) (*Vocabulary, error) {
	v := &Vocabulary{columns: columns, tables: make([]map[string]int, len(columns))}
	for i, col := range columns {
		t, ok := tables[col]
		if !ok || len(t) == 0 {
			return nil, fmt.Errorf("vocabulary has no labels for column %q", col)
		}
		v.tables[i] = t
	}
	return v, nil
}

// Encode implements Encoder. values must be in column order.
func (v *Vocabulary) Encode(values []string) ([]int, error) {
	if len(values) != len(v.columns) {
		return nil, fmt.Errorf("expected %d categorical values, got %d", len(v.columns), len(values))
	}
	codes := make([]int, len(values))
	for i, val := range values {
		code, ok := v.tables[i][val]
		if !ok {
			return nil, fmt.Errorf("%w: %q for column %s", ErrUnseenLabel, val, v.columns[i])
		}
		codes[i] = code
	}
	return codes, nil
}

// Name implements Encoder
func (v *Vocabulary) Name() string { return ModeVocabulary }

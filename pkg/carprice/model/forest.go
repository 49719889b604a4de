// Package model loads the pre-trained price regressor and evaluates it.
//
// The artifact is a tree ensemble exported with the same arrays a fitted
// scikit-learn tree exposes (children_left, children_right, feature,
// threshold, value). A Forest predicts the mean of its trees' leaf values,
// which is what a random forest regressor does.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// leaf marks a node without children.
const leaf = -1

var (
	// ErrShapeMismatch is returned when a row does not have the width the
	// model was trained on.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrInvalidArtifact is returned when a model file cannot be used.
	ErrInvalidArtifact = errors.New("invalid model artifact")
)

// Regressor predicts one value per row.
type Regressor interface {
	Predict(rows [][]float64) ([]float64, error)
}

// Tree is one regression tree in array form. Node 0 is the root.
type Tree struct {
	ChildrenLeft  []int     `json:"children_left" yaml:"children_left"`
	ChildrenRight []int     `json:"children_right" yaml:"children_right"`
	Feature       []int     `json:"feature" yaml:"feature"`
	Threshold     []float64 `json:"threshold" yaml:"threshold"`
	Value         []float64 `json:"value" yaml:"value"`
}

// Forest is an immutable tree ensemble. It is safe for concurrent use.
type Forest struct {
	NFeatures    int      `json:"n_features" yaml:"n_features"`
	FeatureNames []string `json:"feature_names,omitempty" yaml:"feature_names,omitempty"`
	Trees        []Tree   `json:"trees" yaml:"trees"`
}

// Load reads a JSON or YAML forest (chosen by file extension) and validates it.
func Load(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}

	var f Forest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidArtifact, path, err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that every tree is well formed for NFeatures inputs.
func (f *Forest) Validate() error {
	if f.NFeatures <= 0 {
		return fmt.Errorf("%w: n_features must be positive, got %d", ErrInvalidArtifact, f.NFeatures)
	}
	if len(f.FeatureNames) != 0 && len(f.FeatureNames) != f.NFeatures {
		return fmt.Errorf("%w: %d feature names for %d features", ErrInvalidArtifact, len(f.FeatureNames), f.NFeatures)
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("%w: no trees", ErrInvalidArtifact)
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(f.NFeatures); err != nil {
			return fmt.Errorf("%w: tree %d: %v", ErrInvalidArtifact, i, err)
		}
	}
	return nil
}

func (t *Tree) validate(nFeatures int) error {
	n := len(t.Value)
	if n == 0 {
		return errors.New("no nodes")
	}
	if len(t.ChildrenLeft) != n || len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n {
		return fmt.Errorf("node arrays differ in length (value has %d)", n)
	}
	for i := 0; i < n; i++ {
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if (l == leaf) != (r == leaf) {
			return fmt.Errorf("node %d has a single child", i)
		}
		if l == leaf {
			continue
		}
		// children always come after their parent, which also rules out cycles
		if l <= i || l >= n || r <= i || r >= n {
			return fmt.Errorf("node %d has out of range children %d, %d", i, l, r)
		}
		if ft := t.Feature[i]; ft < 0 || ft >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d", i, ft)
		}
	}
	return nil
}

// Nodes returns the total number of nodes across trees.
func (f *Forest) Nodes() int {
	total := 0
	for i := range f.Trees {
		total += len(f.Trees[i].Value)
	}
	return total
}

// Predict implements Regressor
func (f *Forest) Predict(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != f.NFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, model expects %d", ErrShapeMismatch, i, len(row), f.NFeatures)
		}
		var sum float64
		for j := range f.Trees {
			sum += f.Trees[j].predict(row)
		}
		out[i] = sum / float64(len(f.Trees))
	}
	return out, nil
}

func (t *Tree) predict(row []float64) float64 {
	node := 0
	for t.ChildrenLeft[node] != leaf {
		// inputs are compared in single precision, as they were during training
		x := float64(float32(row[t.Feature[node]]))
		if x <= t.Threshold[node] || math.IsNaN(x) {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return t.Value[node]
}

// Package encoding turns categorical car attributes into the integer codes the
// price model consumes.
package encoding

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnseenLabel is returned when a value was not part of the fitted classes.
var ErrUnseenLabel = errors.New("unseen label")

// Encoder maps the categorical values of one request, in vector order, to
// integer codes.
type Encoder interface {
	Encode(values []string) ([]int, error)
	Name() string
}

// LabelEncoder assigns every distinct label its index in the sorted set of
// labels it was fitted on.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// Fit learns the classes from values, replacing anything learnt before.
func (le *LabelEncoder) Fit(values []string) *LabelEncoder {
	seen := make(map[string]struct{}, len(values))
	classes := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	// byte order on UTF-8 is code point order
	sort.Strings(classes)

	le.classes = classes
	le.index = make(map[string]int, len(classes))
	for i, c := range classes {
		le.index[c] = i
	}
	return le
}

// Classes returns the fitted classes in code order.
func (le *LabelEncoder) Classes() []string {
	out := make([]string, len(le.classes))
	copy(out, le.classes)
	return out
}

// Transform returns the code of every value.
func (le *LabelEncoder) Transform(values []string) ([]int, error) {
	codes := make([]int, len(values))
	for i, v := range values {
		code, ok := le.index[v]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnseenLabel, v)
		}
		codes[i] = code
	}
	return codes, nil
}

// PerRequest fits a fresh LabelEncoder on the values of every call. Codes are
// only consistent within one call: the same label can map to a different code
// when the other values of the request differ.
type PerRequest struct{}

// Encode implements Encoder
func (PerRequest) Encode(values []string) ([]int, error) {
	le := &LabelEncoder{}
	return le.Fit(values).Transform(values)
}

// Name implements Encoder
func (PerRequest) Name() string { return ModePerRequest }

// Encoder modes accepted by New.
const (
	ModePerRequest = "per-request"
	ModeVocabulary = "vocabulary"
)

// New returns the encoder for mode. vocabularyPath is only read in
// vocabulary mode.
func New(mode, vocabularyPath string, columns []string) (Encoder, error) {
	switch mode {
	case "", ModePerRequest:
		return PerRequest{}, nil
	case ModeVocabulary:
		if vocabularyPath == "" {
			return nil, errors.New("vocabulary mode requires a vocabulary path")
		}
		return LoadVocabulary(vocabularyPath, columns)
	default:
		return nil, fmt.Errorf("unknown encoder mode %q", mode)
	}
}

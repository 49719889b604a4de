package dal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Positions of the features in the vector fed to the model. The order is the
// one the model was trained on and must not change.
const (
	IdxYear = iota
	IdxManufacturer
	IdxModel
	IdxCondition
	IdxOdometer
	IdxTransmission
	IdxPaintColor
	IdxState

	NumFeatures
)

// CategoricalIndices are the vector positions holding label-encoded values.
var CategoricalIndices = [...]int{IdxManufacturer, IdxModel, IdxCondition, IdxTransmission, IdxPaintColor, IdxState}

// FeatureNames lists the JSON field names in vector order.
var FeatureNames = [NumFeatures]string{
	"year", "manufacturer", "model", "condition", "odometer", "transmission", "paint_color", "state",
}

// PredictionRequest defines the HTTP request body of POST /predict
type PredictionRequest struct {
	Input *CarInput `json:"input" validate:"required"`
}

// CarInput holds the raw user supplied fields. Pointers distinguish a missing
// field from an empty one.
type CarInput struct {
	Year         *FlexInt `json:"year" validate:"required"`
	Manufacturer *string  `json:"manufacturer" validate:"required"`
	Model        *string  `json:"model" validate:"required"`
	Condition    *string  `json:"condition" validate:"required"`
	Odometer     *FlexInt `json:"odometer" validate:"required"`
	Transmission *string  `json:"transmission" validate:"required"`
	PaintColor   *string  `json:"paint_color" validate:"required"`
	State        *string  `json:"state" validate:"required"`
}

// PredictionResponse defines an HTTP response struct
type PredictionResponse struct {
	CarPrice float64 `json:"car_price"`
}

// FeatureVector is the coerced input in model order. Year and Odometer hold
// the numeric positions, Labels the categorical ones.
type FeatureVector struct {
	Year     int64
	Odometer int64
	Labels   [NumFeatures]string
}

// Categorical returns the categorical labels in vector order.
func (f FeatureVector) Categorical() []string {
	out := make([]string, 0, len(CategoricalIndices))
	for _, i := range CategoricalIndices {
		out = append(out, f.Labels[i])
	}
	return out
}

// EncodedVector is the numeric row handed to the model.
type EncodedVector [NumFeatures]float64

// Row returns the vector as a slice.
func (e EncodedVector) Row() []float64 {
	row := make([]float64, NumFeatures)
	copy(row, e[:])
	return row
}

// FlexInt keeps the raw JSON of a field that may be sent either as a number
// or as a string holding a number. Coercion happens in Int, not while
// decoding, so that a missing field is reported before a malformed one.
type FlexInt struct {
	raw json.RawMessage
}

// NewFlexInt builds a FlexInt from a string value, the way a form would send it.
func NewFlexInt(s string) *FlexInt {
	b, _ := json.Marshal(s)
	return &FlexInt{raw: b}
}

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	f.raw = append(f.raw[:0], b...)
	return nil
}

// MarshalJSON implements json.Marshaler
func (f FlexInt) MarshalJSON() ([]byte, error) {
	if len(f.raw) == 0 {
		return []byte("null"), nil
	}
	return f.raw, nil
}

// Int coerces the value to an integer. Strings must hold a base-10 integer;
// numbers with a fractional part are truncated toward zero.
func (f FlexInt) Int() (int64, error) {
	raw := bytes.TrimSpace(f.raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("value is null")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid literal for int: %q", s)
		}
		return n, nil
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return 0, fmt.Errorf("not a number or numeric string: %s", raw)
	}
	if n, err := num.Int64(); err == nil {
		return n, nil
	}
	fl, err := num.Float64()
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold
	if err != nil || math.IsInf(fl, 0) || math.IsNaN(fl) || math.Abs(fl) >= math.MaxInt64 {
		return 0, fmt.Errorf("cannot convert %s to int", raw)
	}
	return int64(math.Trunc(fl)), nil
}

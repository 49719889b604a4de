// Package predict implements the car price prediction: it coerces the raw
// input into the feature order the model was trained on, label-encodes the
// categorical positions and evaluates the shared model.
package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/dal"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/encoding"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/metrics"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/model"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidInput covers missing fields and non integer year or odometer.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEncoding is returned when a categorical value has no code.
	ErrEncoding = errors.New("encoding error")
	// ErrInternal is returned when the model cannot be evaluated.
	ErrInternal = errors.New("internal error")
	// ErrCanceled is returned when the caller went away before the model ran.
	ErrCanceled = errors.New("request canceled")
)

// Service predicts car prices. The model and encoder are shared read-only
// between calls, so a Service is safe for concurrent use.
type Service struct {
	model    model.Regressor
	encoder  encoding.Encoder
	validate *validator.Validate
	metrics  *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithEncoder replaces the default per-request encoder.
func WithEncoder(e encoding.Encoder) Option {
	return func(s *Service) { s.encoder = e }
}

// WithMetrics records prediction outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a Service evaluating m.
func NewService(m model.Regressor, opts ...Option) *Service {
	s := &Service{
		model:    m,
		encoder:  encoding.PerRequest{},
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EncoderName reports which encoder the service uses.
func (s *Service) EncoderName() string {
	return s.encoder.Name()
}

// Predict returns the predicted price for input.
func (s *Service) Predict(ctx context.Context, input *dal.CarInput) (dal.PredictionResponse, error) {
	start := time.Now()
	price, err := s.predict(ctx, input)
	if err != nil {
		s.metrics.PredictionFailed(failureKind(err))
		return dal.PredictionResponse{}, err
	}
	s.metrics.PredictionSucceeded(time.Since(start).Seconds(), price)
	return dal.PredictionResponse{CarPrice: price}, nil
}

func (s *Service) predict(ctx context.Context, input *dal.CarInput) (float64, error) {
	features, err := s.Features(input)
	if err != nil {
		return 0, err
	}

	encoded, err := s.Encode(features)
	if err != nil {
		return 0, err
	}

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCanceled, err)
	}

	out, err := s.evaluate(encoded)
	if err != nil {
		return 0, fmt.Errorf("%w: model predict: %v", ErrInternal, err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("%w: model returned no predictions", ErrInternal)
	}
	if math.IsNaN(out[0]) || math.IsInf(out[0], 0) {
		return 0, fmt.Errorf("%w: model returned %v", ErrInternal, out[0])
	}

	log.Debug().
		Floats64("vector", encoded[:]).
		Float64("car_price", out[0]).
		Msg("prediction")
	return out[0], nil
}

// evaluate runs the model on a single-row batch. A panicking model is
// reported as an error.
func (s *Service) evaluate(ev dal.EncodedVector) (out []float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("model panicked: %v", rec)
		}
	}()
	return s.model.Predict([][]float64{ev.Row()})
}

// Features checks that every field is present, then builds the ordered
// feature vector with year and odometer coerced to integers.
func (s *Service) Features(input *dal.CarInput) (dal.FeatureVector, error) {
	if input == nil {
		return dal.FeatureVector{}, fmt.Errorf("%w: missing input", ErrInvalidInput)
	}
	if err := s.validate.Struct(input); err != nil {
		return dal.FeatureVector{}, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}

	year, err := input.Year.Int()
	if err != nil {
		return dal.FeatureVector{}, fmt.Errorf("%w: year: %v", ErrInvalidInput, err)
	}
	odometer, err := input.Odometer.Int()
	if err != nil {
		return dal.FeatureVector{}, fmt.Errorf("%w: odometer: %v", ErrInvalidInput, err)
	}

	var fv dal.FeatureVector
	fv.Year = year
	fv.Odometer = odometer
	fv.Labels[dal.IdxManufacturer] = *input.Manufacturer
	fv.Labels[dal.IdxModel] = *input.Model
	fv.Labels[dal.IdxCondition] = *input.Condition
	fv.Labels[dal.IdxTransmission] = *input.Transmission
	fv.Labels[dal.IdxPaintColor] = *input.PaintColor
	fv.Labels[dal.IdxState] = *input.State
	return fv, nil
}

// Encode replaces the categorical positions of fv with their codes.
func (s *Service) Encode(fv dal.FeatureVector) (dal.EncodedVector, error) {
	codes, err := s.encoder.Encode(fv.Categorical())
	if err != nil {
		return dal.EncodedVector{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if len(codes) != len(dal.CategoricalIndices) {
		return dal.EncodedVector{}, fmt.Errorf("%w: got %d codes for %d columns", ErrEncoding, len(codes), len(dal.CategoricalIndices))
	}

	var ev dal.EncodedVector
	ev[dal.IdxYear] = float64(fv.Year)
	ev[dal.IdxOdometer] = float64(fv.Odometer)
	for i, idx := range dal.CategoricalIndices {
		ev[idx] = float64(codes[i])
	}
	return ev, nil
}

// newValidator reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return fmt.Sprintf("missing required fields %v", missing)
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return metrics.KindInvalidInput
	case errors.Is(err, ErrEncoding):
		return metrics.KindEncoding
	case errors.Is(err, ErrCanceled):
		return metrics.KindCanceled
	default:
		return metrics.KindInternal
	}
}

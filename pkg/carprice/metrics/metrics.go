// Package metrics holds the Prometheus collectors of the price service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure kinds used as the "kind" label.
const (
	KindInvalidInput = "invalid_input"
	KindEncoding     = "encoding"
	KindInternal     = "internal"
	KindCanceled     = "canceled"
)

// Metrics holds the collectors for predictions and HTTP traffic.
type Metrics struct {
	Predictions        prometheus.Counter       // successful predictions
	PredictionFailures *prometheus.CounterVec   // failed predictions by kind
	PredictionDuration prometheus.Histogram     // end to end predict latency
	PredictedPrice     prometheus.Histogram     // distribution of returned prices
	HTTPRequests       *prometheus.CounterVec   // requests by route and status code
	HTTPDuration       *prometheus.HistogramVec // request latency by route
}

// New registers the collectors on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on registerer, so tests can use an
// isolated registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "carprice_predictions_total",
			Help: "Total number of successful price predictions",
		}),
		PredictionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carprice_prediction_failures_total",
			Help: "Total number of failed price predictions",
		}, []string{"kind"}),
		PredictionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "carprice_prediction_duration_seconds",
			Help:    "Time spent coercing, encoding and evaluating one prediction",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		PredictedPrice: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "carprice_predicted_price",
			Help:    "Distribution of predicted car prices",
			Buckets: prometheus.ExponentialBuckets(1000, 2, 8),
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carprice_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carprice_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// PredictionSucceeded records a successful prediction.
func (m *Metrics) PredictionSucceeded(seconds, price float64) {
	if m == nil {
		return
	}
	m.Predictions.Inc()
	m.PredictionDuration.Observe(seconds)
	m.PredictedPrice.Observe(price)
}

// PredictionFailed records a failed prediction of the given kind.
func (m *Metrics) PredictionFailed(kind string) {
	if m == nil {
		return
	}
	m.PredictionFailures.WithLabelValues(kind).Inc()
}

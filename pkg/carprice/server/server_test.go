package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/dal"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/encoding"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/metrics"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/model"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/predict"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const corolla = `{"input": {"year":"2015","manufacturer":"toyota","model":"corolla","condition":"good",
	"odometer":"45000","transmission":"automatic","paint_color":"white","state":"ca"}}`

type panickingModel struct{}

func (panickingModel) Predict([][]float64) ([]float64, error) { panic("corrupt model") }

func newTestServer(t *testing.T, m model.Regressor, opts ...predict.Option) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	if m == nil {
		f, err := model.Load("../model/testdata/forest.json")
		require.NoError(t, err)
		m = f
	}
	reg := prometheus.NewRegistry()
	met := metrics.NewWithRegistry(reg)
	svc := predict.NewService(m, append(opts, predict.WithMetrics(met))...)

	ts := httptest.NewServer(NewHandler(svc, Options{Metrics: met, Gatherer: reg}))
	t.Cleanup(ts.Close)
	return ts, reg
}

func TestServer(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		expected float64
		errText  string
	}{
		{
			name:     "StringNumbers",
			body:     corolla,
			status:   http.StatusOK,
			expected: 15000,
		},
		{
			name: "JSONNumbers",
			body: `{"input": {"year":2009,"manufacturer":"ford","model":"focus","condition":"fair",
				"odometer":120000,"transmission":"manual","paint_color":"blue","state":"tx"}}`,
			status:   http.StatusOK,
			expected: 7500,
		},
		{
			name: "HighMileage",
			body: `{"input": {"year":"2018","manufacturer":"honda","model":"accord","condition":"excellent",
				"odometer":"95000","transmission":"automatic","paint_color":"black","state":"ny"}}`,
			status:   http.StatusOK,
			expected: 11000,
		},
		{
			name:    "MissingField",
			body:    `{"input": {"year":"2015","manufacturer":"toyota"}}`,
			status:  http.StatusBadRequest,
			errText: "missing required fields",
		},
		{
			name: "BadYear",
			body: `{"input": {"year":"new","manufacturer":"toyota","model":"corolla","condition":"good",
				"odometer":"45000","transmission":"automatic","paint_color":"white","state":"ca"}}`,
			status:  http.StatusBadRequest,
			errText: "year",
		},
		{
			name:    "MalformedJSON",
			body:    `{"input": `,
			status:  http.StatusBadRequest,
			errText: "invalid request body",
		},
	}

	ts, _ := newTestServer(t, nil)

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode, string(body))
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

			if tc.status != http.StatusOK {
				assert.Contains(t, string(body), tc.errText)
				return
			}

			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			var pr dal.PredictionResponse
			require.NoError(t, json.Unmarshal(body, &pr))
			assert.Equal(t, tc.expected, pr.CarPrice)
		})
	}
}

func TestServerResponseShape(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(corolla))
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, map[string]interface{}{"car_price": 15000.0}, raw)
}

func TestServerErrors(t *testing.T) {
	vocab, err := encoding.NewVocabulary(map[string]map[string]int{
		"manufacturer": {"ford": 1}, "model": {"focus": 1}, "condition": {"fair": 1},
		"transmission": {"manual": 1}, "paint_color": {"blue": 1}, "state": {"tx": 1},
	}, []string{"manufacturer", "model", "condition", "transmission", "paint_color", "state"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		model  model.Regressor
		opts   []predict.Option
		status int
	}{
		{
			name:   "UnknownLabel",
			opts:   []predict.Option{predict.WithEncoder(vocab)},
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "ShapeMismatch",
			model: &model.Forest{NFeatures: 3, Trees: []model.Tree{{
				ChildrenLeft: []int{-1}, ChildrenRight: []int{-1}, Feature: []int{-2}, Threshold: []float64{-2}, Value: []float64{1},
			}}},
			status: http.StatusInternalServerError,
		},
		{
			name:   "Panic",
			model:  panickingModel{},
			status: http.StatusInternalServerError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts, _ := newTestServer(t, tc.model, tc.opts...)
			resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(corolla))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestServerMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/predict")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerCORS(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, origin := range []string{"http://localhost:3000", "https://cars.example.com"} {
		t.Run(origin, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodOptions, ts.URL+"/predict", nil)
			require.NoError(t, err)
			req.Header.Set("Origin", origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "Content-Type")

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Less(t, resp.StatusCode, 300)
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

			req, err = http.NewRequest(http.MethodPost, ts.URL+"/predict", strings.NewReader(corolla))
			require.NoError(t, err)
			req.Header.Set("Origin", origin)
			resp, err = http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestServerCORSRestricted(t *testing.T) {
	f, err := model.Load("../model/testdata/forest.json")
	require.NoError(t, err)
	ts := httptest.NewServer(NewHandler(predict.NewService(f), Options{
		AllowedOrigins: []string{"http://localhost:3000"},
		Gatherer:       prometheus.NewRegistry(),
	}))
	defer ts.Close()

	tests := []struct {
		origin   string
		expected string
	}{
		{origin: "http://localhost:3000", expected: "http://localhost:3000"},
		{origin: "https://evil.example.com", expected: ""},
	}
	for _, tc := range tests {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/predict", strings.NewReader(corolla))
		require.NoError(t, err)
		req.Header.Set("Origin", tc.origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tc.expected, resp.Header.Get("Access-Control-Allow-Origin"), tc.origin)
	}
}

func TestServerRequestIDPropagated(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/predict", strings.NewReader(corolla))
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
}

func TestServerHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(corolla))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, healthResponse{Status: "ok", Encoder: encoding.ModePerRequest}, health)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "carprice_predictions_total 1")
	assert.Contains(t, string(body), `carprice_http_requests_total{code="200",route="/predict"} 1`)
}

func TestServerPanicCounted(t *testing.T) {
	ts, reg := newTestServer(t, panickingModel{})

	resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(corolla))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, counterValue(families, "carprice_http_requests_total", map[string]string{"route": "/predict", "code": "500"}))
	assert.Equal(t, 1.0, counterValue(families, "carprice_prediction_failures_total", map[string]string{"kind": metrics.KindInternal}))
}

func TestRecovererInsideAccessLog(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHTTPServer(nil, metrics.NewWithRegistry(reg))
	h.routes["/boom"] = true

	handler := h.requestID(h.accessLog(h.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	}))))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, counterValue(families, "carprice_http_requests_total", map[string]string{"route": "/boom", "code": "500"}))
}

func TestServerUnmatchedRequests(t *testing.T) {
	ts, reg := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{name: "NotFound", method: http.MethodGet, path: "/cars", status: http.StatusNotFound},
		{name: "MethodNotAllowed", method: http.MethodGet, path: "/predict", status: http.StatusMethodNotAllowed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, ts.URL+tc.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		})
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, counterValue(families, "carprice_http_requests_total", map[string]string{"route": "unmatched", "code": "404"}))
	assert.Equal(t, 1.0, counterValue(families, "carprice_http_requests_total", map[string]string{"route": "/predict", "code": "405"}))
}

// counterValue returns the value of the counter series matching labels.
func counterValue(families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			got := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/dal"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/predict"
)

// maxBodyBytes bounds the request body of POST /predict.
const maxBodyBytes = 1 << 20

// Predict defines a POST handler returning the predicted price of a car
func (h *httpServer) Predict(w http.ResponseWriter, r *http.Request) {
	var req dal.PredictionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.log.Warn().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("request decode failed")
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.svc.Predict(r.Context(), req.Input)
	if err != nil {
		status := statusFor(err)
		event := h.log.Warn()
		if status == http.StatusInternalServerError {
			event = h.log.Error()
		}
		event.Err(err).Str("request_id", requestIDFrom(r.Context())).Int("status", status).Msg("prediction failed")
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status  string `json:"status"`
	Encoder string `json:"encoder"`
}

// Health reports that the model is loaded and the service is serving.
func (h *httpServer) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Encoder: h.svc.EncoderName()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, predict.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, predict.ErrEncoding):
		return http.StatusUnprocessableEntity
	case errors.Is(err, predict.ErrCanceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

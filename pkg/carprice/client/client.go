// Package client calls a running price service over HTTP.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/dal"
)

// Car is the attributes sent for one prediction. Year and Odometer are sent
// as strings, the way the web form submits them.
type Car struct {
	Year         string
	Manufacturer string
	Model        string
	Condition    string
	Odometer     string
	Transmission string
	PaintColor   string
	State        string
}

// StatusError is returned when the service answers with a non 2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("carprice: %d %s", e.Code, strings.TrimSpace(e.Body))
}

// Client posts prediction requests to a price service.
type Client struct {
	base string
	rest *resty.Client
}

// New returns a client for the service at base, e.g. http://localhost:5000.
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Predict asks the service for the price of car.
func (c *Client) Predict(ctx context.Context, car Car) (float64, error) {
	body := dal.PredictionRequest{Input: &dal.CarInput{
		Year:         dal.NewFlexInt(car.Year),
		Manufacturer: &car.Manufacturer,
		Model:        &car.Model,
		Condition:    &car.Condition,
		Odometer:     dal.NewFlexInt(car.Odometer),
		Transmission: &car.Transmission,
		PaintColor:   &car.PaintColor,
		State:        &car.State,
	}}

	result := &dal.PredictionResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(result).
		Post(c.base + "/predict")
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, &StatusError{Code: resp.StatusCode(), Body: resp.String()}
	}
	return result.CarPrice, nil
}

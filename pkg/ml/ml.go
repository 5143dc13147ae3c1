// Package ml is the port to the external model runtime. The engine never
// trains models in-process; it asks the runtime for predictions, evaluates
// deployed models and requests retraining when accuracy degrades.
package ml

import (
	"context"
	"time"
)

// PredictRequest asks a model for a forecast over the given horizon.
type PredictRequest struct {
	Domain   string         `json:"domain"`
	Model    string         `json:"model"`
	Metric   string         `json:"metric"`
	EntityID string         `json:"entityId"`
	Horizon  time.Duration  `json:"-"`
	Features map[string]any `json:"features,omitempty"`
}

// PredictResponse is a single prediction with its confidence.
type PredictResponse struct {
	Value      float64   `json:"value"`
	Confidence float64   `json:"confidence"`
	Model      string    `json:"model"`
	MadeAt     time.Time `json:"madeAt"`
}

// Evaluation reports how a deployed model performs against recent ground
// truth.
type Evaluation struct {
	Model     string    `json:"model"`
	Accuracy  float64   `json:"accuracy"`
	SampleN   int       `json:"sampleN"`
	Evaluated time.Time `json:"evaluatedAt"`
}

// ModelRuntime is the external prediction service. Implementations must be
// safe for concurrent use.
type ModelRuntime interface {
	Predict(ctx context.Context, req PredictRequest) (PredictResponse, error)
	Evaluate(ctx context.Context, model string) (Evaluation, error)
	Retrain(ctx context.Context, model string) error
}

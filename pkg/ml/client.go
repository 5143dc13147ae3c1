package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sentinelops/telemetry-engine/pkg/observability"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond
)

// Client talks to the model runtime over HTTP with retries on transient
// failures. Non-2xx responses other than 5xx are treated as permanent.
type Client struct {
	baseURL string
	http    *http.Client
	o11y    observability.Observability
	retries uint64
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func WithMaxRetries(n uint64) ClientOption {
	return func(c *Client) { c.retries = n }
}

func NewClient(baseURL string, o11y observability.Observability, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		o11y:    o11y,
		retries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Predict(ctx context.Context, req PredictRequest) (PredictResponse, error) {
	body := struct {
		PredictRequest
		HorizonSeconds int64 `json:"horizonSeconds"`
	}{PredictRequest: req, HorizonSeconds: int64(req.Horizon.Seconds())}

	var resp PredictResponse
	if err := c.post(ctx, "/v1/predict", body, &resp); err != nil {
		return PredictResponse{}, fmt.Errorf("predict %s/%s: %w", req.Domain, req.Model, err)
	}
	return resp, nil
}

func (c *Client) Evaluate(ctx context.Context, model string) (Evaluation, error) {
	var resp Evaluation
	body := map[string]string{"model": model}
	if err := c.post(ctx, "/v1/evaluate", body, &resp); err != nil {
		return Evaluation{}, fmt.Errorf("evaluate %s: %w", model, err)
	}
	return resp, nil
}

func (c *Client) Retrain(ctx context.Context, model string) error {
	body := map[string]string{"model": model}
	if err := c.post(ctx, "/v1/retrain", body, nil); err != nil {
		return fmt.Errorf("retrain %s: %w", model, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("model runtime returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(fmt.Errorf("model runtime returned %d", resp.StatusCode))
		}
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newExponential(), c.retries), ctx)
	notify := func(err error, wait time.Duration) {
		c.o11y.Logger().Warn(ctx, "model runtime call failed, retrying",
			observability.String("path", path),
			observability.Duration("wait", wait),
			observability.Error(err),
		)
	}
	return backoff.RetryNotify(operation, policy, notify)
}

func newExponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultBaseBackoff
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

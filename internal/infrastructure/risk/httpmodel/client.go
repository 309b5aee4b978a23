// Package httpmodel scores features through a model server exposing
// POST /predict {"features": {...}} -> {"probability": p}.
package httpmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/resilience"
)

type Client struct {
	url        string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(url string, executor *resilience.Executor) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
	}
}

type predictRequest struct {
	Features map[string]float64 `json:"features"`
}

type predictResponse struct {
	Probability *float64 `json:"probability"`
}

func (c *Client) PredictProba(ctx context.Context, features domain.FeatureVector) (float64, error) {
	const operation = "risk.predict"

	body, err := json.Marshal(predictRequest{Features: features.Map()})
	if err != nil {
		return 0, fmt.Errorf("marshal predict request: %w", err)
	}
	p, err := resilience.Do(ctx, c.executor, operation, func(callCtx context.Context) (float64, error) {
		return c.post(callCtx, body)
	}, resilience.ClassifyHTTP)
	if err != nil {
		return 0, resilience.MarkTemporary(operation, err, resilience.ClassifyHTTP)
	}
	return p, nil
}

func (c *Client) post(ctx context.Context, body []byte) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("predict request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return 0, resilience.ReadStatusError("model server", resp)
	}
	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode predict response: %w", err)
	}
	if out.Probability == nil {
		return 0, errors.New("predict response has no probability")
	}
	return *out.Probability, nil
}

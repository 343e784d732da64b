// Package scorer is the HTTP client for the external risk-scoring service.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a client without a transport timeout; callers bound each call
// with a context deadline.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{},
	}
}

type Request struct {
	ActionType  string         `json:"action_type"`
	Environment string         `json:"environment"`
	Payload     map[string]any `json:"payload"`
	OperatorID  string         `json:"operator_id"`
}

type Breakdown struct {
	Rules          float64 `json:"rules"`
	MLBoost        float64 `json:"ml_boost"`
	AnomalyPenalty float64 `json:"anomaly_penalty"`
	FinalScore     float64 `json:"final_score"`
}

// Response mirrors the scorer's wire shape. Every field is optional on the
// wire; evaluate fills defaults once at the boundary.
type Response struct {
	RiskScore      *float64           `json:"risk_score"`
	Verdict        string             `json:"verdict"`
	Reasoning      []string           `json:"reasoning"`
	MLConfidence   *float64           `json:"ml_confidence"`
	IsAnomaly      *bool              `json:"is_anomaly"`
	Breakdown      *Breakdown         `json:"breakdown"`
	Rules          *float64           `json:"rules"`
	MLBoost        *float64           `json:"ml_boost"`
	AnomalyPenalty *float64           `json:"anomaly_penalty"`
	Planning       map[string]any     `json:"planning"`
	Signals        map[string]float64 `json:"signals"`
}

type Status struct {
	Status       string   `json:"status"`
	Engine       string   `json:"engine"`
	Mode         string   `json:"mode"`
	MLStatus     string   `json:"ml_status"`
	Capabilities []string `json:"capabilities"`
}

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("risk engine returned %d", e.StatusCode)
}

func (c *Client) Evaluate(ctx context.Context, req Request) (*Response, error) {
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}
	if req.OperatorID == "" {
		req.OperatorID = "unknown"
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/evaluate", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode risk engine response: %w", err)
	}
	return &out, nil
}

// Status calls the engine's root health route.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	var out Status
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Package client is the HTTP client for the Assure gateway used by assurectl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New allows for the gateway's own scorer deadline plus persistence.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type EvaluateRequest struct {
	ActionType  string         `json:"actionType"`
	Environment string         `json:"environment"`
	Payload     map[string]any `json:"payload,omitempty"`
	OperatorID  string         `json:"operatorId,omitempty"`
}

type Breakdown struct {
	Rules          float64 `json:"rules" yaml:"rules"`
	MLBoost        float64 `json:"ml_boost" yaml:"ml_boost"`
	AnomalyPenalty float64 `json:"anomaly_penalty" yaml:"anomaly_penalty"`
	FinalScore     float64 `json:"final_score" yaml:"final_score"`
}

type Evaluation struct {
	RiskScore    float64        `json:"riskScore" yaml:"riskScore"`
	Verdict      string         `json:"verdict" yaml:"verdict"`
	Reasoning    []string       `json:"reasoning" yaml:"reasoning"`
	MLConfidence float64        `json:"mlConfidence" yaml:"mlConfidence"`
	IsAnomaly    *bool          `json:"isAnomaly,omitempty" yaml:"isAnomaly,omitempty"`
	Breakdown    *Breakdown     `json:"breakdown,omitempty" yaml:"breakdown,omitempty"`
	Planning     map[string]any `json:"planning,omitempty" yaml:"planning,omitempty"`

	// FailSafe is set when the gateway answered 503.
	FailSafe bool `json:"failSafe" yaml:"failSafe"`
}

type OverrideRequest struct {
	ActionType  string  `json:"actionType"`
	Reason      string  `json:"reason"`
	RiskScore   float64 `json:"riskScore"`
	Environment string  `json:"environment,omitempty"`
	OperatorID  string  `json:"operatorId,omitempty"`
}

type AnchorResult struct {
	Message   string `json:"message" yaml:"message"`
	Count     int    `json:"count" yaml:"count"`
	RootHash  string `json:"rootHash,omitempty" yaml:"rootHash,omitempty"`
	TxHash    string `json:"txHash,omitempty" yaml:"txHash,omitempty"`
	Simulated bool   `json:"simulated" yaml:"simulated"`
}

type Verification struct {
	RootHash         string  `json:"rootHash" yaml:"rootHash"`
	Timestamp        int64   `json:"timestamp" yaml:"timestamp"`
	Metadata         string  `json:"metadata" yaml:"metadata"`
	Status           string  `json:"status" yaml:"status"`
	TxHash           *string `json:"txHash" yaml:"txHash"`
	Ordinal          int64   `json:"ordinal" yaml:"ordinal"`
	ComputedRootHash string  `json:"computedRootHash,omitempty" yaml:"computedRootHash,omitempty"`
	RootHashMatch    *bool   `json:"rootHashMatch,omitempty" yaml:"rootHashMatch,omitempty"`
}

type Health struct {
	Status string            `json:"status" yaml:"status"`
	Checks map[string]string `json:"checks" yaml:"checks"`
	Ledger string            `json:"ledger" yaml:"ledger"`
}

type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway returned %d", e.StatusCode)
}

func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*Evaluation, error) {
	var out Evaluation
	status, err := c.do(ctx, http.MethodPost, "/evaluate", req, &out, http.StatusOK, http.StatusServiceUnavailable)
	if err != nil {
		return nil, err
	}
	out.FailSafe = status == http.StatusServiceUnavailable
	return &out, nil
}

func (c *Client) Override(ctx context.Context, req OverrideRequest) error {
	_, err := c.do(ctx, http.MethodPost, "/override", req, nil, http.StatusCreated)
	return err
}

func (c *Client) Anchor(ctx context.Context) (*AnchorResult, error) {
	var out AnchorResult
	if _, err := c.do(ctx, http.MethodPost, "/anchor", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Verify(ctx context.Context, auditLogID string) (*Verification, error) {
	var out Verification
	path := "/verify-on-chain?id=" + url.QueryEscape(auditLogID)
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health decodes the body for both healthy and degraded responses.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, &out, http.StatusOK, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, accept ...int) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	for _, code := range accept {
		if resp.StatusCode == code {
			if out == nil {
				return resp.StatusCode, nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, fmt.Errorf("decode gateway response: %w", err)
			}
			return resp.StatusCode, nil
		}
	}
	return resp.StatusCode, decodeError(resp)
}

// decodeError understands both the {error:{code,message}} envelope and the
// flat {error:"..."} body of the verify endpoint.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &env) != nil || len(env.Error) == 0 {
		return apiErr
	}
	var nested struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(env.Error, &nested) == nil {
		apiErr.Code, apiErr.Message = nested.Code, nested.Message
		return apiErr
	}
	var flat string
	if json.Unmarshal(env.Error, &flat) == nil {
		apiErr.Message = flat
	}
	return apiErr
}

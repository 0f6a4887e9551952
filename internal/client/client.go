// Package client is a Go SDK for talking to a ringmq Coordinator. It hides
// HTTP and JSON details behind typed Produce/Consume calls so callers
// (ringmqctl, tests) never build requests by hand.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one Coordinator. The Coordinator is responsible for
// routing, replication, and failover — this client only performs the HTTP
// call and decodes the response.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the Coordinator at baseURL (e.g.
// "http://localhost:7000"). timeout protects every call from hanging
// forever; it defaults to 10s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ProduceResponse is returned after a successful produce call.
type ProduceResponse struct {
	Success            bool             `json:"success"`
	Key                string           `json:"key"`
	KeyHash            uint32           `json:"keyHash"`
	Primary            string           `json:"primary"`
	Replicas           []string         `json:"replicas"`
	ReplicationResults []map[string]any `json:"replicationResults"`
}

// ConsumeResponse is returned after a successful consume call.
type ConsumeResponse struct {
	Success   bool            `json:"success"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Role      string          `json:"role"`
	ServedBy  string          `json:"servedBy"`
	Source    string          `json:"source"`
	Failover  bool            `json:"failover"`
}

// Produce stores payload under key via the Coordinator's routing and
// replication path (spec.md §4.5).
func (c *Client) Produce(ctx context.Context, key string, payload json.RawMessage) (*ProduceResponse, error) {
	body, err := json.Marshal(map[string]any{"key": key, "payload": payload})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/produce", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("produce request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result ProduceResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Consume fetches the current value for key from the Coordinator, which
// falls back through replicas when the primary is unreachable (spec.md
// §4.5); this call itself makes a single request. A missing key is reported
// as ErrNotFound.
func (c *Client) Consume(ctx context.Context, key string) (*ConsumeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/consume/%s", c.baseURL, key), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("consume request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result ConsumeResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// ─── Errors ───────────────────────────────────────────────────────────────

// ErrNotFound is returned when a key isn't held by any candidate broker.
var ErrNotFound = fmt.Errorf("key not found")

// APIError carries the HTTP status and message body from the Coordinator.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

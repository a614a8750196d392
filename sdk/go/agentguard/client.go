// Package agentguard provides a small HTTP client for the AgentGuard
// Chain REST API. Agents use it to submit intents and poll execution
// outcomes without depending on server internals.
package agentguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the AgentGuard Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// SubmitRequest is the payload required to submit an intent. ID is
// optional; resubmitting with the same ID is idempotent.
type SubmitRequest struct {
	ID      string          `json:"id,omitempty"`
	AgentID string          `json:"agent_id"`
	Intent  json.RawMessage `json:"intent"`
}

// Decision mirrors a policy denial attached to a failed execution.
type Decision struct {
	Allowed  bool              `json:"allowed"`
	PolicyID string            `json:"policy_id"`
	Reason   string            `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result mirrors the pipeline outcome recorded for an execution.
type Result struct {
	IntentID     string            `json:"intent_id"`
	AgentID      string            `json:"agent_id"`
	Kind         string            `json:"kind,omitempty"`
	Chain        string            `json:"chain,omitempty"`
	Success      bool              `json:"success"`
	TxHash       string            `json:"tx_hash,omitempty"`
	ConfirmedAt  *time.Time        `json:"confirmed_at,omitempty"`
	FailedStage  string            `json:"failed_stage,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Denial       *Decision         `json:"denial,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Execution is the server-side record of a submitted intent.
type Execution struct {
	ID         string          `json:"id"`
	AgentID    string          `json:"agent_id"`
	Payload    json.RawMessage `json:"payload"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Result     *Result         `json:"result,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

// Terminal reports whether the execution has reached a final status.
func (e *Execution) Terminal() bool {
	switch e.Status {
	case "confirmed", "denied", "failed":
		return true
	default:
		return false
	}
}

// Stats aggregates execution counts by status.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Confirmed       int   `json:"confirmed"`
	Denied          int   `json:"denied"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListOptions filters ListExecutions and GetStats calls. Zero values
// are omitted from the query string.
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []string
	AgentID  string
	Query    string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentguard api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentguard api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentGuard Chain API. When
// httpClient is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Submit queues an intent for execution and returns the accepted record.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (Execution, error) {
	var exec Execution
	if err := c.post(ctx, "/api/v1/executions", req, &exec); err != nil {
		return Execution{}, err
	}
	return exec, nil
}

// GetExecution fetches a single execution by identifier.
func (c *Client) GetExecution(ctx context.Context, id string) (Execution, error) {
	var exec Execution
	if err := c.get(ctx, "/api/v1/executions/"+url.PathEscape(id), nil, &exec); err != nil {
		return Execution{}, err
	}
	return exec, nil
}

// ListExecutions returns executions matching the given filters.
func (c *Client) ListExecutions(ctx context.Context, opts ListOptions) ([]Execution, error) {
	var execs []Execution
	if err := c.get(ctx, "/api/v1/executions", opts.values(), &execs); err != nil {
		return nil, err
	}
	return execs, nil
}

// GetStats returns execution counts matching the given filters.
func (c *Client) GetStats(ctx context.Context, opts ListOptions) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/stats", opts.values(), &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// WaitForResult polls an execution until it reaches a terminal status
// or ctx is cancelled.
func (c *Client) WaitForResult(ctx context.Context, id string, interval time.Duration) (Execution, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		exec, err := c.GetExecution(ctx, id)
		if err != nil {
			return Execution{}, err
		}
		if exec.Terminal() {
			return exec, nil
		}
		select {
		case <-ctx.Done():
			return Execution{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o ListOptions) values() url.Values {
	values := url.Values{}
	if o.Limit > 0 {
		values.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		values.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(o.Statuses) > 0 {
		joined := o.Statuses[0]
		for _, s := range o.Statuses[1:] {
			joined += "," + s
		}
		values.Set("status", joined)
	}
	if o.AgentID != "" {
		values.Set("agent_id", o.AgentID)
	}
	if o.Query != "" {
		values.Set("q", o.Query)
	}
	return values
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

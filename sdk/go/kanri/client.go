package kanri

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kanri server (e.g. "http://localhost:8080").
	BaseURL string

	// AgentID identifies this caller for authentication. Required when
	// APIKey is set.
	AgentID string

	// APIKey is the secret used to obtain a JWT token. Leave empty when
	// talking to a server running with authentication disabled.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Kanri agent lifecycle API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager // nil when no APIKey was configured
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kanri: BaseURL is required")
	}
	if cfg.APIKey != "" && cfg.AgentID == "" {
		return nil, fmt.Errorf("kanri: AgentID is required when APIKey is set")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL: baseURL,
		client:  httpClient,
	}
	if cfg.APIKey != "" {
		c.tokenMgr = newTokenManager(baseURL, cfg.AgentID, cfg.APIKey, httpClient)
	}
	return c, nil
}

// CreateAgent creates a new agent definition in a tier.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*OperationResult, error) {
	var resp OperationResult
	if err := c.post(ctx, "/v1/agents", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateAgent replaces an existing agent's definition content.
func (c *Client) UpdateAgent(ctx context.Context, name string, req UpdateAgentRequest) (*OperationResult, error) {
	var resp OperationResult
	if err := c.put(ctx, "/v1/agents/"+url.PathEscape(name), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteAgent deletes an agent. A backup is taken first; if the backup
// fails the delete is aborted server-side. The reason, when non-empty, is
// recorded in the modification history.
func (c *Client) DeleteAgent(ctx context.Context, name, reason string) (*OperationResult, error) {
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	var resp OperationResult
	if err := c.doDelete(ctx, "/v1/agents/"+url.PathEscape(name), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RestoreAgent restores an agent from a backup. An empty backupPath means
// the most recent backup.
func (c *Client) RestoreAgent(ctx context.Context, name, backupPath string) (*OperationResult, error) {
	body := map[string]string{}
	if backupPath != "" {
		body["backup_path"] = backupPath
	}
	var resp OperationResult
	if err := c.post(ctx, "/v1/agents/"+url.PathEscape(name)+"/restore", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MigrateAgent moves an agent to another tier. The version is unchanged.
func (c *Client) MigrateAgent(ctx context.Context, name, targetTier string) (*OperationResult, error) {
	body := map[string]string{"target_tier": targetTier}
	var resp OperationResult
	if err := c.post(ctx, "/v1/agents/"+url.PathEscape(name)+"/migrate", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReplicateAgent copies an agent's content into another tier without
// touching the lifecycle record.
func (c *Client) ReplicateAgent(ctx context.Context, name, targetTier string) (*OperationResult, error) {
	body := map[string]string{"target_tier": targetTier}
	var resp OperationResult
	if err := c.post(ctx, "/v1/agents/"+url.PathEscape(name)+"/replicate", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidateAgent re-validates an agent's stored content.
func (c *Client) ValidateAgent(ctx context.Context, name string) (*OperationResult, error) {
	var resp OperationResult
	if err := c.post(ctx, "/v1/agents/"+url.PathEscape(name)+"/validate", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAgent retrieves the lifecycle record for one agent.
func (c *Client) GetAgent(ctx context.Context, name string) (*AgentRecord, error) {
	var resp AgentRecord
	if err := c.get(ctx, "/v1/agents/"+url.PathEscape(name), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentContent retrieves an agent's current definition content.
func (c *Client) AgentContent(ctx context.Context, name string) (*AgentContentResponse, error) {
	var resp AgentContentResponse
	if err := c.get(ctx, "/v1/agents/"+url.PathEscape(name)+"/content", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAgents lists all known agents, most recently modified first.
// An empty state means no filter.
func (c *Client) ListAgents(ctx context.Context, state string) ([]AgentRecord, error) {
	path := "/v1/agents"
	if state != "" {
		path += "?state=" + url.QueryEscape(state)
	}
	var resp []AgentRecord
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListBackups lists an agent's backup paths, oldest first.
func (c *Client) ListBackups(ctx context.Context, name string) ([]string, error) {
	var resp []string
	if err := c.get(ctx, "/v1/agents/"+url.PathEscape(name)+"/backups", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListModifications lists an agent's modification records, newest first.
// A limit of 0 uses the server default.
func (c *Client) ListModifications(ctx context.Context, name string, limit int) ([]ModificationRecord, error) {
	path := "/v1/agents/" + url.PathEscape(name) + "/modifications"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp []ModificationRecord
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListOperations lists the operation history, newest first, optionally
// filtered to one agent. A limit of 0 uses the server default.
func (c *Client) ListOperations(ctx context.Context, agent string, limit int) ([]OperationResult, error) {
	params := url.Values{}
	if agent != "" {
		params.Set("agent", agent)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/operations"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []OperationResult
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Stats returns aggregate agent and operation statistics.
func (c *Client) Stats(ctx context.Context) (*StatsReport, error) {
	var resp StatsReport
	if err := c.get(ctx, "/v1/stats", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("kanri: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kanri: GET /health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out HealthResponse
	if err := handleResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	return c.send(ctx, http.MethodPost, path, body, dest)
}

func (c *Client) put(ctx context.Context, path string, body any, dest any) error {
	return c.send(ctx, http.MethodPut, path, body, dest)
}

func (c *Client) doDelete(ctx context.Context, path string, body any, dest any) error {
	return c.send(ctx, http.MethodDelete, path, body, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kanri: create request: %w", err)
	}
	return c.doRequest(ctx, req, dest)
}

func (c *Client) send(ctx context.Context, method, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("kanri: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("kanri: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doRequest(ctx, req, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	if c.tokenMgr != nil {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kanri: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kanri: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("kanri: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}

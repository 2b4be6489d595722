// Package orchestrator provides an HTTP client for the orchestrator
// run/thread/assistant API, plus the stream opener that attaches a live run
// to the event pipeline.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/threadworks/gantry/protocol"
)

const defaultTimeout = 30 * time.Second

// Client is an HTTP client for the orchestrator API.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a new orchestrator client. An empty apiKey sends no
// credentials, which is valid for locally hosted deployments.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		// No client-level timeout: streaming requests outlive any fixed
		// deadline. Unary calls get a per-request context instead.
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// Thread is a persistent conversation context on the orchestrator.
type Thread struct {
	ThreadID  string                 `json:"thread_id"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ThreadState is the persisted state of a thread, used for hydration.
type ThreadState struct {
	Values struct {
		Messages []json.RawMessage   `json:"messages"`
		Todos    []protocol.TodoItem `json:"todos"`
		Files    map[string]string   `json:"files"`
	} `json:"values"`
}

// Run is one execution of the agent graph against a thread.
type Run struct {
	RunID       string             `json:"run_id"`
	ThreadID    string             `json:"thread_id"`
	AssistantID string             `json:"assistant_id"`
	Status      protocol.RunStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Assistant is a configured agent definition the orchestrator executes.
type Assistant struct {
	AssistantID string                 `json:"assistant_id"`
	GraphID     string                 `json:"graph_id"`
	Name        string                 `json:"name"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Cron is a scheduled run definition.
type Cron struct {
	CronID      string          `json:"cron_id"`
	ThreadID    string          `json:"thread_id,omitempty"`
	AssistantID string          `json:"assistant_id"`
	Schedule    string          `json:"schedule"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	NextRunDate time.Time       `json:"next_run_date"`
}

// CreateRunRequest is the input payload for a new run.
type CreateRunRequest struct {
	AssistantID string                 `json:"assistant_id"`
	Input       map[string]interface{} `json:"input,omitempty"`
	StreamModes []string               `json:"stream_mode,omitempty"`
}

type threadSearchRequest struct {
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Limit    int                    `json:"limit,omitempty"`
	Offset   int                    `json:"offset,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// CreateThread creates a new thread.
func (c *Client) CreateThread(ctx context.Context, metadata map[string]interface{}) (*Thread, error) {
	var thread Thread
	body := map[string]interface{}{}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	if err := c.doJSON(ctx, http.MethodPost, "/threads", body, &thread); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return &thread, nil
}

// GetThread fetches a thread by id.
func (c *Client) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	var thread Thread
	if err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID, nil, &thread); err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return &thread, nil
}

// SearchThreads lists threads matching the metadata filter, newest first.
func (c *Client) SearchThreads(ctx context.Context, metadata map[string]interface{}, limit, offset int) ([]Thread, error) {
	var threads []Thread
	req := threadSearchRequest{Metadata: metadata, Limit: limit, Offset: offset}
	if err := c.doJSON(ctx, http.MethodPost, "/threads/search", req, &threads); err != nil {
		return nil, fmt.Errorf("failed to search threads: %w", err)
	}
	return threads, nil
}

// GetThreadState fetches the persisted state of a thread for hydration.
func (c *Client) GetThreadState(ctx context.Context, threadID string) (*ThreadState, error) {
	var state ThreadState
	if err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/state", nil, &state); err != nil {
		return nil, fmt.Errorf("failed to get thread state: %w", err)
	}
	return &state, nil
}

// HydrateThread fetches thread state and decodes the message history into
// protocol messages. Messages that fail to decode are skipped.
func (c *Client) HydrateThread(ctx context.Context, threadID string) ([]protocol.Message, protocol.StateValues, error) {
	state, err := c.GetThreadState(ctx, threadID)
	if err != nil {
		return nil, protocol.StateValues{}, err
	}
	msgs := make([]protocol.Message, 0, len(state.Values.Messages))
	for _, raw := range state.Values.Messages {
		msg, err := protocol.DecodeMessage(raw)
		if err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, protocol.StateValues{Todos: state.Values.Todos, Files: state.Values.Files}, nil
}

// CreateRun submits a background run on a thread.
func (c *Client) CreateRun(ctx context.Context, threadID string, req CreateRunRequest) (*Run, error) {
	var run Run
	if err := c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/runs", req, &run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &run, nil
}

// GetRun fetches a run descriptor with its current status.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var run Run
	path := fmt.Sprintf("/threads/%s/runs/%s", threadID, runID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &run); err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// CancelRun cancels a run. Idempotent: cancelling a run that already
// finished, or was already cancelled, is not an error.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) error {
	path := fmt.Sprintf("/threads/%s/runs/%s/cancel", threadID, runID)
	err := c.doJSON(ctx, http.MethodPost, path, nil, nil)
	var se *statusError
	if errors.As(err, &se) && (se.code == http.StatusNotFound || se.code == http.StatusConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}
	return nil
}

// SearchAssistants lists configured assistants.
func (c *Client) SearchAssistants(ctx context.Context, limit, offset int) ([]Assistant, error) {
	var assistants []Assistant
	req := threadSearchRequest{Limit: limit, Offset: offset}
	if err := c.doJSON(ctx, http.MethodPost, "/assistants/search", req, &assistants); err != nil {
		return nil, fmt.Errorf("failed to search assistants: %w", err)
	}
	return assistants, nil
}

// CreateCron schedules a recurring run.
func (c *Client) CreateCron(ctx context.Context, cron Cron) (*Cron, error) {
	var created Cron
	if err := c.doJSON(ctx, http.MethodPost, "/runs/crons", cron, &created); err != nil {
		return nil, fmt.Errorf("failed to create cron: %w", err)
	}
	return &created, nil
}

// SearchCrons lists scheduled runs.
func (c *Client) SearchCrons(ctx context.Context, limit, offset int) ([]Cron, error) {
	var crons []Cron
	req := threadSearchRequest{Limit: limit, Offset: offset}
	if err := c.doJSON(ctx, http.MethodPost, "/runs/crons/search", req, &crons); err != nil {
		return nil, fmt.Errorf("failed to search crons: %w", err)
	}
	return crons, nil
}

// DeleteCron removes a scheduled run.
func (c *Client) DeleteCron(ctx context.Context, cronID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/runs/crons/"+cronID, nil, nil); err != nil {
		return fmt.Errorf("failed to delete cron: %w", err)
	}
	return nil
}

// statusError carries a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("orchestrator returned status %d: %s", e.code, e.body)
}

// doJSON performs a unary request with JSON in and JSON out. A nil out
// discards the response body.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errResp errorResponse
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &errResp) == nil {
			if errResp.Error != "" {
				msg = errResp.Error
			} else if errResp.Detail != "" {
				msg = errResp.Detail
			}
		}
		return &statusError{code: resp.StatusCode, body: msg}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}

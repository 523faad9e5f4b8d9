package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// CapabilitiesResponse — агрегат свободных слотов.
type CapabilitiesResponse struct {
	NumWorkers   int            `json:"num_workers"`
	Capabilities map[string]int `json:"capabilities"`
	WorkerCounts map[string]int `json:"worker_counts"`
}

// WorkerResponse — capability воркера.
type WorkerResponse struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
	IdleCount    int      `json:"idle_count"`
	Timestamp    string   `json:"timestamp"`
	LastSeen     string   `json:"last_seen"`
}

// JobError — ошибка job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JobResponse — job из API.
type JobResponse struct {
	ID         string         `json:"job_id"`
	TaskType   string         `json:"task_type"`
	Status     string         `json:"status"`
	Priority   int            `json:"priority"`
	Progress   float64        `json:"progress"`
	ClaimedBy  string         `json:"claimed_by,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      *JobError      `json:"error,omitempty"`
	CreatedAt  string         `json:"created_at"`
	StartedAt  string         `json:"started_at,omitempty"`
	FinishedAt string         `json:"finished_at,omitempty"`
}

// ListWorkersOpts — параметры фильтрации воркеров.
type ListWorkersOpts struct {
	TaskType string
	IdleOnly bool
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для compute API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Capabilities возвращает количество воркеров и свободные слоты.
// Ответ не обёрнут в data, как в исходном API.
func (c *Client) Capabilities(ctx context.Context) (*CapabilitiesResponse, error) {
	resp, err := c.do(ctx, "/api/v1/capabilities")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}

	var caps CapabilitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &caps, nil
}

// ListWorkers возвращает живых воркеров.
func (c *Client) ListWorkers(ctx context.Context, opts ListWorkersOpts) ([]WorkerResponse, error) {
	params := url.Values{}
	if opts.TaskType != "" {
		params.Set("task_type", opts.TaskType)
	}
	if opts.IdleOnly {
		params.Set("idle", "true")
	}

	var workers []WorkerResponse
	err := c.list(ctx, "/api/v1/workers", params, &workers)
	return workers, err
}

// GetWorker возвращает воркера по ID.
func (c *Client) GetWorker(ctx context.Context, id string) (*WorkerResponse, error) {
	var worker WorkerResponse
	err := c.get(ctx, "/api/v1/workers/"+url.PathEscape(id), &worker)
	return &worker, err
}

// GetJob возвращает job по ID.
func (c *Client) GetJob(ctx context.Context, id string) (*JobResponse, error) {
	var job JobResponse
	err := c.get(ctx, "/api/v1/jobs/"+url.PathEscape(id), &job)
	return &job, err
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	resp, err := c.do(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error.Code == "" {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}

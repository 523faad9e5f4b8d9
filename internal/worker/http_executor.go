package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
)

const (
	defaultHTTPTimeoutSec = 30

	// maxResponseBytes — больше в job.Result не сохраняем.
	maxResponseBytes = 4 << 20

	// errorPreviewLen — сколько байт тела ответа попадает в сообщение ошибки.
	errorPreviewLen = 200

	jobIDHeader = "X-Job-ID"
)

// HTTPExecutor — executor для task type "http": один HTTP-запрос
// к внешнему inference-сервису или callback после обработки.
//
// Params:
//   - url (string, обязательно)
//   - method (string, default GET)
//   - headers (object of strings)
//   - body (any, отправляется как JSON)
//   - timeout_sec (number, default 30)
//
// Output: status_code, headers (первое значение каждого), body (JSON или строка).
// Ответ >= 400 — ошибка http_status, output сохраняется в details.
// Запрос несёт заголовок X-Job-ID.
type HTTPExecutor struct {
	// Client — default http.DefaultClient.
	Client *http.Client
}

type httpRequest struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
	timeout time.Duration
}

func parseHTTPRequest(params map[string]any) (*httpRequest, error) {
	url, err := stringParam(params, "url", "")
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, NewTaskError(CodeInvalidParams, "url is required")
	}

	method, err := stringParam(params, "method", http.MethodGet)
	if err != nil {
		return nil, err
	}

	headers, err := headersParam(params, "headers")
	if err != nil {
		return nil, err
	}

	timeoutSec, err := secondsParam(params, "timeout_sec", defaultHTTPTimeoutSec)
	if err != nil {
		return nil, err
	}
	if timeoutSec == 0 {
		timeoutSec = defaultHTTPTimeoutSec
	}

	req := &httpRequest{
		method:  strings.ToUpper(method),
		url:     url,
		headers: headers,
		timeout: seconds(timeoutSec),
	}

	if body, ok := params["body"]; ok && body != nil {
		if req.body, err = json.Marshal(body); err != nil {
			return nil, NewTaskError(CodeInvalidParams, "body is not JSON-serializable: %v", err)
		}
	}
	return req, nil
}

// Execute выполняет запрос.
func (e *HTTPExecutor) Execute(ctx context.Context, job *domain.Job, progress ProgressReporter) (*Result, error) {
	spec, err := parseHTTPRequest(job.Params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	var body io.Reader
	if spec.body != nil {
		body = bytes.NewReader(spec.body)
	}

	req, err := http.NewRequestWithContext(ctx, spec.method, spec.url, body)
	if err != nil {
		return nil, NewTaskError(CodeInvalidParams, "build request: %v", err)
	}
	for k, v := range spec.headers {
		req.Header.Set(k, v)
	}
	if spec.body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(jobIDHeader, job.ID.String())

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}
	progress.Report(1)

	output := responseOutput(resp, raw)
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &TaskExecutionError{
			Code:    CodeHTTPStatus,
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, preview(raw)),
			Details: output,
		}
	}
	return &Result{Output: output}, nil
}

func responseOutput(resp *http.Response, raw []byte) map[string]any {
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		body = string(raw)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}
}

func preview(b []byte) string {
	if len(b) <= errorPreviewLen {
		return string(b)
	}
	return string(b[:errorPreviewLen]) + "..."
}

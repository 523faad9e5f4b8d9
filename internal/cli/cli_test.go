package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newFakeAPI(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/capabilities", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"num_workers":   2,
			"capabilities":  map[string]int{"clip_embedding": 1, "image_thumbnail": 0},
			"worker_counts": map[string]int{"clip_embedding": 1, "image_thumbnail": 1},
		})
	})
	mux.HandleFunc("GET /api/v1/workers", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("task_type") != "clip_embedding" || r.URL.Query().Get("idle") != "true" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data":  []map[string]any{{"id": "w1", "capabilities": []string{"clip_embedding"}, "idle_count": 1}},
			"total": 1,
		})
	})
	mux.HandleFunc("GET /api/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "NOT_FOUND", "message": "job not found"},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Capabilities(t *testing.T) {
	c := NewClient(newFakeAPI(t).URL)

	caps, err := c.Capabilities(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if caps.NumWorkers != 2 || caps.Capabilities["clip_embedding"] != 1 || caps.WorkerCounts["image_thumbnail"] != 1 {
		t.Errorf("unexpected response: %+v", caps)
	}
}

func TestClient_ListWorkers(t *testing.T) {
	c := NewClient(newFakeAPI(t).URL)

	workers, err := c.ListWorkers(context.Background(), ListWorkersOpts{TaskType: "clip_embedding", IdleOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(workers) != 1 || workers[0].ID != "w1" {
		t.Errorf("unexpected workers: %+v", workers)
	}
}

func TestClient_APIError(t *testing.T) {
	c := NewClient(newFakeAPI(t).URL)

	_, err := c.GetJob(context.Background(), "123")
	if err == nil || err.Error() != "NOT_FOUND: job not found" {
		t.Errorf("expected API error, got %v", err)
	}
}

func TestCapabilitiesCmd_Table(t *testing.T) {
	srv := newFakeAPI(t)
	var buf bytes.Buffer

	cmd := NewCapabilitiesCmd(
		func() *Client { return NewClient(srv.URL) },
		func() *Output { return NewOutputTo(&buf, false) },
	)
	cmd.SetArgs([]string{})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, separator and 2 rows, got:\n%s", buf.String())
	}
	if !strings.HasPrefix(lines[2], "clip_embedding") || !strings.HasPrefix(lines[3], "image_thumbnail") {
		t.Errorf("rows must be sorted by task type:\n%s", buf.String())
	}
	if f := strings.Fields(lines[3]); len(f) != 3 || f[1] != "0" || f[2] != "1" {
		t.Errorf("expected idle 0 and 1 worker for image_thumbnail, got %q", lines[3])
	}
}

func TestOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	NewOutputTo(&buf, true).Print([]string{"ID"}, [][]string{{"w1"}}, map[string]string{"id": "w1"})

	var got map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
	if got["id"] != "w1" {
		t.Errorf("unexpected output: %v", got)
	}
}

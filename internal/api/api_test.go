package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cloudonlanapps/cl-server-compute/internal/capability"
	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
	"github.com/cloudonlanapps/cl-server-compute/internal/repo"
)

type fakeCapabilities struct {
	workers []domain.WorkerCapability
}

func (f fakeCapabilities) Snapshot() []domain.WorkerCapability {
	return f.workers
}

func (f fakeCapabilities) Aggregate() capability.Aggregate {
	agg := capability.Aggregate{Idle: map[string]int{}}
	for _, w := range f.workers {
		agg.Workers = append(agg.Workers, w.WorkerID)
		for _, t := range w.TaskTypes {
			agg.Idle[t] += w.IdleCount
		}
	}
	return agg
}

func (f fakeCapabilities) WorkerCountByTask() map[string]int {
	out := map[string]int{}
	for _, w := range f.workers {
		for _, t := range w.TaskTypes {
			out[t]++
		}
	}
	return out
}

func newTestServer(t *testing.T, jobs JobReader) *httptest.Server {
	t.Helper()

	now := time.Now()
	caps := fakeCapabilities{workers: []domain.WorkerCapability{
		domain.NewWorkerCapability("w1", []string{"A"}, 1, now),
		domain.NewWorkerCapability("w2", []string{"A", "B"}, 0, now),
	}}

	h := NewHandler(Config{Capabilities: caps, Jobs: jobs})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, wantStatus int, dst any) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: expected status %d, got %d", url, wantStatus, resp.StatusCode)
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	var got HealthResponse
	getJSON(t, srv.URL+"/healthz", http.StatusOK, &got)

	if got.Status != "healthy" || got.Service != "compute-server" {
		t.Errorf("unexpected health response: %+v", got)
	}
}

func TestGetCapabilities(t *testing.T) {
	srv := newTestServer(t, nil)

	var got CapabilitiesResponse
	getJSON(t, srv.URL+"/api/v1/capabilities", http.StatusOK, &got)

	if got.NumWorkers != 2 {
		t.Errorf("expected 2 workers, got %d", got.NumWorkers)
	}
	if got.Capabilities["A"] != 1 || got.Capabilities["B"] != 0 {
		t.Errorf("unexpected capabilities: %v", got.Capabilities)
	}
	if _, ok := got.Capabilities["B"]; !ok {
		t.Error("busy-only task type must still be listed")
	}
	if got.WorkerCounts["A"] != 2 || got.WorkerCounts["B"] != 1 {
		t.Errorf("unexpected worker counts: %v", got.WorkerCounts)
	}
}

func TestHealth_NotReadyUntilSubscribed(t *testing.T) {
	ready := make(chan struct{})
	h := NewHandler(Config{Capabilities: fakeCapabilities{}, Ready: ready})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var got HealthResponse
	getJSON(t, srv.URL+"/healthz", http.StatusServiceUnavailable, &got)
	if got.Status != "starting" {
		t.Errorf("expected starting, got %q", got.Status)
	}

	close(ready)
	getJSON(t, srv.URL+"/healthz", http.StatusOK, &got)
	if got.Status != "healthy" {
		t.Errorf("expected healthy, got %q", got.Status)
	}
}

func TestListWorkers(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"w1", "w2"}},
		{"?task_type=B", []string{"w2"}},
		{"?idle=true", []string{"w1"}},
		{"?task_type=C", nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got struct {
				Data []WorkerResponse `json:"data"`
			}
			getJSON(t, srv.URL+"/api/v1/workers"+tt.query, http.StatusOK, &got)

			if len(got.Data) != len(tt.want) {
				t.Fatalf("expected %v, got %+v", tt.want, got.Data)
			}
			for i, id := range tt.want {
				if got.Data[i].ID != id {
					t.Errorf("expected %s at %d, got %s", id, i, got.Data[i].ID)
				}
			}
		})
	}

	getJSON(t, srv.URL+"/api/v1/workers?idle=maybe", http.StatusBadRequest, nil)
}

func TestGetWorker(t *testing.T) {
	srv := newTestServer(t, nil)

	var got struct {
		Data WorkerResponse `json:"data"`
	}
	getJSON(t, srv.URL+"/api/v1/workers/w2", http.StatusOK, &got)
	if got.Data.IdleCount != 0 || len(got.Data.Capabilities) != 2 {
		t.Errorf("unexpected worker: %+v", got.Data)
	}

	getJSON(t, srv.URL+"/api/v1/workers/missing", http.StatusNotFound, nil)
}

func TestGetJob(t *testing.T) {
	store := repo.NewMemoryJobRepo("")
	job := domain.NewJob("echo", map[string]any{"text": "hi"})
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	srv := newTestServer(t, store)

	var got struct {
		Data JobResponse `json:"data"`
	}
	getJSON(t, srv.URL+"/api/v1/jobs/"+job.ID.String(), http.StatusOK, &got)
	if got.Data.ID != job.ID || got.Data.Status != domain.JobStatusPending {
		t.Errorf("unexpected job: %+v", got.Data)
	}

	getJSON(t, srv.URL+"/api/v1/jobs/"+uuid.NewString(), http.StatusNotFound, nil)
	getJSON(t, srv.URL+"/api/v1/jobs/not-a-uuid", http.StatusBadRequest, nil)
}

func TestGetJob_ClaimedWithNaNProgress(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryJobRepo("")
	job := domain.NewJob("echo", nil)
	if err := store.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimNext(ctx, "w1", []string{"echo"}); err != nil {
		t.Fatal(err)
	}

	nan := math.NaN()
	err := store.UpdateStatus(ctx, domain.StatusUpdate{
		JobID:    job.ID,
		WorkerID: "w1",
		Status:   domain.JobStatusRunning,
		Progress: &nan,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := newTestServer(t, store)

	var got struct {
		Data JobResponse `json:"data"`
	}
	getJSON(t, srv.URL+"/api/v1/jobs/"+job.ID.String(), http.StatusOK, &got)
	if got.Data.Progress != 0 || got.Data.Status != domain.JobStatusRunning {
		t.Errorf("unexpected job: %+v", got.Data)
	}
	if got.Data.ClaimedBy != "w1" || got.Data.ClaimedAt == nil {
		t.Errorf("expected claim info, got by=%q at=%v", got.Data.ClaimedBy, got.Data.ClaimedAt)
	}
}

func TestJobsRouteDisabledWithoutStore(t *testing.T) {
	srv := newTestServer(t, nil)
	getJSON(t, srv.URL+"/api/v1/jobs/"+uuid.NewString(), http.StatusNotFound, nil)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Chain(Recovery(NewHandler(Config{}).logger))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/v1/workers/missing")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	generated := resp.Header.Get("X-Request-ID")
	if generated == "" {
		t.Fatal("expected generated X-Request-ID")
	}

	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.RequestID != generated {
		t.Errorf("expected request_id %q in body, got %q", generated, body.Error.RequestID)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/capabilities", nil)
	req.Header.Set("X-Request-ID", "client-id")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if got := resp2.Header.Get("X-Request-ID"); got != "client-id" {
		t.Errorf("expected client request id to be kept, got %q", got)
	}
}

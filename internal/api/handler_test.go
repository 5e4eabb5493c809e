package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/etlwatch/ingestd/internal/core"
	"github.com/etlwatch/ingestd/internal/ftppool"
	"github.com/etlwatch/ingestd/internal/scheduler"
)

// mockControl implements Control for testing.
type mockControl struct {
	mu         sync.Mutex
	tickFunc   func(ctx context.Context) error
	drainFunc  func(ctx context.Context) error
	statusFunc func() scheduler.Status
	trackFunc  func(name string) []string
	drains     int
}

func (m *mockControl) Tick(ctx context.Context) error {
	if m.tickFunc != nil {
		return m.tickFunc(ctx)
	}
	return nil
}

func (m *mockControl) Drain(ctx context.Context) error {
	m.mu.Lock()
	m.drains++
	m.mu.Unlock()
	if m.drainFunc != nil {
		return m.drainFunc(ctx)
	}
	return nil
}

func (m *mockControl) Status() scheduler.Status {
	if m.statusFunc != nil {
		return m.statusFunc()
	}
	return scheduler.Status{Phase: "idle", Queues: map[string]int{}}
}

func (m *mockControl) Track(name string) []string {
	if m.trackFunc != nil {
		return m.trackFunc(name)
	}
	return nil
}

func (m *mockControl) drainCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drains
}

type mockPool struct {
	stats ftppool.Stats
}

func (m *mockPool) Stats() ftppool.Stats { return m.stats }

func newTestRouter(ctrl *mockControl, pool *mockPool) http.Handler {
	h := NewHandler(ctrl, pool, time.Minute)
	r := chi.NewRouter()
	r.Post("/run", h.Run)
	r.Post("/scan", h.Scan)
	r.Get("/status", h.Status)
	r.Get("/track/{name}", h.Track)
	r.Get("/healthz", h.Health)
	return r
}

func TestRun_Returns202WithRunID(t *testing.T) {
	ctrl := &mockControl{}
	router := newTestRouter(ctrl, &mockPool{})

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["run_id"] == "" || resp["run_id"] == nil {
		t.Error("run_id missing from response")
	}
	if resp["status"] != "draining" {
		t.Errorf("status = %v, want %q", resp["status"], "draining")
	}

	deadline := time.Now().Add(time.Second)
	for ctrl.drainCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("drain never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRun_RejectsConcurrentRuns(t *testing.T) {
	release := make(chan struct{})
	ctrl := &mockControl{drainFunc: func(ctx context.Context) error {
		<-release
		return nil
	}}
	router := newTestRouter(ctrl, &mockPool{})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/run", nil))
	if first.Code != http.StatusAccepted {
		t.Fatalf("first run status = %d, want %d", first.Code, http.StatusAccepted)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/run", nil))
	if second.Code != http.StatusConflict {
		t.Errorf("second run status = %d, want %d", second.Code, http.StatusConflict)
	}
	close(release)
}

func TestTriggerRun_SharedGate(t *testing.T) {
	release := make(chan struct{})
	ctrl := &mockControl{drainFunc: func(ctx context.Context) error {
		<-release
		return nil
	}}
	h := NewHandler(ctrl, &mockPool{}, time.Minute)

	runID, ok := h.TriggerRun()
	if !ok || runID == "" {
		t.Fatalf("TriggerRun = (%q, %v), want a run ID", runID, ok)
	}

	// A second trigger while the first drains is refused, whatever its
	// origin (HTTP handler or cron callback).
	if _, ok := h.TriggerRun(); ok {
		t.Error("TriggerRun started a second run while one was active")
	}
	rec := httptest.NewRecorder()
	h.Run(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("Run during active trigger = %d, want %d", rec.Code, http.StatusConflict)
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := h.TriggerRun(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("gate never reopened after the run finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScan_RunsOneTick(t *testing.T) {
	ticked := false
	ctrl := &mockControl{tickFunc: func(ctx context.Context) error {
		ticked = true
		return nil
	}}
	router := newTestRouter(ctrl, &mockPool{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scan", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !ticked {
		t.Error("tick was not driven")
	}
}

func TestScan_MapsConnectErrorTo502(t *testing.T) {
	ctrl := &mockControl{tickFunc: func(ctx context.Context) error {
		return core.NewConnectError("connect failed after 3 attempts", errors.New("dial tcp: connection refused"))
	}}
	router := newTestRouter(ctrl, &mockPool{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scan", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var resp struct {
		Error errorBody `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Error.Code != core.ErrCodeConnect {
		t.Errorf("error code = %q, want %q", resp.Error.Code, core.ErrCodeConnect)
	}
	if !resp.Error.Retryable {
		t.Error("connect errors should be marked retryable")
	}
}

func TestStatus_ReportsSchedulerAndPool(t *testing.T) {
	ctrl := &mockControl{statusFunc: func() scheduler.Status {
		return scheduler.Status{
			Phase:    "booted",
			Queues:   map[string]int{"/reports": 3},
			Pending:  3,
			InFlight: []string{"/reports:a.xlsx"},
			Capacity: 4,
		}
	}}
	pool := &mockPool{stats: ftppool.Stats{Entries: 2, Busy: 1}}
	router := newTestRouter(ctrl, pool)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp struct {
		Version   string           `json:"version"`
		Scheduler scheduler.Status `json:"scheduler"`
		Pool      ftppool.Stats    `json:"pool"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Version != core.Version {
		t.Errorf("version = %q, want %q", resp.Version, core.Version)
	}
	if resp.Scheduler.Phase != "booted" || resp.Scheduler.Pending != 3 {
		t.Errorf("scheduler snapshot = %+v", resp.Scheduler)
	}
	if resp.Pool.Entries != 2 || resp.Pool.Busy != 1 {
		t.Errorf("pool snapshot = %+v", resp.Pool)
	}
}

func TestTrack_ReturnsProgressLines(t *testing.T) {
	ctrl := &mockControl{trackFunc: func(name string) []string {
		if name == "daily.xlsx" {
			return []string{"fetching /reports/daily.xlsx (9 bytes)"}
		}
		return nil
	}}
	router := newTestRouter(ctrl, &mockPool{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/track/daily.xlsx", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp struct {
		Name  string   `json:"name"`
		Lines []string `json:"lines"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Name != "daily.xlsx" || len(resp.Lines) != 1 {
		t.Errorf("track response = %+v", resp)
	}
}

func TestHealth_DegradedWhileBreakerOpen(t *testing.T) {
	router := newTestRouter(&mockControl{}, &mockPool{stats: ftppool.Stats{BreakerOpen: true}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"faultline/internal/model"
)

func TestGetStatsEmpty(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 0 {
		t.Errorf("total = %d, want 0", stats.Total)
	}
	if stats.AvgDurationMS != 0 {
		t.Errorf("avg_duration_ms = %f, want 0", stats.AvgDurationMS)
	}
}

func TestGetStatsPopulated(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	run := createRun(t, ts, fastScenario)
	final := waitForTerminal(t, ts, run.ID)
	if final.Status != model.StatusCompleted {
		t.Fatalf("Status = %q, want %q", final.Status, model.StatusCompleted)
	}

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
	if stats.ByStatus["completed"] != 1 {
		t.Errorf("by_status[completed] = %d, want 1", stats.ByStatus["completed"])
	}
	if stats.ByType[model.TestTypeConcurrency] != 1 {
		t.Errorf("by_type[concurrency] = %d, want 1", stats.ByType[model.TestTypeConcurrency])
	}
	if stats.AvgDurationMS <= 0 {
		t.Errorf("avg_duration_ms = %f, want > 0", stats.AvgDurationMS)
	}
}

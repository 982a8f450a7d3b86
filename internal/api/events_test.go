package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"faultline/internal/engine"
	"faultline/internal/model"
)

func TestGetEventHistoryNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/nonexistent/events/history")
	if err != nil {
		t.Fatalf("GET event history: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetEventHistoryAfterRun(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	run := createRun(t, ts, fastScenario)
	final := waitForTerminal(t, ts, run.ID)
	if final.Status != model.StatusCompleted {
		t.Fatalf("Status = %q, want %q", final.Status, model.StatusCompleted)
	}

	resp, err := http.Get(ts.URL + "/v1/runs/" + run.ID + "/events/history")
	if err != nil {
		t.Fatalf("GET event history: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var hist eventHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if hist.RunID != run.ID {
		t.Errorf("run_id = %q, want %q", hist.RunID, run.ID)
	}
	if len(hist.Events) == 0 {
		t.Fatal("expected persisted events for a finished run")
	}

	prev := -1
	kinds := make(map[string]bool)
	for _, entry := range hist.Events {
		if entry.Seq <= prev {
			t.Errorf("events out of order: seq %d after %d", entry.Seq, prev)
		}
		prev = entry.Seq

		var ev engine.Event
		if err := json.Unmarshal(entry.Event, &ev); err != nil {
			t.Fatalf("unmarshal event payload: %v", err)
		}
		kinds[ev.Kind] = true
	}

	if !kinds[engine.EventStage] {
		t.Error("history missing stage event")
	}
	if !kinds[engine.EventIteration] {
		t.Error("history missing iteration events")
	}
	if !kinds[engine.EventFinished] {
		t.Error("history missing finished event")
	}
}

func TestStreamEventsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/nonexistent/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamEventsTerminalRun(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	run := createRun(t, ts, fastScenario)
	waitForTerminal(t, ts, run.ID)

	resp, err := http.Get(ts.URL + "/v1/runs/" + run.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// Terminal run yields an empty stream.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			t.Errorf("unexpected stream content: %q", line)
		}
	}
}

func TestStreamEventsLiveRun(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// A run long enough to still be streaming when we connect.
	body := `{
		"test_type": "concurrency",
		"target": "sim-unguarded",
		"settings": {"turntable_travel": "1ms", "keystroke_delay": "1ms", "beam_time": "1ms"},
		"workflows": ["fast-experienced"],
		"stages": [{"duration": "2s", "target": 1}],
		"executor": {"delay_min": "1ms", "delay_max": "2ms"}
	}`
	run := createRun(t, ts, body)

	resp, err := http.Get(ts.URL + "/v1/runs/" + run.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	sawData := false
	sawDone := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: {") {
			sawData = true
		}
		if strings.HasPrefix(line, "event: done") {
			sawDone = true
		}
	}

	if !sawData {
		t.Error("expected at least one event data frame")
	}
	if !sawDone {
		t.Error("expected done event when the run finished")
	}
}

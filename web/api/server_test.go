package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/transitwise/graph-orchestrator/internal/progress"
	"github.com/transitwise/graph-orchestrator/internal/runlog"
	"github.com/transitwise/graph-orchestrator/internal/runstore"
)

type fixedSource struct {
	status progress.Status
}

func (f *fixedSource) Status() progress.Status { return f.status }

func newTestServer(t *testing.T, source StatusSource, store *runstore.Store) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(source, store, "127.0.0.1:0", runlog.NewDiscard().Logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.hub.Run(ctx)

	ts := httptest.NewServer(s.mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func TestStatusEndpoint(t *testing.T) {
	source := &fixedSource{status: progress.Status{
		Message:     "building graph",
		PctProgress: 42,
		Nonce:       "abc",
	}}
	_, ts := newTestServer(t, source, nil)

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var st progress.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Message != "building graph" || st.PctProgress != 42 || st.Nonce != "abc" {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestRunsEndpoints(t *testing.T) {
	store, err := runstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.CreateRun(&runstore.Run{ID: "run-1", BuildGraph: true, EngineMajor: 2}); err != nil {
		t.Fatal(err)
	}
	if err := store.FinishRun("run-1", runstore.StatusSucceeded, "run completed", 100); err != nil {
		t.Fatal(err)
	}

	_, ts := newTestServer(t, &fixedSource{}, store)

	resp, err := http.Get(ts.URL + "/api/runs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var runs []RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("runs = %+v, want single run-1", runs)
	}
	if runs[0].Status != runstore.StatusSucceeded || runs[0].PctProgress != 100 {
		t.Errorf("run = %+v", runs[0])
	}

	single, err := http.Get(ts.URL + "/api/runs/run-1")
	if err != nil {
		t.Fatal(err)
	}
	defer single.Body.Close()
	if single.StatusCode != http.StatusOK {
		t.Errorf("get run status = %d, want 200", single.StatusCode)
	}

	missing, err := http.Get(ts.URL + "/api/runs/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", missing.StatusCode)
	}
}

func TestWebSocketPush(t *testing.T) {
	source := &fixedSource{status: progress.Status{Message: "starting"}}
	s, ts := newTestServer(t, source, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// First frame is the current snapshot.
	var first Event
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "status" {
		t.Errorf("first event type = %q, want status", first.Type)
	}

	s.PublishStatus(progress.Status{Message: "building graph", PctProgress: 30})

	var second Event
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(second.Data)
	if !strings.Contains(string(data), "building graph") {
		t.Errorf("second event = %s", data)
	}
}

func TestSSEStream(t *testing.T) {
	source := &fixedSource{status: progress.Status{Message: "starting"}}
	_, ts := newTestServer(t, source, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "event: status") {
		t.Errorf("first line = %q, want event: status", line)
	}

	data, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(data, "starting") {
		t.Errorf("data line = %q, want current snapshot", data)
	}
}

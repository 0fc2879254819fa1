package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/logtally/internal/journal"
	"github.com/tinytelemetry/logtally/internal/tcpserver"
	"github.com/tinytelemetry/logtally/internal/transfer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStatus struct {
	stats  tcpserver.Stats
	live   []transfer.SessionInfo
	recent []transfer.SessionInfo
}

func (f *fakeStatus) Stats() tcpserver.Stats                 { return f.stats }
func (f *fakeStatus) Sessions() []transfer.SessionInfo       { return f.live }
func (f *fakeStatus) RecentSessions() []transfer.SessionInfo { return f.recent }

type fakeDiagnostics struct {
	entries []journal.Diagnostic
	asked   int
}

func (f *fakeDiagnostics) Recent(n int) []journal.Diagnostic {
	f.asked = n
	if n < len(f.entries) {
		return f.entries[len(f.entries)-n:]
	}
	return f.entries
}

func newTestServer(t *testing.T, diag DiagnosticsSource) (*fakeStatus, *gin.Engine) {
	t.Helper()
	status := &fakeStatus{
		stats: tcpserver.Stats{Addr: "127.0.0.1:8080", Accepted: 5, Active: 1, Completed: 3, Failed: 1},
		live: []transfer.SessionInfo{
			{ID: "abc", State: "transferring-files", FilesReceived: 2, BytesReceived: 4096, StartedAt: time.Now()},
		},
		recent: []transfer.SessionInfo{
			{ID: "old", State: "done", Dimension: "USER"},
		},
	}
	srv := NewServer("", status, diag)
	srv.startTime = time.Now()
	return status, srv.routes()
}

func get(t *testing.T, r http.Handler, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %s: %v (body %q)", target, err, w.Body.String())
	}
	return w, body
}

func TestHealthEndpoint(t *testing.T) {
	_, r := newTestServer(t, nil)

	w, body := get(t, r, "/api/health")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
	if body["accepted"] != float64(5) || body["active"] != float64(1) || body["failed"] != float64(1) {
		t.Errorf("health counters = %v", body)
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	_, r := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	_, r := newTestServer(t, nil)

	w, body := get(t, r, "/api/sessions")
	if w.Code != http.StatusOK {
		t.Fatalf("sessions status = %d", w.Code)
	}
	if body["active_count"] != float64(1) {
		t.Errorf("active_count = %v, want 1", body["active_count"])
	}
	active, ok := body["active"].([]interface{})
	if !ok || len(active) != 1 {
		t.Fatalf("active = %v", body["active"])
	}
	first := active[0].(map[string]interface{})
	if first["id"] != "abc" || first["state"] != "transferring-files" || first["bytes_received"] != float64(4096) {
		t.Errorf("active[0] = %v", first)
	}
	recent, ok := body["recent"].([]interface{})
	if !ok || len(recent) != 1 {
		t.Fatalf("recent = %v", body["recent"])
	}
}

func TestDiagnosticsEndpoint(t *testing.T) {
	diag := &fakeDiagnostics{entries: []journal.Diagnostic{
		{Seq: 1, File: "a.json", Error: "bad"},
		{Seq: 2, File: "b.xml", Error: "worse"},
	}}
	_, r := newTestServer(t, diag)

	w, body := get(t, r, "/api/diagnostics")
	if w.Code != http.StatusOK {
		t.Fatalf("diagnostics status = %d", w.Code)
	}
	if diag.asked != defaultDiagnosticsLimit {
		t.Errorf("default limit = %d, want %d", diag.asked, defaultDiagnosticsLimit)
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}

	w, body = get(t, r, "/api/diagnostics?limit=1")
	if w.Code != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("limit=1: status %d, body %v", w.Code, body)
	}
	entries := body["entries"].([]interface{})
	if entries[0].(map[string]interface{})["file"] != "b.xml" {
		t.Errorf("limit=1 entry = %v, want b.xml", entries[0])
	}
}

func TestDiagnosticsEndpoint_BadLimit(t *testing.T) {
	_, r := newTestServer(t, &fakeDiagnostics{})

	for _, q := range []string{"0", "-2", "many"} {
		w, _ := get(t, r, "/api/diagnostics?limit="+q)
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", q, w.Code)
		}
	}
}

func TestDiagnosticsEndpoint_Disabled(t *testing.T) {
	_, r := newTestServer(t, nil)

	w, _ := get(t, r, "/api/diagnostics")
	if w.Code != http.StatusNotFound {
		t.Errorf("disabled diagnostics status = %d, want 404", w.Code)
	}
}

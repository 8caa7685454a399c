package wsadmin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkowalski/relaytap/internal/capturelog"
	"github.com/dkowalski/relaytap/internal/captypes"
	"github.com/dkowalski/relaytap/internal/fanout"
	"github.com/dkowalski/relaytap/internal/wsadmin"
)

func newTestServer(t *testing.T) (*wsadmin.Server, *capturelog.Log) {
	t.Helper()
	log, err := capturelog.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	fallthroughHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	})
	return wsadmin.New(log, fanout.New(), fallthroughHandler, nil), log
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("got %+v", body)
	}
}

func TestServer_ListCaptures(t *testing.T) {
	srv, log := newTestServer(t)
	log.LogRequest(captypes.CaptureRequest{ID: "req-1"})

	req := httptest.NewRequest(http.MethodGet, "/api/captures", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var pairs []captypes.Pair
	if err := json.Unmarshal(rec.Body.Bytes(), &pairs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(pairs) != 1 || pairs[0].Request.ID != "req-1" {
		t.Fatalf("got %+v", pairs)
	}
}

func TestServer_ClearCaptures(t *testing.T) {
	srv, log := newTestServer(t)
	log.LogRequest(captypes.CaptureRequest{ID: "req-1"})

	req := httptest.NewRequest(http.MethodDelete, "/api/captures", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if entries := log.ReadAll(); len(entries) != 0 {
		t.Fatalf("got %d entries after clear", len(entries))
	}
}

func TestServer_FallsThroughToProxy(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want fallthrough handler's response", rec.Code)
	}
}

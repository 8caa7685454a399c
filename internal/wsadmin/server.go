// Package wsadmin is the HTTP admin surface: health, paired-capture reads,
// log clearing, and a WebSocket feed of live captured records. Every other
// path falls through to the proxy forwarder unchanged. The WebSocket feed
// is a thin transport over internal/fanout's subscriber hub — one fan-out
// subscription per connected client.
package wsadmin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dkowalski/relaytap/internal/capturelog"
	"github.com/dkowalski/relaytap/internal/captypes"
	"github.com/dkowalski/relaytap/internal/fanout"
)

// Server is the admin HTTP handler. It wraps a proxy handler for any path
// it does not itself recognise.
type Server struct {
	mux    *http.ServeMux
	log    *capturelog.Log
	hub    *fanout.Hub
	logger *slog.Logger
}

// New builds the admin surface. proxy handles every path not matched by
// the admin routes below. events is the fan-out hub that feeds the
// WebSocket surface; the forwarder's observer publishes to it.
func New(captureLog *capturelog.Log, events *fanout.Hub, proxy http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mux:    http.NewServeMux(),
		log:    captureLog,
		hub:    events,
		logger: logger,
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/captures", s.handleListCaptures)
	s.mux.HandleFunc("DELETE /api/captures", s.handleClearCaptures)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.Handle("/", proxy)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	pairs := s.log.GetPairs()
	if pairs == nil {
		pairs = []captypes.Pair{}
	}
	writeJSON(w, http.StatusOK, pairs)
}

func (s *Server) handleClearCaptures(w http.ResponseWriter, r *http.Request) {
	if err := s.log.Clear(); err != nil {
		s.logger.Error("clearing capture log failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear captures")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

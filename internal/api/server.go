// Package api is a lightweight HTTP surface for the connectivity dashboard:
// status and policy reads, policy toggles, recheck requests, and a websocket
// stream of state changes.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/tradegate/gatewatch/internal/conncheck"
	"github.com/tradegate/gatewatch/internal/policy"
	"github.com/tradegate/gatewatch/internal/probe"
	"github.com/tradegate/gatewatch/internal/status"
)

// Controller exposes the connection manager operations the API drives.
type Controller interface {
	Snapshot() status.Snapshot
	ToggleBypass(ctx context.Context, enabled bool) error
	ToggleForceDirectAPI(ctx context.Context, enabled bool) error
	EnableOfflineMode() error
	DisableOfflineMode(ctx context.Context) error
}

// ProbeReporter exposes the most recent per-stage probe results.
type ProbeReporter interface {
	LastResults() map[conncheck.Stage]probe.Result
}

// CheckRequester accepts a recheck request without blocking; the bridge
// executes it off the request goroutine.
type CheckRequester interface {
	RequestCheck()
}

// Server is the HTTP API for the connectivity dashboard.
type Server struct {
	httpServer *http.Server
	ctrl       Controller
	store      policy.Store
	probes     ProbeReporter
	checks     CheckRequester
	ws         http.HandlerFunc
	startedAt  time.Time
}

// NewServer creates a new API server bound to addr. ws may be nil when no
// websocket hub is configured.
func NewServer(addr string, ctrl Controller, store policy.Store, probes ProbeReporter, checks CheckRequester, ws http.HandlerFunc) *Server {
	s := &Server{
		ctrl:      ctrl,
		store:     store,
		probes:    probes,
		checks:    checks,
		ws:        ws,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/check", s.handleCheck)
	mux.HandleFunc("/api/policy", s.handlePolicy)
	mux.HandleFunc("/api/policy/bypass", s.handleBypass)
	mux.HandleFunc("/api/policy/force-direct", s.handleForceDirect)
	mux.HandleFunc("/api/policy/offline-mode", s.handleOfflineMode)
	if ws != nil {
		mux.HandleFunc("/api/ws", ws)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.Printf("api server listening on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("api server: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GET /api/health — liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/status — stage verdicts, policy flags, and last probe latencies.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.ctrl.Snapshot()
	resp := map[string]interface{}{
		"status":   snap,
		"failure":  conncheck.ClassifyFailure(conncheck.Snapshot{Internet: snap.Internet, API: snap.API, Account: snap.Account}),
		"uptime_s": time.Since(s.startedAt).Seconds(),
	}
	if pol, err := s.store.Load(); err == nil {
		resp["policy"] = pol
	}
	if s.probes != nil {
		resp["probes"] = s.probes.LastResults()
	}
	s.writeJSON(w, resp)
}

// POST /api/check — request a connectivity re-verification.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.checks.RequestCheck()
	s.writeJSON(w, map[string]string{"status": "check_requested"})
}

// GET /api/policy — the persisted override flags.
func (s *Server) handlePolicy(w http.ResponseWriter, _ *http.Request) {
	pol, err := s.store.Load()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, pol)
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func decodeToggle(w http.ResponseWriter, r *http.Request) (toggleRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return toggleRequest{}, false
	}
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return toggleRequest{}, false
	}
	return req, true
}

// POST /api/policy/bypass — toggle the bypass override.
func (s *Server) handleBypass(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeToggle(w, r)
	if !ok {
		return
	}
	if err := s.ctrl.ToggleBypass(r.Context(), req.Enabled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]interface{}{"bypass_checks": req.Enabled, "status": s.ctrl.Snapshot()})
}

// POST /api/policy/force-direct — toggle the force-direct-api override.
func (s *Server) handleForceDirect(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeToggle(w, r)
	if !ok {
		return
	}
	if err := s.ctrl.ToggleForceDirectAPI(r.Context(), req.Enabled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]interface{}{"force_direct_api": req.Enabled, "status": s.ctrl.Snapshot()})
}

// POST /api/policy/offline-mode — toggle offline mode.
func (s *Server) handleOfflineMode(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeToggle(w, r)
	if !ok {
		return
	}
	var err error
	if req.Enabled {
		err = s.ctrl.EnableOfflineMode()
	} else {
		err = s.ctrl.DisableOfflineMode(r.Context())
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]interface{}{"offline_mode": req.Enabled, "status": s.ctrl.Snapshot()})
}

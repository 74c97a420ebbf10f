// Package controlapi implements the loopback HTTP control plane of §6.1,
// the single surface the host player's UI talks to. Route table and JSON
// error-shape conventions are grounded on RegistryAccord's mux.go, adapted
// from its JWT/CORS-heavy production mux down to the loopback-only,
// unauthenticated surface this spec calls for (§1's Non-goals excludes
// "authentication of the control API beyond loopback binding").
package controlapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paulthery/IINA-Cast-Plugin/internal/domain"
)

// Directory is the subset of internal/directory.Directory the control
// plane needs.
type Directory interface {
	List() []domain.Device
	Get(id string) (domain.Device, bool)
}

// Coordinator is the subset of internal/session.Coordinator the control
// plane drives.
type Coordinator interface {
	Start(ctx context.Context, deviceID, mediaURL string, startPosition float64) (domain.CastStatus, error)
	Control(ctx context.Context, action domain.ControlAction, value *float64) (domain.CastStatus, error)
	Stop() domain.CastStatus
	Status() domain.CastStatus
}

// Discovery is the subset of the discovery service the control plane can
// trigger a refresh on.
type Discovery interface {
	Refresh()
}

// Server implements the §6.1 route table.
type Server struct {
	directory   Directory
	coordinator Coordinator
	discovery   Discovery
	version     string
	logger      *slog.Logger
	shutdown    func()
}

// New builds a Server. shutdown is invoked (after the 200 response is
// written) to begin the ≈100ms-delayed process exit §6.1's /shutdown
// route describes.
func New(dir Directory, coord Coordinator, disc Discovery, version string, logger *slog.Logger, shutdown func()) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{directory: dir, coordinator: coord, discovery: disc, version: version, logger: logger, shutdown: shutdown}
}

// Handler returns the http.Handler for the control plane.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/devices/", s.handleDeviceByID)
	mux.HandleFunc("/cast", s.handleCast)
	mux.HandleFunc("/control", s.handleControl)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/shutdown", s.handleShutdown)
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.Method == http.MethodPost {
		s.handleRefresh(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.directory.List())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/refresh") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if s.discovery != nil {
		s.discovery.Refresh()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshing"})
}

func (s *Server) handleDeviceByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/devices/")
	if rest == "refresh" && r.Method == http.MethodPost {
		s.handleRefresh(w, r)
		return
	}
	if rest == "" {
		writeError(w, http.StatusBadRequest, "device id required")
		return
	}
	device, ok := s.directory.Get(rest)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device id")
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleCast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req domain.CastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if _, err := s.coordinator.Start(r.Context(), req.DeviceID, req.MediaURL, req.Position); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "casting"})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req domain.ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if _, err := s.coordinator.Control(r.Context(), req.Action, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.coordinator.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting_down"})
	if s.shutdown != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdown()
		}()
	}
}

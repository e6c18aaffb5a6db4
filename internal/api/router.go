package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/beacon-fence-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermFenceRead)).Get("/ws", s.handleWebSocket)

			r.Route("/beacons", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermFenceRead)).Get("/", s.handleListBeacons)
				r.With(s.requirePermission(auth.PermFenceRead)).Get("/ids", s.handleListBeaconIDs)

				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermFenceManage))
					r.Post("/", s.handleCreateBeacon)
					r.Delete("/", s.handleRemoveAllBeacons)
					r.Delete("/{id}", s.handleRemoveBeacon)
				})
			})

			r.With(s.requirePermission(auth.PermScannerConfig)).Put("/scanner", s.handleConfigureScanner)
			r.With(s.requirePermission(auth.PermDispatcherAdmin)).Post("/initialize", s.handleInitialize)
		})
	})

	return r
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status     string   `json:"status"`
	Version    string   `json:"version"`
	Scanner    any      `json:"scanner,omitempty"`
	Dispatcher any      `json:"dispatcher,omitempty"`
	WSClients  int      `json:"ws_clients"`
	Problems   []string `json:"problems,omitempty"`
}

// handleHealth reports "ok", or "degraded" when the scanner link is down.
// It always answers 200 so liveness probes do not restart the service over
// a missing scanner.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.version}

	if s.scanner != nil {
		st := s.scanner.Status()
		resp.Scanner = st
		if !st.Connected {
			resp.Problems = append(resp.Problems, "mqtt broker not connected")
		} else if !st.Bound {
			resp.Problems = append(resp.Problems, "scanner not bound")
		}
	}
	if s.dispatch != nil {
		resp.Dispatcher = s.dispatch.Stats()
	}
	if s.hub != nil {
		resp.WSClients = s.hub.ClientCount()
	}
	if len(resp.Problems) > 0 {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

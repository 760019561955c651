// Package adminhttp is the small operator-facing HTTP surface every node
// exposes: liveness/readiness probes (/healthz, /readyz), built on the
// teacher's declared-but-unused go-chi/chi/v5. This is explicitly NOT the
// excluded player-facing gameplay API (spec §1 Non-goals); no game
// command is ever reachable through this router.
package adminhttp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ReadinessChecker reports whether this node is ready to accept cluster
// traffic (e.g. the DSS connection pool is up).
type ReadinessChecker interface {
	Ready() error
}

// Router builds the admin HTTP surface for nodeID.
func Router(nodeID string, readiness ReadinessChecker) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"node_id": nodeID, "status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := readiness.Ready(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"node_id": nodeID, "status": "not ready", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"node_id": nodeID, "status": "ready"})
	})

	return r
}

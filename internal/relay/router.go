package relay

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/typegym/ai_gateway/internal/cooldown"
	"github.com/typegym/ai_gateway/internal/credential"
)

// Router wires the relay endpoints: the generate handler, the live-session
// grant handler and the health check.
type Router struct {
	generate        *Handler
	liveGrant       http.Handler
	pool            *credential.Pool
	tracker         *cooldown.Tracker
	healthCheckPath string
}

func NewRouter(
	generate *Handler,
	liveGrant http.Handler,
	pool *credential.Pool,
	tracker *cooldown.Tracker,
	healthCheckPath string,
) *Router {
	return &Router{
		generate:        generate,
		liveGrant:       liveGrant,
		pool:            pool,
		tracker:         tracker,
		healthCheckPath: healthCheckPath,
	}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch {
	case req.URL.Path == rt.healthCheckPath:
		rt.handleHealth(w, req)
	case req.URL.Path == "/api/generate":
		rt.generate.ServeHTTP(w, req)
	case req.URL.Path == "/api/live/grant" && rt.liveGrant != nil:
		rt.liveGrant.ServeHTTP(w, req)
	default:
		http.Error(w, "Not Found", http.StatusNotFound)
	}
}

type healthStatus struct {
	Status             string   `json:"status"`
	PoolSize           int      `json:"pool_size"`
	ActiveCooldowns    int      `json:"active_cooldowns"`
	CoolingCredentials []string `json:"cooling_credentials,omitempty"`
}

func (rt *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	snapshot := rt.tracker.Snapshot()
	cooling := make([]string, 0, len(snapshot))
	for name := range snapshot {
		cooling = append(cooling, name)
	}
	sort.Strings(cooling)

	status := healthStatus{
		Status:             "ok",
		PoolSize:           rt.pool.Size(),
		ActiveCooldowns:    len(snapshot),
		CoolingCredentials: cooling,
	}
	if status.PoolSize == 0 {
		status.Status = "unconfigured"
	}

	w.Header().Set("Content-Type", "application/json")
	if status.PoolSize == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker manages liveness and readiness state behind /healthz and /readyz.
// Readiness requires every registered component to report healthy.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]bool
	startTime  time.Time
}

// NewHealthChecker creates a checker with the named components not yet ready.
func NewHealthChecker(components ...string) *HealthChecker {
	h := &HealthChecker{
		components: make(map[string]bool, len(components)),
		startTime:  time.Now(),
	}
	for _, c := range components {
		h.components[c] = false
	}
	return h
}

// SetComponent records the health of one component.
func (h *HealthChecker) SetComponent(name string, ok bool) {
	h.mu.Lock()
	h.components[name] = ok
	h.mu.Unlock()
}

// SetReady marks every registered component at once.
func (h *HealthChecker) SetReady(ready bool) {
	h.mu.Lock()
	for name := range h.components {
		h.components[name] = ready
	}
	if len(h.components) == 0 {
		h.components["service"] = ready
	}
	h.mu.Unlock()
}

// IsReady returns whether every component is healthy.
func (h *HealthChecker) IsReady() bool {
	return len(h.pending()) == 0
}

func (h *HealthChecker) pending() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for name, ok := range h.components {
		if !ok {
			out = append(out, name)
		}
	}
	if len(h.components) == 0 {
		out = append(out, "service")
	}
	sort.Strings(out)
	return out
}

// LivenessHandler returns HTTP 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 once recovery, replay and the DB and NATS
// connections are done, 503 before that. Components that are not ready are
// listed in the body.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	pending := h.pending()
	if len(pending) == 0 {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "not_ready",
		"pending": pending,
	})
}

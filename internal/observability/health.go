package observability

import (
	"net/http"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HealthChecker manages liveness and readiness state.
// /healthz is liveness, /readyz is readiness.
type HealthChecker struct {
	ready     atomic.Bool
	height    atomic.Int64
	phase     atomic.Value
	startTime time.Time
}

func NewHealthChecker() *HealthChecker {
	h := &HealthChecker{startTime: time.Now()}
	h.height.Store(-1)
	h.phase.Store("starting")
	return h
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// SetHeight records the last processed block height.
func (h *HealthChecker) SetHeight(height int64) {
	h.height.Store(height)
}

// SetPhase records the recovery phase reported by /readyz.
func (h *HealthChecker) SetPhase(phase string) {
	h.phase.Store(phase)
}

// LivenessHandler always answers 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler answers 200 once recovery is complete and the processor
// is following the chain, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]interface{}{
		"height": h.height.Load(),
		"phase":  h.phase.Load(),
	}
	if h.ready.Load() {
		w.WriteHeader(http.StatusOK)
		body["status"] = "ready"
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		body["status"] = "not_ready"
	}
	json.NewEncoder(w).Encode(body)
}

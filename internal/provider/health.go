package provider

import (
	"sync"
	"time"
)

// HealthTracker is the shared helper design note §9 calls for in place of
// inheritance: both concrete Provider variants embed one and get
// RecordSuccess/RecordFailure/IsHealthy/HealthMetrics for free, keyed off
// their own current Status.
type HealthTracker struct {
	mu      sync.Mutex
	metrics HealthMetrics
	status  func() Status
}

// NewHealthTracker constructs a tracker. statusFn reports the owning
// provider's current connection status, since IsHealthy requires
// status == connected in addition to the failure-ratio check.
func NewHealthTracker(statusFn func() Status) *HealthTracker {
	return &HealthTracker{status: statusFn}
}

// RecordSuccess updates the running mean response time and success count.
func (h *HealthTracker) RecordSuccess(responseTime time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ms := float64(responseTime.Milliseconds())
	n := h.metrics.SuccessCount
	if n == 0 {
		h.metrics.AvgResponseTimeMs = ms
	} else {
		h.metrics.AvgResponseTimeMs = (h.metrics.AvgResponseTimeMs*float64(n) + ms) / float64(n+1)
	}
	h.metrics.SuccessCount++
	h.metrics.LastSuccessAt = time.Now()
}

// RecordFailure increments the failure count regardless of error content;
// classification happens at the adapter boundary, not here (spec §9).
func (h *HealthTracker) RecordFailure(_ error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.metrics.FailureCount++
	h.metrics.LastFailureAt = time.Now()
}

// Snapshot returns a copy of the current metrics.
func (h *HealthTracker) Snapshot() HealthMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.metrics
}

// IsHealthy implements the predicate from spec §3: connected, and either no
// observations exist yet or the failure ratio is below 30%.
func (h *HealthTracker) IsHealthy() bool {
	if h.status == nil || h.status() != StatusConnected {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	total := h.metrics.SuccessCount + h.metrics.FailureCount
	if total == 0 {
		return true
	}
	return float64(h.metrics.FailureCount)/float64(total) < 0.30
}

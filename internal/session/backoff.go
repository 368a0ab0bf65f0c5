package session

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// maxReconnectAttempts is MAX from spec §4.3: once reconnectAttempts reaches
// this, the session transitions to failed instead of scheduling another
// timer.
const maxReconnectAttempts = 8

// reconnectBackoffBase and reconnectBackoffCap implement
// delay = min(60s, 2^attempts * 1s) with additive jitter uniform in
// [0, 30% of delay].
const (
	reconnectBackoffBase = time.Second
	reconnectBackoffCap  = 60 * time.Second
)

// backoffSource computes jittered reconnect delays. It is grounded on the
// teacher's Engine.computeBackoff/fullJitter pair in internal/worker/engine.go,
// generalized from a full-jitter retry delay to the additive-jitter formula
// spec §4.3 defines for reconnects.
type backoffSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newBackoffSource() *backoffSource {
	return &backoffSource{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))} // #nosec G404 not security sensitive
}

// delay returns the reconnect delay for the N-th attempt (attempts >= 1).
func (b *backoffSource) delay(attempts int) time.Duration {
	raw := time.Duration(float64(reconnectBackoffBase) * math.Pow(2, float64(attempts)))
	if raw > reconnectBackoffCap {
		raw = reconnectBackoffCap
	}

	jitterMax := time.Duration(float64(raw) * 0.30)
	if jitterMax <= 0 {
		return raw
	}

	b.mu.Lock()
	jitter := time.Duration(b.rnd.Int63n(int64(jitterMax) + 1))
	b.mu.Unlock()

	return raw + jitter
}

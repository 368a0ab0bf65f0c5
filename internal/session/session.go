// Package session implements the Session Supervisor (spec §4.3): the
// per-tenant state machine that owns provider lifecycle, reconnects, and
// status-change subscriptions. Per the teacher's design note on replacing
// ad-hoc callback closures with an owning task, each tenant gets exactly one
// actor goroutine draining a bounded command channel; session mutation is
// therefore trivially race-free without a per-field mutex.
package session

import (
	"time"

	"github.com/example/messaging-gateway/internal/provider"
)

// Status mirrors provider.Status; kept as a distinct alias so the session
// package's public surface does not leak the provider package's identity
// into callers that only care about session state.
type Status = provider.Status

const (
	StatusInitializing = provider.StatusInitializing
	StatusQRReady      = provider.StatusQRReady
	StatusConnecting   = provider.StatusConnecting
	StatusConnected    = provider.StatusConnected
	StatusReconnecting = provider.StatusReconnecting
	StatusLoggedOut    = provider.StatusLoggedOut
	StatusFailed       = provider.StatusFailed
	StatusDisconnected = provider.StatusDisconnected
)

// Snapshot is an immutable copy of a Session's externally-visible fields,
// safe to read from any goroutine per spec §5's "concurrent readers of
// status snapshots MUST NOT tear" requirement.
type Snapshot struct {
	TenantID          string
	Status            Status
	ActiveProvider    string
	Providers         []string
	PhoneIdentity     string
	QRPayload         string
	ReconnectAttempts int
	CreatedAt         time.Time
	ConnectedAt       time.Time
}

// IsConnected satisfies the spec §8 invariant check
// (status == connected) ⇔ (activeProvider != null).
func (s Snapshot) IsConnected() bool {
	return s.Status == StatusConnected && s.ActiveProvider != ""
}

// session is the actor's private mutable state; never touched outside the
// owning goroutine.
type session struct {
	tenantID          string
	status            Status
	activeProvider    string
	providers         map[string]provider.Provider
	priority          []string
	phoneIdentity     string
	qrPayload         string
	reconnectAttempts int
	createdAt         time.Time
	connectedAt       time.Time

	generation int // bumped on teardown; late provider events with a stale generation are dropped

	subscribers []subscriber
	nextSubID   int

	reconnectTimer *time.Timer
	poller         Poller
}

// Poller is the subset of the Outbound Poller's lifecycle the Supervisor
// drives directly: start on entering connected, stop on leaving it.
type Poller interface {
	Start(tenantID string)
	Stop(tenantID string)
}

// subscriber pairs a registration ID with its callback. Kept as an
// append-ordered slice, not a map, because spec §4.3 requires callbacks to
// fire "synchronously in registration order" and map iteration order is
// randomized.
type subscriber struct {
	id int
	cb func(Snapshot)
}

func (s *session) snapshot() Snapshot {
	ids := make([]string, 0, len(s.providers))
	for id := range s.providers {
		ids = append(ids, id)
	}
	return Snapshot{
		TenantID:          s.tenantID,
		Status:            s.status,
		ActiveProvider:    s.activeProvider,
		Providers:         ids,
		PhoneIdentity:     s.phoneIdentity,
		QRPayload:         s.qrPayload,
		ReconnectAttempts: s.reconnectAttempts,
		CreatedAt:         s.createdAt,
		ConnectedAt:       s.connectedAt,
	}
}

func (s *session) notifySubscribers() {
	snap := s.snapshot()
	for _, sub := range s.subscribers {
		safeInvoke(sub.cb, snap)
	}
}

// safeInvoke calls cb and recovers from a panic so that one faulty
// subscriber cannot prevent the others from firing (spec §4.3: "a callback
// raising an error MUST NOT prevent subsequent callbacks from firing").
func safeInvoke(cb func(Snapshot), snap Snapshot) {
	defer func() { _ = recover() }()
	cb(snap)
}

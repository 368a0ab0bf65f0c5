package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/messaging-gateway/internal/provider"
)

// Factory constructs a concrete provider.Provider for providerID, wiring
// the supplied sink at construction time so no closure-captured
// back-reference to the session ever leaks into the provider (spec §9).
type Factory func(tenantID, providerID string, sink provider.EventSink) (provider.Provider, error)

// InboundHandler receives normalized inbound events for forwarding. It is
// called on the owning tenant's actor goroutine, so that actor waits until
// it returns; other tenants' actors are not blocked by it (spec §5:
// "non-blocking with respect to other tenants").
type InboundHandler interface {
	HandleInbound(tenantID, providerID string, evt provider.InboundEvent)
}

// DrainScheduler schedules a one-shot queue drain some time after a session
// reaches connected (spec §4.7: "2 s after any session enters connected").
type DrainScheduler interface {
	ScheduleDrain(tenantID string, after time.Duration)
}

// Dependencies wires everything the Supervisor needs to construct
// providers, start/stop the Outbound Poller, forward inbound events, and
// schedule queue drains.
type Dependencies struct {
	Factory        Factory
	Priority       func() []string
	Poller         Poller
	InboundHandler InboundHandler
	DrainScheduler DrainScheduler
	AuthRoot       string
	Logger         zerolog.Logger
}

// Supervisor owns one actor per tenant and is the only component allowed to
// mutate session state (spec §4.3).
type Supervisor struct {
	deps Dependencies

	mu     sync.Mutex
	actors map[string]*actor
}

// NewSupervisor constructs a Supervisor. Priority and Factory are required.
// Poller may be nil here and supplied later through SetPoller; the others
// may be nil if the corresponding feature is disabled in a given deployment
// (e.g. tests with no queue drain side effect).
func NewSupervisor(deps Dependencies) *Supervisor {
	return &Supervisor{
		deps:   deps,
		actors: make(map[string]*actor),
	}
}

// SetPoller wires the Outbound Poller after construction, breaking the
// circular dependency between the Supervisor (which the poller's Sender
// needs to resolve sessions) and the poller (which the Supervisor needs to
// start/stop on connect/disconnect). Callers MUST call this once during
// startup wiring, before any session is created.
func (s *Supervisor) SetPoller(p Poller) {
	s.deps.Poller = p
}

// safeSend sends cmd to a's inbox, recovering if the inbox has already been
// closed by a concurrent DisconnectSession racing the caller between the
// supervisor-lock release and the send. It reports whether the send
// succeeded; callers must treat a false return the same as "no such
// session".
func safeSend(a *actor, cmd command) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	a.inbox <- cmd
	return true
}

// CreateSession implements spec §4.3's createSession: if an existing
// session is already connected it is returned unmodified, otherwise a
// fresh actor is spun up (or the existing non-connected one is reused) and
// told to (re)attempt connection.
func (s *Supervisor) CreateSession(tenantID string) Snapshot {
	a := s.actorFor(tenantID)
	result := make(chan Snapshot, 1)
	if !safeSend(a, cmdCreate{result: result}) {
		return Snapshot{TenantID: tenantID, Status: StatusDisconnected}
	}
	return <-result
}

// DisconnectSession implements spec §4.3's disconnectSession.
func (s *Supervisor) DisconnectSession(tenantID string) {
	s.mu.Lock()
	a, ok := s.actors[tenantID]
	if ok {
		delete(s.actors, tenantID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	done := make(chan struct{})
	a.inbox <- cmdDisconnect{done: done}
	<-done
	close(a.inbox)
}

// Snapshot returns the current state of tenantID's session, if any.
func (s *Supervisor) Snapshot(tenantID string) (Snapshot, bool) {
	s.mu.Lock()
	a, ok := s.actors[tenantID]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}

	result := make(chan Snapshot, 1)
	if !safeSend(a, cmdSnapshot{result: result}) {
		return Snapshot{}, false
	}
	return <-result, true
}

// ProviderFor returns the live provider instance providerID on tenantID's
// session, if the session exists and has that provider installed. Used by
// the Send Router to dispatch without routing the actual I/O through the
// actor's inbox.
func (s *Supervisor) ProviderFor(tenantID, providerID string) (provider.Provider, bool) {
	s.mu.Lock()
	a, ok := s.actors[tenantID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	result := make(chan providerLookup, 1)
	if !safeSend(a, cmdGetProvider{providerID: providerID, result: result}) {
		return nil, false
	}
	lookup := <-result
	return lookup.p, lookup.ok
}

// AllSnapshots returns a snapshot of every currently-known session. Used by
// the periodic janitor sweep (spec §5) to find sessions stuck in failed or
// initializing.
func (s *Supervisor) AllSnapshots() []Snapshot {
	s.mu.Lock()
	actors := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()

	out := make([]Snapshot, 0, len(actors))
	for _, a := range actors {
		result := make(chan Snapshot, 1)
		if !safeSend(a, cmdSnapshot{result: result}) {
			continue // actor was disconnected concurrently; nothing to report
		}
		out = append(out, <-result)
	}
	return out
}

// RouteInboundWebhook implements spec §6's platform-webhook-in routing:
// "route to the session whose P1 provider reports the matching phone
// identifier". Matching uses the session's phone identity, which is the one
// reported by its active provider, and skips sessions with no p1 provider
// installed; the p1 provider's own PhoneIdentity is not consulted. It
// returns false if no session matches.
func (s *Supervisor) RouteInboundWebhook(phoneIdentity string, evt provider.InboundEvent) bool {
	s.mu.Lock()
	actors := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()

	for _, a := range actors {
		result := make(chan Snapshot, 1)
		if !safeSend(a, cmdSnapshot{result: result}) {
			continue // actor was disconnected concurrently; try the next one
		}
		snap := <-result

		if snap.PhoneIdentity != phoneIdentity {
			continue
		}
		hasP1 := false
		for _, id := range snap.Providers {
			if id == "p1" {
				hasP1 = true
				break
			}
		}
		if !hasP1 {
			continue
		}

		if !safeSend(a, cmdExternalInbound{providerID: "p1", inbound: evt}) {
			continue // disconnected between the snapshot read and dispatch
		}
		return true
	}
	return false
}

// Subscribe registers cb to be invoked, synchronously and in registration
// order, on every status transition for tenantID. It returns an unsubscribe
// function. Subscribing to a tenant with no session yet is a no-op that
// returns a no-op unsubscribe.
func (s *Supervisor) Subscribe(tenantID string, cb func(Snapshot)) func() {
	s.mu.Lock()
	a, ok := s.actors[tenantID]
	s.mu.Unlock()
	if !ok {
		return func() {}
	}

	result := make(chan int, 1)
	if !safeSend(a, cmdSubscribe{cb: cb, result: result}) {
		return func() {}
	}
	id := <-result

	return func() {
		safeSend(a, cmdUnsubscribe{id: id}) // inbox may already be closed by DisconnectSession
	}
}

// ReconnectExistingSessions enumerates persisted-credential directories
// under AuthRoot and calls CreateSession on each tenant, spaced 2 s apart,
// per spec §4.3.
func (s *Supervisor) ReconnectExistingSessions(ctx context.Context) {
	if s.deps.AuthRoot == "" {
		return
	}

	entries, err := os.ReadDir(s.deps.AuthRoot)
	if err != nil {
		s.deps.Logger.Warn().Err(err).Str("auth_root", s.deps.AuthRoot).Msg("session: could not list credential directories")
		return
	}

	first := true
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if !first {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
		first = false

		tenantID := filepath.Base(entry.Name())
		s.deps.Logger.Info().Str("tenant_id", tenantID).Msg("session: reconnecting persisted session")
		s.CreateSession(tenantID)
	}
}

func (s *Supervisor) actorFor(tenantID string) *actor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.actors[tenantID]; ok {
		return a
	}

	a := newActor(tenantID, s.deps)
	s.actors[tenantID] = a
	go a.run()
	return a
}

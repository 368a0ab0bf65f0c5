package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/messaging-gateway/internal/provider"
)

// command is the actor's inbox element type. The design note in spec §9
// calls for a bounded inbox of {connect, disconnect, providerEvent,
// sendRequest, subscribe, unsubscribe}; sendRequest is served out-of-band
// via Supervisor.Snapshot (the Send Router only needs a consistent
// provider list, not a session mutation), so it has no command here.
type command interface{}

type cmdCreate struct {
	result chan Snapshot
}

type cmdDisconnect struct {
	done chan struct{}
}

type cmdSubscribe struct {
	cb     func(Snapshot)
	result chan int
}

type cmdUnsubscribe struct {
	id int
}

type cmdSnapshot struct {
	result chan Snapshot
}

type cmdGetProvider struct {
	providerID string
	result     chan providerLookup
}

type providerLookup struct {
	p  provider.Provider
	ok bool
}

type eventKind int

const (
	eventQR eventKind = iota
	eventStatusChange
	eventInbound
)

type cmdProviderEvent struct {
	generation int
	providerID string
	kind       eventKind

	qrPayload string

	status        provider.Status
	phoneIdentity string
	cause         provider.CloseCause

	inbound provider.InboundEvent
}

type cmdReconnectFire struct {
	generation int
}

// cmdExternalInbound carries an inbound event that did not originate from a
// live provider callback (spec §6: "platform webhook in (for P1)"). It skips
// the generation check since it is not a stale callback from a torn-down
// provider instance — it is freshly resolved by phone identity match.
type cmdExternalInbound struct {
	providerID string
	inbound    provider.InboundEvent
}

// actor owns exactly one session and processes its inbox serially,
// guaranteeing the race-freedom spec §5 requires without a per-field mutex.
type actor struct {
	session session
	inbox   chan command
	deps    Dependencies
	backoff *backoffSource
	logger  zerolog.Logger
}

func newActor(tenantID string, deps Dependencies) *actor {
	return &actor{
		session: session{
			tenantID:    tenantID,
			status:      StatusInitializing,
			providers:   make(map[string]provider.Provider),
			subscribers: nil,
			createdAt:   time.Now(),
		},
		inbox:   make(chan command, 64),
		deps:    deps,
		backoff: newBackoffSource(),
		logger:  deps.Logger.With().Str("tenant_id", tenantID).Logger(),
	}
}

func (a *actor) run() {
	for cmd := range a.inbox {
		switch c := cmd.(type) {
		case cmdCreate:
			c.result <- a.handleCreate()
		case cmdDisconnect:
			a.handleDisconnect()
			close(c.done)
		case cmdSubscribe:
			a.session.nextSubID++
			id := a.session.nextSubID
			a.session.subscribers = append(a.session.subscribers, subscriber{id: id, cb: c.cb})
			c.result <- id
		case cmdUnsubscribe:
			for i, sub := range a.session.subscribers {
				if sub.id == c.id {
					a.session.subscribers = append(a.session.subscribers[:i], a.session.subscribers[i+1:]...)
					break
				}
			}
		case cmdSnapshot:
			c.result <- a.session.snapshot()
		case cmdGetProvider:
			p, ok := a.session.providers[c.providerID]
			c.result <- providerLookup{p: p, ok: ok}
		case cmdProviderEvent:
			if c.generation != a.session.generation {
				continue // stale event from a torn-down provider instance
			}
			a.handleProviderEvent(c)
		case cmdReconnectFire:
			if c.generation != a.session.generation {
				continue
			}
			a.handleReconnectFire()
		case cmdExternalInbound:
			if a.deps.InboundHandler != nil {
				a.deps.InboundHandler.HandleInbound(a.session.tenantID, c.providerID, c.inbound)
			}
		}
	}
}

// handleCreate implements spec §4.3's createSession body.
func (a *actor) handleCreate() Snapshot {
	if a.session.status == StatusConnected {
		return a.session.snapshot()
	}

	priority := a.deps.Priority()
	for _, providerID := range priority {
		sink := &eventSink{actor: a, providerID: providerID, generation: a.session.generation}
		p, err := a.deps.Factory(a.session.tenantID, providerID, sink)
		if err != nil {
			a.logger.Warn().Err(err).Str("provider_id", providerID).Msg("session: provider construction failed")
			continue
		}
		a.session.providers[providerID] = p

		ctx, cancel := context.WithTimeout(context.Background(), provider.ConnectTimeout)
		result, err := p.Connect(ctx)
		cancel()
		if err != nil {
			a.logger.Warn().Err(err).Str("provider_id", providerID).Msg("session: connect failed")
			continue
		}

		switch result.Status {
		case provider.StatusConnected:
			a.transitionConnected(providerID, result.PhoneIdentity)
			return a.session.snapshot()
		case provider.StatusQRReady:
			a.session.activeProvider = ""
			a.session.qrPayload = result.QRPayload
			a.setStatus(StatusQRReady)
			return a.session.snapshot()
		}
	}

	return a.session.snapshot()
}

func (a *actor) handleDisconnect() {
	a.session.generation++ // invalidate any in-flight provider callbacks
	a.cancelReconnectTimer()
	if a.deps.Poller != nil {
		a.deps.Poller.Stop(a.session.tenantID)
	}

	for _, p := range a.session.providers {
		ctx, cancel := context.WithTimeout(context.Background(), provider.ConnectTimeout)
		_ = p.Disconnect(ctx)
		cancel()
	}

	a.session.activeProvider = ""
	a.setStatus(StatusDisconnected)
	a.session.subscribers = nil
}

func (a *actor) handleProviderEvent(c cmdProviderEvent) {
	switch c.kind {
	case eventQR:
		a.session.qrPayload = c.qrPayload
		a.setStatus(StatusQRReady)
	case eventStatusChange:
		a.handleStatusChange(c)
	case eventInbound:
		if a.deps.InboundHandler != nil {
			a.deps.InboundHandler.HandleInbound(a.session.tenantID, c.providerID, c.inbound)
		}
	}
}

func (a *actor) handleStatusChange(c cmdProviderEvent) {
	switch c.status {
	case provider.StatusConnected:
		if a.session.status == StatusConnected && a.session.activeProvider == c.providerID {
			return // already applied from the Connect result
		}
		a.transitionConnected(c.providerID, c.phoneIdentity)
	case provider.StatusQRReady, provider.StatusInitializing, provider.StatusConnecting:
		// Not a close; the QR payload itself arrives as eventQR.
	case provider.StatusLoggedOut:
		a.purgeCredentials()
		a.session.activeProvider = ""
		a.cancelReconnectTimer()
		if a.deps.Poller != nil {
			a.deps.Poller.Stop(a.session.tenantID)
		}
		a.setStatus(StatusLoggedOut)
	default:
		if c.cause == provider.CloseBadSession {
			a.purgeCredentials()
			a.session.reconnectAttempts = 0
		}
		a.onConnectionClosed(c.providerID)
	}
}

func (a *actor) transitionConnected(providerID, phoneIdentity string) {
	a.session.activeProvider = providerID
	a.session.phoneIdentity = phoneIdentity
	a.session.qrPayload = ""
	a.session.reconnectAttempts = 0
	a.session.connectedAt = time.Now()
	a.cancelReconnectTimer()
	a.setStatus(StatusConnected)

	if a.deps.Poller != nil {
		a.deps.Poller.Start(a.session.tenantID)
	}
	if a.deps.DrainScheduler != nil {
		a.deps.DrainScheduler.ScheduleDrain(a.session.tenantID, 2*time.Second)
	}
}

// onConnectionClosed implements the reconnecting/failed branch of spec
// §4.3's transition table for a non-logout, non-disconnect close.
func (a *actor) onConnectionClosed(providerID string) {
	if a.session.activeProvider == providerID {
		a.session.activeProvider = ""
	}
	if a.deps.Poller != nil {
		a.deps.Poller.Stop(a.session.tenantID)
	}

	if a.session.reconnectAttempts >= maxReconnectAttempts {
		a.setStatus(StatusFailed)
		return
	}

	a.session.reconnectAttempts++
	a.setStatus(StatusReconnecting)
	a.scheduleReconnect(providerID)
}

func (a *actor) scheduleReconnect(providerID string) {
	a.cancelReconnectTimer()

	delay := a.backoff.delay(a.session.reconnectAttempts)
	generation := a.session.generation
	inbox := a.inbox

	a.session.reconnectTimer = time.AfterFunc(delay, func() {
		defer func() { _ = recover() }() // inbox may be closed if disconnectSession raced us
		inbox <- cmdReconnectFire{generation: generation}
	})
	_ = providerID
}

func (a *actor) handleReconnectFire() {
	priority := a.deps.Priority()
	for _, providerID := range priority {
		p, ok := a.session.providers[providerID]
		if !ok {
			sink := &eventSink{actor: a, providerID: providerID, generation: a.session.generation}
			var err error
			p, err = a.deps.Factory(a.session.tenantID, providerID, sink)
			if err != nil {
				continue
			}
			a.session.providers[providerID] = p
		}

		ctx, cancel := context.WithTimeout(context.Background(), provider.ConnectTimeout)
		result, err := p.Connect(ctx)
		cancel()
		if err != nil {
			continue
		}
		if result.Status == provider.StatusConnected {
			a.transitionConnected(providerID, result.PhoneIdentity)
			return
		}
		if result.Status == provider.StatusQRReady {
			a.session.qrPayload = result.QRPayload
			a.setStatus(StatusQRReady)
			return
		}
	}

	a.onConnectionClosed("")
}

func (a *actor) cancelReconnectTimer() {
	if a.session.reconnectTimer != nil {
		a.session.reconnectTimer.Stop()
		a.session.reconnectTimer = nil
	}
}

// purgeCredentials wipes the per-tenant credential directory under
// AuthRoot; concrete providers are responsible for the actual secret
// material, so this only clears the directory that signals
// reconnectExistingSessions which tenants to resume.
func (a *actor) purgeCredentials() {
	if a.deps.AuthRoot == "" {
		return
	}
	dir := credentialDir(a.deps.AuthRoot, a.session.tenantID)
	if err := removeAll(dir); err != nil {
		a.logger.Warn().Err(err).Str("dir", dir).Msg("session: failed to purge credentials")
	}
}

func (a *actor) setStatus(s Status) {
	a.session.status = s
	a.session.notifySubscribers()
}

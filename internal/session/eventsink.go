package session

import "github.com/example/messaging-gateway/internal/provider"

// eventSink is the typed event sink the Supervisor hands each provider at
// construction time (spec §9: "pass a typed event sink to the provider at
// construction and have the supervisor own the sink"). It carries a
// generation token captured at construction; events are funneled back into
// the owning actor's inbox, which drops anything whose generation no longer
// matches the live session (i.e. the session was torn down or rebuilt a new
// provider instance in the meantime).
type eventSink struct {
	actor      *actor
	providerID string
	generation int
}

func (s *eventSink) OnQR(payload string) {
	s.send(cmdProviderEvent{
		generation: s.generation,
		providerID: s.providerID,
		kind:       eventQR,
		qrPayload:  payload,
	})
}

func (s *eventSink) OnInbound(evt provider.InboundEvent) {
	s.send(cmdProviderEvent{
		generation: s.generation,
		providerID: s.providerID,
		kind:       eventInbound,
		inbound:    evt,
	})
}

func (s *eventSink) OnStatusChange(status provider.Status, phoneIdentity string, cause provider.CloseCause) {
	s.send(cmdProviderEvent{
		generation:    s.generation,
		providerID:    s.providerID,
		kind:          eventStatusChange,
		status:        status,
		phoneIdentity: phoneIdentity,
		cause:         cause,
	})
}

func (s *eventSink) send(c cmdProviderEvent) {
	defer func() { _ = recover() }() // inbox may be closed if the session was torn down concurrently
	s.actor.inbox <- c
}

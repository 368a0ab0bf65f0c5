// Package providertest offers a deterministic Provider implementation for
// exercising the Session Supervisor and Send Router without a real upstream
// transport. It is grounded directly on the teacher's
// internal/providers/whatsapp.MockProvider: same Option/Scenario shape, same
// artificial-latency and fixed-clock knobs.
package providertest

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/example/messaging-gateway/internal/errclass"
	"github.com/example/messaging-gateway/internal/provider"
)

// Scenario enumerates supported behaviours for the mock provider.
type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioTimeout   Scenario = "timeout"
	ScenarioAuthError Scenario = "auth_error"
	ScenarioQR        Scenario = "qr"
)

// Option customises the mock provider at construction time.
type Option func(*Provider)

// WithScenario overrides the connect scenario.
func WithScenario(s Scenario) Option {
	return func(p *Provider) { p.connectScenario = s }
}

// WithLatency sets the artificial latency inserted before resolving sends.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) {
		if d >= 0 {
			p.latency = d
		}
	}
}

// WithClock swaps out the clock for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithCapabilities overrides the reported capability set; defaults to the
// official (P1) profile.
func WithCapabilities(c provider.Capabilities) Option {
	return func(p *Provider) { p.caps = c }
}

// Provider is a deterministic, in-memory Provider suitable for tests.
type Provider struct {
	id              string
	logger          func(string)
	connectScenario Scenario
	latency         time.Duration
	now             func() time.Time
	caps            provider.Capabilities
	sink            provider.EventSink

	mu            sync.Mutex
	status        provider.Status
	phoneIdentity string
	sendScenario  map[string]Scenario
	rnd           *rand.Rand

	health *provider.HealthTracker
}

// New constructs a mock Provider identified by id, wired to the supplied
// event sink (normally the owning session actor).
func New(id string, sink provider.EventSink, opts ...Option) *Provider {
	p := &Provider{
		id:              id,
		connectScenario: ScenarioSuccess,
		latency:         5 * time.Millisecond,
		now:             time.Now,
		sink:            sink,
		status:          provider.StatusInitializing,
		sendScenario:    map[string]Scenario{},
		rnd:             rand.New(rand.NewSource(1)), // #nosec G404 deterministic for tests
		caps: provider.Capabilities{
			SupportsTemplates:   true,
			SupportsInteractive: true,
			RequiresQRAuth:      false,
			IsOfficial:          true,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.health = provider.NewHealthTracker(p.Status)
	return p
}

// SetSendScenario forces the outcome of the next send to `to`.
func (p *Provider) SetSendScenario(to string, s Scenario) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendScenario[to] = s
}

func (p *Provider) ID() string { return p.id }

func (p *Provider) Connect(ctx context.Context) (provider.ConnectResult, error) {
	select {
	case <-ctx.Done():
		return provider.ConnectResult{}, ctx.Err()
	default:
	}

	if p.latency > 0 {
		select {
		case <-ctx.Done():
			return provider.ConnectResult{}, ctx.Err()
		case <-time.After(p.latency):
		}
	}

	switch p.connectScenario {
	case ScenarioAuthError:
		p.setStatus(provider.StatusFailed)
		return provider.ConnectResult{}, errclass.Wrap(errclass.AuthError, fmt.Errorf("mock provider %s: auth_error", p.id))
	case ScenarioQR:
		p.setStatus(provider.StatusQRReady)
		qr := fmt.Sprintf("qr-%s-%d", p.id, p.rnd.Int63())
		if p.sink != nil {
			p.sink.OnQR(qr)
		}
		return provider.ConnectResult{Status: provider.StatusQRReady, QRPayload: qr}, nil
	default:
		identity := fmt.Sprintf("+1000000%04d", p.rnd.Intn(10000))
		p.mu.Lock()
		p.phoneIdentity = identity
		p.mu.Unlock()
		p.setStatus(provider.StatusConnected)
		return provider.ConnectResult{Status: provider.StatusConnected, PhoneIdentity: identity}, nil
	}
}

// CompleteQR simulates the asynchronous QR scan completing, transitioning
// the mock provider straight to connected and notifying the sink exactly as
// a real P2 socket provider would.
func (p *Provider) CompleteQR() {
	identity := fmt.Sprintf("+1000000%04d", p.rnd.Intn(10000))
	p.mu.Lock()
	p.phoneIdentity = identity
	p.mu.Unlock()
	p.setStatus(provider.StatusConnected)
}

func (p *Provider) Disconnect(ctx context.Context) error {
	p.setStatus(provider.StatusDisconnected)
	return nil
}

func (p *Provider) SendText(ctx context.Context, to, text string) (provider.SendResult, error) {
	return p.send(ctx, to)
}

func (p *Provider) SendTemplate(ctx context.Context, to, name string, params map[string]string, language string) (provider.SendResult, error) {
	if !p.caps.SupportsTemplates {
		return provider.SendResult{}, errclass.Wrap(errclass.TemplateNotSupported, fmt.Errorf("mock provider %s: template_not_supported", p.id))
	}
	return p.send(ctx, to)
}

func (p *Provider) SendMedia(ctx context.Context, to string, media provider.Media) (provider.SendResult, error) {
	return p.send(ctx, to)
}

func (p *Provider) send(ctx context.Context, to string) (provider.SendResult, error) {
	p.mu.Lock()
	scenario := p.sendScenario[to]
	delete(p.sendScenario, to)
	p.mu.Unlock()

	if scenario == "" {
		scenario = ScenarioSuccess
	}

	if p.latency > 0 {
		select {
		case <-ctx.Done():
			return provider.SendResult{}, ctx.Err()
		case <-time.After(p.latency):
		}
	}

	switch scenario {
	case ScenarioTimeout:
		return provider.SendResult{}, errclass.Wrap(errclass.Timeout, fmt.Errorf("mock provider %s: timeout", p.id))
	case ScenarioAuthError:
		return provider.SendResult{}, errclass.Wrap(errclass.AuthError, fmt.Errorf("mock provider %s: auth_error", p.id))
	default:
		return provider.SendResult{MessageID: fmt.Sprintf("%s-%d", p.id, p.rnd.Int63()), Provider: p.id}, nil
	}
}

// Emit delivers a synthetic inbound event through the sink, as if the
// upstream platform had just pushed a message.
func (p *Provider) Emit(evt provider.InboundEvent) {
	if p.sink != nil {
		p.sink.OnInbound(evt)
	}
}

func (p *Provider) setStatus(s provider.Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
	if p.sink != nil {
		p.sink.OnStatusChange(s, p.PhoneIdentity(), provider.CloseReconnectable)
	}
}

func (p *Provider) IsHealthy() bool                   { return p.health.IsHealthy() }
func (p *Provider) HealthMetrics() provider.HealthMetrics { return p.health.Snapshot() }
func (p *Provider) RecordSuccess(d time.Duration)      { p.health.RecordSuccess(d) }
func (p *Provider) RecordFailure(err error)            { p.health.RecordFailure(err) }

func (p *Provider) PhoneIdentity() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phoneIdentity
}

func (p *Provider) Status() provider.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Provider) Capabilities() provider.Capabilities { return p.caps }

// QRCapabilities returns the P2-style capability profile, used by tests that
// want a socket+QR mock.
func QRCapabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsTemplates:   false,
		SupportsInteractive: true,
		RequiresQRAuth:      true,
		IsOfficial:          false,
	}
}

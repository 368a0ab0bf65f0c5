// Package sendrouter implements the Send Router (spec §4.4): it resolves a
// tenant's session, builds a candidate provider list, and dispatches with
// retry-then-fallback semantics driven entirely by errclass.Class, per the
// open question spec §9 resolves in favor of classifying once at the
// provider boundary rather than re-inspecting raw error codes here.
package sendrouter

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/messaging-gateway/internal/errclass"
	"github.com/example/messaging-gateway/internal/provider"
	"github.com/example/messaging-gateway/internal/session"
)

// ErrSessionNotFound is returned when no session exists for the requested
// tenant.
var ErrSessionNotFound = errors.New("sendrouter: session not found")

// SessionResolver is the subset of session.Supervisor the router depends
// on, narrowed to ease testing.
type SessionResolver interface {
	Snapshot(tenantID string) (session.Snapshot, bool)
	ProviderFor(tenantID, providerID string) (provider.Provider, bool)
}

// FallbackConfig mirrors config.FallbackConfig without importing the config
// package, matching the dependency-light style of internal/errclass.
type FallbackConfig struct {
	Enabled      bool
	MaxRetries   int
	RetryDelayMs int
	Triggers     errclass.Triggers
}

// Options bundle the per-send overrides spec §4.4 accepts.
type Options struct {
	TemplateName string
	TemplateLang string
	TemplateArgs map[string]string
	Media        *provider.Media
}

// Result is returned by a successful Send.
type Result struct {
	MessageID string
	Provider  string
}

// Router dispatches sends with fallback across a tenant's installed
// providers.
type Router struct {
	resolver SessionResolver
	fallback FallbackConfig
	sleep    func(time.Duration)
	logger   zerolog.Logger
}

// New constructs a Router.
func New(resolver SessionResolver, fallback FallbackConfig, logger zerolog.Logger) *Router {
	if fallback.MaxRetries <= 0 {
		fallback.MaxRetries = 3
	}
	if fallback.RetryDelayMs <= 0 {
		fallback.RetryDelayMs = 1000
	}
	return &Router{
		resolver: resolver,
		fallback: fallback,
		sleep:    time.Sleep,
		logger:   logger,
	}
}

// Send implements spec §4.4's send operation for plain text and media; use
// SendTemplate for template sends, since template dispatch needs a
// capability-aware candidate promotion step the plain path skips.
func (r *Router) Send(ctx context.Context, tenantID, recipient, content string, opts Options) (Result, error) {
	candidates, err := r.candidates(tenantID)
	if err != nil {
		return Result{}, err
	}

	var lastErr error
	for i, providerID := range candidates {
		p, ok := r.resolver.ProviderFor(tenantID, providerID)
		if !ok {
			continue
		}
		if !p.IsHealthy() && len(candidates)-i > 1 {
			r.logger.Debug().Str("provider_id", providerID).Msg("sendrouter: skipping unhealthy provider")
			continue
		}

		res, err := r.dispatchWithRetry(ctx, p, recipient, content, opts)
		if err == nil {
			return res, nil
		}
		lastErr = err

		// invalid_phone/auth_error are about the recipient or credentials,
		// not this provider specifically, so spec §4.4 requires failing
		// immediately rather than trying the next candidate.
		class := errclass.ClassOf(err)
		if class == errclass.InvalidPhone || class == errclass.AuthError {
			return Result{}, err
		}
	}

	if lastErr != nil {
		return Result{}, lastErr
	}
	return Result{}, errors.New("sendrouter: no available provider")
}

// SendTemplate implements spec §4.4 step 3: promote the first
// template-capable candidate to the head, or fail synchronously with
// template_not_supported if none exists.
func (r *Router) SendTemplate(ctx context.Context, tenantID, recipient, templateName string, params map[string]string, language string) (Result, error) {
	candidates, err := r.candidates(tenantID)
	if err != nil {
		return Result{}, err
	}

	promoted := promoteTemplateCapable(r.resolver, tenantID, candidates)
	if promoted == nil {
		return Result{}, errclass.Wrap(errclass.TemplateNotSupported, errors.New("sendrouter: no template-capable provider installed"))
	}

	var lastErr error
	for i, providerID := range promoted {
		p, ok := r.resolver.ProviderFor(tenantID, providerID)
		if !ok {
			continue
		}
		if !p.IsHealthy() && len(promoted)-i > 1 {
			continue
		}

		res, err := r.dispatchTemplateWithRetry(ctx, p, recipient, templateName, params, language)
		if err == nil {
			return res, nil
		}
		lastErr = err

		class := errclass.ClassOf(err)
		if class == errclass.InvalidPhone || class == errclass.AuthError {
			return Result{}, err
		}
	}

	if lastErr != nil {
		return Result{}, lastErr
	}
	return Result{}, errors.New("sendrouter: no available provider")
}

func promoteTemplateCapable(resolver SessionResolver, tenantID string, candidates []string) []string {
	for i, id := range candidates {
		p, ok := resolver.ProviderFor(tenantID, id)
		if !ok {
			continue
		}
		if p.Capabilities().SupportsTemplates {
			out := make([]string, 0, len(candidates))
			out = append(out, id)
			for j, other := range candidates {
				if j != i {
					out = append(out, other)
				}
			}
			return out
		}
	}
	return nil
}

// candidates builds [activeProvider, ...priority \ activeProvider] per spec
// §4.4 step 2, filtered to providers actually installed on the session.
func (r *Router) candidates(tenantID string) ([]string, error) {
	snap, ok := r.resolver.Snapshot(tenantID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	installed := make(map[string]bool, len(snap.Providers))
	for _, id := range snap.Providers {
		installed[id] = true
	}

	var ordered []string
	seen := map[string]bool{}
	if snap.ActiveProvider != "" && installed[snap.ActiveProvider] {
		ordered = append(ordered, snap.ActiveProvider)
		seen[snap.ActiveProvider] = true
	}
	for _, id := range snap.Providers {
		if !seen[id] {
			ordered = append(ordered, id)
			seen[id] = true
		}
	}

	return ordered, nil
}

func (r *Router) retryBudget() int {
	if r.fallback.Enabled {
		return r.fallback.MaxRetries
	}
	return 1
}

func (r *Router) dispatchWithRetry(ctx context.Context, p provider.Provider, recipient, content string, opts Options) (Result, error) {
	budget := r.retryBudget()
	var lastErr error

	for retry := 0; retry < budget; retry++ {
		start := time.Now()
		var res provider.SendResult
		var err error
		if opts.Media != nil {
			res, err = p.SendMedia(ctx, recipient, *opts.Media)
		} else {
			res, err = p.SendText(ctx, recipient, content)
		}

		if err == nil {
			p.RecordSuccess(time.Since(start))
			return Result{MessageID: res.MessageID, Provider: res.Provider}, nil
		}

		p.RecordFailure(err)
		lastErr = err
		class := errclass.ClassOf(err)

		if class.TriggersFallback(r.fallback.Triggers) {
			break
		}
		if !class.Retryable() {
			break
		}
		if retry < budget-1 {
			r.sleep(time.Duration(r.fallback.RetryDelayMs) * time.Duration(retry+1) * time.Millisecond)
		}
	}

	return Result{}, lastErr
}

func (r *Router) dispatchTemplateWithRetry(ctx context.Context, p provider.Provider, recipient, templateName string, params map[string]string, language string) (Result, error) {
	budget := r.retryBudget()
	var lastErr error

	for retry := 0; retry < budget; retry++ {
		start := time.Now()
		res, err := p.SendTemplate(ctx, recipient, templateName, params, language)
		if err == nil {
			p.RecordSuccess(time.Since(start))
			return Result{MessageID: res.MessageID, Provider: res.Provider}, nil
		}

		p.RecordFailure(err)
		lastErr = err
		class := errclass.ClassOf(err)

		if class.TriggersFallback(r.fallback.Triggers) {
			break
		}
		if !class.Retryable() {
			break
		}
		if retry < budget-1 {
			r.sleep(time.Duration(r.fallback.RetryDelayMs) * time.Duration(retry+1) * time.Millisecond)
		}
	}

	return Result{}, lastErr
}

package sendrouter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/messaging-gateway/internal/errclass"
	"github.com/example/messaging-gateway/internal/provider"
	"github.com/example/messaging-gateway/internal/provider/providertest"
	"github.com/example/messaging-gateway/internal/session"
)

type fakeResolver struct {
	snap      session.Snapshot
	providers map[string]provider.Provider
}

func (f *fakeResolver) Snapshot(tenantID string) (session.Snapshot, bool) {
	if tenantID != f.snap.TenantID {
		return session.Snapshot{}, false
	}
	return f.snap, true
}

func (f *fakeResolver) ProviderFor(tenantID, providerID string) (provider.Provider, bool) {
	p, ok := f.providers[providerID]
	return p, ok
}

func allTriggers() errclass.Triggers {
	return errclass.Triggers{Timeout: true, RateLimit: true, TemplateError: true, ServerError: true}
}

func TestSendFailsWhenSessionMissing(t *testing.T) {
	resolver := &fakeResolver{snap: session.Snapshot{TenantID: "other"}}
	r := New(resolver, FallbackConfig{Enabled: true, Triggers: allTriggers()}, zerolog.Nop())

	_, err := r.Send(context.Background(), "tenant-1", "+15550009999", "hi", Options{})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSendUsesActiveProviderFirst(t *testing.T) {
	p1 := providertest.New("p1", nil)
	p2 := providertest.New("p2", nil)
	_, _ = p1.Connect(context.Background())
	_, _ = p2.Connect(context.Background())

	resolver := &fakeResolver{
		snap:      session.Snapshot{TenantID: "tenant-1", ActiveProvider: "p1", Providers: []string{"p1", "p2"}},
		providers: map[string]provider.Provider{"p1": p1, "p2": p2},
	}
	r := New(resolver, FallbackConfig{Enabled: true, Triggers: allTriggers()}, zerolog.Nop())
	r.sleep = func(time.Duration) {}

	res, err := r.Send(context.Background(), "tenant-1", "+15550009999", "hi", Options{})
	require.NoError(t, err)
	require.Equal(t, "p1", res.Provider)
}

func TestSendFallsBackOnTimeout(t *testing.T) {
	p1 := providertest.New("p1", nil)
	p2 := providertest.New("p2", nil)
	_, _ = p1.Connect(context.Background())
	_, _ = p2.Connect(context.Background())
	p1.SetSendScenario("+15550009999", providertest.ScenarioTimeout)

	resolver := &fakeResolver{
		snap:      session.Snapshot{TenantID: "tenant-1", ActiveProvider: "p1", Providers: []string{"p1", "p2"}},
		providers: map[string]provider.Provider{"p1": p1, "p2": p2},
	}
	r := New(resolver, FallbackConfig{Enabled: true, MaxRetries: 1, Triggers: allTriggers()}, zerolog.Nop())
	r.sleep = func(time.Duration) {}

	res, err := r.Send(context.Background(), "tenant-1", "+15550009999", "hi", Options{})
	require.NoError(t, err)
	require.Equal(t, "p2", res.Provider)

	require.Equal(t, int64(1), p1.HealthMetrics().FailureCount)
	require.Equal(t, int64(1), p2.HealthMetrics().SuccessCount)
}

func TestSendTemplateFailsWhenNoCandidateSupportsTemplates(t *testing.T) {
	p2 := providertest.New("p2", nil, providertest.WithCapabilities(providertest.QRCapabilities()))
	_, _ = p2.Connect(context.Background())

	resolver := &fakeResolver{
		snap:      session.Snapshot{TenantID: "tenant-1", ActiveProvider: "p2", Providers: []string{"p2"}},
		providers: map[string]provider.Provider{"p2": p2},
	}
	r := New(resolver, FallbackConfig{Enabled: true, Triggers: allTriggers()}, zerolog.Nop())

	_, err := r.SendTemplate(context.Background(), "tenant-1", "+15550009999", "greeting", nil, "en")
	require.Error(t, err)
	require.Equal(t, errclass.TemplateNotSupported, errclass.ClassOf(err))
}

func TestSendTemplatePromotesCapableProvider(t *testing.T) {
	p2 := providertest.New("p2", nil, providertest.WithCapabilities(providertest.QRCapabilities()))
	p1 := providertest.New("p1", nil)
	_, _ = p1.Connect(context.Background())
	_, _ = p2.Connect(context.Background())

	resolver := &fakeResolver{
		snap:      session.Snapshot{TenantID: "tenant-1", ActiveProvider: "p2", Providers: []string{"p2", "p1"}},
		providers: map[string]provider.Provider{"p2": p2, "p1": p1},
	}
	r := New(resolver, FallbackConfig{Enabled: true, Triggers: allTriggers()}, zerolog.Nop())

	res, err := r.SendTemplate(context.Background(), "tenant-1", "+15550009999", "greeting", nil, "en")
	require.NoError(t, err)
	require.Equal(t, "p1", res.Provider)
}

func TestSendDoesNotFailOverOnAuthError(t *testing.T) {
	p1 := providertest.New("p1", nil)
	p2 := providertest.New("p2", nil)
	_, _ = p1.Connect(context.Background())
	_, _ = p2.Connect(context.Background())

	resolver := &fakeResolver{
		snap:      session.Snapshot{TenantID: "tenant-1", ActiveProvider: "p1", Providers: []string{"p1", "p2"}},
		providers: map[string]provider.Provider{"p1": p1, "p2": p2},
	}
	r := New(resolver, FallbackConfig{Enabled: true, Triggers: allTriggers()}, zerolog.Nop())
	r.sleep = func(time.Duration) {}

	p1.SetSendScenario("+15550009999", providertest.ScenarioAuthError)

	_, err := r.Send(context.Background(), "tenant-1", "+15550009999", "hi", Options{})
	require.Error(t, err)
	require.Equal(t, int64(0), p2.HealthMetrics().SuccessCount)
	require.Equal(t, int64(0), p2.HealthMetrics().FailureCount)
}

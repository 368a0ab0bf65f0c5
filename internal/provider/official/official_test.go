package official

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/messaging-gateway/internal/errclass"
	"github.com/example/messaging-gateway/internal/provider"
)

type fakeSink struct {
	statuses []provider.Status
}

func (s *fakeSink) OnQR(string)                                               {}
func (s *fakeSink) OnInbound(provider.InboundEvent)                           {}
func (s *fakeSink) OnStatusChange(st provider.Status, _ string, _ provider.CloseCause) {
	s.statuses = append(s.statuses, st)
}

func TestConnectSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"phone_number":"+15550001234"}`))
	}))
	defer srv.Close()

	sink := &fakeSink{}
	p, err := New("p1", Config{Credentials: "tok", BaseURL: srv.URL}, sink, zerolog.Nop())
	require.NoError(t, err)

	result, err := p.Connect(context.Background())
	require.NoError(t, err)
	require.Equal(t, provider.StatusConnected, result.Status)
	require.Equal(t, "+15550001234", result.PhoneIdentity)
	require.Equal(t, []provider.Status{provider.StatusConnected}, sink.statuses)
}

func TestConnectAuthErrorDoesNotRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New("p1", Config{Credentials: "bad", BaseURL: srv.URL}, &fakeSink{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, errclass.AuthError, errclass.ClassOf(err))
	require.False(t, errclass.ClassOf(err).Retryable())
}

func TestSendTextClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := New("p1", Config{Credentials: "tok", BaseURL: srv.URL}, &fakeSink{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.SendText(context.Background(), "+15550009999", "hi")
	require.Error(t, err)
	require.Equal(t, errclass.RateLimit, errclass.ClassOf(err))
}

func TestSendTextSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message_id":"abc123"}`))
	}))
	defer srv.Close()

	p, err := New("p1", Config{Credentials: "tok", BaseURL: srv.URL}, &fakeSink{}, zerolog.Nop(), WithClock(func() time.Time {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)

	res, err := p.SendText(context.Background(), "+15550009999", "hi")
	require.NoError(t, err)
	require.Equal(t, "abc123", res.MessageID)
	require.Equal(t, "p1", res.Provider)
}

func TestSendTemplateNotSupportedByTemplateErrorClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(422)
		_, _ = w.Write([]byte(`{"error":"unknown template name"}`))
	}))
	defer srv.Close()

	p, err := New("p1", Config{Credentials: "tok", BaseURL: srv.URL}, &fakeSink{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.SendTemplate(context.Background(), "+15550009999", "greeting", nil, "en")
	require.Error(t, err)
	require.Equal(t, errclass.TemplateError, errclass.ClassOf(err))
}

func TestCapabilitiesReportOfficialProfile(t *testing.T) {
	p, err := New("p1", Config{Credentials: "tok"}, &fakeSink{}, zerolog.Nop())
	require.NoError(t, err)

	caps := p.Capabilities()
	require.True(t, caps.SupportsTemplates)
	require.True(t, caps.IsOfficial)
	require.False(t, caps.RequiresQRAuth)
}

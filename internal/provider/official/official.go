// Package official implements the P1 provider: an HTTP/webhook-based
// transport backed by the third-party platform's official Business API.
// It is grounded on the teacher's internal/providers/whatsapp.TwilioProvider
// — same HTTPClient seam for testability, same form-encoded POST shape, same
// response-body error classification idiom — generalized from a single
// Twilio-flavoured send path to the three operations spec §4.1 requires.
package official

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/messaging-gateway/internal/errclass"
	"github.com/example/messaging-gateway/internal/provider"
)

// HTTPClient abstracts http.Client.Do for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config carries everything the official provider needs to authenticate and
// reach the upstream platform.
type Config struct {
	Credentials string
	BaseURL     string
}

// Option customises Provider construction.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client used to talk to the platform.
func WithHTTPClient(c HTTPClient) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithClock overrides the clock used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// Provider implements provider.Provider for the official HTTP transport.
type Provider struct {
	id          string
	cfg         Config
	sink        provider.EventSink
	logger      zerolog.Logger
	httpClient  HTTPClient
	now         func() time.Time
	maxBodyByte int64

	status        provider.Status
	phoneIdentity string

	health *provider.HealthTracker
}

// New constructs the official provider. Connect resolves synchronously with
// `connected`, matching spec §4.1's credential-based immediate-connect path.
func New(id string, cfg Config, sink provider.EventSink, logger zerolog.Logger, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(cfg.Credentials) == "" {
		return nil, errors.New("official provider: credentials are required")
	}

	p := &Provider{
		id:          id,
		cfg:         cfg,
		sink:        sink,
		logger:      logger,
		httpClient:  &http.Client{Timeout: provider.SendTimeout},
		now:         time.Now,
		maxBodyByte: 16 * 1024,
		status:      provider.StatusInitializing,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.cfg.BaseURL == "" {
		p.cfg.BaseURL = "https://graph.officialplatform.example/v1"
	}
	p.health = provider.NewHealthTracker(p.Status)
	return p, nil
}

func (p *Provider) ID() string { return p.id }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsTemplates:   true,
		SupportsInteractive: true,
		RequiresQRAuth:      false,
		IsOfficial:          true,
	}
}

// Connect validates credentials against the platform and resolves
// immediately; P1 never issues a QR challenge.
func (p *Provider) Connect(ctx context.Context) (provider.ConnectResult, error) {
	ctx, cancel := context.WithTimeout(ctx, provider.ConnectTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/me", p.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return provider.ConnectResult{}, errclass.Wrap(errclass.Other, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.Credentials)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.setStatus(provider.StatusFailed, provider.CloseReconnectable)
		return provider.ConnectResult{}, errclass.Wrap(classifyNetErr(err), err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, p.maxBodyByte))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		p.setStatus(provider.StatusFailed, provider.CloseReconnectable)
		return provider.ConnectResult{}, errclass.Wrap(errclass.AuthError, fmt.Errorf("official provider: connect rejected: %s", string(body)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.setStatus(provider.StatusFailed, provider.CloseReconnectable)
		return provider.ConnectResult{}, errclass.Wrap(errclass.ServerError, fmt.Errorf("official provider: connect http %d: %s", resp.StatusCode, string(body)))
	}

	identity := extractPhoneIdentity(body)
	if identity == "" {
		identity = p.id
	}
	p.phoneIdentity = identity
	p.setStatus(provider.StatusConnected, provider.CloseReconnectable)

	return provider.ConnectResult{Status: provider.StatusConnected, PhoneIdentity: identity}, nil
}

// Disconnect is idempotent: it simply marks the provider disconnected. P1
// holds no long-lived socket to tear down.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.setStatus(provider.StatusDisconnected, provider.CloseReconnectable)
	return nil
}

func (p *Provider) SendText(ctx context.Context, to, text string) (provider.SendResult, error) {
	return p.sendMessage(ctx, to, map[string]string{"type": "text", "text": text})
}

func (p *Provider) SendTemplate(ctx context.Context, to, name string, params map[string]string, language string) (provider.SendResult, error) {
	fields := map[string]string{"type": "template", "template": name, "language": language}
	for k, v := range params {
		fields["param_"+k] = v
	}
	return p.sendMessage(ctx, to, fields)
}

func (p *Provider) SendMedia(ctx context.Context, to string, media provider.Media) (provider.SendResult, error) {
	return p.sendMessage(ctx, to, map[string]string{
		"type":      "media",
		"media_url": media.URL,
		"caption":   media.Caption,
		"mime_type": media.MimeType,
	})
}

func (p *Provider) sendMessage(ctx context.Context, to string, fields map[string]string) (provider.SendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, provider.SendTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/messages", p.cfg.BaseURL)
	values := url.Values{}
	values.Set("to", to)
	for k, v := range fields {
		if v != "" {
			values.Set(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return provider.SendResult{}, errclass.Wrap(errclass.Other, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.Credentials)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return provider.SendResult{}, errclass.Wrap(classifyNetErr(err), err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, p.maxBodyByte))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		id := extractMessageID(body)
		if id == "" {
			id = fmt.Sprintf("p1-%d", p.now().UnixNano())
		}
		return provider.SendResult{MessageID: id, Provider: p.id}, nil
	}

	class := classifyHTTPStatus(resp.StatusCode, body)
	return provider.SendResult{}, errclass.Wrap(class, fmt.Errorf("official provider: send http %d: %s", resp.StatusCode, string(body)))
}

func classifyNetErr(err error) errclass.Class {
	if errors.Is(err, context.DeadlineExceeded) {
		return errclass.Timeout
	}
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return errclass.Timeout
	}
	return errclass.ServerError
}

func classifyHTTPStatus(code int, body []byte) errclass.Class {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errclass.AuthError
	case code == http.StatusTooManyRequests:
		return errclass.RateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return errclass.Timeout
	case code == 422 && strings.Contains(strings.ToLower(string(body)), "phone"):
		return errclass.InvalidPhone
	case code == 422 && strings.Contains(strings.ToLower(string(body)), "template"):
		return errclass.TemplateError
	case code >= 500:
		return errclass.ServerError
	default:
		return errclass.Other
	}
}

func extractPhoneIdentity(body []byte) string {
	var parsed struct {
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.PhoneNumber
}

func extractMessageID(body []byte) string {
	var parsed struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.MessageID
}

func (p *Provider) setStatus(s provider.Status, cause provider.CloseCause) {
	p.status = s
	if p.sink != nil {
		p.sink.OnStatusChange(s, p.PhoneIdentity(), cause)
	}
}

func (p *Provider) PhoneIdentity() string   { return p.phoneIdentity }
func (p *Provider) Status() provider.Status { return p.status }

func (p *Provider) IsHealthy() bool                       { return p.health.IsHealthy() }
func (p *Provider) HealthMetrics() provider.HealthMetrics { return p.health.Snapshot() }
func (p *Provider) RecordSuccess(d time.Duration)         { p.health.RecordSuccess(d) }
func (p *Provider) RecordFailure(err error)               { p.health.RecordFailure(err) }

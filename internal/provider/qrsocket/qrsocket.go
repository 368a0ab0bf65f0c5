// Package qrsocket implements the P2 provider: a QR-code-authenticated
// persistent socket transport. Its read loop is grounded on the pattern
// noted for the pack's feishu bridge example, which keeps a long-lived
// github.com/gorilla/websocket connection alive and dispatches inbound
// frames to callbacks; the provider generalises that into the
// provider.EventSink contract spec §4.1 requires for P2.
package qrsocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/example/messaging-gateway/internal/errclass"
	"github.com/example/messaging-gateway/internal/provider"
)

// Dialer abstracts websocket.Dialer.Dial for testability.
type Dialer interface {
	Dial(urlStr string, header http.Header) (*websocket.Conn, *http.Response, error)
}

// Config carries the socket endpoint for the QR-authenticated transport.
type Config struct {
	SocketURL string
}

// Option customises Provider construction.
type Option func(*Provider)

// WithDialer overrides the websocket dialer used to establish the socket.
func WithDialer(d Dialer) Option {
	return func(p *Provider) {
		if d != nil {
			p.dialer = d
		}
	}
}

// WithQRWaitTimeout overrides how long Connect waits for the socket's first
// frame before giving up; the wait is also capped by provider.ConnectTimeout.
func WithQRWaitTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.qrWaitTimeout = d
		}
	}
}

type frame struct {
	Type            string `json:"type"`
	QR              string `json:"qr,omitempty"`
	Phone           string `json:"phone,omitempty"`
	MessageID       string `json:"message_id,omitempty"`
	From            string `json:"from,omitempty"`
	ResolvedPhone   string `json:"resolved_phone,omitempty"`
	IsOpaqueAddress bool   `json:"is_opaque_address,omitempty"`
	OpaqueAddressID string `json:"opaque_address_id,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
	Kind            string `json:"kind,omitempty"`
	Text            string `json:"text,omitempty"`
	PushName        string `json:"push_name,omitempty"`
	IsVoice         bool   `json:"is_voice,omitempty"`
	VoiceTranscript string `json:"voice_transcript,omitempty"`
	VoiceDuration   int    `json:"voice_duration_seconds,omitempty"`
}

// Provider implements provider.Provider over a persistent QR-authenticated
// socket. Unlike the official provider, Connect resolves asynchronously:
// it returns qr_ready immediately and the socket's read loop later drives
// the transition to connected (or back to failed) through the sink.
type Provider struct {
	id            string
	cfg           Config
	sink          provider.EventSink
	logger        zerolog.Logger
	dialer        Dialer
	qrWaitTimeout time.Duration

	mu             sync.Mutex
	status         provider.Status
	phoneIdentity  string
	qrPayload      string
	conn           *websocket.Conn
	closeOnce      sync.Once
	firstFrame     chan struct{}
	firstFrameOnce sync.Once

	health *provider.HealthTracker
}

// New constructs the QR-socket provider.
func New(id string, cfg Config, sink provider.EventSink, logger zerolog.Logger, opts ...Option) (*Provider, error) {
	if cfg.SocketURL == "" {
		return nil, errors.New("qrsocket provider: socket URL is required")
	}

	p := &Provider{
		id:            id,
		cfg:           cfg,
		sink:          sink,
		logger:        logger,
		dialer:        websocket.DefaultDialer,
		qrWaitTimeout: 2 * time.Minute,
		status:        provider.StatusInitializing,
		firstFrame:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.health = provider.NewHealthTracker(p.Status)
	return p, nil
}

func (p *Provider) ID() string { return p.id }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsTemplates:   false,
		SupportsInteractive: true,
		RequiresQRAuth:      true,
		IsOfficial:          false,
	}
}

// Connect dials the socket, waits for the first frame (expected to be a QR
// challenge), reports qr_ready synchronously and keeps a background read
// loop running that drives later transitions (connected, logged_out,
// reconnectable failures) through the sink, per spec §4.1.
func (p *Provider) Connect(ctx context.Context) (provider.ConnectResult, error) {
	waitFor := provider.ConnectTimeout
	if p.qrWaitTimeout < waitFor {
		waitFor = p.qrWaitTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()

	parsed, err := url.Parse(p.cfg.SocketURL)
	if err != nil {
		return provider.ConnectResult{}, errclass.Wrap(errclass.Other, err)
	}

	conn, _, err := p.dialer.Dial(parsed.String(), nil)
	if err != nil {
		p.setStatus(provider.StatusFailed, provider.CloseReconnectable)
		return provider.ConnectResult{}, errclass.Wrap(classifyDialErr(err), fmt.Errorf("qrsocket provider: dial: %w", err))
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	go p.readLoop(conn)

	select {
	case <-dialCtx.Done():
		return provider.ConnectResult{}, errclass.Wrap(errclass.Timeout, dialCtx.Err())
	case <-p.firstFrame:
	}

	st := p.Status()
	if st == provider.StatusQRReady {
		return provider.ConnectResult{Status: provider.StatusQRReady, QRPayload: p.lastQR()}, nil
	}
	return provider.ConnectResult{Status: st, PhoneIdentity: p.PhoneIdentity()}, nil
}

func (p *Provider) markFirstFrame() {
	p.firstFrameOnce.Do(func() { close(p.firstFrame) })
}

func (p *Provider) lastQR() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.qrPayload
}

// readLoop owns the socket exclusively; it is the only goroutine that reads
// from conn or calls setStatus for transitions discovered on the wire.
func (p *Provider) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			p.setStatus(provider.StatusFailed, provider.CloseReconnectable)
			p.markFirstFrame()
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			p.logger.Warn().Err(err).Msg("qrsocket: malformed frame")
			continue
		}

		switch f.Type {
		case "qr":
			p.setStatusWithQR(provider.StatusQRReady, f.QR)
		case "authenticated":
			p.mu.Lock()
			p.phoneIdentity = f.Phone
			p.mu.Unlock()
			p.setStatus(provider.StatusConnected, provider.CloseReconnectable)
		case "logged_out":
			p.setStatus(provider.StatusLoggedOut, provider.CloseLoggedOut)
			return
		case "message":
			if p.sink != nil {
				p.sink.OnInbound(provider.InboundEvent{
					MessageID:            f.MessageID,
					From:                 f.From,
					ResolvedPhone:        f.ResolvedPhone,
					IsOpaqueAddress:      f.IsOpaqueAddress,
					OpaqueAddressID:      f.OpaqueAddressID,
					Timestamp:            f.Timestamp,
					Kind:                 f.Kind,
					Content:              f.Text,
					PushName:             f.PushName,
					IsVoice:              f.IsVoice,
					VoiceTranscript:      f.VoiceTranscript,
					VoiceDurationSeconds: f.VoiceDuration,
				})
			}
		default:
			p.logger.Debug().Str("frame_type", f.Type).Msg("qrsocket: unhandled frame")
		}
	}
}

// Disconnect closes the underlying socket. Safe to call more than once.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		if conn != nil {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		}
	})
	p.setStatus(provider.StatusDisconnected, provider.CloseReconnectable)
	return nil
}

func (p *Provider) SendText(ctx context.Context, to, text string) (provider.SendResult, error) {
	return p.send(ctx, map[string]string{"type": "text", "to": to, "text": text})
}

// SendTemplate always fails: P2 has no server-managed template mechanism,
// so spec §4.1 requires a synchronous, non-retryable rejection.
func (p *Provider) SendTemplate(ctx context.Context, to, name string, params map[string]string, language string) (provider.SendResult, error) {
	return provider.SendResult{}, errclass.Wrap(errclass.TemplateNotSupported,
		fmt.Errorf("qrsocket provider: template sends are not supported over the socket transport"))
}

func (p *Provider) SendMedia(ctx context.Context, to string, media provider.Media) (provider.SendResult, error) {
	return p.send(ctx, map[string]string{"type": "media", "to": to, "media_url": media.URL, "caption": media.Caption})
}

func (p *Provider) send(ctx context.Context, fields map[string]string) (provider.SendResult, error) {
	p.mu.Lock()
	conn := p.conn
	status := p.status
	p.mu.Unlock()

	if conn == nil || status != provider.StatusConnected {
		return provider.SendResult{}, errclass.Wrap(errclass.ServerError, errors.New("qrsocket provider: not connected"))
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return provider.SendResult{}, errclass.Wrap(errclass.Other, err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(provider.SendTimeout)
	}
	_ = conn.SetWriteDeadline(deadline)

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return provider.SendResult{}, errclass.Wrap(classifyDialErr(err), err)
	}

	return provider.SendResult{MessageID: fmt.Sprintf("p2-%d", rand.Int63()), Provider: p.id}, nil // #nosec G404 id is non-cryptographic
}

func classifyDialErr(err error) errclass.Class {
	if errors.Is(err, context.DeadlineExceeded) {
		return errclass.Timeout
	}
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return errclass.Timeout
	}
	return errclass.ServerError
}

func (p *Provider) setStatus(s provider.Status, cause provider.CloseCause) {
	p.mu.Lock()
	p.status = s
	identity := p.phoneIdentity
	p.mu.Unlock()
	p.markFirstFrame()
	if p.sink != nil {
		p.sink.OnStatusChange(s, identity, cause)
	}
}

func (p *Provider) setStatusWithQR(s provider.Status, qr string) {
	p.mu.Lock()
	p.status = s
	p.qrPayload = qr
	p.mu.Unlock()
	p.markFirstFrame()
	if p.sink != nil {
		p.sink.OnQR(qr)
		p.sink.OnStatusChange(s, "", provider.CloseReconnectable)
	}
}

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

func (p *Provider) IsHealthy() bool                       { return p.health.IsHealthy() }
func (p *Provider) HealthMetrics() provider.HealthMetrics { return p.health.Snapshot() }
func (p *Provider) RecordSuccess(d time.Duration)         { p.health.RecordSuccess(d) }
func (p *Provider) RecordFailure(err error)               { p.health.RecordFailure(err) }

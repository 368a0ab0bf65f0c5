// Package webhookfwd implements the Webhook Forwarder (spec §4.7): it
// posts normalized inbound messages to the application webhook, falling
// back to the Inbound Delivery Queue on anything but a definitive success
// or permanent rejection.
package webhookfwd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/messaging-gateway/internal/models"
	"github.com/example/messaging-gateway/internal/provider"
)

// Timeout is the bound spec §5 places on webhook POSTs.
const Timeout = 15 * time.Second

// interRequestSpacing is the pause between deliveries within a single
// processQueue drain pass, per spec §4.7.
const interRequestSpacing = 500 * time.Millisecond

// HTTPClient abstracts http.Client.Do for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Queue is the subset of queue.Queue the forwarder depends on.
type Queue interface {
	Enqueue(d models.QueuedDelivery)
	Dequeue(messageID string)
	IncrementAttempts(messageID string)
	List() []models.QueuedDelivery
	Cleanup()
}

// Forwarder posts normalized inbound messages to the configured webhook
// URL and manages their lifecycle in the Inbound Delivery Queue on failure.
type Forwarder struct {
	url        string
	httpClient HTTPClient
	queue      Queue
	logger     zerolog.Logger
}

// New constructs a Forwarder. An empty url disables forwarding entirely,
// matching spec §4.7's "skips with warning if no webhook URL is configured".
func New(url string, httpClient HTTPClient, queue Queue, logger zerolog.Logger) *Forwarder {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: Timeout}
	}
	return &Forwarder{url: url, httpClient: httpClient, queue: queue, logger: logger}
}

// HandleInbound implements session.InboundHandler, normalizing the raw
// provider event and forwarding it directly (not from the retry queue).
func (f *Forwarder) HandleInbound(tenantID, providerID string, evt provider.InboundEvent) {
	msg := Normalize(tenantID, providerID, evt)
	f.Forward(context.Background(), msg, false)
}

// Forward implements spec §4.7's forward operation.
func (f *Forwarder) Forward(ctx context.Context, msg models.NormalizedInboundMessage, fromRetryQueue bool) {
	if f.url == "" {
		f.logger.Warn().Str("tenant_id", msg.TenantID).Msg("webhookfwd: no webhook URL configured, dropping message")
		return
	}

	status, err := f.post(ctx, msg)
	switch {
	case err == nil && status >= 200 && status < 300:
		if fromRetryQueue {
			f.queue.Dequeue(msg.MessageID)
		}
	case err == nil && status == http.StatusBadRequest:
		if fromRetryQueue {
			f.queue.Dequeue(msg.MessageID)
		}
		f.logger.Warn().Str("tenant_id", msg.TenantID).Str("message_id", msg.MessageID).Msg("webhookfwd: webhook permanently rejected message")
	default:
		if err != nil {
			f.logger.Warn().Err(err).Str("tenant_id", msg.TenantID).Str("message_id", msg.MessageID).Msg("webhookfwd: post failed")
		}
		if fromRetryQueue {
			f.queue.IncrementAttempts(msg.MessageID)
		} else {
			f.queue.Enqueue(models.QueuedDelivery{MessageID: msg.MessageID, TenantID: msg.TenantID, Payload: msg})
		}
	}
}

func (f *Forwarder) post(ctx context.Context, msg models.NormalizedInboundMessage) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	payload := models.FromNormalized(msg)
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.ReadAll(io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}

// ProcessQueue implements spec §4.7's processQueue: iterate a snapshot of
// queued deliveries, forwarding each with a 500 ms inter-request spacing,
// then run cleanup.
func (f *Forwarder) ProcessQueue(ctx context.Context) {
	deliveries := f.queue.List()
	for i, d := range deliveries {
		f.Forward(ctx, d.Payload, true)
		if i < len(deliveries)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interRequestSpacing):
			}
		}
	}
	f.queue.Cleanup()
}

// ScheduleDrain implements session.DrainScheduler: it fires processQueue
// once, after, on its own goroutine.
func (f *Forwarder) ScheduleDrain(tenantID string, after time.Duration) {
	time.AfterFunc(after, func() {
		f.ProcessQueue(context.Background())
	})
}

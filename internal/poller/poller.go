// Package poller implements the Outbound Poller (spec §4.6): one ticking
// loop per connected tenant that pulls pending messages from the
// application backend and dispatches them through the Send Router. The
// per-tenant isPolling guard is modeled after the teacher's
// golang.org/x/sync/semaphore-gated Engine concurrency guard in
// internal/worker/engine.go, narrowed from a global worker pool to exactly
// one in-flight tick per tenant.
package poller

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/messaging-gateway/internal/models"
	"github.com/example/messaging-gateway/internal/sendrouter"
)

// Backend is the subset of backend.Client the poller depends on.
type Backend interface {
	PendingMessages(ctx context.Context, tenantID string) (models.PendingMessagesResponse, error)
	MarkSent(ctx context.Context, req models.MarkSentRequest) error
}

// Sender is the subset of sendrouter.Router the poller depends on.
type Sender interface {
	Send(ctx context.Context, tenantID, recipient, content string, opts sendrouter.Options) (sendrouter.Result, error)
}

// Config carries the poller's tick interval.
type Config struct {
	Interval time.Duration
}

type tenantLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller manages one ticking loop per tenant, started on entering connected
// and stopped on leaving it (spec §4.6). It satisfies session.Poller.
type Poller struct {
	backend Backend
	sender  Sender
	cfg     Config
	logger  zerolog.Logger
	rnd     *rand.Rand
	rndMu   sync.Mutex

	mu    sync.Mutex
	loops map[string]*tenantLoop
}

// New constructs a Poller.
func New(backend Backend, sender Sender, cfg Config, logger zerolog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Poller{
		backend: backend,
		sender:  sender,
		cfg:     cfg,
		logger:  logger,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 not security sensitive
		loops:   make(map[string]*tenantLoop),
	}
}

// Start begins polling tenantID. Calling Start on an already-running tenant
// is a no-op, preserving the "at most one poller per session" invariant
// even under duplicate connected transitions.
func (p *Poller) Start(tenantID string) {
	p.mu.Lock()
	if _, running := p.loops[tenantID]; running {
		p.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := &tenantLoop{cancel: cancel, done: make(chan struct{})}
	p.loops[tenantID] = loop
	p.mu.Unlock()

	go p.run(ctx, tenantID, loop)
}

// Stop cancels tenantID's loop, per spec §4.6: "on any session transition
// out of connected, the poller MUST be cancelled."
func (p *Poller) Stop(tenantID string) {
	p.mu.Lock()
	loop, ok := p.loops[tenantID]
	if ok {
		delete(p.loops, tenantID)
	}
	p.mu.Unlock()

	if ok {
		loop.cancel()
		<-loop.done
	}
}

func (p *Poller) run(ctx context.Context, tenantID string, loop *tenantLoop) {
	defer close(loop.done)

	isPolling := semaphore.NewWeighted(1)
	var wg sync.WaitGroup
	defer wg.Wait() // let any tick still in flight finish before loop.done closes

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.jitteredInterval()):
		}

		if !isPolling.TryAcquire(1) {
			continue // previous tick still in flight; skip per spec §4.6
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer isPolling.Release(1)
			p.tick(ctx, tenantID)
		}()
	}
}

func (p *Poller) jitteredInterval() time.Duration {
	p.rndMu.Lock()
	jitter := time.Duration(p.rnd.Int63n(int64(float64(p.cfg.Interval) * 0.20)))
	p.rndMu.Unlock()
	return p.cfg.Interval + jitter
}

func (p *Poller) tick(ctx context.Context, tenantID string) {
	resp, err := p.backend.PendingMessages(ctx, tenantID)
	if err != nil {
		if isSilentNetworkError(err) {
			return
		}
		p.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("poller: pending-messages fetch failed")
		return
	}

	for _, msg := range resp.Messages {
		p.dispatch(ctx, tenantID, msg)
	}
}

func (p *Poller) dispatch(ctx context.Context, tenantID string, msg models.PendingMessage) {
	recipient := msg.PhoneNumber
	if msg.IsOpaqueAddress {
		recipient = msg.OpaqueAddressID
	}

	result, err := p.sender.Send(ctx, tenantID, recipient, msg.Content, sendrouter.Options{})
	if err != nil {
		ackErr := p.backend.MarkSent(ctx, models.MarkSentRequest{
			IDs:    []string{msg.ID},
			Status: models.AckStatusFailed,
			Error:  err.Error(),
		})
		if ackErr != nil {
			p.logger.Warn().Err(ackErr).Str("tenant_id", tenantID).Str("message_id", msg.ID).Msg("poller: mark-sent (failed) ack failed")
		}
		return
	}

	ackErr := p.backend.MarkSent(ctx, models.MarkSentRequest{
		IDs:               []string{msg.ID},
		Status:            models.AckStatusSent,
		ProviderMessageID: result.MessageID,
	})
	if ackErr != nil {
		p.logger.Warn().Err(ackErr).Str("tenant_id", tenantID).Str("message_id", msg.ID).Msg("poller: mark-sent (sent) ack failed")
	}
}

// isSilentNetworkError reports whether err is a bare network-timeout or
// connection-refused failure, which spec §4.6 requires treating as silent
// rather than logged.
func isSilentNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

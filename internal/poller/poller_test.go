package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/messaging-gateway/internal/models"
	"github.com/example/messaging-gateway/internal/sendrouter"
)

type fakeBackend struct {
	mu        sync.Mutex
	responses []models.PendingMessagesResponse
	callIndex int
	acks      []models.MarkSentRequest
}

func (b *fakeBackend) PendingMessages(ctx context.Context, tenantID string) (models.PendingMessagesResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.callIndex >= len(b.responses) {
		return models.PendingMessagesResponse{}, nil
	}
	resp := b.responses[b.callIndex]
	b.callIndex++
	return resp, nil
}

func (b *fakeBackend) MarkSent(ctx context.Context, req models.MarkSentRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acks = append(b.acks, req)
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (s *fakeSender) Send(ctx context.Context, tenantID, recipient, content string, opts sendrouter.Options) (sendrouter.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, recipient)
	if s.fail {
		return sendrouter.Result{}, context.DeadlineExceeded
	}
	return sendrouter.Result{MessageID: "pm-1", Provider: "p1"}, nil
}

func TestTickDispatchesAndAcksSuccess(t *testing.T) {
	be := &fakeBackend{responses: []models.PendingMessagesResponse{
		{Success: true, Messages: []models.PendingMessage{{ID: "m1", PhoneNumber: "+15550009999", Content: "hi"}}},
	}}
	sender := &fakeSender{}
	p := New(be, sender, Config{Interval: time.Hour}, zerolog.Nop())

	p.tick(context.Background(), "tenant-1")

	be.mu.Lock()
	defer be.mu.Unlock()
	require.Len(t, be.acks, 1)
	require.Equal(t, models.AckStatusSent, be.acks[0].Status)
	require.Equal(t, "pm-1", be.acks[0].ProviderMessageID)
}

func TestTickAcksFailureWithError(t *testing.T) {
	be := &fakeBackend{responses: []models.PendingMessagesResponse{
		{Success: true, Messages: []models.PendingMessage{{ID: "m1", PhoneNumber: "+15550009999", Content: "hi"}}},
	}}
	sender := &fakeSender{fail: true}
	p := New(be, sender, Config{Interval: time.Hour}, zerolog.Nop())

	p.tick(context.Background(), "tenant-1")

	be.mu.Lock()
	defer be.mu.Unlock()
	require.Len(t, be.acks, 1)
	require.Equal(t, models.AckStatusFailed, be.acks[0].Status)
	require.NotEmpty(t, be.acks[0].Error)
}

func TestOpaqueAddressRoutesByLidID(t *testing.T) {
	be := &fakeBackend{responses: []models.PendingMessagesResponse{
		{Success: true, Messages: []models.PendingMessage{{ID: "m1", IsOpaqueAddress: true, OpaqueAddressID: "lid-123", Content: "hi"}}},
	}}
	sender := &fakeSender{}
	p := New(be, sender, Config{Interval: time.Hour}, zerolog.Nop())

	p.tick(context.Background(), "tenant-1")

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Equal(t, []string{"lid-123"}, sender.sent)
}

func TestStartIsIdempotentAndStopWaitsForExit(t *testing.T) {
	be := &fakeBackend{}
	sender := &fakeSender{}
	p := New(be, sender, Config{Interval: 10 * time.Millisecond}, zerolog.Nop())

	p.Start("tenant-1")
	p.Start("tenant-1") // no-op, must not spawn a second loop

	p.mu.Lock()
	loopCount := len(p.loops)
	p.mu.Unlock()
	require.Equal(t, 1, loopCount)

	p.Stop("tenant-1")

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.loops, 0)
}

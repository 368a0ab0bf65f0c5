package webhookfwd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/messaging-gateway/internal/models"
	"github.com/example/messaging-gateway/internal/provider"
)

type fakeQueue struct {
	mu        sync.Mutex
	entries   map[string]models.QueuedDelivery
	cleanups  int
	incrCalls int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{entries: make(map[string]models.QueuedDelivery)}
}

func (q *fakeQueue) Enqueue(d models.QueuedDelivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[d.MessageID] = d
}

func (q *fakeQueue) Dequeue(messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, messageID)
}

func (q *fakeQueue) IncrementAttempts(messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.incrCalls++
	if d, ok := q.entries[messageID]; ok {
		d.Attempts++
		q.entries[messageID] = d
	}
}

func (q *fakeQueue) List() []models.QueuedDelivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedDelivery, 0, len(q.entries))
	for _, d := range q.entries {
		out = append(out, d)
	}
	return out
}

func (q *fakeQueue) Cleanup() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cleanups++
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func TestHandleInboundPostsNormalizedPayload(t *testing.T) {
	var got models.WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := newFakeQueue()
	f := New(srv.URL, nil, q, zerolog.Nop())

	f.HandleInbound("tenant-1", "p1", provider.InboundEvent{
		MessageID:     "m1",
		From:          "5551234",
		ResolvedPhone: "5551234",
		Content:       "hello",
		PushName:      "Alice",
	})

	require.Equal(t, "tenant-1", got.TenantID)
	require.Equal(t, "hello", got.Message)
	require.Equal(t, "Alice", got.CustomerName)
	require.Equal(t, "p1", got.Provider)
	require.Equal(t, 0, q.len())
}

func TestForwardEnqueuesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := newFakeQueue()
	f := New(srv.URL, nil, q, zerolog.Nop())

	msg := models.NormalizedInboundMessage{TenantID: "tenant-1", MessageID: "m1", Content: "hi"}
	f.Forward(context.Background(), msg, false)

	require.Equal(t, 1, q.len())
}

func TestForwardDequeuesOnSuccessFromRetryQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := newFakeQueue()
	msg := models.NormalizedInboundMessage{TenantID: "tenant-1", MessageID: "m1", Content: "hi"}
	q.Enqueue(models.QueuedDelivery{MessageID: "m1", TenantID: "tenant-1", Payload: msg})

	f := New(srv.URL, nil, q, zerolog.Nop())
	f.Forward(context.Background(), msg, true)

	require.Equal(t, 0, q.len())
}

func TestForwardDequeuesOnPermanentRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	q := newFakeQueue()
	msg := models.NormalizedInboundMessage{TenantID: "tenant-1", MessageID: "m1", Content: "hi"}
	q.Enqueue(models.QueuedDelivery{MessageID: "m1", TenantID: "tenant-1", Payload: msg})

	f := New(srv.URL, nil, q, zerolog.Nop())
	f.Forward(context.Background(), msg, true)

	require.Equal(t, 0, q.len())
}

func TestForwardIncrementsAttemptsOnRetryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	q := newFakeQueue()
	msg := models.NormalizedInboundMessage{TenantID: "tenant-1", MessageID: "m1", Content: "hi"}
	q.Enqueue(models.QueuedDelivery{MessageID: "m1", TenantID: "tenant-1", Payload: msg})

	f := New(srv.URL, nil, q, zerolog.Nop())
	f.Forward(context.Background(), msg, true)

	require.Equal(t, 1, q.incrCalls)
	require.Equal(t, 1, q.len())
}

func TestForwardSkipsWhenNoWebhookURLConfigured(t *testing.T) {
	q := newFakeQueue()
	f := New("", nil, q, zerolog.Nop())

	msg := models.NormalizedInboundMessage{TenantID: "tenant-1", MessageID: "m1", Content: "hi"}
	f.Forward(context.Background(), msg, false)

	require.Equal(t, 0, q.len())
}

func TestProcessQueueRecoversAfterOutageEnds(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	q := newFakeQueue()
	msg := models.NormalizedInboundMessage{TenantID: "tenant-1", MessageID: "m1", Content: "hi"}
	q.Enqueue(models.QueuedDelivery{MessageID: "m1", TenantID: "tenant-1", Payload: msg})

	f := New(srv.URL, nil, q, zerolog.Nop())

	f.ProcessQueue(context.Background())
	require.Equal(t, 1, q.len(), "still queued while webhook is down")

	healthy.Store(true)
	f.ProcessQueue(context.Background())
	require.Equal(t, 0, q.len(), "drained once the webhook recovers")
}

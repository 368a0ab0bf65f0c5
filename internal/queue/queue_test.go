package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/messaging-gateway/internal/models"
)

func newTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.json")
	return New(path, zerolog.Nop()), path
}

func TestEnqueueThenDequeueLeavesLengthUnchanged(t *testing.T) {
	q, _ := newTestQueue(t)
	before := q.Len()

	q.Enqueue(models.QueuedDelivery{MessageID: "m1", TenantID: "t1"})
	require.Equal(t, before+1, q.Len())

	q.Dequeue("m1")
	require.Equal(t, before, q.Len())
}

func TestEnqueueThenPersistThenLoadRoundTrips(t *testing.T) {
	q, path := newTestQueue(t)
	q.Enqueue(models.QueuedDelivery{MessageID: "m1", TenantID: "t1"})
	q.Enqueue(models.QueuedDelivery{MessageID: "m2", TenantID: "t1"})
	q.PersistSync()

	reloaded := New(path, zerolog.Nop())
	reloaded.Load()

	ids := map[string]bool{}
	for _, d := range reloaded.List() {
		ids[d.MessageID] = true
	}
	require.Len(t, ids, 2)
	require.True(t, ids["m1"])
	require.True(t, ids["m2"])
}

func TestCleanupEvictsExhaustedAndExpiredEntries(t *testing.T) {
	q, _ := newTestQueue(t)
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return fixedNow }

	q.Enqueue(models.QueuedDelivery{MessageID: "exhausted", TenantID: "t1"})
	q.IncrementAttempts("exhausted")
	q.IncrementAttempts("exhausted")
	q.IncrementAttempts("exhausted")
	q.IncrementAttempts("exhausted")
	q.IncrementAttempts("exhausted")

	q.Enqueue(models.QueuedDelivery{MessageID: "expired", TenantID: "t1"})
	q.mu.Lock()
	expired := q.entries["expired"]
	expired.QueuedAt = fixedNow.Add(-25 * time.Hour).UnixMilli()
	q.entries["expired"] = expired
	q.mu.Unlock()

	q.Enqueue(models.QueuedDelivery{MessageID: "fresh", TenantID: "t1"})

	q.Cleanup()

	ids := map[string]bool{}
	for _, d := range q.List() {
		ids[d.MessageID] = true
	}
	require.False(t, ids["exhausted"])
	require.False(t, ids["expired"])
	require.True(t, ids["fresh"])
}

func TestRunFlushesOnContextCancellation(t *testing.T) {
	q, path := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	go q.Run(ctx)
	q.Enqueue(models.QueuedDelivery{MessageID: "m1", TenantID: "t1"})
	cancel()
	q.Wait()

	reloaded := New(path, zerolog.Nop())
	reloaded.Load()
	require.Equal(t, 1, reloaded.Len())
}

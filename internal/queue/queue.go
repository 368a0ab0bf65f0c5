// Package queue implements the Inbound Delivery Queue (spec §4.5): a
// durable FIFO backed by a single append-rewrite JSON file. Persistence is
// debounced through an explicit writer goroutine draining a dirty-signal
// channel, per spec §9's design note that generalizes the teacher's
// saveInProgress/pendingSave pattern into the channel form.
package queue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/messaging-gateway/internal/models"
)

// TTL is the maximum age a queued delivery may reach before cleanup evicts
// it, per spec §3.
const TTL = 24 * time.Hour

// MaxAttempts is the eviction threshold: entries with attempts >= MaxAttempts
// are removed on the next cleanup pass.
const MaxAttempts = 5

// Queue is the durable, debounced-persistence Inbound Delivery Queue.
type Queue struct {
	path   string
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]models.QueuedDelivery

	dirty chan struct{}
	done  chan struct{}
}

// New constructs a Queue backed by path. It does not load from disk; call
// Load explicitly during startup.
func New(path string, logger zerolog.Logger) *Queue {
	return &Queue{
		path:    path,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]models.QueuedDelivery),
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Run starts the debounced writer goroutine. It exits when ctx is
// cancelled, performing one final synchronous flush first.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			q.PersistSync()
			return
		case <-q.dirty:
			q.persist()
			// Collapse any signal that arrived while we were writing into
			// exactly one more write, matching the "pending bit" discipline
			// spec §4.5 requires.
			select {
			case <-q.dirty:
				q.persist()
			default:
			}
		}
	}
}

// Wait blocks until the writer goroutine has exited (i.e. after Run's ctx
// is cancelled and the final flush completes).
func (q *Queue) Wait() {
	<-q.done
}

func (q *Queue) markDirty() {
	select {
	case q.dirty <- struct{}{}:
	default:
	}
}

// Enqueue implements spec §4.5's enqueue operation.
func (q *Queue) Enqueue(d models.QueuedDelivery) {
	q.mu.Lock()
	d.QueuedAt = q.now().UnixMilli()
	d.Attempts = 0
	q.entries[d.MessageID] = d
	q.mu.Unlock()
	q.markDirty()
}

// Dequeue implements spec §4.5's dequeue operation.
func (q *Queue) Dequeue(messageID string) {
	q.mu.Lock()
	delete(q.entries, messageID)
	q.mu.Unlock()
	q.markDirty()
}

// IncrementAttempts implements spec §4.5's incrementAttempts operation.
func (q *Queue) IncrementAttempts(messageID string) {
	q.mu.Lock()
	if d, ok := q.entries[messageID]; ok {
		d.Attempts++
		q.entries[messageID] = d
	}
	q.mu.Unlock()
	q.markDirty()
}

// List returns a snapshot copy of all entries, oldest QueuedAt first;
// entries queued in the same millisecond are ordered by MessageID.
func (q *Queue) List() []models.QueuedDelivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.QueuedDelivery, 0, len(q.entries))
	for _, d := range q.entries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueuedAt != out[j].QueuedAt {
			return out[i].QueuedAt < out[j].QueuedAt
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Cleanup implements spec §4.5's cleanup: entries with attempts >= 5 or age
// >= TTL are evicted.
func (q *Queue) Cleanup() {
	now := q.now()
	var evicted int

	q.mu.Lock()
	for id, d := range q.entries {
		age := now.Sub(time.UnixMilli(d.QueuedAt))
		if d.Attempts >= MaxAttempts || age >= TTL {
			delete(q.entries, id)
			evicted++
		}
	}
	q.mu.Unlock()

	if evicted > 0 {
		q.logger.Info().Int("evicted", evicted).Msg("queue: cleanup evicted expired or exhausted deliveries")
		q.markDirty()
	}
}

// Load reads the queue file if present, applies TTL cleanup, and logs a
// summary. A parse failure is non-fatal; the queue proceeds empty, per spec
// §4.5.
func (q *Queue) Load() {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if !os.IsNotExist(err) {
			q.logger.Warn().Err(err).Str("path", q.path).Msg("queue: failed to read persisted file")
		}
		return
	}

	var loaded []models.QueuedDelivery
	if err := json.Unmarshal(data, &loaded); err != nil {
		q.logger.Warn().Err(err).Str("path", q.path).Msg("queue: failed to parse persisted file, starting empty")
		return
	}

	q.mu.Lock()
	for _, d := range loaded {
		q.entries[d.MessageID] = d
	}
	q.mu.Unlock()

	q.Cleanup()
	q.logger.Info().Int("loaded", len(loaded)).Msg("queue: loaded persisted deliveries")
}

// PersistSync performs a synchronous write, used on shutdown (spec §4.5).
func (q *Queue) PersistSync() {
	q.persist()
}

func (q *Queue) persist() {
	q.mu.Lock()
	snapshot := make([]models.QueuedDelivery, 0, len(q.entries))
	for _, d := range q.entries {
		snapshot = append(snapshot, d)
	}
	q.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		q.logger.Error().Err(err).Msg("queue: failed to marshal queue for persistence")
		return
	}

	dir := filepath.Dir(q.path)
	tmp, err := os.CreateTemp(dir, ".queue-*.tmp")
	if err != nil {
		q.logger.Error().Err(err).Msg("queue: failed to create temp file for persistence")
		return
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		q.logger.Error().Err(err).Msg("queue: failed to write temp file")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		q.logger.Error().Err(err).Msg("queue: failed to close temp file")
		return
	}

	if err := os.Rename(tmpPath, q.path); err != nil {
		os.Remove(tmpPath)
		q.logger.Error().Err(err).Msg("queue: failed to rename temp file into place")
	}
}

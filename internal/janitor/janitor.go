// Package janitor implements the periodic session sweep spec §5 requires:
// every 10 min, disconnect sessions stuck in failed or in initializing for
// more than 30 min.
package janitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/messaging-gateway/internal/session"
)

// DefaultInterval is the sweep period used when no configuration overrides it.
const DefaultInterval = 10 * time.Minute

// DefaultInitializingTimeout bounds how long a session may sit in
// initializing before the janitor disconnects it, absent a config override.
const DefaultInitializingTimeout = 30 * time.Minute

// Supervisor is the subset of session.Supervisor the janitor depends on.
type Supervisor interface {
	AllSnapshots() []session.Snapshot
	DisconnectSession(tenantID string)
}

// Janitor runs the periodic sweep on its own goroutine until its context is
// cancelled.
type Janitor struct {
	supervisor          Supervisor
	logger              zerolog.Logger
	now                 func() time.Time
	interval            time.Duration
	initializingTimeout time.Duration
}

// New constructs a Janitor. A zero interval or initializingTimeout falls
// back to the spec's defaults (10 min sweep, 30 min initializing bound).
func New(supervisor Supervisor, interval, initializingTimeout time.Duration, logger zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if initializingTimeout <= 0 {
		initializingTimeout = DefaultInitializingTimeout
	}
	return &Janitor{
		supervisor:          supervisor,
		logger:              logger,
		now:                 time.Now,
		interval:            interval,
		initializingTimeout: initializingTimeout,
	}
}

// Run blocks, sweeping every Interval, until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	now := j.now()
	for _, snap := range j.supervisor.AllSnapshots() {
		switch {
		case snap.Status == session.StatusFailed:
			j.logger.Info().Str("tenant_id", snap.TenantID).Msg("janitor: disconnecting failed session")
			j.supervisor.DisconnectSession(snap.TenantID)
		case snap.Status == session.StatusInitializing && now.Sub(snap.CreatedAt) > j.initializingTimeout:
			j.logger.Warn().Str("tenant_id", snap.TenantID).Msg("janitor: disconnecting session stuck in initializing")
			j.supervisor.DisconnectSession(snap.TenantID)
		}
	}
}

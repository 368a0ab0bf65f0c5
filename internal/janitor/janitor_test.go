package janitor

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/messaging-gateway/internal/session"
)

type fakeSupervisor struct {
	mu          sync.Mutex
	snapshots   []session.Snapshot
	disconnects []string
}

func (s *fakeSupervisor) AllSnapshots() []session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Snapshot{}, s.snapshots...)
}

func (s *fakeSupervisor) DisconnectSession(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects = append(s.disconnects, tenantID)
}

func TestSweepDisconnectsFailedSessions(t *testing.T) {
	sup := &fakeSupervisor{snapshots: []session.Snapshot{
		{TenantID: "t1", Status: session.StatusFailed},
		{TenantID: "t2", Status: session.StatusConnected},
	}}
	j := New(sup, DefaultInterval, DefaultInitializingTimeout, zerolog.Nop())
	j.now = time.Now

	j.sweep()

	require.Equal(t, []string{"t1"}, sup.disconnects)
}

func TestSweepDisconnectsStaleInitializingSessions(t *testing.T) {
	fixedNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sup := &fakeSupervisor{snapshots: []session.Snapshot{
		{TenantID: "stale", Status: session.StatusInitializing, CreatedAt: fixedNow.Add(-31 * time.Minute)},
		{TenantID: "fresh", Status: session.StatusInitializing, CreatedAt: fixedNow.Add(-5 * time.Minute)},
	}}
	j := New(sup, DefaultInterval, DefaultInitializingTimeout, zerolog.Nop())
	j.now = func() time.Time { return fixedNow }

	j.sweep()

	require.Equal(t, []string{"stale"}, sup.disconnects)
}

func TestSweepLeavesHealthySessionsAlone(t *testing.T) {
	sup := &fakeSupervisor{snapshots: []session.Snapshot{
		{TenantID: "t1", Status: session.StatusConnected},
		{TenantID: "t2", Status: session.StatusQRReady},
		{TenantID: "t3", Status: session.StatusReconnecting},
	}}
	j := New(sup, DefaultInterval, DefaultInitializingTimeout, zerolog.Nop())

	j.sweep()

	require.Empty(t, sup.disconnects)
}

// Package adminapi implements the thin internal API (spec §1, §7) that the
// HTTP/REST transport binds to: session lifecycle, outbound sends, and an
// on-demand webhook queue drain.
package adminapi

import (
	"context"

	"github.com/example/messaging-gateway/internal/sendrouter"
	"github.com/example/messaging-gateway/internal/session"
)

// Sender is the subset of sendrouter.Router the admin API drives.
type Sender interface {
	Send(ctx context.Context, tenantID, recipient, content string, opts sendrouter.Options) (sendrouter.Result, error)
	SendTemplate(ctx context.Context, tenantID, recipient, templateName string, params map[string]string, language string) (sendrouter.Result, error)
}

// Supervisor is the subset of session.Supervisor the admin API drives.
type Supervisor interface {
	CreateSession(tenantID string) session.Snapshot
	DisconnectSession(tenantID string)
	Snapshot(tenantID string) (session.Snapshot, bool)
}

// QueueDrainer triggers an on-demand processQueue pass (spec §4.7).
type QueueDrainer interface {
	ProcessQueue(ctx context.Context)
}

// NotFound is returned by Session when tenantID has no session, so HTTP
// bindings can render the stable {tenantId, status:"not_found"} shape spec
// §7 requires instead of a bare 404.
type NotFound struct {
	TenantID string
}

func (e *NotFound) Error() string {
	return "session not found: " + e.TenantID
}

// API is the core, transport-independent surface of the admin interface.
type API struct {
	supervisor Supervisor
	sender     Sender
	drainer    QueueDrainer
}

// New constructs an API. drainer may be nil if on-demand queue drains are
// not wired in a given deployment.
func New(supervisor Supervisor, sender Sender, drainer QueueDrainer) *API {
	return &API{supervisor: supervisor, sender: sender, drainer: drainer}
}

// CreateSession implements spec §4.3's createSession from the admin surface.
func (a *API) CreateSession(tenantID string) session.Snapshot {
	return a.supervisor.CreateSession(tenantID)
}

// DisconnectSession implements spec §4.3's disconnectSession from the admin
// surface.
func (a *API) DisconnectSession(tenantID string) {
	a.supervisor.DisconnectSession(tenantID)
}

// Session returns the current snapshot for tenantID, or a *NotFound error.
func (a *API) Session(tenantID string) (session.Snapshot, error) {
	snap, ok := a.supervisor.Snapshot(tenantID)
	if !ok {
		return session.Snapshot{}, &NotFound{TenantID: tenantID}
	}
	return snap, nil
}

// SendText implements the admin surface's outbound push path: admin →
// Send Router → active Provider (spec §2).
func (a *API) SendText(ctx context.Context, tenantID, recipient, content string, opts sendrouter.Options) (sendrouter.Result, error) {
	return a.sender.Send(ctx, tenantID, recipient, content, opts)
}

// SendTemplate implements the admin surface's template-send path.
func (a *API) SendTemplate(ctx context.Context, tenantID, recipient, templateName string, params map[string]string, language string) (sendrouter.Result, error) {
	return a.sender.SendTemplate(ctx, tenantID, recipient, templateName, params, language)
}

// DrainQueue triggers an on-demand processQueue pass (spec §4.7 "(b) on
// demand from the admin surface"). It is a no-op if no drainer is wired.
func (a *API) DrainQueue(ctx context.Context) {
	if a.drainer != nil {
		a.drainer.ProcessQueue(ctx)
	}
}

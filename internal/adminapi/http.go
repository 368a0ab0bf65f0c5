package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/example/messaging-gateway/internal/sendrouter"
	"github.com/example/messaging-gateway/internal/session"
	"github.com/example/messaging-gateway/internal/util"
)

// Handler is the chi-routed HTTP binding over API.
type Handler struct {
	api    *API
	logger zerolog.Logger
}

// NewRouter builds the admin surface's HTTP router (spec §1: "the
// HTTP/REST and WebSocket admin surface (thin transport over the core
// API)"). Only the HTTP half is bound here; status-change subscription is
// available through session.Supervisor.Subscribe, and no WebSocket endpoint
// is bound anywhere in this module.
func NewRouter(api *API, logger zerolog.Logger) *chi.Mux {
	h := &Handler{api: api, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/sessions/{tenantId}", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleDisconnectSession)
		r.Post("/send", h.handleSendText)
		r.Post("/send-template", h.handleSendTemplate)
	})
	r.Post("/queue/drain", h.handleDrainQueue)

	return r
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	snap := h.api.CreateSession(tenantID)
	respondWithJSON(w, http.StatusOK, snapshotResponse(snap))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	snap, err := h.api.Session(tenantID)
	if err != nil {
		respondNotFound(w, tenantID)
		return
	}
	respondWithJSON(w, http.StatusOK, snapshotResponse(snap))
}

func (h *Handler) handleDisconnectSession(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	h.api.DisconnectSession(tenantID)
	w.WriteHeader(http.StatusNoContent)
}

type sendTextRequest struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

func (h *Handler) handleSendText(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req sendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	recipient, err := util.NormalizeE164(req.Recipient)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.api.SendText(r.Context(), tenantID, recipient, req.Content, sendrouter.Options{})
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, sendResultResponse(result))
}

type sendTemplateRequest struct {
	Recipient    string            `json:"recipient"`
	TemplateName string            `json:"templateName"`
	Language     string            `json:"language"`
	Params       map[string]string `json:"params"`
}

func (h *Handler) handleSendTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req sendTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	recipient, err := util.NormalizeE164(req.Recipient)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	templateID, err := util.ValidateTemplateID(req.TemplateName)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.api.SendTemplate(r.Context(), tenantID, recipient, templateID, req.Params, req.Language)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, sendResultResponse(result))
}

func (h *Handler) handleDrainQueue(w http.ResponseWriter, r *http.Request) {
	h.api.DrainQueue(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type snapshotPayload struct {
	TenantID          string   `json:"tenantId"`
	Status            string   `json:"status"`
	ActiveProvider    string   `json:"activeProvider,omitempty"`
	Providers         []string `json:"providers"`
	PhoneIdentity     string   `json:"phoneIdentity,omitempty"`
	QRPayload         string   `json:"qrPayload,omitempty"`
	ReconnectAttempts int      `json:"reconnectAttempts"`
}

func snapshotResponse(snap session.Snapshot) snapshotPayload {
	return snapshotPayload{
		TenantID:          snap.TenantID,
		Status:            string(snap.Status),
		ActiveProvider:    snap.ActiveProvider,
		Providers:         snap.Providers,
		PhoneIdentity:     snap.PhoneIdentity,
		QRPayload:         snap.QRPayload,
		ReconnectAttempts: snap.ReconnectAttempts,
	}
}

type sendResultPayload struct {
	MessageID string `json:"messageId"`
	Provider  string `json:"provider"`
}

func sendResultResponse(res sendrouter.Result) sendResultPayload {
	return sendResultPayload{MessageID: res.MessageID, Provider: res.Provider}
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondWithError matches spec §7's admin-surface failure shape:
// HTTP 500 with {error:<message>}.
func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}

// respondNotFound matches spec §7's stable not-found shape, returned with a
// 200 rather than a 404.
func respondNotFound(w http.ResponseWriter, tenantID string) {
	respondWithJSON(w, http.StatusOK, map[string]string{"tenantId": tenantID, "status": "not_found"})
}

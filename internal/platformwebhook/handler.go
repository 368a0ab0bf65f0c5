// Package platformwebhook implements the "platform webhook in (for P1)"
// external interface (spec §6): a verification GET handshake and an
// inbound-message POST that the upstream official platform calls directly,
// routed to the session whose P1 provider reports the matching phone
// identifier.
package platformwebhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/example/messaging-gateway/internal/provider"
)

// Router resolves an inbound webhook event to the owning session.
type Router interface {
	RouteInboundWebhook(phoneIdentity string, evt provider.InboundEvent) bool
}

// Handler implements http.Handler for the platform's webhook callback URL.
type Handler struct {
	verifyToken string
	router      Router
	logger      zerolog.Logger
	maxBodyByte int64
}

// New constructs a Handler. verifyToken is matched against the platform's
// `hub.verify_token` query parameter during the verification handshake.
func New(verifyToken string, router Router, logger zerolog.Logger) *Handler {
	return &Handler{verifyToken: verifyToken, router: router, logger: logger, maxBodyByte: 64 * 1024}
}

// ServeHTTP dispatches the verification handshake on GET and inbound
// message delivery on POST.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleInbound(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerification implements the subscribe handshake: a GET with
// `hub.mode=subscribe` and a matching `hub.verify_token` echoes
// `hub.challenge`; any mismatch is a 403.
func (h *Handler) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// inboundPayload is the platform's webhook-in message shape. Field names
// mirror the official provider's "phone_number"/"message_id" convention
// used elsewhere for this upstream (internal/provider/official).
type inboundPayload struct {
	PhoneNumber          string `json:"phone_number"`
	MessageID            string `json:"message_id"`
	From                 string `json:"from"`
	Text                 string `json:"text"`
	PushName             string `json:"push_name"`
	Timestamp            int64  `json:"timestamp"`
	IsLid                bool   `json:"is_lid"`
	LidID                string `json:"lid_id"`
	IsVoice              bool   `json:"is_voice"`
	VoiceTranscript      string `json:"voice_transcript"`
	VoiceDurationSeconds int    `json:"voice_duration_seconds"`
}

// handleInbound always responds 200 immediately, per spec §6, then hands
// the parsed event to the router asynchronously.
func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyByte))
	w.WriteHeader(http.StatusOK)
	if err != nil {
		h.logger.Warn().Err(err).Msg("platformwebhook: failed to read inbound body")
		return
	}

	var payload inboundPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn().Err(err).Msg("platformwebhook: failed to parse inbound payload")
		return
	}
	if payload.PhoneNumber == "" {
		h.logger.Warn().Msg("platformwebhook: inbound payload missing phone_number, cannot route")
		return
	}

	go h.route(payload)
}

func (h *Handler) route(payload inboundPayload) {
	evt := provider.InboundEvent{
		MessageID:            payload.MessageID,
		From:                 payload.From,
		IsOpaqueAddress:      payload.IsLid,
		Timestamp:            payload.Timestamp,
		Kind:                 "text",
		Content:              payload.Text,
		PushName:             payload.PushName,
		IsVoice:              payload.IsVoice,
		VoiceTranscript:      payload.VoiceTranscript,
		VoiceDurationSeconds: payload.VoiceDurationSeconds,
	}
	if payload.IsLid {
		evt.OpaqueAddressID = payload.LidID
	} else {
		evt.ResolvedPhone = payload.From
	}

	if !h.router.RouteInboundWebhook(payload.PhoneNumber, evt) {
		h.logger.Warn().Str("phone_number", payload.PhoneNumber).Msg("platformwebhook: no session has this phone identity active on p1")
	}
}

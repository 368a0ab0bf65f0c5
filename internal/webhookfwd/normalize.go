package webhookfwd

import (
	"github.com/google/uuid"

	"github.com/example/messaging-gateway/internal/models"
	"github.com/example/messaging-gateway/internal/provider"
)

// Normalize converts a raw provider.InboundEvent into the stable
// NormalizedInboundMessage shape the forwarder consumes (spec §3). A
// provider that reports no message ID of its own (a P2 socket message frame
// may arrive with an empty message_id) gets a generated one so
// the delivery queue always has a stable dedup key.
func Normalize(tenantID, providerID string, evt provider.InboundEvent) models.NormalizedInboundMessage {
	kind := models.MessageKind(evt.Kind)
	if kind == "" {
		kind = models.KindText
	}

	messageID := evt.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	return models.NormalizedInboundMessage{
		Provider:             providerID,
		TenantID:             tenantID,
		MessageID:            messageID,
		From:                 evt.From,
		ResolvedPhone:        evt.ResolvedPhone,
		IsOpaqueAddress:      evt.IsOpaqueAddress,
		OpaqueAddressID:      evt.OpaqueAddressID,
		Timestamp:            evt.Timestamp,
		Kind:                 kind,
		Content:              evt.Content,
		PushName:             evt.PushName,
		IsVoice:              evt.IsVoice,
		VoiceTranscript:      evt.VoiceTranscript,
		VoiceDurationSeconds: evt.VoiceDurationSeconds,
	}
}

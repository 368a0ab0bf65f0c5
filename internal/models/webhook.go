package models

// WebhookPayload is the canonical shape POSTed to the application webhook
// for every inbound message.
type WebhookPayload struct {
	Type                 string `json:"type"`
	TenantID             string `json:"tenantId"`
	Phone                *string `json:"phone"`
	Message              string `json:"message"`
	CustomerName         string `json:"customerName,omitempty"`
	WhatsAppMessageID    string `json:"whatsappMessageId"`
	IsLid                bool   `json:"isLid"`
	LidID                string `json:"lidId,omitempty"`
	IsVoiceMessage       bool   `json:"isVoiceMessage"`
	VoiceTranscription   string `json:"voiceTranscription,omitempty"`
	VoiceDurationSeconds int    `json:"voiceDurationSeconds,omitempty"`
	Provider             string `json:"provider"`
}

// FromNormalized converts a normalized inbound message into the stable
// webhook payload schema.
func FromNormalized(msg NormalizedInboundMessage) WebhookPayload {
	payload := WebhookPayload{
		Type:                 "message",
		TenantID:             msg.TenantID,
		Message:              msg.Content,
		CustomerName:         msg.PushName,
		WhatsAppMessageID:    msg.MessageID,
		IsLid:                msg.IsOpaqueAddress,
		LidID:                msg.OpaqueAddressID,
		IsVoiceMessage:       msg.IsVoice,
		VoiceTranscription:   msg.VoiceTranscript,
		VoiceDurationSeconds: msg.VoiceDurationSeconds,
		Provider:             msg.Provider,
	}
	if !msg.IsOpaqueAddress {
		phone := msg.ResolvedPhone
		payload.Phone = &phone
	}
	return payload
}

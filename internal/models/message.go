package models

import "time"

// MessageKind enumerates the normalized inbound message kinds a provider can
// report.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindImage       MessageKind = "image"
	KindVideo       MessageKind = "video"
	KindAudio       MessageKind = "audio"
	KindVoice       MessageKind = "voice"
	KindDocument    MessageKind = "document"
	KindSticker     MessageKind = "sticker"
	KindLocation    MessageKind = "location"
	KindContact     MessageKind = "contact"
	KindInteractive MessageKind = "interactive"
	KindUnknown     MessageKind = "unknown"
)

// NormalizedInboundMessage is the interface between providers and the
// Webhook Forwarder. Exactly one of ResolvedPhone / OpaqueAddressID is
// non-empty.
type NormalizedInboundMessage struct {
	Provider             string      `json:"provider"`
	TenantID             string      `json:"tenantId"`
	MessageID            string      `json:"messageId"`
	From                 string      `json:"from"`
	ResolvedPhone        string      `json:"resolvedPhone,omitempty"`
	IsOpaqueAddress      bool        `json:"isOpaqueAddress"`
	OpaqueAddressID      string      `json:"opaqueAddressId,omitempty"`
	Timestamp            int64       `json:"timestamp"`
	Kind                 MessageKind `json:"kind"`
	Content              string      `json:"content"`
	PushName             string      `json:"pushName,omitempty"`
	IsVoice              bool        `json:"isVoice"`
	VoiceTranscript      string      `json:"voiceTranscript,omitempty"`
	VoiceDurationSeconds int         `json:"voiceDurationSeconds,omitempty"`
}

// ReceivedAt returns the message timestamp as a time.Time for ordering and
// TTL comparisons.
func (m NormalizedInboundMessage) ReceivedAt() time.Time {
	return time.Unix(m.Timestamp, 0).UTC()
}

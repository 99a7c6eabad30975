// Package models provides domain types for the Relay agent gateway.
package models

// ChannelType identifies a messaging transport.
type ChannelType string

const (
	ChannelCLI      ChannelType = "cli"
	ChannelTelegram ChannelType = "telegram"

	// ChannelSystem marks synthetic messages originated by the
	// scheduler rather than a real transport.
	ChannelSystem ChannelType = "system"
)

// Attachment represents a media attachment on a message.
type Attachment struct {
	Type     string `json:"type"` // image, audio, video, document
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`

	// Data holds raw attachment bytes. It is never persisted;
	// only the most recent inbound message may carry it.
	Data []byte `json:"-"`
}

// InboundMessage is a message arriving from a channel.
// It is created by the channel adapter on arrival, consumed exactly
// once by the agent, and never mutated.
type InboundMessage struct {
	Channel      ChannelType  `json:"channel"`
	ChatID       string       `json:"chat_id"`
	SenderID     string       `json:"sender_id"`
	Content      string       `json:"content"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	ReceivedAtMs int64        `json:"received_at_ms"`
}

// OwnerKey returns the session isolation key for the message.
func (m *InboundMessage) OwnerKey() string {
	return OwnerKey(m.Channel, m.ChatID)
}

// OutboundMessage is a reply destined for a channel.
type OutboundMessage struct {
	Channel     ChannelType  `json:"channel"`
	ChatID      string       `json:"chat_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyTo     string       `json:"reply_to,omitempty"`
}

// OwnerKey builds the per-conversation isolation key used for
// sessions, cron jobs, and turn locks.
func OwnerKey(channel ChannelType, chatID string) string {
	return string(channel) + ":" + chatID
}

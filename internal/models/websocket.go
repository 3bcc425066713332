package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebSocket event names
const (
	EventPrivateMessage = "private_message"
	EventTyping         = "typing"
	EventStopTyping     = "stop_typing"
	EventMessageRead    = "message_read"
	EventMessageSent    = "message_sent"
	EventError          = "error"
)

// WSMessage is the frame envelope in both directions.
type WSMessage struct {
	Event         string          `json:"event"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// WSPrivateMessageIn is what a client sends.
type WSPrivateMessageIn struct {
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
}

// WSPrivateMessageOut is what the other participant receives.
type WSPrivateMessageOut struct {
	Content  string      `json:"content"`
	SenderID uuid.UUID   `json:"senderId"`
	Type     MessageType `json:"type"`
	MediaURL string      `json:"mediaUrl,omitempty"`
	SentAt   time.Time   `json:"sentAt"`
}

type WSTypingPayload struct {
	SenderID uuid.UUID `json:"senderId"`
}

// WSMessageSentPayload acknowledges a persisted private_message to its sender.
type WSMessageSentPayload struct {
	ID            uuid.UUID `json:"id"`
	CorrelationID string    `json:"correlationId,omitempty"`
	SentAt        time.Time `json:"sentAt"`
}

type WSErrorPayload struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeAudio MessageType = "AUDIO"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeAudio:
		return true
	}
	return false
}

// IsMedia reports whether the payload lives in object storage.
func (t MessageType) IsMedia() bool {
	return t == MessageTypeImage || t == MessageTypeAudio
}

// Message content is ciphertext when Type is TEXT and a human readable
// fallback otherwise. MediaURL is the storage file name for media types.
type Message struct {
	ID                  uuid.UUID   `json:"id" db:"id"`
	ChatID              uuid.UUID   `json:"chatId" db:"chat_id"`
	SenderID            uuid.UUID   `json:"senderId" db:"sender_id"`
	Content             string      `json:"content" db:"content"`
	Type                MessageType `json:"type" db:"type"`
	MediaURL            *string     `json:"mediaUrl" db:"media_url"`
	CheckedForProfanity bool        `json:"-" db:"checked_for_profanity"`
	CreatedAt           time.Time   `json:"sentAt" db:"created_at"`
}

// MessageSummary is the client view with content decrypted and media presigned.
type MessageSummary struct {
	ID         uuid.UUID   `json:"id"`
	SenderID   uuid.UUID   `json:"senderId"`
	SenderName string      `json:"senderName,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	MediaURL   *string     `json:"mediaUrl"`
	SentAt     time.Time   `json:"sentAt"`
}

type MessagesResponse struct {
	Messages []MessageSummary `json:"messages"`
	NextPage *int             `json:"nextPage"`
}

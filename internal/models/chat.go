package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat is a 1:1 conversation. DataKey holds the wrapped per-chat key and is
// never rewritten after creation.
type Chat struct {
	ID        uuid.UUID `json:"id" db:"id"`
	DataKey   string    `json:"-" db:"data_key"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// UserChat is a participant membership.
type UserChat struct {
	UserID            uuid.UUID `json:"userId" db:"user_id"`
	ChatID            uuid.UUID `json:"chatId" db:"chat_id"`
	HasUnreadMessages bool      `json:"hasUnreadMessages" db:"has_unread_messages"`
}

// ChatWithParticipants is a chat joined with both participants' profiles.
type ChatWithParticipants struct {
	Chat
	Participants []User
}

type ChatSummary struct {
	ID                uuid.UUID       `json:"id"`
	Recipient         BasicProfile    `json:"recipient"`
	LastMessage       *MessageSummary `json:"lastMessage"`
	HasUnreadMessages bool            `json:"hasUnreadMessages"`
}

type ChatListResponse struct {
	Chats             []ChatSummary `json:"chats"`
	HasUnreadMessages bool          `json:"hasUnreadMessages"`
	NextPage          *int          `json:"nextPage"`
}

type CreateChatResponse struct {
	ChatID uuid.UUID `json:"chatId"`
}

type LazyLoad struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

// Package chat authenticates chat connections and relays their events.
package chat

import (
	"path"

	"github.com/google/uuid"
)

// Participant is what a session knows about one side of a chat.
type Participant struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Image     string
	PushToken string
}

// Session is the authenticated state of one connection. It is built once by
// the Gate and never modified, so it can be shared by the read and write
// goroutines of a socket.
type Session struct {
	chatID    uuid.UUID
	sender    Participant
	recipient Participant
	key       []byte
}

// NewSession copies key so callers cannot mutate it afterwards.
func NewSession(chatID uuid.UUID, sender, recipient Participant, key []byte) *Session {
	k := make([]byte, len(key))
	copy(k, key)
	return &Session{chatID: chatID, sender: sender, recipient: recipient, key: k}
}

func (s *Session) ChatID() uuid.UUID      { return s.chatID }
func (s *Session) Sender() Participant    { return s.sender }
func (s *Session) Recipient() Participant { return s.recipient }

// Key returns the unwrapped data key of the chat.
func (s *Session) Key() []byte { return s.key }

// Storage locations of chat and profile media.
func chatImagesDir(chatID uuid.UUID) string { return path.Join("chats", chatID.String(), "images") }
func chatAudioDir(chatID uuid.UUID) string  { return path.Join("chats", chatID.String(), "audio") }
// UserImagesDir is where profile images live.
func UserImagesDir(userID uuid.UUID) string { return path.Join("users", userID.String()) }

// MediaDir is the storage directory of a chat's media of the given kind.
func MediaDir(chatID uuid.UUID, image bool) string {
	if image {
		return chatImagesDir(chatID)
	}
	return chatAudioDir(chatID)
}

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yakka/backend/internal/apperrors"
	"github.com/yakka/backend/internal/chat"
	"github.com/yakka/backend/internal/envelope"
	"github.com/yakka/backend/internal/models"
	"github.com/yakka/backend/internal/observability"
	"github.com/yakka/backend/internal/repository"
)

type ChatStore interface {
	FindDirectChat(ctx context.Context, userA, userB uuid.UUID) (uuid.UUID, bool, error)
	CreateDirectChat(ctx context.Context, userA, userB uuid.UUID, wrappedKey string) (uuid.UUID, bool, error)
	GetChatWithParticipants(ctx context.Context, chatID, userID uuid.UUID) (*models.ChatWithParticipants, error)
	SetUnread(ctx context.Context, chatID, userID uuid.UUID, unread bool) error
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]repository.ChatListItem, error)
}

type MessageLister interface {
	ListByChat(ctx context.Context, chatID uuid.UUID, limit, offset int) ([]models.Message, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type KeyVault interface {
	CreateWrappedKey() (string, error)
	Unwrap(wrapped string) ([]byte, error)
}

type MediaLocator interface {
	PresignGet(ctx context.Context, dir, fileName string) (string, error)
	PublicURL(dir, fileName string) string
}

type ChatHandler struct {
	chats    ChatStore
	messages MessageLister
	users    UserLookup
	vault    KeyVault
	media    MediaLocator
	log      *observability.Logger
}

func NewChatHandler(chats ChatStore, messages MessageLister, users UserLookup, vault KeyVault, media MediaLocator) *ChatHandler {
	return &ChatHandler{
		chats:    chats,
		messages: messages,
		users:    users,
		vault:    vault,
		media:    media,
		log:      observability.GlobalLogger.With("chat_handler"),
	}
}

// CreateChat returns the 1:1 chat with another user, creating it and its
// wrapped data key when none exists yet.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	otherID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid user ID")
		return
	}
	if otherID == uid {
		ErrorResponse(c, http.StatusBadRequest, "Cannot create a chat with yourself")
		return
	}

	ctx := c.Request.Context()
	if _, err := h.users.GetByID(ctx, otherID); err != nil {
		RespondError(c, err, "Failed to create chat")
		return
	}

	chatID, found, err := h.chats.FindDirectChat(ctx, uid, otherID)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to find chat", slog.String("error", err.Error()))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create chat")
		return
	}
	if found {
		c.JSON(http.StatusOK, models.CreateChatResponse{ChatID: chatID})
		return
	}

	wrapped, err := h.vault.CreateWrappedKey()
	if err != nil {
		h.log.ErrorContext(ctx, "failed to create chat key", slog.String("error", err.Error()))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create chat")
		return
	}

	chatID, created, err := h.chats.CreateDirectChat(ctx, uid, otherID, wrapped)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to create chat", slog.String("error", err.Error()))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create chat")
		return
	}
	if !created {
		c.JSON(http.StatusOK, models.CreateChatResponse{ChatID: chatID})
		return
	}

	c.JSON(http.StatusCreated, models.CreateChatResponse{ChatID: chatID})
}

// GetChats lists the caller's chats that have messages.
func (h *ChatHandler) GetChats(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	q, err := bindPage(c)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	items, err := h.chats.ListForUser(ctx, uid, q.Limit, q.Page*q.Limit)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to list chats", slog.String("error", err.Error()))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get chats")
		return
	}

	resp := models.ChatListResponse{Chats: []models.ChatSummary{}, NextPage: nextPage(len(items), q)}
	for _, item := range items {
		key, err := h.vault.Unwrap(item.DataKey)
		if err != nil {
			h.log.ErrorContext(ctx, "failed to unwrap chat key", slog.String("chat_id", item.ChatID.String()))
			continue
		}

		last := h.summarize(ctx, item.ChatID, key, item.LastMessage)
		if last.SenderID == uid {
			last.SenderName = "You"
		} else {
			last.SenderName = item.Recipient.DisplayFirstName()
		}

		resp.Chats = append(resp.Chats, models.ChatSummary{
			ID:                item.ChatID,
			Recipient:         h.profile(item.Recipient),
			LastMessage:       &last,
			HasUnreadMessages: item.HasUnread,
		})
		if item.HasUnread {
			resp.HasUnreadMessages = true
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GetChat returns a page of messages, newest first.
func (h *ChatHandler) GetChat(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	chatID, err := uuid.Parse(c.Param("chatId"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid chat ID")
		return
	}
	q, err := bindPage(c)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	chatRow, err := h.chats.GetChatWithParticipants(ctx, chatID, uid)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			ErrorResponse(c, http.StatusForbidden, "You are not a member of this chat")
			return
		}
		h.log.ErrorContext(ctx, "failed to load chat", slog.String("error", err.Error()))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get chat")
		return
	}

	key, err := h.vault.Unwrap(chatRow.DataKey)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to unwrap chat key", slog.String("chat_id", chatID.String()))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get chat")
		return
	}

	msgs, err := h.messages.ListByChat(ctx, chatID, q.Limit, q.Page*q.Limit)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to list messages", slog.String("error", err.Error()))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get messages")
		return
	}

	out := make([]models.MessageSummary, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, h.summarize(ctx, chatID, key, m))
	}

	c.JSON(http.StatusOK, models.MessagesResponse{Messages: out, NextPage: nextPage(len(msgs), q)})
}

// MarkRead clears the caller's unread flag on a chat.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	chatID, err := uuid.Parse(c.Param("chatId"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid chat ID")
		return
	}

	if err := h.chats.SetUnread(c.Request.Context(), chatID, uid, false); err != nil {
		RespondError(c, err, "Failed to mark chat as read")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Chat marked as read"})
}

// summarize decrypts TEXT content and presigns media. A message that cannot
// be decrypted is returned with empty content rather than failing the page.
func (h *ChatHandler) summarize(ctx context.Context, chatID uuid.UUID, key []byte, m models.Message) models.MessageSummary {
	s := models.MessageSummary{
		ID:       m.ID,
		SenderID: m.SenderID,
		Content:  m.Content,
		Type:     m.Type,
		SentAt:   m.CreatedAt,
	}

	switch {
	case m.Type == models.MessageTypeText:
		plain, err := envelope.Decrypt(m.Content, key)
		if err != nil {
			h.log.WarnContext(ctx, "failed to decrypt message", slog.String("message_id", m.ID.String()))
			plain = ""
		}
		s.Content = plain

	case m.Type.IsMedia() && m.MediaURL != nil:
		url, err := h.media.PresignGet(ctx, chat.MediaDir(chatID, m.Type == models.MessageTypeImage), *m.MediaURL)
		if err != nil {
			h.log.WarnContext(ctx, "failed to presign media", slog.String("message_id", m.ID.String()))
			break
		}
		s.MediaURL = &url
	}
	return s
}

func (h *ChatHandler) profile(u models.User) models.BasicProfile {
	p := models.BasicProfile{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName}
	if u.ImageName != nil && *u.ImageName != "" {
		url := h.media.PublicURL(chat.UserImagesDir(u.ID), *u.ImageName)
		p.Image = &url
	}
	return p
}

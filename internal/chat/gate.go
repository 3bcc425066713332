package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/yakka/backend/internal/apperrors"
	"github.com/yakka/backend/internal/auth"
	"github.com/yakka/backend/internal/models"
	"github.com/yakka/backend/internal/observability"
)

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type SessionStore interface {
	IsSessionActive(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

type ChatStore interface {
	GetChatWithParticipants(ctx context.Context, chatID, userID uuid.UUID) (*models.ChatWithParticipants, error)
}

type KeyUnwrapper interface {
	Unwrap(wrapped string) ([]byte, error)
}

type ImageLocator interface {
	PublicURL(dir, fileName string) string
}

// Gate runs the two stage chat handshake: who is connecting, then whether
// they belong to the chat they asked for.
type Gate struct {
	tokens   TokenVerifier
	sessions SessionStore
	chats    ChatStore
	vault    KeyUnwrapper
	images   ImageLocator
	log      *observability.Logger
}

func NewGate(tokens TokenVerifier, sessions SessionStore, chats ChatStore, vault KeyUnwrapper, images ImageLocator) *Gate {
	return &Gate{
		tokens:   tokens,
		sessions: sessions,
		chats:    chats,
		vault:    vault,
		images:   images,
		log:      observability.GlobalLogger.With("chat_gate"),
	}
}

// Authenticate returns an invalid_token error when stage one fails and an
// invalid_chat_id error when stage two fails. A key that cannot be unwrapped
// is a crypto error.
func (g *Gate) Authenticate(ctx context.Context, token, chatID string) (*Session, error) {
	userID, err := g.identify(ctx, token)
	if err != nil {
		observability.HandshakeRejections.WithLabelValues(string(apperrors.CodeInvalidToken)).Inc()
		return nil, err
	}

	sess, err := g.authorize(ctx, userID, chatID)
	if err != nil {
		observability.HandshakeRejections.WithLabelValues(string(apperrors.CodeOf(err))).Inc()
		return nil, err
	}
	return sess, nil
}

func (g *Gate) identify(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, apperrors.Auth(errors.New("missing token"))
	}
	claims, err := g.tokens.Verify(token)
	if err != nil {
		return uuid.Nil, apperrors.Auth(err)
	}
	active, err := g.sessions.IsSessionActive(ctx, claims.SessionID)
	if err != nil {
		return uuid.Nil, apperrors.Auth(err)
	}
	if !active {
		return uuid.Nil, apperrors.Auth(errors.New("session revoked or expired"))
	}
	return claims.UserID, nil
}

func (g *Gate) authorize(ctx context.Context, userID uuid.UUID, rawChatID string) (*Session, error) {
	if rawChatID == "" {
		return nil, apperrors.Authorization(errors.New("missing chat id"))
	}
	chatID, err := uuid.Parse(rawChatID)
	if err != nil {
		return nil, apperrors.Authorization(err)
	}

	chat, err := g.chats.GetChatWithParticipants(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Authorization(err)
		}
		g.log.ErrorContext(ctx, "failed to load chat", slog.String("chat_id", chatID.String()), slog.String("error", err.Error()))
		return nil, apperrors.Storage("failed to load chat", err)
	}

	var sender, recipient *models.User
	for i := range chat.Participants {
		p := &chat.Participants[i]
		if p.ID == userID {
			sender = p
		} else if recipient == nil {
			recipient = p
		}
	}
	if sender == nil || recipient == nil {
		return nil, apperrors.Authorization(errors.New("chat is missing a participant"))
	}

	key, err := g.vault.Unwrap(chat.DataKey)
	if err != nil {
		g.log.ErrorContext(ctx, "failed to unwrap chat key", slog.String("chat_id", chatID.String()))
		return nil, err
	}

	return NewSession(chatID, g.participant(sender), g.participant(recipient), key), nil
}

func (g *Gate) participant(u *models.User) Participant {
	p := Participant{
		ID:        u.ID,
		FirstName: deref(u.FirstName),
		LastName:  deref(u.LastName),
		PushToken: deref(u.PushNotificationToken),
	}
	if u.ImageName != nil && *u.ImageName != "" && g.images != nil {
		p.Image = g.images.PublicURL(UserImagesDir(u.ID), *u.ImageName)
	}
	return p
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

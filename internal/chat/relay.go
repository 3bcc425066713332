package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yakka/backend/internal/apperrors"
	"github.com/yakka/backend/internal/envelope"
	"github.com/yakka/backend/internal/models"
	"github.com/yakka/backend/internal/observability"
	"github.com/yakka/backend/internal/push"
)

const pushPreviewRunes = 20

type MessageStore interface {
	Create(ctx context.Context, message *models.Message) error
}

type UnreadStore interface {
	SetUnread(ctx context.Context, chatID, userID uuid.UUID, unread bool) error
}

type MediaStore interface {
	Upload(ctx context.Context, data []byte, dir, fileName, contentType string) error
	PresignGet(ctx context.Context, dir, fileName string) (string, error)
}

// Emitter delivers an event to every socket in a chat room except those
// belonging to exceptUser.
type Emitter interface {
	Emit(ctx context.Context, chatID, exceptUser uuid.UUID, event string, payload any) error
}

type Notifier interface {
	Send(ctx context.Context, notifications []push.Notification)
}

// TypingTracker mirrors typing state outside the process. Optional.
type TypingTracker interface {
	SetTyping(ctx context.Context, chatID, userID uuid.UUID) error
	RemoveTyping(ctx context.Context, chatID, userID uuid.UUID) error
}

// SendInput is one private_message event.
type SendInput struct {
	Content       string
	Type          models.MessageType
	CorrelationID string
}

type Relay struct {
	messages MessageStore
	unread   UnreadStore
	media    MediaStore
	emitter  Emitter
	notifier Notifier
	typing   TypingTracker
	scheme   envelope.Scheme
	log      *observability.Logger
	now      func() time.Time
}

type RelayOption func(*Relay)

// WithTypingTracker mirrors typing events into t.
func WithTypingTracker(t TypingTracker) RelayOption {
	return func(r *Relay) { r.typing = t }
}

// WithScheme selects the encoding new TEXT messages are written with.
func WithScheme(s envelope.Scheme) RelayOption {
	return func(r *Relay) { r.scheme = s }
}

func NewRelay(messages MessageStore, unread UnreadStore, media MediaStore, emitter Emitter, notifier Notifier, opts ...RelayOption) *Relay {
	r := &Relay{
		messages: messages,
		unread:   unread,
		media:    media,
		emitter:  emitter,
		notifier: notifier,
		scheme:   envelope.SchemeV2,
		log:      observability.GlobalLogger.With("chat_relay"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SendMessage stores the message, relays it to the rest of the room, flags
// the recipient's chat unread and pushes a notification. The message is
// persisted before anyone sees it. Relay and push failures are only logged.
func (r *Relay) SendMessage(ctx context.Context, sess *Session, in SendInput) (*models.Message, error) {
	if !in.Type.Valid() {
		return nil, apperrors.InvalidArg(fmt.Sprintf("unknown message type %q", in.Type))
	}
	if in.Content == "" {
		return nil, apperrors.InvalidArg("content is required")
	}

	sender := sess.Sender()
	msg := &models.Message{
		ID:        uuid.New(),
		ChatID:    sess.ChatID(),
		SenderID:  sender.ID,
		Type:      in.Type,
		CreatedAt: r.now().UTC(),
	}

	out := models.WSPrivateMessageOut{
		SenderID: sender.ID,
		Type:     in.Type,
		SentAt:   msg.CreatedAt,
	}

	switch in.Type {
	case models.MessageTypeText:
		ct, err := envelope.EncryptWith(r.scheme, in.Content, sess.Key())
		if err != nil {
			return nil, err
		}
		msg.Content = ct
		out.Content = in.Content
	default:
		fileName, url, err := r.uploadMedia(ctx, sess, in)
		if err != nil {
			return nil, err
		}
		msg.Content = mediaFallback(in.Type, sender.FirstName)
		msg.MediaURL = &fileName
		out.Content = msg.Content
		out.MediaURL = url
	}

	if err := r.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	// A stored message still flags unread and pushes when the live relay fails.
	if err := r.emitter.Emit(ctx, sess.ChatID(), sender.ID, models.EventPrivateMessage, out); err != nil {
		observability.RelayFailures.Inc()
		r.log.WarnContext(ctx, "failed to relay message",
			slog.String("chat_id", sess.ChatID().String()),
			slog.String("message_id", msg.ID.String()),
			slog.String("error", err.Error()),
		)
	} else {
		observability.MessagesRelayed.WithLabelValues(string(in.Type)).Inc()
	}

	recipient := sess.Recipient()
	if err := r.unread.SetUnread(ctx, sess.ChatID(), recipient.ID, true); err != nil {
		return msg, fmt.Errorf("failed to flag unread: %w", err)
	}

	r.notify(ctx, sess, in, msg.Content)
	return msg, nil
}

func (r *Relay) uploadMedia(ctx context.Context, sess *Session, in SendInput) (fileName, url string, err error) {
	data, err := decodeMedia(in.Content)
	if err != nil {
		return "", "", err
	}

	image := in.Type == models.MessageTypeImage
	dir := MediaDir(sess.ChatID(), image)
	ext, contentType := ".m4a", "audio/m4a"
	if image {
		ext, contentType = ".jpeg", "image/jpeg"
	}
	fileName = uuid.NewString() + ext

	if err := r.media.Upload(ctx, data, dir, fileName, contentType); err != nil {
		return "", "", err
	}
	url, err = r.media.PresignGet(ctx, dir, fileName)
	if err != nil {
		return "", "", err
	}
	return fileName, url, nil
}

// decodeMedia accepts raw base64 or a data URL.
func decodeMedia(content string) ([]byte, error) {
	if strings.HasPrefix(content, "data:") {
		if i := strings.Index(content, ";base64,"); i >= 0 {
			content = content[i+len(";base64,"):]
		}
	}
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, apperrors.InvalidArg("media content is not valid base64")
	}
	if len(data) == 0 {
		return nil, apperrors.InvalidArg("media content is empty")
	}
	return data, nil
}

func mediaFallback(t models.MessageType, firstName string) string {
	if t == models.MessageTypeImage {
		if firstName != "" {
			return firstName + " sent an image"
		}
		return "Image"
	}
	if firstName != "" {
		return firstName + " sent a voice message"
	}
	return "Voice message"
}

// PushPreview builds the notification body for a TEXT message.
func PushPreview(firstName, plaintext string) string {
	name := firstName
	if name == "" {
		name = "New Message"
	}
	runes := []rune(plaintext)
	if len(runes) > pushPreviewRunes {
		return name + ": " + string(runes[:pushPreviewRunes]) + "..."
	}
	return name + ": " + plaintext
}

func (r *Relay) notify(ctx context.Context, sess *Session, in SendInput, stored string) {
	recipient := sess.Recipient()
	if recipient.PushToken == "" || r.notifier == nil {
		return
	}

	sender := sess.Sender()
	body := stored
	if in.Type == models.MessageTypeText {
		body = PushPreview(sender.FirstName, in.Content)
	}

	r.notifier.Send(ctx, []push.Notification{{
		To:   recipient.PushToken,
		Body: body,
		Data: map[string]any{
			"chatId": sess.ChatID().String(),
			"type":   "NEW_MESSAGE",
			"friend": map[string]any{
				"id":        sender.ID.String(),
				"firstName": sender.FirstName,
				"lastName":  sender.LastName,
				"image":     sender.Image,
			},
		},
	}})
}

// Typing relays typing or stop_typing to the rest of the room.
func (r *Relay) Typing(ctx context.Context, sess *Session, started bool) error {
	sender := sess.Sender().ID
	event := models.EventStopTyping
	if started {
		event = models.EventTyping
	}

	if r.typing != nil {
		var err error
		if started {
			err = r.typing.SetTyping(ctx, sess.ChatID(), sender)
		} else {
			err = r.typing.RemoveTyping(ctx, sess.ChatID(), sender)
		}
		if err != nil {
			r.log.WarnContext(ctx, "failed to track typing state", slog.String("error", err.Error()))
		}
	}

	return r.emitter.Emit(ctx, sess.ChatID(), sender, event, models.WSTypingPayload{SenderID: sender})
}

// MarkRead clears the caller's own unread flag.
func (r *Relay) MarkRead(ctx context.Context, sess *Session) error {
	if err := r.unread.SetUnread(ctx, sess.ChatID(), sess.Sender().ID, false); err != nil {
		return fmt.Errorf("failed to mark chat read: %w", err)
	}
	return nil
}

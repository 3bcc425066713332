package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yakka/backend/internal/apperrors"
	"github.com/yakka/backend/internal/database"
	"github.com/yakka/backend/internal/models"
)

type ChatRepository struct {
	db *database.DB
}

func NewChatRepository(db *database.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// ChatListItem is one row of a user's chat list.
type ChatListItem struct {
	ChatID      uuid.UUID
	DataKey     string
	HasUnread   bool
	Recipient   models.User
	LastMessage models.Message
}

const findDirectChatQuery = `
	SELECT a.chat_id
	FROM user_chats a
	INNER JOIN user_chats b ON a.chat_id = b.chat_id
	WHERE a.user_id = $1 AND b.user_id = $2
	LIMIT 1
`

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findDirectChat(ctx context.Context, q rowQuerier, userA, userB uuid.UUID) (uuid.UUID, bool, error) {
	var chatID uuid.UUID
	err := q.QueryRowContext(ctx, findDirectChatQuery, userA, userB).Scan(&chatID)
	if err == sql.ErrNoRows {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to find chat: %w", err)
	}
	return chatID, true, nil
}

// FindDirectChat returns the chat shared by exactly these two users, if any.
func (r *ChatRepository) FindDirectChat(ctx context.Context, userA, userB uuid.UUID) (uuid.UUID, bool, error) {
	return findDirectChat(ctx, r.db, userA, userB)
}

// pairLockKey is the same for (a, b) and (b, a).
func pairLockKey(userA, userB uuid.UUID) string {
	a, b := userA.String(), userB.String()
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// CreateDirectChat inserts the chat and both memberships in one transaction.
// The pair is serialized with a transaction advisory lock and re-checked
// under it, so concurrent callers share one chat. created is false when an
// existing chat id is returned.
func (r *ChatRepository) CreateDirectChat(ctx context.Context, userA, userB uuid.UUID, wrappedKey string) (uuid.UUID, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, pairLockKey(userA, userB)); err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to lock chat pair: %w", err)
	}

	existing, found, err := findDirectChat(ctx, tx, userA, userB)
	if err != nil {
		return uuid.Nil, false, err
	}
	if found {
		return existing, false, nil
	}

	chatID := uuid.New()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (id, data_key, created_at) VALUES ($1, $2, $3)`,
		chatID, wrappedKey, time.Now(),
	); err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to create chat: %w", err)
	}

	for _, userID := range []uuid.UUID{userA, userB} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_chats (user_id, chat_id) VALUES ($1, $2)`,
			userID, chatID,
		); err != nil {
			return uuid.Nil, false, fmt.Errorf("failed to add chat member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to commit chat: %w", err)
	}
	return chatID, true, nil
}

// GetChatWithParticipants loads the chat, its wrapped key and every
// participant profile, but only when userID is one of the participants.
func (r *ChatRepository) GetChatWithParticipants(ctx context.Context, chatID, userID uuid.UUID) (*models.ChatWithParticipants, error) {
	query := `
		SELECT c.id, c.data_key, c.created_at,
			u.id, u.email, u.first_name, u.last_name, u.image_name, u.push_notification_token
		FROM chats c
		INNER JOIN user_chats uc ON uc.chat_id = c.id
		INNER JOIN users u ON u.id = uc.user_id
		WHERE c.id = $1
		AND EXISTS (SELECT 1 FROM user_chats m WHERE m.chat_id = c.id AND m.user_id = $2)
	`

	rows, err := r.db.QueryContext(ctx, query, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	defer rows.Close()

	var chat *models.ChatWithParticipants
	for rows.Next() {
		var c models.Chat
		var u models.User
		err := rows.Scan(
			&c.ID,
			&c.DataKey,
			&c.CreatedAt,
			&u.ID,
			&u.Email,
			&u.FirstName,
			&u.LastName,
			&u.ImageName,
			&u.PushNotificationToken,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		if chat == nil {
			chat = &models.ChatWithParticipants{Chat: c}
		}
		chat.Participants = append(chat.Participants, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat: %w", err)
	}
	if chat == nil {
		return nil, apperrors.NotFound("chat not found")
	}

	return chat, nil
}

// SetUnread sets the unread flag of one member.
func (r *ChatRepository) SetUnread(ctx context.Context, chatID, userID uuid.UUID, unread bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_chats SET has_unread_messages = $3 WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID, unread,
	)
	if err != nil {
		return fmt.Errorf("failed to update unread flag: %w", err)
	}
	return nil
}

// HasUnread reports whether any of the user's chats has unread messages.
func (r *ChatRepository) HasUnread(ctx context.Context, userID uuid.UUID) (bool, error) {
	var unread bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_chats WHERE user_id = $1 AND has_unread_messages)`, userID,
	).Scan(&unread)
	if err != nil {
		return false, fmt.Errorf("failed to check unread: %w", err)
	}
	return unread, nil
}

// ListForUser returns the user's chats that have at least one message,
// most recently active first.
func (r *ChatRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]ChatListItem, error) {
	query := `
		SELECT c.id, c.data_key, uc.has_unread_messages,
			u.id, u.first_name, u.last_name, u.image_name,
			m.id, m.sender_id, m.content, m.type, m.media_url, m.created_at
		FROM user_chats uc
		INNER JOIN chats c ON c.id = uc.chat_id
		INNER JOIN user_chats other ON other.chat_id = c.id AND other.user_id <> uc.user_id
		INNER JOIN users u ON u.id = other.user_id
		INNER JOIN LATERAL (
			SELECT id, sender_id, content, type, media_url, created_at
			FROM messages
			WHERE chat_id = c.id
			ORDER BY created_at DESC
			LIMIT 1
		) m ON TRUE
		WHERE uc.user_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	items := []ChatListItem{}
	for rows.Next() {
		var item ChatListItem
		err := rows.Scan(
			&item.ChatID,
			&item.DataKey,
			&item.HasUnread,
			&item.Recipient.ID,
			&item.Recipient.FirstName,
			&item.Recipient.LastName,
			&item.Recipient.ImageName,
			&item.LastMessage.ID,
			&item.LastMessage.SenderID,
			&item.LastMessage.Content,
			&item.LastMessage.Type,
			&item.LastMessage.MediaURL,
			&item.LastMessage.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		item.LastMessage.ChatID = item.ChatID
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}

	return items, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/yakka/backend/internal/database"
	"github.com/yakka/backend/internal/models"
	"github.com/yakka/backend/internal/observability"
)

// WordList names one of the two moderation word tables.
type WordList string

const (
	FlaggedWords WordList = "flagged_words"
	AutoBanWords WordList = "auto_ban_words"
)

func (w WordList) valid() bool {
	return w == FlaggedWords || w == AutoBanWords
}

type ModerationRepository struct {
	db  *database.DB
	log *observability.RepoLogger
}

func NewModerationRepository(db *database.DB) *ModerationRepository {
	return &ModerationRepository{db: db, log: observability.NewRepoLogger("moderation")}
}

// AddWord adds a word to a moderation list
func (r *ModerationRepository) AddWord(ctx context.Context, list WordList, word string) error {
	if !list.valid() {
		return fmt.Errorf("unknown word list %q", list)
	}
	query := fmt.Sprintf(`INSERT INTO %s (word) VALUES ($1) ON CONFLICT (word) DO NOTHING`, list)
	if _, err := r.db.ExecContext(ctx, query, word); err != nil {
		return fmt.Errorf("failed to add word: %w", err)
	}
	return nil
}

func (r *ModerationRepository) RemoveWord(ctx context.Context, list WordList, word string) error {
	if !list.valid() {
		return fmt.Errorf("unknown word list %q", list)
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE word = $1`, list)
	if _, err := r.db.ExecContext(ctx, query, word); err != nil {
		return fmt.Errorf("failed to remove word: %w", err)
	}
	return nil
}

// GetWordLists reads both lists. Called at the start of every sweep.
func (r *ModerationRepository) GetWordLists(ctx context.Context) (*models.WordLists, error) {
	flagged, err := r.words(ctx, FlaggedWords)
	if err != nil {
		return nil, err
	}
	autoBan, err := r.words(ctx, AutoBanWords)
	if err != nil {
		return nil, err
	}
	return &models.WordLists{Flagged: flagged, AutoBan: autoBan}, nil
}

func (r *ModerationRepository) words(ctx context.Context, list WordList) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT word FROM %s`, list))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", list, err)
	}
	defer rows.Close()

	res := []string{}
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("failed to scan word: %w", err)
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// FetchUnscannedTextMessages returns unscanned TEXT messages with the wrapped
// key of their chat and the sender's push token.
func (r *ModerationRepository) FetchUnscannedTextMessages(ctx context.Context) ([]models.ScanCandidate, error) {
	query := `
		SELECT m.id, m.chat_id, m.sender_id, m.content, c.data_key, u.push_notification_token
		FROM messages m
		INNER JOIN chats c ON c.id = m.chat_id
		INNER JOIN users u ON u.id = m.sender_id
		WHERE m.checked_for_profanity = FALSE AND m.type = 'TEXT'
		ORDER BY m.created_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unscanned messages: %w", err)
	}
	defer rows.Close()

	res := []models.ScanCandidate{}
	for rows.Next() {
		var c models.ScanCandidate
		if err := rows.Scan(&c.MessageID, &c.ChatID, &c.SenderID, &c.Content, &c.WrappedKey, &c.SenderPushToken); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return res, nil
}

// ApplySweep writes a sweep outcome atomically and returns the users that
// were banned by this call (users already banned are not returned).
func (r *ModerationRepository) ApplySweep(ctx context.Context, out models.SweepOutcome) ([]uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET checked_for_profanity = TRUE WHERE id = ANY($1::uuid[])`,
		pq.Array(uuidStrings(out.ScannedIDs)),
	)
	if err != nil {
		r.log.LogError(ctx, err, "mark_scanned")
		return nil, fmt.Errorf("failed to mark messages scanned: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		r.log.LogUpdate(ctx, "mark_scanned", n)
	}

	if len(out.FlaggedIDs) > 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO flagged_messages (message_id)
			SELECT unnest($1::uuid[])
			ON CONFLICT (message_id) DO NOTHING
		`, pq.Array(uuidStrings(out.FlaggedIDs)))
		if err != nil {
			return nil, fmt.Errorf("failed to flag messages: %w", err)
		}
	}

	banned := []uuid.UUID{}
	if len(out.BanUserIDs) > 0 {
		ids := pq.Array(uuidStrings(out.BanUserIDs))

		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ANY($1::uuid[])`, ids); err != nil {
			return nil, fmt.Errorf("failed to revoke sessions: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			INSERT INTO banned_users (user_id, reason)
			SELECT unnest($1::uuid[]), $2
			ON CONFLICT (user_id) DO NOTHING
			RETURNING user_id
		`, ids, models.AutoBanReason)
		if err != nil {
			return nil, fmt.Errorf("failed to ban users: %w", err)
		}
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan banned user: %w", err)
			}
			banned = append(banned, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate banned users: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE yakkas SET status = 'DECLINED'
			WHERE (organiser_id = ANY($1::uuid[]) OR invitee_id = ANY($1::uuid[]))
			AND status IN ('PENDING', 'ACCEPTED')
			AND date > $2
		`, ids, out.Now)
		if err != nil {
			return nil, fmt.Errorf("failed to decline meetups: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sweep: %w", err)
	}
	return banned, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

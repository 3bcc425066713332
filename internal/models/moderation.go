package models

import (
	"time"

	"github.com/google/uuid"
)

// AutoBanReason is recorded on every sweep-created ban.
const AutoBanReason = "Auto banned for saying a banned word"

// FlaggedMessage marks a message that matched the soft word list.
type FlaggedMessage struct {
	ID        uuid.UUID `json:"id" db:"id"`
	MessageID uuid.UUID `json:"messageId" db:"message_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// BannedUser is a permanent ban.
type BannedUser struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"userId" db:"user_id"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// WordLists is the moderation configuration read at the start of a sweep.
type WordLists struct {
	Flagged []string
	AutoBan []string
}

// ScanCandidate is an unscanned TEXT message joined with what the sweep
// needs to decrypt it and to notify its sender.
type ScanCandidate struct {
	MessageID       uuid.UUID
	ChatID          uuid.UUID
	SenderID        uuid.UUID
	Content         string
	WrappedKey      string
	SenderPushToken *string
}

// SweepOutcome is what the sweep writes in its single transaction.
type SweepOutcome struct {
	ScannedIDs []uuid.UUID
	FlaggedIDs []uuid.UUID
	BanUserIDs []uuid.UUID
	Now        time.Time
}

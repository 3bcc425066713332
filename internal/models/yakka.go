package models

import (
	"time"

	"github.com/google/uuid"
)

type YakkaStatus string

const (
	YakkaPending   YakkaStatus = "PENDING"
	YakkaAccepted  YakkaStatus = "ACCEPTED"
	YakkaDeclined  YakkaStatus = "DECLINED"
	YakkaCompleted YakkaStatus = "COMPLETED"
)

// Yakka is a 1:1 meetup. Only the auto-ban cascade touches it here.
type Yakka struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	OrganiserID uuid.UUID   `json:"organiserId" db:"organiser_id"`
	InviteeID   uuid.UUID   `json:"inviteeId" db:"invitee_id"`
	Date        time.Time   `json:"date" db:"date"`
	Status      YakkaStatus `json:"status" db:"status"`
	CreatedAt   time.Time   `json:"createdAt" db:"created_at"`
}

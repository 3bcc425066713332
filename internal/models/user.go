package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                    uuid.UUID `json:"id" db:"id"`
	Email                 string    `json:"email" db:"email"`
	FirstName             *string   `json:"firstName,omitempty" db:"first_name"`
	LastName              *string   `json:"lastName,omitempty" db:"last_name"`
	ImageName             *string   `json:"-" db:"image_name"`
	Image                 *string   `json:"image,omitempty"`
	PasswordHash          string    `json:"-" db:"password_hash"`
	PushNotificationToken *string   `json:"-" db:"push_notification_token"`
	CreatedAt             time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time `json:"updatedAt" db:"updated_at"`
}

// Validate checks basic user fields
func (u *User) Validate() error {
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("invalid email")
	}
	if u.FirstName != nil && len(*u.FirstName) > 100 {
		return fmt.Errorf("first name length invalid")
	}
	return nil
}

// DisplayFirstName returns the first name or "" when unset.
func (u *User) DisplayFirstName() string {
	if u.FirstName == nil {
		return ""
	}
	return *u.FirstName
}

// Session backs every issued token; deleting the row revokes the token.
type Session struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"userId" db:"user_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}

// BasicProfile is the public view of another user.
type BasicProfile struct {
	ID        uuid.UUID `json:"id"`
	FirstName *string   `json:"firstName"`
	LastName  *string   `json:"lastName"`
	Image     *string   `json:"image"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type CreateUserRequest struct {
	Email     string  `json:"email" binding:"required,email"`
	Password  string  `json:"password" binding:"required,min=8"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

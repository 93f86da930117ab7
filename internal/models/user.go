package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a platform account's default room role, applied when it joins a
// room unless the room's own member-role override says otherwise.
type Role string

const (
	RoleHost        Role = "host"
	RolePresenter   Role = "presenter"
	RoleParticipant Role = "participant"
)

// User is a registered platform account: the identity behind a JWT, used to
// authenticate a signaling websocket connection before it can join a room.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Password     string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserPublic is User without sensitive fields, for API responses.
type UserPublic struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

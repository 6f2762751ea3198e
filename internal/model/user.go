package model

import (
	"time"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
)

// User is the internal user record. RowID is the storage-assigned id; it is
// carried for sync tooling only and is excluded from JSON so it cannot leak
// into clients or comparisons. All messaging joins use Subject.
type User struct {
	RowID       int64        `json:"-"`
	Subject     identity.Ref `json:"subject"`
	DisplayName string       `json:"display_name"`
	Email       string       `json:"email"`
	CreatedAt   time.Time    `json:"created_at"`
}

// UserPublic is the shape exposed on message senders and member lists.
type UserPublic struct {
	Subject     identity.Ref `json:"subject"`
	DisplayName string       `json:"display_name"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{Subject: u.Subject, DisplayName: u.DisplayName}
}

package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the minimal identity record the bidding core stamps onto
// ledger and audit rows. Account management lives elsewhere.
type User struct {
	gorm.Model

	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username string    `gorm:"type:varchar(255);not null;<-:create"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AdminAction enumerates the privileged corrections an operator may
// apply to a ledger entry.
type AdminAction string

const (
	AdminActionMarkWinning     AdminAction = "mark_winning"
	AdminActionAdjustAmount    AdminAction = "adjust_amount"
	AdminActionCancel          AdminAction = "cancel"
	AdminActionOverridePayment AdminAction = "override_payment"
)

// BidActionAudit records one administrative action against one bid.
// Rows are immutable after insert and always carry a non-empty reason.
type BidActionAudit struct {
	gorm.Model

	ID          uuid.UUID   `gorm:"type:uuid;primaryKey"`
	BidID       uuid.UUID   `gorm:"type:uuid;not null;index;<-:create"`
	ActorUserID uuid.UUID   `gorm:"type:uuid;not null;<-:create"`
	Action      AdminAction `gorm:"type:varchar(32);not null;<-:create"`
	Reason      string      `gorm:"type:text;not null;<-:create"`

	Metadata map[string]string `gorm:"serializer:json;<-:create"`

	Bid Bid
}

func (a *BidActionAudit) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

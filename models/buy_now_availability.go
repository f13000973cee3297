package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BuyNowAvailability is the source of truth for instant-purchase
// inventory. The item row mirrors Enabled/RemainingQuantity onto its
// denormalized fields inside the same transaction that touches this
// row.
type BuyNowAvailability struct {
	gorm.Model

	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	AuctionItemID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`

	Enabled           bool   `gorm:"not null;default:false"`
	RemainingQuantity int    `gorm:"not null;default:0"`
	OverrideReason    string `gorm:"type:text"`

	AuctionItem AuctionItem
}

func (a *BuyNowAvailability) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ItemStatus is the catalog lifecycle of an auction item. Only
// published items accept bids; sold and withdrawn items are immutable.
type ItemStatus string

const (
	ItemStatusDraft     ItemStatus = "draft"
	ItemStatusPublished ItemStatus = "published"
	ItemStatusSold      ItemStatus = "sold"
	ItemStatusWithdrawn ItemStatus = "withdrawn"
)

// AuctionItem is the aggregate root of the bidding core. The
// CurrentBidAmount/MinNextBidAmount/BidCount fields are a materialized
// view over the bid ledger and are only rewritten inside the same
// transaction that mutates the ledger. Version guards that rewrite
// optimistically: writers bump it and re-run on conflict.
type AuctionItem struct {
	gorm.Model

	ID      uuid.UUID  `gorm:"type:uuid;primaryKey"`
	EventID uuid.UUID  `gorm:"type:uuid;not null;index"`
	Title   string     `gorm:"type:varchar(255);not null"`
	Status  ItemStatus `gorm:"type:varchar(16);not null;default:'draft'"`

	StartingBid  int64  `gorm:"type:bigint;not null"`
	BidIncrement int64  `gorm:"type:bigint;not null"`
	BuyNowPrice  *int64 `gorm:"type:bigint"`

	BuyNowEnabled     bool  `gorm:"not null;default:false"`
	BiddingOpen       bool  `gorm:"not null;default:false"`
	CurrentBidAmount  int64 `gorm:"type:bigint;not null;default:0"`
	MinNextBidAmount  int64 `gorm:"type:bigint;not null;default:0"`
	BidCount          int   `gorm:"not null;default:0"`
	QuantityAvailable int   `gorm:"not null;default:0"`
	Version           int64 `gorm:"not null;default:0"`

	CurrentBidID *uuid.UUID `gorm:"type:uuid"`

	CurrentBid *Bid `gorm:"foreignKey:CurrentBidID"`
	BidRecords []Bid
}

func (item *AuctionItem) BeforeCreate(tx *gorm.DB) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	return nil
}

// Biddable reports whether the item can accept competitive bids.
func (item *AuctionItem) Biddable() bool {
	return item.Status == ItemStatusPublished && item.BiddingOpen
}

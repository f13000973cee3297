package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BidType string

const (
	BidTypeRegular   BidType = "regular"
	BidTypeBuyNow    BidType = "buy_now"
	BidTypeProxyAuto BidType = "proxy_auto"
)

type BidStatus string

const (
	BidStatusActive    BidStatus = "active"
	BidStatusOutbid    BidStatus = "outbid"
	BidStatusWinning   BidStatus = "winning"
	BidStatusCancelled BidStatus = "cancelled"
	BidStatusWithdrawn BidStatus = "withdrawn"
)

// Terminal reports whether the status admits no further transitions.
func (s BidStatus) Terminal() bool {
	return s == BidStatusCancelled || s == BidStatusWithdrawn
}

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusProcessed  TransactionStatus = "processed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusRefunded   TransactionStatus = "refunded"
)

// Bid is one ledger entry. Rows are append-only: they are never
// deleted, only status-transitioned. Auto-escalations placed by the
// engine on behalf of a proxy bid carry SourceBidID pointing back at
// the proxy bid that produced them, and inherit its MaxBid.
type Bid struct {
	gorm.Model

	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventID       uuid.UUID `gorm:"type:uuid;not null;index"`
	AuctionItemID uuid.UUID `gorm:"type:uuid;not null;index"`
	UserID        uuid.UUID `gorm:"type:uuid;not null"`

	// Amount stays writable: administrative adjustment is the one
	// sanctioned mutation of a ledger row's value.
	Amount int64   `gorm:"type:bigint;not null"`
	MaxBid *int64  `gorm:"type:bigint;<-:create"`
	Type   BidType `gorm:"type:varchar(16);not null;<-:create"`

	Status            BidStatus         `gorm:"type:varchar(16);not null;default:'active';index"`
	TransactionStatus TransactionStatus `gorm:"type:varchar(16);not null;default:'pending'"`

	SourceBidID *uuid.UUID `gorm:"type:uuid;<-:create"`
	PlacedAt    time.Time  `gorm:"not null"`

	User        User
	AuctionItem AuctionItem
	SourceBid   *Bid `gorm:"foreignKey:SourceBidID"`
}

func (b *Bid) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.PlacedAt.IsZero() {
		b.PlacedAt = time.Now()
	}
	return nil
}

// Ceiling is the highest amount this bid is authorized to reach: the
// proxy ceiling when present, otherwise the entered amount.
func (b *Bid) Ceiling() int64 {
	if b.MaxBid != nil {
		return *b.MaxBid
	}
	return b.Amount
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventGuest is the per-event registration record that carries the
// bidder-number assignment. BidderNumber is nullable (unassigned) and
// unique within an event; the composite unique index is the last line
// of defense against two allocations computing the same free number.
type EventGuest struct {
	gorm.Model

	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_event_bidder_number"`
	UserID  uuid.UUID `gorm:"type:uuid;not null;index"`

	BidderNumber *int       `gorm:"uniqueIndex:uq_event_bidder_number"`
	AssignedAt   *time.Time

	User User
}

func (g *EventGuest) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

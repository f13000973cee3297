package bidding

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gavel/audit"
	"gavel/models"
)

func init() {
	log.SetOutput(io.Discard)
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// the in-memory database lives on a single connection
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.EventGuest{},
		&models.AuctionItem{},
		&models.Bid{},
		&models.BidActionAudit{},
		&models.BuyNowAvailability{},
	))
	return db
}

// newBidder registers a user in the event with a bidder number already
// assigned.
func newBidder(t *testing.T, db *gorm.DB, eventID uuid.UUID, name string, number int) uuid.UUID {
	t.Helper()
	user := models.User{Username: name}
	require.NoError(t, db.Create(&user).Error)
	now := time.Now()
	guest := models.EventGuest{
		EventID:      eventID,
		UserID:       user.ID,
		BidderNumber: lo.ToPtr(number),
		AssignedAt:   &now,
	}
	require.NoError(t, db.Create(&guest).Error)
	return user.ID
}

func newItem(t *testing.T, db *gorm.DB, eventID uuid.UUID, starting, increment int64) *models.AuctionItem {
	t.Helper()
	item := models.AuctionItem{
		EventID:      eventID,
		Title:        "signed jersey",
		Status:       models.ItemStatusPublished,
		StartingBid:  starting,
		BidIncrement: increment,
		BiddingOpen:  true,
	}
	require.NoError(t, db.Create(&item).Error)
	return &item
}

func reloadItem(t *testing.T, db *gorm.DB, itemID uuid.UUID) *models.AuctionItem {
	t.Helper()
	var item models.AuctionItem
	require.NoError(t, db.First(&item, "id = ?", itemID).Error)
	return &item
}

func reloadBid(t *testing.T, db *gorm.DB, bidID uuid.UUID) *models.Bid {
	t.Helper()
	var bid models.Bid
	require.NoError(t, db.First(&bid, "id = ?", bidID).Error)
	return &bid
}

func ledgerFor(t *testing.T, db *gorm.DB, itemID uuid.UUID) []models.Bid {
	t.Helper()
	var ledger []models.Bid
	require.NoError(t, db.
		Where("auction_item_id = ?", itemID).
		Order("placed_at ASC, created_at ASC").
		Find(&ledger).Error)
	return ledger
}

// recordingAudit captures fire-and-forget audit entries.
type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	fail    error
}

func (r *recordingAudit) Log(ctx context.Context, entry audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAudit) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(r.entries, func(e audit.Entry, _ int) string { return e.Kind })
}

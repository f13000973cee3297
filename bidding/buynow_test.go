package bidding

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"gavel/models"
)

func reloadTracker(t *testing.T, db *gorm.DB, itemID uuid.UUID) *models.BuyNowAvailability {
	t.Helper()
	var tracker models.BuyNowAvailability
	require.NoError(t, db.First(&tracker, "auction_item_id = ?", itemID).Error)
	return &tracker
}

func TestTrackerSet(t *testing.T) {
	t.Run("creates the tracker row and mirrors onto the item", func(t *testing.T) {
		db := setupDB(t)
		tracker := NewBuyNowTracker(db)
		eventID := uuid.New()
		item := newItem(t, db, eventID, 100, 5)

		require.NoError(t, tracker.Set(context.Background(), item.ID, true, 3, "initial stock"))

		row := reloadTracker(t, db, item.ID)
		assert.True(t, row.Enabled)
		assert.Equal(t, 3, row.RemainingQuantity)
		assert.Equal(t, "initial stock", row.OverrideReason)

		got := reloadItem(t, db, item.ID)
		assert.True(t, got.BuyNowEnabled)
		assert.Equal(t, 3, got.QuantityAvailable)
	})

	t.Run("replaces an existing tracker row", func(t *testing.T) {
		db := setupDB(t)
		tracker := NewBuyNowTracker(db)
		eventID := uuid.New()
		item := newItem(t, db, eventID, 100, 5)

		require.NoError(t, tracker.Set(context.Background(), item.ID, true, 3, "initial stock"))
		require.NoError(t, tracker.Set(context.Background(), item.ID, false, 1, "display unit damaged"))

		row := reloadTracker(t, db, item.ID)
		assert.False(t, row.Enabled)
		assert.Equal(t, 1, row.RemainingQuantity)
		assert.Equal(t, "display unit damaged", row.OverrideReason)

		got := reloadItem(t, db, item.ID)
		assert.False(t, got.BuyNowEnabled)
		assert.Equal(t, 1, got.QuantityAvailable)
	})

	t.Run("set bumps the item version", func(t *testing.T) {
		db := setupDB(t)
		tracker := NewBuyNowTracker(db)
		eventID := uuid.New()
		item := newItem(t, db, eventID, 100, 5)

		require.NoError(t, tracker.Set(context.Background(), item.ID, true, 3, "initial stock"))
		got := reloadItem(t, db, item.ID)
		assert.Equal(t, item.Version+1, got.Version)
	})

	t.Run("negative quantity", func(t *testing.T) {
		db := setupDB(t)
		tracker := NewBuyNowTracker(db)
		err := tracker.Set(context.Background(), uuid.New(), true, -1, "oops")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("unknown item", func(t *testing.T) {
		db := setupDB(t)
		tracker := NewBuyNowTracker(db)
		err := tracker.Set(context.Background(), uuid.New(), true, 3, "initial stock")
		assert.ErrorIs(t, err, ErrItemNotFound)
	})
}

func TestTrackerDecrement(t *testing.T) {
	t.Run("takes inventory", func(t *testing.T) {
		db := setupDB(t)
		tracker := NewBuyNowTracker(db)
		eventID := uuid.New()
		item := newItem(t, db, eventID, 100, 5)
		require.NoError(t, tracker.Set(context.Background(), item.ID, true, 3, "initial stock"))

		ok, err := tracker.Decrement(context.Background(), item.ID, 2)
		require.NoError(t, err)
		assert.True(t, ok)

		row := reloadTracker(t, db, item.ID)
		assert.True(t, row.Enabled)
		assert.Equal(t, 1, row.RemainingQuantity)
		got := reloadItem(t, db, item.ID)
		assert.Equal(t, 1, got.QuantityAvailable)
		assert.True(t, got.BuyNowEnabled)
	})

	t.Run("reaching zero disables buy-now", func(t *testing.T) {
		db := setupDB(t)
		tracker := NewBuyNowTracker(db)
		eventID := uuid.New()
		item := newItem(t, db, eventID, 100, 5)
		require.NoError(t, tracker.Set(context.Background(), item.ID, true, 2, "initial stock"))

		ok, err := tracker.Decrement(context.Background(), item.ID, 2)
		require.NoError(t, err)
		assert.True(t, ok)

		row := reloadTracker(t, db, item.ID)
		assert.False(t, row.Enabled)
		assert.Equal(t, 0, row.RemainingQuantity)
		got := reloadItem(t, db, item.ID)
		assert.False(t, got.BuyNowEnabled)
		assert.Equal(t, 0, got.QuantityAvailable)
	})

	t.Run("insufficient inventory is sold out, not negative", func(t *testing.T) {
		db := setupDB(t)
		tracker := NewBuyNowTracker(db)
		eventID := uuid.New()
		item := newItem(t, db, eventID, 100, 5)
		require.NoError(t, tracker.Set(context.Background(), item.ID, true, 1, "initial stock"))

		ok, err := tracker.Decrement(context.Background(), item.ID, 2)
		assert.ErrorIs(t, err, ErrSoldOut)
		assert.False(t, ok)
		assert.Equal(t, 1, reloadTracker(t, db, item.ID).RemainingQuantity)
	})

	t.Run("missing tracker row is a configuration error", func(t *testing.T) {
		db := setupDB(t)
		tracker := NewBuyNowTracker(db)
		eventID := uuid.New()
		item := newItem(t, db, eventID, 100, 5)

		ok, err := tracker.Decrement(context.Background(), item.ID, 1)
		assert.ErrorIs(t, err, ErrNotConfigured)
		assert.False(t, ok)
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		db := setupDB(t)
		tracker := NewBuyNowTracker(db)
		for _, quantity := range []int{0, -1} {
			ok, err := tracker.Decrement(context.Background(), uuid.New(), quantity)
			assert.ErrorIs(t, err, ErrInvalidAmount)
			assert.False(t, ok)
		}
	})
}

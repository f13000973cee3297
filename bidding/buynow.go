package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gavel/models"
)

// BuyNowTracker owns instant-purchase inventory. The tracker row is
// the source of truth; the item's denormalized buy-now fields are
// mirrored inside the same transaction that touches the tracker.
type BuyNowTracker struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewBuyNowTracker(db *gorm.DB) *BuyNowTracker {
	return &BuyNowTracker{
		db:     db,
		logger: slog.Default().With(slog.String("caller", "BuyNowTracker")),
	}
}

// Set creates or replaces the tracking row for an item and mirrors
// enabled/remaining onto the item.
func (t *BuyNowTracker) Set(ctx context.Context, itemID uuid.UUID, enabled bool, remaining int, reason string) error {
	const op = "BuyNowTracker.Set"
	if remaining < 0 {
		return ErrInvalidAmount
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.AuctionItem
		if err := tx.First(&item, "id = ?", itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return fmt.Errorf("[%s] Fail to load auction item, err=%w", op, err)
		}

		var tracker models.BuyNowAvailability
		err := tx.Where("auction_item_id = ?", itemID).First(&tracker).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			tracker = models.BuyNowAvailability{
				AuctionItemID:     itemID,
				Enabled:           enabled,
				RemainingQuantity: remaining,
				OverrideReason:    reason,
			}
			if err := tx.Create(&tracker).Error; err != nil {
				return fmt.Errorf("[%s] Fail to create tracker row, err=%w", op, err)
			}
		case err != nil:
			return fmt.Errorf("[%s] Fail to load tracker row, err=%w", op, err)
		default:
			if err := tx.Model(&tracker).Updates(map[string]any{
				"enabled":            enabled,
				"remaining_quantity": remaining,
				"override_reason":    reason,
			}).Error; err != nil {
				return fmt.Errorf("[%s] Fail to update tracker row, err=%w", op, err)
			}
		}

		// bumping the version makes in-flight placements re-read
		if err := tx.Model(&models.AuctionItem{}).
			Where("id = ?", itemID).
			Updates(map[string]any{
				"buy_now_enabled":    enabled,
				"quantity_available": remaining,
				"version":            gorm.Expr("version + 1"),
			}).Error; err != nil {
			return fmt.Errorf("[%s] Fail to mirror onto item, err=%w", op, err)
		}
		return nil
	})
}

// Decrement atomically takes quantity units of buy-now inventory.
// Returns (false, ErrSoldOut) when the remaining quantity is
// insufficient and (false, ErrNotConfigured) when the item has no
// tracker row, so callers can tell exhaustion from misconfiguration.
func (t *BuyNowTracker) Decrement(ctx context.Context, itemID uuid.UUID, quantity int) (bool, error) {
	const op = "BuyNowTracker.Decrement"
	if quantity <= 0 {
		return false, ErrInvalidAmount
	}
	var remaining int
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		remaining, err = decrementAvailability(tx, itemID, quantity)
		if err != nil {
			return err
		}
		updates := map[string]any{
			"quantity_available": remaining,
			"version":            gorm.Expr("version + 1"),
		}
		if remaining == 0 {
			updates["buy_now_enabled"] = false
		}
		if err := tx.Model(&models.AuctionItem{}).
			Where("id = ?", itemID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("[%s] Fail to mirror onto item, err=%w", op, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	t.logger.Info("buy-now inventory taken",
		slog.String("itemID", itemID.String()),
		slog.Int("quantity", quantity),
		slog.Int("remaining", remaining))
	return true, nil
}

// decrementAvailability is the guarded decrement shared by the tracker
// and the engine's buy-now path. It never takes the counter below
// zero; reaching exactly zero also disables the tracker row.
func decrementAvailability(tx *gorm.DB, itemID uuid.UUID, quantity int) (int, error) {
	const op = "decrementAvailability"
	res := tx.Model(&models.BuyNowAvailability{}).
		Where("auction_item_id = ? AND remaining_quantity >= ?", itemID, quantity).
		UpdateColumn("remaining_quantity", gorm.Expr("remaining_quantity - ?", quantity))
	if res.Error != nil {
		return 0, fmt.Errorf("[%s] Fail to decrement, err=%w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		var configured int64
		if err := tx.Model(&models.BuyNowAvailability{}).
			Where("auction_item_id = ?", itemID).
			Count(&configured).Error; err != nil {
			return 0, fmt.Errorf("[%s] Fail to check tracker row, err=%w", op, err)
		}
		if configured == 0 {
			return 0, ErrNotConfigured
		}
		return 0, ErrSoldOut
	}

	var tracker models.BuyNowAvailability
	if err := tx.Where("auction_item_id = ?", itemID).First(&tracker).Error; err != nil {
		return 0, fmt.Errorf("[%s] Fail to reload tracker row, err=%w", op, err)
	}
	if tracker.RemainingQuantity == 0 && tracker.Enabled {
		if err := tx.Model(&tracker).Update("enabled", false).Error; err != nil {
			return 0, fmt.Errorf("[%s] Fail to disable tracker row, err=%w", op, err)
		}
	}
	return tracker.RemainingQuantity, nil
}

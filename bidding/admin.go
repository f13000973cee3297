package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gavel/audit"
	"gavel/models"
)

var ErrInvalidAdminAction = errors.New("unknown administrative action")

// Admin applies privileged corrections to ledger entries. Every action
// requires a non-empty reason and writes exactly one BidActionAudit
// row in the same transaction as the correction. Admin mutations stay
// outside the competitive-bid path: they never trigger proxy
// escalation.
type Admin struct {
	db       *gorm.DB
	engine   *Engine
	auditLog audit.Logger
	logger   *slog.Logger
}

type AdminOption func(*Admin)

func WithAdminAuditLogger(l audit.Logger) AdminOption {
	return func(a *Admin) {
		a.auditLog = l
	}
}

func WithAdminLogger(l *slog.Logger) AdminOption {
	return func(a *Admin) {
		a.logger = l
	}
}

func NewAdmin(db *gorm.DB, engine *Engine, opts ...AdminOption) *Admin {
	a := &Admin{
		db:       db,
		engine:   engine,
		auditLog: audit.NopLogger{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("caller", "Admin"))
	return a
}

type ActionRequest struct {
	BidID   uuid.UUID
	ActorID uuid.UUID
	Action  models.AdminAction
	Reason  string

	// Amount is required for adjust_amount, TransactionStatus for
	// override_payment.
	Amount            *int64
	TransactionStatus *models.TransactionStatus
}

// Apply dispatches one administrative action and returns its audit
// row. Rejected actions always name the specific reason; nothing here
// silently no-ops.
func (a *Admin) Apply(ctx context.Context, req ActionRequest) (*models.BidActionAudit, error) {
	if req.Reason == "" {
		return nil, ErrReasonRequired
	}
	var (
		row *models.BidActionAudit
		err error
	)
	switch req.Action {
	case models.AdminActionMarkWinning:
		row, err = a.withRetry(func() (*models.BidActionAudit, error) {
			return a.markWinning(ctx, req)
		})
	case models.AdminActionAdjustAmount:
		row, err = a.withRetry(func() (*models.BidActionAudit, error) {
			return a.adjustAmount(ctx, req)
		})
	case models.AdminActionCancel:
		row, err = a.cancel(ctx, req)
	case models.AdminActionOverridePayment:
		row, err = a.overridePayment(ctx, req)
	default:
		return nil, ErrInvalidAdminAction
	}
	if err != nil {
		return nil, err
	}
	// the engine already published the cancel to the audit stream
	if req.Action != models.AdminActionCancel {
		a.appendAudit(ctx, req, row)
	}
	return row, nil
}

func (a *Admin) withRetry(fn func() (*models.BidActionAudit, error)) (*models.BidActionAudit, error) {
	const attempts = 3
	for attempt := 0; attempt <= attempts; attempt++ {
		row, err := fn()
		if errors.Is(err, ErrConcurrentModification) {
			continue
		}
		return row, err
	}
	return nil, ErrConcurrentModification
}

// markWinning forces one bid to winning, demoting the rest, and
// rewrites the item aggregate accordingly.
func (a *Admin) markWinning(ctx context.Context, req ActionRequest) (*models.BidActionAudit, error) {
	const op = "Admin.markWinning"
	var row models.BidActionAudit
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bid, err := loadAdminBid(tx, req.BidID)
		if err != nil {
			return err
		}
		if bid.Status.Terminal() {
			return ErrBidAlreadyClosed
		}
		var item models.AuctionItem
		if err := tx.First(&item, "id = ?", bid.AuctionItemID).Error; err != nil {
			return fmt.Errorf("[%s] Fail to load auction item, err=%w", op, err)
		}

		if err := tx.Model(&models.Bid{}).
			Where("auction_item_id = ? AND status NOT IN ? AND id <> ?", item.ID, terminalStatuses, bid.ID).
			Update("status", models.BidStatusOutbid).Error; err != nil {
			return fmt.Errorf("[%s] Fail to demote bids, err=%w", op, err)
		}
		if err := tx.Model(&models.Bid{}).
			Where("id = ?", bid.ID).
			Update("status", models.BidStatusWinning).Error; err != nil {
			return fmt.Errorf("[%s] Fail to promote bid, err=%w", op, err)
		}
		if err := rewriteAggregate(tx, &item, bid.ID, bid.Amount); err != nil {
			return err
		}

		row = models.BidActionAudit{
			BidID:       bid.ID,
			ActorUserID: req.ActorID,
			Action:      models.AdminActionMarkWinning,
			Reason:      req.Reason,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("[%s] Fail to record audit row, err=%w", op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// adjustAmount corrects a ledger amount. Rejected once the payment for
// the bid has been processed.
func (a *Admin) adjustAmount(ctx context.Context, req ActionRequest) (*models.BidActionAudit, error) {
	const op = "Admin.adjustAmount"
	if req.Amount == nil || *req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	var row models.BidActionAudit
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bid, err := loadAdminBid(tx, req.BidID)
		if err != nil {
			return err
		}
		if bid.TransactionStatus == models.TransactionStatusProcessed {
			return ErrAlreadyProcessed
		}
		previous := bid.Amount
		if err := tx.Model(&models.Bid{}).
			Where("id = ?", bid.ID).
			Update("amount", *req.Amount).Error; err != nil {
			return fmt.Errorf("[%s] Fail to adjust amount, err=%w", op, err)
		}
		if bid.Status == models.BidStatusWinning {
			var item models.AuctionItem
			if err := tx.First(&item, "id = ?", bid.AuctionItemID).Error; err != nil {
				return fmt.Errorf("[%s] Fail to load auction item, err=%w", op, err)
			}
			if err := rewriteAggregate(tx, &item, bid.ID, *req.Amount); err != nil {
				return err
			}
		}

		row = models.BidActionAudit{
			BidID:       bid.ID,
			ActorUserID: req.ActorID,
			Action:      models.AdminActionAdjustAmount,
			Reason:      req.Reason,
			Metadata: map[string]string{
				"previous_amount": strconv.FormatInt(previous, 10),
				"new_amount":      strconv.FormatInt(*req.Amount, 10),
			},
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("[%s] Fail to record audit row, err=%w", op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// cancel delegates to the engine (which re-arbitrates and writes the
// audit row) and returns that row.
func (a *Admin) cancel(ctx context.Context, req ActionRequest) (*models.BidActionAudit, error) {
	const op = "Admin.cancel"
	bid, err := a.engine.CancelBid(ctx, req.BidID, req.ActorID, req.Reason)
	if err != nil {
		return nil, err
	}
	var row models.BidActionAudit
	if err := a.db.WithContext(ctx).
		Where("bid_id = ? AND action = ?", bid.ID, models.AdminActionCancel).
		Order("created_at DESC").
		First(&row).Error; err != nil {
		return nil, fmt.Errorf("[%s] Fail to load audit row, err=%w", op, err)
	}
	return &row, nil
}

// overridePayment sets the transaction status outright.
func (a *Admin) overridePayment(ctx context.Context, req ActionRequest) (*models.BidActionAudit, error) {
	const op = "Admin.overridePayment"
	if req.TransactionStatus == nil {
		return nil, ErrInvalidAdminAction
	}
	var row models.BidActionAudit
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bid, err := loadAdminBid(tx, req.BidID)
		if err != nil {
			return err
		}
		previous := bid.TransactionStatus
		if err := tx.Model(&models.Bid{}).
			Where("id = ?", bid.ID).
			Update("transaction_status", *req.TransactionStatus).Error; err != nil {
			return fmt.Errorf("[%s] Fail to override payment, err=%w", op, err)
		}

		row = models.BidActionAudit{
			BidID:       bid.ID,
			ActorUserID: req.ActorID,
			Action:      models.AdminActionOverridePayment,
			Reason:      req.Reason,
			Metadata: map[string]string{
				"previous_status": string(previous),
				"new_status":      string(*req.TransactionStatus),
			},
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("[%s] Fail to record audit row, err=%w", op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func loadAdminBid(tx *gorm.DB, bidID uuid.UUID) (*models.Bid, error) {
	const op = "loadAdminBid"
	var bid models.Bid
	if err := tx.First(&bid, "id = ?", bidID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBidNotFound
		}
		return nil, fmt.Errorf("[%s] Fail to load bid, err=%w", op, err)
	}
	return &bid, nil
}

// rewriteAggregate repoints the materialized item fields at the given
// winning bid under the version guard.
func rewriteAggregate(tx *gorm.DB, item *models.AuctionItem, winnerID uuid.UUID, amount int64) error {
	const op = "rewriteAggregate"
	var bidCount int64
	if err := tx.Model(&models.Bid{}).
		Where("auction_item_id = ? AND status NOT IN ?", item.ID, terminalStatuses).
		Count(&bidCount).Error; err != nil {
		return fmt.Errorf("[%s] Fail to count open bids, err=%w", op, err)
	}
	res := tx.Model(&models.AuctionItem{}).
		Where("id = ? AND version = ?", item.ID, item.Version).
		Updates(map[string]any{
			"current_bid_amount":  amount,
			"min_next_bid_amount": amount + item.BidIncrement,
			"bid_count":           bidCount,
			"current_bid_id":      winnerID,
			"version":             item.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("[%s] Fail to update aggregate, err=%w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (a *Admin) appendAudit(ctx context.Context, req ActionRequest, row *models.BidActionAudit) {
	if a.auditLog == nil || row == nil {
		return
	}
	entry := audit.Entry{
		Kind:    "admin_" + string(req.Action),
		BidID:   row.BidID,
		ActorID: req.ActorID,
		Detail:  req.Reason,
		At:      time.Now(),
	}
	if err := a.auditLog.Log(ctx, entry); err != nil {
		a.logger.Warn("audit append failed",
			slog.String("kind", entry.Kind),
			slog.String("bidID", entry.BidID.String()),
			slog.Any("error", err))
	}
}

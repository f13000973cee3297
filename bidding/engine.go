package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gavel/audit"
	"gavel/models"
)

var terminalStatuses = []models.BidStatus{
	models.BidStatusCancelled,
	models.BidStatusWithdrawn,
}

// Engine arbitrates competitive bids for auction items. Every mutating
// operation runs as one transaction over the bid ledger and the item
// aggregate; the aggregate row carries a version column and the whole
// operation is re-run a bounded number of times on conflict.
type Engine struct {
	db         *gorm.DB
	auditLog   audit.Logger
	logger     *slog.Logger
	maxRetries int
}

type EngineOption func(*Engine)

// WithAuditLogger sets the fire-and-forget audit sink. Append failures
// are logged and never affect a committed bid.
func WithAuditLogger(l audit.Logger) EngineOption {
	return func(e *Engine) {
		e.auditLog = l
	}
}

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMaxRetries bounds the internal retry loop on version conflicts.
func WithMaxRetries(n int) EngineOption {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

func NewEngine(db *gorm.DB, opts ...EngineOption) *Engine {
	e := &Engine{
		db:         db,
		auditLog:   audit.NopLogger{},
		logger:     slog.Default(),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("caller", "Engine"))
	return e
}

type PlaceBidRequest struct {
	EventID uuid.UUID
	ItemID  uuid.UUID
	UserID  uuid.UUID
	Amount  int64
	Type    models.BidType
	MaxBid  *int64
}

func (req PlaceBidRequest) validate() error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}
	switch req.Type {
	case models.BidTypeRegular, models.BidTypeBuyNow:
		if req.MaxBid != nil {
			return ErrInvalidAmount
		}
	case models.BidTypeProxyAuto:
		if req.MaxBid == nil || *req.MaxBid < req.Amount {
			return ErrMaxBidRequired
		}
	default:
		return ErrInvalidBidType
	}
	return nil
}

// PlaceBid validates and admits one bid, resolving proxy competition
// before the transaction commits. The returned row carries the final
// status of the placed bid; a proxy bid can come back already outbid
// when a standing proxy retook the lead.
func (e *Engine) PlaceBid(ctx context.Context, req PlaceBidRequest) (*models.Bid, error) {
	const op = "Engine.PlaceBid"
	if err := req.validate(); err != nil {
		return nil, err
	}
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		bid, err := e.placeOnce(ctx, req)
		if errors.Is(err, ErrConcurrentModification) || errors.Is(err, gorm.ErrDuplicatedKey) {
			e.logger.Debug("placement conflict, retrying",
				slog.String("op", op),
				slog.String("itemID", req.ItemID.String()),
				slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		e.appendAudit(ctx, audit.Entry{
			Kind:    "bid_placed",
			EventID: bid.EventID,
			ItemID:  bid.AuctionItemID,
			BidID:   bid.ID,
			ActorID: bid.UserID,
			Amount:  bid.Amount,
			Detail:  string(bid.Type),
			At:      time.Now(),
		})
		return bid, nil
	}
	return nil, ErrConcurrentModification
}

func (e *Engine) placeOnce(ctx context.Context, req PlaceBidRequest) (*models.Bid, error) {
	const op = "Engine.placeOnce"
	var placed models.Bid
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.AuctionItem
		if err := tx.Where("id = ? AND event_id = ?", req.ItemID, req.EventID).First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return fmt.Errorf("[%s] Fail to load auction item, err=%w", op, err)
		}
		if !item.Biddable() {
			return ErrItemNotBiddable
		}

		// every bidder needs a paddle number for the event
		var assigned int64
		if err := tx.Model(&models.EventGuest{}).
			Where("event_id = ? AND user_id = ? AND bidder_number IS NOT NULL", req.EventID, req.UserID).
			Count(&assigned).Error; err != nil {
			return fmt.Errorf("[%s] Fail to check bidder number, err=%w", op, err)
		}
		if assigned == 0 {
			return ErrBidderNumberMissing
		}

		ledger, err := loadOpenLedger(tx, item.ID)
		if err != nil {
			return fmt.Errorf("[%s] Fail to load ledger, err=%w", op, err)
		}
		comps := buildCompetitors(ledger)

		minNext := item.StartingBid
		if high := standingHigh(comps); high != nil {
			minNext = high.Amount + item.BidIncrement
		}

		var soldOut bool
		switch req.Type {
		case models.BidTypeBuyNow:
			if item.BuyNowPrice == nil || req.Amount != *item.BuyNowPrice {
				return ErrInvalidAmount
			}
			if !item.BuyNowEnabled {
				return ErrBuyNowUnavailable
			}
			remaining, err := decrementAvailability(tx, item.ID, 1)
			if err != nil {
				return err
			}
			soldOut = remaining == 0
			item.QuantityAvailable = remaining
		default:
			if req.Amount < minNext {
				return ErrInsufficientBid
			}
		}

		placed = models.Bid{
			EventID:       req.EventID,
			AuctionItemID: item.ID,
			UserID:        req.UserID,
			Amount:        req.Amount,
			MaxBid:        req.MaxBid,
			Type:          req.Type,
			Status:        models.BidStatusActive,
		}
		if err := tx.Create(&placed).Error; err != nil {
			return fmt.Errorf("[%s] Fail to insert bid, err=%w", op, err)
		}

		winnerChain := &competitor{
			RootBidID: placed.ID,
			TopBidID:  placed.ID,
			UserID:    placed.UserID,
			Amount:    placed.Amount,
			Ceiling:   placed.Ceiling(),
			PlacedAt:  placed.PlacedAt,
		}
		if req.Type == models.BidTypeBuyNow {
			// instant purchase, no proxy war
			if soldOut {
				item.BuyNowEnabled = false
				item.BiddingOpen = false
			}
			if err := e.settle(tx, &item, outcome{Winner: winnerChain}, true); err != nil {
				return err
			}
		} else {
			out := resolveCompetition(append(comps, winnerChain), item.BidIncrement)
			if err := e.insertEscalations(tx, &item, out.Escalations); err != nil {
				return err
			}
			if err := e.settle(tx, &item, out, false); err != nil {
				return err
			}
		}

		// pick up the final status of the placed row
		if err := tx.First(&placed, "id = ?", placed.ID).Error; err != nil {
			return fmt.Errorf("[%s] Fail to reload placed bid, err=%w", op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &placed, nil
}

// CancelBid transitions a bid (and any auto-escalations placed on its
// behalf) to cancelled, then re-arbitrates the remaining bids.
func (e *Engine) CancelBid(ctx context.Context, bidID, actorID uuid.UUID, reason string) (*models.Bid, error) {
	return e.terminate(ctx, bidID, actorID, reason, models.BidStatusCancelled)
}

// WithdrawBid is CancelBid with the withdrawn terminal status, used
// when the bidder retracts rather than an operator correcting.
func (e *Engine) WithdrawBid(ctx context.Context, bidID, actorID uuid.UUID, reason string) (*models.Bid, error) {
	return e.terminate(ctx, bidID, actorID, reason, models.BidStatusWithdrawn)
}

func (e *Engine) terminate(ctx context.Context, bidID, actorID uuid.UUID, reason string, target models.BidStatus) (*models.Bid, error) {
	const op = "Engine.terminate"
	if reason == "" {
		return nil, ErrReasonRequired
	}
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		bid, err := e.terminateOnce(ctx, bidID, actorID, reason, target)
		if errors.Is(err, ErrConcurrentModification) {
			e.logger.Debug("cancellation conflict, retrying",
				slog.String("op", op),
				slog.String("bidID", bidID.String()),
				slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		e.appendAudit(ctx, audit.Entry{
			Kind:    "bid_" + string(target),
			EventID: bid.EventID,
			ItemID:  bid.AuctionItemID,
			BidID:   bid.ID,
			ActorID: actorID,
			Amount:  bid.Amount,
			Detail:  reason,
			At:      time.Now(),
		})
		return bid, nil
	}
	return nil, ErrConcurrentModification
}

func (e *Engine) terminateOnce(ctx context.Context, bidID, actorID uuid.UUID, reason string, target models.BidStatus) (*models.Bid, error) {
	const op = "Engine.terminateOnce"
	var out models.Bid
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bid models.Bid
		if err := tx.First(&bid, "id = ?", bidID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBidNotFound
			}
			return fmt.Errorf("[%s] Fail to load bid, err=%w", op, err)
		}
		if bid.Status.Terminal() {
			return ErrBidAlreadyClosed
		}

		// escalations exist only on behalf of their proxy root, so
		// termination always applies to the whole chain
		rootID := bid.ID
		if bid.SourceBidID != nil {
			rootID = *bid.SourceBidID
		}
		if err := tx.Model(&models.Bid{}).
			Where("(id = ? OR source_bid_id = ?) AND status NOT IN ?", rootID, rootID, terminalStatuses).
			Update("status", target).Error; err != nil {
			return fmt.Errorf("[%s] Fail to close bid chain, err=%w", op, err)
		}

		auditRow := models.BidActionAudit{
			BidID:       bid.ID,
			ActorUserID: actorID,
			Action:      models.AdminActionCancel,
			Reason:      reason,
			Metadata:    map[string]string{"target_status": string(target)},
		}
		if err := tx.Create(&auditRow).Error; err != nil {
			return fmt.Errorf("[%s] Fail to record audit row, err=%w", op, err)
		}

		var item models.AuctionItem
		if err := tx.First(&item, "id = ?", bid.AuctionItemID).Error; err != nil {
			return fmt.Errorf("[%s] Fail to load auction item, err=%w", op, err)
		}
		ledger, err := loadOpenLedger(tx, item.ID)
		if err != nil {
			return fmt.Errorf("[%s] Fail to load ledger, err=%w", op, err)
		}
		result := resolveCompetition(buildCompetitors(ledger), item.BidIncrement)
		if err := e.insertEscalations(tx, &item, result.Escalations); err != nil {
			return err
		}
		if err := e.settle(tx, &item, result, false); err != nil {
			return err
		}

		if err := tx.First(&out, "id = ?", bid.ID).Error; err != nil {
			return fmt.Errorf("[%s] Fail to reload bid, err=%w", op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// loadOpenLedger returns the item's non-terminal ledger rows in
// placement order.
func loadOpenLedger(tx *gorm.DB, itemID uuid.UUID) ([]models.Bid, error) {
	var ledger []models.Bid
	err := tx.Where("auction_item_id = ? AND status NOT IN ?", itemID, terminalStatuses).
		Order("placed_at ASC, created_at ASC").
		Find(&ledger).Error
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

// insertEscalations appends the auto-bids the resolver produced, each
// linked to its proxy root and inheriting its ceiling.
func (e *Engine) insertEscalations(tx *gorm.DB, item *models.AuctionItem, escalations []escalation) error {
	const op = "Engine.insertEscalations"
	for _, esc := range escalations {
		ceiling := esc.Root.Ceiling
		rootID := esc.Root.RootBidID
		row := models.Bid{
			EventID:       item.EventID,
			AuctionItemID: item.ID,
			UserID:        esc.Root.UserID,
			Amount:        esc.Amount,
			MaxBid:        &ceiling,
			Type:          models.BidTypeProxyAuto,
			Status:        models.BidStatusActive,
			SourceBidID:   &rootID,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("[%s] Fail to insert escalation, err=%w", op, err)
		}
		esc.Root.TopBidID = row.ID
		e.logger.Info("auto-escalation placed",
			slog.String("itemID", item.ID.String()),
			slog.String("sourceBidID", rootID.String()),
			slog.Int64("amount", esc.Amount))
	}
	return nil
}

// settle promotes the winning row, demotes everything else still open,
// and rewrites the item's denormalized bidding fields under the
// version guard. All four mutations of a placement (ledger insert,
// demotion, aggregate update, audit row) commit or roll back together.
func (e *Engine) settle(tx *gorm.DB, item *models.AuctionItem, result outcome, buyNow bool) error {
	const op = "Engine.settle"

	demote := tx.Model(&models.Bid{}).
		Where("auction_item_id = ? AND status NOT IN ?", item.ID, terminalStatuses)
	var winnerTopID *uuid.UUID
	if result.Winner != nil {
		id := result.Winner.TopBidID
		winnerTopID = &id
		demote = demote.Where("id <> ?", id)
	}
	if err := demote.Update("status", models.BidStatusOutbid).Error; err != nil {
		return fmt.Errorf("[%s] Fail to demote bids, err=%w", op, err)
	}
	if winnerTopID != nil {
		if err := tx.Model(&models.Bid{}).
			Where("id = ?", *winnerTopID).
			Update("status", models.BidStatusWinning).Error; err != nil {
			return fmt.Errorf("[%s] Fail to promote winner, err=%w", op, err)
		}
	}

	var bidCount int64
	if err := tx.Model(&models.Bid{}).
		Where("auction_item_id = ? AND status NOT IN ?", item.ID, terminalStatuses).
		Count(&bidCount).Error; err != nil {
		return fmt.Errorf("[%s] Fail to count open bids, err=%w", op, err)
	}

	currentAmount := int64(0)
	minNext := item.StartingBid
	if result.Winner != nil {
		currentAmount = result.Winner.Amount
		minNext = currentAmount + item.BidIncrement
	}
	updates := map[string]any{
		"current_bid_amount":  currentAmount,
		"min_next_bid_amount": minNext,
		"bid_count":           bidCount,
		"current_bid_id":      winnerTopID,
		"bidding_open":        item.BiddingOpen,
		"version":             item.Version + 1,
	}
	if buyNow {
		updates["buy_now_enabled"] = item.BuyNowEnabled
		updates["quantity_available"] = item.QuantityAvailable
	}
	res := tx.Model(&models.AuctionItem{}).
		Where("id = ? AND version = ?", item.ID, item.Version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("[%s] Fail to update aggregate, err=%w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (e *Engine) appendAudit(ctx context.Context, entry audit.Entry) {
	if e.auditLog == nil {
		return
	}
	if err := e.auditLog.Log(ctx, entry); err != nil {
		e.logger.Warn("audit append failed",
			slog.String("kind", entry.Kind),
			slog.String("bidID", entry.BidID.String()),
			slog.Any("error", err))
	}
}

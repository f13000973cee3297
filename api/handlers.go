package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"

	redisAdapter "gavel/adapters/redis"
	"gavel/bidding"
	"gavel/models"
)

type errorResponse struct {
	Message string `json:"message"`
}

// statusFor maps the bidding error taxonomy onto HTTP statuses.
// Anything unmapped is a 500 whose cause is logged, never leaked.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, bidding.ErrInvalidAmount),
		errors.Is(err, bidding.ErrMaxBidRequired),
		errors.Is(err, bidding.ErrInvalidBidType),
		errors.Is(err, bidding.ErrInsufficientBid),
		errors.Is(err, bidding.ErrReasonRequired),
		errors.Is(err, bidding.ErrInvalidBidderNum),
		errors.Is(err, bidding.ErrInvalidAdminAction):
		return http.StatusBadRequest, true
	case errors.Is(err, bidding.ErrBidderNumberMissing):
		return http.StatusForbidden, true
	case errors.Is(err, bidding.ErrItemNotFound),
		errors.Is(err, bidding.ErrBidNotFound),
		errors.Is(err, bidding.ErrGuestNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, bidding.ErrItemNotBiddable),
		errors.Is(err, bidding.ErrBuyNowUnavailable),
		errors.Is(err, bidding.ErrSoldOut),
		errors.Is(err, bidding.ErrNotConfigured),
		errors.Is(err, bidding.ErrBidAlreadyClosed),
		errors.Is(err, bidding.ErrAlreadyProcessed),
		errors.Is(err, bidding.ErrAlreadyAssigned),
		errors.Is(err, bidding.ErrNumberPoolDrained),
		errors.Is(err, bidding.ErrConcurrentModification):
		return http.StatusConflict, true
	}
	return http.StatusInternalServerError, false
}

func (impl *ServerImpl) abortWithError(c *gin.Context, op string, err error) {
	status, known := statusFor(err)
	if !known {
		slog.Error("Unhandled error", slog.String("op", op), slog.Any("error", err))
		c.JSON(status, errorResponse{Message: "internal error"})
		return
	}
	c.JSON(status, errorResponse{Message: err.Error()})
}

// identity extracts the authenticated user from the access token
// cookie, falling back to a bearer header. Aborts with 401 on failure.
func (impl *ServerImpl) identity(c *gin.Context) (uuid.UUID, bool) {
	tokenString, err := c.Cookie("access_token")
	if err != nil || tokenString == "" {
		header := c.GetHeader("Authorization")
		tokenString, _ = strings.CutPrefix(header, "Bearer ")
	}
	if tokenString == "" {
		c.Status(http.StatusUnauthorized)
		return uuid.Nil, false
	}
	token, err := ParseAndValidateJWT(tokenString, impl.config.Auth.PrivateKey)
	if err != nil {
		slog.Error("Fail to parse and validate JWT", slog.Any("error", err))
		c.Status(http.StatusUnauthorized)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(token.Subject)
	if err != nil {
		c.Status(http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: fmt.Sprintf("invalid %s", name)})
		return uuid.Nil, false
	}
	return id, true
}

type bidView struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"userId"`
	Amount            int64      `json:"amount"`
	MaxBid            *int64     `json:"maxBid,omitempty"`
	Type              string     `json:"type"`
	Status            string     `json:"status"`
	TransactionStatus string     `json:"transactionStatus"`
	SourceBidID       *uuid.UUID `json:"sourceBidId,omitempty"`
	PlacedAt          time.Time  `json:"placedAt"`
}

func toBidView(bid models.Bid) bidView {
	return bidView{
		ID:                bid.ID,
		UserID:            bid.UserID,
		Amount:            bid.Amount,
		MaxBid:            bid.MaxBid,
		Type:              string(bid.Type),
		Status:            string(bid.Status),
		TransactionStatus: string(bid.TransactionStatus),
		SourceBidID:       bid.SourceBidID,
		PlacedAt:          bid.PlacedAt,
	}
}

type placeBidBody struct {
	Amount int64  `json:"amount"`
	Type   string `json:"type"`
	MaxBid *int64 `json:"maxBid"`
}

// Place a bid on an auction item
// (POST /events/{eventID}/items/{itemID}/bids)
func (impl *ServerImpl) PostBid(c *gin.Context) {
	const op = "PostBid"
	eventID, ok := pathUUID(c, "eventID")
	if !ok {
		return
	}
	itemID, ok := pathUUID(c, "itemID")
	if !ok {
		return
	}
	userID, ok := impl.identity(c)
	if !ok {
		return
	}
	var body placeBidBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if body.Type == "" {
		body.Type = string(models.BidTypeRegular)
	}

	// serialize placement per item across processes
	lockKey := fmt.Sprintf("%sauction:%s:lock", impl.config.Redis.KeyPrefix, itemID)
	dMutex := redisAdapter.NewAutoRenewMutex(impl.redisClient, lockKey)
	lockCtx, err := dMutex.Lock(c.Request.Context())
	if err != nil {
		impl.abortWithError(c, op, fmt.Errorf("[%s] Fail to acquire bid lock, err=%w", op, err))
		return
	}
	defer func() {
		if _, err := dMutex.Unlock(); err != nil {
			slog.Warn("Fail to release bid lock", slog.String("op", op), slog.Any("error", err))
		}
	}()

	bid, err := impl.engine.PlaceBid(lockCtx, bidding.PlaceBidRequest{
		EventID: eventID,
		ItemID:  itemID,
		UserID:  userID,
		Amount:  body.Amount,
		Type:    models.BidType(body.Type),
		MaxBid:  body.MaxBid,
	})
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, toBidView(*bid))
}

type cancelBidBody struct {
	Reason   string `json:"reason"`
	Withdraw bool   `json:"withdraw"`
}

// Cancel or withdraw a bid
// (POST /bids/{bidID}/cancel)
func (impl *ServerImpl) PostBidCancel(c *gin.Context) {
	const op = "PostBidCancel"
	bidID, ok := pathUUID(c, "bidID")
	if !ok {
		return
	}
	actorID, ok := impl.identity(c)
	if !ok {
		return
	}
	var body cancelBidBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}

	var (
		bid *models.Bid
		err error
	)
	if body.Withdraw {
		bid, err = impl.engine.WithdrawBid(c.Request.Context(), bidID, actorID, body.Reason)
	} else {
		bid, err = impl.engine.CancelBid(c.Request.Context(), bidID, actorID, body.Reason)
	}
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, toBidView(*bid))
}

type adminActionBody struct {
	Action            string  `json:"action"`
	Reason            string  `json:"reason"`
	Amount            *int64  `json:"amount"`
	TransactionStatus *string `json:"transactionStatus"`
}

type adminActionView struct {
	ID       uuid.UUID         `json:"id"`
	BidID    uuid.UUID         `json:"bidId"`
	Action   string            `json:"action"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Apply an administrative override to a bid
// (POST /bids/{bidID}/admin-actions)
func (impl *ServerImpl) PostBidAdminAction(c *gin.Context) {
	const op = "PostBidAdminAction"
	bidID, ok := pathUUID(c, "bidID")
	if !ok {
		return
	}
	actorID, ok := impl.identity(c)
	if !ok {
		return
	}
	var body adminActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	req := bidding.ActionRequest{
		BidID:   bidID,
		ActorID: actorID,
		Action:  models.AdminAction(body.Action),
		Reason:  body.Reason,
		Amount:  body.Amount,
	}
	if body.TransactionStatus != nil {
		req.TransactionStatus = lo.ToPtr(models.TransactionStatus(*body.TransactionStatus))
	}
	row, err := impl.admin.Apply(c.Request.Context(), req)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, adminActionView{
		ID:       row.ID,
		BidID:    row.BidID,
		Action:   string(row.Action),
		Reason:   row.Reason,
		Metadata: row.Metadata,
	})
}

type bidderNumberView struct {
	BidderNumber int `json:"bidderNumber"`
}

// Assign the next free bidder number to a guest
// (POST /events/{eventID}/guests/{guestID}/bidder-number)
func (impl *ServerImpl) PostBidderNumber(c *gin.Context) {
	const op = "PostBidderNumber"
	eventID, ok := pathUUID(c, "eventID")
	if !ok {
		return
	}
	guestID, ok := pathUUID(c, "guestID")
	if !ok {
		return
	}
	if _, ok := impl.identity(c); !ok {
		return
	}
	number, err := impl.allocator.AssignNext(c.Request.Context(), eventID, guestID)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, bidderNumberView{BidderNumber: number})
}

type reassignBody struct {
	BidderNumber int `json:"bidderNumber"`
}

type reassignView struct {
	BidderNumber       int        `json:"bidderNumber"`
	DisplacedGuestID   *uuid.UUID `json:"displacedGuestId,omitempty"`
	DisplacedNewNumber *int       `json:"displacedNewNumber,omitempty"`
}

// Reassign a specific bidder number, displacing its current holder
// (PUT /events/{eventID}/guests/{guestID}/bidder-number)
func (impl *ServerImpl) PutBidderNumber(c *gin.Context) {
	const op = "PutBidderNumber"
	eventID, ok := pathUUID(c, "eventID")
	if !ok {
		return
	}
	guestID, ok := pathUUID(c, "guestID")
	if !ok {
		return
	}
	if _, ok := impl.identity(c); !ok {
		return
	}
	var body reassignBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	result, err := impl.allocator.Reassign(c.Request.Context(), eventID, guestID, body.BidderNumber)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, reassignView{
		BidderNumber:       result.Number,
		DisplacedGuestID:   result.DisplacedGuestID,
		DisplacedNewNumber: result.DisplacedNewNumber,
	})
}

// Release a guest's bidder number
// (DELETE /guests/{guestID}/bidder-number)
func (impl *ServerImpl) DeleteBidderNumber(c *gin.Context) {
	const op = "DeleteBidderNumber"
	guestID, ok := pathUUID(c, "guestID")
	if !ok {
		return
	}
	if _, ok := impl.identity(c); !ok {
		return
	}
	if err := impl.allocator.Release(c.Request.Context(), guestID); err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// List available bidder numbers for an event
// (GET /events/{eventID}/bidder-numbers/available)
func (impl *ServerImpl) GetAvailableBidderNumbers(c *gin.Context) {
	const op = "GetAvailableBidderNumbers"
	eventID, ok := pathUUID(c, "eventID")
	if !ok {
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid limit"})
			return
		}
		limit = parsed
	}
	numbers, err := impl.allocator.Available(c.Request.Context(), eventID, limit)
	if err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"numbers": numbers})
}

type buyNowBody struct {
	Enabled           bool   `json:"enabled"`
	RemainingQuantity int    `json:"remainingQuantity"`
	Reason            string `json:"reason"`
}

// Set buy-now availability for an item
// (PUT /items/{itemID}/buy-now)
func (impl *ServerImpl) PutBuyNow(c *gin.Context) {
	const op = "PutBuyNow"
	itemID, ok := pathUUID(c, "itemID")
	if !ok {
		return
	}
	if _, ok := impl.identity(c); !ok {
		return
	}
	var body buyNowBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if err := impl.tracker.Set(c.Request.Context(), itemID, body.Enabled, body.RemainingQuantity, body.Reason); err != nil {
		impl.abortWithError(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type itemBiddingView struct {
	ItemID           uuid.UUID  `json:"itemId"`
	Title            string     `json:"title"`
	Status           string     `json:"status"`
	BiddingOpen      bool       `json:"biddingOpen"`
	StartingBid      int64      `json:"startingBid"`
	BidIncrement     int64      `json:"bidIncrement"`
	CurrentBidAmount int64      `json:"currentBidAmount"`
	MinNextBidAmount int64      `json:"minNextBidAmount"`
	BidCount         int        `json:"bidCount"`
	CurrentBidID     *uuid.UUID `json:"currentBidId,omitempty"`
	BuyNowEnabled    bool       `json:"buyNowEnabled"`
	BuyNowPrice      *int64     `json:"buyNowPrice,omitempty"`
	Ledger           []bidView  `json:"ledger"`
}

// Read the denormalized bidding aggregate plus ledger history
// (GET /items/{itemID}/bidding)
func (impl *ServerImpl) GetItemBidding(c *gin.Context) {
	const op = "GetItemBidding"
	itemID, ok := pathUUID(c, "itemID")
	if !ok {
		return
	}
	var item models.AuctionItem
	if result := impl.db.First(&item, "id = ?", itemID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		impl.abortWithError(c, op, fmt.Errorf("[%s] Fail to find auction item, err=%w", op, result.Error))
		return
	}
	var ledger []models.Bid
	if result := impl.db.
		Where("auction_item_id = ?", itemID).
		Order("placed_at DESC, created_at DESC").
		Find(&ledger); result.Error != nil {
		impl.abortWithError(c, op, fmt.Errorf("[%s] Fail to load bid ledger, err=%w", op, result.Error))
		return
	}
	c.JSON(http.StatusOK, itemBiddingView{
		ItemID:           item.ID,
		Title:            item.Title,
		Status:           string(item.Status),
		BiddingOpen:      item.BiddingOpen,
		StartingBid:      item.StartingBid,
		BidIncrement:     item.BidIncrement,
		CurrentBidAmount: item.CurrentBidAmount,
		MinNextBidAmount: item.MinNextBidAmount,
		BidCount:         item.BidCount,
		CurrentBidID:     item.CurrentBidID,
		BuyNowEnabled:    item.BuyNowEnabled,
		BuyNowPrice:      item.BuyNowPrice,
		Ledger:           lo.Map(ledger, func(bid models.Bid, _ int) bidView { return toBidView(bid) }),
	})
}

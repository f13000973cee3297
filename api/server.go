package api

import (
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	redisAdapter "gavel/adapters/redis"
	"gavel/bidding"
	"gavel/models"
)

type ServerImpl struct {
	db          *gorm.DB
	redisClient *redis.Client
	publisher   *redisAdapter.AuditPublisher
	engine      *bidding.Engine
	allocator   *bidding.NumberAllocator
	tracker     *bidding.BuyNowTracker
	admin       *bidding.Admin

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.EventGuest{},
		&models.AuctionItem{},
		&models.Bid{},
		&models.BidActionAudit{},
		&models.BuyNowAvailability{},
	); err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate schema, err=%w", op, err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	publisher, err := redisAdapter.NewAuditPublisher(redisClient, config.Redis.StreamKeys.Audit)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create audit publisher, err=%w", op, err)
	}

	engine := bidding.NewEngine(db, bidding.WithAuditLogger(publisher))
	return &ServerImpl{
		db:          db,
		redisClient: redisClient,
		publisher:   publisher,
		engine:      engine,
		allocator:   bidding.NewNumberAllocator(db),
		tracker:     bidding.NewBuyNowTracker(db),
		admin: bidding.NewAdmin(db, engine,
			bidding.WithAdminAuditLogger(publisher)),
		config: config,
	}, nil
}

func (impl *ServerImpl) Start() {
	impl.publisher.Start()
	slog.Info("Audit publisher started", slog.String("stream", impl.config.Redis.StreamKeys.Audit))
}

func (impl *ServerImpl) Close() {
	impl.publisher.Close()
	if err := impl.redisClient.Close(); err != nil {
		slog.Warn("Fail to close redis client", slog.Any("error", err))
	}
}

func (impl *ServerImpl) RegisterRoutes(router *gin.Engine) {
	router.POST("/events/:eventID/items/:itemID/bids", impl.PostBid)
	router.POST("/bids/:bidID/cancel", impl.PostBidCancel)
	router.POST("/bids/:bidID/admin-actions", impl.PostBidAdminAction)
	router.POST("/events/:eventID/guests/:guestID/bidder-number", impl.PostBidderNumber)
	router.PUT("/events/:eventID/guests/:guestID/bidder-number", impl.PutBidderNumber)
	router.DELETE("/guests/:guestID/bidder-number", impl.DeleteBidderNumber)
	router.GET("/events/:eventID/bidder-numbers/available", impl.GetAvailableBidderNumbers)
	router.PUT("/items/:itemID/buy-now", impl.PutBuyNow)
	router.GET("/items/:itemID/bidding", impl.GetItemBidding)
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appbridge "github.com/bivex/store-bridge/internal/application/bridge"
	"github.com/bivex/store-bridge/internal/application/middleware"
	"github.com/bivex/store-bridge/internal/infrastructure/config"
	"github.com/bivex/store-bridge/internal/infrastructure/external/store"
	"github.com/bivex/store-bridge/internal/infrastructure/logging"
	"github.com/bivex/store-bridge/internal/infrastructure/persistence/pool"
	"github.com/bivex/store-bridge/internal/infrastructure/persistence/repository"
	app_handler "github.com/bivex/store-bridge/internal/interfaces/http/handlers"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logging.Init(&cfg.Sentry); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Sync()

	logging.Logger.Info("Starting store bridge gateway",
		zap.Int("port", cfg.Server.Port),
		zap.String("driver", cfg.Bridge.Driver),
		zap.String("environment", cfg.Sentry.Environment),
	)

	// Initialize database connection
	ctx := context.Background()
	dbPool, err := pool.NewPool(ctx, cfg.Database)
	if err != nil {
		logging.Logger.Fatal("Failed to create database pool", zap.Error(err))
	}
	defer pool.Close(dbPool)

	if err := pool.Ping(ctx, dbPool); err != nil {
		logging.Logger.Fatal("Failed to ping database", zap.Error(err))
	}

	// Initialize Redis
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logging.Logger.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	opts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logging.Logger.Fatal("Failed to ping Redis", zap.Error(err))
	}

	// Initialize the store boundary
	var (
		bridgeStore appbridge.Store
		appleStore  *store.Apple
		googleStore *store.Google
	)
	switch cfg.Bridge.Driver {
	case "memory":
		bridgeStore = store.NewMemory()
	default:
		appleStore = store.NewApple(cfg.Apple.SharedSecret, logging.Logger)
		googleStore = store.NewGoogle(cfg.Google.ServiceAccountJSON, cfg.Google.PackageName, logging.Logger)
		bridgeStore = store.NewMulti(appleStore, googleStore)
	}

	// Initialize the bridge
	bridge := appbridge.New(bridgeStore, appbridge.Options{
		EventBufferSize: cfg.Bridge.EventBufferSize,
		Logger:          logging.Logger,
	})
	defer bridge.Close()

	// Initialize repositories
	ledger := repository.NewPurchaseLedger(dbPool)

	// Initialize middleware
	jwtMiddleware := middleware.NewJWTMiddleware(
		cfg.JWT.Secret,
		redisClient,
		cfg.JWT.AccessTTL,
	)
	rateLimiter := middleware.NewRateLimiter(redisClient, true) // fail open

	// Initialize asynq client for webhook-triggered tasks
	asynqClient := asynq.NewClientFromRedisClient(redisClient)
	defer asynqClient.Close()

	// Initialize handlers
	bridgeHandler := app_handler.NewBridgeHandler(bridge, ledger)
	eventsHandler := app_handler.NewEventsHandler(bridge)

	// Setup Gin router
	if cfg.Sentry.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		logging.RequestMiddleware(logging.Logger),
	)

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "bridge": bridge.State().String()})
	})

	// Webhook routes (no auth, rate-limited; only meaningful with the
	// real store driver)
	if appleStore != nil && googleStore != nil {
		webhookHandler := app_handler.NewWebhookHandler(appleStore, googleStore, asynqClient)
		webhooks := router.Group("/webhook")
		webhooks.Use(rateLimiter.Middleware(middleware.ByIP, middleware.WebhookConfig))
		{
			webhooks.POST("/apple", webhookHandler.AppleWebhook)
			webhooks.POST("/google", webhookHandler.GoogleWebhook)
		}
	}

	// API v1 routes (require JWT)
	v1 := router.Group("/v1")
	v1.Use(jwtMiddleware.Authenticate())
	{
		conn := v1.Group("/connection")
		{
			conn.GET("", bridgeHandler.ConnectionStatus)
			conn.POST("", bridgeHandler.InitConnection)
			conn.DELETE("", bridgeHandler.EndConnection)
		}

		v1.POST("/products/fetch",
			rateLimiter.Middleware(middleware.ByUserID, middleware.DefaultConfig),
			bridgeHandler.FetchProducts,
		)

		purchases := v1.Group("/purchases")
		purchases.Use(rateLimiter.Middleware(middleware.ByUserID, middleware.PurchaseConfig))
		{
			purchases.POST("", bridgeHandler.RequestPurchase)
			purchases.POST("/finish", bridgeHandler.FinishTransaction)
			purchases.POST("/available", bridgeHandler.GetAvailablePurchases)
			purchases.POST("/acknowledge", bridgeHandler.AcknowledgePurchase)
			purchases.POST("/consume", bridgeHandler.ConsumePurchase)
			purchases.GET("/history", bridgeHandler.PurchaseHistory)
		}

		subs := v1.Group("/subscriptions")
		{
			subs.POST("/active", bridgeHandler.GetActiveSubscriptions)
			subs.POST("/status", bridgeHandler.SubscriptionStatus)
			subs.GET("/manage", bridgeHandler.ManageSubscription)
		}

		v1.GET("/storefront", bridgeHandler.GetStorefront)
		v1.GET("/events", eventsHandler.Stream)
	}

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	go func() {
		logging.Logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	// Close the store connection, rejecting any still-pending purchases.
	if err := bridge.EndConnection(shutdownCtx); err != nil {
		logging.Logger.Warn("Failed to close store connection", zap.Error(err))
	}

	logging.Logger.Info("Server exited")
}

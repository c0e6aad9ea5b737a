package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"support-chat-backend/internal/api"
	"support-chat-backend/internal/api/router"
	"support-chat-backend/internal/database"
	"support-chat-backend/internal/env"
	"support-chat-backend/internal/events"
	"support-chat-backend/internal/geo"
	"support-chat-backend/internal/jwt"
	"support-chat-backend/internal/limiter"
	"support-chat-backend/internal/queue"
	"support-chat-backend/internal/service/conversation"
	"support-chat-backend/internal/service/visitor"
	"support-chat-backend/internal/websocket"
)

const geoTimeout = 2 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("chat-server: fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := env.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDatabase(ctx, database.Config{
		Region:       cfg.AWSRegion,
		Endpoint:     cfg.DynamoDBEndpoint,
		AccessKey:    cfg.AWSID,
		SecretKey:    cfg.AWSSecret,
		SessionToken: cfg.AWSToken,
	})
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		publisher = kafka
		logger.Info("chat-server: publishing chat events", "topic", cfg.KafkaTopic)
	}
	defer publisher.Close()

	var rateLimiter limiter.Limiter = limiter.NewMemoryLimiter(cfg.RateLimitPerMinute, time.Minute, time.Now)
	if cfg.RedisURL != "" {
		rdb := limiter.NewRedisClient(cfg.RedisURL, cfg.RedisPass)
		defer rdb.Close()
		rateLimiter = limiter.NewRedisLimiter(rdb, "support-chat:rate", cfg.RateLimitPerMinute, time.Minute)
	}

	var locator geo.Locator = geo.NoopLocator{}
	if cfg.GeoLookupURL != "" {
		locator = geo.NewHTTPLocator(cfg.GeoLookupURL, geoTimeout)
	}

	visitors := visitor.New(db, visitor.Options{
		IPWindow:     cfg.VisitorIPWindow,
		ActiveWindow: cfg.ActiveVisitorWindow,
		Locator:      locator,
		Events:       publisher,
		Logger:       logger,
	})
	conversations := conversation.New(db, conversation.Options{
		ReopenWindow:    cfg.SessionReopenWindow,
		RetentionWindow: cfg.RetentionWindow,
		Events:          publisher,
		Logger:          logger,
	})
	verifier := jwt.NewVerifier(cfg.OperatorSecret)

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	sockets := websocket.NewHandler(hub, websocket.HandlerOptions{
		Conversations:  conversations,
		Visitors:       visitors,
		Auth:           verifier,
		Limiter:        rateLimiter,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	conversations.StartSweeper(ctx, cfg.CleanupInterval, cfg.WaitingEscalationAfter)

	queueManager := queue.NewRequestQueueManager(cfg.QueueSize, cfg.QueueWorkers, logger)
	defer queueManager.Shutdown()

	server := api.NewAPIServer(
		cfg.HTTPAddr,
		queueManager,
		api.Dependencies{
			Conversations: conversations,
			Visitors:      visitors,
			Hub:           hub,
			Sockets:       sockets,
			Verifier:      verifier,
		},
		api.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		},
		router.UtilsRoutes("/api/public/v1"),
		router.UtilsRoutes("/api/client/v1"),
		router.PublicRoutes("/api/public/v1"),
		router.ClientRoutes("/api/client/v1"),
		router.WebsocketRoutes("/api/ws/v1"),
	)

	return server.Run(ctx)
}

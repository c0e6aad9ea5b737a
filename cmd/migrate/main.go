package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"support-chat-backend/internal/database"
	"support-chat-backend/internal/env"
	"support-chat-backend/internal/service/conversation"
)

func main() {
	cleanup := flag.Bool("cleanup", false, "run one retention sweep after the tables exist")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := env.Load()
	if err != nil {
		logger.Error("migrate: load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := database.NewDatabase(ctx, database.Config{
		Region:       cfg.AWSRegion,
		Endpoint:     cfg.DynamoDBEndpoint,
		AccessKey:    cfg.AWSID,
		SecretKey:    cfg.AWSSecret,
		SessionToken: cfg.AWSToken,
	})
	if err != nil {
		logger.Error("migrate: connect", "error", err)
		os.Exit(1)
	}

	created, err := db.Client.EnsureTables(ctx, database.ChatSchema())
	if err != nil {
		logger.Error("migrate: ensure tables", "error", err)
		os.Exit(1)
	}
	logger.Info("migrate: tables ready", "created", created)

	if !*cleanup {
		return
	}

	svc := conversation.New(db, conversation.Options{
		RetentionWindow: cfg.RetentionWindow,
		Logger:          logger,
	})
	report, err := svc.CleanupClosedSessions(ctx)
	if err != nil {
		logger.Error("migrate: cleanup", "error", err)
		os.Exit(1)
	}
	logger.Info("migrate: cleanup done",
		"sessions", report.Sessions,
		"messages", report.Messages,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
	)
}

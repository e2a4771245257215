package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/clixen-ai/clixen-bot/internal/audit"
	"github.com/clixen-ai/clixen-bot/internal/auth"
	"github.com/clixen-ai/clixen-bot/internal/bot"
	"github.com/clixen-ai/clixen-bot/internal/classifier"
	"github.com/clixen-ai/clixen-bot/internal/dispatch"
	"github.com/clixen-ai/clixen-bot/internal/storage"
	"github.com/clixen-ai/clixen-bot/internal/token"
	"github.com/clixen-ai/clixen-bot/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	auditLog := audit.NewLogger(store, logger)

	// Core pipeline components
	resolver := auth.NewResolver(store, logger)
	linking := auth.NewLinkingService(store, auditLog, cfg.Auth.LinkingTokenTTL)
	tokens := token.NewService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	clf := classifier.NewGPTClassifier(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature,
		cfg.OpenAI.Timeout,
		logger,
	)
	dispatcher := dispatch.NewDispatcher(cfg.Dispatch.Workflows, cfg.Dispatch.Timeout, logger)
	logger.Info("Workflow endpoints configured", zap.Strings("workflows", dispatcher.Workflows()))

	// Initialize bot
	b, err := bot.New(cfg.Telegram.Token, bot.Options{
		WebhookURL:     cfg.Telegram.WebhookURL,
		ListenAddr:     cfg.Telegram.ListenAddr,
		MessageTimeout: cfg.Dispatch.MessageTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	b.AttachPipeline(bot.NewPipeline(bot.PipelineDeps{
		Resolver:   resolver,
		Linking:    linking,
		Classifier: clf,
		Tokens:     tokens,
		Dispatcher: dispatcher,
		Store:      store,
		Audit:      auditLog,
		Responder:  b,
		Logger:     logger,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the bot
	if err := b.Start(ctx); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/concept-bot/internal/bot"
	"github.com/xaenox/concept-bot/internal/dedup"
	"github.com/xaenox/concept-bot/internal/line"
	"github.com/xaenox/concept-bot/internal/llm"
	"github.com/xaenox/concept-bot/internal/menu"
	"github.com/xaenox/concept-bot/internal/server"
	"github.com/xaenox/concept-bot/internal/storage"
	"github.com/xaenox/concept-bot/pkg/config"
)

func newLogger(development bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		zap.NewExample().Fatal("Failed to load config", zap.Error(err), zap.String("path", configPath))
	}

	logger := newLogger(cfg.Log.Development)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(ctx, storage.DatabaseConfig{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	catalog, err := menu.Load(cfg.Menu.Path, logger)
	if err != nil {
		logger.Fatal("Failed to load menu", zap.Error(err), zap.String("path", cfg.Menu.Path))
	}
	logger.Info("Menu loaded", zap.Int("topics", len(catalog.MenuTopics())))

	var deduplicator dedup.Deduplicator = dedup.Nop{}
	if cfg.Redis.URL != "" {
		rd, err := dedup.NewRedis(cfg.Redis.URL, "", dedup.DefaultTTL)
		if err != nil {
			logger.Fatal("Failed to configure redis", zap.Error(err))
		}
		defer rd.Close()
		if err := rd.Ping(ctx); err != nil {
			logger.Warn("Redis not reachable, dedup will fail open", zap.Error(err))
		}
		deduplicator = rd
	}

	gateway := llm.NewGateway(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.APIBase,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
		HTTPReferer: cfg.LLM.HTTPReferer,
		XTitle:      cfg.LLM.XTitle,
		CheckOutput: cfg.LLM.CheckOutput,
	}, logger)

	lineClient, err := line.NewClient(cfg.Line.ChannelAccessToken, cfg.Line.APIBase, logger)
	if err != nil {
		logger.Fatal("Failed to create LINE client", zap.Error(err))
	}
	router := bot.New(store, gateway, lineClient, catalog, deduplicator, logger)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(cfg.Line.ChannelSecret, router, logger)
	if err := srv.Run(ctx, cfg.Addr()); err != nil {
		logger.Error("Server error", zap.Error(err))
	}
	logger.Info("Bot stopped")
}

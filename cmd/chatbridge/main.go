package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/auth"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/config"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/database"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/handler"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/middleware"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/observability"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/realtime"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/relay"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/repository"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/router"
)

const tokenRefreshSkew = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()

	observability.RegisterMetrics()
	validate := validator.New(validator.WithRequiredStructEnabled())

	httpClient := repository.NewHTTPClient(cfg.RequestTimeout)
	var credential realtime.Credential = auth.StaticCredential(cfg.AccessToken)
	if cfg.RefreshToken != "" {
		credential = auth.NewRefreshingCredential(cfg.AccessToken, cfg.RefreshToken, repository.NewTokenClient(cfg.APIBaseURL, httpClient), tokenRefreshSkew, logger)
	}
	chatRepo := repository.NewChatRepository(cfg.APIBaseURL, httpClient, credential, logger)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	var cache repository.HistoryCache
	if redisClient != nil {
		cache = repository.NewRedisHistoryCache(redisClient, cfg.ChannelBase, cfg.HistoryTTL, logger)
	}

	var publisher realtime.EventPublisher
	eventRelay := relay.New(redisClient, natsConn, cfg.ChannelBase, logger)
	if eventRelay.Enabled() {
		publisher = eventRelay
		relayLogger := logger.With().Str("component", "chat_notifications").Logger()
		if err := eventRelay.Listen(rootCtx, func(event realtime.RoomEvent) {
			relayLogger.Info().
				Int("room_id", event.RoomID).
				Str("type", event.Type).
				Str("source", event.Source).
				Msg("room activity")
		}); err != nil {
			logger.Warn().Err(err).Msg("room activity listener unavailable")
		}
	}

	directory := realtime.NewDirectory(chatRepo, validate, cfg.UnreadRefresh, logger)
	directory.Start(rootCtx)

	manager := realtime.NewManager(chatRepo, realtime.ManagerOptions{
		WSBaseURL:            cfg.WSBaseURL,
		Credential:           credential,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		PollInterval:         cfg.PollInterval,
		PageSize:             cfg.PageSize,
		TypingTimeout:        cfg.TypingTimeout,
		Cache:                cache,
		Publisher:            publisher,
		Validator:            validate,
		Directory:            directory,
	}, logger)

	chatHandler := handler.NewChatHandler(manager, directory, validate, cfg.ViewerID, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.BridgeOrigins})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler: chatHandler,
		RoomManager: manager,
	})

	go func() {
		if err := app.Listen(cfg.BridgeAddress()); err != nil {
			log.Fatalf("failed to start bridge: %v", err)
		}
	}()

	logger.Info().Str("address", cfg.BridgeAddress()).Str("api", cfg.APIBaseURL).Str("ws", cfg.WSBaseURL).Msg("chat bridge started")

	waitForShutdown(app, func() {
		manager.CloseAll()
		directory.Stop()
		cancelRoot()
	})
}

func waitForShutdown(app *fiber.App, teardown func()) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	teardown()

	log.Println("bridge stopped")
}

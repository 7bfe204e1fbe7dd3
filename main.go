package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"booklessons/internal/config"
	"booklessons/internal/events"
	"booklessons/internal/handler"
	"booklessons/internal/obs"
	"booklessons/internal/profile_client"
	"booklessons/internal/repository"
	"booklessons/internal/server"
	"booklessons/internal/service"
	"booklessons/internal/telegram_bot"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err) // Should not happen in development
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	// A local .env is optional
	if err := godotenv.Load(); err == nil {
		logger.Info("Loaded environment from .env")
	}

	// Load configuration
	cfgPath := os.Getenv(config.EnvPrefix + "_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yml"
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}

	// Database connection
	db, err := repository.NewDB(cfg.Database.Driver, cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := repository.MigrateDB(db, cfg.Database.Driver, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clock := service.SystemClock()

	// Profile lookups go to the profile service when configured, else to local tables
	var profiles service.ProfileDirectory = repository.NewProfileRepository(db, logger)
	if cfg.Profiles.URL != "" {
		profiles = profile_client.NewClient(cfg.Profiles.URL, cfg.Profiles.Timeout, logger)
		logger.Info("Using profile service", zap.String("url", cfg.Profiles.URL))
	}

	var publisher service.EventPublisher
	if cfg.Events.RabbitURL != "" {
		p, err := events.NewPublisher(cfg.Events.RabbitURL, cfg.Events.Exchange, logger)
		if err != nil {
			logger.Warn("Failed to connect to RabbitMQ, continuing without events", zap.Error(err))
		} else {
			defer p.Close()
			publisher = p
		}
	}

	bookingOpts := service.BookingOptions{
		Policy:        service.TransitionPolicy(cfg.Booking.TransitionPolicy),
		MeetingDomain: cfg.Booking.MeetingDomain,
		Publisher:     publisher,
	}

	if cfg.Tracing.Enabled {
		tp, err := obs.NewTracerProvider(ctx, cfg.Tracing.ServiceName, cfg.Tracing.OTLPEndpoint)
		if err != nil {
			logger.Warn("Failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(context.Background()) }()
			bookingOpts.Tracer = tp.Tracer("booklessons/service")
		}
	}

	// Initialize Telegram bot for manual review notifications
	var bot *telegram_bot.Bot
	if cfg.ReviewBot.Enabled {
		bot, err = telegram_bot.NewBot(cfg.ReviewBot.TelegramBotToken, cfg.ReviewBot.ChatID, logger)
		if err != nil {
			logger.Warn("Failed to initialize Telegram bot, continuing without it", zap.Error(err))
			bot = nil
		} else {
			bookingOpts.Notifier = bot
		}
	}

	// Initialize services
	fraudPolicy := service.FraudPolicy{
		SeverityWeights:    cfg.Fraud.SeverityWeights,
		DefaultWeight:      cfg.Fraud.DefaultWeight,
		ManualReviewWeight: cfg.Fraud.ManualReviewWeight,
		ReviewThreshold:    cfg.Fraud.ReviewThreshold,
	}
	auditTrail := service.NewAuditTrail(db, clock, logger)
	fraudService := service.NewFraudService(db, fraudPolicy, clock, logger)
	bookingService := service.NewBookingService(db, profiles, fraudService, auditTrail, clock, bookingOpts, logger)
	chatService := service.NewChatService(db, clock, service.ChatOptions{
		PollInterval:     cfg.Chat.PollInterval,
		Lookback:         cfg.Chat.Lookback,
		MaxBackoff:       cfg.Chat.MaxBackoff,
		MaxFetchFailures: cfg.Chat.MaxFetchFailures,
		DefaultLimit:     cfg.Chat.DefaultLimit,
		MaxLimit:         cfg.Chat.MaxLimit,
		Publisher:        publisher,
	}, logger)
	gdprService := service.NewGdprService(db, auditTrail, clock, service.GdprOptions{
		AuditCompletion: cfg.Gdpr.AuditCompletion,
	}, logger)

	// Run Telegram bot in a goroutine (if enabled)
	if bot != nil {
		go func() {
			if err := bot.Start(ctx, bookingService); err != nil {
				logger.Error("Telegram bot failed", zap.Error(err))
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.NewServer(cfg, server.Handlers{
		Booking: handler.NewBookingHandler(bookingService, logger),
		Chat:    handler.NewChatHandler(chatService, logger),
		Gdpr:    handler.NewGdprHandler(gdprService, logger),
		Fraud:   handler.NewFraudHandler(fraudService, logger),
		Audit:   handler.NewAuditHandler(auditTrail, logger),
	}, logger)

	go func() {
		if err := srv.Run(); err != nil {
			logger.Error("HTTP server stopped", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Application stopped.")
}

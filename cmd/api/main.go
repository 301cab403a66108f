package main

import (
	"context"
	"errors"
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
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/database"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/internal/router"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if cfg.AppEnv == "production" {
		logger = logger.Level(zerolog.InfoLevel)
	}

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: cfg.DatabaseMaxConns})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL, cfg.AppName)
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

	validate := validator.New(validator.WithRequiredStructEnabled())

	transactor := repository.NewTransactor(db)
	sessionRepo := repository.NewGradingSessionRepository(db)
	entryRepo := repository.NewGradingEntryRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	graderRepo := repository.NewGraderRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	events := service.NewGradingEventBus(redisClient, cfg.EventsChannel, natsConn, logger)
	activityService := service.NewActivityService(activityRepo, validate, logger)
	ledger := service.NewQuestionResultLedger(transactor, sessionRepo, entryRepo, events, logger)
	resolver := service.NewLatestVersionResolver(transactor, sessionRepo)

	managerDeps := service.SessionManagerDependencies{
		Transactor:  transactor,
		Sessions:    sessionRepo,
		Submissions: submissionRepo,
		Graders:     graderRepo,
		Ledger:      ledger,
		Resolver:    resolver,
		Events:      events,
		Activity:    activityService,
	}

	var dispatcher service.AutoScoringDispatcher
	if cfg.AutoScoringEnabled() {
		scorer, err := ai.NewOpenAIScorer(ai.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.AIModel,
			Logger:  logger,
		})
		if err != nil {
			log.Fatalf("failed to create ai scorer: %v", err)
		}
		dispatcher = service.NewAutoScoringDispatcher(scorer, ledger, sessionRepo, entryRepo, submissionRepo, service.AutoScoringConfig{
			Workers:   cfg.ScoringWorkers,
			QueueSize: cfg.ScoringQueueSize,
			Timeout:   cfg.ScoringTimeout,
		}, logger)
		managerDeps.AutoScoring = dispatcher
	} else {
		logger.Warn().Msg("openai api key missing, automatic sessions rely on broker ingestion")
	}

	sessionManager := service.NewGradingSessionManager(managerDeps, logger)
	overrides := service.NewManualOverrideProcessor(service.OverrideDependencies{
		Transactor: transactor,
		Sessions:   sessionRepo,
		Entries:    entryRepo,
		Graders:    graderRepo,
		Ledger:     ledger,
		Resolver:   resolver,
		Events:     events,
		Activity:   activityService,
	}, logger)
	results := service.NewGradingResultService(transactor, sessionRepo, entryRepo, submissionRepo, resolver, logger)

	ingestor, err := service.NewScoreIngestor(ledger, redisClient, natsConn, cfg.EventsChannel, logger)
	if err != nil {
		log.Fatalf("failed to create score ingestor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events.Start(ctx)
	ingestor.Start(ctx)
	if dispatcher != nil {
		dispatcher.Start(ctx)
	}

	gradingHandler := handler.NewGradingHandler(handler.GradingHandlerDependencies{
		Sessions:         sessionManager,
		Overrides:        overrides,
		Results:          results,
		Ledger:           ledger,
		AutoScoreLimiter: middleware.RateLimit(middleware.RateLimitConfig{
			Identifier: "auto-score",
			Max:        cfg.AutoScoreRateLimit,
			Window:     time.Minute,
			Redis:      redisClient,
		}),
		StaleAfter:       cfg.StaleAfter,
	}, validate, logger)
	streamHandler := handler.NewGradingStreamHandler(events, logger)
	activityHandler := handler.NewActivityHandler(activityService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSAllowOrigins,
		AccessLog:    cfg.AccessLog,
	})
	router.Register(app, cfg, router.Dependencies{
		GradingHandler:  gradingHandler,
		StreamHandler:   streamHandler,
		ActivityHandler: activityHandler,
		HealthProbes:    healthProbes(db, redisClient, natsConn),
		JWTMiddleware:   middleware.JWTProtected(middleware.JWTConfig{
			Secret: cfg.JWTSecret,
			Issuer: cfg.JWTIssuer,
			Leeway: cfg.JWTLeeway,
		}),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(ctx, app)
}

func healthProbes(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) map[string]handler.HealthProbe {
	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	if natsConn != nil {
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		}
	}
	return probes
}

func waitForShutdown(ctx context.Context, app *fiber.App) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}

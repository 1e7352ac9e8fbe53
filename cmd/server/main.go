package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	fiberSwagger "github.com/gofiber/swagger"
	"github.com/hibiken/asynq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/matrixai/api/docs"
	"github.com/matrixai/api/internal/auth"
	"github.com/matrixai/api/internal/client"
	"github.com/matrixai/api/internal/config"
	"github.com/matrixai/api/internal/events"
	"github.com/matrixai/api/internal/gateway"
	"github.com/matrixai/api/internal/handler"
	"github.com/matrixai/api/internal/logger"
	"github.com/matrixai/api/internal/middleware"
	"github.com/matrixai/api/internal/repository"
	"github.com/matrixai/api/internal/service"
	ws "github.com/matrixai/api/internal/websocket"
	"github.com/matrixai/api/internal/worker"
	"github.com/matrixai/api/pkg/response"
)

// @title          MatrixAI API
// @version        1.0
// @description    Backend for AI media generation: coin-charged video generation and transcription jobs.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)

	// Configure Swagger host/scheme based on environment
	if cfg.Server.ApiDomain != "" {
		docs.SwaggerInfo.Host = cfg.Server.ApiDomain
		docs.SwaggerInfo.Schemes = []string{"https"}
	} else {
		docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port
		docs.SwaggerInfo.Schemes = []string{"http"}
	}

	ctx := context.Background()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not available")
	}

	// Initialize database
	pool, err := repository.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	if err := repository.Migrate(pool); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	jobRepo := repository.NewJobRepository(pool)
	ledgerRepo := repository.NewLedgerRepository(pool)

	// Initialize external clients
	store, err := client.NewStorageClient(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to initialize artifact storage")
	}
	gateways := gateway.NewDashScopeRegistry(cfg, log)
	artifacts := client.NewArtifactClient(cfg.Jobs.UploadTimeout, cfg.Jobs.MaxArtifactBytes)

	// Initialize WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	// Job events are published to RabbitMQ when a broker is configured
	var publisher events.Publisher
	var amqpConn *amqp.Connection
	if cfg.RabbitMQ.URL != "" {
		amqpConn, err = amqp.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			log.Warn().Err(err).Msg("rabbitmq not available, job events stay local")
		} else {
			rabbit, err := events.NewRabbitPublisher(amqpConn, cfg.RabbitMQ.Exchange)
			if err != nil {
				log.Warn().Err(err).Msg("rabbitmq publisher not initialized")
			} else {
				publisher = rabbit
				defer rabbit.Close()
			}
		}
	}
	if amqpConn != nil {
		defer amqpConn.Close()
	}
	notifier := events.NewBroadcaster(hub, publisher, log)

	// Initialize services
	ledgerService := service.NewLedgerService(ledgerRepo, log)

	orchestrator := worker.NewOrchestrator(
		jobRepo, gateways, artifacts, store, ledgerService, notifier,
		worker.NewOrchestratorConfig(&cfg.Jobs), log,
	)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	dispatcher := worker.NewTaskDispatcher(asynqClient, inspector, worker.TaskTimeout(
		cfg.Jobs.InitialDelay, cfg.Jobs.PollInterval, cfg.Jobs.MaxAttempts, cfg.Jobs.UploadTimeout,
	))

	jobService := service.NewJobService(
		jobRepo, ledgerService, orchestrator, dispatcher, store, gateways,
		service.NewPricing(&cfg.Pricing), log,
	)

	// Initialize handlers
	validate := validator.New()
	jobHandler := handler.NewJobHandler(jobService, validate, log)
	ledgerHandler := handler.NewLedgerHandler(ledgerService)

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var tokenVerifier auth.TokenVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(ctx, &cfg.Zitadel)
		if err != nil {
			log.Warn().Err(err).Msg("JWKS verifier not initialized")
		} else {
			tokenVerifier = jwksVerifier
			defer jwksVerifier.Close()
		}
	}
	authenticator := auth.NewAuthenticator(tokenVerifier, cfg.JWT.Secret)
	authHandler := handler.NewAuthHandler(authenticator)

	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Info().Msg("gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(authenticator).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: !cfg.IsDevelopment(),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"database":  pool.Ping(c.UserContext()) == nil,
				"redis":     redisClient.Ping(c.UserContext()).Err() == nil,
				"dashscope": cfg.DashScope.APIKey != "",
				"storage":   cfg.Storage.Driver,
				"events":    publisher != nil,
				"auth":      authenticator.Configured(),
			},
		})
	})

	// Swagger UI
	app.Get("/swagger/*", fiberSwagger.HandlerDefault)

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour), jobHandler.Create)
	jobs.Get("/", jobHandler.List)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Delete("/:jobId", jobHandler.Delete)

	ledger := api.Group("/ledger")
	ledger.Get("/balance", ledgerHandler.Balance)
	ledger.Get("/transactions", ledgerHandler.Transactions)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	srv := startWorkerServer(cfg, redisOpt, orchestrator, log)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	// In-flight poll loops stop here; their tasks are retried by the next process
	if srv != nil {
		srv.Shutdown()
	}
}

func startWorkerServer(
	cfg *config.Config,
	redisOpt asynq.RedisClientOpt,
	orchestrator *worker.Orchestrator,
	log zerolog.Logger,
) *asynq.Server {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Jobs.Concurrency,
		Queues: map[string]int{
			worker.QueueJobs: 1,
		},
		Logger:   logger.NewAsynqLogger(log),
		LogLevel: logger.AsynqLevel(cfg.Server.LogLevel),
	})

	jobWorker := worker.NewJobWorker(orchestrator, log)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeProcessJob, jobWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Error().Err(err).Msg("asynq worker error")
		return nil
	}
	return srv
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(response.ErrorResponse{
		Error: response.ErrorDetail{
			Code:    response.CodeServiceError,
			Message: message,
		},
	})
}

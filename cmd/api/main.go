package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/api"
	"github.com/corelink-ai/provider-gateway/internal/config"
	"github.com/corelink-ai/provider-gateway/internal/services/circuitbreaker"
	"github.com/corelink-ai/provider-gateway/internal/services/credential"
	"github.com/corelink-ai/provider-gateway/internal/services/database"
	"github.com/corelink-ai/provider-gateway/internal/services/gateway"
	"github.com/corelink-ai/provider-gateway/internal/services/keygroup"
	"github.com/corelink-ai/provider-gateway/internal/services/secrets"
	"github.com/corelink-ai/provider-gateway/internal/services/usagelog"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load environment files explicitly
	envFiles := []string{".env.local", ".env.development", ".env"}
	config.LoadEnvFiles(envFiles)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.New(configPath)
	if err != nil {
		fiberlog.Fatalf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		fiberlog.Fatalf("Server failed: %v", err)
	}
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogLevel(cfg)

	// === Infrastructure ===
	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fiberlog.Errorf("Failed to close database connection: %v", err)
		}
	}()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	fiberlog.Infof("Database (%s) initialized and migrated", db.DriverName())

	codec, err := secrets.NewCodecFromBase64(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize secret codec: %w", err)
	}

	redisClient, err := createRedisClient(cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				fiberlog.Errorf("Failed to close Redis client: %v", err)
			}
		}()
	}

	// === Services ===
	credStore := credential.NewStore(db.DB)
	groupStore := keygroup.NewStore(db.DB)

	selector := credential.NewSelector(credStore, cfg.Credentials)
	defer selector.Stop()

	accountant := credential.NewAccountant(credStore)
	rotator := keygroup.NewRotator(groupStore)

	sweepInterval := time.Duration(cfg.Credentials.SweepIntervalMinutes) * time.Minute
	sweeper := credential.NewSweeper(credStore, cfg.Credentials.Amnesty, sweepInterval)
	go sweeper.Start(context.Background())
	defer sweeper.Stop()

	usageWorker := createUsageWorker(cfg, db)
	if usageWorker != nil {
		defer usageWorker.Stop()
	}

	breakers, err := createBreakers(cfg, redisClient, credStore)
	if err != nil {
		return err
	}

	gatewaySvc := gateway.New(gateway.Options{
		Config:     cfg,
		CredStore:  credStore,
		Selector:   selector,
		Accountant: accountant,
		GroupStore: groupStore,
		Rotator:    rotator,
		Codec:      codec,
		Breakers:   breakers,
		Usage:      usageWorker,
	})

	// === HTTP surface ===
	app := createFiberApp(cfg)
	setupMiddleware(app, cfg)
	setupRoutes(app, cfg, gatewaySvc, credStore, groupStore, codec, db, redisClient)

	listenAddr := ":" + cfg.Server.Port

	fmt.Printf("Provider Gateway starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", cfg.Server.Environment)
	fmt.Printf("   Go version: %s\n", runtime.Version())

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	}

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	fiberlog.Info("Server shutdown completed successfully")
	return nil
}

func createFiberApp(cfg *config.Config) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:           "Provider Gateway v1.0",
		EnablePrintRoutes: cfg.Server.Environment != "production",
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		ReadBufferSize:    8192,
		CaseSensitive:     true,
		ServerHeader:      "ProviderGateway",
	})
}

func setupMiddleware(app *fiber.App, cfg *config.Config) {
	isProd := cfg.Server.Environment == "production"

	// Recover middleware (must be first)
	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:               1000,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			if callerID := c.Get("X-Caller-ID"); callerID != "" {
				return callerID
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return fmt.Errorf("1000 requests per minute")
		},
	}))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}

	allowedOrigins := cfg.Server.AllowedOrigins
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowedOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Provider, X-Caller-ID, X-Request-ID",
		AllowMethods:  "GET, POST, PATCH, DELETE, OPTIONS",
		MaxAge:        86400,
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
	}))
}

func setupRoutes(
	app *fiber.App,
	cfg *config.Config,
	gatewaySvc *gateway.Service,
	credStore *credential.Store,
	groupStore *keygroup.Store,
	codec *secrets.Codec,
	db *database.DB,
	redisClient *redis.Client,
) {
	healthHandler := api.NewHealthHandler(db, redisClient)
	app.Get("/health", healthHandler.HealthCheck)

	completionHandler := api.NewCompletionHandler(cfg, gatewaySvc)
	v1 := app.Group("/v1")
	v1.Post("/chat/completions", completionHandler.Completion)
	v1.Get("/providers", completionHandler.ListProviders)

	app.Use("/admin", api.RequireAdmin(cfg.Server.AdminToken))
	api.NewProviderHandler(credStore).RegisterRoutes(app, "/admin/providers")
	api.NewCredentialHandler(credStore, codec, gatewaySvc, cfg.Credentials.Amnesty).RegisterRoutes(app, "/admin/credentials")
	api.NewKeyGroupHandler(groupStore, credStore, codec).RegisterRoutes(app, "/admin/key-groups")
}

func setupLogLevel(cfg *config.Config) {
	switch cfg.Server.LogLevel {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info", "":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
		fiberlog.Warnf("Unknown log level '%s', defaulting to 'info'", cfg.Server.LogLevel)
	}
}

func createRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.CircuitBreaker.Enabled || cfg.CircuitBreaker.RedisURL == "" {
		fiberlog.Info("Redis not configured - circuit breakers disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.CircuitBreaker.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			fiberlog.Errorf("Failed to close Redis client: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	fiberlog.Info("Redis connection established successfully")
	return client, nil
}

// createBreakers builds one breaker per known provider code.
func createBreakers(cfg *config.Config, redisClient *redis.Client, credStore *credential.Store) (map[string]*circuitbreaker.Breaker, error) {
	if redisClient == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	providers, err := credStore.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers for circuit breakers: %w", err)
	}

	breakers := make(map[string]*circuitbreaker.Breaker, len(providers))
	for _, p := range providers {
		breakers[p.Code] = circuitbreaker.New(redisClient, p.Code, cfg.CircuitBreaker)
	}

	fiberlog.Infof("Circuit breakers initialized for %d providers", len(breakers))
	return breakers, nil
}

// createUsageWorker picks the usage sink: a dedicated store when configured,
// the main database otherwise. A dedicated store that cannot be reached
// degrades to the structured log sink rather than blocking startup.
func createUsageWorker(cfg *config.Config, db *database.DB) *usagelog.Worker {
	if !cfg.UsageLog.Enabled {
		return nil
	}

	var sink usagelog.Sink
	if cfg.UsageLog.Database != nil {
		usageDB, err := database.New(*cfg.UsageLog.Database)
		if err != nil {
			fiberlog.Warnf("Usage log database unavailable, falling back to log sink: %v", err)
			sink = usagelog.NewLogSink()
		} else {
			dbSink := usagelog.NewDBSink(usageDB.DB)
			if err := dbSink.AutoMigrate(); err != nil {
				fiberlog.Warnf("Usage log migration failed, falling back to log sink: %v", err)
				sink = usagelog.NewLogSink()
			} else {
				sink = dbSink
			}
		}
	} else {
		dbSink := usagelog.NewDBSink(db.DB)
		if err := dbSink.AutoMigrate(); err != nil {
			fiberlog.Warnf("Usage log migration failed, falling back to log sink: %v", err)
			sink = usagelog.NewLogSink()
		} else {
			sink = dbSink
		}
	}

	return usagelog.NewWorker(sink, cfg.UsageLog.PoolSize, cfg.UsageLog.BufferSize)
}

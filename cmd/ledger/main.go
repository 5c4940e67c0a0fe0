package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/kislikjeka/festpay/internal/infra/postgres"
	infraRedis "github.com/kislikjeka/festpay/internal/infra/redis"
	"github.com/kislikjeka/festpay/internal/ledger"
	"github.com/kislikjeka/festpay/internal/transport/httpapi"
	"github.com/kislikjeka/festpay/internal/transport/httpapi/handler"
	"github.com/kislikjeka/festpay/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/festpay/pkg/config"
	"github.com/kislikjeka/festpay/pkg/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	skipMigrate := pflag.Bool("skip-migrate", false, "do not apply database migrations on start")
	pflag.Parse()

	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadLedger(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDefault(cfg.Env)
	log.Info("Starting FestPay ledger",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if !*skipMigrate {
		if err := postgres.Migrate(cfg.DatabaseURL, log); err != nil {
			log.Error("Failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	db, err := postgres.NewPool(ctx, postgres.Config{URL: cfg.DatabaseURL}, log)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Database connection established")

	// Redis holds acknowledgements of recent submissions; the ledger runs without it
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()

	var (
		ackCache  ledger.AckCache
		cachePing handler.Pinger
	)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("Redis unavailable, acknowledgement cache disabled", "error", err)
	} else {
		cache := infraRedis.NewAckCache(redisClient, log)
		ackCache = cache
		cachePing = handler.PingFunc(cache.Health)
		log.Info("Redis connection established")
	}

	deriver, err := ledger.NewSecretDeriver([]byte(cfg.MasterSecret))
	if err != nil {
		log.Error("Invalid master secret", "error", err)
		os.Exit(1)
	}

	ledgerSvc := ledger.NewService(postgres.NewLedgerRepository(db.Pool), ackCache, deriver, log)
	jwtSvc := middleware.NewJWTService(cfg.JWTSecret)

	catalogFile := &config.CatalogFile{}
	if cfg.CatalogPath != "" {
		catalogFile, err = config.LoadCatalogFile(cfg.CatalogPath)
		if err != nil {
			log.Error("Failed to load catalog", "error", err)
			os.Exit(1)
		}
	}
	catalogHandler, err := handler.NewCatalogHandler(catalogFile)
	if err != nil {
		log.Error("Failed to build catalog", "error", err)
		os.Exit(1)
	}
	log.Info("Catalog loaded", "stands", len(catalogFile.Stands), "products", len(catalogFile.Products))

	r := httpapi.NewRouter(httpapi.Config{
		Logger:         log,
		AllowedOrigins: cfg.AllowedOrigins,
		DeviceHandler:  handler.NewDeviceHandler(jwtSvc, ledgerSvc, cfg.EnrollmentKey, log),
		SyncHandler:    handler.NewSyncHandler(ledgerSvc, log),
		WalletHandler:  handler.NewWalletHandler(ledgerSvc, log),
		CatalogHandler: catalogHandler,
		HealthHandler:  handler.NewHealthHandler(handler.PingFunc(db.Health), cachePing),
		JWTMiddleware:  middleware.JWTMiddleware(jwtSvc),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("Server stopped gracefully")
}

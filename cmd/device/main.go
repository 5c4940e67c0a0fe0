package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/kislikjeka/festpay/internal/infra/gateway/ledgerclient"
	"github.com/kislikjeka/festpay/internal/infra/localdb"
	"github.com/kislikjeka/festpay/internal/platform/catalog"
	"github.com/kislikjeka/festpay/internal/platform/identity"
	"github.com/kislikjeka/festpay/internal/platform/netmon"
	"github.com/kislikjeka/festpay/internal/platform/pos"
	"github.com/kislikjeka/festpay/internal/platform/queue"
	"github.com/kislikjeka/festpay/internal/platform/signing"
	pkgsync "github.com/kislikjeka/festpay/internal/platform/sync"
	"github.com/kislikjeka/festpay/internal/platform/txn"
	"github.com/kislikjeka/festpay/internal/transport/deviceapi"
	"github.com/kislikjeka/festpay/pkg/config"
	"github.com/kislikjeka/festpay/pkg/logger"
	"github.com/kislikjeka/festpay/pkg/money"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDevice(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDefault(cfg.Env)

	pool, err := localdb.OpenPool(localdb.Config{Path: cfg.DataPath}, log)
	if err != nil {
		log.Error("Failed to open local database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := localdb.NewStore(pool)

	id, err := identity.Load(ctx, store, identity.SecretSource(cfg.SecretSource))
	if err != nil {
		log.Error("Failed to load device identity", "error", err)
		os.Exit(1)
	}
	log = log.WithField("device_id", id.DeviceID())
	log.Info("Starting FestPay device agent",
		"env", cfg.Env,
		"ledger", cfg.LedgerURL,
		"provisioned", id.Provisioned(),
	)

	limit, err := money.Parse(cfg.QRSpendLimit)
	if err != nil {
		log.Error("Invalid qr_spend_limit", "error", err)
		os.Exit(1)
	}

	catalogCache := catalog.NewCache(store, log)
	if err := catalogCache.Load(ctx); err != nil {
		log.Warn("Cached catalog unreadable, starting without one", "error", err)
	}

	q := queue.New(store, id, log)
	factoryOpts := []txn.Option{txn.WithStandLookup(catalogCache)}
	if cfg.StrictItemTotals {
		factoryOpts = append(factoryOpts, txn.WithStrictItemTotals())
	}
	factory := txn.NewFactory(id, signing.NewEngine(id), txn.SigningPolicy(cfg.SigningPolicy), factoryOpts...)

	client := ledgerclient.NewClient(cfg.LedgerURL, id.DeviceID(), cfg.EnrollmentKey, log)
	adapter := ledgerclient.NewAdapter(client)

	engine := pkgsync.NewEngine(&pkgsync.Config{
		MaxRetries:        cfg.Sync.MaxRetries,
		MinRetryDelay:     cfg.Sync.RetryDelay,
		SubmitTimeout:     cfg.Sync.SubmitTimeout,
		MaxAge:            cfg.Sync.MaxAge,
		ConcurrentWallets: cfg.Sync.ConcurrentWallets,
		PollInterval:      cfg.Sync.PollInterval,
	}, q, adapter, log)

	links := netmon.NewManualSource(netmon.ParseLinkType(cfg.LinkType))
	monitor := netmon.New(netmon.Config{
		ProbeInterval: cfg.Probe.Interval,
		ProbeTimeout:  cfg.Probe.Timeout,
	}, links, adapter, engine, log)
	engine.SetReachability(monitor)

	svc := pos.NewService(q, factory, engine, adapter, catalogCache, log,
		pos.WithNetwork(monitor, links),
		pos.WithQRSpendLimit(limit),
	)
	if cfg.SecretSource == string(identity.SecretFromServer) {
		// every drain first tries to provision a device that booted offline
		engine.SetProvisioner(svc)
	}

	// Provision at start when the ledger is already reachable; otherwise the next drain retries
	if cfg.SecretSource == string(identity.SecretFromServer) && !id.Provisioned() {
		provisionCtx, cancel := context.WithTimeout(ctx, cfg.Sync.SubmitTimeout)
		if resigned, err := svc.Provision(provisionCtx); err != nil {
			log.Warn("Provisioning deferred", "error", err)
		} else {
			log.Info("Device provisioned", "resigned", resigned)
		}
		cancel()
	}

	go monitor.Run(ctx)
	go engine.Run(ctx)
	go refreshCatalog(ctx, svc, log)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      deviceapi.NewRouter(deviceapi.NewHandler(svc, log), log, nil),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * cfg.Sync.SubmitTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Device API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	// Stop a running drain between submissions; unsent items stay queued
	engine.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("Device agent stopped gracefully")
}

// refreshCatalog pulls the catalog once at start and then hourly
func refreshCatalog(ctx context.Context, svc *pos.Service, log *logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		if changed, err := svc.RefreshCatalog(ctx); err != nil {
			log.Debug("Catalog refresh skipped", "error", err)
		} else if changed {
			log.Info("Catalog updated")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"table-allocation-backend/config"
	"table-allocation-backend/internal/allocator"
	"table-allocation-backend/internal/api"
	"table-allocation-backend/internal/availability"
	"table-allocation-backend/internal/backfill"
	"table-allocation-backend/internal/catalog"
	"table-allocation-backend/internal/conflict"
	"table-allocation-backend/internal/db"
	"table-allocation-backend/internal/logger"
	"table-allocation-backend/internal/notification"
	"table-allocation-backend/internal/store"
	"table-allocation-backend/internal/walkin"
)

func main() {
	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	zl, err := logger.New(&cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()
	zl.Info("configuration loaded", zap.String("path", configPath), zap.String("timezone", cfg.Venue.Timezone))

	gormDB, err := db.Init(&cfg.Database, zl.Named("db"))
	if err != nil {
		zl.Fatal("failed to initialize database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	directory := catalog.NewDirectory(appStore, cache.New(catalog.DefaultCacheTTL, 2*catalog.DefaultCacheTTL), zl.Named("catalog"))
	calc := availability.NewCalculator(appStore, directory, zl.Named("availability"))
	alloc := allocator.New(appStore, calc, cfg.Allocator, zl.Named("allocator"))
	detector := conflict.NewDetector(calc, cfg.Conflict, zl.Named("conflict"))
	orchestrator := walkin.NewOrchestrator(appStore, detector, alloc, cfg.WalkIn, cfg.Venue.Location, zl.Named("walkin"))
	walkIns := walkin.NewRegistry(orchestrator, cfg.WalkIn.SessionTTL)

	var webpushOptions *webpush.Options
	var notifier backfill.Dispatcher
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		zl.Warn("VAPID keys are not configured, push notifications are disabled")
	} else {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions, zl.Named("notification"))
		pool.Start(ctx)
		notifier = pool
	}

	sweeper := backfill.NewSweeper(cfg.Backfill, cfg.Venue.Location, appStore, alloc, notifier, zl.Named("backfill"))
	go sweeper.Run(ctx)

	handler := api.NewHandler(api.Services{
		Store:     appStore,
		Directory: directory,
		Calc:      calc,
		Allocator: alloc,
		Detector:  detector,
		WalkIns:   walkIns,
		Sweeper:   sweeper,
	}, cfg, webpushOptions, zl.Named("api"))
	router := api.NewRouter(handler, cfg.Server, zl.Named("http"))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		zl.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	zl.Info("shutdown signal received, stopping services")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Fatal("HTTP server Shutdown", zap.Error(err))
	}

	zl.Info("server gracefully stopped")
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-settlement-engine/internal/admin"
	"trade-settlement-engine/internal/api"
	"trade-settlement-engine/internal/config"
	"trade-settlement-engine/internal/database"
	"trade-settlement-engine/internal/ledger"
	"trade-settlement-engine/internal/logger"
	"trade-settlement-engine/internal/notify"
	"trade-settlement-engine/internal/pricefeed"
	"trade-settlement-engine/internal/settlement"
	"trade-settlement-engine/internal/trading"
	"trade-settlement-engine/internal/trigger"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger("settlement-engine", cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	prices, err := newPriceFeed(ctx, cfg.PriceFeed, log)
	if err != nil {
		log.Fatal("Failed to connect to price feed", zap.Error(err))
	}

	store := ledger.NewStore(db, log)
	cache, err := settlement.NewTerminalCache(cfg.Settlement.CacheMaxEntries, log)
	if err != nil {
		log.Fatal("Failed to create terminal cache", zap.Error(err))
	}
	defer cache.Close()

	executor := settlement.NewExecutor(settlement.ExecutorConfig{Store: store, Cache: cache, Logger: log})
	settler := settlement.NewSettler(settlement.SettlerConfig{
		Store:    store,
		Resolver: settlement.NewResolver(nil),
		Executor: executor,
		Platform: cfg.Platform,
		Logger:   log,
	})

	sinks := []notify.Sink{notify.NewLogSink(log)}
	if cfg.Notify.RedisAddr != "" {
		redisSink, rdb, err := notify.NewRedisSink(ctx, cfg.Notify)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		sinks = append(sinks, redisSink)
		log.Info("Publishing notifications to redis", zap.String("channel", cfg.Notify.RedisChannel))
	}

	server := api.New(&api.Config{
		Port:          cfg.Server.Port,
		EnableFunding: cfg.Server.EnableFunding,
		Store:         store,
		Trading:       trading.NewService(store, prices, cfg.Platform, nil, log),
		Settler:       settler,
		Override:      admin.NewOverride(store, settler, log),
		Logger:        log,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		trigger.NewSweeper(store, settler, cfg.Settlement, log).Run(ctx)
	}()
	go func() {
		defer wg.Done()
		notify.NewDispatcher(store, cfg.Notify, log, sinks...).Run(ctx)
	}()

	go func() {
		if err := server.Start(); err != nil {
			log.Error("API server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to stop API server", zap.Error(err))
	}
	wg.Wait()

	log.Info("Settlement engine has been shut down.")
}

// newPriceFeed uses the REST ticker when a base URL is configured, static prices otherwise.
func newPriceFeed(ctx context.Context, cfg config.PriceFeed, log *zap.Logger) (trading.PriceFeed, error) {
	if cfg.BaseURL == "" {
		prices := make(map[string]decimal.Decimal, len(cfg.StaticPrices))
		for symbol, p := range cfg.StaticPrices {
			prices[symbol] = decimal.NewFromFloat(p)
		}
		log.Info("Using static price feed", zap.Int("symbols", len(prices)))
		return pricefeed.NewStaticFeed(prices), nil
	}

	restClient := pricefeed.NewRestClient(&cfg, log)
	if _, err := restClient.GetServerTime(ctx); err != nil {
		return nil, err
	}
	log.Info("Successfully connected to price feed API.", zap.String("base-url", cfg.BaseURL))
	return restClient, nil
}

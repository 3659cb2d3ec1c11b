package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vitos/trade_controller/internal/config"
	"github.com/vitos/trade_controller/internal/domain"
	"github.com/vitos/trade_controller/internal/infrastructure/execution"
	"github.com/vitos/trade_controller/internal/infrastructure/logger"
	"github.com/vitos/trade_controller/internal/infrastructure/marketdata"
	"github.com/vitos/trade_controller/internal/infrastructure/metrics"
	"github.com/vitos/trade_controller/internal/infrastructure/storage"
	"github.com/vitos/trade_controller/internal/usecase"
	"github.com/vitos/trade_controller/internal/web"
	"go.uber.org/zap"
)

// noSignal is the generator wired when no strategy plugin is configured.
// The controller still screens, evaluates exits, and serves status.
type noSignal struct{}

func (noSignal) GenerateOrder(ctx context.Context, snap *domain.MarketSnapshot) (*domain.Order, string, error) {
	return nil, "no_generator", nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "controller.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	guardPath := cfg.Guards.SnapshotPath
	if guardPath == "" {
		guardPath = "guard_day.json"
	}
	guardFile := storage.NewGuardFile(guardPath)

	// 4. Init Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	prom := metrics.NewPrometheus(registry)

	// 5. Init Feed and Executor
	feed := marketdata.NewFeed(cfg.Feed.WSEndpoint, cfg.Feed.RESTEndpoint, cfg.Feed.PollInterval.Std(), log)
	executor := execution.NewSimulated(cfg.Exits.FeeRate, log)

	// 6. Init Controller
	controller := usecase.NewController(usecase.Deps{
		Config:     cfg,
		ConfigPath: *configPath,
		Logger:     log,
		Feed:       feed,
		Generator:  noSignal{},
		Executor:   executor,
		Evaluators: map[string]domain.ExitEvaluator{},
		Positions:  store,
		Ledger:     store,
		Status:     store,
		GuardState: guardFile,
		Metrics:    prom,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := controller.Restore(ctx); err != nil {
		log.Fatal("Failed to restore state", zap.Error(err))
	}

	// 7. Start Feed
	feed.Start(ctx)

	// 8. Start Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, controller, store, registry, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 9. Run the loop until a signal arrives
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info("Shutting down...")
		cancel()
	}()

	controller.Run(ctx)
	server.Shutdown(context.Background())
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"stock-service/config"
	"stock-service/internal/api"
	"stock-service/internal/broker"
	"stock-service/internal/redisclient"
	"stock-service/internal/service"
	"stock-service/internal/store"
	"stock-service/internal/util"
	"stock-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// durableStore is what both store backends provide.
type durableStore interface {
	service.SnapshotRepository
	service.OrderRepository
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

func openDurableStore(cfg config.DatabaseConfig) (durableStore, error) {
	switch cfg.Driver {
	case "postgres", "":
		return store.NewStore(cfg.URL)
	case "mysql":
		return store.NewGormStore(cfg.MySQLDSN)
	default:
		return nil, fmt.Errorf("unknown durable driver %q", cfg.Driver)
	}
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting stock service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("stock-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDurableStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))

	pool := worker.NewPool(cfg.Stock.SyncWorkers, cfg.Stock.SyncTaskTimeout)
	pool.Start(ctx)
	defer pool.Stop()

	stocks := service.NewStockStore(redisClient, cfg.Stock.StockTTL)
	lock := service.NewReservationLock(redisClient)
	syncer := service.NewStockSyncer(stocks, db, pool, cfg.Stock.SyncInterval, cfg.Stock.AuditMaxProducts)
	auditor := service.NewConsistencyAuditor(stocks, db, cfg.Stock.AuditMaxProducts)
	coordinator := service.NewOrderStockCoordinator(stocks, lock, db, service.CoordinatorConfig{
		LeaseTTL:      cfg.Stock.LeaseTTL,
		RetryAttempts: cfg.Stock.LockRetryAttempts,
		RetryBackoff:  cfg.Stock.LockRetryBackoff,
	})
	stockService := service.NewStockService(stocks, coordinator, syncer, db, pool, eventPublisher, cfg.Stock.AuditMaxProducts)
	orderService := service.NewOrderService(db, coordinator, eventPublisher)

	if cfg.Stock.WarmUpOnStart {
		if _, err := stockService.WarmUp(ctx); err != nil {
			logger.Error("Failed to warm up stock from durable store", zap.Error(err))
		}
	}

	commandConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands, cfg.Kafka.ConsumerGroup)
	commandWorker := worker.NewOrderCommandWorker(commandConsumer, orderService)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(stockService, syncer, auditor, orderService,
		api.ReadinessCheck{Name: "redis", Ping: redisClient.Ping},
		api.ReadinessCheck{Name: "database", Ping: db.Ping},
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return syncer.Start(gctx)
	})

	g.Go(func() error {
		return commandWorker.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		return commandWorker.Stop()
	})

	if err := g.Wait(); err != nil {
		logger.Error("Stock service stopped with error", zap.Error(err))
	}

	logger.Info("Server exited")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/bookstore/internal/adapter/handler"
	"github.com/rl1809/bookstore/internal/adapter/storage"
	"github.com/rl1809/bookstore/internal/config"
	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/core/service"
	"github.com/rl1809/bookstore/internal/logger"
	"github.com/rl1809/bookstore/internal/outbox"
	"github.com/rl1809/bookstore/internal/port"
	"github.com/rl1809/bookstore/internal/tracing"
)

// store is what both storage backends provide: transactional queries for the
// services and batch leasing for the outbox relay.
type store interface {
	port.Store
	outbox.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init("bookstore", cfg.Tracing.Enabled, os.Stdout)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	db, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	cache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	ledger := service.NewInventoryLedger(db, log)
	carts := service.NewCartService(db, log)
	checkout := service.NewCheckoutService(db, cache, ledger, log)
	reviews := service.NewReviewService(db, cache, log, cfg.Reviews.RequirePurchase)

	var wg sync.WaitGroup
	if len(cfg.Kafka.Brokers) > 0 {
		w := outbox.NewKafkaWriter(cfg.Kafka.Brokers)
		defer w.Close()

		relay := outbox.NewRelay(log, db, outbox.NewDispatcher(log, w, cfg.Kafka.Topic), "relay-"+uuid.NewString(),
			outbox.WithInterval(cfg.Kafka.RelayInterval),
			outbox.WithBatchSize(cfg.Kafka.RelayBatch),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
		log.Info("outbox relay started", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	} else {
		log.Info("no kafka brokers configured, outbox relay disabled")
	}

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLogger(log)))
		handler.RegisterCartServiceServer(grpcServer, handler.NewGRPCHandler(log, carts, checkout, ledger))

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		go func() {
			log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				log.Error("gRPC server error", zap.Error(err))
			}
		}()
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler.NewHTTPHandler(log, carts, checkout, ledger, reviews).Routes(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown", zap.Error(err))
		}
		log.Info("HTTP server stopped")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
		log.Info("gRPC server stopped")
	}

	wg.Wait()
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store, func(), error) {
	if cfg.Store == config.StoreMemory {
		mem := storage.NewMemoryAdapter()
		if err := seedDemo(ctx, mem); err != nil {
			return nil, nil, fmt.Errorf("seed memory store: %w", err)
		}
		log.Info("using in-memory store with demo catalog")
		return mem, func() {}, nil
	}

	sqlDB, err := storage.OpenMySQL(ctx, cfg.MySQL)
	if err != nil {
		return nil, nil, err
	}
	m := storage.NewMySQLAdapter(sqlDB, log)
	if cfg.MySQL.Migrate {
		if err := m.Migrate(ctx); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info("connected to mysql")
	return m, func() { sqlDB.Close() }, nil
}

func openCache(ctx context.Context, cfg config.Config, log *zap.Logger) (port.CacheRepository, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Info("using in-process cache")
		return storage.NewMemoryCache(cfg.Redis.IdempotencyTTL, cfg.Redis.RatingCacheTTL), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	return storage.NewRedisAdapter(rdb, cfg.Redis.IdempotencyTTL, cfg.Redis.RatingCacheTTL), func() { rdb.Close() }, nil
}

// seedDemo gives the in-memory store an admin, a customer and a few books.
func seedDemo(ctx context.Context, s port.Store) error {
	return s.WithinTx(ctx, func(ctx context.Context, q port.Queries) error {
		if _, err := q.CreateCustomer(ctx, domain.Customer{Name: "admin", Email: "admin@bookstore.local", Role: domain.RoleAdmin}); err != nil {
			return err
		}
		if _, err := q.CreateCustomer(ctx, domain.Customer{Name: "reader", Email: "reader@bookstore.local", Role: domain.RoleCustomer}); err != nil {
			return err
		}
		books := []domain.Item{
			{Key: "978-0134190440", Title: "The Go Programming Language", Price: decimal.RequireFromString("39.99"), Stock: 100},
			{Key: "978-1617295522", Title: "Go in Action", Price: decimal.RequireFromString("29.50"), Stock: 25},
			{Key: "978-1492052593", Title: "Learning Go", Price: decimal.RequireFromString("44.99"), Stock: 1},
		}
		for _, b := range books {
			if err := q.PutItem(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/audit-service/internal/adapter/httpfetch"
	"github.com/user/audit-service/internal/adapter/memory"
	"github.com/user/audit-service/internal/adapter/postgres"
	redis_adapter "github.com/user/audit-service/internal/adapter/redis"
	"github.com/user/audit-service/internal/adapter/sqlite"
	"github.com/user/audit-service/internal/delivery/http/handler"
	"github.com/user/audit-service/internal/delivery/http/router"
	"github.com/user/audit-service/internal/repository"
	"github.com/user/audit-service/internal/usecase"
	"github.com/user/audit-service/internal/worker"
	"github.com/user/audit-service/pkg/config"
	"github.com/user/audit-service/pkg/logger"
)

// backends bundles the storage selected by configuration.
type backends struct {
	records  repository.RecordStore
	failed   repository.FailedTaskRepository
	statuses repository.URLStatusCache
	queue    repository.TaskQueue
	pingers  map[string]repository.Pinger
	closers  []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet.
		logger.New(os.Stderr, "info").Fatal("could not load config", zap.Error(err))
	}

	// --- Logger ---
	log := logger.New(os.Stdout, cfg.LogLevel)
	defer log.Sync()
	log.Info("logger initialized", zap.String("level", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer b.close()

	// --- Fetcher ---
	fetcher, err := httpfetch.NewFetcher(httpfetch.Options{
		ConnectTimeout: cfg.FetchConnectTimeout(),
		Timeout:        cfg.FetchTimeout(),
		UserAgent:      cfg.FetchUserAgent,
		RatePerSecond:  cfg.FetchRatePerSecond,
		Proxies:        cfg.Proxies(),
	}, log.Named("fetcher"))
	if err != nil {
		log.Fatal("failed to create fetcher", zap.Error(err))
	}

	// --- Use Cases ---
	engine := usecase.NewAuditEngine(b.records, b.statuses, b.queue, fetcher, log.Named("engine"))
	audits := usecase.NewAuditManager(usecase.ManagerConfig{
		BaseURL:              cfg.SiteBaseURL,
		DefaultMaxPagesCount: cfg.DefaultMaxPagesCount,
	}, b.records, b.statuses, b.queue, log.Named("audits"))
	failedTasks := usecase.NewFailedTasks(b.failed, b.queue, log.Named("failed_tasks"))

	// --- Workers ---
	pool := worker.NewPool(engine, b.queue, b.failed, worker.Options{
		Workers:     cfg.Workers,
		TaskTimeout: cfg.TaskTimeout(),
		MaxAttempts: cfg.TaskMaxAttempts,
	}, log.Named("worker"))
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		if err := pool.Run(ctx); err != nil {
			log.Error("worker pool stopped with error", zap.Error(err))
		}
	}()

	// --- HTTP Server ---
	apiHandler := handler.NewHandler(audits, failedTasks, b.pingers, log.Named("http"))
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router.New(apiHandler, log.Named("http")),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("port", cfg.ServerPort), zap.String("site", cfg.SiteBaseURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("could not listen on port", zap.String("port", cfg.ServerPort), zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	select {
	case <-poolDone:
	case <-time.After(cfg.TaskTimeout() + 5*time.Second):
		log.Warn("worker pool did not stop in time")
	}
	log.Info("server exiting")
}

func openBackends(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backends, error) {
	b := &backends{pingers: make(map[string]repository.Pinger)}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		dbpool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, dbpool.Close)
		records := postgres.NewRecordRepo(dbpool)
		if err := records.EnsureSchema(ctx); err != nil {
			b.close()
			return nil, err
		}
		failed := postgres.NewFailedTaskRepo(dbpool)
		if err := failed.EnsureSchema(ctx); err != nil {
			b.close()
			return nil, err
		}
		b.records, b.failed = records, failed
		b.pingers["store"] = records
		log.Info("PostgreSQL connection pool established")
	case config.BackendSQLite:
		records, err := sqlite.NewRecordRepo(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = records.Close() })
		failed, err := sqlite.NewFailedTaskRepo(records.DB())
		if err != nil {
			b.close()
			return nil, err
		}
		b.records, b.failed = records, failed
		b.pingers["store"] = records
		log.Info("SQLite database opened", zap.String("path", cfg.SQLitePath))
	default:
		b.records, b.failed = memory.NewRecordRepo(), memory.NewFailedTaskRepo()
		log.Warn("using in-memory record store; audits are lost on restart")
	}

	switch cfg.QueueBackend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		b.closers = append(b.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			b.close()
			return nil, err
		}
		queue := redis_adapter.NewQueueRepo(rdb, redis_adapter.WithKeyLease(cfg.TaskTimeout()+time.Minute))
		b.queue = queue
		b.statuses = redis_adapter.NewURLStatusRepo(rdb, cfg.URLStatusTTL())
		b.pingers["queue"] = queue
		log.Info("Redis connection established")
	default:
		b.queue = memory.NewQueueRepo()
		b.statuses = memory.NewURLStatusRepo(cfg.URLStatusTTL())
		log.Warn("using in-memory queue; pending work is lost on restart")
	}
	return b, nil
}

// Command worker runs an executor-only process. It consumes run
// requests from the RabbitMQ queue and carries no scheduler, discovery
// refresher, or HTTP API. Scale workers horizontally alongside a
// single applyforge serve deployment running in amqp dispatch mode.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/applyforge/applyforge/internal/circuitbreaker"
	"github.com/applyforge/applyforge/internal/config"
	"github.com/applyforge/applyforge/internal/dedup"
	"github.com/applyforge/applyforge/internal/discovery"
	"github.com/applyforge/applyforge/internal/executor"
	"github.com/applyforge/applyforge/internal/logger"
	"github.com/applyforge/applyforge/internal/metrics"
	"github.com/applyforge/applyforge/internal/notify"
	"github.com/applyforge/applyforge/internal/quota"
	"github.com/applyforge/applyforge/internal/source"
	"github.com/applyforge/applyforge/internal/store/postgres"
	amqpbus "github.com/applyforge/applyforge/internal/transport/amqp"

	_ "github.com/lib/pq"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 2
	}
	if cfg.DispatchMode != "amqp" {
		fmt.Fprintln(os.Stderr, "worker requires DISPATCH_MODE=amqp")
		return 2
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat).With("process", "worker")

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open database", "error", err)
		return 1
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}

	store := postgres.New(db)

	var quotaStore quota.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		quotaStore = quota.NewRedisStore(redisClient)
	} else {
		quotaStore = quota.NewMemoryStore()
		log.Warn("REDIS_ADDR not set; quota counters are per-process and not shared with other workers")
	}
	tracker := quota.NewTracker(quotaStore, quota.Limits{
		Daily:  cfg.QuotaDailyLimit,
		Weekly: cfg.QuotaWeeklyLimit,
	})

	adapters := []discovery.Adapter{
		source.NewRemotive(cfg.SourceTimeout),
		source.NewArbeitnow(cfg.SourceTimeout),
	}
	if cfg.AdzunaAppID != "" && cfg.AdzunaAppKey != "" {
		adapters = append(adapters, source.NewAdzuna(cfg.AdzunaAppID, cfg.AdzunaAppKey, cfg.AdzunaCountry, cfg.SourceTimeout, log))
	}
	breaker := circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown)
	index := dedup.NewIndex(store)
	engine := discovery.NewEngine(adapters, index, breaker, store, metrics.NewNoopSink(), cfg.SourceTimeout, log.With("component", "discovery"))

	bus, err := amqpbus.Dial(amqpbus.Config{
		URL:        cfg.AMQPURL,
		Exchange:   cfg.AMQPExchange,
		Queue:      cfg.AMQPQueue,
		RoutingKey: cfg.AMQPRoutingKey,
	}, log.With("component", "amqp"))
	if err != nil {
		log.Error("failed to connect to rabbitmq", "error", err)
		return 1
	}
	defer bus.Close()

	executorCtx, cancelExecutor := context.WithCancel(context.Background())
	defer cancelExecutor()

	requests, err := bus.Consume(executorCtx)
	if err != nil {
		log.Error("failed to start amqp consumer", "error", err)
		return 1
	}

	generator := executor.NewHTTPGenerator(cfg.GeneratorURL, cfg.CollabTimeout)
	submitter := executor.NewHTTPSubmitter(cfg.SubmitURL, cfg.SubmitSecret, cfg.CollabTimeout)
	exec := executor.New(
		executor.Config{DrainTimeout: cfg.ExecutorDrainTimeout},
		store, engine, tracker, generator, submitter,
		log.With("component", "executor"),
	)
	if cfg.NotifyURL != "" {
		exec = exec.WithNotifier(notify.NewHTTPNotifier(cfg.NotifyURL, cfg.CollabTimeout, log.With("component", "notify")))
	} else {
		exec = exec.WithNotifier(executor.NewLoggingNotifier(log))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		exec.Run(executorCtx, requests)
	}()

	log.Info("worker started", "queue", cfg.AMQPQueue)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info("shutting down", "signal", received.String())

	cancelExecutor()
	wg.Wait()
	log.Info("worker stopped")
	return 0
}

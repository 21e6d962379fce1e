package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/applyforge/applyforge/internal/api"
	"github.com/applyforge/applyforge/internal/circuitbreaker"
	"github.com/applyforge/applyforge/internal/config"
	"github.com/applyforge/applyforge/internal/dedup"
	"github.com/applyforge/applyforge/internal/discovery"
	"github.com/applyforge/applyforge/internal/domain"
	"github.com/applyforge/applyforge/internal/executor"
	"github.com/applyforge/applyforge/internal/leaderelection"
	"github.com/applyforge/applyforge/internal/logger"
	"github.com/applyforge/applyforge/internal/metrics"
	"github.com/applyforge/applyforge/internal/notify"
	"github.com/applyforge/applyforge/internal/quota"
	"github.com/applyforge/applyforge/internal/reconciler"
	"github.com/applyforge/applyforge/internal/scheduler"
	"github.com/applyforge/applyforge/internal/source"
	"github.com/applyforge/applyforge/internal/store/postgres"
	amqpbus "github.com/applyforge/applyforge/internal/transport/amqp"
	"github.com/applyforge/applyforge/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	switch cmd := os.Args[1]; cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`applyforge - job application campaign engine

Usage:
  applyforge <command>

Commands:
  serve      Start the scheduler, executor, discovery, and API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for quota counters (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  TICK_INTERVAL             Scheduler tick interval (default: "30s")
  DISPATCH_MODE             Trigger transport: "channel" or "amqp" (default: "channel")
  AMQP_URL                  RabbitMQ URL (required when DISPATCH_MODE=amqp)

  GENERATOR_URL             Content generation service URL (required)
  SUBMIT_URL                Submission gateway URL (required)
  SUBMIT_SECRET             HMAC secret for submission signing
  NOTIFY_URL                Campaign event webhook (optional)
  COLLAB_TIMEOUT            Per-call collaborator timeout (default: "30s")

  QUOTA_DAILY_LIMIT         Applications per identity per day (default: "4")
  QUOTA_WEEKLY_LIMIT        Applications per identity per week (default: "30")

  DISCOVERY_QUERIES         Standing queries, "title@location;title2" form
  DISCOVERY_SCHEDULE        Background refresh schedule (default: "@every 6h")
  SOURCE_TIMEOUT            Per-source search timeout (default: "20s")
  ADZUNA_APP_ID             Adzuna credentials (adapter skipped when unset)
  ADZUNA_APP_KEY
  BREAKER_THRESHOLD         Failures before a source circuit opens (default: "5")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  RECONCILE_ENABLED         Enable stuck campaign recovery (default: "false")
  RECONCILE_INTERVAL        How often to scan (default: "5m")
  RECONCILE_THRESHOLD       Age before a running campaign is stuck (default: "30m")

  LEADER_LOCK_KEY           Advisory lock key shared by all instances`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	logConfigWarnings(cfg, log)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open database", "error", err)
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		log.Error("failed to connect to database", "error", err)
		return exitRuntimeError
	}
	if err := probeSchema(db); err != nil {
		log.Warn("schema probe failed, did the migrations run?", "error", err)
	}

	store := postgres.New(db)

	// Metrics sink (optional)
	var sink metrics.Sink = metrics.NewNoopSink()
	var promSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		promSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, log)
		sink = promSink
		log.Info("metrics enabled", "path", cfg.MetricsPath)
	}

	// Quota counters: Redis when configured, in-process otherwise.
	var quotaStore quota.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		quotaStore = quota.NewRedisStore(redisClient)
		log.Info("quota counters on redis", "addr", cfg.RedisAddr)
	} else {
		quotaStore = quota.NewMemoryStore()
		log.Warn("REDIS_ADDR not set; quota counters are per-process and reset on restart")
	}
	tracker := quota.NewTracker(quotaStore, quota.Limits{
		Daily:  cfg.QuotaDailyLimit,
		Weekly: cfg.QuotaWeeklyLimit,
	})

	// Discovery: source adapters behind a shared circuit breaker.
	adapters := []discovery.Adapter{
		source.NewRemotive(cfg.SourceTimeout),
		source.NewArbeitnow(cfg.SourceTimeout),
	}
	if cfg.AdzunaAppID != "" && cfg.AdzunaAppKey != "" {
		adapters = append(adapters, source.NewAdzuna(cfg.AdzunaAppID, cfg.AdzunaAppKey, cfg.AdzunaCountry, cfg.SourceTimeout, log))
	} else {
		log.Info("adzuna credentials not set; adapter disabled")
	}
	breaker := circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown)
	index := dedup.NewIndex(store)
	engine := discovery.NewEngine(adapters, index, breaker, store, sink, cfg.SourceTimeout, log.With("component", "discovery"))

	queries := make([]domain.SearchCriteria, 0, len(cfg.DiscoveryQueries))
	for _, q := range cfg.DiscoveryQueries {
		queries = append(queries, discovery.ParseQuery(q))
	}
	refresher := discovery.NewRefresher(engine, queries, cfg.DiscoverySchedule, log.With("component", "refresher"))

	// Trigger transport.
	var emitter scheduler.Emitter
	var requests <-chan domain.RunRequest

	executorCtx, cancelExecutor := context.WithCancel(context.Background())
	defer cancelExecutor()

	switch cfg.DispatchMode {
	case "amqp":
		bus, err := amqpbus.Dial(amqpbus.Config{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			Queue:      cfg.AMQPQueue,
			RoutingKey: cfg.AMQPRoutingKey,
		}, log.With("component", "amqp"))
		if err != nil {
			log.Error("failed to connect to rabbitmq", "error", err)
			return exitRuntimeError
		}
		defer bus.Close()
		emitter = bus

		requests, err = bus.Consume(executorCtx)
		if err != nil {
			log.Error("failed to start amqp consumer", "error", err)
			return exitRuntimeError
		}
	default:
		busOpts := []channel.Option{}
		if promSink != nil {
			busOpts = append(busOpts, channel.WithMetrics(promSink))
		}
		bus := channel.NewTriggerBus(cfg.TriggerBufferSize, busOpts...)
		emitter = bus
		requests = bus.Channel()
	}

	// Executor and its collaborators.
	generator := executor.NewHTTPGenerator(cfg.GeneratorURL, cfg.CollabTimeout)
	submitter := executor.NewHTTPSubmitter(cfg.SubmitURL, cfg.SubmitSecret, cfg.CollabTimeout)
	exec := executor.New(
		executor.Config{DrainTimeout: cfg.ExecutorDrainTimeout},
		store, engine, tracker, generator, submitter,
		log.With("component", "executor"),
	).WithMetrics(sink)
	if cfg.NotifyURL != "" {
		exec = exec.WithNotifier(notify.NewHTTPNotifier(cfg.NotifyURL, cfg.CollabTimeout, log.With("component", "notify")))
	} else {
		exec = exec.WithNotifier(executor.NewLoggingNotifier(log))
	}

	var executorWg sync.WaitGroup
	executorWg.Add(1)
	go func() {
		defer executorWg.Done()
		exec.Run(executorCtx, requests)
	}()

	// Leader duties: scheduler, discovery refresher, reconciler. Only
	// the advisory lock holder runs them; the executor and API serve on
	// every instance.
	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval},
		store, emitter,
		log.With("component", "scheduler"),
	).WithMetrics(sink)

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(reconciler.Config{
			Interval:  cfg.ReconcileInterval,
			Threshold: cfg.ReconcileThreshold,
			BatchSize: cfg.ReconcileBatchSize,
		}, store, log.With("component", "reconciler")).WithMetrics(sink)
	}

	duties := &leaderDuties{
		scheduler: sched,
		refresher: refresher,
		recon:     recon,
		logger:    log,
	}

	elector := leaderelection.New(
		db,
		cfg.LeaderLockKey,
		cfg.LeaderRetryInterval,
		cfg.LeaderHeartbeatInterval,
		duties.start,
		duties.stop,
		log.With("component", "leader"),
	)
	if promSink != nil {
		elector = elector.WithMetrics(promSink)
	}

	electorCtx, cancelElector := context.WithCancel(context.Background())
	var electorWg sync.WaitGroup
	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(electorCtx)
	}()

	// HTTP: API plus the metrics endpoint when enabled.
	apiHandler := api.NewHandler(store, engine, 3, log.With("component", "api")).WithHealthChecker(store)
	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
		}
	}()

	log.Info("applyforge started",
		"tick", cfg.TickInterval,
		"dispatch_mode", cfg.DispatchMode,
		"http", cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info("shutting down", "signal", received.String())

	// Phase 1: stop leader duties (no new dispatches or resets).
	cancelElector()
	electorWg.Wait()
	log.Info("leader duties stopped")

	// Phase 2: stop the executor; it drains buffered run requests.
	cancelExecutor()
	executorWg.Wait()
	log.Info("executor stopped")

	// Phase 3: graceful HTTP shutdown.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}
	log.Info("http server stopped")

	log.Info("stopped")
	return exitSuccess
}

// leaderDuties bundles the components only the leader runs. start and
// stop are driven by the elector; stop must be idempotent.
type leaderDuties struct {
	scheduler *scheduler.Scheduler
	refresher *discovery.Refresher
	recon     *reconciler.Reconciler
	logger    *slog.Logger

	mu      sync.Mutex
	wg      *sync.WaitGroup
	started bool
}

func (d *leaderDuties) start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.wg = &sync.WaitGroup{}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.scheduler.Run(ctx)
	}()

	if err := d.refresher.Start(ctx); err != nil {
		d.logger.Error("failed to start discovery refresher", "error", err)
	}

	if d.recon != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.recon.Run(ctx)
		}()
	}
}

func (d *leaderDuties) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	d.started = false
	d.refresher.Stop()
	d.wg.Wait()
}

// probeSchema verifies the campaigns table carries the cooperative
// cancellation column added by the initial migration.
func probeSchema(db *sql.DB) error {
	var one int
	return db.QueryRow(
		`SELECT 1 FROM information_schema.columns
		 WHERE table_name = 'campaigns' AND column_name = 'cancel_requested'`,
	).Scan(&one)
}

// logConfigWarnings surfaces configurations that are valid but risky.
func logConfigWarnings(cfg config.Config, log *slog.Logger) {
	if cfg.DispatchMode == "channel" && !cfg.ReconcileEnabled {
		log.Warn("DISPATCH_MODE=channel with RECONCILE_ENABLED=false: run requests lost on crash are never recovered")
	}
	if !cfg.ReconcileEnabled {
		log.Warn("RECONCILE_ENABLED=false: campaigns stuck in running require manual recovery")
	}
	if !cfg.MetricsEnabled {
		log.Warn("METRICS_ENABLED=false: no operational visibility")
	}
	if cfg.DispatchMode == "channel" {
		log.Info("DISPATCH_MODE=channel: scheduler and executor share this process")
	}
	if len(cfg.DiscoveryQueries) == 0 {
		log.Info("DISCOVERY_QUERIES empty: postings refresh only when campaigns run")
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("applyforge version %s (commit: %s)\n", version, commit)
	return exitSuccess
}

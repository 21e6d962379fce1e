package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *slog.Logger

	// Scheduler metrics
	ticksTotal               prometheus.Counter
	tickErrorsTotal          prometheus.Counter
	campaignsDispatchedTotal prometheus.Counter
	tickDuration             prometheus.Histogram

	// Executor metrics
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	applicationsTotal *prometheus.CounterVec
	runsInFlight      prometheus.Gauge

	// Discovery metrics
	discoveriesTotal     prometheus.Counter
	discoveryErrorsTotal prometheus.Counter
	discoveryDuration    prometheus.Histogram
	novelPostingsTotal   prometheus.Counter
	sourceSearchesTotal  *prometheus.CounterVec

	// Trigger bus metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Quota metrics
	quotaDeniedTotal prometheus.Counter

	// Reconciler metrics
	stuckCampaigns prometheus.Gauge

	// Leader election metrics
	isLeader          prometheus.Gauge
	leaderAcquisition prometheus.Counter
	leaderLossTotal   *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer, logger *slog.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logger}
	s.initSchedulerMetrics(reg)
	s.initExecutorMetrics(reg)
	s.initDiscoveryMetrics(reg)
	s.initBusMetrics(reg)
	s.initQuotaMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "applyforge_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "applyforge_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.campaignsDispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "applyforge_scheduler_campaigns_dispatched_total",
		Help: "Total number of due campaigns handed to the trigger bus.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "applyforge_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.ticksTotal, "applyforge_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "applyforge_scheduler_tick_errors_total")
	s.register(reg, s.campaignsDispatchedTotal, "applyforge_scheduler_campaigns_dispatched_total")
	s.register(reg, s.tickDuration, "applyforge_scheduler_tick_duration_seconds")
}

func (s *PrometheusSink) initExecutorMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "applyforge_executor_runs_total",
		Help: "Total number of completed campaign runs by outcome.",
	}, []string{"outcome"})

	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "applyforge_executor_run_duration_seconds",
		Help:    "Duration of each campaign run in seconds.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	s.applicationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "applyforge_executor_applications_total",
		Help: "Total number of application records written by outcome.",
	}, []string{"outcome"})

	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "applyforge_executor_runs_in_flight",
		Help: "Number of campaign runs currently being processed.",
	})

	s.register(reg, s.runsTotal, "applyforge_executor_runs_total")
	s.register(reg, s.runDuration, "applyforge_executor_run_duration_seconds")
	s.register(reg, s.applicationsTotal, "applyforge_executor_applications_total")
	s.register(reg, s.runsInFlight, "applyforge_executor_runs_in_flight")
}

func (s *PrometheusSink) initDiscoveryMetrics(reg prometheus.Registerer) {
	s.discoveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "applyforge_discovery_cycles_total",
		Help: "Total number of discovery cycles.",
	})
	s.discoveryErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "applyforge_discovery_cycle_errors_total",
		Help: "Total number of discovery cycles that returned an error.",
	})
	s.discoveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "applyforge_discovery_cycle_duration_seconds",
		Help:    "Duration of each discovery cycle in seconds.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
	s.novelPostingsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "applyforge_discovery_novel_postings_total",
		Help: "Total number of novel postings persisted.",
	})
	s.sourceSearchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "applyforge_discovery_source_searches_total",
		Help: "Total number of source searches by source and result.",
	}, []string{"source", "result"})

	s.register(reg, s.discoveriesTotal, "applyforge_discovery_cycles_total")
	s.register(reg, s.discoveryErrorsTotal, "applyforge_discovery_cycle_errors_total")
	s.register(reg, s.discoveryDuration, "applyforge_discovery_cycle_duration_seconds")
	s.register(reg, s.novelPostingsTotal, "applyforge_discovery_novel_postings_total")
	s.register(reg, s.sourceSearchesTotal, "applyforge_discovery_source_searches_total")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "applyforge_triggerbus_buffer_size",
		Help: "Current number of run requests in the trigger bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "applyforge_triggerbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "applyforge_triggerbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "applyforge_triggerbus_emit_errors_total")
}

func (s *PrometheusSink) initQuotaMetrics(reg prometheus.Registerer) {
	s.quotaDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "applyforge_quota_denied_total",
		Help: "Total number of denied quota reservations.",
	})
	s.stuckCampaigns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "applyforge_reconciler_stuck_campaigns",
		Help: "Number of stuck running campaigns found by the last reconcile pass.",
	})

	s.register(reg, s.quotaDeniedTotal, "applyforge_quota_denied_total")
	s.register(reg, s.stuckCampaigns, "applyforge_reconciler_stuck_campaigns")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "applyforge_leader_status",
		Help: "Whether this instance currently holds the leader lock (1 = leader).",
	})
	s.leaderAcquisition = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "applyforge_leader_acquisitions_total",
		Help: "Total number of leader lock acquisitions.",
	})
	s.leaderLossTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "applyforge_leader_losses_total",
		Help: "Total number of leadership losses by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "applyforge_leader_status")
	s.register(reg, s.leaderAcquisition, "applyforge_leader_acquisitions_total")
	s.register(reg, s.leaderLossTotal, "applyforge_leader_losses_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("metrics registration failed", "metric", name, "error", err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, campaignsDispatched int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.campaignsDispatchedTotal.Add(float64(campaignsDispatched))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

// Executor metrics implementation

func (s *PrometheusSink) RunCompleted(outcome string, duration time.Duration) {
	s.runsTotal.WithLabelValues(outcome).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ApplicationRecorded(outcome string) {
	s.applicationsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RunsInFlightIncr() {
	s.runsInFlight.Inc()
}

func (s *PrometheusSink) RunsInFlightDecr() {
	s.runsInFlight.Dec()
}

// Discovery metrics implementation

func (s *PrometheusSink) DiscoveryCompleted(duration time.Duration, novelPostings int, err error) {
	s.discoveriesTotal.Inc()
	s.discoveryDuration.Observe(duration.Seconds())
	s.novelPostingsTotal.Add(float64(novelPostings))
	if err != nil {
		s.discoveryErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) SourceSearchCompleted(source string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.sourceSearchesTotal.WithLabelValues(source, result).Inc()
}

// Trigger bus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Quota metrics implementation

func (s *PrometheusSink) QuotaDenied() {
	s.quotaDeniedTotal.Inc()
}

// Reconciler metrics implementation

func (s *PrometheusSink) StuckCampaignsUpdate(count int) {
	s.stuckCampaigns.Set(float64(count))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
	} else {
		s.isLeader.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquisition.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLossTotal.WithLabelValues(reason).Inc()
}

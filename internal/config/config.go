package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the applyforge service.
// Values are loaded from environment variables.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout     time.Duration `json:"-"`
	HTTPShutdownTimeoutStr  string        `json:"http_shutdown_timeout"`
	ExecutorDrainTimeout    time.Duration `json:"-"`
	ExecutorDrainTimeoutStr string        `json:"executor_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must exceed the longest plausible run so that
	// in-flight campaigns are never reset under an executor still working.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`
	TriggerBufferSize  int `json:"trigger_buffer_size"`

	// DispatchMode: "channel" (in-memory) or "amqp" (RabbitMQ).
	DispatchMode string `json:"dispatch_mode"`

	AMQPURL        string `json:"amqp_url,omitempty"`
	AMQPExchange   string `json:"amqp_exchange"`
	AMQPQueue      string `json:"amqp_queue"`
	AMQPRoutingKey string `json:"amqp_routing_key"`

	QuotaDailyLimit  int `json:"quota_daily_limit"`
	QuotaWeeklyLimit int `json:"quota_weekly_limit"`

	// DiscoveryQueries: standing queries refreshed in the background,
	// "title@location" pairs separated by semicolons.
	DiscoveryQueries  []string      `json:"discovery_queries"`
	DiscoverySchedule string        `json:"discovery_schedule"`
	SourceTimeout     time.Duration `json:"-"`
	SourceTimeoutStr  string        `json:"source_timeout"`

	AdzunaAppID   string `json:"adzuna_app_id,omitempty"`
	AdzunaAppKey  string `json:"adzuna_app_key,omitempty"`
	AdzunaCountry string `json:"adzuna_country"`

	// BreakerThreshold: 0 disables per-source circuit breaking.
	BreakerThreshold   int           `json:"breaker_threshold"`
	BreakerCooldown    time.Duration `json:"-"`
	BreakerCooldownStr string        `json:"breaker_cooldown"`

	GeneratorURL string `json:"generator_url"`
	SubmitURL    string `json:"submit_url"`
	SubmitSecret string `json:"submit_secret,omitempty"`
	NotifyURL    string `json:"notify_url,omitempty"`

	CollabTimeout    time.Duration `json:"-"`
	CollabTimeoutStr string        `json:"collab_timeout"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		HTTPAddr:                os.Getenv("HTTP_ADDR"),
		LogLevel:                os.Getenv("LOG_LEVEL"),
		LogFormat:               os.Getenv("LOG_FORMAT"),
		TickIntervalStr:         os.Getenv("TICK_INTERVAL"),
		DBConnMaxLifetimeStr:    os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:    os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:  os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		ExecutorDrainTimeoutStr: os.Getenv("EXECUTOR_DRAIN_TIMEOUT"),
		MetricsEnabled:          os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:             os.Getenv("METRICS_PATH"),
		ReconcileEnabled:        os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:    os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:   os.Getenv("RECONCILE_THRESHOLD"),
		DispatchMode:            os.Getenv("DISPATCH_MODE"),
		AMQPURL:                 os.Getenv("AMQP_URL"),
		AMQPExchange:            os.Getenv("AMQP_EXCHANGE"),
		AMQPQueue:               os.Getenv("AMQP_QUEUE"),
		AMQPRoutingKey:          os.Getenv("AMQP_ROUTING_KEY"),
		DiscoverySchedule:       os.Getenv("DISCOVERY_SCHEDULE"),
		SourceTimeoutStr:        os.Getenv("SOURCE_TIMEOUT"),
		AdzunaAppID:             os.Getenv("ADZUNA_APP_ID"),
		AdzunaAppKey:            os.Getenv("ADZUNA_APP_KEY"),
		AdzunaCountry:           os.Getenv("ADZUNA_COUNTRY"),
		BreakerCooldownStr:      os.Getenv("BREAKER_COOLDOWN"),
		GeneratorURL:            os.Getenv("GENERATOR_URL"),
		SubmitURL:               os.Getenv("SUBMIT_URL"),
		SubmitSecret:            os.Getenv("SUBMIT_SECRET"),
		NotifyURL:               os.Getenv("NOTIFY_URL"),
		CollabTimeoutStr:        os.Getenv("COLLAB_TIMEOUT"),
		LeaderRetryIntervalStr:  os.Getenv("LEADER_RETRY_INTERVAL"),
	}

	cfg.LeaderHeartbeatIntervalStr = os.Getenv("LEADER_HEARTBEAT_INTERVAL")

	if qs := os.Getenv("DISCOVERY_QUERIES"); qs != "" {
		for _, q := range strings.Split(qs, ";") {
			if q = strings.TrimSpace(q); q != "" {
				cfg.DiscoveryQueries = append(cfg.DiscoveryQueries, q)
			}
		}
	}

	cfg.ReconcileBatchSize = intEnv("RECONCILE_BATCH_SIZE", 100)
	cfg.TriggerBufferSize = intEnv("TRIGGER_BUFFER_SIZE", 100)
	cfg.QuotaDailyLimit = intEnv("QUOTA_DAILY_LIMIT", 4)
	cfg.QuotaWeeklyLimit = intEnv("QUOTA_WEEKLY_LIMIT", 30)
	cfg.DBMaxOpenConns = intEnv("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = intEnv("DB_MAX_IDLE_CONNS", 5)

	// Threshold 0 is meaningful (breaker off), so only default when unset.
	if s := os.Getenv("BREAKER_THRESHOLD"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			cfg.BreakerThreshold = n
		} else {
			cfg.BreakerThreshold = 5
		}
	} else {
		cfg.BreakerThreshold = 5
	}

	if s := os.Getenv("LEADER_LOCK_KEY"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			cfg.LeaderLockKey = n
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 415926
	}

	if cfg.DispatchMode == "" {
		cfg.DispatchMode = "channel"
	}
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "30s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.ExecutorDrainTimeoutStr == "" {
		cfg.ExecutorDrainTimeoutStr = "60s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "30m"
	}
	if cfg.DiscoverySchedule == "" {
		cfg.DiscoverySchedule = "@every 6h"
	}
	if cfg.SourceTimeoutStr == "" {
		cfg.SourceTimeoutStr = "20s"
	}
	if cfg.AdzunaCountry == "" {
		cfg.AdzunaCountry = "us"
	}
	if cfg.BreakerCooldownStr == "" {
		cfg.BreakerCooldownStr = "5m"
	}
	if cfg.CollabTimeoutStr == "" {
		cfg.CollabTimeoutStr = "30s"
	}
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = "applyforge.triggers"
	}
	if cfg.AMQPQueue == "" {
		cfg.AMQPQueue = "applyforge.runs"
	}
	if cfg.AMQPRoutingKey == "" {
		cfg.AMQPRoutingKey = "campaign.due"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	durations := []struct {
		s string
		d *time.Duration
	}{
		{cfg.TickIntervalStr, &cfg.TickInterval},
		{cfg.DBConnMaxLifetimeStr, &cfg.DBConnMaxLifetime},
		{cfg.DBConnMaxIdleTimeStr, &cfg.DBConnMaxIdleTime},
		{cfg.HTTPShutdownTimeoutStr, &cfg.HTTPShutdownTimeout},
		{cfg.ExecutorDrainTimeoutStr, &cfg.ExecutorDrainTimeout},
		{cfg.ReconcileIntervalStr, &cfg.ReconcileInterval},
		{cfg.ReconcileThresholdStr, &cfg.ReconcileThreshold},
		{cfg.SourceTimeoutStr, &cfg.SourceTimeout},
		{cfg.BreakerCooldownStr, &cfg.BreakerCooldown},
		{cfg.CollabTimeoutStr, &cfg.CollabTimeout},
		{cfg.LeaderRetryIntervalStr, &cfg.LeaderRetryInterval},
		{cfg.LeaderHeartbeatIntervalStr, &cfg.LeaderHeartbeatInterval},
	}
	for _, p := range durations {
		if d, err := time.ParseDuration(p.s); err == nil {
			*p.d = d
		}
	}

	return cfg
}

func intEnv(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string   `json:"database_url"`
		RedisAddr               string   `json:"redis_addr,omitempty"`
		HTTPAddr                string   `json:"http_addr"`
		LogLevel                string   `json:"log_level"`
		LogFormat               string   `json:"log_format"`
		TickInterval            string   `json:"tick_interval"`
		DBMaxOpenConns          int      `json:"db_max_open_conns"`
		DBMaxIdleConns          int      `json:"db_max_idle_conns"`
		HTTPShutdownTimeout     string   `json:"http_shutdown_timeout"`
		ExecutorDrainTimeout    string   `json:"executor_drain_timeout"`
		MetricsEnabled          bool     `json:"metrics_enabled"`
		MetricsPath             string   `json:"metrics_path"`
		ReconcileEnabled        bool     `json:"reconcile_enabled"`
		ReconcileInterval       string   `json:"reconcile_interval"`
		ReconcileThreshold      string   `json:"reconcile_threshold"`
		ReconcileBatchSize      int      `json:"reconcile_batch_size"`
		TriggerBufferSize       int      `json:"trigger_buffer_size"`
		DispatchMode            string   `json:"dispatch_mode"`
		AMQPURL                 string   `json:"amqp_url,omitempty"`
		QuotaDailyLimit         int      `json:"quota_daily_limit"`
		QuotaWeeklyLimit        int      `json:"quota_weekly_limit"`
		DiscoveryQueries        []string `json:"discovery_queries,omitempty"`
		DiscoverySchedule       string   `json:"discovery_schedule"`
		SourceTimeout           string   `json:"source_timeout"`
		AdzunaAppID             string   `json:"adzuna_app_id,omitempty"`
		AdzunaAppKey            string   `json:"adzuna_app_key,omitempty"`
		AdzunaCountry           string   `json:"adzuna_country"`
		BreakerThreshold        int      `json:"breaker_threshold"`
		BreakerCooldown         string   `json:"breaker_cooldown"`
		GeneratorURL            string   `json:"generator_url"`
		SubmitURL               string   `json:"submit_url"`
		SubmitSecret            string   `json:"submit_secret,omitempty"`
		NotifyURL               string   `json:"notify_url,omitempty"`
		CollabTimeout           string   `json:"collab_timeout"`
		LeaderLockKey           int64    `json:"leader_lock_key"`
		LeaderRetryInterval     string   `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string   `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		LogLevel:                c.LogLevel,
		LogFormat:               c.LogFormat,
		TickInterval:            c.TickIntervalStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		ExecutorDrainTimeout:    c.ExecutorDrainTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileIntervalStr,
		ReconcileThreshold:      c.ReconcileThresholdStr,
		ReconcileBatchSize:      c.ReconcileBatchSize,
		TriggerBufferSize:       c.TriggerBufferSize,
		DispatchMode:            c.DispatchMode,
		AMQPURL:                 maskSecret(c.AMQPURL),
		QuotaDailyLimit:         c.QuotaDailyLimit,
		QuotaWeeklyLimit:        c.QuotaWeeklyLimit,
		DiscoveryQueries:        c.DiscoveryQueries,
		DiscoverySchedule:       c.DiscoverySchedule,
		SourceTimeout:           c.SourceTimeoutStr,
		AdzunaAppID:             c.AdzunaAppID,
		AdzunaAppKey:            maskValue(c.AdzunaAppKey),
		AdzunaCountry:           c.AdzunaCountry,
		BreakerThreshold:        c.BreakerThreshold,
		BreakerCooldown:         c.BreakerCooldownStr,
		GeneratorURL:            c.GeneratorURL,
		SubmitURL:               c.SubmitURL,
		SubmitSecret:            maskValue(c.SubmitSecret),
		NotifyURL:               c.NotifyURL,
		CollabTimeout:           c.CollabTimeoutStr,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret URL, preserving only the scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "amqp://", "amqps://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}

func maskValue(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

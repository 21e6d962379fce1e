package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/applyforge/applyforge/internal/config"
	"github.com/applyforge/applyforge/internal/logger"
)

func captureWarnings(t *testing.T, cfg config.Config) string {
	t.Helper()
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "debug", "json")
	logConfigWarnings(cfg, log)
	return buf.String()
}

func TestLogConfigWarnings_ChannelWithoutReconciler(t *testing.T) {
	cfg := config.Config{DispatchMode: "channel", ReconcileEnabled: false}
	out := captureWarnings(t, cfg)
	if !strings.Contains(out, "never recovered") {
		t.Errorf("expected crash recovery warning, got:\n%s", out)
	}
	if !strings.Contains(out, "manual recovery") {
		t.Errorf("expected stuck campaign warning, got:\n%s", out)
	}
}

func TestLogConfigWarnings_AMQPWithReconciler(t *testing.T) {
	cfg := config.Config{
		DispatchMode:     "amqp",
		ReconcileEnabled: true,
		MetricsEnabled:   true,
	}
	out := captureWarnings(t, cfg)
	if strings.Contains(out, "WARN") {
		t.Errorf("fully provisioned config should produce no warnings, got:\n%s", out)
	}
}

func TestLogConfigWarnings_MetricsDisabled(t *testing.T) {
	cfg := config.Config{
		DispatchMode:     "amqp",
		ReconcileEnabled: true,
		MetricsEnabled:   false,
	}
	out := captureWarnings(t, cfg)
	if !strings.Contains(out, "METRICS_ENABLED=false") {
		t.Errorf("expected metrics warning, got:\n%s", out)
	}
}

func TestLogConfigWarnings_EmptyDiscoveryQueries(t *testing.T) {
	cfg := config.Config{
		DispatchMode:     "channel",
		ReconcileEnabled: true,
		MetricsEnabled:   true,
	}
	out := captureWarnings(t, cfg)
	if !strings.Contains(out, "DISCOVERY_QUERIES empty") {
		t.Errorf("expected discovery queries note, got:\n%s", out)
	}
}

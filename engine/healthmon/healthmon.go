// Package healthmon implements the Health Monitor (spec §4.9): a
// supervisory process, independent of the worker, that periodically checks
// queue-depth progress and worker memory usage and signals a restart after
// repeated failures.
package healthmon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nasindex/fileingest/pkg/broker"
	"github.com/nasindex/fileingest/pkg/metrics"
)

// QueueClient is the subset of *broker.Broker this package depends on.
type QueueClient interface {
	Depth(ctx context.Context) (broker.Depth, error)
}

// ProcessInspector reports the worker process's resident memory, backed by
// gopsutil in production and a hand-written fake in tests.
type ProcessInspector interface {
	RSSBytes() (uint64, error)
}

// Restarter performs the actual restart action (service-manager-specific);
// cmd/auto-recovery supplies the concrete implementation.
type Restarter interface {
	Restart(ctx context.Context, reason string) error
}

// Config tunes a monitor (§4.9 defaults).
type Config struct {
	Interval              time.Duration
	StuckThreshold         time.Duration
	RSSCeilingBytes       uint64
	MaxConsecutiveFailures int
}

// DefaultConfig returns the spec's defaults: 60s interval, 10min stuck
// threshold, 5 GiB RSS ceiling, 3 consecutive failures before restart.
func DefaultConfig() Config {
	return Config{
		Interval:               60 * time.Second,
		StuckThreshold:         10 * time.Minute,
		RSSCeilingBytes:        5 * 1 << 30,
		MaxConsecutiveFailures: 3,
	}
}

// Monitor is the sole owner of one supervisory loop's state.
type Monitor struct {
	queue     QueueClient
	process   ProcessInspector
	restarter Restarter
	cfg       Config
	logger    *slog.Logger

	restarts *metrics.Counter
	reg      *metrics.Registry

	consecutiveFailures int
	lastDepth           int
	lastProgressAt      time.Time
	haveBaseline        bool
}

// New constructs a Monitor. reg may be nil to skip metrics registration.
func New(queue QueueClient, process ProcessInspector, restarter Restarter, cfg Config, reg *metrics.Registry, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = d.StuckThreshold
	}
	if cfg.RSSCeilingBytes == 0 {
		cfg.RSSCeilingBytes = d.RSSCeilingBytes
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	m := &Monitor{queue: queue, process: process, restarter: restarter, cfg: cfg, logger: logger, reg: reg}
	return m
}

// Run blocks, checking health every cfg.Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.checkOnce(ctx)
		}
	}
}

// checkOnce runs a single health check pass and acts on repeated failures.
func (m *Monitor) checkOnce(ctx context.Context) {
	ok, reason := m.evaluate(ctx)
	if ok {
		m.consecutiveFailures = 0
		return
	}
	m.consecutiveFailures++
	m.logger.Warn("healthmon: check failed", "reason", reason, "consecutiveFailures", m.consecutiveFailures)
	if m.consecutiveFailures < m.cfg.MaxConsecutiveFailures {
		return
	}
	m.logger.Error("healthmon: consecutive failure threshold reached, signaling restart", "reason", reason)
	if m.restarter != nil {
		if err := m.restarter.Restart(ctx, reason); err != nil {
			m.logger.Error("healthmon: restart signal failed", "error", err)
		}
	}
	if m.counter() != nil {
		m.counter().Inc()
	}
	m.consecutiveFailures = 0
}

func (m *Monitor) counter() *metrics.Counter {
	if m.reg == nil {
		return nil
	}
	if m.restarts == nil {
		m.restarts = m.reg.Counter("fileingest_worker_restarts_total", "Worker restarts signaled by the health monitor")
	}
	return m.restarts
}

// evaluate runs two checks from §4.9: the memory ceiling, then progress
// (queue depth is not stuck). Returns the first failing reason.
func (m *Monitor) evaluate(ctx context.Context) (ok bool, reason string) {
	if m.process != nil {
		rss, err := m.process.RSSBytes()
		if err != nil {
			return false, fmt.Sprintf("rss_check_failed: %v", err)
		}
		if rss > m.cfg.RSSCeilingBytes {
			return false, fmt.Sprintf("rss_ceiling_exceeded: %d > %d", rss, m.cfg.RSSCeilingBytes)
		}
	}

	if m.queue != nil {
		depth, err := m.queue.Depth(ctx)
		if err != nil {
			return false, fmt.Sprintf("depth_check_failed: %v", err)
		}
		if !m.haveBaseline {
			m.lastDepth = depth.Available
			m.lastProgressAt = time.Now()
			m.haveBaseline = true
		} else if depth.Available < m.lastDepth {
			m.lastDepth = depth.Available
			m.lastProgressAt = time.Now()
		} else if time.Since(m.lastProgressAt) >= m.cfg.StuckThreshold {
			return false, fmt.Sprintf("queue_stuck: no progress in %s", time.Since(m.lastProgressAt))
		}
	}

	return true, ""
}

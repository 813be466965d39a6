// Command auto-recovery runs the Health Monitor's supervisory loop (spec
// §4.9, §6 CLI surface): watches primary-queue progress and worker RSS on
// --check-interval, and restarts the worker service after three consecutive
// failed checks.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nasindex/fileingest/engine/healthmon"
	"github.com/nasindex/fileingest/pkg/broker"
	"github.com/nasindex/fileingest/pkg/metrics"
)

func main() {
	var (
		checkInterval   = flag.Duration("check-interval", 60*time.Second, "health-check interval")
		stuckThreshold  = flag.Duration("stuck-threshold", 10*time.Minute, "queue progress window before a stalled primary queue counts as a failure")
		memoryThreshold = flag.Uint64("memory-threshold", 5*1<<30, "worker RSS ceiling in bytes")
		serviceName     = flag.String("service-name", envOr("WORKER_SERVICE_NAME", "fileingest-worker"), "systemd unit to restart on repeated failure")
	)
	flag.Parse()

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	region := envOr("AWS_REGION", "us-east-1")
	sqsClient, err := broker.NewSQSClient(ctx, region)
	if err != nil {
		log.Error("auto-recovery: sqs client init failed", "error", err)
		os.Exit(1)
	}
	b := broker.New(sqsClient, envOr("SQS_QUEUE_URL", ""), envOr("DLQ_QUEUE_URL", ""), nil, log)

	pidFile := envOr("WORKER_PID_FILE", "/tmp/fileingest/worker.pid")
	inspector := &rereadingInspector{pidFile: pidFile}

	restarter := healthmon.NewServiceRestarter(*serviceName)
	reg := metrics.New()

	cfg := healthmon.Config{
		Interval:               *checkInterval,
		StuckThreshold:         *stuckThreshold,
		RSSCeilingBytes:        *memoryThreshold,
		MaxConsecutiveFailures: 3,
	}
	mon := healthmon.New(b, inspector, restarter, cfg, reg, log)

	log.Info("auto-recovery: starting supervisory loop",
		"checkInterval", cfg.Interval, "stuckThreshold", cfg.StuckThreshold,
		"memoryThresholdBytes", cfg.RSSCeilingBytes, "serviceName", *serviceName)
	if err := mon.Run(ctx); err != nil {
		log.Error("auto-recovery: supervisory loop exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("auto-recovery: shut down cleanly")
}

// rereadingInspector re-resolves the worker's pid from the pidfile on every
// call, since auto-recovery starts before the worker necessarily has, and a
// restart replaces the pid the first inspector was bound to.
type rereadingInspector struct {
	pidFile string
}

func (r *rereadingInspector) RSSBytes() (uint64, error) {
	pid, err := readPIDFile(r.pidFile)
	if err != nil {
		return 0, err
	}
	return healthmon.NewGopsutilInspector(pid).RSSBytes()
}

func readPIDFile(path string) (int32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n := int32(0)
	for _, c := range data {
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int32(c-'0')
	}
	if n == 0 {
		return 0, os.ErrInvalid
	}
	return n, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

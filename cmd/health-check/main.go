// Command health-check runs a single Health Monitor pass (spec §4.9, §6 CLI
// surface) and exits 0 (pass), 1 (critical), or 2 (warning) so it can be
// wired into a process supervisor's own liveness probe. Unlike
// cmd/auto-recovery it does not loop or restart anything — it only reports.
package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/nasindex/fileingest/engine/healthmon"
	"github.com/nasindex/fileingest/pkg/broker"
)

const (
	exitPass     = 0
	exitCritical = 1
	exitWarning  = 2
)

func main() {
	log := slog.Default()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	region := envOr("AWS_REGION", "us-east-1")
	sqsClient, err := broker.NewSQSClient(ctx, region)
	if err != nil {
		log.Error("health-check: sqs client init failed", "error", err)
		os.Exit(exitCritical)
	}
	b := broker.New(sqsClient, envOr("SQS_QUEUE_URL", ""), envOr("DLQ_QUEUE_URL", ""), nil, log)

	if _, err := b.Depth(ctx); err != nil {
		log.Error("health-check: queue unreachable", "error", err)
		os.Exit(exitCritical)
	}

	pidFile := envOr("WORKER_PID_FILE", "/tmp/fileingest/worker.pid")
	pid, perr := readPIDFile(pidFile)
	if perr != nil {
		log.Warn("health-check: worker pid unavailable, skipping memory check", "path", pidFile, "error", perr)
		os.Exit(exitWarning)
	}

	inspector := healthmon.NewGopsutilInspector(pid)
	rss, rerr := inspector.RSSBytes()
	if rerr != nil {
		log.Warn("health-check: rss read failed", "pid", pid, "error", rerr)
		os.Exit(exitWarning)
	}

	ceiling := rssCeilingBytes()
	if rss > ceiling {
		log.Error("health-check: rss ceiling exceeded", "rssBytes", rss, "ceilingBytes", ceiling)
		os.Exit(exitCritical)
	}

	log.Info("health-check: pass", "rssBytes", rss, "ceilingBytes", ceiling)
	os.Exit(exitPass)
}

func readPIDFile(path string) (int32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(trimSpace(data)))
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\n' || b[start] == '\t' || b[start] == '\r') {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\t' || b[end-1] == '\r') {
		end--
	}
	return b[start:end]
}

func rssCeilingBytes() uint64 {
	if v := os.Getenv("MEMORY_CEILING_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 5 * 1 << 30
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

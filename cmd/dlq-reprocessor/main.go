// Command dlq-reprocessor runs DLQ Triage (spec §4.8, §6 CLI surface):
// samples messages sitting in the DLQ, classifies each by its attached
// ErrorMessage attribute, and replays recoverable failures or archives
// unrecoverable ones. A single pass by default; --auto repeats on an
// interval until signalled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nasindex/fileingest/engine/dlqtriage"
	"github.com/nasindex/fileingest/pkg/broker"
	"github.com/nasindex/fileingest/pkg/objectstore"
)

func main() {
	var (
		dryRun      = flag.Bool("dry-run", false, "report classification without requeuing or archiving")
		analyzeOnly = flag.Bool("analyze-only", false, "alias for --dry-run: classify and report only")
		maxMessages = flag.Int("max-messages", 10, "messages sampled per pass")
		auto        = flag.Bool("auto", false, "loop on --interval instead of running once")
		interval    = flag.Duration("interval", time.Minute, "pass interval when --auto is set")
	)
	flag.Parse()

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	region := envOr("AWS_REGION", "us-east-1")
	sqsClient, err := broker.NewSQSClient(ctx, region)
	if err != nil {
		log.Error("dlq-reprocessor: sqs client init failed", "error", err)
		os.Exit(1)
	}
	b := broker.New(sqsClient, envOr("SQS_QUEUE_URL", ""), envOr("DLQ_QUEUE_URL", ""), nil, log)

	s3Client, err := objectstore.NewS3Client(ctx, region)
	if err != nil {
		log.Error("dlq-reprocessor: s3 client init failed", "error", err)
		os.Exit(1)
	}
	archiveBucket := envOr("DLQ_ARCHIVE_BUCKET", envOr("S3_BUCKET", ""))
	objects := objectstore.New(s3Client, objectstore.Options{IngestBucket: archiveBucket}, log)

	cfg := dlqtriage.DefaultConfig()
	cfg.BatchSize = *maxMessages
	cfg.DryRun = *dryRun || *analyzeOnly
	cfg.ArchiveBucket = archiveBucket

	tr := dlqtriage.New(b, objects, cfg, log)

	pass := func() {
		report, err := tr.Run(ctx)
		if err != nil {
			log.Error("dlq-reprocessor: pass failed", "error", err)
			return
		}
		fmt.Printf("dlq-reprocessor: sampled=%d replayed=%d archived=%d skippedYoung=%d skippedMaxed=%d errors=%d dryRun=%v\n",
			report.Sampled, report.Replayed, report.Archived, report.SkippedYoung, report.SkippedMaxed, report.Errors, cfg.DryRun)
	}

	if !*auto {
		pass()
		return
	}

	log.Info("dlq-reprocessor: running in auto mode", "interval", *interval)
	pass()
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("dlq-reprocessor: shutting down")
			return
		case <-ticker.C:
			pass()
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Command preview-enqueuer runs the Backfill Scanner's missing-previews
// mode once (spec §4.7 mode 1, §6 CLI surface): finds indexed documents
// whose extension supports a preview but have none yet, and emits a
// preview-regeneration work item for each onto the preview queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nasindex/fileingest/engine/backfill"
	"github.com/nasindex/fileingest/pkg/broker"
	"github.com/nasindex/fileingest/pkg/checkpoint"
	"github.com/nasindex/fileingest/pkg/indexgateway"
)

func main() {
	var (
		fileType  = flag.String("file-type", "all", "office|docuworks|pdf|all")
		limit     = flag.Int("limit", 0, "stop after this many matching documents (0 = unbounded)")
		dryRun    = flag.Bool("dry-run", false, "report matches without enqueuing")
		countOnly = flag.Bool("count-only", false, "report counts only, never enqueue (implies --dry-run)")
		queueURL  = flag.String("queue-url", envOr("PREVIEW_QUEUE_URL", ""), "preview work-item queue URL")
		stateFile = flag.String("state", envOr("PREVIEW_ENQUEUER_STATE", "/tmp/fileingest/preview-enqueuer-state.json"), "checkpoint state file")
	)
	flag.Parse()

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	region := envOr("AWS_REGION", "us-east-1")

	osClient, err := indexgateway.NewOpenSearchClient([]string{envOr("OPENSEARCH_ENDPOINT", "")}, os.Getenv("OPENSEARCH_USERNAME"), os.Getenv("OPENSEARCH_PASSWORD"), false)
	if err != nil {
		log.Error("preview-enqueuer: opensearch client init failed", "error", err)
		os.Exit(1)
	}
	index := indexgateway.New(osClient, envOr("OPENSEARCH_INDEX", "file-index"), indexgateway.DefaultMappingOptions(), log)

	var sender backfill.WorkItemSender
	if !*dryRun && !*countOnly {
		sqsClient, serr := broker.NewSQSClient(ctx, region)
		if serr != nil {
			log.Error("preview-enqueuer: sqs client init failed", "error", serr)
			os.Exit(1)
		}
		sender = broker.New(sqsClient, *queueURL, "", nil, log)
	}

	os.MkdirAll(parentDir(*stateFile), 0o755)
	cp, err := checkpoint.Load(*stateFile)
	if err != nil {
		log.Error("preview-enqueuer: load checkpoint failed", "error", err)
		os.Exit(1)
	}

	cfg := backfill.DefaultConfig()
	cfg.DryRun = *dryRun || *countOnly
	cfg.Limit = *limit
	cfg.FileTypeFilter = *fileType

	scanner := backfill.New(index, sender, nil, cp, cfg, log)

	report, err := scanner.RunMissingPreviews(ctx)
	if err != nil {
		log.Error("preview-enqueuer: scan failed", "error", err)
		os.Exit(1)
	}
	if !cfg.DryRun {
		if err := cp.Save(); err != nil {
			log.Error("preview-enqueuer: save checkpoint failed", "error", err)
		}
	}

	fmt.Printf("preview-enqueuer: fileType=%s scanned=%d matched=%d queued=%d skipped=%d errors=%d dryRun=%v\n",
		*fileType, report.Scanned, report.Matched, report.Updated, report.Skipped, report.Errors, report.DryRun)
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

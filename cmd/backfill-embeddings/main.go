// Command backfill-embeddings runs the Backfill Scanner's missing-vectors
// mode once (spec §4.7 mode 2, §6 CLI surface): finds indexed image
// documents with no imageVector, invokes the embedding producer with
// bounded parallelism, and patches each document.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/nasindex/fileingest/engine/backfill"
	"github.com/nasindex/fileingest/pkg/checkpoint"
	"github.com/nasindex/fileingest/pkg/embedclient"
	"github.com/nasindex/fileingest/pkg/indexgateway"
)

func main() {
	var (
		maxFiles    = flag.Int("max-files", 0, "stop after embedding this many documents (0 = unbounded)")
		dryRun      = flag.Bool("dry-run", false, "report matches without embedding or patching")
		resume      = flag.Bool("resume", true, "resume from the checkpoint state file instead of starting cold")
		concurrency = flag.Int("concurrency", 4, "embed-and-patch fan-out per scroll page")
		batchSize   = flag.Int("batch-size", 500, "scroll page size")
		stateFile   = flag.String("state", envOr("BACKFILL_EMBEDDINGS_STATE", "/tmp/fileingest/backfill-embeddings-state.json"), "checkpoint state file")
	)
	flag.Parse()

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	region := envOr("AWS_REGION", "us-east-1")
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		log.Error("backfill-embeddings: load aws config failed", "error", err)
		os.Exit(1)
	}

	osClient, err := indexgateway.NewOpenSearchClient([]string{envOr("OPENSEARCH_ENDPOINT", "")}, os.Getenv("OPENSEARCH_USERNAME"), os.Getenv("OPENSEARCH_PASSWORD"), false)
	if err != nil {
		log.Error("backfill-embeddings: opensearch client init failed", "error", err)
		os.Exit(1)
	}
	index := indexgateway.New(osClient, envOr("OPENSEARCH_INDEX", "file-index"), indexgateway.DefaultMappingOptions(), log)

	lambdaClient := lambda.NewFromConfig(awsCfg)
	embedder := embedclient.New(lambdaClient, envOr("IMAGE_EMBEDDING_LAMBDA", ""), log)

	var cp backfill.CheckpointStore
	if *resume {
		os.MkdirAll(parentDir(*stateFile), 0o755)
		store, cerr := checkpoint.Load(*stateFile)
		if cerr != nil {
			log.Error("backfill-embeddings: load checkpoint failed", "error", cerr)
			os.Exit(1)
		}
		cp = store
		defer func() {
			if !*dryRun {
				if err := store.Save(); err != nil {
					log.Error("backfill-embeddings: save checkpoint failed", "error", err)
				}
			}
		}()
	}

	cfg := backfill.DefaultConfig()
	cfg.DryRun = *dryRun
	cfg.Limit = *maxFiles
	cfg.Concurrency = *concurrency
	cfg.PageSize = *batchSize

	scanner := backfill.New(index, nil, embedder, cp, cfg, log)

	report, err := scanner.RunMissingVectors(ctx)
	if err != nil {
		log.Error("backfill-embeddings: scan failed", "error", err)
		os.Exit(1)
	}
	if !*dryRun {
		if err := scanner.Refresh(ctx); err != nil {
			log.Warn("backfill-embeddings: post-run index refresh failed", "error", err)
		}
	}

	fmt.Printf("backfill-embeddings: scanned=%d matched=%d embedded=%d skipped=%d errors=%d dryRun=%v\n",
		report.Scanned, report.Matched, report.Updated, report.Skipped, report.Errors, report.DryRun)
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

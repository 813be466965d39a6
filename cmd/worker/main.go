// Command worker runs the Worker Runtime (spec §4.6): drains the primary
// SQS queue, routes each file through the Processor Registry, enriches and
// indexes the result, and guarantees every message is deleted or forwarded
// to the DLQ.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/nasindex/fileingest/engine/enrich"
	"github.com/nasindex/fileingest/engine/processor"
	"github.com/nasindex/fileingest/engine/worker"
	"github.com/nasindex/fileingest/pkg/broker"
	"github.com/nasindex/fileingest/pkg/converterclient"
	"github.com/nasindex/fileingest/pkg/embedclient"
	"github.com/nasindex/fileingest/pkg/indexgateway"
	"github.com/nasindex/fileingest/pkg/metrics"
	"github.com/nasindex/fileingest/pkg/objectstore"
)

var met = metrics.New()

func main() {
	var (
		validateOnly = flag.Bool("validate-only", false, "verify the index is reachable and exit")
		createIndex  = flag.Bool("create-index", false, "create the index if it does not exist, then continue")
		metricsPort  = flag.Int("metrics-port", 9100, "port to serve /metrics on")
	)
	flag.Parse()

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	region := envOr("AWS_REGION", "us-east-1")
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		log.Error("worker: load aws config failed", "error", err)
		os.Exit(1)
	}

	s3Client, err := objectstore.NewS3Client(ctx, region)
	if err != nil {
		log.Error("worker: s3 client init failed", "error", err)
		os.Exit(1)
	}
	objects := objectstore.New(s3Client, objectstore.Options{
		IngestBucket:    envOr("S3_BUCKET", ""),
		ThumbnailBucket: envOr("S3_THUMBNAIL_BUCKET", ""),
		TempDir:         envOr("TEMP_DIR", os.TempDir()),
	}, log)

	sqsClient, err := broker.NewSQSClient(ctx, region)
	if err != nil {
		log.Error("worker: sqs client init failed", "error", err)
		os.Exit(1)
	}
	b := broker.New(sqsClient, envOr("SQS_QUEUE_URL", ""), envOr("DLQ_QUEUE_URL", ""), met, log)

	osClient, err := indexgateway.NewOpenSearchClient([]string{envOr("OPENSEARCH_ENDPOINT", "")}, os.Getenv("OPENSEARCH_USERNAME"), os.Getenv("OPENSEARCH_PASSWORD"), false)
	if err != nil {
		log.Error("worker: opensearch client init failed", "error", err)
		os.Exit(1)
	}
	index := indexgateway.New(osClient, envOr("OPENSEARCH_INDEX", "file-index"), indexgateway.DefaultMappingOptions(), log)

	if *createIndex {
		if err := index.EnsureIndex(ctx); err != nil {
			log.Error("worker: ensure index failed", "error", err)
			os.Exit(1)
		}
	}
	if *validateOnly {
		if err := index.Refresh(ctx); err != nil {
			log.Error("worker: validate-only index check failed", "error", err)
			os.Exit(1)
		}
		log.Info("worker: index reachable, validation passed")
		return
	}

	lambdaClient := lambda.NewFromConfig(awsCfg)
	registry := buildRegistry(lambdaClient, log)

	var embedder enrich.Embedder
	if os.Getenv("ENABLE_IMAGE_EMBEDDING") == "true" {
		embedder = embedclient.New(lambdaClient, envOr("IMAGE_EMBEDDING_LAMBDA", ""), log)
	}
	enricher := enrich.New(objects, embedder, envOr("S3_THUMBNAIL_BUCKET", ""), envOr("VECTOR_MODEL", "image-embedding-v1"))

	cfg := worker.DefaultConfig()
	if n := envOr("MAX_WORKERS", ""); n != "" {
		if v, perr := parsePositiveInt(n); perr == nil {
			cfg.MaxWorkers = v
		}
	}
	cfg.IngestBucket = envOr("S3_BUCKET", "")

	w := worker.New(cfg, b, objects, registry, index, enricher, met, log)

	if pidFile := envOr("WORKER_PID_FILE", ""); pidFile != "" {
		if err := writePIDFile(pidFile); err != nil {
			log.Warn("worker: write pid file failed", "path", pidFile, "error", err)
		} else {
			defer os.Remove(pidFile)
		}
	}

	met.ServeAsync(*metricsPort, log)
	log.Info("worker: starting dispatch loop", "maxWorkers", cfg.MaxWorkers, "queue", envOr("SQS_QUEUE_URL", ""))
	if err := w.Run(ctx); err != nil {
		log.Error("worker: dispatch loop exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("worker: shut down cleanly")
}

// buildRegistry wires the Processor Registry's format processors to the
// converter-client RPC boundary (§1 Non-goals: the extractors themselves
// are external processes; pkg/converterclient is the Lambda-invoke client
// reaching them). Each conversion concern is its own Lambda function so it
// can be scaled and timed out independently.
func buildRegistry(lambdaClient *lambda.Client, log *slog.Logger) *processor.Registry {
	ocr := converterclient.NewOCRClient(lambdaClient, envOr("OCR_LAMBDA", "file-ingest-ocr"))
	thumbs := converterclient.NewThumbnailClient(lambdaClient, envOr("THUMBNAIL_LAMBDA", "file-ingest-thumbnail"))
	pdfText := converterclient.NewPDFTextClient(lambdaClient, envOr("PDF_TEXT_LAMBDA", "file-ingest-pdf-text"), log)
	pdfRaster := converterclient.NewPDFRasterClient(lambdaClient, envOr("PDF_RASTER_LAMBDA", "file-ingest-pdf-raster"))
	officeConvert := converterclient.NewOfficeConvertClient(lambdaClient, envOr("OFFICE_CONVERT_LAMBDA", "file-ingest-office-convert"))
	docuworksConvert := converterclient.NewDocuWorksConvertClient(lambdaClient, envOr("DOCUWORKS_CONVERT_LAMBDA", "file-ingest-docuworks-convert"))

	pdfProc := processor.NewPDFProcessor(pdfText, pdfRaster, ocr, thumbs)
	imageProc := processor.NewImageProcessor(ocr, thumbs, envOr("IMAGE_OCR_PREPROCESS", "true") == "true")
	officeProc := processor.NewOfficeProcessor(officeConvert, noPPTXThumbnailReader{}, pdfProc)
	docuworksProc := processor.NewDocuWorksProcessor(docuworksConvert, pdfProc)
	metadataProc := processor.NewMetadataOnlyProcessor(
		"dwg", "dxf", "zip", "7z", "rar", "mp4", "mov", "avi", "exe", "dll", "msi",
	)

	reg := processor.NewRegistry()
	reg.Register(imageProc, "jpg", "jpeg", "png", "gif", "bmp", "tiff", "tif", "webp")
	reg.Register(pdfProc, "pdf")
	reg.Register(officeProc, "doc", "docx", "xls", "xlsx", "ppt", "pptx")
	reg.Register(docuworksProc, "xdw", "xbd")
	reg.Register(metadataProc, "dwg", "dxf", "zip", "7z", "rar", "mp4", "mov", "avi", "exe", "dll", "msi")
	return reg
}

// noPPTXThumbnailReader reports no embedded thumbnail, forcing the office
// processor's PPTX path through the normal PDF conversion + rasterize
// fallback. A real implementation (reading the PPTX zip's docProps
// thumbnail entry) is a pure local-filesystem operation and doesn't need
// the Lambda RPC boundary, but isn't required for the pipeline to be
// correct — it's purely a conversion-avoidance optimization.
type noPPTXThumbnailReader struct{}

func (noPPTXThumbnailReader) ReadEmbeddedThumbnail(path string) ([]byte, string, bool) {
	return nil, "", false
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// writePIDFile records this process's pid for cmd/health-check and
// cmd/auto-recovery, which otherwise have no way to find the worker's RSS.
func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errNotPositive
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, errNotPositive
	}
	return n, nil
}

var errNotPositive = errors.New("not a positive integer")

// Command preview-worker consumes the preview-regeneration queue (spec
// §4.6): same dispatch-loop shape as cmd/worker, narrowed to the
// previewable processor set (office, DocuWorks, PDF) and an idle-exit
// timeout so it can scale to zero.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

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
		queueURL      = flag.String("queue-url", envOr("PREVIEW_QUEUE_URL", ""), "preview work-item queue URL")
		threads       = flag.Int("threads", 0, "worker pool size (0 = cpuCount-1)")
		idleTimeout   = flag.Duration("idle-timeout", 300*time.Second, "exit after the queue has been empty this long")
		skipValidate  = flag.Bool("skip-validation", false, "skip the startup index-reachability check")
		metricsPort   = flag.Int("metrics-port", 9101, "port to serve /metrics on")
	)
	flag.Parse()

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	region := envOr("AWS_REGION", "us-east-1")
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		log.Error("preview-worker: load aws config failed", "error", err)
		os.Exit(1)
	}

	s3Client, err := objectstore.NewS3Client(ctx, region)
	if err != nil {
		log.Error("preview-worker: s3 client init failed", "error", err)
		os.Exit(1)
	}
	objects := objectstore.New(s3Client, objectstore.Options{
		IngestBucket:    envOr("S3_BUCKET", ""),
		ThumbnailBucket: envOr("S3_THUMBNAIL_BUCKET", ""),
		TempDir:         envOr("TEMP_DIR", os.TempDir()),
	}, log)

	sqsClient, err := broker.NewSQSClient(ctx, region)
	if err != nil {
		log.Error("preview-worker: sqs client init failed", "error", err)
		os.Exit(1)
	}
	b := broker.New(sqsClient, *queueURL, envOr("DLQ_QUEUE_URL", ""), met, log)

	osClient, err := indexgateway.NewOpenSearchClient([]string{envOr("OPENSEARCH_ENDPOINT", "")}, os.Getenv("OPENSEARCH_USERNAME"), os.Getenv("OPENSEARCH_PASSWORD"), false)
	if err != nil {
		log.Error("preview-worker: opensearch client init failed", "error", err)
		os.Exit(1)
	}
	index := indexgateway.New(osClient, envOr("OPENSEARCH_INDEX", "file-index"), indexgateway.DefaultMappingOptions(), log)

	if !*skipValidate {
		if err := index.Refresh(ctx); err != nil {
			log.Error("preview-worker: index reachability check failed", "error", err)
			os.Exit(1)
		}
	}

	lambdaClient := lambda.NewFromConfig(awsCfg)
	registry := buildPreviewRegistry(lambdaClient, log)

	var embedder enrich.Embedder
	if os.Getenv("ENABLE_IMAGE_EMBEDDING") == "true" {
		embedder = embedclient.New(lambdaClient, envOr("IMAGE_EMBEDDING_LAMBDA", ""), log)
	}
	enricher := enrich.New(objects, embedder, envOr("S3_THUMBNAIL_BUCKET", ""), envOr("VECTOR_MODEL", "image-embedding-v1"))

	cfg := worker.DefaultConfig()
	if *threads > 0 {
		cfg.MaxWorkers = *threads
	}
	cfg.IdleTimeout = *idleTimeout
	cfg.IngestBucket = envOr("S3_BUCKET", "")

	w := worker.New(cfg, b, objects, registry, index, enricher, met, log)

	met.ServeAsync(*metricsPort, log)
	log.Info("preview-worker: starting dispatch loop", "queue", *queueURL, "idleTimeout", *idleTimeout)
	if err := w.Run(ctx); err != nil {
		log.Error("preview-worker: dispatch loop exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("preview-worker: shut down cleanly (idle or signalled)")
}

// buildPreviewRegistry narrows the registry to the previewable formats
// (spec §4.7: office-exts, docuworks-exts, pdf) so the preview worker never
// pulls in the image pipeline.
func buildPreviewRegistry(lambdaClient *lambda.Client, log *slog.Logger) *processor.Registry {
	ocr := converterclient.NewOCRClient(lambdaClient, envOr("OCR_LAMBDA", "file-ingest-ocr"))
	thumbs := converterclient.NewThumbnailClient(lambdaClient, envOr("THUMBNAIL_LAMBDA", "file-ingest-thumbnail"))
	pdfText := converterclient.NewPDFTextClient(lambdaClient, envOr("PDF_TEXT_LAMBDA", "file-ingest-pdf-text"), log)
	pdfRaster := converterclient.NewPDFRasterClient(lambdaClient, envOr("PDF_RASTER_LAMBDA", "file-ingest-pdf-raster"))
	officeConvert := converterclient.NewOfficeConvertClient(lambdaClient, envOr("OFFICE_CONVERT_LAMBDA", "file-ingest-office-convert"))
	docuworksConvert := converterclient.NewDocuWorksConvertClient(lambdaClient, envOr("DOCUWORKS_CONVERT_LAMBDA", "file-ingest-docuworks-convert"))

	pdfProc := processor.NewPDFProcessor(pdfText, pdfRaster, ocr, thumbs)
	officeProc := processor.NewOfficeProcessor(officeConvert, noopPPTXThumbnailReader{}, pdfProc)
	docuworksProc := processor.NewDocuWorksProcessor(docuworksConvert, pdfProc)

	reg := processor.NewRegistry()
	reg.Register(pdfProc, "pdf")
	reg.Register(officeProc, "doc", "docx", "xls", "xlsx", "ppt", "pptx")
	reg.Register(docuworksProc, "xdw", "xbd")
	return reg
}

type noopPPTXThumbnailReader struct{}

func (noopPPTXThumbnailReader) ReadEmbeddedThumbnail(path string) ([]byte, string, bool) {
	return nil, "", false
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package worker

import (
	"context"
	"errors"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/nasindex/fileingest/engine/docmodel"
	"github.com/nasindex/fileingest/engine/enrich"
	"github.com/nasindex/fileingest/engine/processor"
	"github.com/nasindex/fileingest/pkg/broker"
)

// processMessage runs the ten-step pipeline from §4.6 against one message,
// short-circuiting on the first hard failure. It never returns an error —
// every outcome is expressed as a pipelineAction so the caller's
// delete-or-DLQ bookkeeping stays in one place.
func (w *Worker) processMessage(ctx context.Context, msg broker.Message) pipelineAction {
	// Step 1: parse, tolerating both wire shapes.
	event, err := docmodel.ParseFileEvent(msg.Body)
	if err != nil {
		return w.fail("worker.parse", err)
	}

	// Step 2: recursion guard — never re-ingest a thumbnail we produced.
	if docmodel.IsThumbnailPath(event.Key) {
		w.logger.Debug("worker: dropping thumbnail-sourced notification", "key", event.Key)
		return pipelineAction{kind: actionDrop}
	}

	// Step 3: route by extension; unsupported formats are dropped, not DLQ'd.
	proc, ok := w.registry.Lookup(event.Key)
	if !ok {
		w.logger.Info("worker: no processor registered for extension, dropping", "key", event.Key)
		return pipelineAction{kind: actionDrop}
	}

	bucket := event.Bucket
	if bucket == "" {
		bucket = w.cfg.IngestBucket
	}

	// Step 4: download to a local temp file.
	localPath, err := w.objects.Download(ctx, bucket, event.Key)
	if err != nil {
		return w.fail("worker.download", err)
	}
	defer w.objects.CleanupTempFile(localPath)

	// Step 5: run the processor. A returned Go error means the processor
	// itself could not run (e.g. context cancellation). A false Success with
	// a nil error means the processor ran but the content failed (oversize,
	// corrupt, OCR failure) — that's still a hard failure and routes to the
	// same drop-or-DLQ decision (§4.6 step 5, §7, §8). Only
	// MetadataOnlyProcessor is exempt: it always reports Success true, since
	// its whole job is the "identity metadata is always indexed" guarantee
	// of §4.3.
	res, err := proc.Process(ctx, localPath)
	if err != nil {
		return w.fail("worker.process", err)
	}
	if !res.Success {
		failErr := res.Err
		if failErr == nil {
			failErr = docmodel.Wrap(docmodel.KindProcessingFailure, "worker.process", errors.New(res.ErrorMessage))
		}
		return w.fail("worker.process", failErr)
	}

	// Step 6: build the document, overlaying identity from the original key.
	doc := w.buildDocument(bucket, event, res)

	// Step 7: upload a thumbnail if the processor produced one. A failure here
	// does not fail the message — the document is still indexed without it.
	if len(res.ThumbnailBytes) > 0 && w.enrich != nil {
		url, s3Key, uerr := w.enrich.UploadThumbnail(ctx, event.Key, res.ThumbnailBytes, res.ThumbnailFormat)
		if uerr != nil {
			w.logger.Warn("worker: thumbnail upload failed, continuing without it", "key", event.Key, "error", uerr)
		} else {
			doc.ThumbnailURL = url
			doc.ThumbnailS3Key = s3Key
		}
	}

	// Step 8: embed image-like documents. Graceful degradation is handled
	// inside Enricher.EmbedIfImage itself — any failure just means ok=false.
	if w.enrich != nil && strings.HasPrefix(doc.MimeType, "image/") {
		if vec, dim, updatedAt, ok := w.enrich.EmbedIfImage(ctx, doc.MimeType, doc.FilePath); ok {
			doc.ImageVector = vec
			doc.VectorDimension = dim
			doc.VectorModel = w.cfg.VectorModel
			doc.VectorUpdatedAt = updatedAt
		}
	}

	// Step 9: index. This is the one mandatory external write — failure here
	// is always a hard failure (§4.6).
	if err := w.index.IndexDocument(ctx, doc, doc.FileKey); err != nil {
		return w.fail("worker.index", err)
	}

	// Step 10: temp-file cleanup runs via the deferred CleanupTempFile above
	// on every exit path, success or failure.
	return pipelineAction{kind: actionDelete}
}

// fail classifies err and turns it into a drop (no DLQ entry) or a DLQ
// action, per the Kind taxonomy's Retryable/DropSilently rules (§7).
func (w *Worker) fail(op string, err error) pipelineAction {
	kind := docmodel.Classify(err)
	if kind.DropSilently() {
		w.logger.Info("worker: dropping non-retryable failure", "op", op, "kind", kind.String(), "error", err)
		return pipelineAction{kind: actionDrop}
	}
	w.logger.Warn("worker: sending message to dlq", "op", op, "kind", kind.String(), "error", err)
	return pipelineAction{kind: actionDLQ, reason: op + ": " + err.Error()}
}

// buildDocument assembles the indexed document. Identity fields (fileName,
// fileExtension, fileKey, filePath) are always derived from the original
// source key, never from the local temp path (§3 invariant 2).
func (w *Worker) buildDocument(bucket string, event docmodel.SourceEvent, res processor.ProcessingResult) *docmodel.Document {
	meta := enrich.PathMetadata(event.Key, event.OriginalPath)

	mimeType := res.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(docmodel.DeriveExtension(event.Key))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	// res.Success is always true here: a failed ProcessingResult short-circuits
	// to the DLQ/drop path in processMessage before buildDocument is called.
	doc := &docmodel.Document{
		FileID:        docmodel.DeriveFileID(bucket, event.Key),
		FileName:      path.Base(event.Key),
		FilePath:      docmodel.CanonicalURL(w.cfg.Scheme, bucket, event.Key),
		FileKey:       event.Key,
		Bucket:        bucket,
		FileExtension: docmodel.DeriveExtension(event.Key),
		MimeType:      mimeType,
		FileSize:      res.FileSize,
		ProcessedAt:   time.Now().UTC(),

		ExtractedText: res.ExtractedText,
		Content:       res.ExtractedText,
		PageCount:     res.PageCount,
		WordCount:     res.WordCount,
		CharCount:     res.CharCount,

		Category:        meta.Category,
		CategoryDisplay: meta.CategoryDisplay,
		NASServer:       meta.NASServer,
		RootFolder:      meta.RootFolder,
		NASPath:         meta.NASPath,

		OCRLanguage: res.OCRLanguage,

		ProcessorName:         res.ProcessorName,
		ProcessorVersion:      res.ProcessorVersion,
		ProcessingTimeSeconds: res.ProcessingTimeSeconds,

		ProcessingStatus: docmodel.StatusCompleted,
		ErrorMessage:     res.ErrorMessage,
		Success:          res.Success,
	}
	if res.OCRConfidence != nil {
		doc.OCRConfidence = *res.OCRConfidence
	}
	if res.FileType == "image" {
		doc.OCRText = res.ExtractedText
	}
	return doc
}

package backfill

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nasindex/fileingest/engine/docmodel"
	"github.com/nasindex/fileingest/pkg/indexgateway"
)

// RunMissingPreviews finds documents whose extension supports a preview but
// which have none yet, and emits a preview-regeneration work item for each
// (§4.7 mode 1). Checkpointed on the document id so a re-run skips already-queued
// documents.
func (s *Scanner) RunMissingPreviews(ctx context.Context) (*Report, error) {
	query := map[string]any{
		"bool": map[string]any{
			"filter":   []map[string]any{{"terms": map[string]any{"fileExtension": previewExtensionsFor(s.cfg.FileTypeFilter)}}},
			"must_not": []map[string]any{{"exists": map[string]any{"field": "previewImages"}}},
		},
	}
	report, err := s.scroll(ctx, query, func(hit indexgateway.Hit) (bool, bool, error) {
		if s.checkpoint != nil && s.checkpoint.IsProcessed(hit.ID) {
			return true, false, nil
		}
		doc, derr := decodeHit(hit)
		if derr != nil {
			return true, false, derr
		}
		if s.cfg.DryRun {
			return true, false, nil
		}
		if s.workItems == nil {
			return true, false, nil
		}
		wi := docmodel.WorkItem{
			TaskType:      docmodel.TaskTypePreviewRegeneration,
			FileType:      fileTypeFor(doc.FileExtension),
			FileID:        doc.FileID,
			DocID:         hit.ID,
			FileName:      doc.FileName,
			FilePath:      doc.FilePath,
			FileExtension: doc.FileExtension,
			S3Key:         doc.FileKey,
			EnqueuedAt:    time.Now().UTC().Format(time.RFC3339),
			Priority:      5,
			Metadata:      docmodel.WorkItemMetadata{Source: "backfill", Reason: "missing_preview"},
		}
		body, merr := json.Marshal(wi)
		if merr != nil {
			return true, false, merr
		}
		if serr := s.workItems.Requeue(ctx, body, map[string]string{"taskType": wi.TaskType}); serr != nil {
			return true, false, serr
		}
		if s.checkpoint != nil {
			s.checkpoint.MarkProcessed(hit.ID, "previews_queued")
		}
		return true, true, nil
	})
	if report != nil {
		report.Mode = "missing_previews"
	}
	return report, err
}

// RunMissingVectors finds image documents with no imageVector, generates one
// with bounded concurrency via the embedding producer, and patches the
// document (§4.7 mode 2). A failed or degraded embed (zero-length vector)
// is skipped, not an error — the embedding producer already degrades
// gracefully on its own failures.
func (s *Scanner) RunMissingVectors(ctx context.Context) (*Report, error) {
	query := map[string]any{
		"bool": map[string]any{
			"filter":   []map[string]any{{"terms": map[string]any{"fileExtension": imageExtensions}}},
			"must_not": []map[string]any{{"exists": map[string]any{"field": "imageVector"}}},
		},
	}
	report, err := s.scrollConcurrent(ctx, query, func(hit indexgateway.Hit) (bool, bool, error) {
		if s.checkpoint != nil && s.checkpoint.IsProcessed(hit.ID) {
			return true, false, nil
		}
		doc, derr := decodeHit(hit)
		if derr != nil {
			return true, false, derr
		}
		if s.cfg.DryRun || s.embedder == nil {
			return true, false, nil
		}
		res, eerr := s.embedder.Embed(ctx, doc.FilePath)
		if eerr != nil || len(res.Embedding) == 0 {
			if s.checkpoint != nil {
				s.checkpoint.IncrementStat("vectors_skipped")
			}
			return true, false, nil
		}
		now := time.Now().UTC()
		partial := map[string]any{
			"imageVector":     res.Embedding,
			"vectorDimension": res.Dimension,
			"vectorUpdatedAt": now,
		}
		if uerr := s.index.UpdateDocument(ctx, hit.ID, partial); uerr != nil {
			return true, false, uerr
		}
		if s.checkpoint != nil {
			s.checkpoint.MarkProcessed(hit.ID, "vectors_backfilled")
		}
		return true, true, nil
	})
	if report != nil {
		report.Mode = "missing_vectors"
	}
	return report, err
}

// RunMissingCategory finds documents whose nasServer implies a different
// category than the one stored (or no category at all) and patches it
// (§4.7 mode 3, §4.5 correction rule).
func (s *Scanner) RunMissingCategory(ctx context.Context) (*Report, error) {
	query := map[string]any{
		"bool": map[string]any{
			"filter": []map[string]any{{"exists": map[string]any{"field": "nasServer"}}},
		},
	}
	report, err := s.scroll(ctx, query, func(hit indexgateway.Hit) (bool, bool, error) {
		doc, derr := decodeHit(hit)
		if derr != nil {
			return false, false, derr
		}
		corrected := docmodel.CorrectCategory(doc.NASServer, doc.Category)
		if corrected == doc.Category {
			return false, false, nil
		}
		if s.checkpoint != nil && s.checkpoint.IsProcessed(hit.ID) {
			return true, false, nil
		}
		if s.cfg.DryRun {
			return true, false, nil
		}
		partial := map[string]any{"category": corrected}
		if uerr := s.index.UpdateDocument(ctx, hit.ID, partial); uerr != nil {
			return true, false, uerr
		}
		if s.checkpoint != nil {
			s.checkpoint.MarkProcessed(hit.ID, "categories_corrected")
		}
		return true, true, nil
	})
	if report != nil {
		report.Mode = "missing_category"
	}
	return report, err
}

func fileTypeFor(ext string) string {
	switch ext {
	case ".pdf":
		return "pdf"
	case ".xdw", ".xbd":
		return "docuworks"
	default:
		return "office"
	}
}

// previewExtensionsFor narrows the missing-previews query to one
// preview-eligible file type, mirroring the CLI's --file-type office |
// docuworks | all flag (spec §6).
func previewExtensionsFor(fileType string) []string {
	switch fileType {
	case "office":
		return []string{".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx"}
	case "docuworks":
		return []string{".xdw", ".xbd"}
	case "pdf":
		return []string{".pdf"}
	default:
		return previewableExtensions
	}
}

// Package backfill implements the Backfill Scanner (spec §4.7): three
// scroll-paged repair modes over the search index — missing previews,
// missing vectors, missing/incorrect category — each checkpointed so a
// re-run resumes instead of rescanning, and each with a dry-run mode that
// reports the same counts without writing.
package backfill

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nasindex/fileingest/engine/docmodel"
	"github.com/nasindex/fileingest/engine/enrich"
	"github.com/nasindex/fileingest/pkg/fn"
	"github.com/nasindex/fileingest/pkg/indexgateway"
)

// WorkItemSender is the subset of *broker.Broker this package depends on,
// used to emit preview-regeneration work items onto the primary queue.
type WorkItemSender interface {
	Requeue(ctx context.Context, body []byte, attrs map[string]string) error
}

var previewableExtensions = []string{
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".xdw", ".xbd", ".pdf",
}

var imageExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp",
}

// Config tunes a scan (§4.7: scroll keepAlive 5-10min, page size 500-1000).
type Config struct {
	PageSize   int
	KeepAlive  time.Duration
	DryRun     bool
	SampleSize int
	// Limit caps the number of matched documents a scan acts on; 0 is
	// unbounded. Used by the preview-enqueuer CLI's --limit flag.
	Limit int
	// FileTypeFilter narrows RunMissingPreviews to one preview-eligible
	// file type ("office", "docuworks", "pdf", or "" / "all"). Used by the
	// preview-enqueuer CLI's --file-type flag.
	FileTypeFilter string
	// Concurrency bounds the embed-and-patch fan-out within a single
	// scroll page for RunMissingVectors (§4.7: "bounded parallelism").
	// 0 defaults to 4.
	Concurrency int
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{PageSize: 500, KeepAlive: 5 * time.Minute, SampleSize: 10}
}

// Report summarizes one scan-and-fix run.
type Report struct {
	Mode      string
	Scanned   int
	Matched   int
	Updated   int
	Skipped   int
	Errors    int
	DryRun    bool
	SampleIDs []string
}

func (r *Report) recordSample(id string, cfg Config) {
	if len(r.SampleIDs) < cfg.SampleSize {
		r.SampleIDs = append(r.SampleIDs, id)
	}
}

// Scanner is the sole owner of a backfill run's dependencies.
type Scanner struct {
	index      *indexgateway.Gateway
	workItems  WorkItemSender
	embedder   enrich.Embedder
	checkpoint CheckpointStore
	cfg        Config
	logger     *slog.Logger
}

// CheckpointStore is the subset of *checkpoint.Store this package depends on.
type CheckpointStore interface {
	IsProcessed(id string) bool
	MarkProcessed(id, statKey string)
	IncrementStat(statKey string)
}

// New constructs a Scanner. embedder may be nil if the missing-vectors mode
// will not be run; workItems may be nil if the missing-previews mode will
// not be run.
func New(index *indexgateway.Gateway, workItems WorkItemSender, embedder enrich.Embedder, cp CheckpointStore, cfg Config, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultConfig().KeepAlive
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultConfig().SampleSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scanner{index: index, workItems: workItems, embedder: embedder, checkpoint: cp, cfg: cfg, logger: logger}
}

// decodeHit unmarshals a scroll hit's source into a Document, tolerating the
// backfill scanner only ever reading the fields it needs.
func decodeHit(hit indexgateway.Hit) (*docmodel.Document, error) {
	var doc docmodel.Document
	if err := json.Unmarshal(hit.Source, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// scroll runs query to completion, invoking visit for every hit and closing
// the scroll cursor on exit. visit returns matched (counts toward Report's
// Matched regardless of outcome) and acted (counts toward Updated when true,
// Skipped when false) plus any per-hit error.
func (s *Scanner) scroll(ctx context.Context, query map[string]any, visit func(hit indexgateway.Hit) (matched, acted bool, err error)) (*Report, error) {
	report := &Report{DryRun: s.cfg.DryRun}
	handle, hits, err := s.index.Scroll(ctx, query, s.cfg.PageSize, s.cfg.KeepAlive)
	if err != nil {
		return nil, err
	}
	defer handle.Close(ctx)

	for {
		if len(hits) == 0 {
			break
		}
		for _, hit := range hits {
			report.Scanned++
			matched, acted, verr := visit(hit)
			if !matched {
				continue
			}
			report.Matched++
			report.recordSample(hit.ID, s.cfg)
			if verr != nil {
				report.Errors++
				s.logger.Warn("backfill: per-document repair failed", "id", hit.ID, "error", verr)
				continue
			}
			if acted {
				report.Updated++
			} else {
				report.Skipped++
			}
			if s.cfg.Limit > 0 && report.Matched >= s.cfg.Limit {
				return report, nil
			}
		}
		hits, err = handle.Next(ctx)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// hitOutcome is one visit() result, carried out of the fn.ParMap fan-out so
// Report bookkeeping can stay single-threaded.
type hitOutcome struct {
	id             string
	matched, acted bool
	err            error
}

// scrollConcurrent is scroll's bounded-parallelism sibling, used by
// RunMissingVectors so the embed-and-patch round trip for a page's hits
// runs cfg.Concurrency at a time instead of one at a time (§4.7: "directly
// invoke the embedding producer with bounded parallelism"), via fn.ParMap.
func (s *Scanner) scrollConcurrent(ctx context.Context, query map[string]any, visit func(hit indexgateway.Hit) (matched, acted bool, err error)) (*Report, error) {
	report := &Report{DryRun: s.cfg.DryRun}
	handle, hits, err := s.index.Scroll(ctx, query, s.cfg.PageSize, s.cfg.KeepAlive)
	if err != nil {
		return nil, err
	}
	defer handle.Close(ctx)

	for {
		if len(hits) == 0 {
			break
		}
		outcomes := fn.ParMap(hits, s.cfg.Concurrency, func(hit indexgateway.Hit) hitOutcome {
			matched, acted, verr := visit(hit)
			return hitOutcome{id: hit.ID, matched: matched, acted: acted, err: verr}
		})
		for _, o := range outcomes {
			report.Scanned++
			if !o.matched {
				continue
			}
			report.Matched++
			report.recordSample(o.id, s.cfg)
			if o.err != nil {
				report.Errors++
				s.logger.Warn("backfill: per-document repair failed", "id", o.id, "error", o.err)
				continue
			}
			if o.acted {
				report.Updated++
			} else {
				report.Skipped++
			}
			if s.cfg.Limit > 0 && report.Matched >= s.cfg.Limit {
				return report, nil
			}
		}
		hits, err = handle.Next(ctx)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// Refresh forces the index to make recent patches searchable, run once at
// the end of a scan (§4.7) rather than per-write.
func (s *Scanner) Refresh(ctx context.Context) error {
	return s.index.Refresh(ctx)
}

// Package indexgateway implements the Index Gateway (spec §4.4) over an
// OpenSearch-flavored search cluster: fixed mapping with a Japanese
// morphological analyzer and a k-NN vector field, bulk indexing, partial
// update, full-text/vector/hybrid search, and scroll-based full scans.
package indexgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nasindex/fileingest/engine/docmodel"
	"github.com/nasindex/fileingest/pkg/resilience"
)

// osAPI is the narrow surface this package depends on, implemented by a thin
// adapter over the real opensearch-go/v4 client in client.go and by a
// hand-written fake in tests.
type osAPI interface {
	IndicesExists(ctx context.Context, index string) (bool, error)
	IndicesCreate(ctx context.Context, index string, body []byte) error
	Index(ctx context.Context, index, id string, body []byte) (created bool, err error)
	Bulk(ctx context.Context, body []byte) (BulkResponse, error)
	Update(ctx context.Context, index, id string, body []byte) error
	Search(ctx context.Context, index string, body []byte) (SearchResponse, error)
	Scroll(ctx context.Context, scrollID string, keepAlive string) (SearchResponse, error)
	ClearScroll(ctx context.Context, scrollID string) error
	Count(ctx context.Context, index string, body []byte) (int, error)
	Refresh(ctx context.Context, index string) error
}

// BulkResponse reports per-item success/failure from a _bulk call.
type BulkResponse struct {
	Errors bool
	Items  []BulkItemResult
}

// BulkItemResult is one entry's outcome within a bulk response.
type BulkItemResult struct {
	ID     string
	Status int
	Error  string
}

// Hit is one search result.
type Hit struct {
	ID         string
	Score      float64
	Source     json.RawMessage
	Highlight  map[string][]string
}

// SearchResponse is a normalised search/scroll result.
type SearchResponse struct {
	Total    int
	ScrollID string
	Hits     []Hit
}

// Gateway is the sole owner of all search-cluster operations, mirroring the
// single-owner-struct shape of the teacher's engine/semantic.VectorStore.
type Gateway struct {
	client  osAPI
	index   string
	opts    MappingOptions
	logger  *slog.Logger
	breaker *resilience.Breaker
}

// New constructs a Gateway bound to a single index name. A circuit breaker
// guards the single-document write path (§4.4): once the cluster starts
// failing indexing calls, the breaker trips and fails fast so a worker pool
// degraded by a saturated cluster stops compounding the problem with retries.
func New(client osAPI, index string, opts MappingOptions, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.VectorDimension <= 0 {
		opts = DefaultMappingOptions()
	}
	return &Gateway{client: client, index: index, opts: opts, logger: logger, breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts)}
}

// EnsureIndex creates the index with the fixed mapping if absent. Idempotent.
func (g *Gateway) EnsureIndex(ctx context.Context) error {
	exists, err := g.client.IndicesExists(ctx, g.index)
	if err != nil {
		return docmodel.Wrap(docmodel.KindIndexUnavailable, "indexgateway.ensureindex", err)
	}
	if exists {
		return nil
	}
	body, err := buildMapping(g.opts)
	if err != nil {
		return err
	}
	if err := g.client.IndicesCreate(ctx, g.index, body); err != nil {
		return docmodel.Wrap(docmodel.KindIndexUnavailable, "indexgateway.ensureindex", err)
	}
	return nil
}

// IndexDocument PUTs a full document keyed by id, defaulting to the raw
// source key (doc.FileKey) when id is empty. Sets indexedAt.
func (g *Gateway) IndexDocument(ctx context.Context, doc *docmodel.Document, id string) error {
	if id == "" {
		id = doc.FileKey
	}
	doc.IndexedAt = time.Now().UTC()
	body, err := json.Marshal(doc)
	if err != nil {
		return docmodel.Wrap(docmodel.KindValidation, "indexgateway.indexdocument", err)
	}
	if err := g.breaker.Call(ctx, func(ctx context.Context) error {
		_, err := g.client.Index(ctx, g.index, id, body)
		return err
	}); err != nil {
		return docmodel.Wrap(docmodel.KindIndexUnavailable, "indexgateway.indexdocument", err)
	}
	return nil
}

// BulkIndex batches documents into a single _bulk call and reports
// per-item failures. Callers decide refresh semantics externally (§4.4:
// disable refresh for throughput, refresh once at the end of a large batch).
func (g *Gateway) BulkIndex(ctx context.Context, docs []*docmodel.Document, ids []string) (BulkResponse, error) {
	if len(docs) != len(ids) {
		return BulkResponse{}, docmodel.Wrap(docmodel.KindValidation, "indexgateway.bulkindex", fmt.Errorf("docs/ids length mismatch: %d vs %d", len(docs), len(ids)))
	}
	var buf bytes.Buffer
	now := time.Now().UTC()
	for i, doc := range docs {
		doc.IndexedAt = now
		action := map[string]any{"index": map[string]any{"_index": g.index, "_id": ids[i]}}
		actionLine, err := json.Marshal(action)
		if err != nil {
			return BulkResponse{}, docmodel.Wrap(docmodel.KindValidation, "indexgateway.bulkindex", err)
		}
		docLine, err := json.Marshal(doc)
		if err != nil {
			return BulkResponse{}, docmodel.Wrap(docmodel.KindValidation, "indexgateway.bulkindex", err)
		}
		buf.Write(actionLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}
	resp, err := g.client.Bulk(ctx, buf.Bytes())
	if err != nil {
		return BulkResponse{}, docmodel.Wrap(docmodel.KindIndexUnavailable, "indexgateway.bulkindex", err)
	}
	return resp, nil
}

// UpdateDocument applies a partial update, used by enrichment and backfill.
func (g *Gateway) UpdateDocument(ctx context.Context, id string, partial map[string]any) error {
	body, err := json.Marshal(map[string]any{"doc": partial})
	if err != nil {
		return docmodel.Wrap(docmodel.KindValidation, "indexgateway.updatedocument", err)
	}
	if err := g.client.Update(ctx, g.index, id, body); err != nil {
		return docmodel.Wrap(docmodel.KindIndexUnavailable, "indexgateway.updatedocument", err)
	}
	return nil
}

// Search runs a multi-match query across fileName^3, content^2, ocrText,
// filePath with fuzziness=AUTO (§4.4).
func (g *Gateway) Search(ctx context.Context, query string, size, from int) (SearchResponse, error) {
	body, err := json.Marshal(map[string]any{
		"size": size,
		"from": from,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":     query,
				"fields":    []string{"fileName^3", "content^2", "ocrText", "filePath"},
				"fuzziness": "AUTO",
			},
		},
		"highlight": map[string]any{
			"fields": map[string]any{"content": map[string]any{}, "extractedText": map[string]any{}},
		},
	})
	if err != nil {
		return SearchResponse{}, docmodel.Wrap(docmodel.KindValidation, "indexgateway.search", err)
	}
	resp, err := g.client.Search(ctx, g.index, body)
	if err != nil {
		return SearchResponse{}, docmodel.Wrap(docmodel.KindIndexUnavailable, "indexgateway.search", err)
	}
	return resp, nil
}

// VectorSearch runs k-NN similarity search on imageVector.
func (g *Gateway) VectorSearch(ctx context.Context, vec []float32, k int) (SearchResponse, error) {
	body, err := json.Marshal(map[string]any{
		"size": k,
		"query": map[string]any{
			"knn": map[string]any{
				"imageVector": map[string]any{"vector": vec, "k": k},
			},
		},
	})
	if err != nil {
		return SearchResponse{}, docmodel.Wrap(docmodel.KindValidation, "indexgateway.vectorsearch", err)
	}
	resp, err := g.client.Search(ctx, g.index, body)
	if err != nil {
		return SearchResponse{}, docmodel.Wrap(docmodel.KindIndexUnavailable, "indexgateway.vectorsearch", err)
	}
	return resp, nil
}

// HybridSearch combines the text and vector queries in a `should` compound
// with explicit weights (§4.4).
func (g *Gateway) HybridSearch(ctx context.Context, query string, vec []float32, textWeight, vecWeight float64, size int) (SearchResponse, error) {
	body, err := json.Marshal(map[string]any{
		"size": size,
		"query": map[string]any{
			"bool": map[string]any{
				"should": []map[string]any{
					{
						"multi_match": map[string]any{
							"query":     query,
							"fields":    []string{"fileName^3", "content^2", "ocrText", "filePath"},
							"fuzziness": "AUTO",
							"boost":     textWeight,
						},
					},
					{
						"knn": map[string]any{
							"imageVector": map[string]any{"vector": vec, "k": size, "boost": vecWeight},
						},
					},
				},
			},
		},
	})
	if err != nil {
		return SearchResponse{}, docmodel.Wrap(docmodel.KindValidation, "indexgateway.hybridsearch", err)
	}
	resp, err := g.client.Search(ctx, g.index, body)
	if err != nil {
		return SearchResponse{}, docmodel.Wrap(docmodel.KindIndexUnavailable, "indexgateway.hybridsearch", err)
	}
	return resp, nil
}

// ScrollHandle is an open scroll cursor over a full-scan query.
type ScrollHandle struct {
	gw       *Gateway
	scrollID string
	keepAlive string
	done     bool
}

// Scroll begins a scroll-based full scan (§4.4: all full-scan operations use
// scroll or search_after, never raw from+size beyond the 10k window).
func (g *Gateway) Scroll(ctx context.Context, query map[string]any, pageSize int, keepAlive time.Duration) (*ScrollHandle, []Hit, error) {
	ka := formatKeepAlive(keepAlive)
	body, err := json.Marshal(map[string]any{
		"size":  pageSize,
		"query": query,
	})
	if err != nil {
		return nil, nil, docmodel.Wrap(docmodel.KindValidation, "indexgateway.scroll", err)
	}
	resp, err := g.client.Search(ctx, g.index+"?scroll="+ka, body)
	if err != nil {
		return nil, nil, docmodel.Wrap(docmodel.KindIndexUnavailable, "indexgateway.scroll", err)
	}
	h := &ScrollHandle{gw: g, scrollID: resp.ScrollID, keepAlive: ka, done: len(resp.Hits) == 0}
	return h, resp.Hits, nil
}

// Next fetches the next scroll page; returns an empty slice when exhausted.
func (h *ScrollHandle) Next(ctx context.Context) ([]Hit, error) {
	if h.done || h.scrollID == "" {
		return nil, nil
	}
	resp, err := h.gw.client.Scroll(ctx, h.scrollID, h.keepAlive)
	if err != nil {
		return nil, docmodel.Wrap(docmodel.KindIndexUnavailable, "indexgateway.scroll.next", err)
	}
	if resp.ScrollID != "" {
		h.scrollID = resp.ScrollID
	}
	if len(resp.Hits) == 0 {
		h.done = true
	}
	return resp.Hits, nil
}

// Close clears the scroll context; best-effort.
func (h *ScrollHandle) Close(ctx context.Context) {
	if h.scrollID == "" {
		return
	}
	if err := h.gw.client.ClearScroll(ctx, h.scrollID); err != nil {
		h.gw.logger.Warn("indexgateway: clear scroll failed", "error", err)
	}
}

// CountByQuery returns the number of documents matching query.
func (g *Gateway) CountByQuery(ctx context.Context, query map[string]any) (int, error) {
	body, err := json.Marshal(map[string]any{"query": query})
	if err != nil {
		return 0, docmodel.Wrap(docmodel.KindValidation, "indexgateway.countbyquery", err)
	}
	n, err := g.client.Count(ctx, g.index, body)
	if err != nil {
		return 0, docmodel.Wrap(docmodel.KindIndexUnavailable, "indexgateway.countbyquery", err)
	}
	return n, nil
}

// Refresh forces the index's in-memory segments to become searchable,
// used by the backfill scanner once at the end of a scan-and-patch run
// (§4.7) rather than per-write, to keep bulk/backfill throughput high.
func (g *Gateway) Refresh(ctx context.Context) error {
	if err := g.client.Refresh(ctx, g.index); err != nil {
		return docmodel.Wrap(docmodel.KindIndexUnavailable, "indexgateway.refresh", err)
	}
	return nil
}

func formatKeepAlive(d time.Duration) string {
	return strconv.Itoa(int(d.Minutes())) + "m"
}

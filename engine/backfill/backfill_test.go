package backfill

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nasindex/fileingest/engine/docmodel"
	"github.com/nasindex/fileingest/pkg/embedclient"
	"github.com/nasindex/fileingest/pkg/indexgateway"
)

// fakeOS is a hand-written indexgateway.osAPI stand-in, structurally
// satisfying the interface from outside the package since all of its
// methods are exported.
type fakeOS struct {
	searchResp  indexgateway.SearchResponse
	scrollPages []indexgateway.SearchResponse
	scrollCalls int
	updateCalls []string
	updateErr   error
	refreshCalls int
}

func (f *fakeOS) IndicesExists(ctx context.Context, index string) (bool, error) { return true, nil }
func (f *fakeOS) IndicesCreate(ctx context.Context, index string, body []byte) error { return nil }
func (f *fakeOS) Index(ctx context.Context, index, id string, body []byte) (bool, error) {
	return true, nil
}
func (f *fakeOS) Bulk(ctx context.Context, body []byte) (indexgateway.BulkResponse, error) {
	return indexgateway.BulkResponse{}, nil
}
func (f *fakeOS) Update(ctx context.Context, index, id string, body []byte) error {
	f.updateCalls = append(f.updateCalls, id)
	return f.updateErr
}
func (f *fakeOS) Search(ctx context.Context, index string, body []byte) (indexgateway.SearchResponse, error) {
	return f.searchResp, nil
}
func (f *fakeOS) Scroll(ctx context.Context, scrollID, keepAlive string) (indexgateway.SearchResponse, error) {
	if f.scrollCalls >= len(f.scrollPages) {
		return indexgateway.SearchResponse{}, nil
	}
	resp := f.scrollPages[f.scrollCalls]
	f.scrollCalls++
	return resp, nil
}
func (f *fakeOS) ClearScroll(ctx context.Context, scrollID string) error { return nil }
func (f *fakeOS) Count(ctx context.Context, index string, body []byte) (int, error) { return 0, nil }
func (f *fakeOS) Refresh(ctx context.Context, index string) error {
	f.refreshCalls++
	return nil
}

type fakeWorkItemSender struct {
	sent []string
	err  error
}

func (f *fakeWorkItemSender) Requeue(ctx context.Context, body []byte, attrs map[string]string) error {
	f.sent = append(f.sent, string(body))
	return f.err
}

type fakeCheckpointStore struct {
	processed map[string]bool
	stats     map[string]int
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{processed: map[string]bool{}, stats: map[string]int{}}
}
func (f *fakeCheckpointStore) IsProcessed(id string) bool { return f.processed[id] }
func (f *fakeCheckpointStore) MarkProcessed(id, statKey string) {
	f.processed[id] = true
	f.stats[statKey]++
}
func (f *fakeCheckpointStore) IncrementStat(statKey string) { f.stats[statKey]++ }

type fakeEmbedder struct {
	result embedclient.Result
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, imageURL string) (embedclient.Result, error) {
	return f.result, f.err
}

func hitFor(t *testing.T, id string, doc docmodel.Document) indexgateway.Hit {
	t.Helper()
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal doc: %v", err)
	}
	return indexgateway.Hit{ID: id, Source: body}
}

func newTestScanner(os *fakeOS, sender WorkItemSender, embedder *fakeEmbedder, cp CheckpointStore, cfg Config) *Scanner {
	gw := indexgateway.New(os, "documents", indexgateway.DefaultMappingOptions(), nil)
	var emb interface {
		Embed(ctx context.Context, imageURL string) (embedclient.Result, error)
	}
	if embedder != nil {
		emb = embedder
	}
	return New(gw, sender, emb, cp, cfg, nil)
}

func TestRunMissingPreviewsEnqueuesWorkItemAndCheckpoints(t *testing.T) {
	doc := docmodel.Document{FileID: "f1", FileName: "report.pdf", FileKey: "documents/a/report.pdf", FileExtension: ".pdf"}
	os := &fakeOS{searchResp: indexgateway.SearchResponse{Hits: []indexgateway.Hit{hitFor(t, "doc1", doc)}}}
	sender := &fakeWorkItemSender{}
	cp := newFakeCheckpointStore()
	s := newTestScanner(os, sender, nil, cp, Config{SampleSize: 10})

	report, err := s.RunMissingPreviews(context.Background())
	if err != nil {
		t.Fatalf("RunMissingPreviews() = %v", err)
	}
	if report.Scanned != 1 || report.Matched != 1 || report.Updated != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 work item sent, got %d", len(sender.sent))
	}
	var wi docmodel.WorkItem
	if err := json.Unmarshal([]byte(sender.sent[0]), &wi); err != nil {
		t.Fatalf("unmarshal work item: %v", err)
	}
	if wi.TaskType != docmodel.TaskTypePreviewRegeneration {
		t.Errorf("TaskType = %q, want %q", wi.TaskType, docmodel.TaskTypePreviewRegeneration)
	}
	if wi.FileType != "pdf" {
		t.Errorf("FileType = %q, want pdf", wi.FileType)
	}
	if !cp.IsProcessed("doc1") {
		t.Error("expected doc1 to be checkpointed")
	}
}

func TestRunMissingPreviewsSkipsAlreadyCheckpointed(t *testing.T) {
	doc := docmodel.Document{FileID: "f1", FileKey: "documents/a/report.pdf", FileExtension: ".pdf"}
	os := &fakeOS{searchResp: indexgateway.SearchResponse{Hits: []indexgateway.Hit{hitFor(t, "doc1", doc)}}}
	sender := &fakeWorkItemSender{}
	cp := newFakeCheckpointStore()
	cp.MarkProcessed("doc1", "previews_queued")
	s := newTestScanner(os, sender, nil, cp, Config{SampleSize: 10})

	report, err := s.RunMissingPreviews(context.Background())
	if err != nil {
		t.Fatalf("RunMissingPreviews() = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no work items for already-checkpointed doc, got %d", len(sender.sent))
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}
}

func TestRunMissingPreviewsDryRunProducesNoWrites(t *testing.T) {
	doc := docmodel.Document{FileID: "f1", FileKey: "documents/a/report.pdf", FileExtension: ".pdf"}
	os := &fakeOS{searchResp: indexgateway.SearchResponse{Hits: []indexgateway.Hit{hitFor(t, "doc1", doc)}}}
	sender := &fakeWorkItemSender{}
	cp := newFakeCheckpointStore()
	s := newTestScanner(os, sender, nil, cp, Config{SampleSize: 10, DryRun: true})

	report, err := s.RunMissingPreviews(context.Background())
	if err != nil {
		t.Fatalf("RunMissingPreviews() = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("dry run must not send work items")
	}
	if report.Matched != 1 || report.Skipped != 1 {
		t.Errorf("report = %+v", report)
	}
	if cp.IsProcessed("doc1") {
		t.Error("dry run must not checkpoint")
	}
}

func TestRunMissingVectorsPatchesDocumentOnSuccessfulEmbed(t *testing.T) {
	doc := docmodel.Document{FileID: "f1", FileKey: "documents/a/pic.jpg", FileExtension: ".jpg", FilePath: "s3://bucket/documents/a/pic.jpg"}
	os := &fakeOS{searchResp: indexgateway.SearchResponse{Hits: []indexgateway.Hit{hitFor(t, "doc1", doc)}}}
	cp := newFakeCheckpointStore()
	embedder := &fakeEmbedder{result: embedclient.Result{Embedding: []float32{0.1, 0.2}, Dimension: 2}}
	s := newTestScanner(os, nil, embedder, cp, Config{SampleSize: 10})

	report, err := s.RunMissingVectors(context.Background())
	if err != nil {
		t.Fatalf("RunMissingVectors() = %v", err)
	}
	if report.Updated != 1 {
		t.Errorf("Updated = %d, want 1", report.Updated)
	}
	if len(os.updateCalls) != 1 || os.updateCalls[0] != "doc1" {
		t.Errorf("updateCalls = %v", os.updateCalls)
	}
	if !cp.IsProcessed("doc1") {
		t.Error("expected doc1 to be checkpointed")
	}
}

func TestRunMissingVectorsSkipsOnDegradedEmbed(t *testing.T) {
	doc := docmodel.Document{FileID: "f1", FileKey: "documents/a/pic.jpg", FileExtension: ".jpg"}
	os := &fakeOS{searchResp: indexgateway.SearchResponse{Hits: []indexgateway.Hit{hitFor(t, "doc1", doc)}}}
	cp := newFakeCheckpointStore()
	embedder := &fakeEmbedder{result: embedclient.Result{}}
	s := newTestScanner(os, nil, embedder, cp, Config{SampleSize: 10})

	report, err := s.RunMissingVectors(context.Background())
	if err != nil {
		t.Fatalf("RunMissingVectors() = %v", err)
	}
	if report.Skipped != 1 || report.Updated != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(os.updateCalls) != 0 {
		t.Error("expected no index update on degraded embed")
	}
	if cp.stats["vectors_skipped"] != 1 {
		t.Errorf("vectors_skipped = %d, want 1", cp.stats["vectors_skipped"])
	}
}

func TestRunMissingCategoryPatchesOnlyWhenCorrectionDiffers(t *testing.T) {
	docNeedsFix := docmodel.Document{FileID: "f1", FileKey: "a", NASServer: "ts-server3", Category: "wrong"}
	docAlreadyCorrect := docmodel.Document{FileID: "f2", FileKey: "b", NASServer: "ts-server6", Category: docmodel.CategoryStructure}
	os := &fakeOS{searchResp: indexgateway.SearchResponse{Hits: []indexgateway.Hit{
		hitFor(t, "doc1", docNeedsFix),
		hitFor(t, "doc2", docAlreadyCorrect),
	}}}
	cp := newFakeCheckpointStore()
	s := newTestScanner(os, nil, nil, cp, Config{SampleSize: 10})

	report, err := s.RunMissingCategory(context.Background())
	if err != nil {
		t.Fatalf("RunMissingCategory() = %v", err)
	}
	if report.Scanned != 2 {
		t.Errorf("Scanned = %d, want 2", report.Scanned)
	}
	if report.Matched != 1 || report.Updated != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(os.updateCalls) != 1 || os.updateCalls[0] != "doc1" {
		t.Errorf("updateCalls = %v, want [doc1]", os.updateCalls)
	}
}

func TestScrollPagesUntilExhausted(t *testing.T) {
	doc := docmodel.Document{FileID: "f1", FileKey: "a", FileExtension: ".pdf"}
	os := &fakeOS{
		searchResp: indexgateway.SearchResponse{ScrollID: "scroll-1", Hits: []indexgateway.Hit{hitFor(t, "doc1", doc)}},
		scrollPages: []indexgateway.SearchResponse{
			{ScrollID: "scroll-2", Hits: []indexgateway.Hit{hitFor(t, "doc2", doc)}},
			{ScrollID: "", Hits: nil},
		},
	}
	sender := &fakeWorkItemSender{}
	cp := newFakeCheckpointStore()
	s := newTestScanner(os, sender, nil, cp, Config{SampleSize: 10, DryRun: true})

	report, err := s.RunMissingPreviews(context.Background())
	if err != nil {
		t.Fatalf("RunMissingPreviews() = %v", err)
	}
	if report.Scanned != 2 {
		t.Errorf("Scanned = %d, want 2", report.Scanned)
	}
}

func TestRunMissingPreviewsStopsAtLimit(t *testing.T) {
	docs := []docmodel.Document{
		{FileID: "f1", FileKey: "a.pdf", FileExtension: ".pdf"},
		{FileID: "f2", FileKey: "b.pdf", FileExtension: ".pdf"},
		{FileID: "f3", FileKey: "c.pdf", FileExtension: ".pdf"},
	}
	os := &fakeOS{searchResp: indexgateway.SearchResponse{Hits: []indexgateway.Hit{
		hitFor(t, "doc1", docs[0]),
		hitFor(t, "doc2", docs[1]),
		hitFor(t, "doc3", docs[2]),
	}}}
	sender := &fakeWorkItemSender{}
	cp := newFakeCheckpointStore()
	s := newTestScanner(os, sender, nil, cp, Config{SampleSize: 10, Limit: 2})

	report, err := s.RunMissingPreviews(context.Background())
	if err != nil {
		t.Fatalf("RunMissingPreviews() = %v", err)
	}
	if report.Matched != 2 {
		t.Errorf("Matched = %d, want 2 (stopped at limit)", report.Matched)
	}
	if len(sender.sent) != 2 {
		t.Errorf("sent = %d work items, want 2", len(sender.sent))
	}
}

func TestRunMissingPreviewsFiltersByFileType(t *testing.T) {
	doc := docmodel.Document{FileID: "f1", FileKey: "a.pdf", FileExtension: ".pdf"}
	os := &fakeOS{searchResp: indexgateway.SearchResponse{Hits: []indexgateway.Hit{hitFor(t, "doc1", doc)}}}
	sender := &fakeWorkItemSender{}
	cp := newFakeCheckpointStore()
	s := newTestScanner(os, sender, nil, cp, Config{SampleSize: 10, FileTypeFilter: "office"})

	if _, err := s.RunMissingPreviews(context.Background()); err != nil {
		t.Fatalf("RunMissingPreviews() = %v", err)
	}
	extensions := previewExtensionsFor("office")
	for _, ext := range extensions {
		if ext == ".pdf" {
			t.Fatalf("office filter must not include .pdf, got %v", extensions)
		}
	}
}

func TestRefreshCallsIndexRefresh(t *testing.T) {
	os := &fakeOS{}
	s := newTestScanner(os, nil, nil, nil, Config{SampleSize: 10})

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() = %v", err)
	}
	if os.refreshCalls != 1 {
		t.Errorf("refreshCalls = %d, want 1", os.refreshCalls)
	}
}

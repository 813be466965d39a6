package indexgateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nasindex/fileingest/engine/docmodel"
)

type fakeOS struct {
	exists       bool
	existsErr    error
	createErr    error
	indexErr     error
	bulkResp     BulkResponse
	bulkErr      error
	updateErr    error
	searchResp   SearchResponse
	searchErr    error
	scrollPages  []SearchResponse
	scrollCalls  int
	clearCalls   int
	count        int
	countErr     error
	createCalled bool
	indexCalls   []string
	refreshCalls int
	refreshErr   error
}

func (f *fakeOS) IndicesExists(ctx context.Context, index string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeOS) IndicesCreate(ctx context.Context, index string, body []byte) error {
	f.createCalled = true
	return f.createErr
}

func (f *fakeOS) Index(ctx context.Context, index, id string, body []byte) (bool, error) {
	f.indexCalls = append(f.indexCalls, id)
	return true, f.indexErr
}

func (f *fakeOS) Bulk(ctx context.Context, body []byte) (BulkResponse, error) {
	return f.bulkResp, f.bulkErr
}

func (f *fakeOS) Update(ctx context.Context, index, id string, body []byte) error {
	return f.updateErr
}

func (f *fakeOS) Search(ctx context.Context, index string, body []byte) (SearchResponse, error) {
	return f.searchResp, f.searchErr
}

func (f *fakeOS) Scroll(ctx context.Context, scrollID, keepAlive string) (SearchResponse, error) {
	if f.scrollCalls >= len(f.scrollPages) {
		return SearchResponse{}, nil
	}
	resp := f.scrollPages[f.scrollCalls]
	f.scrollCalls++
	return resp, nil
}

func (f *fakeOS) ClearScroll(ctx context.Context, scrollID string) error {
	f.clearCalls++
	return nil
}

func (f *fakeOS) Count(ctx context.Context, index string, body []byte) (int, error) {
	return f.count, f.countErr
}

func (f *fakeOS) Refresh(ctx context.Context, index string) error {
	f.refreshCalls++
	return f.refreshErr
}

func testGateway(fake *fakeOS) *Gateway {
	return New(fake, "documents", DefaultMappingOptions(), nil)
}

func TestEnsureIndexSkipsCreateWhenExists(t *testing.T) {
	fake := &fakeOS{exists: true}
	gw := testGateway(fake)
	if err := gw.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex() = %v", err)
	}
	if fake.createCalled {
		t.Error("expected no create call when index already exists")
	}
}

func TestEnsureIndexCreatesWhenMissing(t *testing.T) {
	fake := &fakeOS{exists: false}
	gw := testGateway(fake)
	if err := gw.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex() = %v", err)
	}
	if !fake.createCalled {
		t.Error("expected create call when index missing")
	}
}

func TestIndexDocumentDefaultsIDToFileKey(t *testing.T) {
	fake := &fakeOS{}
	gw := testGateway(fake)
	doc := &docmodel.Document{FileKey: "documents/road/ts-server3/job/report.pdf"}
	if err := gw.IndexDocument(context.Background(), doc, ""); err != nil {
		t.Fatalf("IndexDocument() = %v", err)
	}
	if len(fake.indexCalls) != 1 || fake.indexCalls[0] != doc.FileKey {
		t.Errorf("indexCalls = %v, want [%q]", fake.indexCalls, doc.FileKey)
	}
	if doc.IndexedAt.IsZero() {
		t.Error("expected IndexedAt to be stamped")
	}
}

func TestBulkIndexRejectsLengthMismatch(t *testing.T) {
	fake := &fakeOS{}
	gw := testGateway(fake)
	_, err := gw.BulkIndex(context.Background(), []*docmodel.Document{{}}, nil)
	if err == nil {
		t.Fatal("expected error for docs/ids length mismatch")
	}
}

func TestBulkIndexSendsOneRequestPerBatch(t *testing.T) {
	fake := &fakeOS{bulkResp: BulkResponse{Errors: false}}
	gw := testGateway(fake)
	docs := []*docmodel.Document{{FileKey: "a"}, {FileKey: "b"}}
	resp, err := gw.BulkIndex(context.Background(), docs, []string{"a", "b"})
	if err != nil {
		t.Fatalf("BulkIndex() = %v", err)
	}
	if resp.Errors {
		t.Error("unexpected Errors=true")
	}
}

func TestSearchBuildsMultiMatchQuery(t *testing.T) {
	fake := &fakeOS{searchResp: SearchResponse{Total: 1, Hits: []Hit{{ID: "doc1", Score: 1.5}}}}
	gw := testGateway(fake)
	resp, err := gw.Search(context.Background(), "report", 10, 0)
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if resp.Total != 1 || len(resp.Hits) != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestVectorSearchPropagatesHits(t *testing.T) {
	fake := &fakeOS{searchResp: SearchResponse{Total: 2}}
	gw := testGateway(fake)
	resp, err := gw.VectorSearch(context.Background(), make([]float32, 512), 5)
	if err != nil {
		t.Fatalf("VectorSearch() = %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("Total = %d, want 2", resp.Total)
	}
}

func TestScrollPagesUntilEmpty(t *testing.T) {
	fake := &fakeOS{
		searchResp: SearchResponse{ScrollID: "scroll-1", Hits: []Hit{{ID: "1"}, {ID: "2"}}},
		scrollPages: []SearchResponse{
			{ScrollID: "scroll-2", Hits: []Hit{{ID: "3"}}},
			{ScrollID: "", Hits: nil},
		},
	}
	gw := testGateway(fake)
	handle, firstPage, err := gw.Scroll(context.Background(), map[string]any{"match_all": map[string]any{}}, 2, time.Minute)
	if err != nil {
		t.Fatalf("Scroll() = %v", err)
	}
	if len(firstPage) != 2 {
		t.Fatalf("first page = %v", firstPage)
	}
	page2, err := handle.Next(context.Background())
	if err != nil || len(page2) != 1 {
		t.Fatalf("page2 = %v, err = %v", page2, err)
	}
	page3, err := handle.Next(context.Background())
	if err != nil || len(page3) != 0 {
		t.Fatalf("page3 = %v, err = %v", page3, err)
	}
	handle.Close(context.Background())
	if fake.clearCalls != 1 {
		t.Errorf("clearCalls = %d, want 1", fake.clearCalls)
	}
}

func TestCountByQuery(t *testing.T) {
	fake := &fakeOS{count: 42}
	gw := testGateway(fake)
	n, err := gw.CountByQuery(context.Background(), map[string]any{"match_all": map[string]any{}})
	if err != nil {
		t.Fatalf("CountByQuery() = %v", err)
	}
	if n != 42 {
		t.Errorf("n = %d, want 42", n)
	}
}

func TestBuildMappingIncludesVectorField(t *testing.T) {
	body, err := buildMapping(DefaultMappingOptions())
	if err != nil {
		t.Fatalf("buildMapping() = %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("mapping is not valid JSON: %v", err)
	}
	mappings := parsed["mappings"].(map[string]any)
	props := mappings["properties"].(map[string]any)
	vec, ok := props["imageVector"].(map[string]any)
	if !ok {
		t.Fatal("expected imageVector field in mapping")
	}
	if vec["type"] != "knn_vector" {
		t.Errorf("imageVector type = %v, want knn_vector", vec["type"])
	}
}

func TestRefreshCallsUnderlyingClient(t *testing.T) {
	fake := &fakeOS{}
	gw := testGateway(fake)
	if err := gw.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() = %v", err)
	}
	if fake.refreshCalls != 1 {
		t.Errorf("refreshCalls = %d, want 1", fake.refreshCalls)
	}
}

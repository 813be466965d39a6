package indexgateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
)

// NewOpenSearchClient builds a real opensearchapi.Client and wraps it behind
// osAPI. insecureSkipVerify exists for self-signed dev clusters only.
func NewOpenSearchClient(addresses []string, username, password string, insecureSkipVerify bool) (osAPI, error) {
	transport := http.DefaultTransport
	if insecureSkipVerify {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: addresses,
			Username:  username,
			Password:  password,
			Transport: transport,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("indexgateway: new opensearch client: %w", err)
	}
	return &osAdapter{client: client}, nil
}

// osAdapter adapts opensearchapi.Client's typed request/response surface to
// the package's narrow osAPI interface.
type osAdapter struct {
	client *opensearchapi.Client
}

func (a *osAdapter) IndicesExists(ctx context.Context, index string) (bool, error) {
	resp, err := a.client.Indices.Exists(ctx, opensearchapi.IndicesExistsReq{Indices: []string{index}})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *osAdapter) IndicesCreate(ctx context.Context, index string, body []byte) error {
	_, err := a.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: index,
		Body:  bytes.NewReader(body),
	})
	return err
}

func (a *osAdapter) Index(ctx context.Context, index, id string, body []byte) (bool, error) {
	resp, err := a.client.Index(ctx, opensearchapi.IndexReq{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	})
	if err != nil {
		return false, err
	}
	return resp.Result == "created", nil
}

func (a *osAdapter) Bulk(ctx context.Context, body []byte) (BulkResponse, error) {
	resp, err := a.client.Bulk(ctx, opensearchapi.BulkReq{Body: bytes.NewReader(body)})
	if err != nil {
		return BulkResponse{}, err
	}
	out := BulkResponse{Errors: resp.Errors}
	for _, item := range resp.Items {
		for _, res := range item {
			out.Items = append(out.Items, BulkItemResult{ID: res.ID, Status: res.Status, Error: res.Error.Reason})
		}
	}
	return out, nil
}

func (a *osAdapter) Update(ctx context.Context, index, id string, body []byte) error {
	_, err := a.client.Document.Update(ctx, opensearchapi.DocumentUpdateReq{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	})
	return err
}

func (a *osAdapter) Search(ctx context.Context, index string, body []byte) (SearchResponse, error) {
	resp, err := a.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return SearchResponse{}, err
	}
	return toSearchResponse(resp), nil
}

func (a *osAdapter) Scroll(ctx context.Context, scrollID, keepAlive string) (SearchResponse, error) {
	resp, err := a.client.Scroll.Get(ctx, opensearchapi.ScrollGetReq{
		ScrollID: scrollID,
		Params:   opensearchapi.ScrollGetParams{Scroll: keepAlive},
	})
	if err != nil {
		return SearchResponse{}, err
	}
	return toSearchResponse(&resp.Search), nil
}

func (a *osAdapter) ClearScroll(ctx context.Context, scrollID string) error {
	_, err := a.client.Scroll.Delete(ctx, opensearchapi.ScrollDeleteReq{ScrollIDs: []string{scrollID}})
	return err
}

func (a *osAdapter) Count(ctx context.Context, index string, body []byte) (int, error) {
	resp, err := a.client.Indices.Count(ctx, &opensearchapi.IndicesCountReq{
		Indices: []string{index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (a *osAdapter) Refresh(ctx context.Context, index string) error {
	_, err := a.client.Indices.Refresh(ctx, &opensearchapi.IndicesRefreshReq{Indices: []string{index}})
	return err
}

func toSearchResponse(resp *opensearchapi.SearchResp) SearchResponse {
	out := SearchResponse{Total: resp.Hits.Total.Value, ScrollID: resp.ScrollID}
	for _, h := range resp.Hits.Hits {
		hit := Hit{ID: h.ID, Score: h.Score, Source: json.RawMessage(h.Source)}
		if len(h.Highlight) > 0 {
			hit.Highlight = h.Highlight
		}
		out.Hits = append(out.Hits, hit)
	}
	return out
}

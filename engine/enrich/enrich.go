// Package enrich wires the enrichment producers (spec §4.5) into the
// document-building step of the worker pipeline: thumbnail/preview upload,
// image embedding, and path-metadata derivation.
package enrich

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/nasindex/fileingest/engine/docmodel"
	"github.com/nasindex/fileingest/pkg/embedclient"
	"github.com/nasindex/fileingest/pkg/pathmeta"
)

// Uploader is the subset of pkg/objectstore.Gateway this package needs.
type Uploader interface {
	UploadBytes(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) (string, error)
}

// Embedder is the subset of pkg/embedclient.Client this package needs.
type Embedder interface {
	Embed(ctx context.Context, imageURL string) (embedclient.Result, error)
}

var imageMimePrefixes = []string{"image/"}

// Producers bundles the three enrichment stages behind one dependency set.
type Producers struct {
	Uploader        Uploader
	Embedder        Embedder
	ThumbnailBucket string
	VectorModel     string
}

// New constructs a Producers bundle.
func New(uploader Uploader, embedder Embedder, thumbnailBucket, vectorModel string) *Producers {
	return &Producers{Uploader: uploader, Embedder: embedder, ThumbnailBucket: thumbnailBucket, VectorModel: vectorModel}
}

// PathMetadata derives category/categoryDisplay/nasServer/rootFolder/nasPath
// from the source key and, for scanner-payload events, the original network
// path (§4.5).
func PathMetadata(key, originalPath string) pathmeta.Meta {
	return pathmeta.Derive(key, originalPath)
}

// UploadThumbnail uploads a single-image thumbnail derived from sourceKey,
// returning its canonical URL and storage key (§4.5 thumbnail naming:
// thumbnails/{basename}_{hash8}_thumb.jpg).
func (p *Producers) UploadThumbnail(ctx context.Context, sourceKey string, data []byte, format string) (url, s3Key string, err error) {
	base := strings.TrimSuffix(path.Base(sourceKey), path.Ext(sourceKey))
	hash8 := shortHash(sourceKey)
	s3Key = fmt.Sprintf("thumbnails/%s_%s_thumb.%s", base, hash8, extFor(format))
	url, err = p.Uploader.UploadBytes(ctx, p.ThumbnailBucket, s3Key, data, "image/"+format, nil)
	if err != nil {
		return "", "", err
	}
	return url, s3Key, nil
}

// UploadPreviewPage uploads one rasterised page preview, returning the
// canonical page metadata entry (§4.5 preview naming:
// previews/{fileId}/page_{n}.jpg).
func (p *Producers) UploadPreviewPage(ctx context.Context, fileID string, page int, data []byte, format string, width, height int) (docmodel.PreviewPage, error) {
	s3Key := fmt.Sprintf("previews/%s/page_%d.%s", fileID, page, extFor(format))
	_, err := p.Uploader.UploadBytes(ctx, p.ThumbnailBucket, s3Key, data, "image/"+format, nil)
	if err != nil {
		return docmodel.PreviewPage{}, err
	}
	return docmodel.PreviewPage{Page: page, S3Key: s3Key, Width: width, Height: height, Size: int64(len(data))}, nil
}

// EmbedIfImage generates an image embedding when mimeType is an image type
// (§4.5: "supported only for image MIME types and, optionally, for
// generated page previews"). Any failure proceeds without a vector — the
// document is still indexed.
func (p *Producers) EmbedIfImage(ctx context.Context, mimeType, imageURL string) (vector []float32, dimension int, updatedAt *time.Time, ok bool) {
	if !isImageMime(mimeType) || p.Embedder == nil {
		return nil, 0, nil, false
	}
	res, err := p.Embedder.Embed(ctx, imageURL)
	if err != nil || len(res.Embedding) == 0 {
		return nil, 0, nil, false
	}
	now := time.Now().UTC()
	return res.Embedding, res.Dimension, &now, true
}

func isImageMime(mimeType string) bool {
	for _, prefix := range imageMimePrefixes {
		if strings.HasPrefix(mimeType, prefix) {
			return true
		}
	}
	return false
}

// shortHash is the thumbnail key's collision-avoidance suffix: md5(key)[0:8],
// matching docmodel.DeriveFileID's fileId derivation (§6).
func shortHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

func extFor(format string) string {
	format = strings.TrimPrefix(format, ".")
	if format == "" || format == "jpeg" {
		return "jpg"
	}
	return format
}

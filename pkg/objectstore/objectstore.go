// Package objectstore implements the Object-Store Gateway (spec §4.2) over
// Amazon S3: presigned-free reads/writes, multipart download, path-traversal
// rejection, and the ingest/thumbnail bucket separation that prevents
// recursive ingest notifications.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/nasindex/fileingest/engine/docmodel"
)

// s3API is the subset of the S3 client this package depends on.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Metadata is the result of a HeadObject call.
type Metadata struct {
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  string
}

// Options configures multipart thresholds and the gateway's bucket roles.
type Options struct {
	IngestBucket       string // §9 OQ1: explicit, never inferred from a bucket-name substring
	ThumbnailBucket    string
	TempDir            string
	MultipartThreshold int64 // bytes; default 50 MiB; not read by Download
	PartSize           int64 // default 10 MiB
	Concurrency        int   // default 4
	Scheme             string // default "s3"
}

// DefaultOptions returns the §4.2 defaults.
func DefaultOptions() Options {
	return Options{
		MultipartThreshold: 50 << 20,
		PartSize:           10 << 20,
		Concurrency:        4,
		Scheme:             "s3",
	}
}

// Gateway is the sole owner of all S3 operations, mirroring the
// single-owner-struct shape of the teacher's engine/semantic.VectorStore.
type Gateway struct {
	client     s3API
	downloader *manager.Downloader
	uploader   *manager.Uploader
	opts       Options
	logger     *slog.Logger
}

// New constructs a Gateway. client satisfies both manager.DownloadAPIClient
// and manager.UploadAPIClient, so the same client backs plain calls and the
// multipart downloader/uploader. Pass the concrete *s3.Client from
// NewS3Client in production; tests pass a hand-written fake.
func New(client s3API, opts Options, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Scheme == "" {
		opts.Scheme = "s3"
	}
	if opts.MultipartThreshold <= 0 {
		opts.MultipartThreshold = 50 << 20
	}
	if opts.PartSize <= 0 {
		opts.PartSize = 10 << 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = opts.PartSize
		d.Concurrency = opts.Concurrency
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = opts.PartSize
		u.Concurrency = opts.Concurrency
	})
	return &Gateway{client: client, downloader: downloader, uploader: uploader, opts: opts, logger: logger}
}

// Download fetches bucket/key into a uniquely named file under the
// configured temp dir through the transfer-manager downloader, which always
// fetches in opts.PartSize ranges with opts.Concurrency workers;
// opts.MultipartThreshold is not consulted, so objects of every size take
// that same path. It rejects keys containing ".." or absolute paths, and rejects any
// resolved local path that escapes the temp dir (§4.2, §8 path-traversal
// property).
func (g *Gateway) Download(ctx context.Context, bucket, key string) (localPath string, err error) {
	if err := docmodel.ValidateKey(key); err != nil {
		return "", err
	}

	tempName := uuid.NewString() + filepath.Ext(key)
	localPath = filepath.Join(g.opts.TempDir, tempName)
	resolved, err := filepath.Abs(localPath)
	if err != nil {
		return "", docmodel.Wrap(docmodel.KindValidation, "objectstore.download", err)
	}
	tempDirAbs, err := filepath.Abs(g.opts.TempDir)
	if err != nil {
		return "", docmodel.Wrap(docmodel.KindValidation, "objectstore.download", err)
	}
	if !strings.HasPrefix(resolved, tempDirAbs+string(filepath.Separator)) {
		return "", docmodel.Wrap(docmodel.KindValidation, "objectstore.download", fmt.Errorf("resolved path %q escapes temp dir %q", resolved, tempDirAbs))
	}

	f, err := os.Create(resolved)
	if err != nil {
		return "", docmodel.Wrap(docmodel.KindResourceExhaustion, "objectstore.download", err)
	}
	defer f.Close()

	_, err = g.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		os.Remove(resolved)
		return "", docmodel.Wrap(classifyS3Err(err), "objectstore.download", err)
	}
	return resolved, nil
}

// UploadBytes writes data to bucket/key and returns the canonical URL.
func (g *Gateway) UploadBytes(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	_, err := g.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return "", docmodel.Wrap(classifyS3Err(err), "objectstore.uploadbytes", err)
	}
	return docmodel.CanonicalURL(g.opts.Scheme, bucket, key), nil
}

// ListByPrefix streams keys under prefix to yield, using paginated listing so
// totals above 10k are never materialised in memory at once (§4.2).
func (g *Gateway) ListByPrefix(ctx context.Context, bucket, prefix string, yield func(key string, size int64) error) error {
	var token *string
	for {
		out, err := g.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return docmodel.Wrap(classifyS3Err(err), "objectstore.listbyprefix", err)
		}
		for _, obj := range out.Contents {
			if err := yield(aws.ToString(obj.Key), aws.ToInt64(obj.Size)); err != nil {
				return err
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		token = out.NextContinuationToken
	}
}

// DeleteObject removes bucket/key. It refuses to run against any bucket
// that is not the configured ingest bucket (§9 OQ1) and is only ever called
// once the source object has been successfully indexed (§4.2).
func (g *Gateway) DeleteObject(ctx context.Context, bucket, key string) error {
	if bucket != g.opts.IngestBucket {
		return docmodel.Wrap(docmodel.KindValidation, "objectstore.deleteobject", fmt.Errorf("refusing delete on non-ingest bucket %q", bucket))
	}
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return docmodel.Wrap(classifyS3Err(err), "objectstore.deleteobject", err)
	}
	return nil
}

// HeadObject returns object metadata without downloading the body.
func (g *Gateway) HeadObject(ctx context.Context, bucket, key string) (Metadata, error) {
	out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Metadata{}, docmodel.Wrap(classifyS3Err(err), "objectstore.headobject", err)
	}
	m := Metadata{
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		ETag:          aws.ToString(out.ETag),
	}
	if out.LastModified != nil {
		m.LastModified = out.LastModified.UTC().Format("2006-01-02T15:04:05Z")
	}
	return m, nil
}

// CleanupTempFile best-effort deletes a local temp file. It never errors —
// every worker exit path calls this, and a cleanup failure must never mask
// the real outcome of processing.
func (g *Gateway) CleanupTempFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		g.logger.Warn("objectstore: temp file cleanup failed", "path", path, "error", err)
	}
}

// IngestBucket returns the configured ingest bucket.
func (g *Gateway) IngestBucket() string { return g.opts.IngestBucket }

// ThumbnailBucket returns the configured thumbnail bucket.
func (g *Gateway) ThumbnailBucket() string { return g.opts.ThumbnailBucket }

func classifyS3Err(err error) docmodel.Kind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nosuchkey") || strings.Contains(msg, "not found"):
		return docmodel.KindNotFound
	case strings.Contains(msg, "accessdenied") || strings.Contains(msg, "forbidden"):
		return docmodel.KindPermission
	case strings.Contains(msg, "throttl") || strings.Contains(msg, "slowdown"):
		return docmodel.KindThrottled
	case strings.Contains(msg, "timeout"):
		return docmodel.KindTimeout
	default:
		return docmodel.KindNetwork
	}
}

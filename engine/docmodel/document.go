package docmodel

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
)

// Category values for the derived-metadata correction rule (§3 invariant 4).
const (
	CategoryRoad      = "road"
	CategoryStructure = "structure"
)

// Processing status values (§3 Status).
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// PreviewPage describes one rasterised page of a document.
type PreviewPage struct {
	Page   int    `json:"page"`
	S3Key  string `json:"s3Key"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int64  `json:"size"`
}

// Document is the single record indexed per source object (§3 Indexed
// Document). docId is never a struct field — it is the index identity and
// is supplied separately to the Index Gateway (raw URL-decoded key, §9 OQ2).
type Document struct {
	// Identity
	FileID        string `json:"fileId"`
	FileName      string `json:"fileName"`
	FilePath      string `json:"filePath"`
	FileKey       string `json:"fileKey"`
	Bucket        string `json:"bucket"`
	FileExtension string `json:"fileExtension"`
	MimeType      string `json:"mimeType"`
	FileSize      int64  `json:"fileSize"`

	// Temporal
	CreatedAt   time.Time `json:"createdAt"`
	ModifiedAt  time.Time `json:"modifiedAt"`
	IndexedAt   time.Time `json:"indexedAt"`
	ProcessedAt time.Time `json:"processedAt"`

	// Content
	ExtractedText string `json:"extractedText"`
	Content       string `json:"content"`
	PageCount     int    `json:"pageCount"`
	WordCount     int    `json:"wordCount"`
	CharCount     int    `json:"charCount"`

	// Derived metadata from path (§4.5)
	Category        string `json:"category"`
	CategoryDisplay string `json:"categoryDisplay"`
	NASServer       string `json:"nasServer"`
	RootFolder      string `json:"rootFolder"`
	NASPath         string `json:"nasPath"`

	// Artifacts
	ThumbnailURL       string        `json:"thumbnailUrl,omitempty"`
	ThumbnailS3Key     string        `json:"thumbnailS3Key,omitempty"`
	PreviewImages      []PreviewPage `json:"previewImages,omitempty"`
	TotalPages         int           `json:"totalPages,omitempty"`
	PreviewGeneratedAt *time.Time    `json:"previewGeneratedAt,omitempty"`

	// Vector — a single k-NN field per document (§9 OQ3).
	ImageVector     []float32  `json:"imageVector,omitempty"`
	VectorDimension int        `json:"vectorDimension,omitempty"`
	VectorModel     string     `json:"vectorModel,omitempty"`
	VectorUpdatedAt *time.Time `json:"vectorUpdatedAt,omitempty"`

	// Text & OCR
	OCRText       string  `json:"ocrText,omitempty"`
	OCRConfidence float64 `json:"ocrConfidence,omitempty"`
	OCRLanguage   string  `json:"ocrLanguage,omitempty"`

	// Status
	ProcessingStatus string `json:"processingStatus"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
	Success          bool   `json:"success"`

	// Provenance
	ProcessorName         string  `json:"processorName,omitempty"`
	ProcessorVersion      string  `json:"processorVersion,omitempty"`
	ProcessingTimeSeconds float64 `json:"processingTimeSeconds,omitempty"`
}

// ImageEmbedding is a struct-level alias for ImageVector, kept only so
// backfill reads of older documents that used the `imageEmbedding` field name
// still resolve to the same value (§9 OQ3 — the mapping itself has exactly
// one k-NN field).
func (d *Document) ImageEmbedding() []float32 { return d.ImageVector }

// DocID returns the canonical index identity: the raw, URL-decoded source key.
func (d *Document) DocID() string { return d.FileKey }

// DeriveFileID computes the deterministic fileId (§9 OQ2 resolution):
// hex(md5(bucket + "/" + key)). The full hash is stored on the document;
// the first 16 hex characters serve as a stable short id for log
// correlation (see ShortFileID).
func DeriveFileID(bucket, key string) string {
	sum := md5.Sum([]byte(bucket + "/" + key))
	return hex.EncodeToString(sum[:])
}

// ShortFileID returns the first 16 hex characters of a fileId produced by
// DeriveFileID, for compact log correlation.
func ShortFileID(fileID string) string {
	if len(fileID) <= 16 {
		return fileID
	}
	return fileID[:16]
}

// CanonicalURL returns the "<scheme>://bucket/key" form used for FilePath.
func CanonicalURL(scheme, bucket, key string) string {
	return fmt.Sprintf("%s://%s/%s", scheme, bucket, key)
}

// DeriveExtension returns the lowercase extension of fileName, including the
// leading dot, per invariant 2 — never derived from a temp-file path.
func DeriveExtension(fileName string) string {
	ext := path.Ext(fileName)
	return strings.ToLower(ext)
}

// CorrectCategory applies the authoritative nasServer→category mapping
// (§3 invariant 4 / §4.5 step 3). A server not in either set leaves category
// unchanged.
func CorrectCategory(nasServer, category string) string {
	switch nasServer {
	case "ts-server3", "ts-server5":
		return CategoryRoad
	case "ts-server6", "ts-server7":
		return CategoryStructure
	default:
		return category
	}
}

// Validate checks the invariants in §3 that can be checked independent of
// the thumbnail bucket (existence of preview objects is checked by the
// caller, which has access to the object store).
func (d *Document) Validate() error {
	if d.FileKey == "" {
		return Wrap(KindValidation, "document.validate", fmt.Errorf("fileKey is empty"))
	}
	if strings.Contains(d.FileKey, "..") {
		return Wrap(KindValidation, "document.validate", fmt.Errorf("fileKey %q contains path-traversal sequence", d.FileKey))
	}
	wantExt := DeriveExtension(d.FileName)
	if d.FileExtension != wantExt {
		return Wrap(KindValidation, "document.validate", fmt.Errorf("fileExtension %q does not match derived %q", d.FileExtension, wantExt))
	}
	if len(d.PreviewImages) > 0 && d.TotalPages != len(d.PreviewImages) {
		return Wrap(KindValidation, "document.validate", fmt.Errorf("totalPages %d does not match %d preview images", d.TotalPages, len(d.PreviewImages)))
	}
	if d.NASServer != "" {
		if want := CorrectCategory(d.NASServer, d.Category); want != d.Category {
			return Wrap(KindValidation, "document.validate", fmt.Errorf("category %q contradicts nasServer %q (want %q)", d.Category, d.NASServer, want))
		}
	}
	if len(d.ImageVector) > 0 && len(d.ImageVector) != d.VectorDimension {
		return Wrap(KindValidation, "document.validate", fmt.Errorf("imageVector length %d does not match vectorDimension %d", len(d.ImageVector), d.VectorDimension))
	}
	return nil
}

// ValidateKey rejects path-traversal and absolute-path object keys before
// any download is attempted (§4.2, §8 path-traversal property).
func ValidateKey(key string) error {
	if key == "" {
		return Wrap(KindValidation, "validatekey", fmt.Errorf("empty key"))
	}
	if strings.HasPrefix(key, "/") {
		return Wrap(KindValidation, "validatekey", fmt.Errorf("key %q is absolute", key))
	}
	cleaned := path.Clean(key)
	if cleaned != key || strings.Contains(cleaned, "..") || strings.HasPrefix(cleaned, "/") {
		return Wrap(KindValidation, "validatekey", fmt.Errorf("key %q resolves outside its root", key))
	}
	return nil
}

// IsThumbnailPath reports whether key lives under the thumbnails/ prefix —
// the recursion guard at §4.6 step 2.
func IsThumbnailPath(key string) bool {
	return strings.HasPrefix(key, "thumbnails/") || strings.Contains(key, "/thumbnails/")
}

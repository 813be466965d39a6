package docmodel

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// EventKind discriminates the two wire shapes a file event can arrive in.
type EventKind int

const (
	// EventBucketNotification is the object-store notification shape: {bucket, key}.
	EventBucketNotification EventKind = iota
	// EventScannerPayload is the upstream scanner shape: {bucket?, key|s3Key, originalPath?}.
	EventScannerPayload
)

// SourceEvent is the normalised internal form of a queue payload (§3 File
// Event, §9 "dynamic message shapes → tagged union"). Downstream code only
// ever sees this type; rawFileEvent.normalize is the single place that knows
// about the wire variants.
type SourceEvent struct {
	Kind         EventKind
	Bucket       string
	Key          string // URL-decoded
	OriginalPath string // set only for EventScannerPayload, empty otherwise
}

// rawFileEvent is the wire struct wide enough to decode either shape; exactly
// one of Key/S3Key is expected to be populated.
type rawFileEvent struct {
	Bucket       string `json:"bucket"`
	Key          string `json:"key"`
	S3Key        string `json:"s3Key"`
	OriginalPath string `json:"originalPath"`
}

// ParseFileEvent decodes a queue message body into a SourceEvent, tolerating
// both the object-store notification and scanner payload shapes, and
// URL-decoding the key per §3.
func ParseFileEvent(body []byte) (SourceEvent, error) {
	var raw rawFileEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return SourceEvent{}, Wrap(KindValidation, "parsefileevent", fmt.Errorf("decode message body: %w", err))
	}
	return raw.normalize()
}

func (r rawFileEvent) normalize() (SourceEvent, error) {
	key := r.Key
	kind := EventBucketNotification
	if key == "" {
		key = r.S3Key
	}
	if r.OriginalPath != "" {
		kind = EventScannerPayload
	}
	if key == "" {
		return SourceEvent{}, Wrap(KindValidation, "sourceevent.normalize", fmt.Errorf("message has neither key nor s3Key"))
	}

	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return SourceEvent{}, Wrap(KindValidation, "sourceevent.normalize", fmt.Errorf("url-decode key %q: %w", key, err))
	}

	if err := ValidateKey(decoded); err != nil {
		return SourceEvent{}, err
	}

	return SourceEvent{
		Kind:         kind,
		Bucket:       r.Bucket,
		Key:          decoded,
		OriginalPath: r.OriginalPath,
	}, nil
}

// WorkItem is the preview-queue payload (§3 Work Item).
type WorkItem struct {
	TaskType      string            `json:"taskType"`
	FileType      string            `json:"fileType"` // office|docuworks|pdf
	FileID        string            `json:"fileId"`
	DocID         string            `json:"docId"`
	FileName      string            `json:"fileName"`
	FilePath      string            `json:"filePath"`
	FileExtension string            `json:"fileExtension"`
	S3Key         string            `json:"s3Key"`
	EnqueuedAt    string            `json:"enqueuedAt"`
	Priority      int               `json:"priority"`
	RetryCount    int               `json:"retryCount"`
	Metadata      WorkItemMetadata  `json:"metadata"`
}

// WorkItemMetadata is the free-form metadata block carried on a WorkItem.
type WorkItemMetadata struct {
	Source  string `json:"source,omitempty"`
	BatchID string `json:"batchId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

const TaskTypePreviewRegeneration = "preview_regeneration"

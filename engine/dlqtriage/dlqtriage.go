// Package dlqtriage implements DLQ Triage (spec §4.8): sample messages
// already sitting in the DLQ, classify each by its attached ErrorMessage
// attribute, and either replay a recoverable failure onto the primary
// queue (bounded by age and retry count) or archive an unrecoverable one
// to the object store before removing it from the DLQ.
package dlqtriage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nasindex/fileingest/engine/docmodel"
	"github.com/nasindex/fileingest/pkg/broker"
)

// QueueClient is the subset of *broker.Broker this package depends on.
type QueueClient interface {
	ReceiveDLQBatch(ctx context.Context, n int, waitSeconds, visibilityTimeout int32) ([]broker.Message, error)
	DeleteDLQMessage(ctx context.Context, handle string) error
	Requeue(ctx context.Context, body []byte, attrs map[string]string) error
}

// Archiver is the subset of *objectstore.Gateway used to preserve
// unrecoverable messages.
type Archiver interface {
	UploadBytes(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) (string, error)
}

// Verdict is the outcome of classifying one DLQ message.
type Verdict int

const (
	VerdictRecoverable Verdict = iota
	VerdictUnrecoverable
	VerdictUnknown
)

func (v Verdict) String() string {
	switch v {
	case VerdictRecoverable:
		return "recoverable"
	case VerdictUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Classify maps an error Kind (recovered from the DLQ message's
// ErrorMessage attribute) to a triage Verdict (§4.8).
func Classify(kind docmodel.Kind) Verdict {
	switch kind {
	case docmodel.KindNetwork, docmodel.KindTimeout, docmodel.KindThrottled,
		docmodel.KindResourceExhaustion, docmodel.KindIndexUnavailable:
		return VerdictRecoverable
	case docmodel.KindUnsupportedFormat, docmodel.KindNotFound,
		docmodel.KindPermission, docmodel.KindCorruptInput:
		return VerdictUnrecoverable
	default:
		return VerdictUnknown
	}
}

// Config tunes a triage pass.
type Config struct {
	BatchSize     int
	MinAge        time.Duration
	MaxRetries    int
	ArchiveBucket string
	// DryRun reports the same classification counts without requeuing,
	// archiving, or deleting any DLQ message (spec §6 --dry-run/--analyze-only).
	DryRun bool
}

// DefaultConfig returns the spec's defaults (§4.8: min age 5min, maxRetries 3).
func DefaultConfig() Config {
	return Config{BatchSize: 10, MinAge: 5 * time.Minute, MaxRetries: 3}
}

// Report summarizes one triage pass.
type Report struct {
	Sampled      int
	Replayed     int
	Archived     int
	SkippedYoung int
	SkippedMaxed int
	Errors       int
}

// Triage is the sole owner of a triage run's dependencies.
type Triage struct {
	queue    QueueClient
	archiver Archiver
	cfg      Config
	logger   *slog.Logger
}

// New constructs a Triage.
func New(queue QueueClient, archiver Archiver, cfg Config, logger *slog.Logger) *Triage {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = DefaultConfig().MinAge
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	return &Triage{queue: queue, archiver: archiver, cfg: cfg, logger: logger}
}

// Run drains up to cfg.BatchSize messages from the DLQ in a single pass,
// classifying and acting on each (§4.8). It is not a long-running loop —
// callers (cmd/dlq-reprocessor) schedule repeated calls on their own
// interval.
func (t *Triage) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	msgs, err := t.queue.ReceiveDLQBatch(ctx, t.cfg.BatchSize, 0, 0)
	if err != nil {
		return report, fmt.Errorf("dlqtriage: receive batch: %w", err)
	}
	report.Sampled = len(msgs)

	for _, msg := range msgs {
		if err := t.triageOne(ctx, msg, report); err != nil {
			report.Errors++
			t.logger.Warn("dlqtriage: failed to triage message", "messageId", msg.ID, "error", err)
		}
	}
	return report, nil
}

func (t *Triage) triageOne(ctx context.Context, msg broker.Message, report *Report) error {
	failedAt, _ := time.Parse(time.RFC3339, msg.Attributes["FailedAt"])
	if !failedAt.IsZero() && time.Since(failedAt) < t.cfg.MinAge {
		report.SkippedYoung++
		return nil
	}

	retryCount := atoiOr(msg.Attributes["RetryCount"], 0)
	if retryCount >= t.cfg.MaxRetries {
		report.SkippedMaxed++
		return nil
	}

	kind := docmodel.Classify(fmt.Errorf("%s", msg.Attributes["ErrorMessage"]))
	verdict := Classify(kind)

	if t.cfg.DryRun {
		switch verdict {
		case VerdictUnrecoverable:
			report.Archived++
		default:
			report.Replayed++
		}
		return nil
	}

	switch verdict {
	case VerdictUnrecoverable:
		return t.archive(ctx, msg, report)
	default:
		return t.replay(ctx, msg, retryCount, report)
	}
}

func (t *Triage) replay(ctx context.Context, msg broker.Message, retryCount int, report *Report) error {
	attrs := map[string]string{
		"RetryCount":   itoa(retryCount + 1),
		"ReprocessedAt": time.Now().UTC().Format(time.RFC3339),
	}
	if err := t.queue.Requeue(ctx, msg.Body, attrs); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	if err := t.queue.DeleteDLQMessage(ctx, msg.ReceiptHandle); err != nil {
		return fmt.Errorf("delete after requeue: %w", err)
	}
	report.Replayed++
	return nil
}

func (t *Triage) archive(ctx context.Context, msg broker.Message, report *Report) error {
	if t.archiver == nil || t.cfg.ArchiveBucket == "" {
		return fmt.Errorf("archiver not configured")
	}
	now := time.Now().UTC()
	key := fmt.Sprintf("dlq-archive/%04d/%02d/%02d/%s.json", now.Year(), now.Month(), now.Day(), msg.ID)
	body, err := json.Marshal(archivedMessage{
		MessageID:  msg.ID,
		Body:       string(msg.Body),
		Attributes: msg.Attributes,
		ArchivedAt: now,
	})
	if err != nil {
		return fmt.Errorf("marshal archive envelope: %w", err)
	}
	if _, err := t.archiver.UploadBytes(ctx, t.cfg.ArchiveBucket, key, body, "application/json", nil); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}
	if err := t.queue.DeleteDLQMessage(ctx, msg.ReceiptHandle); err != nil {
		return fmt.Errorf("delete after archive: %w", err)
	}
	report.Archived++
	return nil
}

type archivedMessage struct {
	MessageID  string            `json:"messageId"`
	Body       string            `json:"body"`
	Attributes map[string]string `json:"attributes"`
	ArchivedAt time.Time         `json:"archivedAt"`
}

func atoiOr(s string, fallback int) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}

package dlqtriage

import (
	"context"
	"testing"
	"time"

	"github.com/nasindex/fileingest/engine/docmodel"
	"github.com/nasindex/fileingest/pkg/broker"
)

type fakeQueue struct {
	batch        []broker.Message
	requeued     []map[string]string
	deletedDLQ   []string
	requeueErr   error
	deleteDLQErr error
}

func (f *fakeQueue) ReceiveDLQBatch(ctx context.Context, n int, waitSeconds, visibilityTimeout int32) ([]broker.Message, error) {
	return f.batch, nil
}
func (f *fakeQueue) DeleteDLQMessage(ctx context.Context, handle string) error {
	f.deletedDLQ = append(f.deletedDLQ, handle)
	return f.deleteDLQErr
}
func (f *fakeQueue) Requeue(ctx context.Context, body []byte, attrs map[string]string) error {
	f.requeued = append(f.requeued, attrs)
	return f.requeueErr
}

type fakeArchiver struct {
	uploads []string
}

func (f *fakeArchiver) UploadBytes(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	f.uploads = append(f.uploads, key)
	return "https://example/" + key, nil
}

func oldMsg(id, reason string, retryCount int) broker.Message {
	return broker.Message{
		ID:            id,
		Body:          []byte(`{"bucket":"b","key":"k"}`),
		ReceiptHandle: "rh-" + id,
		Attributes: map[string]string{
			"FailedAt":   time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339),
			"ErrorMessage": reason,
			"RetryCount": itoa(retryCount),
		},
	}
}

func TestRunReplaysRecoverableFailure(t *testing.T) {
	q := &fakeQueue{batch: []broker.Message{oldMsg("m1", "connection timeout talking to opensearch", 0)}}
	tr := New(q, nil, Config{}, nil)

	report, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if report.Replayed != 1 {
		t.Errorf("Replayed = %d, want 1", report.Replayed)
	}
	if len(q.requeued) != 1 || q.requeued[0]["RetryCount"] != "1" {
		t.Errorf("requeued = %v", q.requeued)
	}
	if len(q.deletedDLQ) != 1 || q.deletedDLQ[0] != "rh-m1" {
		t.Errorf("deletedDLQ = %v", q.deletedDLQ)
	}
}

func TestRunArchivesUnrecoverableFailure(t *testing.T) {
	q := &fakeQueue{batch: []broker.Message{oldMsg("m2", "unsupported file format", 0)}}
	arc := &fakeArchiver{}
	tr := New(q, arc, Config{ArchiveBucket: "archive-bucket"}, nil)

	report, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if report.Archived != 1 {
		t.Errorf("Archived = %d, want 1", report.Archived)
	}
	if len(arc.uploads) != 1 {
		t.Fatalf("expected 1 archive upload, got %d", len(arc.uploads))
	}
	if len(q.deletedDLQ) != 1 {
		t.Errorf("expected DLQ delete after archive, got %d", len(q.deletedDLQ))
	}
}

func TestRunSkipsYoungMessages(t *testing.T) {
	msg := broker.Message{
		ID:            "m3",
		ReceiptHandle: "rh-m3",
		Attributes: map[string]string{
			"FailedAt": time.Now().UTC().Format(time.RFC3339),
		},
	}
	q := &fakeQueue{batch: []broker.Message{msg}}
	tr := New(q, nil, Config{}, nil)

	report, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if report.SkippedYoung != 1 {
		t.Errorf("SkippedYoung = %d, want 1", report.SkippedYoung)
	}
	if len(q.deletedDLQ) != 0 || len(q.requeued) != 0 {
		t.Error("expected no action on a too-young message")
	}
}

func TestRunSkipsMessagesAtMaxRetries(t *testing.T) {
	q := &fakeQueue{batch: []broker.Message{oldMsg("m4", "network timeout", 3)}}
	tr := New(q, nil, Config{MaxRetries: 3}, nil)

	report, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if report.SkippedMaxed != 1 {
		t.Errorf("SkippedMaxed = %d, want 1", report.SkippedMaxed)
	}
	if len(q.deletedDLQ) != 0 {
		t.Error("expected no DLQ delete for a maxed-out message")
	}
}

func TestRunDryRunProducesNoWrites(t *testing.T) {
	q := &fakeQueue{batch: []broker.Message{
		oldMsg("m5", "connection timeout talking to opensearch", 0),
		oldMsg("m6", "unsupported file format", 0),
	}}
	arc := &fakeArchiver{}
	tr := New(q, arc, Config{ArchiveBucket: "archive-bucket", DryRun: true}, nil)

	report, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if report.Replayed != 1 || report.Archived != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(q.requeued) != 0 || len(q.deletedDLQ) != 0 || len(arc.uploads) != 0 {
		t.Error("dry run must not requeue, delete, or archive")
	}
}

func TestClassifyMapsKindsPerSpec(t *testing.T) {
	cases := []struct {
		kind docmodel.Kind
		want Verdict
	}{
		{docmodel.KindNetwork, VerdictRecoverable},
		{docmodel.KindTimeout, VerdictRecoverable},
		{docmodel.KindUnsupportedFormat, VerdictUnrecoverable},
		{docmodel.KindNotFound, VerdictUnrecoverable},
		{docmodel.KindProcessingFailure, VerdictUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.kind); got != c.want {
			t.Errorf("Classify(%v) = %v, want %v", c.kind, got, c.want)
		}
	}
}

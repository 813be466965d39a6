// Package worker implements the Worker Runtime (spec §4.6): a bounded pool
// that drains the primary queue, runs each message through the ten-step
// ingest pipeline, and guarantees every message is deleted from the primary
// queue or forwarded to the DLQ — never left to redeliver past its
// visibility timeout. Grounded on the teacher's engine/ingest dispatch loop
// (NewPipeline/StartConsumer): a bounded worker pool submitting work and
// collecting outcomes for a batch-level ack/DLQ decision.
package worker

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/nasindex/fileingest/engine/docmodel"
	"github.com/nasindex/fileingest/engine/processor"
	"github.com/nasindex/fileingest/pkg/broker"
	"github.com/nasindex/fileingest/pkg/metrics"
)

// QueueClient is the subset of *broker.Broker this package depends on.
type QueueClient interface {
	ReceiveBatch(ctx context.Context, n int, waitSeconds, visibilityTimeout int32) ([]broker.Message, error)
	DeleteBatch(ctx context.Context, handles []string) ([]string, error)
	SendToDLQ(ctx context.Context, orig broker.Message, errorReason string) error
}

// ObjectClient is the subset of *objectstore.Gateway this package depends on.
type ObjectClient interface {
	Download(ctx context.Context, bucket, key string) (string, error)
	CleanupTempFile(path string)
}

// IndexClient is the subset of *indexgateway.Gateway this package depends on.
type IndexClient interface {
	IndexDocument(ctx context.Context, doc *docmodel.Document, id string) error
}

// Enricher is the subset of *enrich.Producers this package depends on.
type Enricher interface {
	UploadThumbnail(ctx context.Context, sourceKey string, data []byte, format string) (url, s3Key string, err error)
	EmbedIfImage(ctx context.Context, mimeType, imageURL string) (vector []float32, dimension int, updatedAt *time.Time, ok bool)
}

// Config tunes the dispatch loop (§4.6, §5).
type Config struct {
	MaxWorkers               int
	ReceiveBatchSize         int32
	WaitSeconds              int32
	VisibilityTimeoutSeconds int32
	GCEveryNMessages         int
	HighWaterMarkBytes       uint64
	IdleTimeout              time.Duration // 0 disables the idle-exit variant (§4.6 preview worker)
	Scheme                   string
	VectorModel              string
	IngestBucket             string
}

// DefaultConfig returns the §4.6/§5 defaults. MaxWorkers defaults to
// cpuCount-1, floored at 1, leaving a core free for GC and the runtime.
func DefaultConfig() Config {
	maxWorkers := runtime.NumCPU() - 1
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return Config{
		MaxWorkers:               maxWorkers,
		ReceiveBatchSize:         10,
		WaitSeconds:              20,
		VisibilityTimeoutSeconds: 300,
		GCEveryNMessages:         100,
		HighWaterMarkBytes:       1 << 30,
		Scheme:                   "s3",
	}
}

// Worker is the sole owner of the dispatch loop for one queue/pool pair.
type Worker struct {
	cfg      Config
	queue    QueueClient
	objects  ObjectClient
	registry *processor.Registry
	index    IndexClient
	enrich   Enricher
	logger   *slog.Logger

	processed *metrics.Counter
	dropped   *metrics.Counter
	dlqd      *metrics.Counter

	sinceGC int
	mu      sync.Mutex
}

// New constructs a Worker. reg may be nil, in which case no metrics are
// recorded.
func New(cfg Config, queue QueueClient, objects ObjectClient, registry *processor.Registry, index IndexClient, enricher Enricher, reg *metrics.Registry, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "s3"
	}
	w := &Worker{cfg: cfg, queue: queue, objects: objects, registry: registry, index: index, enrich: enricher, logger: logger}
	if reg != nil {
		w.processed = reg.Counter("fileingest_worker_messages_processed_total", "Messages successfully indexed and deleted")
		w.dropped = reg.Counter("fileingest_worker_messages_dropped_total", "Messages deleted without indexing (thumbnail recursion, unsupported format)")
		w.dlqd = reg.Counter("fileingest_worker_messages_dlqd_total", "Messages forwarded to the DLQ")
	}
	return w
}

// Run drains the queue until ctx is cancelled. Each receive batch is
// processed to completion (bounded by the batch's own visibility timeout)
// before the next receive, so cancelling ctx between batches is itself the
// worker's graceful-shutdown drain (§4.6: bounded drain, no new receives
// once shutdown begins).
func (w *Worker) Run(ctx context.Context) error {
	lastMessageAt := time.Now()
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker: shutdown signal observed, stopping receive loop")
			return nil
		}
		msgs, err := w.queue.ReceiveBatch(ctx, int(w.cfg.ReceiveBatchSize), w.cfg.WaitSeconds, w.cfg.VisibilityTimeoutSeconds)
		if err != nil {
			// ReceiveBatch itself never propagates a transient error (§4.1);
			// a non-nil err here would be a programming error in the client.
			w.logger.Error("worker: receive batch returned an error", "error", err)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if len(msgs) == 0 {
			if w.cfg.IdleTimeout > 0 && time.Since(lastMessageAt) >= w.cfg.IdleTimeout {
				w.logger.Info("worker: idle timeout reached, exiting", "idleTimeout", w.cfg.IdleTimeout)
				return nil
			}
			continue
		}
		lastMessageAt = time.Now()
		w.processBatch(ctx, msgs)
	}
}

type actionKind int

const (
	actionDelete actionKind = iota
	actionDrop
	actionDLQ
)

type pipelineAction struct {
	kind   actionKind
	reason string
}

// processBatch runs every message in the batch through a bounded pool, then
// makes a single delete-or-DLQ decision per message. Delete and drop both
// remove the message from the primary queue; only a DLQ outcome leaves the
// primary-queue delete to Broker.SendToDLQ, which deletes only after the DLQ
// send succeeds (if the send fails, the message stays on the primary queue
// and is redelivered once its visibility timeout expires).
func (w *Worker) processBatch(ctx context.Context, msgs []broker.Message) {
	actions := make([]pipelineAction, len(msgs))
	sem := make(chan struct{}, w.cfg.MaxWorkers)
	var wg sync.WaitGroup
	for i, m := range msgs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, m broker.Message) {
			defer wg.Done()
			defer func() { <-sem }()
			actions[i] = w.processMessage(ctx, m)
		}(i, m)
	}
	wg.Wait()

	var deleteHandles []string
	for i, action := range actions {
		switch action.kind {
		case actionDelete:
			deleteHandles = append(deleteHandles, msgs[i].ReceiptHandle)
			w.inc(w.processed)
		case actionDrop:
			deleteHandles = append(deleteHandles, msgs[i].ReceiptHandle)
			w.inc(w.dropped)
		case actionDLQ:
			if err := w.queue.SendToDLQ(ctx, msgs[i], action.reason); err != nil {
				w.logger.Error("worker: send to dlq failed, message will redeliver", "messageId", msgs[i].ID, "error", err)
			}
			w.inc(w.dlqd)
		}
	}
	if len(deleteHandles) > 0 {
		if failed, err := w.queue.DeleteBatch(ctx, deleteHandles); err != nil {
			w.logger.Error("worker: batch delete reported failures", "failedCount", len(failed), "error", err)
		}
	}
	w.afterBatch(len(msgs))
}

func (w *Worker) inc(c *metrics.Counter) {
	if c != nil {
		c.Inc()
	}
}

// afterBatch applies the resource guardrails: a forced GC every
// GCEveryNMessages unconditionally, plus an out-of-cadence GC whenever
// resident memory samples above the configured high-water mark (§5).
func (w *Worker) afterBatch(n int) {
	w.mu.Lock()
	w.sinceGC += n
	due := w.cfg.GCEveryNMessages > 0 && w.sinceGC >= w.cfg.GCEveryNMessages
	if due {
		w.sinceGC = 0
	}
	w.mu.Unlock()

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	overHighWaterMark := w.cfg.HighWaterMarkBytes > 0 && stats.Alloc > w.cfg.HighWaterMarkBytes
	if due || overHighWaterMark {
		if overHighWaterMark {
			w.logger.Warn("worker: resident memory above high-water mark, forcing GC", "allocBytes", stats.Alloc, "highWaterMarkBytes", w.cfg.HighWaterMarkBytes)
		}
		runtime.GC()
	}
}

// Package broker abstracts the work-item queue for the Worker Runtime
// (spec §4.1) over Amazon SQS.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/nasindex/fileingest/pkg/fn"
	"github.com/nasindex/fileingest/pkg/metrics"
)

// sqsAPI is the subset of the SQS client this package depends on, narrowed
// so tests can supply a hand-written fake instead of a mocking framework.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Message is the normalised form of a received SQS message.
type Message struct {
	ID            string
	Body          []byte
	ReceiptHandle string
	Attributes    map[string]string
}

// Depth reports the queue's approximate backlog (§4.1).
type Depth struct {
	Available int
	InFlight  int
	Delayed   int
}

// Broker is the sole owner of all SQS operations for a primary/DLQ queue
// pair, mirroring the single-owner-struct shape of engine/semantic.VectorStore
// in the teacher repo.
type Broker struct {
	client   sqsAPI
	queueURL string
	dlqURL   string
	logger   *slog.Logger
	metrics  *metrics.Registry

	deleteFailed  *metrics.Counter
	messagesRecvd *metrics.Counter
	messagesSent  *metrics.Counter
}

// New constructs a Broker. dlqURL may be empty; if so it is derived by
// substituting "queue" with "dlq" in the primary queue's name segment.
func New(client sqsAPI, queueURL, dlqURL string, reg *metrics.Registry, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if dlqURL == "" {
		dlqURL = deriveDLQURL(queueURL)
	}
	b := &Broker{client: client, queueURL: queueURL, dlqURL: dlqURL, logger: logger, metrics: reg}
	if reg != nil {
		b.deleteFailed = reg.Counter("fileingest_broker_delete_failed_total", "Messages whose broker delete failed")
		b.messagesRecvd = reg.Counter("fileingest_broker_messages_received_total", "Messages received from the primary queue")
		b.messagesSent = reg.Counter("fileingest_broker_dlq_sent_total", "Messages sent to the DLQ")
	}
	return b
}

// deriveDLQURL substitutes "queue" with "dlq" in the last path segment, the
// fallback behaviour named in §6's DLQ_QUEUE_URL description.
func deriveDLQURL(queueURL string) string {
	idx := strings.LastIndex(queueURL, "/")
	if idx == -1 {
		return strings.Replace(queueURL, "queue", "dlq", 1)
	}
	prefix, name := queueURL[:idx+1], queueURL[idx+1:]
	return prefix + strings.Replace(name, "queue", "dlq", 1)
}

var receiveRetry = fn.RetryOpts{MaxAttempts: 1000, InitialWait: time.Second, MaxWait: 30 * time.Second, Jitter: true}

// ReceiveBatch long-polls the primary queue for up to n messages. It may
// return fewer than requested (§4.1). Transient errors are retried with
// capped exponential backoff inside this call; the receive loop itself never
// propagates a broker error upward, per §4.1's "never exits on error".
func (b *Broker) ReceiveBatch(ctx context.Context, n int, waitSeconds, visibilityTimeout int32) ([]Message, error) {
	if n <= 0 {
		n = 10
	}
	if n > 10 {
		n = 10 // SQS hard cap per ReceiveMessage call
	}
	result := fn.Retry(ctx, cappedSingleAttempt(), func(ctx context.Context) fn.Result[[]Message] {
		out, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(b.queueURL),
			MaxNumberOfMessages: int32(n),
			WaitTimeSeconds:     waitSeconds,
			VisibilityTimeout:   visibilityTimeout,
			MessageAttributeNames: []string{"All"},
			AttributeNames:        []types.QueueAttributeName{"All"},
		})
		if err != nil {
			b.logger.Warn("broker: receive failed, backing off", "error", err)
			return fn.Err[[]Message](err)
		}
		msgs := make([]Message, len(out.Messages))
		for i, m := range out.Messages {
			msgs[i] = toMessage(m)
		}
		return fn.Ok(msgs)
	})
	msgs, err := result.Unwrap()
	if err != nil {
		// The receive loop never exits on error (§4.1): return an empty
		// batch rather than propagating, after a bounded backoff.
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
		}
		return nil, nil
	}
	if b.messagesRecvd != nil {
		b.messagesRecvd.Add(int64(len(msgs)))
	}
	return msgs, nil
}

func toMessage(m types.Message) Message {
	attrs := make(map[string]string, len(m.MessageAttributes))
	for k, v := range m.MessageAttributes {
		if v.StringValue != nil {
			attrs[k] = *v.StringValue
		}
	}
	return Message{
		ID:            aws.ToString(m.MessageId),
		Body:          []byte(aws.ToString(m.Body)),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
		Attributes:    attrs,
	}
}

// cappedSingleAttempt bounds a single broker call's internal retry to a
// handful of attempts so ReceiveBatch's own outer backoff (10s cap, §4.1)
// still governs overall pacing.
func cappedSingleAttempt() fn.RetryOpts {
	return fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Second, MaxWait: 10 * time.Second, Jitter: true}
}

// DeleteBatch deletes up to 10 receipt handles per underlying SQS call,
// chunking larger slices. Handles whose batch entry fails (or every handle of
// a chunk whose whole batch call fails) are retried with single-message
// deletes; the returned failedIDs are the receipt handles whose fallback
// delete also failed — a failed delete is the most dangerous error (§4.1:
// re-delivery risk).
func (b *Broker) DeleteBatch(ctx context.Context, handles []string) (failedIDs []string, err error) {
	for _, chunk := range fn.Chunk(handles, 10) {
		entries := make([]types.DeleteMessageBatchRequestEntry, len(chunk))
		for i, h := range chunk {
			entries[i] = types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(fmt.Sprintf("m%d", i)),
				ReceiptHandle: aws.String(h),
			}
		}
		out, derr := b.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(b.queueURL),
			Entries:  entries,
		})
		if derr != nil {
			// Whole-batch failure: fall back to deleting each handle singly.
			for _, h := range chunk {
				if serr := b.deleteOne(ctx, h); serr != nil {
					failedIDs = append(failedIDs, h)
				}
			}
			continue
		}
		for _, f := range out.Failed {
			idx := indexSuffix(aws.ToString(f.Id))
			if idx >= 0 && idx < len(chunk) {
				if serr := b.deleteOne(ctx, chunk[idx]); serr != nil {
					failedIDs = append(failedIDs, chunk[idx])
				}
			}
		}
	}
	if len(failedIDs) > 0 && b.deleteFailed != nil {
		b.deleteFailed.Add(int64(len(failedIDs)))
	}
	if len(failedIDs) > 0 {
		return failedIDs, fmt.Errorf("broker: %d message delete(s) failed", len(failedIDs))
	}
	return nil, nil
}

func (b *Broker) deleteOne(ctx context.Context, handle string) error {
	_, err := b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		b.logger.Error("broker: single-message delete failed", "error", err)
	}
	return err
}

func indexSuffix(id string) int {
	var i int
	if _, err := fmt.Sscanf(id, "m%d", &i); err != nil {
		return -1
	}
	return i
}

// ExtendVisibility extends a received message's visibility timeout, used by
// long-running work to avoid the soft budget expiring mid-processing.
func (b *Broker) ExtendVisibility(ctx context.Context, handle string, seconds int32) error {
	_, err := b.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(b.queueURL),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: seconds,
	})
	return err
}

// SendToDLQ publishes orig to the DLQ with the message attributes required
// by §4.1 (FailedAt, OriginalMessageId, ErrorMessage truncated to 256
// chars) and then deletes it from the primary queue.
func (b *Broker) SendToDLQ(ctx context.Context, orig Message, errorReason string) error {
	reason := errorReason
	if len(reason) > 256 {
		reason = reason[:256]
	}
	_, err := b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(b.dlqURL),
		MessageBody: aws.String(string(orig.Body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"FailedAt":          strAttr(time.Now().UTC().Format(time.RFC3339)),
			"OriginalMessageId": strAttr(orig.ID),
			"ErrorMessage":      strAttr(reason),
			"RetryCount":        strAttr(orig.Attributes["RetryCount"]),
		},
	})
	if err != nil {
		return fmt.Errorf("broker: send to DLQ: %w", err)
	}
	if b.messagesSent != nil {
		b.messagesSent.Inc()
	}
	_, err = b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.queueURL),
		ReceiptHandle: aws.String(orig.ReceiptHandle),
	})
	return err
}

// Requeue republishes body to the primary queue with the given attributes,
// used by DLQ triage to replay a recoverable failure (§4.8).
func (b *Broker) Requeue(ctx context.Context, body []byte, attrs map[string]string) error {
	msgAttrs := make(map[string]types.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		msgAttrs[k] = strAttr(v)
	}
	_, err := b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(b.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: msgAttrs,
	})
	return err
}

// ReceiveDLQBatch long-polls the DLQ for up to n messages, used by DLQ
// triage (§4.8) to pull candidates for classification.
func (b *Broker) ReceiveDLQBatch(ctx context.Context, n int, waitSeconds, visibilityTimeout int32) ([]Message, error) {
	if n <= 0 {
		n = 10
	}
	if n > 10 {
		n = 10
	}
	out, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(b.dlqURL),
		MaxNumberOfMessages:   int32(n),
		WaitTimeSeconds:       waitSeconds,
		VisibilityTimeout:     visibilityTimeout,
		MessageAttributeNames: []string{"All"},
		AttributeNames:        []types.QueueAttributeName{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("broker: receive from DLQ: %w", err)
	}
	msgs := make([]Message, len(out.Messages))
	for i, m := range out.Messages {
		msgs[i] = toMessage(m)
	}
	return msgs, nil
}

// DeleteDLQMessage removes a single message from the DLQ by receipt handle,
// used once triage has either replayed or archived it.
func (b *Broker) DeleteDLQMessage(ctx context.Context, handle string) error {
	_, err := b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.dlqURL),
		ReceiptHandle: aws.String(handle),
	})
	return err
}

// Depth queries the primary queue's backlog counters.
func (b *Broker) Depth(ctx context.Context) (Depth, error) {
	out, err := b.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(b.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return Depth{}, fmt.Errorf("broker: get queue attributes: %w", err)
	}
	return Depth{
		Available: atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]),
		InFlight:  atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)]),
		Delayed:   atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesDelayed)]),
	}, nil
}

func atoi(s string) int {
	var n int
	fmt.Sscanf(s, "%d", &n)
	return n
}

func strAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

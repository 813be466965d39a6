package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// fakeSQS is a hand-written fake of the sqsAPI subset, matching the
// teacher's style of small interface fakes over a mocking framework.
type fakeSQS struct {
	receiveOut  *sqs.ReceiveMessageOutput
	receiveErr  error
	deleteBatchOut *sqs.DeleteMessageBatchOutput
	deleteBatchErr error
	deleteCalls int
	sendCalls   []*sqs.SendMessageInput
	changeVisibilityErr error
	attrsOut    *sqs.GetQueueAttributesOutput
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	return f.receiveOut, nil
}

func (f *fakeSQS) DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	if f.deleteBatchErr != nil {
		return nil, f.deleteBatchErr
	}
	return f.deleteBatchOut, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleteCalls++
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if f.changeVisibilityErr != nil {
		return nil, f.changeVisibilityErr
	}
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sendCalls = append(f.sendCalls, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-new")}, nil
}

func (f *fakeSQS) GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return f.attrsOut, nil
}

func TestDeriveDLQURL(t *testing.T) {
	got := deriveDLQURL("https://sqs.us-east-1.amazonaws.com/123/my-queue")
	want := "https://sqs.us-east-1.amazonaws.com/123/my-dlq"
	if got != want {
		t.Errorf("deriveDLQURL = %q, want %q", got, want)
	}
}

func TestReceiveBatchReturnsMessages(t *testing.T) {
	fake := &fakeSQS{receiveOut: &sqs.ReceiveMessageOutput{
		Messages: []types.Message{
			{MessageId: aws.String("1"), Body: aws.String(`{"bucket":"b","key":"k"}`), ReceiptHandle: aws.String("rh1")},
		},
	}}
	b := New(fake, "q", "", nil, nil)
	msgs, err := b.ReceiveBatch(context.Background(), 10, 20, 30)
	if err != nil {
		t.Fatalf("ReceiveBatch() = %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "1" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}

func TestReceiveBatchOnErrorReturnsEmptyNotError(t *testing.T) {
	fake := &fakeSQS{receiveErr: errors.New("network blip")}
	b := New(fake, "q", "", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // short-circuit the backoff sleep for the test
	msgs, err := b.ReceiveBatch(ctx, 10, 1, 30)
	if err != nil {
		t.Fatalf("ReceiveBatch() must never propagate broker errors, got %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages on error, got %d", len(msgs))
	}
}

func TestDeleteBatchFallsBackOnPartialFailure(t *testing.T) {
	fake := &fakeSQS{
		deleteBatchOut: &sqs.DeleteMessageBatchOutput{
			Failed: []types.BatchResultErrorEntry{{Id: aws.String("m0")}},
		},
	}
	b := New(fake, "q", "", nil, nil)
	failed, err := b.DeleteBatch(context.Background(), []string{"rh1", "rh2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("expected fallback single-delete to succeed, got failed=%v", failed)
	}
	if fake.deleteCalls != 1 {
		t.Errorf("expected exactly 1 single-message delete fallback, got %d", fake.deleteCalls)
	}
}

func TestSendToDLQTruncatesErrorMessage(t *testing.T) {
	fake := &fakeSQS{}
	b := New(fake, "q", "dlq", nil, nil)
	longReason := make([]byte, 512)
	for i := range longReason {
		longReason[i] = 'x'
	}
	msg := Message{ID: "orig-1", Body: []byte("{}"), ReceiptHandle: "rh", Attributes: map[string]string{"RetryCount": "1"}}
	if err := b.SendToDLQ(context.Background(), msg, string(longReason)); err != nil {
		t.Fatalf("SendToDLQ() = %v", err)
	}
	if len(fake.sendCalls) != 1 {
		t.Fatalf("expected one SendMessage call, got %d", len(fake.sendCalls))
	}
	attr := fake.sendCalls[0].MessageAttributes["ErrorMessage"]
	if len(*attr.StringValue) != 256 {
		t.Errorf("ErrorMessage length = %d, want 256", len(*attr.StringValue))
	}
	if fake.deleteCalls != 1 {
		t.Errorf("expected primary-queue delete after DLQ send, got %d calls", fake.deleteCalls)
	}
}

func TestDepthParsesAttributes(t *testing.T) {
	fake := &fakeSQS{attrsOut: &sqs.GetQueueAttributesOutput{
		Attributes: map[string]string{
			string(types.QueueAttributeNameApproximateNumberOfMessages):           "5",
			string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible): "2",
			string(types.QueueAttributeNameApproximateNumberOfMessagesDelayed):    "0",
		},
	}}
	b := New(fake, "q", "", nil, nil)
	d, err := b.Depth(context.Background())
	if err != nil {
		t.Fatalf("Depth() = %v", err)
	}
	if d.Available != 5 || d.InFlight != 2 || d.Delayed != 0 {
		t.Errorf("unexpected depth: %+v", d)
	}
}

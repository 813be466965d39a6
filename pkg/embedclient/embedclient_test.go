package embedclient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

type fakeLambda struct {
	out *lambda.InvokeOutput
	err error
	in  *lambda.InvokeInput
}

func (f *fakeLambda) Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.in = in
	return f.out, f.err
}

func payloadFor(t *testing.T, resp embedResponse) []byte {
	t.Helper()
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return b
}

func TestEmbedReturnsVectorOnSuccess(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{
		Payload: payloadFor(t, embedResponse{Embedding: []float32{0.1, 0.2, 0.3}, Dimension: 3}),
	}}
	c := New(fake, "embed-fn", nil)
	res, err := c.Embed(context.Background(), "https://example.com/thumb.jpg")
	if err != nil {
		t.Fatalf("Embed() = %v", err)
	}
	if len(res.Embedding) != 3 || res.Dimension != 3 {
		t.Errorf("res = %+v", res)
	}
	if aws.ToString(fake.in.FunctionName) != "embed-fn" {
		t.Errorf("FunctionName = %q", aws.ToString(fake.in.FunctionName))
	}
}

func TestEmbedRequestSetsUseCache(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{Payload: payloadFor(t, embedResponse{})}}
	c := New(fake, "embed-fn", nil)
	_, _ = c.Embed(context.Background(), "https://example.com/thumb.jpg")
	var req embedRequest
	if err := json.Unmarshal(fake.in.Payload, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if !req.UseCache {
		t.Error("expected UseCache=true")
	}
}

func TestEmbedProceedsWithoutVectorOnInvokeError(t *testing.T) {
	fake := &fakeLambda{err: context.DeadlineExceeded}
	c := New(fake, "embed-fn", nil)
	res, err := c.Embed(context.Background(), "https://example.com/thumb.jpg")
	if err != nil {
		t.Fatalf("Embed() returned error, want nil: %v", err)
	}
	if res.Embedding != nil {
		t.Errorf("expected nil embedding, got %v", res.Embedding)
	}
}

func TestEmbedProceedsWithoutVectorOnFunctionError(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{
		FunctionError: aws.String("Unhandled"),
		Payload:       []byte(`{"errorMessage":"boom"}`),
	}}
	c := New(fake, "embed-fn", nil)
	res, err := c.Embed(context.Background(), "https://example.com/thumb.jpg")
	if err != nil || res.Embedding != nil {
		t.Errorf("res = %+v, err = %v", res, err)
	}
}

func TestEmbedProceedsWithoutVectorOnRemoteError(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{
		Payload: payloadFor(t, embedResponse{Error: "unsupported image format"}),
	}}
	c := New(fake, "embed-fn", nil)
	res, err := c.Embed(context.Background(), "https://example.com/thumb.jpg")
	if err != nil || res.Embedding != nil {
		t.Errorf("res = %+v, err = %v", res, err)
	}
}

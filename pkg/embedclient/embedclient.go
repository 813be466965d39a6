// Package embedclient implements the enrichment image-embedding producer
// (spec §4.5): invoke a remote Lambda function to turn a thumbnail URL into
// a fixed-dimension vector, with cache reuse and graceful degradation on
// any failure.
package embedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/nasindex/fileingest/pkg/resilience"
)

// lambdaAPI is the subset of the Lambda client this package depends on.
type lambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

type embedRequest struct {
	ImageURL string `json:"imageUrl"`
	UseCache bool   `json:"useCache"`
}

type embedResponse struct {
	Embedding     []float32 `json:"embedding"`
	Dimension     int       `json:"dimension"`
	Cached        bool      `json:"cached"`
	InferenceTime int64     `json:"inferenceTime"`
	Error         string    `json:"error,omitempty"`
}

// Result is the outcome of an embedding attempt. Embedding is nil when the
// call failed or the function itself reported an error — callers proceed
// without a vector rather than failing the whole document (§4.5).
type Result struct {
	Embedding     []float32
	Dimension     int
	Cached        bool
	InferenceTime time.Duration
}

// Client invokes a single Lambda function synchronously for each embedding
// request.
type Client struct {
	client       lambdaAPI
	functionName string
	logger       *slog.Logger
	breaker      *resilience.Breaker
}

// New constructs a Client bound to functionName. A circuit breaker guards
// the Invoke call so a degraded embedding Lambda fails fast instead of
// adding Lambda-invoke latency to every document once it's clearly down —
// embedding is already best-effort (§4.5), so a tripped breaker just
// short-circuits straight to the same "proceed without embedding" outcome.
func New(client lambdaAPI, functionName string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: client, functionName: functionName, logger: logger, breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts)}
}

// Embed requests an image embedding for imageURL. On any error it logs a
// warning and returns a zero Result with a nil error — missing vectors are
// an expected, non-fatal outcome (§4.5, §7: embedding failures never block
// indexing).
func (c *Client) Embed(ctx context.Context, imageURL string) (Result, error) {
	payload, err := json.Marshal(embedRequest{ImageURL: imageURL, UseCache: true})
	if err != nil {
		return Result{}, fmt.Errorf("embedclient: marshal request: %w", err)
	}

	var out *lambda.InvokeOutput
	invokeErr := c.breaker.Call(ctx, func(ctx context.Context) error {
		var ierr error
		out, ierr = c.client.Invoke(ctx, &lambda.InvokeInput{
			FunctionName: aws.String(c.functionName),
			Payload:      payload,
		})
		return ierr
	})
	if invokeErr != nil {
		c.logger.Warn("embedclient: invoke failed, proceeding without embedding", "error", invokeErr, "imageUrl", imageURL)
		return Result{}, nil
	}
	if out.FunctionError != nil {
		c.logger.Warn("embedclient: function error, proceeding without embedding", "error", aws.ToString(out.FunctionError), "imageUrl", imageURL)
		return Result{}, nil
	}

	var resp embedResponse
	if err := json.Unmarshal(out.Payload, &resp); err != nil {
		c.logger.Warn("embedclient: decode response failed, proceeding without embedding", "error", err)
		return Result{}, nil
	}
	if resp.Error != "" {
		c.logger.Warn("embedclient: remote reported error, proceeding without embedding", "error", resp.Error)
		return Result{}, nil
	}
	if len(resp.Embedding) == 0 {
		return Result{}, nil
	}
	return Result{
		Embedding:     resp.Embedding,
		Dimension:     resp.Dimension,
		Cached:        resp.Cached,
		InferenceTime: time.Duration(resp.InferenceTime) * time.Millisecond,
	}, nil
}

package broker

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// NewSQSClient loads the default AWS config (region, credentials chain) and
// returns a real SQS client. Binaries call this once at startup and pass the
// result to New.
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("broker: load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

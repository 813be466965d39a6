package embedclient

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

// NewLambdaClient loads the default AWS config and returns a real Lambda client.
func NewLambdaClient(ctx context.Context, region string) (*lambda.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("embedclient: load aws config: %w", err)
	}
	return lambda.NewFromConfig(cfg), nil
}

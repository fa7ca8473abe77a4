package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// LoadConfig loads the shared AWS configuration for the given profile and
// region. An empty value falls back to the SDK defaults.
func LoadConfig(ctx context.Context, profile, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// SelfInstanceID discovers the id of the instance this process runs on
// via the instance metadata service. Used when the pipeline runs on the
// runner instance itself and must terminate it afterwards.
func SelfInstanceID(ctx context.Context, cfg aws.Config) (string, error) {
	client := imds.NewFromConfig(cfg)
	out, err := client.GetMetadata(ctx, &imds.GetMetadataInput{Path: "instance-id"})
	if err != nil {
		return "", fmt.Errorf("querying instance metadata: %w", err)
	}
	defer out.Content.Close()

	buf := make([]byte, 64)
	n, _ := out.Content.Read(buf)
	if n == 0 {
		return "", fmt.Errorf("instance metadata returned empty instance id")
	}
	return string(buf[:n]), nil
}

package cmd

import (
	"context"
	"fmt"

	"github.com/batchline/batchline/internal/aws"
	"github.com/batchline/batchline/internal/config"
)

// clients bundles the real capability clients built from one shared AWS
// configuration.
type clients struct {
	compute *aws.EC2Compute
	engine  *aws.AthenaEngine
	storage *aws.S3Store
	catalog *aws.GlueCatalog
}

func buildClients(ctx context.Context, cfg *config.Config) (*clients, error) {
	awsCfg, err := aws.LoadConfig(ctx, cfg.AWS.Profile, cfg.AWS.Region)
	if err != nil {
		return nil, err
	}

	output := fmt.Sprintf("s3://%s/%s", cfg.Data.Bucket, cfg.Data.ResultsPrefix)
	return &clients{
		compute: aws.NewEC2Compute(awsCfg),
		engine:  aws.NewAthenaEngine(awsCfg, cfg.Athena.Catalog, cfg.Athena.Workgroup, output),
		storage: aws.NewS3Store(awsCfg),
		catalog: aws.NewGlueCatalog(awsCfg),
	}, nil
}

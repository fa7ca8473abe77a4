package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
)

// GlueCatalog implements Catalog against the AWS Glue Data Catalog, which
// backs the Athena metadata namespace.
type GlueCatalog struct {
	client *glue.Client
}

// NewGlueCatalog creates a new Glue catalog client.
func NewGlueCatalog(cfg aws.Config) *GlueCatalog {
	return &GlueCatalog{client: glue.NewFromConfig(cfg)}
}

// DatabaseExists reports whether the logical database is present.
func (c *GlueCatalog) DatabaseExists(ctx context.Context, database string) (bool, error) {
	_, err := c.client.GetDatabase(ctx, &glue.GetDatabaseInput{
		Name: aws.String(database),
	})
	if err != nil {
		var notFound *gluetypes.EntityNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("getting database %s: %w", database, err)
	}
	return true, nil
}

// TableExists reports whether the external table definition is present.
func (c *GlueCatalog) TableExists(ctx context.Context, database, table string) (bool, error) {
	_, err := c.client.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	if err != nil {
		var notFound *gluetypes.EntityNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("getting table %s.%s: %w", database, table, err)
	}
	return true, nil
}

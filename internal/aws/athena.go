package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
)

// AthenaEngine implements QueryEngine against Amazon Athena.
type AthenaEngine struct {
	client    *athena.Client
	catalog   string
	workgroup string
	output    string // s3://bucket/results-prefix/
}

// NewAthenaEngine creates a new Athena query engine client. The output
// location is where the engine writes result objects; the core only ever
// reads the locations it reports back.
func NewAthenaEngine(cfg aws.Config, catalog, workgroup, output string) *AthenaEngine {
	return &AthenaEngine{
		client:    athena.NewFromConfig(cfg),
		catalog:   catalog,
		workgroup: workgroup,
		output:    output,
	}
}

// SubmitQuery starts a query execution and returns its opaque id.
func (e *AthenaEngine) SubmitQuery(ctx context.Context, statement, database string) (string, error) {
	execCtx := &athenatypes.QueryExecutionContext{
		Catalog: aws.String(e.catalog),
	}
	if database != "" {
		execCtx.Database = aws.String(database)
	}

	out, err := e.client.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString:           aws.String(statement),
		WorkGroup:             aws.String(e.workgroup),
		QueryExecutionContext: execCtx,
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(e.output),
		},
	})
	if err != nil {
		return "", fmt.Errorf("starting query execution: %w", err)
	}
	return aws.ToString(out.QueryExecutionId), nil
}

// GetExecution returns the current state of a query execution.
func (e *AthenaEngine) GetExecution(ctx context.Context, executionID string) (QueryExecution, error) {
	out, err := e.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
		QueryExecutionId: aws.String(executionID),
	})
	if err != nil {
		return QueryExecution{}, fmt.Errorf("getting query execution %s: %w", executionID, err)
	}

	qe := QueryExecution{ID: executionID}
	if out.QueryExecution == nil || out.QueryExecution.Status == nil {
		return qe, fmt.Errorf("query execution %s has no status", executionID)
	}

	qe.State = mapQueryState(out.QueryExecution.Status.State)
	qe.ErrorDetail = aws.ToString(out.QueryExecution.Status.StateChangeReason)
	if rc := out.QueryExecution.ResultConfiguration; rc != nil {
		qe.ResultLocation = aws.ToString(rc.OutputLocation)
	}
	return qe, nil
}

func mapQueryState(state athenatypes.QueryExecutionState) QueryState {
	switch state {
	case athenatypes.QueryExecutionStateQueued:
		return QueryQueued
	case athenatypes.QueryExecutionStateRunning:
		return QueryRunning
	case athenatypes.QueryExecutionStateSucceeded:
		return QuerySucceeded
	case athenatypes.QueryExecutionStateFailed:
		return QueryFailed
	case athenatypes.QueryExecutionStateCancelled:
		return QueryCancelled
	default:
		return QueryState(state)
	}
}

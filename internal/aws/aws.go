package aws

import "context"

// InstanceState is the lifecycle state of the runner instance.
type InstanceState string

const (
	InstanceStopped    InstanceState = "stopped"
	InstanceStarting   InstanceState = "starting"
	InstanceRunning    InstanceState = "running"
	InstanceUnhealthy  InstanceState = "unhealthy"
	InstanceTerminated InstanceState = "terminated"
)

// InstanceStatus reports the power state and a point-in-time health probe.
// Healthy is distinct from the power state: a running instance may still be
// initializing.
type InstanceStatus struct {
	State   InstanceState
	Healthy bool
}

// Compute manages the runner instance lifecycle. All operations are
// idempotent under repeated calls in the same logical state.
type Compute interface {
	StartInstance(ctx context.Context, id string) error
	DescribeInstance(ctx context.Context, id string) (InstanceStatus, error)
	TerminateInstance(ctx context.Context, id string) error
}

// QueryState is the lifecycle state of a submitted query execution.
type QueryState string

const (
	QueryQueued    QueryState = "QUEUED"
	QueryRunning   QueryState = "RUNNING"
	QuerySucceeded QueryState = "SUCCEEDED"
	QueryFailed    QueryState = "FAILED"
	QueryCancelled QueryState = "CANCELLED"
)

// Terminal reports whether the state is a terminal one.
func (s QueryState) Terminal() bool {
	switch s {
	case QuerySucceeded, QueryFailed, QueryCancelled:
		return true
	}
	return false
}

// QueryExecution describes one submitted query. The id is an opaque token;
// the result location is engine-assigned and only ever read.
type QueryExecution struct {
	ID             string
	State          QueryState
	ResultLocation string
	ErrorDetail    string
}

// QueryEngine submits statements to the managed query engine and reads
// back execution status.
type QueryEngine interface {
	// SubmitQuery starts an execution of the statement. An empty database
	// submits without a database context (DDL like CREATE DATABASE).
	SubmitQuery(ctx context.Context, statement, database string) (string, error)
	GetExecution(ctx context.Context, executionID string) (QueryExecution, error)
}

// Storage copies and lists objects in the data bucket.
type Storage interface {
	Copy(ctx context.Context, bucket, sourceKey, destKey string) error
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Catalog answers existence questions about the metadata catalog, used for
// create-if-absent schema checks without issuing DDL.
type Catalog interface {
	DatabaseExists(ctx context.Context, database string) (bool, error)
	TableExists(ctx context.Context, database, table string) (bool, error)
}

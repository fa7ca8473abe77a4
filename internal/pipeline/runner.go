package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/batchline/batchline/internal/aws"
	"github.com/batchline/batchline/internal/config"
)

// timestampLayout is compact ISO-8601 UTC at seconds precision. Captured
// at relocation time so no two successful runs share a destination.
const timestampLayout = "20060102T150405Z"

// terminateWait bounds transient retries of the termination call. Kept
// short: a stuck terminate is an alert, not something to wait minutes on.
var terminateWait = config.WaitConfig{
	BaseDelay:   2 * time.Second,
	Multiplier:  2.0,
	MaxInterval: 10 * time.Second,
	MaxElapsed:  30 * time.Second,
}

var errStillRunning = errors.New("query execution not yet terminal")

// engineFailure carries the engine's own error detail for a query that
// reached a failed or cancelled terminal state.
type engineFailure struct {
	exec aws.QueryExecution
}

func (e *engineFailure) Error() string {
	return fmt.Sprintf("query %s %s: %s", e.exec.ID, e.exec.State, e.exec.ErrorDetail)
}

// Runner drives one pipeline attempt through its stages. The terminate
// stage is a guaranteed finalizer: it executes on every exit path and its
// failure never reverses the verdict of the preceding stages.
type Runner struct {
	cfg      *config.Config
	compute  aws.Compute
	engine   aws.QueryEngine
	storage  aws.Storage
	catalog  aws.Catalog
	logger   *slog.Logger
	now      func() time.Time
	termWait config.WaitConfig
}

// Option configures the runner.
type Option func(*Runner)

// WithClock overrides the time source, for deterministic destinations in
// tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithTerminateWait overrides the termination retry budget.
func WithTerminateWait(w config.WaitConfig) Option {
	return func(r *Runner) { r.termWait = w }
}

// NewRunner creates a pipeline runner.
func NewRunner(cfg *config.Config, compute aws.Compute, engine aws.QueryEngine, storage aws.Storage, catalog aws.Catalog, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		compute:  compute,
		engine:   engine,
		storage:  storage,
		catalog:  catalog,
		logger:   logger,
		now:      time.Now,
		termWait: terminateWait,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the full pipeline against the instance and returns the run
// record. The instance ends terminated (or termination is alerted on)
// regardless of which stage failed.
func (r *Runner) Run(ctx context.Context, instanceID string) *Run {
	run := NewRun(instanceID, r.now())
	logger := r.logger.With("run_id", run.ID, "instance_id", instanceID)
	logger.Info("pipeline run starting")

	defer func() {
		r.terminate(context.WithoutCancel(ctx), run, logger)
		run.EndedAt = r.now()
	}()

	if err := r.ensureSchema(ctx, run); err != nil {
		logger.Error("schema stage failed", "error", err)
		return run
	}

	run.Stage = StageRunQuery
	exec, err := r.runQuery(ctx, run)
	if err != nil {
		logger.Error("query stage failed", "error", err, "query_execution_id", run.QueryExecutionID)
		return run
	}
	logger.Info("query succeeded", "query_execution_id", exec.ID, "result_location", exec.ResultLocation)

	run.Stage = StageRelocateResult
	if err := r.relocateResult(ctx, run, exec); err != nil {
		logger.Error("relocation stage failed", "error", err)
		return run
	}

	run.Stage = StageDone
	logger.Info("pipeline run complete", "destination", run.Artifact.Destination)
	return run
}

// ensureSchema makes sure the logical database and external table exist
// over the raw prefix. A pre-existing schema of the expected shape is not
// an error; DDL is only issued for what is absent.
func (r *Runner) ensureSchema(ctx context.Context, run *Run) error {
	var dbExists, tableExists bool

	err := aws.RetryTransient(ctx, r.cfg.Runner.QueryWait, func() error {
		var err error
		dbExists, err = r.catalog.DatabaseExists(ctx, r.cfg.Athena.Database)
		return err
	})
	if err != nil {
		return run.fail(StageEnsureSchema, classifyKind(err), fmt.Errorf("checking database: %w", err))
	}

	if dbExists {
		err = aws.RetryTransient(ctx, r.cfg.Runner.QueryWait, func() error {
			var err error
			tableExists, err = r.catalog.TableExists(ctx, r.cfg.Athena.Database, r.cfg.Athena.Table)
			return err
		})
		if err != nil {
			return run.fail(StageEnsureSchema, classifyKind(err), fmt.Errorf("checking table: %w", err))
		}
	}

	if dbExists && tableExists {
		return nil
	}

	if !dbExists {
		if _, err := r.execToTerminal(ctx, createDatabaseSQL(r.cfg), ""); err != nil {
			return run.fail(StageEnsureSchema, classifyKind(err), fmt.Errorf("creating database: %w", err))
		}
	}
	if _, err := r.execToTerminal(ctx, createTableSQL(r.cfg), r.cfg.Athena.Database); err != nil {
		return run.fail(StageEnsureSchema, classifyKind(err), fmt.Errorf("creating table: %w", err))
	}
	return nil
}

// runQuery submits the fixed aggregate statement and waits for a terminal
// state within the poll budget. A poll timeout does not cancel the remote
// execution; cancellation policy stays with the engine.
func (r *Runner) runQuery(ctx context.Context, run *Run) (aws.QueryExecution, error) {
	exec, err := r.execToTerminalRecorded(ctx, stateCountSQL(r.cfg), r.cfg.Athena.Database, run)
	if err != nil {
		return exec, run.fail(StageRunQuery, classifyKind(err), err)
	}
	return exec, nil
}

// relocateResult copies the engine-reported result object to the output
// prefix under a timestamped name and verifies the copy landed.
func (r *Runner) relocateResult(ctx context.Context, run *Run, exec aws.QueryExecution) error {
	srcKey, err := objectKey(exec.ResultLocation, r.cfg.Data.Bucket)
	if err != nil {
		return run.fail(StageRelocateResult, KindPermanent, err)
	}

	ts := r.now().UTC()
	destKey := fmt.Sprintf("%sstate_counts_%s.csv", r.cfg.Data.OutputPrefix, ts.Format(timestampLayout))

	err = aws.RetryTransient(ctx, r.cfg.Runner.QueryWait, func() error {
		return r.storage.Copy(ctx, r.cfg.Data.Bucket, srcKey, destKey)
	})
	if err != nil {
		return run.fail(StageRelocateResult, classifyKind(err), fmt.Errorf("copying result: %w", err))
	}

	keys, err := r.storage.List(ctx, r.cfg.Data.Bucket, destKey)
	if err != nil {
		return run.fail(StageRelocateResult, classifyKind(err), fmt.Errorf("verifying copy: %w", err))
	}
	if len(keys) == 0 {
		return run.fail(StageRelocateResult, KindPermanent, fmt.Errorf("copied result not found at %s", destKey))
	}

	run.Artifact = &Artifact{
		Source:      srcKey,
		Destination: destKey,
		Timestamp:   ts,
	}
	return nil
}

// terminate is the guaranteed finalizer. The Done/Failed verdict from the
// prior stages stands whatever happens here; a failed termination is
// raised as a cost-leak alert instead.
func (r *Runner) terminate(ctx context.Context, run *Run, logger *slog.Logger) {
	verdict := run.Stage
	run.Stage = StageTerminate

	err := aws.RetryTransient(ctx, r.termWait, func() error {
		return r.compute.TerminateInstance(ctx, run.InstanceID)
	})
	if err != nil {
		run.TerminationErr = err
		logger.Warn("instance termination failed, instance may still be running",
			"alert", "cost_leak", "error", err)
	} else {
		logger.Info("instance terminated")
	}

	run.Stage = verdict
}

// execToTerminal submits a statement and polls until a terminal execution
// state or the poll budget runs out.
func (r *Runner) execToTerminal(ctx context.Context, statement, database string) (aws.QueryExecution, error) {
	return r.execToTerminalRecorded(ctx, statement, database, nil)
}

func (r *Runner) execToTerminalRecorded(ctx context.Context, statement, database string, run *Run) (aws.QueryExecution, error) {
	var id string
	err := aws.RetryTransient(ctx, r.cfg.Runner.QueryWait, func() error {
		var err error
		id, err = r.engine.SubmitQuery(ctx, statement, database)
		return err
	})
	if err != nil {
		return aws.QueryExecution{}, fmt.Errorf("submitting query: %w", err)
	}
	if run != nil {
		run.QueryExecutionID = id
	}

	var exec aws.QueryExecution
	err = backoff.Retry(func() error {
		e, err := r.engine.GetExecution(ctx, id)
		if err != nil {
			if aws.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if !e.State.Terminal() {
			return errStillRunning
		}
		exec = e
		return nil
	}, aws.NewBackOff(ctx, r.cfg.Runner.QueryWait))
	if err != nil {
		if errors.Is(err, errStillRunning) {
			return exec, fmt.Errorf("query %s: %w", id, context.DeadlineExceeded)
		}
		return exec, fmt.Errorf("polling query %s: %w", id, err)
	}

	if exec.State != aws.QuerySucceeded {
		return exec, &engineFailure{exec: exec}
	}
	return exec, nil
}

// classifyKind maps an error to the run failure taxonomy.
func classifyKind(err error) Kind {
	var ef *engineFailure
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	case errors.As(err, &ef):
		return KindPermanent
	case aws.IsTransient(err):
		return KindTransient
	default:
		return KindPermanent
	}
}

// objectKey extracts the object key from an s3://bucket/key location and
// checks it belongs to the expected bucket.
func objectKey(location, bucket string) (string, error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", fmt.Errorf("unexpected result location %q", location)
	}
	gotBucket, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", fmt.Errorf("result location %q has no object key", location)
	}
	if gotBucket != bucket {
		return "", fmt.Errorf("result location %q is outside bucket %s", location, bucket)
	}
	return key, nil
}

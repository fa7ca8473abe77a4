// Package activator reacts to qualifying uploads: it brings the runner
// instance up, waits for it to be healthy, and hands it to the pipeline.
// At most one activation is in flight per instance at any time.
package activator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/batchline/batchline/internal/aws"
	"github.com/batchline/batchline/internal/config"
	"github.com/batchline/batchline/internal/lock"
	"github.com/batchline/batchline/internal/pipeline"
	"github.com/batchline/batchline/internal/trigger"
)

// ErrRunInFlight marks a duplicate activation coalesced into the one
// already running.
var ErrRunInFlight = errors.New("a run is already in flight for this instance")

// TimeoutError reports an exhausted health-check budget.
type TimeoutError struct {
	InstanceID string
	Elapsed    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("instance %s not healthy after %s", e.InstanceID, e.Elapsed)
}

var errNotReady = errors.New("instance not yet healthy")

// PipelineRunner executes one pipeline attempt against a healthy instance.
type PipelineRunner interface {
	Run(ctx context.Context, instanceID string) *pipeline.Run
}

// Activator owns the start-and-wait decision logic in front of the
// pipeline.
type Activator struct {
	cfg    *config.Config
	comp   aws.Compute
	runner PipelineRunner
	locks  *lock.Registry
	logger *slog.Logger
	now    func() time.Time
}

// New creates an activator for the configured runner instance.
func New(cfg *config.Config, comp aws.Compute, runner PipelineRunner, logger *slog.Logger) *Activator {
	return &Activator{
		cfg:    cfg,
		comp:   comp,
		runner: runner,
		locks:  lock.NewRegistry(),
		logger: logger,
		now:    time.Now,
	}
}

// Activate ensures the instance is running and healthy, then executes the
// pipeline. Concurrent activations for the same instance are rejected with
// ErrRunInFlight. An activation timeout still forces a termination attempt
// before surfacing, so the instance is never left running unbounded.
func (a *Activator) Activate(ctx context.Context, ev trigger.UploadEvent) (*pipeline.Run, error) {
	id := a.cfg.Runner.InstanceID

	if err := a.locks.TryAcquire(id); err != nil {
		a.logger.Info("activation coalesced, run already in flight", "instance_id", id, "key", ev.Key)
		return nil, ErrRunInFlight
	}
	defer a.locks.Release(id)

	if err := a.ensureHealthy(ctx, id); err != nil {
		run := pipeline.NewRun(id, a.now())
		run.Stage = pipeline.StageFailed
		run.Err = &pipeline.StageError{Stage: pipeline.StageActivate, Kind: failureKind(err), Err: err}
		run.EndedAt = a.now()

		var te *TimeoutError
		if errors.As(err, &te) {
			a.logger.Warn("activation timed out, forcing termination",
				"alert", "activation_timeout", "instance_id", id, "elapsed", te.Elapsed)
			a.forceTerminate(context.WithoutCancel(ctx), id)
		}
		return run, err
	}

	return a.runner.Run(ctx, id), nil
}

// ensureHealthy starts the instance if needed and polls with exponential
// backoff until it is running and passing health checks, within the
// configured budget.
func (a *Activator) ensureHealthy(ctx context.Context, id string) error {
	status, err := a.describe(ctx, id)
	if err != nil {
		return fmt.Errorf("describing instance: %w", err)
	}

	switch status.State {
	case aws.InstanceStopped, aws.InstanceTerminated:
		// Start is idempotent: issuing it against an already-starting
		// instance is a no-op, not an error.
		err := aws.RetryTransient(ctx, a.cfg.Runner.HealthWait, func() error {
			return a.comp.StartInstance(ctx, id)
		})
		if err != nil {
			return fmt.Errorf("starting instance: %w", err)
		}
		a.logger.Info("instance start issued", "instance_id", id)
	case aws.InstanceRunning:
		if status.Healthy {
			return nil
		}
	}

	started := a.now()
	err = backoff.Retry(func() error {
		st, err := a.comp.DescribeInstance(ctx, id)
		if err != nil {
			if aws.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if st.State == aws.InstanceRunning && st.Healthy {
			return nil
		}
		return errNotReady
	}, aws.NewBackOff(ctx, a.cfg.Runner.HealthWait))
	if err != nil {
		if errors.Is(err, errNotReady) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return &TimeoutError{InstanceID: id, Elapsed: a.now().Sub(started)}
		}
		return fmt.Errorf("waiting for instance health: %w", err)
	}
	return nil
}

func (a *Activator) describe(ctx context.Context, id string) (aws.InstanceStatus, error) {
	var status aws.InstanceStatus
	err := aws.RetryTransient(ctx, a.cfg.Runner.HealthWait, func() error {
		var err error
		status, err = a.comp.DescribeInstance(ctx, id)
		return err
	})
	return status, err
}

func (a *Activator) forceTerminate(ctx context.Context, id string) {
	err := aws.RetryTransient(ctx, a.cfg.Runner.HealthWait, func() error {
		return a.comp.TerminateInstance(ctx, id)
	})
	if err != nil {
		a.logger.Warn("forced termination failed, instance may still be running",
			"alert", "cost_leak", "instance_id", id, "error", err)
	}
}

func failureKind(err error) pipeline.Kind {
	var te *TimeoutError
	if errors.As(err, &te) {
		return pipeline.KindTimeout
	}
	if aws.IsTransient(err) {
		return pipeline.KindTransient
	}
	return pipeline.KindPermanent
}

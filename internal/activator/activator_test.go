package activator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/smithy-go"

	"github.com/batchline/batchline/internal/aws"
	"github.com/batchline/batchline/internal/config"
	"github.com/batchline/batchline/internal/pipeline"
	"github.com/batchline/batchline/internal/trigger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Version: config.CurrentVersion,
		Data:    config.DataConfig{Bucket: "b"},
		Runner:  config.RunnerConfig{InstanceID: "i-1"},
	}
	cfg.ApplyDefaults()
	cfg.Runner.HealthWait = config.WaitConfig{
		BaseDelay:   time.Millisecond,
		Multiplier:  1.5,
		MaxInterval: 5 * time.Millisecond,
		MaxElapsed:  150 * time.Millisecond,
	}
	cfg.Runner.QueryWait = cfg.Runner.HealthWait
	return cfg
}

// stubRunner stands in for the pipeline so activation behavior can be
// tested in isolation.
type stubRunner struct {
	delay time.Duration
	runs  atomic.Int32
}

func (s *stubRunner) Run(_ context.Context, instanceID string) *pipeline.Run {
	s.runs.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	run := pipeline.NewRun(instanceID, time.Now())
	run.Stage = pipeline.StageDone
	return run
}

func event() trigger.UploadEvent {
	return trigger.UploadEvent{Bucket: "b", Key: "raw/Sample_Challenge.json", EventTime: time.Now()}
}

func TestActivate_StartsStoppedInstanceAndRuns(t *testing.T) {
	comp := aws.NewMockCompute()
	// Stopped at first describe; starting, then unhealthy, then healthy on
	// the third poll attempt.
	comp.Statuses = []aws.InstanceStatus{
		{State: aws.InstanceStopped},
		{State: aws.InstanceStarting},
		{State: aws.InstanceUnhealthy},
		{State: aws.InstanceRunning, Healthy: true},
	}
	runner := &stubRunner{}
	a := New(testConfig(), comp, runner, testLogger())

	run, err := a.Activate(context.Background(), event())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !run.Done() {
		t.Errorf("expected Done run, got %s", run.Stage)
	}
	if comp.StartCalls != 1 {
		t.Errorf("expected 1 start call, got %d", comp.StartCalls)
	}
	if runner.runs.Load() != 1 {
		t.Errorf("expected 1 pipeline run, got %d", runner.runs.Load())
	}
}

func TestActivate_AlreadyHealthySkipsStart(t *testing.T) {
	comp := aws.NewMockCompute()
	runner := &stubRunner{}
	a := New(testConfig(), comp, runner, testLogger())

	if _, err := a.Activate(context.Background(), event()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comp.StartCalls != 0 {
		t.Errorf("healthy instance should not be started, got %d start calls", comp.StartCalls)
	}
}

func TestActivate_HealthTimeoutForcesTermination(t *testing.T) {
	comp := aws.NewMockCompute()
	comp.Statuses = []aws.InstanceStatus{{State: aws.InstanceStarting}}
	runner := &stubRunner{}
	a := New(testConfig(), comp, runner, testLogger())

	run, err := a.Activate(context.Background(), event())

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if run == nil || run.Stage != pipeline.StageFailed {
		t.Fatalf("expected failed run record, got %+v", run)
	}
	if run.Err.Kind != pipeline.KindTimeout {
		t.Errorf("expected timeout kind, got %s", run.Err.Kind)
	}
	if comp.TerminateCalls == 0 {
		t.Error("activation timeout must force a termination attempt")
	}
	if runner.runs.Load() != 0 {
		t.Error("pipeline must not run after activation timeout")
	}
}

func TestActivate_PermanentDescribeErrorSurfaces(t *testing.T) {
	comp := aws.NewMockCompute()
	comp.DescribeErr = &smithy.GenericAPIError{Code: "UnauthorizedOperation", Fault: smithy.FaultClient}
	runner := &stubRunner{}
	a := New(testConfig(), comp, runner, testLogger())

	run, err := a.Activate(context.Background(), event())
	if err == nil {
		t.Fatal("expected error")
	}
	if run == nil || run.Err.Kind != pipeline.KindPermanent {
		t.Fatalf("expected permanent failure record, got %+v", run)
	}
	if runner.runs.Load() != 0 {
		t.Error("pipeline must not run when describe fails")
	}
}

func TestActivate_ConcurrentDuplicatesCoalesced(t *testing.T) {
	comp := aws.NewMockCompute()
	runner := &stubRunner{delay: 50 * time.Millisecond}
	a := New(testConfig(), comp, runner, testLogger())

	const n = 8
	var inFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Activate(context.Background(), event())
			if errors.Is(err, ErrRunInFlight) {
				inFlight.Add(1)
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := runner.runs.Load(); got != 1 {
		t.Errorf("expected exactly 1 pipeline run, got %d", got)
	}
	if inFlight.Load() != n-1 {
		t.Errorf("expected %d coalesced activations, got %d", n-1, inFlight.Load())
	}
}

func TestActivate_SequentialRunsAllowed(t *testing.T) {
	comp := aws.NewMockCompute()
	runner := &stubRunner{}
	a := New(testConfig(), comp, runner, testLogger())

	for i := 0; i < 3; i++ {
		if _, err := a.Activate(context.Background(), event()); err != nil {
			t.Fatalf("activation %d failed: %v", i, err)
		}
	}
	if runner.runs.Load() != 3 {
		t.Errorf("expected 3 sequential runs, got %d", runner.runs.Load())
	}
}

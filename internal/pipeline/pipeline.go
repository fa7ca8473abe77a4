// Package pipeline implements the staged analytics run executed once the
// runner instance is healthy: ensure the schema, run the aggregate query,
// relocate its result, and terminate the instance no matter what.
package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage identifies where a run currently is, or where it stopped.
type Stage string

const (
	// StageActivate covers failures before the staged work begins, when
	// the instance never became healthy.
	StageActivate Stage = "activate"

	StageEnsureSchema   Stage = "ensure_schema"
	StageRunQuery       Stage = "run_query"
	StageRelocateResult Stage = "relocate_result"
	StageTerminate      Stage = "terminate"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// Kind classifies run failures.
type Kind string

const (
	KindTransient Kind = "transient"
	KindTimeout   Kind = "timeout"
	KindPermanent Kind = "permanent"
)

// StageError is a run failure attributed to a stage.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Artifact records a relocated query result.
type Artifact struct {
	Source      string
	Destination string
	Timestamp   time.Time
}

// Run is the record of one pipeline attempt against an instance.
type Run struct {
	ID               string
	InstanceID       string
	Stage            Stage
	QueryExecutionID string
	Artifact         *Artifact
	StartedAt        time.Time
	EndedAt          time.Time
	Err              *StageError

	// TerminationErr is set when the terminate stage itself failed. It
	// never changes the Done/Failed verdict; a non-terminated instance is
	// an ongoing cost liability reported separately.
	TerminationErr error
}

// NewRun creates a run bound to an instance, starting at the schema stage.
func NewRun(instanceID string, startedAt time.Time) *Run {
	return &Run{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		Stage:      StageEnsureSchema,
		StartedAt:  startedAt,
	}
}

// Done reports whether the run completed successfully.
func (r *Run) Done() bool { return r.Stage == StageDone }

func (r *Run) fail(stage Stage, kind Kind, err error) *StageError {
	se := &StageError{Stage: stage, Kind: kind, Err: err}
	r.Stage = StageFailed
	r.Err = se
	return se
}

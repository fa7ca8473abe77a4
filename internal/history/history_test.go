package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/batchline/batchline/internal/pipeline"
)

func TestAppendAndRecent(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "runs.yaml"))

	for i, id := range []string{"r-1", "r-2", "r-3"} {
		rec := Record{
			RunID:      id,
			InstanceID: "i-1",
			Stage:      "done",
			StartedAt:  time.Date(2024, 1, 1, 12, i, 0, 0, time.UTC),
		}
		if err := store.Append(rec); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	records, err := store.Recent(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].RunID != "r-2" || records[1].RunID != "r-3" {
		t.Errorf("expected newest last, got %s then %s", records[0].RunID, records[1].RunID)
	}
}

func TestRecentEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "runs.yaml"))
	records, err := store.Recent(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestFromRun(t *testing.T) {
	run := pipeline.NewRun("i-1", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	run.Stage = pipeline.StageFailed
	run.QueryExecutionID = "q-2"
	run.Err = &pipeline.StageError{
		Stage: pipeline.StageRunQuery,
		Kind:  pipeline.KindPermanent,
		Err:   errors.New("SYNTAX_ERROR"),
	}
	run.TerminationErr = errors.New("throttled")

	rec := FromRun(run)
	if rec.RunID != run.ID {
		t.Errorf("run id mismatch")
	}
	if rec.Stage != "failed" {
		t.Errorf("expected stage failed, got %s", rec.Stage)
	}
	if rec.QueryExecutionID != "q-2" {
		t.Errorf("expected q-2, got %s", rec.QueryExecutionID)
	}
	if rec.Error == "" || rec.TerminationError == "" {
		t.Error("expected error fields populated")
	}
}

func TestFromRunWithArtifact(t *testing.T) {
	run := pipeline.NewRun("i-1", time.Now())
	run.Stage = pipeline.StageDone
	run.Artifact = &pipeline.Artifact{
		Source:      "athena-results/q-1.csv",
		Destination: "output/prod/state_counts_20240101T120000Z.csv",
	}

	rec := FromRun(run)
	if rec.Destination != run.Artifact.Destination {
		t.Errorf("destination mismatch: %s", rec.Destination)
	}
}

// Package history records pipeline run outcomes in a YAML file so
// operators can audit what ran, what failed, and whether the instance
// came down.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/batchline/batchline/internal/pipeline"
)

// Record is the durable form of one pipeline run.
type Record struct {
	RunID            string    `yaml:"run_id"`
	InstanceID       string    `yaml:"instance_id"`
	Stage            string    `yaml:"stage"`
	QueryExecutionID string    `yaml:"query_execution_id,omitempty"`
	Destination      string    `yaml:"destination,omitempty"`
	StartedAt        time.Time `yaml:"started_at"`
	EndedAt          time.Time `yaml:"ended_at,omitempty"`
	Error            string    `yaml:"error,omitempty"`
	TerminationError string    `yaml:"termination_error,omitempty"`
}

// FromRun converts a run into its durable record.
func FromRun(run *pipeline.Run) Record {
	rec := Record{
		RunID:            run.ID,
		InstanceID:       run.InstanceID,
		Stage:            string(run.Stage),
		QueryExecutionID: run.QueryExecutionID,
		StartedAt:        run.StartedAt,
		EndedAt:          run.EndedAt,
	}
	if run.Artifact != nil {
		rec.Destination = run.Artifact.Destination
	}
	if run.Err != nil {
		rec.Error = run.Err.Error()
	}
	if run.TerminationErr != nil {
		rec.TerminationError = run.TerminationErr.Error()
	}
	return rec
}

// Store appends and reads run records.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Append adds a record to the history file, creating it if needed.
func (s *Store) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	records = append(records, rec)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Recent returns up to n most recent records, newest last.
func (s *Store) Recent(n int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

func (s *Store) load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history: %w", err)
	}

	var records []Record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing history: %w", err)
	}
	return records, nil
}

package aws

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockCompute is a test double for the Compute interface. Statuses is a
// script of DescribeInstance answers; the last entry repeats once the
// script is exhausted.
type MockCompute struct {
	mu sync.Mutex

	Statuses     []InstanceStatus
	StartErr     error
	DescribeErr  error
	TerminateErr error

	// TerminateErrOnce fails the first terminate call only.
	TerminateErrOnce error

	StartCalls     int
	DescribeCalls  int
	TerminateCalls int
}

// NewMockCompute creates a MockCompute that reports a healthy running
// instance.
func NewMockCompute() *MockCompute {
	return &MockCompute{
		Statuses: []InstanceStatus{{State: InstanceRunning, Healthy: true}},
	}
}

func (m *MockCompute) StartInstance(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
	return m.StartErr
}

func (m *MockCompute) DescribeInstance(_ context.Context, _ string) (InstanceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DescribeErr != nil {
		return InstanceStatus{}, m.DescribeErr
	}
	i := m.DescribeCalls
	m.DescribeCalls++
	if i >= len(m.Statuses) {
		i = len(m.Statuses) - 1
	}
	if i < 0 {
		return InstanceStatus{}, fmt.Errorf("no scripted statuses")
	}
	return m.Statuses[i], nil
}

func (m *MockCompute) TerminateInstance(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TerminateCalls++
	if m.TerminateErrOnce != nil {
		err := m.TerminateErrOnce
		m.TerminateErrOnce = nil
		return err
	}
	return m.TerminateErr
}

// MockQueryEngine is a test double for the QueryEngine interface.
// Executions scripts the status answers per execution id; the last entry
// repeats.
type MockQueryEngine struct {
	mu sync.Mutex

	NextID       string
	ResultPrefix string // location prefix for unscripted executions
	SubmitErr    error
	StatusErr    error
	Executions   map[string][]QueryExecution

	Submitted []string // statements in submission order
	polled    map[string]int
}

// NewMockQueryEngine creates a MockQueryEngine whose executions succeed
// immediately.
func NewMockQueryEngine() *MockQueryEngine {
	return &MockQueryEngine{
		NextID:       "q-1",
		ResultPrefix: "s3://b/athena-results/",
		Executions:   make(map[string][]QueryExecution),
		polled:       make(map[string]int),
	}
}

func (m *MockQueryEngine) SubmitQuery(_ context.Context, statement, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	m.Submitted = append(m.Submitted, statement)
	return m.NextID, nil
}

func (m *MockQueryEngine) GetExecution(_ context.Context, executionID string) (QueryExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatusErr != nil {
		return QueryExecution{}, m.StatusErr
	}
	script, ok := m.Executions[executionID]
	if !ok || len(script) == 0 {
		return QueryExecution{
			ID:             executionID,
			State:          QuerySucceeded,
			ResultLocation: m.ResultPrefix + executionID + ".csv",
		}, nil
	}
	i := m.polled[executionID]
	m.polled[executionID]++
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i], nil
}

// MockStorage is a test double for the Storage interface.
type MockStorage struct {
	mu sync.Mutex

	CopyErr error
	ListErr error
	Keys    []string

	Copied map[string]string // source key → dest key
}

// NewMockStorage creates an empty MockStorage.
func NewMockStorage() *MockStorage {
	return &MockStorage{Copied: make(map[string]string)}
}

func (m *MockStorage) Copy(_ context.Context, _, sourceKey, destKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CopyErr != nil {
		return m.CopyErr
	}
	m.Copied[sourceKey] = destKey
	m.Keys = append(m.Keys, destKey)
	return nil
}

func (m *MockStorage) List(_ context.Context, _, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []string
	for _, k := range m.Keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// MockCatalog is a test double for the Catalog interface.
type MockCatalog struct {
	mu sync.Mutex

	Databases map[string]bool
	Tables    map[string]bool // "db.table"
	Err       error
}

// NewMockCatalog creates an empty MockCatalog.
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{
		Databases: make(map[string]bool),
		Tables:    make(map[string]bool),
	}
}

func (m *MockCatalog) DatabaseExists(_ context.Context, database string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	return m.Databases[database], nil
}

func (m *MockCatalog) TableExists(_ context.Context, database, table string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	return m.Tables[database+"."+table], nil
}

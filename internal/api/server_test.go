package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/batchline/batchline/internal/config"
	"github.com/batchline/batchline/internal/history"
	"github.com/batchline/batchline/internal/pipeline"
	"github.com/batchline/batchline/internal/trigger"
)

type stubActivator struct {
	calls atomic.Int32
}

func (a *stubActivator) Activate(_ context.Context, _ trigger.UploadEvent) (*pipeline.Run, error) {
	a.calls.Add(1)
	run := pipeline.NewRun("i-1", time.Now())
	run.Stage = pipeline.StageDone
	return run, nil
}

func newTestServer(t *testing.T) (*Server, *stubActivator, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{
		Version: config.CurrentVersion,
		Data:    config.DataConfig{Bucket: "b"},
		Runner:  config.RunnerConfig{InstanceID: "i-1"},
	}
	cfg.ApplyDefaults()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	act := &stubActivator{}
	listener := trigger.NewListener(cfg, act, logger)
	store := history.NewStore(filepath.Join(t.TempDir(), "runs.yaml"))

	srv := New(listener, store, logger, 0)
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return srv, act, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestEventsEndpoint_QualifyingUpload(t *testing.T) {
	srv, act, ts := newTestServer(t)

	payload := `{"Records":[{"eventSource":"aws:s3","s3":{"bucket":{"name":"b"},"object":{"key":"raw/Sample_Challenge.json"}}}]}`
	resp, err := http.Post(ts.URL+"/events", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var counts map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		t.Fatal(err)
	}
	if counts["accepted"] != 1 {
		t.Errorf("expected 1 accepted, got %d", counts["accepted"])
	}

	// Wait for the background dispatch to finish.
	srv.wg.Wait()
	if act.calls.Load() != 1 {
		t.Errorf("expected 1 activation, got %d", act.calls.Load())
	}
}

func TestEventsEndpoint_NonQualifyingIgnored(t *testing.T) {
	srv, act, ts := newTestServer(t)

	payload := `{"Records":[{"eventSource":"aws:s3","s3":{"bucket":{"name":"b"},"object":{"key":"output/prod/old.csv"}}}]}`
	resp, err := http.Post(ts.URL+"/events", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var counts map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		t.Fatal(err)
	}
	if counts["accepted"] != 0 {
		t.Errorf("expected 0 accepted, got %d", counts["accepted"])
	}

	srv.wg.Wait()
	if act.calls.Load() != 0 {
		t.Errorf("activator must not be invoked, got %d", act.calls.Load())
	}
}

func TestEventsEndpoint_BadPayload(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/events", "application/json", strings.NewReader("not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRunsEndpoint(t *testing.T) {
	srv, _, ts := newTestServer(t)

	rec := history.Record{RunID: "r-1", InstanceID: "i-1", Stage: "done", StartedAt: time.Now()}
	if err := srv.store.Append(rec); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/runs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var records []history.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].RunID != "r-1" {
		t.Errorf("unexpected records: %+v", records)
	}
}

// Package api exposes the event listener surface: upload notifications in,
// health and run history out.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/batchline/batchline/internal/history"
	"github.com/batchline/batchline/internal/trigger"
)

const maxNotificationBytes = 1 << 20

// Server receives S3 event notifications and forwards them to the trigger
// listener. Pipeline work runs in the background; the event source gets an
// immediate accept.
type Server struct {
	listener *trigger.Listener
	store    *history.Store
	logger   *slog.Logger
	port     int
	server   *http.Server

	wg sync.WaitGroup
}

// New creates the listener server.
func New(listener *trigger.Listener, store *history.Store, logger *slog.Logger, port int) *Server {
	return &Server{
		listener: listener,
		store:    store,
		logger:   logger,
		port:     port,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.handler(),
	}

	s.logger.Info("starting event listener", "port", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.handleEvents)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	return requestLogger(s.logger, mux)
}

// Shutdown stops accepting events and waits for in-flight runs.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "reading body")
		return
	}

	events, err := trigger.ParseNotification(body)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted := 0
	for _, ev := range events {
		if !s.listener.Qualifies(ev) {
			continue
		}
		accepted++
		s.wg.Add(1)
		go func(ev trigger.UploadEvent) {
			defer s.wg.Done()
			s.dispatch(ev)
		}(ev)
	}

	jsonResponse(w, http.StatusAccepted, map[string]int{
		"received": len(events),
		"accepted": accepted,
	})
}

// dispatch runs one event through the listener and records the outcome.
// The pipeline itself logs and alerts; redelivery is the event source's
// concern, so errors terminate here.
func (s *Server) dispatch(ev trigger.UploadEvent) {
	outcome, run, err := s.listener.OnUpload(context.Background(), ev)
	if err != nil {
		s.logger.Warn("upload handling failed", "key", ev.Key, "outcome", string(outcome), "error", err)
	}
	if run == nil {
		return
	}
	if recErr := s.store.Append(history.FromRun(run)); recErr != nil {
		s.logger.Error("recording run failed", "run_id", run.ID, "error", recErr)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRuns(w http.ResponseWriter, _ *http.Request) {
	records, err := s.store.Recent(20)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	jsonResponse(w, http.StatusOK, records)
}

// Package trigger maps raw upload events to runner activations, filtering
// out everything that is not a qualifying raw-data upload.
package trigger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/batchline/batchline/internal/config"
	"github.com/batchline/batchline/internal/pipeline"
)

// UploadEvent is one object upload as delivered by the event source.
type UploadEvent struct {
	Bucket    string
	Key       string
	EventTime time.Time
}

// Outcome reports what the listener did with an event.
type Outcome string

const (
	Invoked Outcome = "invoked"
	Ignored Outcome = "ignored"
)

// Activator starts the runner instance and executes the pipeline for a
// qualifying event.
type Activator interface {
	Activate(ctx context.Context, ev UploadEvent) (*pipeline.Run, error)
}

// Listener filters upload events and forwards qualifying ones. It performs
// no retries itself; redelivery policy belongs to the event source.
type Listener struct {
	cfg       *config.Config
	activator Activator
	logger    *slog.Logger
}

// NewListener creates a listener over the configured raw prefix and
// extension.
func NewListener(cfg *config.Config, activator Activator, logger *slog.Logger) *Listener {
	return &Listener{cfg: cfg, activator: activator, logger: logger}
}

// Qualifies reports whether the event is an upload the pipeline should
// react to: correct bucket, raw prefix, and file extension.
func (l *Listener) Qualifies(ev UploadEvent) bool {
	if ev.Bucket != "" && ev.Bucket != l.cfg.Data.Bucket {
		return false
	}
	if !strings.HasPrefix(ev.Key, l.cfg.Data.RawPrefix) {
		return false
	}
	return strings.HasSuffix(strings.ToLower(ev.Key), l.cfg.Trigger.Extension)
}

// OnUpload handles one event. Non-qualifying events are Ignored with no
// side effect; qualifying ones are forwarded to the activator.
func (l *Listener) OnUpload(ctx context.Context, ev UploadEvent) (Outcome, *pipeline.Run, error) {
	if !l.Qualifies(ev) {
		l.logger.Debug("ignoring upload", "bucket", ev.Bucket, "key", ev.Key)
		return Ignored, nil, nil
	}

	l.logger.Info("qualifying upload", "bucket", ev.Bucket, "key", ev.Key)
	run, err := l.activator.Activate(ctx, ev)
	if err != nil {
		return Invoked, run, err
	}
	return Invoked, run, nil
}

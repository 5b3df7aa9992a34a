// Package worker runs model loading and inference on a dedicated
// goroutine reachable only through ordered command and event channels.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/gostt-live/internal/metrics"
	"github.com/chaz8081/gostt-live/internal/sterr"
	"github.com/chaz8081/gostt-live/internal/transcribe"
)

// ErrNotInitialized is reported for transcribe commands that arrive before
// a model session is ready.
var ErrNotInitialized = errors.New("worker: model not initialized")

// ErrStopped is returned by Post after Run has exited.
var ErrStopped = errors.New("worker: stopped")

// Options configures channel capacities.
type Options struct {
	InboxSize  int
	OutboxSize int
}

// Worker owns the ModelSession and the loaded model.
type Worker struct {
	loader  *Loader
	log     *slog.Logger
	metrics *metrics.Metrics

	inbox  chan Command
	outbox chan Event
	done   chan struct{}

	// Only touched by the Run goroutine.
	session *ModelSession
	model   transcribe.Model
}

// New creates a Worker. Call Run to start processing.
func New(loader *Loader, opts Options, logger *slog.Logger, m *metrics.Metrics) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 16
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 64
	}
	return &Worker{
		loader:  loader,
		log:     logger.With("component", "worker"),
		metrics: m,
		inbox:   make(chan Command, opts.InboxSize),
		outbox:  make(chan Event, opts.OutboxSize),
		done:    make(chan struct{}),
		session: &ModelSession{State: StateUninitialized},
	}
}

// Post queues a command. Commands are handled in the order posted.
func (w *Worker) Post(ctx context.Context, cmd Command) error {
	select {
	case <-w.done:
		return ErrStopped
	default:
	}
	select {
	case w.inbox <- cmd:
		return nil
	case <-w.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the outbound event stream. It is closed when Run exits.
func (w *Worker) Events() <-chan Event {
	return w.outbox
}

// Run processes commands until ctx is done. It releases the loaded model
// before returning.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.outbox)
	defer close(w.done)
	defer w.closeModel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-w.inbox:
			switch cmd.Type {
			case CommandLoadModel:
				w.load(ctx, cmd)
			case CommandTranscribe:
				w.transcribe(ctx, cmd)
			default:
				w.log.Warn("unknown command dropped", "type", cmd.Type, "timestamp", cmd.Timestamp, "kind", sterr.KindProtocol)
			}
		}
	}
}

func (w *Worker) emit(ctx context.Context, ev Event) {
	select {
	case w.outbox <- ev:
	case <-ctx.Done():
	}
}

func (w *Worker) load(ctx context.Context, cmd Command) {
	w.closeModel()
	w.session = &ModelSession{ModelID: cmd.ModelID, State: StateLoading}
	w.metrics.SetModelReady(false)

	loaded, err := w.loader.Load(ctx, cmd.ModelID, func(ev Event) { w.emit(ctx, ev) })
	if err != nil {
		w.session.State = StateFailed
		w.log.Error("model load failed", "requested", cmd.ModelID, "error", err)
		w.emit(ctx, Event{Type: EventError, Status: StatusFailed, Message: err.Error()})
		return
	}

	w.model = loaded.Model
	w.session = &ModelSession{ModelID: loaded.Candidate.ID, Device: loaded.Device, State: StateReady}
	w.metrics.SetModelReady(true)
	w.emit(ctx, Event{
		Type:     EventLoading,
		Status:   StatusReady,
		Progress: 100,
		Message:  fmt.Sprintf("%s ready on %s", loaded.Candidate.Label, loaded.Device),
		Model:    loaded.Candidate.ID,
		Device:   string(loaded.Device),
	})
}

func (w *Worker) transcribe(ctx context.Context, cmd Command) {
	if !w.session.Ready() {
		w.emit(ctx, Event{Type: EventError, Message: ErrNotInitialized.Error(), Timestamp: cmd.Timestamp})
		return
	}
	if len(cmd.Samples) == 0 {
		w.emit(ctx, Event{Type: EventResult, Text: "", Timestamp: cmd.Timestamp})
		return
	}

	w.emit(ctx, Event{Type: EventTranscribing, Timestamp: cmd.Timestamp})

	start := time.Now()
	res, err := w.infer(ctx, cmd)
	if err != nil {
		w.log.Warn("transcription failed", "timestamp", cmd.Timestamp, "error", err)
		w.emit(ctx, Event{Type: EventError, Message: err.Error(), Timestamp: cmd.Timestamp})
		return
	}
	w.log.Debug("transcription done", "timestamp", cmd.Timestamp, "samples", len(cmd.Samples), "elapsed", time.Since(start))
	w.emit(ctx, Event{Type: EventResult, Text: res.Text, Timestamp: cmd.Timestamp, Chunks: toChunks(res.Chunks)})
}

// infer calls the model and turns a panic into an error so one bad
// segment cannot take the worker down.
func (w *Worker) infer(ctx context.Context, cmd Command) (res transcribe.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: transcription panic: %v", r)
		}
	}()
	return w.model.Transcribe(ctx, cmd.Samples, transcribe.Options{
		Language:         cmd.Language,
		Task:             cmd.Task,
		ReturnTimestamps: cmd.ReturnTimestamps,
	})
}

func (w *Worker) closeModel() {
	if w.model == nil {
		return
	}
	if err := w.model.Close(); err != nil {
		w.log.Warn("closing model", "error", err)
	}
	w.model = nil
}

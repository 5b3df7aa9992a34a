// Package pipeline connects finished segments to the transcription queue
// and the worker's events back to the queue and the transcript.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/chaz8081/gostt-live/internal/queue"
	"github.com/chaz8081/gostt-live/internal/segment"
	"github.com/chaz8081/gostt-live/internal/sterr"
	"github.com/chaz8081/gostt-live/internal/transcribe"
	"github.com/chaz8081/gostt-live/internal/transcript"
	"github.com/chaz8081/gostt-live/internal/worker"
)

// Worker is the pipeline's view of the transcription worker.
type Worker interface {
	queue.Dispatcher
	Events() <-chan worker.Event
}

// Phase is a coarse model loading state for display.
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseReady       Phase = "ready"
	PhaseFailed      Phase = "failed"
)

// Status describes model loading progress.
type Status struct {
	Phase    Phase
	Progress float64
	Message  string
	Model    string
	Device   string
	// Forced marks a progress stream completed by the loader's bounds
	// while the model is still initializing.
	Forced bool
}

// Options configures a Pipeline.
type Options struct {
	Transcribe transcribe.Options
	Sinks      []transcript.Sink
	OnStatus   func(Status)
	Logger     *slog.Logger
	Queue      *queue.Queue // optional; built from the worker when nil
}

// Pipeline owns the queue and the transcript list.
type Pipeline struct {
	w        Worker
	q        *queue.Queue
	list     *transcript.List
	sinks    []transcript.Sink
	onStatus func(Status)
	log      *slog.Logger

	// submit orders HandleSegment against Reset, so a segment is either
	// enqueued under the current generation or not at all.
	submit sync.Mutex

	mu          sync.Mutex
	generation  uint64
	loadWaiters []chan error

	pending sync.WaitGroup
}

// New creates a Pipeline around w.
func New(w Worker, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	q := opts.Queue
	if q == nil {
		q = queue.New(w, opts.Transcribe, logger, nil)
	}
	return &Pipeline{
		w:        w,
		q:        q,
		list:     &transcript.List{},
		sinks:    opts.Sinks,
		onStatus: opts.OnStatus,
		log:      logger.With("component", "pipeline"),
	}
}

// Transcript returns the accumulated transcript.
func (p *Pipeline) Transcript() *transcript.List { return p.list }

// Queue returns the transcription queue.
func (p *Pipeline) Queue() *queue.Queue { return p.q }

// Run pumps worker events until the event stream closes or ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	events := p.w.Events()
	for {
		select {
		case <-ctx.Done():
			p.stop(ctx.Err())
			return nil
		case ev, ok := <-events:
			if !ok {
				p.stop(worker.ErrStopped)
				return nil
			}
			p.handleEvent(ev)
		}
	}
}

func (p *Pipeline) handleEvent(ev worker.Event) {
	switch ev.Type {
	case worker.EventLoading:
		phase := PhaseDownloading
		if ev.Status == worker.StatusReady {
			phase = PhaseReady
		}
		p.status(Status{Phase: phase, Progress: ev.Progress, Message: ev.Message, Model: ev.Model, Device: ev.Device, Forced: ev.Forced})
		if ev.Status == worker.StatusReady && !ev.Forced {
			p.q.SetReady(true)
			p.log.Info("model ready", "model", ev.Model, "device", ev.Device)
			p.resolveLoads(nil)
		}

	case worker.EventTranscribing:
		p.log.Debug("transcribing", "timestamp", ev.Timestamp)

	case worker.EventResult:
		p.q.OnResult(ev.Timestamp, ev.Text, ev.Chunks)

	case worker.EventError:
		if ev.Status == worker.StatusFailed {
			p.q.SetReady(false)
			err := sterr.New(sterr.KindModelLoad, "pipeline.load", ev.Message)
			p.log.Error("model load failed", "error", err)
			p.status(Status{Phase: PhaseFailed, Message: ev.Message})
			p.resolveLoads(err)
			return
		}
		p.q.OnError(ev.Timestamp, ev.Message)

	default:
		p.log.Warn("unknown worker event dropped", "type", ev.Type, "kind", sterr.KindProtocol)
	}
}

// LoadModel asks the worker to load id (or the fallback list when empty)
// and waits for the model to become ready or for the cascade to fail.
// Run must be pumping events.
func (p *Pipeline) LoadModel(ctx context.Context, id string) error {
	p.q.SetReady(false)

	ch := make(chan error, 1)
	p.mu.Lock()
	p.loadWaiters = append(p.loadWaiters, ch)
	p.mu.Unlock()

	if err := p.w.Post(ctx, worker.LoadModel(id)); err != nil {
		p.removeWaiter(ch)
		return sterr.Wrap(sterr.KindModelLoad, "pipeline.load", "posting load command", err)
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		p.removeWaiter(ch)
		return ctx.Err()
	}
}

// HandleSegment queues seg for transcription. The returned channel is
// closed once the segment is transcribed or recorded as an error entry.
// Segments are enqueued before HandleSegment returns, so calls made in
// order are transcribed in order.
func (p *Pipeline) HandleSegment(seg segment.Segment) <-chan struct{} {
	done := make(chan struct{})

	p.submit.Lock()
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()
	reply, err := p.q.Enqueue(seg)
	p.submit.Unlock()

	if err != nil {
		p.record(gen, seg, "", err)
		close(done)
		return done
	}

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		defer close(done)
		rep := <-reply
		p.record(gen, seg, rep.Text, rep.Err)
	}()
	return done
}

// Reset clears the transcript and rejects queued segments. Replies for
// segments handled before the reset are discarded.
func (p *Pipeline) Reset() {
	p.submit.Lock()
	defer p.submit.Unlock()

	p.mu.Lock()
	p.generation++
	p.list.Reset()
	p.mu.Unlock()
	p.q.Reset()
}

// Wait blocks until every handled segment has been recorded or discarded.
func (p *Pipeline) Wait() {
	p.pending.Wait()
}

func (p *Pipeline) record(gen uint64, seg segment.Segment, text string, err error) {
	ts := seg.Timestamp()
	if errors.Is(err, queue.ErrReset) {
		p.log.Debug("segment dropped by reset", "timestamp", ts)
		return
	}

	var entry transcript.Entry
	switch {
	case err != nil:
		p.log.Warn("segment failed", "timestamp", ts, "seq", seg.Seq, "error", err)
		entry = transcript.NewEntry(err.Error(), ts, seg.Seq, true)
	case strings.TrimSpace(text) == "":
		p.log.Debug("empty transcription", "timestamp", ts)
		return
	default:
		entry = transcript.NewEntry(strings.TrimSpace(text), ts, seg.Seq, false)
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		p.log.Debug("stale reply discarded", "timestamp", ts)
		return
	}
	p.list.Add(entry)
	p.mu.Unlock()

	for _, s := range p.sinks {
		if err := s.Deliver(entry); err != nil {
			p.log.Warn("transcript sink failed", "error", err)
		}
	}
}

func (p *Pipeline) status(s Status) {
	if p.onStatus != nil {
		p.onStatus(s)
	}
}

// stop fails pending loads and segments once events stop flowing.
func (p *Pipeline) stop(cause error) {
	p.failLoads(cause)
	p.q.Fail(sterr.Wrap(sterr.KindTranscription, "pipeline.run", "worker stopped", cause))
}

func (p *Pipeline) resolveLoads(err error) {
	p.mu.Lock()
	waiters := p.loadWaiters
	p.loadWaiters = nil
	p.mu.Unlock()
	for _, ch := range waiters {
		ch <- err
	}
}

func (p *Pipeline) failLoads(err error) {
	p.mu.Lock()
	waiters := p.loadWaiters
	p.loadWaiters = nil
	p.mu.Unlock()
	for _, ch := range waiters {
		ch <- sterr.Wrap(sterr.KindModelLoad, "pipeline.load", "worker stopped", err)
	}
}

func (p *Pipeline) removeWaiter(ch chan error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.loadWaiters {
		if w == ch {
			p.loadWaiters = append(p.loadWaiters[:i:i], p.loadWaiters[i+1:]...)
			return
		}
	}
}

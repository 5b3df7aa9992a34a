// Package queue serializes segment transcriptions onto the worker with at
// most one request outstanding, correlating replies by segment timestamp.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/gostt-live/internal/audio"
	"github.com/chaz8081/gostt-live/internal/metrics"
	"github.com/chaz8081/gostt-live/internal/segment"
	"github.com/chaz8081/gostt-live/internal/sterr"
	"github.com/chaz8081/gostt-live/internal/transcribe"
	"github.com/chaz8081/gostt-live/internal/worker"
)

var (
	// ErrNotReady is returned by Enqueue while no model session is loaded.
	ErrNotReady = errors.New("queue: model not ready")
	// ErrReset rejects requests dropped by Reset.
	ErrReset = errors.New("queue: reset")
)

// Dispatcher delivers commands to the worker. *worker.Worker implements it.
type Dispatcher interface {
	Post(ctx context.Context, cmd worker.Command) error
}

// Reply is the outcome of one request. Exactly one Reply is sent per
// enqueued segment.
type Reply struct {
	Text      string
	Timestamp int64
	Chunks    []worker.Chunk
	Err       error
}

type request struct {
	seg      segment.Segment
	ts       int64
	reply    chan Reply
	enqueued time.Time
	settled  bool // guarded by Queue.mu
}

// Queue is a FIFO of transcription requests.
type Queue struct {
	dispatcher Dispatcher
	opts       transcribe.Options
	log        *slog.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	ready   bool
	waiting []*request
	// inFlight stays set after Reset until the worker answers, so a new
	// request is never dispatched alongside an abandoned one.
	inFlight *request
}

// New creates a Queue that tags every command with opts.
func New(d Dispatcher, opts transcribe.Options, logger *slog.Logger, m *metrics.Metrics) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		dispatcher: d,
		opts:       opts,
		log:        logger.With("component", "queue"),
		metrics:    m,
	}
}

// SetReady records whether a model session is loaded.
func (q *Queue) SetReady(ready bool) {
	q.mu.Lock()
	q.ready = ready
	q.mu.Unlock()
}

// Ready reports whether Enqueue will accept segments.
func (q *Queue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready
}

// Len returns the number of requests still waiting for a reply.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *Queue) lenLocked() int {
	n := len(q.waiting)
	if q.inFlight != nil && !q.inFlight.settled {
		n++
	}
	return n
}

// InFlight reports whether a command is outstanding at the worker.
func (q *Queue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight != nil
}

// Enqueue appends seg and dispatches it when the worker is idle. The
// returned channel receives exactly one Reply.
func (q *Queue) Enqueue(seg segment.Segment) (<-chan Reply, error) {
	q.mu.Lock()
	if !q.ready {
		q.mu.Unlock()
		return nil, ErrNotReady
	}
	r := &request{
		seg:      seg,
		ts:       seg.Timestamp(),
		reply:    make(chan Reply, 1),
		enqueued: time.Now(),
	}
	q.waiting = append(q.waiting, r)
	q.publishLocked()
	q.mu.Unlock()

	q.processNext()
	return r.reply, nil
}

// OnResult resolves the request keyed by timestamp.
func (q *Queue) OnResult(timestamp int64, text string, chunks []worker.Chunk) {
	q.complete(timestamp, Reply{Text: text, Timestamp: timestamp, Chunks: chunks})
}

// OnError rejects the request keyed by timestamp.
func (q *Queue) OnError(timestamp int64, message string) {
	q.complete(timestamp, Reply{
		Timestamp: timestamp,
		Err:       sterr.New(sterr.KindTranscription, "worker.transcribe", message),
	})
}

// Reset rejects every pending request with ErrReset. An outstanding
// command keeps the worker slot until its reply arrives and is dropped.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, r := range q.waiting {
		q.settleLocked(r, Reply{Timestamp: r.ts, Err: ErrReset})
	}
	q.waiting = nil
	if q.inFlight != nil {
		q.settleLocked(q.inFlight, Reply{Timestamp: q.inFlight.ts, Err: ErrReset})
	}
	q.publishLocked()
}

// Fail rejects every pending request with err and marks the queue not
// ready. It is used once the worker is gone, so the outstanding slot is
// released as well.
func (q *Queue) Fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ready = false
	for _, r := range q.waiting {
		q.settleLocked(r, Reply{Timestamp: r.ts, Err: err})
	}
	q.waiting = nil
	if r := q.inFlight; r != nil {
		q.inFlight = nil
		q.settleLocked(r, Reply{Timestamp: r.ts, Err: err})
	}
	q.publishLocked()
}

func (q *Queue) complete(ts int64, rep Reply) {
	q.mu.Lock()

	if r := q.inFlight; r != nil && r.ts == ts {
		q.inFlight = nil
		if r.settled {
			q.log.Debug("reply for reset request dropped", "timestamp", ts)
			q.metrics.RecordUnmatchedReply()
		} else {
			q.settleLocked(r, rep)
		}
		q.publishLocked()
		q.mu.Unlock()
		q.processNext()
		return
	}

	for i, r := range q.waiting {
		if r.ts != ts {
			continue
		}
		q.waiting = append(q.waiting[:i:i], q.waiting[i+1:]...)
		q.settleLocked(r, rep)
		q.publishLocked()
		q.mu.Unlock()
		return
	}

	q.mu.Unlock()
	q.metrics.RecordUnmatchedReply()
	q.log.Warn("unmatched reply dropped",
		"timestamp", ts,
		"kind", sterr.KindProtocol,
		"error", rep.Err,
	)
}

// processNext dispatches the head request when nothing is outstanding.
// Decode and dispatch failures reject that request and move on.
func (q *Queue) processNext() {
	for {
		q.mu.Lock()
		if q.inFlight != nil || len(q.waiting) == 0 {
			q.mu.Unlock()
			return
		}
		r := q.waiting[0]
		q.waiting = q.waiting[1:]
		q.inFlight = r
		q.publishLocked()
		q.mu.Unlock()

		samples, err := audio.Canonical(r.seg.Audio)
		if err == nil {
			err = q.dispatcher.Post(context.Background(), worker.Transcribe(samples, r.ts, q.opts))
		}
		if err == nil {
			q.log.Debug("dispatched", "timestamp", r.ts, "seq", r.seg.Seq, "samples", len(samples))
			return
		}

		q.log.Warn("dispatch failed", "timestamp", r.ts, "error", err)
		q.mu.Lock()
		if q.inFlight == r {
			q.inFlight = nil
		}
		q.settleLocked(r, Reply{
			Timestamp: r.ts,
			Err:       sterr.Wrap(sterr.KindTranscription, "queue.dispatch", "segment not dispatched", err),
		})
		q.publishLocked()
		q.mu.Unlock()
	}
}

func (q *Queue) settleLocked(r *request, rep Reply) {
	if r.settled {
		return
	}
	r.settled = true
	r.reply <- rep
	if !errors.Is(rep.Err, ErrReset) {
		q.metrics.RecordTranscription(rep.Err == nil, time.Since(r.enqueued).Seconds())
	}
}

func (q *Queue) publishLocked() {
	q.metrics.SetQueue(q.lenLocked(), q.inFlight != nil)
}

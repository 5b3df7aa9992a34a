package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/gostt-live/internal/models"
	"github.com/chaz8081/gostt-live/internal/transcribe"
)

var errNoWeights = errors.New("no weights for this tier")

type fakeModel struct {
	text     string
	err      error
	panicMsg string
	calls    atomic.Int32
	closed   atomic.Bool
}

func (m *fakeModel) Transcribe(ctx context.Context, samples []float32, opts transcribe.Options) (transcribe.Result, error) {
	m.calls.Add(1)
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.err != nil {
		return transcribe.Result{}, m.err
	}
	res := transcribe.Result{Text: m.text}
	if opts.ReturnTimestamps {
		res.Chunks = []transcribe.Chunk{{Text: m.text, Start: 0, End: 1500 * time.Millisecond}}
	}
	return res, nil
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

type loadFunc func(ctx context.Context, progress func(float64)) (transcribe.Model, error)

// fakeBackend fails every candidate/device pair without an entry in loads.
type fakeBackend struct {
	mu    sync.Mutex
	loads map[string]loadFunc
	calls []string
}

func (b *fakeBackend) Load(ctx context.Context, c models.Candidate, device models.Device, progress func(float64)) (transcribe.Model, error) {
	key := c.ID + "/" + string(device)
	b.mu.Lock()
	b.calls = append(b.calls, key)
	f, ok := b.loads[key]
	b.mu.Unlock()
	if !ok {
		return nil, errNoWeights
	}
	return f(ctx, progress)
}

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func returns(m transcribe.Model) loadFunc {
	return func(context.Context, func(float64)) (transcribe.Model, error) { return m, nil }
}

// eventLog collects notifications that may arrive from timer goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) notify(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

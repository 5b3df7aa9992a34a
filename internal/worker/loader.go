package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/gostt-live/internal/metrics"
	"github.com/chaz8081/gostt-live/internal/models"
	"github.com/chaz8081/gostt-live/internal/transcribe"
)

// Default loader bounds.
const (
	DefaultForceCompleteAfter   = 45 * time.Second
	DefaultMaxProgressCallbacks = 1000
	DefaultProgressEvery        = 10
)

// LoaderOptions configures the fallback cascade.
type LoaderOptions struct {
	Fallback             []string
	Timeouts             models.Timeouts
	ForceCompleteAfter   time.Duration
	MaxProgressCallbacks int
	ProgressEvery        int
}

func (o *LoaderOptions) withDefaults() {
	if o.Timeouts == (models.Timeouts{}) {
		o.Timeouts = models.DefaultTimeouts()
	}
	if o.ForceCompleteAfter <= 0 {
		o.ForceCompleteAfter = DefaultForceCompleteAfter
	}
	if o.MaxProgressCallbacks <= 0 {
		o.MaxProgressCallbacks = DefaultMaxProgressCallbacks
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = DefaultProgressEvery
	}
}

// AttemptError records one failed candidate/device load.
type AttemptError struct {
	Model  string
	Device models.Device
	Err    error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Model, e.Device, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// LoadError is returned when every candidate on every device failed.
type LoadError struct {
	Attempts []*AttemptError
}

func (e *LoadError) Error() string {
	if len(e.Attempts) == 0 {
		return "worker: no model candidates configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("worker: all %d model load attempts failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// Unwrap exposes every attempt error to errors.Is and errors.As.
func (e *LoadError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a
	}
	return errs
}

// Loaded is a successful cascade outcome.
type Loaded struct {
	Candidate models.Candidate
	Device    models.Device
	Model     transcribe.Model
}

// Loader walks candidates and device tiers until a backend load succeeds.
type Loader struct {
	backend transcribe.Backend
	opts    LoaderOptions
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewLoader creates a Loader. m may be nil.
func NewLoader(backend transcribe.Backend, opts LoaderOptions, logger *slog.Logger, m *metrics.Metrics) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	opts.withDefaults()
	return &Loader{
		backend: backend,
		opts:    opts,
		log:     logger.With("component", "loader"),
		metrics: m,
	}
}

// Load tries requested (if set) and then each fallback candidate, each on
// the accelerated tier before the generic one. notify receives loading
// events for every attempt.
func (l *Loader) Load(ctx context.Context, requested string, notify func(Event)) (Loaded, error) {
	candidates := models.Cascade(requested, l.opts.Fallback)
	loadErr := &LoadError{}

	for _, c := range candidates {
		for _, device := range models.Devices {
			if err := ctx.Err(); err != nil {
				loadErr.Attempts = append(loadErr.Attempts, &AttemptError{Model: c.ID, Device: device, Err: err})
				return Loaded{}, loadErr
			}

			start := time.Now()
			model, err := l.attempt(ctx, c, device, notify)
			l.metrics.RecordLoadAttempt(c.ID, string(device), err == nil)
			if err != nil {
				l.log.Warn("model load attempt failed", "model", c.ID, "device", device, "elapsed", time.Since(start), "error", err)
				loadErr.Attempts = append(loadErr.Attempts, &AttemptError{Model: c.ID, Device: device, Err: err})
				continue
			}
			l.log.Info("model loaded", "model", c.ID, "device", device, "elapsed", time.Since(start))
			return Loaded{Candidate: c, Device: device, Model: model}, nil
		}
	}
	return Loaded{}, loadErr
}

// attempt runs one backend load under its size-class timeout. Progress
// starts at 0 for every attempt.
func (l *Loader) attempt(ctx context.Context, c models.Candidate, device models.Device, notify func(Event)) (transcribe.Model, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeouts.For(c.Size))
	defer cancel()

	label := fmt.Sprintf("%s (%s)", c.ID, device)
	progressEvent := func(p float64) Event {
		return Event{
			Type:     EventLoading,
			Status:   StatusDownloading,
			Progress: p,
			Message:  "loading " + label,
			Model:    c.ID,
			Device:   string(device),
		}
	}
	notify(progressEvent(0))

	guard := &settleOnce{}
	forceComplete := func(reason string) {
		guard.settleWith(func() {
			l.metrics.RecordForcedCompletion()
			l.log.Warn("forcing load progress completion", "model", c.ID, "device", device, "reason", reason)
			notify(Event{
				Type:     EventLoading,
				Status:   StatusReady,
				Progress: 100,
				Message:  "loading " + label + " (still initializing)",
				Forced:   true,
				Model:    c.ID,
				Device:   string(device),
			})
		})
	}

	timer := time.AfterFunc(l.opts.ForceCompleteAfter, func() { forceComplete("timer") })
	defer timer.Stop()

	progress := func(p float64) {
		exceeded := false
		guard.tick(func(n int) {
			if n > l.opts.MaxProgressCallbacks {
				exceeded = true
				return
			}
			if n == 1 || p >= 100 || n%l.opts.ProgressEvery == 0 {
				notify(progressEvent(p))
			}
		})
		if exceeded {
			forceComplete("max progress callbacks")
		}
	}

	model, err := l.backend.Load(ctx, c, device, progress)
	guard.settleWith(nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, fmt.Errorf("worker: load timed out after %v: %w", l.opts.Timeouts.For(c.Size), err)
		}
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("worker: backend returned no model")
	}
	return model, nil
}

// settleOnce serializes an attempt's progress stream against forced and
// natural completion. Once settled, every later effect is dropped.
type settleOnce struct {
	mu      sync.Mutex
	settled bool
	calls   int
}

// tick counts a progress callback and runs f with the count while the
// stream is still open.
func (s *settleOnce) tick(f func(n int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return
	}
	s.calls++
	f(s.calls)
}

// settleWith marks the stream settled and runs f if this call settled it.
func (s *settleOnce) settleWith(f func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return false
	}
	s.settled = true
	if f != nil {
		f()
	}
	return true
}

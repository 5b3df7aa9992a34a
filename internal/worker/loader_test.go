package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/chaz8081/gostt-live/internal/metrics"
	"github.com/chaz8081/gostt-live/internal/models"
	"github.com/chaz8081/gostt-live/internal/transcribe"
)

func TestLoaderCascadeOrder(t *testing.T) {
	model := &fakeModel{}
	backend := &fakeBackend{loads: map[string]loadFunc{
		"base.en/accelerated": returns(model),
	}}
	m := metrics.New()
	loader := NewLoader(backend, LoaderOptions{Fallback: []string{"base.en", "tiny.en"}}, nil, m)

	var log eventLog
	loaded, err := loader.Load(context.Background(), "small.en", log.notify)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Candidate.ID != "base.en" || loaded.Device != models.DeviceAccelerated {
		t.Errorf("loaded %s/%s, want base.en/accelerated", loaded.Candidate.ID, loaded.Device)
	}
	if loaded.Model != model {
		t.Error("loaded model is not the backend's model")
	}

	want := []string{"small.en/accelerated", "small.en/generic", "base.en/accelerated"}
	got := backend.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Progress restarts at zero for each attempt.
	starts := 0
	for _, ev := range log.all() {
		if ev.Status == StatusDownloading && ev.Progress == 0 {
			starts++
		}
	}
	if starts != 3 {
		t.Errorf("attempt start events = %d, want 3", starts)
	}

	if got := testutil.ToFloat64(m.LoadAttempts.WithLabelValues("small.en", "generic", "failed")); got != 1 {
		t.Errorf("failed attempts for small.en/generic = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LoadAttempts.WithLabelValues("base.en", "accelerated", "ready")); got != 1 {
		t.Errorf("ready attempts for base.en/accelerated = %v, want 1", got)
	}
}

func TestLoaderAllAttemptsFail(t *testing.T) {
	backend := &fakeBackend{}
	loader := NewLoader(backend, LoaderOptions{Fallback: []string{"base.en", "tiny.en"}}, nil, nil)

	_, err := loader.Load(context.Background(), "", func(Event) {})
	if err == nil {
		t.Fatal("Load() should fail when every attempt fails")
	}

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("error %T is not *LoadError", err)
	}
	if len(loadErr.Attempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(loadErr.Attempts))
	}
	if !errors.Is(err, errNoWeights) {
		t.Error("errors.Is(err, errNoWeights) = false")
	}
	if loadErr.Attempts[1].Model != "base.en" || loadErr.Attempts[1].Device != models.DeviceGeneric {
		t.Errorf("attempt[1] = %s/%s, want base.en/generic", loadErr.Attempts[1].Model, loadErr.Attempts[1].Device)
	}
}

func TestLoaderNoCandidates(t *testing.T) {
	loader := NewLoader(&fakeBackend{}, LoaderOptions{}, nil, nil)
	_, err := loader.Load(context.Background(), "", func(Event) {})
	var loadErr *LoadError
	if !errors.As(err, &loadErr) || len(loadErr.Attempts) != 0 {
		t.Fatalf("Load() error = %v, want empty *LoadError", err)
	}
}

func TestLoaderTimeoutFallsThrough(t *testing.T) {
	model := &fakeModel{}
	backend := &fakeBackend{loads: map[string]loadFunc{
		"tiny.en/accelerated": func(ctx context.Context, _ func(float64)) (transcribe.Model, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		"tiny.en/generic": returns(model),
	}}
	loader := NewLoader(backend, LoaderOptions{
		Fallback: []string{"tiny.en"},
		Timeouts: models.Timeouts{Small: 30 * time.Millisecond, Medium: time.Second, Large: time.Second},
	}, nil, nil)

	loaded, err := loader.Load(context.Background(), "", func(Event) {})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Device != models.DeviceGeneric {
		t.Errorf("device = %s, want generic", loaded.Device)
	}
}

func TestLoaderCanceledContext(t *testing.T) {
	backend := &fakeBackend{}
	loader := NewLoader(backend, LoaderOptions{Fallback: []string{"tiny.en"}}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loader.Load(ctx, "", func(Event) {})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
	if len(backend.Calls()) != 0 {
		t.Errorf("backend called %v after cancel", backend.Calls())
	}
}

func TestLoaderForceCompletionTimer(t *testing.T) {
	model := &fakeModel{}
	backend := &fakeBackend{loads: map[string]loadFunc{
		"tiny.en/accelerated": func(ctx context.Context, progress func(float64)) (transcribe.Model, error) {
			progress(10)
			time.Sleep(150 * time.Millisecond)
			progress(50)
			progress(100)
			return model, nil
		},
	}}
	m := metrics.New()
	loader := NewLoader(backend, LoaderOptions{
		Fallback:           []string{"tiny.en"},
		ForceCompleteAfter: 20 * time.Millisecond,
	}, nil, m)

	var log eventLog
	loaded, err := loader.Load(context.Background(), "", log.notify)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Model != model {
		t.Error("real model should still be returned after forced completion")
	}

	events := log.all()
	if len(events) != 3 {
		t.Fatalf("events = %+v, want start, first progress, forced ready", events)
	}
	if events[1].Progress != 10 {
		t.Errorf("first progress = %v, want 10", events[1].Progress)
	}
	forced := events[2]
	if !forced.Forced || forced.Status != StatusReady || forced.Progress != 100 {
		t.Errorf("last event = %+v, want forced ready/100", forced)
	}
	if got := testutil.ToFloat64(m.ForcedCompletions); got != 1 {
		t.Errorf("forced completions = %v, want 1", got)
	}
}

func TestLoaderForceCompletionMaxCallbacks(t *testing.T) {
	backend := &fakeBackend{loads: map[string]loadFunc{
		"tiny.en/accelerated": func(ctx context.Context, progress func(float64)) (transcribe.Model, error) {
			for i := 1; i <= 20; i++ {
				progress(float64(i))
			}
			return &fakeModel{}, nil
		},
	}}
	loader := NewLoader(backend, LoaderOptions{
		Fallback:             []string{"tiny.en"},
		ForceCompleteAfter:   time.Hour,
		MaxProgressCallbacks: 5,
	}, nil, nil)

	var log eventLog
	if _, err := loader.Load(context.Background(), "", log.notify); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	events := log.all()
	if len(events) != 3 {
		t.Fatalf("events = %+v, want start, first progress, forced ready", events)
	}
	if events[1].Progress != 1 {
		t.Errorf("first progress = %v, want 1", events[1].Progress)
	}
	if !events[2].Forced {
		t.Errorf("last event = %+v, want forced", events[2])
	}
}

func TestLoaderProgressThrottle(t *testing.T) {
	backend := &fakeBackend{loads: map[string]loadFunc{
		"tiny.en/accelerated": func(ctx context.Context, progress func(float64)) (transcribe.Model, error) {
			for i := 1; i <= 25; i++ {
				progress(float64(i))
			}
			progress(100)
			return &fakeModel{}, nil
		},
	}}
	loader := NewLoader(backend, LoaderOptions{
		Fallback:           []string{"tiny.en"},
		ForceCompleteAfter: time.Hour,
	}, nil, nil)

	var log eventLog
	if _, err := loader.Load(context.Background(), "", log.notify); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []float64{0, 1, 10, 20, 100}
	events := log.all()
	if len(events) != len(want) {
		t.Fatalf("events = %+v, want progress %v", events, want)
	}
	for i, ev := range events {
		if ev.Progress != want[i] || ev.Forced {
			t.Errorf("event[%d] = %+v, want progress %v unforced", i, ev, want[i])
		}
	}
}

func TestSettleOnce(t *testing.T) {
	var s settleOnce
	ran := 0
	if !s.settleWith(func() { ran++ }) {
		t.Fatal("first settleWith() = false")
	}
	if s.settleWith(func() { ran++ }) {
		t.Error("second settleWith() = true")
	}
	s.tick(func(int) { ran++ })
	if ran != 1 {
		t.Errorf("effects ran %d times, want 1", ran)
	}
}

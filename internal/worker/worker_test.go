package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/gostt-live/internal/transcribe"
)

// startWorker runs a worker until the test ends.
func startWorker(t *testing.T, backend *fakeBackend) *Worker {
	t.Helper()
	loader := NewLoader(backend, LoaderOptions{Fallback: []string{"tiny.en"}, ForceCompleteAfter: time.Hour}, nil, nil)
	w := New(loader, Options{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

// next returns the next event whose type is one of types.
func next(t *testing.T, w *Worker, types ...EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				t.Fatal("event stream closed")
			}
			for _, typ := range types {
				if ev.Type == typ {
					return ev
				}
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v", types)
		}
	}
}

// waitReady posts a load and consumes events through the unforced ready.
func waitReady(t *testing.T, w *Worker) {
	t.Helper()
	if err := w.Post(context.Background(), LoadModel("")); err != nil {
		t.Fatal(err)
	}
	for {
		ev := next(t, w, EventLoading, EventError)
		if ev.Type == EventError {
			t.Fatalf("load failed: %s", ev.Message)
		}
		if ev.Status == StatusReady && !ev.Forced {
			return
		}
	}
}

func TestWorkerTranscribeBeforeLoad(t *testing.T) {
	w := startWorker(t, &fakeBackend{})
	if err := w.Post(context.Background(), Transcribe([]float32{0.1}, 1234, transcribe.Options{})); err != nil {
		t.Fatal(err)
	}
	ev := next(t, w, EventError, EventResult)
	if ev.Type != EventError || ev.Message != ErrNotInitialized.Error() || ev.Timestamp != 1234 {
		t.Errorf("event = %+v, want not-initialized error for 1234", ev)
	}
}

func TestWorkerLoadAndTranscribe(t *testing.T) {
	model := &fakeModel{text: "hello world"}
	w := startWorker(t, &fakeBackend{loads: map[string]loadFunc{"tiny.en/accelerated": returns(model)}})
	waitReady(t, w)

	opts := transcribe.Options{Language: "en", Task: "transcribe", ReturnTimestamps: true}
	if err := w.Post(context.Background(), Transcribe([]float32{0.1, 0.2}, 500, opts)); err != nil {
		t.Fatal(err)
	}

	ev := next(t, w, EventTranscribing, EventResult, EventError)
	if ev.Type != EventTranscribing {
		t.Fatalf("first event = %+v, want transcribing", ev)
	}
	ev = next(t, w, EventResult, EventError)
	if ev.Type != EventResult || ev.Text != "hello world" || ev.Timestamp != 500 {
		t.Errorf("event = %+v, want result hello world @500", ev)
	}
	if len(ev.Chunks) != 1 || ev.Chunks[0].End != 1.5 {
		t.Errorf("chunks = %+v, want one chunk ending at 1.5s", ev.Chunks)
	}
}

func TestWorkerEmptySamplesSkipModel(t *testing.T) {
	model := &fakeModel{text: "unused"}
	w := startWorker(t, &fakeBackend{loads: map[string]loadFunc{"tiny.en/accelerated": returns(model)}})
	waitReady(t, w)

	if err := w.Post(context.Background(), Transcribe(nil, 777, transcribe.Options{})); err != nil {
		t.Fatal(err)
	}
	ev := next(t, w, EventResult, EventError)
	if ev.Type != EventResult || ev.Text != "" || ev.Timestamp != 777 {
		t.Errorf("event = %+v, want empty result @777", ev)
	}
	if model.calls.Load() != 0 {
		t.Errorf("model called %d times, want 0", model.calls.Load())
	}
}

func TestWorkerInferenceFailureKeepsTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		model   *fakeModel
		wantMsg string
	}{
		{"error", &fakeModel{err: errors.New("decoder exploded")}, "decoder exploded"},
		{"panic", &fakeModel{panicMsg: "nil tensor"}, "panic: nil tensor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := startWorker(t, &fakeBackend{loads: map[string]loadFunc{"tiny.en/accelerated": returns(tt.model)}})
			waitReady(t, w)

			if err := w.Post(context.Background(), Transcribe([]float32{0.3}, 42, transcribe.Options{})); err != nil {
				t.Fatal(err)
			}
			ev := next(t, w, EventResult, EventError)
			if ev.Type != EventError || ev.Timestamp != 42 || !strings.Contains(ev.Message, tt.wantMsg) {
				t.Errorf("event = %+v, want error @42 containing %q", ev, tt.wantMsg)
			}

			// The worker keeps serving after a failure.
			tt.model.err, tt.model.panicMsg, tt.model.text = nil, "", "recovered"
			if err := w.Post(context.Background(), Transcribe([]float32{0.3}, 43, transcribe.Options{})); err != nil {
				t.Fatal(err)
			}
			ev = next(t, w, EventResult, EventError)
			if ev.Type != EventResult || ev.Timestamp != 43 {
				t.Errorf("event = %+v, want result @43", ev)
			}
		})
	}
}

func TestWorkerLoadFailure(t *testing.T) {
	w := startWorker(t, &fakeBackend{})
	if err := w.Post(context.Background(), LoadModel("base.en")); err != nil {
		t.Fatal(err)
	}
	ev := next(t, w, EventError)
	if ev.Status != StatusFailed || ev.Timestamp != 0 {
		t.Errorf("load error = %+v, want failed status without timestamp", ev)
	}
	if !strings.Contains(ev.Message, "model load attempts failed") {
		t.Errorf("message = %q", ev.Message)
	}

	if err := w.Post(context.Background(), Transcribe([]float32{0.1}, 9, transcribe.Options{})); err != nil {
		t.Fatal(err)
	}
	ev = next(t, w, EventError, EventResult)
	if ev.Message != ErrNotInitialized.Error() {
		t.Errorf("event = %+v, want not-initialized", ev)
	}
}

func TestWorkerReloadClosesPreviousModel(t *testing.T) {
	first := &fakeModel{}
	backend := &fakeBackend{loads: map[string]loadFunc{"tiny.en/accelerated": returns(first)}}
	w := startWorker(t, backend)
	waitReady(t, w)

	second := &fakeModel{}
	backend.mu.Lock()
	backend.loads["tiny.en/accelerated"] = returns(second)
	backend.mu.Unlock()
	waitReady(t, w)

	if !first.closed.Load() {
		t.Error("previous model not closed on reload")
	}
}

func TestWorkerPostAfterStop(t *testing.T) {
	loader := NewLoader(&fakeBackend{}, LoaderOptions{}, nil, nil)
	w := New(loader, Options{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = w.Run(ctx)

	if err := w.Post(context.Background(), LoadModel("")); !errors.Is(err, ErrStopped) {
		t.Errorf("Post() after stop = %v, want ErrStopped", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("event stream should be closed")
	}
}

func TestWorkerDropsUnknownCommand(t *testing.T) {
	w := startWorker(t, &fakeBackend{})
	if err := w.Post(context.Background(), Command{Type: "bogus"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Post(context.Background(), Transcribe([]float32{0.1}, 77, transcribe.Options{})); err != nil {
		t.Fatal(err)
	}

	// The first event answers the transcribe command; the unknown one
	// produced nothing.
	select {
	case ev := <-w.Events():
		if ev.Type != EventError || ev.Timestamp != 77 || ev.Status == StatusFailed {
			t.Errorf("event = %+v, want not-initialized error @77", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event for transcribe command")
	}
}

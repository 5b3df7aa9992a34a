// Package transcribe provides speech-to-text backends.
//
// Supported backends:
//   - whisper: whisper.cpp via Go bindings (build tag whispercpp)
//   - stub: deterministic placeholder text, no model files needed
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/gostt-live/internal/models"
)

// ErrWhisperUnavailable is returned when the binary was built without
// whisper.cpp support.
var ErrWhisperUnavailable = errors.New("transcribe: whisper backend not compiled in (build with -tags whispercpp)")

// Options are per-request decoding settings.
type Options struct {
	Language         string
	Task             string // "transcribe" or "translate"
	ReturnTimestamps bool
}

// Chunk is a timed piece of a transcript.
type Chunk struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Result is the output of one transcription.
type Result struct {
	Text   string
	Chunks []Chunk
}

// Model is a loaded speech model.
type Model interface {
	// Transcribe converts mono 16kHz float32 samples to text.
	Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error)
	// Close releases backend resources.
	Close() error
}

// Backend loads models for a candidate on a device tier. progress
// receives percentages in [0, 100] and may be called from any goroutine.
type Backend interface {
	Load(ctx context.Context, c models.Candidate, device models.Device, progress func(float64)) (Model, error)
}

// New creates a Backend by name.
func New(name string, store *models.Store, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch name {
	case "whisper", "":
		return NewWhisperBackend(store, logger)
	case "stub":
		return NewStubBackend(logger), nil
	default:
		return nil, fmt.Errorf("transcribe: unknown backend %q (supported: whisper, stub)", name)
	}
}

package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/gostt-live/internal/models"
)

// StubBackend produces deterministic transcripts without a real model.
type StubBackend struct {
	log *slog.Logger
}

// NewStubBackend returns a Backend whose models describe their input
// instead of transcribing it.
func NewStubBackend(logger *slog.Logger) *StubBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubBackend{log: logger.With("component", "transcribe.stub")}
}

// Load implements Backend.
func (b *StubBackend) Load(ctx context.Context, c models.Candidate, device models.Device, progress func(float64)) (Model, error) {
	for _, p := range []float64{0, 50, 100} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if progress != nil {
			progress(p)
		}
	}
	b.log.Warn("stub backend in use; transcripts are placeholders", "model", c.ID, "device", device)
	return &stubModel{id: c.ID, log: b.log}, nil
}

type stubModel struct {
	id  string
	log *slog.Logger
}

func (m *stubModel) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	dur := time.Duration(len(samples)) * time.Second / 16000
	text := fmt.Sprintf("[stub:%s] %.2fs of audio", m.id, dur.Seconds())
	m.log.Debug("stub transcript", "samples", len(samples), "language", opts.Language)

	res := Result{Text: text}
	if opts.ReturnTimestamps {
		res.Chunks = []Chunk{{Text: text, Start: 0, End: dur}}
	}
	return res, nil
}

func (m *stubModel) Close() error { return nil }

//go:build whispercpp

package transcribe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/chaz8081/gostt-live/internal/models"
)

// WhisperAvailable reports whether the whisper.cpp backend is compiled in.
func WhisperAvailable() bool { return true }

// WhisperBackend loads ggml models through whisper.cpp.
type WhisperBackend struct {
	store *models.Store
	log   *slog.Logger
}

// NewWhisperBackend returns a Backend that fetches weights through store.
func NewWhisperBackend(store *models.Store, logger *slog.Logger) (Backend, error) {
	if store == nil {
		return nil, fmt.Errorf("transcribe: whisper backend needs a model store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WhisperBackend{store: store, log: logger.With("component", "transcribe.whisper")}, nil
}

// Load implements Backend. Download progress is forwarded; opening the
// weights reports nothing until it completes.
func (b *WhisperBackend) Load(ctx context.Context, c models.Candidate, device models.Device, progress func(float64)) (Model, error) {
	path, err := b.store.Resolve(ctx, c, device, progress)
	if err != nil {
		return nil, fmt.Errorf("transcribe: resolve %s/%s: %w", c.ID, device, err)
	}

	type loaded struct {
		model whisper.Model
		err   error
	}
	done := make(chan loaded, 1)
	go func() {
		m, err := whisper.New(path)
		done <- loaded{m, err}
	}()

	select {
	case l := <-done:
		if l.err != nil {
			return nil, fmt.Errorf("transcribe: load whisper model %q: %w", path, l.err)
		}
		b.log.Info("whisper model loaded", "model", c.ID, "device", device, "path", path)
		return &whisperModel{model: l.model}, nil
	case <-ctx.Done():
		// whisper.New cannot be interrupted; release the handle if it shows up later.
		go func() {
			if l := <-done; l.err == nil {
				_ = l.model.Close()
			}
		}()
		return nil, fmt.Errorf("transcribe: load whisper model %q: %w", path, ctx.Err())
	}
}

type whisperModel struct {
	model whisper.Model
}

func (m *whisperModel) Close() error {
	if m.model != nil {
		return m.model.Close()
	}
	return nil
}

func (m *whisperModel) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	wctx, err := m.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: create context: %w", err)
	}

	if opts.Language != "" {
		if err := wctx.SetLanguage(opts.Language); err != nil {
			return Result{}, fmt.Errorf("transcribe: set language %q: %w", opts.Language, err)
		}
	}
	wctx.SetTranslate(opts.Task == "translate")

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("transcribe: process: %w", err)
	}

	var (
		texts  []string
		chunks []Chunk
	)
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("transcribe: next segment: %w", err)
		}
		texts = append(texts, seg.Text)
		if opts.ReturnTimestamps {
			chunks = append(chunks, Chunk{Text: strings.TrimSpace(seg.Text), Start: seg.Start, End: seg.End})
		}
	}

	return Result{Text: strings.TrimSpace(strings.Join(texts, " ")), Chunks: chunks}, nil
}

// Package session drives one microphone recording: capture, framing, the
// voice activity gate and the segment recorder.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/gostt-live/internal/audio"
	"github.com/chaz8081/gostt-live/internal/metrics"
	"github.com/chaz8081/gostt-live/internal/segment"
	"github.com/chaz8081/gostt-live/internal/sterr"
	"github.com/chaz8081/gostt-live/internal/vad"
)

// ErrRunning is returned by Start while a recording is active.
var ErrRunning = errors.New("session: already recording")

// Target receives finished segments. *pipeline.Pipeline implements it.
type Target interface {
	HandleSegment(segment.Segment) <-chan struct{}
	Reset()
}

// Options configures a Session.
type Options struct {
	Gate          vad.Options
	Scorer        vad.Scorer
	PreRollFrames int
	Language      string
	// ChunkBuffer bounds capture callbacks waiting for processing;
	// overflow is dropped.
	ChunkBuffer int
	// Now reads the wall clock when recording starts. Segment start times
	// are that instant plus the stream position of the speech-start frame.
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Session records from one audio source.
type Session struct {
	src     audio.Source
	target  Target
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	framer *vad.Framer
	gate   *vad.Gate
	rec    *segment.Recorder

	// Owned by the processing goroutine while running.
	startedAt   time.Time
	samplesSeen int64

	dropped atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds an idle session.
func New(src audio.Source, target Target, opts Options) (*Session, error) {
	if opts.Scorer == nil {
		opts.Scorer = vad.EnergyScorer{Reference: 0.05}
	}
	if opts.ChunkBuffer <= 0 {
		opts.ChunkBuffer = 64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{
		src:     src,
		target:  target,
		opts:    opts,
		log:     opts.Logger.With("component", "session"),
		metrics: opts.Metrics,
		framer:  vad.NewFramer(opts.Gate.FrameSamples),
	}

	rec, err := segment.NewRecorder(segment.Options{
		SampleRate:    audio.CanonicalSampleRate,
		Channels:      1,
		Language:      opts.Language,
		PreRollFrames: opts.PreRollFrames,
		Now:           s.streamTime,
	}, s.emit)
	if err != nil {
		return nil, err
	}
	s.rec = rec

	gate, err := vad.NewGate(opts.Gate, opts.Scorer, vad.Callbacks{
		OnSpeechStart: func() {
			s.metrics.RecordSpeechStart()
			s.log.Debug("speech start")
			s.rec.Start()
		},
		OnSpeechEnd: func() {
			s.metrics.RecordSpeechEnd()
			if _, err := s.rec.End(); err != nil {
				s.log.Error("finalizing segment", "error", err)
			}
		},
		OnMisfire: func() {
			s.metrics.RecordMisfire()
			s.log.Debug("speech misfire")
			s.rec.Discard()
		},
		OnFrame: func(float32, vad.State) {
			s.metrics.RecordFrame()
		},
	})
	if err != nil {
		return nil, err
	}
	gate.Pause()
	s.gate = gate
	return s, nil
}

// Start acquires the microphone and begins gating audio.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}

	rate, channels := s.src.Format()
	chunks := make(chan []float32, s.opts.ChunkBuffer)

	s.framer.Reset()
	s.rec.Discard()
	s.startedAt = s.opts.Now()
	s.samplesSeen = 0
	s.gate.Resume()

	err := s.src.Start(func(data []float32) {
		select {
		case chunks <- data:
		default:
			s.dropped.Add(1)
			s.metrics.RecordChunkDropped()
		}
	})
	if err != nil {
		s.gate.Pause()
		return sterr.Wrap(sterr.KindPermission, "session.start", "microphone unavailable", err)
	}

	procCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go s.process(procCtx, chunks, int(rate), int(channels), done)

	s.running = true
	s.cancel = cancel
	s.done = done
	s.log.Info("recording started", "sample_rate", rate, "channels", channels)
	return nil
}

// Stop pauses the gate, tears down capture and drops any segment in
// progress. Segments already handed off keep transcribing.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	s.gate.Pause()
	err := s.src.Stop()
	s.cancel()
	<-s.done

	s.rec.Discard()
	s.framer.Reset()
	s.log.Info("recording stopped", "dropped_chunks", s.dropped.Load())
	if err != nil {
		return sterr.Wrap(sterr.KindPermission, "session.stop", "stopping capture", err)
	}
	return nil
}

// Reset stops recording and clears the transcript downstream.
func (s *Session) Reset() error {
	err := s.Stop()
	s.target.Reset()
	return err
}

// Running reports whether the microphone is being recorded.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Dropped returns how many capture chunks were dropped because
// processing fell behind.
func (s *Session) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Session) process(ctx context.Context, chunks <-chan []float32, rate, channels int, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-chunks:
			s.framer.Push(audio.ToCanonical(chunk, rate, channels), s.frame)
		}
	}
}

// frame scores f before recording it, so the frame that starts speech
// opens the segment and the one that ends it goes to the pre-roll ring.
func (s *Session) frame(f []float32) {
	if err := s.gate.Process(f); err != nil {
		s.log.Warn("scoring frame", "error", err)
	}
	s.rec.Write(f)
	s.samplesSeen += int64(len(f))
}

// streamTime is the wall-clock time of the frame being processed.
func (s *Session) streamTime() time.Time {
	offset := time.Duration(s.samplesSeen) * time.Second / audio.CanonicalSampleRate
	return s.startedAt.Add(offset)
}

func (s *Session) emit(seg segment.Segment) {
	s.metrics.RecordSegment(seg.Duration.Seconds(), len(seg.Audio))
	s.log.Info("segment ready", "seq", seg.Seq, "start", seg.Start, "duration", seg.Duration)
	s.target.HandleSegment(seg)
}

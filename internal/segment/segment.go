// Package segment buffers captured audio between speech-start and
// speech-end and hands each finished span to a handler as a WAV payload.
package segment

import (
	"fmt"
	"sync"
	"time"

	"github.com/chaz8081/gostt-live/internal/audio"
)

// Segment is one contiguous span of speech.
type Segment struct {
	Audio    []byte // WAV payload
	Start    time.Time
	Duration time.Duration
	Language string
	Seq      uint64
}

// Timestamp returns Start in Unix milliseconds. It is the key the
// transcription queue correlates replies with.
func (s Segment) Timestamp() int64 {
	return s.Start.UnixMilli()
}

// Handler receives finalized segments.
type Handler func(Segment)

// Options configures a Recorder.
type Options struct {
	SampleRate int
	Channels   int
	Language   string
	// PreRollFrames is how many of the most recent writes made while idle
	// are kept and prepended to the next segment.
	PreRollFrames int
	// Now stamps segment start times. Defaults to time.Now.
	Now func() time.Time
}

// Recorder accumulates samples while speech is active.
type Recorder struct {
	opts    Options
	handler Handler

	mu        sync.Mutex
	capturing bool
	start     time.Time
	buf       []float32
	preRoll   [][]float32
	seq       uint64
}

// NewRecorder creates an idle recorder.
func NewRecorder(opts Options, handler Handler) (*Recorder, error) {
	if opts.SampleRate <= 0 || opts.Channels <= 0 {
		return nil, fmt.Errorf("segment: invalid format %dHz/%dch", opts.SampleRate, opts.Channels)
	}
	if handler == nil {
		return nil, fmt.Errorf("segment: handler is required")
	}
	if opts.PreRollFrames < 0 {
		opts.PreRollFrames = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{opts: opts, handler: handler}, nil
}

// Start begins a new segment. Calling Start while already capturing is a
// no-op, so duplicate speech-start events cannot split a segment.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capturing {
		return
	}
	r.buf = r.buf[:0]
	for _, chunk := range r.preRoll {
		r.buf = append(r.buf, chunk...)
	}
	r.preRoll = r.preRoll[:0]
	r.start = r.opts.Now()
	r.capturing = true
}

// Write appends samples to the active segment, or to the pre-roll ring
// while idle.
func (r *Recorder) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capturing {
		r.buf = append(r.buf, samples...)
		return
	}
	if r.opts.PreRollFrames == 0 {
		return
	}
	chunk := append([]float32(nil), samples...)
	if len(r.preRoll) == r.opts.PreRollFrames {
		copy(r.preRoll, r.preRoll[1:])
		r.preRoll[len(r.preRoll)-1] = chunk
		return
	}
	r.preRoll = append(r.preRoll, chunk)
}

// End finalizes the active segment and passes it to the handler. End while
// idle does nothing and returns false.
func (r *Recorder) End() (bool, error) {
	r.mu.Lock()
	if !r.capturing {
		r.mu.Unlock()
		return false, nil
	}
	r.capturing = false
	samples := r.buf
	r.buf = nil
	start := r.start
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	payload, err := audio.EncodeWAV(samples, r.opts.SampleRate, r.opts.Channels)
	if err != nil {
		return false, fmt.Errorf("segment: assemble: %w", err)
	}

	frames := len(samples) / r.opts.Channels
	r.handler(Segment{
		Audio:    payload,
		Start:    start,
		Duration: time.Duration(frames) * time.Second / time.Duration(r.opts.SampleRate),
		Language: r.opts.Language,
		Seq:      seq,
	})
	return true, nil
}

// Discard drops the active segment without calling the handler.
func (r *Recorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capturing = false
	r.buf = r.buf[:0]
}

// Capturing reports whether a segment is being recorded.
func (r *Recorder) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturing
}

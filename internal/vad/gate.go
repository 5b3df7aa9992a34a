// Package vad classifies audio frames as speech or non-speech and turns the
// per-frame probabilities into speech-start, speech-end and misfire events
// using two thresholds and frame-count hysteresis.
package vad

import (
	"fmt"
	"sync"
)

// Defaults tuned for 32ms frames at 16 kHz.
const (
	DefaultPositiveThreshold float32 = 0.5
	DefaultNegativeThreshold float32 = 0.35
	DefaultMinSpeechFrames           = 9
	DefaultRedemptionFrames          = 24
	DefaultFrameSamples              = 512
)

// State is the gate's position in the speech state machine.
type State int

const (
	StateListening State = iota
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Gate.
type Options struct {
	PositiveThreshold float32
	NegativeThreshold float32
	MinSpeechFrames   int
	RedemptionFrames  int
	FrameSamples      int
}

// DefaultOptions returns the default gate options.
func DefaultOptions() Options {
	return Options{
		PositiveThreshold: DefaultPositiveThreshold,
		NegativeThreshold: DefaultNegativeThreshold,
		MinSpeechFrames:   DefaultMinSpeechFrames,
		RedemptionFrames:  DefaultRedemptionFrames,
		FrameSamples:      DefaultFrameSamples,
	}
}

// Validate checks threshold ordering and frame counts.
func (o Options) Validate() error {
	if o.PositiveThreshold < 0 || o.PositiveThreshold > 1 {
		return fmt.Errorf("vad: positive threshold must be within [0, 1], got %v", o.PositiveThreshold)
	}
	if o.NegativeThreshold < 0 || o.NegativeThreshold > o.PositiveThreshold {
		return fmt.Errorf("vad: negative threshold must be within [0, %v], got %v", o.PositiveThreshold, o.NegativeThreshold)
	}
	if o.MinSpeechFrames < 1 {
		return fmt.Errorf("vad: min speech frames must be >= 1, got %d", o.MinSpeechFrames)
	}
	if o.RedemptionFrames < 1 {
		return fmt.Errorf("vad: redemption frames must be >= 1, got %d", o.RedemptionFrames)
	}
	if o.FrameSamples <= 0 {
		return fmt.Errorf("vad: frame samples must be > 0, got %d", o.FrameSamples)
	}
	return nil
}

// Callbacks receive gate events synchronously from Process. Any may be nil.
type Callbacks struct {
	OnSpeechStart func()
	OnSpeechEnd   func()
	OnMisfire     func()
	// OnFrame observes every scored frame.
	OnFrame func(probability float32, state State)
}

// Gate is the hysteresis state machine. It performs no I/O.
type Gate struct {
	opts   Options
	scorer Scorer
	cb     Callbacks

	mu                sync.Mutex
	state             State
	paused            bool
	speechFrames      int
	redemptionCounter int
}

// NewGate validates opts and returns a listening gate.
func NewGate(opts Options, scorer Scorer, cb Callbacks) (*Gate, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, fmt.Errorf("vad: scorer is required")
	}
	return &Gate{opts: opts, scorer: scorer, cb: cb}, nil
}

// Options returns the gate configuration.
func (g *Gate) Options() Options {
	return g.opts
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Process scores one frame and advances the state machine. Frames are
// ignored while paused.
func (g *Gate) Process(frame []float32) error {
	p, err := g.scorer.Score(frame)
	if err != nil {
		return fmt.Errorf("vad: score frame: %w", err)
	}
	g.Observe(p)
	return nil
}

// Observe advances the state machine with an already computed probability.
func (g *Gate) Observe(p float32) {
	g.mu.Lock()
	if g.paused {
		g.mu.Unlock()
		return
	}

	var fire func()
	switch {
	case p >= g.opts.PositiveThreshold:
		g.redemptionCounter = 0
		if g.state == StateListening {
			g.state = StateSpeaking
			g.speechFrames = 0
			fire = g.cb.OnSpeechStart
		}
		g.speechFrames++

	case p < g.opts.NegativeThreshold && g.state == StateSpeaking:
		g.redemptionCounter++
		if g.redemptionCounter >= g.opts.RedemptionFrames {
			if g.speechFrames >= g.opts.MinSpeechFrames {
				fire = g.cb.OnSpeechEnd
			} else {
				fire = g.cb.OnMisfire
			}
			g.resetLocked()
		}
	}
	state := g.state
	g.mu.Unlock()

	if g.cb.OnFrame != nil {
		g.cb.OnFrame(p, state)
	}
	if fire != nil {
		fire()
	}
}

// Pause stops the gate from reacting to frames. Speech in progress is
// abandoned without an event.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
	g.resetLocked()
}

// Resume re-enables frame processing from the listening state.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = false
}

// Paused reports whether the gate is paused.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Reset returns the gate to listening without emitting events.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked()
}

func (g *Gate) resetLocked() {
	g.state = StateListening
	g.speechFrames = 0
	g.redemptionCounter = 0
}

// Package hotkey provides a global hotkey listener using gohook.
// It supports "hold" mode (press to start, release to stop) and
// "toggle" mode (press to start, press again to stop), and drives a
// recording session from the resulting events.
package hotkey

import (
	"context"
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType indicates whether recording should start or stop.
type EventType int

const (
	// EventStart signals that the hotkey was activated (start recording).
	EventStart EventType = iota
	// EventStop signals that the hotkey was deactivated (stop recording).
	EventStop
)

func (t EventType) String() string {
	if t == EventStart {
		return "start"
	}
	return "stop"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Listener manages a global hotkey and emits start/stop events.
type Listener struct {
	keys []string
	mode string // "hold" or "toggle"
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewListener creates a Listener for the given key combo and mode.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "r"]).
func NewListener(keys []string, mode string) *Listener {
	return &Listener{
		keys: keys,
		mode: mode,
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	if l.mode == "toggle" {
		t := &toggler{}
		hook.Register(hook.KeyDown, l.keys, func(hook.Event) {
			l.send(t.press())
		})
	} else {
		hook.Register(hook.KeyDown, l.keys, func(hook.Event) {
			l.send(EventStart)
		})
		hook.Register(hook.KeyUp, l.keys, func(hook.Event) {
			l.send(EventStop)
		})
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// send never blocks the hook callback; events are dropped when full.
func (l *Listener) send(t EventType) {
	select {
	case l.ch <- Event{Type: t}:
	default:
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

// toggler alternates start and stop on each key press.
type toggler struct {
	mu        sync.Mutex
	recording bool
}

func (t *toggler) press() EventType {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recording = !t.recording
	if t.recording {
		return EventStart
	}
	return EventStop
}

// Recorder is what hotkey events control. *session.Session implements it.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() error
}

// Drive starts and stops rec for each event until events closes or ctx
// is done. Start errors are logged and do not end the loop, except
// errors for which fatal returns true, which are returned.
func Drive(ctx context.Context, events <-chan Event, rec Recorder, fatal func(error) bool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "hotkey")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			var err error
			switch ev.Type {
			case EventStart:
				err = rec.Start(ctx)
			case EventStop:
				err = rec.Stop()
			}
			if err == nil {
				log.Debug("hotkey handled", "event", ev.Type)
				continue
			}
			if fatal != nil && fatal(err) {
				return err
			}
			log.Warn("hotkey action failed", "event", ev.Type, "error", err)
		}
	}
}

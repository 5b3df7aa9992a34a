// Package inject types finished transcript entries into the active
// application using robotgo keystroke simulation or clipboard paste.
package inject

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/go-vgo/robotgo"

	"github.com/chaz8081/gostt-live/internal/transcript"
)

// keyboard is the subset of robotgo the injector uses.
type keyboard interface {
	Type(text string)
	ReadAll() (string, error)
	WriteAll(text string) error
	KeyTap(key string, modifier string) error
}

type robotgoKeyboard struct{}

func (robotgoKeyboard) Type(text string) { robotgo.TypeStr(text) }

func (robotgoKeyboard) ReadAll() (string, error) { return robotgo.ReadAll() }

func (robotgoKeyboard) WriteAll(text string) error { return robotgo.WriteAll(text) }

func (robotgoKeyboard) KeyTap(key, modifier string) error { return robotgo.KeyTap(key, modifier) }

// Injector handles typing or pasting text into the active application.
// It implements transcript.Sink.
type Injector struct {
	method string // "type" or "paste"
	kb     keyboard

	mu      sync.Mutex
	started bool
}

// NewInjector creates an Injector with the given method.
// method must be "type" (keystroke simulation) or "paste" (clipboard).
func NewInjector(method string) *Injector {
	return &Injector{method: method, kb: robotgoKeyboard{}}
}

// Deliver injects a transcript entry. Error entries and blank text are
// skipped; consecutive entries are separated by a space.
func (inj *Injector) Deliver(e transcript.Entry) error {
	if e.IsError {
		return nil
	}
	text := strings.TrimSpace(e.Text)
	if text == "" {
		return nil
	}

	inj.mu.Lock()
	defer inj.mu.Unlock()
	if inj.started {
		text = " " + text
	}
	if err := inj.Inject(text); err != nil {
		return err
	}
	inj.started = true
	return nil
}

// Inject sends text to the active application using the configured method.
func (inj *Injector) Inject(text string) error {
	if text == "" {
		return nil
	}

	switch inj.method {
	case "paste":
		return inj.paste(text)
	default: // "type"
		inj.kb.Type(text)
		return nil
	}
}

// paste copies text to the clipboard and pastes it. Faster for long text;
// the previous clipboard is restored afterwards.
func (inj *Injector) paste(text string) error {
	prev, _ := inj.kb.ReadAll()

	if err := inj.kb.WriteAll(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}

	mod := pasteModifier()
	if err := inj.kb.KeyTap("v", mod); err != nil {
		return fmt.Errorf("inject: key tap %s+v: %w", mod, err)
	}

	// Restore previous clipboard (best effort)
	_ = inj.kb.WriteAll(prev)

	return nil
}

func pasteModifier() string {
	if runtime.GOOS == "darwin" {
		return "cmd"
	}
	return "ctrl"
}

var _ transcript.Sink = (*Injector)(nil)

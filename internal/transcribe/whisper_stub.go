//go:build !whispercpp

package transcribe

import (
	"log/slog"

	"github.com/chaz8081/gostt-live/internal/models"
)

// WhisperAvailable reports whether the whisper.cpp backend is compiled in.
func WhisperAvailable() bool { return false }

// NewWhisperBackend returns ErrWhisperUnavailable when whisper.cpp is not built in.
func NewWhisperBackend(*models.Store, *slog.Logger) (Backend, error) {
	return nil, ErrWhisperUnavailable
}

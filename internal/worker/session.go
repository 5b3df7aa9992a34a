package worker

import (
	"fmt"

	"github.com/chaz8081/gostt-live/internal/models"
)

// SessionState is the lifecycle of a ModelSession.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateLoading
	StateReady
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ModelSession describes the model the worker has loaded. It is owned by
// the worker goroutine.
type ModelSession struct {
	ModelID string
	Device  models.Device
	State   SessionState
}

// Ready reports whether transcriptions can run.
func (s *ModelSession) Ready() bool {
	return s != nil && s.State == StateReady
}

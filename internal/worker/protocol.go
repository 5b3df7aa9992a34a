package worker

import "github.com/chaz8081/gostt-live/internal/transcribe"

// CommandType names an inbound worker message.
type CommandType string

const (
	CommandLoadModel  CommandType = "load-model"
	CommandTranscribe CommandType = "transcribe"
)

// Command is a message posted to the worker.
type Command struct {
	Type             CommandType `json:"type"`
	ModelID          string      `json:"modelId,omitempty"`
	Samples          []float32   `json:"samples,omitempty"`
	Language         string      `json:"language,omitempty"`
	Task             string      `json:"task,omitempty"`
	Timestamp        int64       `json:"timestamp,omitempty"`
	ReturnTimestamps bool        `json:"returnTimestamps,omitempty"`
}

// LoadModel builds a load-model command. An empty id loads the first
// fallback candidate.
func LoadModel(id string) Command {
	return Command{Type: CommandLoadModel, ModelID: id}
}

// Transcribe builds a transcribe command keyed by timestamp.
func Transcribe(samples []float32, timestamp int64, opts transcribe.Options) Command {
	return Command{
		Type:             CommandTranscribe,
		Samples:          samples,
		Language:         opts.Language,
		Task:             opts.Task,
		Timestamp:        timestamp,
		ReturnTimestamps: opts.ReturnTimestamps,
	}
}

// EventType names an outbound worker message.
type EventType string

const (
	EventLoading      EventType = "loading"
	EventTranscribing EventType = "transcribing"
	EventResult       EventType = "result"
	EventError        EventType = "error"
)

// LoadStatus is the phase reported by a loading event.
type LoadStatus string

const (
	StatusDownloading LoadStatus = "downloading"
	StatusReady       LoadStatus = "ready"
	// StatusFailed tags the error event sent when every load attempt failed.
	StatusFailed LoadStatus = "failed"
)

// Chunk is a timed transcript piece; Start and End are in seconds.
type Chunk struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Event is a message emitted by the worker.
//
// A loading event with Forced set marks an attempt's progress stream as
// complete before the backend settled; only an unforced ready event means
// the model session is usable. An error event with Status StatusFailed
// reports a failed model load; other error events belong to a segment.
type Event struct {
	Type      EventType  `json:"type"`
	Status    LoadStatus `json:"status,omitempty"`
	Progress  float64    `json:"progress,omitempty"`
	Message   string     `json:"message,omitempty"`
	Forced    bool       `json:"forced,omitempty"`
	Model     string     `json:"model,omitempty"`
	Device    string     `json:"device,omitempty"`
	Text      string     `json:"text"`
	Timestamp int64      `json:"timestamp,omitempty"`
	Chunks    []Chunk    `json:"chunks,omitempty"`
}

func toChunks(in []transcribe.Chunk) []Chunk {
	if len(in) == 0 {
		return nil
	}
	out := make([]Chunk, len(in))
	for i, c := range in {
		out[i] = Chunk{Text: c.Text, Start: c.Start.Seconds(), End: c.End.Seconds()}
	}
	return out
}

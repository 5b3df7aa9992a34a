// Package metrics exposes Prometheus collectors for the capture and
// transcription pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Capture
	ChunksDropped prometheus.Counter

	// Voice activity gate
	FramesProcessed prometheus.Counter
	SpeechStarts    prometheus.Counter
	SpeechEnds      prometheus.Counter
	Misfires        prometheus.Counter

	// Segments
	SegmentsProduced prometheus.Counter
	SegmentDuration  prometheus.Histogram
	SegmentSize      prometheus.Histogram

	// Queue
	QueueDepth       prometheus.Gauge
	InFlight         prometheus.Gauge
	Transcriptions   *prometheus.CounterVec
	TranscribeTime   prometheus.Histogram
	UnmatchedReplies prometheus.Counter

	// Model loading
	LoadAttempts      *prometheus.CounterVec
	ForcedCompletions prometheus.Counter
	ModelReady        prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ChunksDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_capture_chunks_dropped_total",
			Help: "Capture callbacks dropped because the processing goroutine fell behind",
		}),

		FramesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_vad_frames_processed_total",
			Help: "Total number of frames scored by the voice activity gate",
		}),
		SpeechStarts: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_vad_speech_starts_total",
			Help: "Total number of speech-start events",
		}),
		SpeechEnds: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_vad_speech_ends_total",
			Help: "Total number of speech-end events",
		}),
		Misfires: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_vad_misfires_total",
			Help: "Speech starts that ended before the minimum speech length",
		}),

		SegmentsProduced: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_segments_produced_total",
			Help: "Total number of finalized audio segments",
		}),
		SegmentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gostt_segment_duration_seconds",
			Help:    "Duration of finalized audio segments",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),
		SegmentSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gostt_segment_size_bytes",
			Help:    "Encoded size of finalized audio segments",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 12), // 4KB to ~8MB
		}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "gostt_queue_depth",
			Help: "Transcription requests pending, including the one in flight",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "gostt_queue_in_flight",
			Help: "Transcribe commands outstanding to the worker (0 or 1)",
		}),
		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gostt_transcriptions_total",
			Help: "Completed transcription requests by outcome",
		}, []string{"outcome"}),
		TranscribeTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gostt_transcription_duration_seconds",
			Help:    "Time from enqueue to reply",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		UnmatchedReplies: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_queue_unmatched_replies_total",
			Help: "Worker replies whose timestamp matched no pending request",
		}),

		LoadAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gostt_model_load_attempts_total",
			Help: "Model load attempts by candidate, device tier and outcome",
		}, []string{"model", "device", "outcome"}),
		ForcedCompletions: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_model_load_forced_completions_total",
			Help: "Load attempts whose progress stream was force-completed",
		}),
		ModelReady: f.NewGauge(prometheus.GaugeOpts{
			Name: "gostt_model_ready",
			Help: "1 when a model session is ready for transcription",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordChunkDropped counts a capture callback that could not be queued.
func (m *Metrics) RecordChunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}

// RecordFrame counts one scored frame.
func (m *Metrics) RecordFrame() {
	if m == nil {
		return
	}
	m.FramesProcessed.Inc()
}

// RecordSpeechStart counts a speech-start event.
func (m *Metrics) RecordSpeechStart() {
	if m == nil {
		return
	}
	m.SpeechStarts.Inc()
}

// RecordSpeechEnd counts a speech-end event.
func (m *Metrics) RecordSpeechEnd() {
	if m == nil {
		return
	}
	m.SpeechEnds.Inc()
}

// RecordMisfire counts a misfire.
func (m *Metrics) RecordMisfire() {
	if m == nil {
		return
	}
	m.Misfires.Inc()
}

// RecordSegment records a finalized segment.
func (m *Metrics) RecordSegment(durationSeconds float64, sizeBytes int) {
	if m == nil {
		return
	}
	m.SegmentsProduced.Inc()
	m.SegmentDuration.Observe(durationSeconds)
	m.SegmentSize.Observe(float64(sizeBytes))
}

// SetQueue publishes the queue depth and in-flight count.
func (m *Metrics) SetQueue(depth int, inFlight bool) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
	if inFlight {
		m.InFlight.Set(1)
	} else {
		m.InFlight.Set(0)
	}
}

// RecordTranscription records a resolved or rejected request.
func (m *Metrics) RecordTranscription(ok bool, durationSeconds float64) {
	if m == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.Transcriptions.WithLabelValues(outcome).Inc()
	m.TranscribeTime.Observe(durationSeconds)
}

// RecordUnmatchedReply counts a dropped worker reply.
func (m *Metrics) RecordUnmatchedReply() {
	if m == nil {
		return
	}
	m.UnmatchedReplies.Inc()
}

// RecordLoadAttempt records one candidate/device attempt.
func (m *Metrics) RecordLoadAttempt(model, device string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "ready"
	}
	m.LoadAttempts.WithLabelValues(model, device, outcome).Inc()
}

// RecordForcedCompletion counts a force-completed progress stream.
func (m *Metrics) RecordForcedCompletion() {
	if m == nil {
		return
	}
	m.ForcedCompletions.Inc()
}

// SetModelReady publishes whether a model session is ready.
func (m *Metrics) SetModelReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.ModelReady.Set(1)
	} else {
		m.ModelReady.Set(0)
	}
}

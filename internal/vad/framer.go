package vad

// Framer splits a stream of samples into fixed-size frames, carrying any
// remainder over to the next Push.
type Framer struct {
	size    int
	pending []float32
}

// NewFramer returns a Framer emitting frames of size samples.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = DefaultFrameSamples
	}
	return &Framer{size: size, pending: make([]float32, 0, size)}
}

// Push appends samples and calls emit once per completed frame. The frame
// slice passed to emit is only valid for the duration of the call.
func (f *Framer) Push(samples []float32, emit func(frame []float32)) {
	for len(samples) > 0 {
		need := f.size - len(f.pending)
		if need > len(samples) {
			need = len(samples)
		}
		f.pending = append(f.pending, samples[:need]...)
		samples = samples[need:]

		if len(f.pending) == f.size {
			emit(f.pending)
			f.pending = f.pending[:0]
		}
	}
}

// Buffered returns how many samples are waiting for a full frame.
func (f *Framer) Buffered() int {
	return len(f.pending)
}

// Reset drops any partial frame.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}

package audio

// CanonicalSampleRate is the rate transcription models expect.
const CanonicalSampleRate = 16000

// Downmix averages interleaved channels into a mono signal. Mono input is
// returned unchanged.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Resample converts mono samples between rates by nearest-index mapping.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	out := make([]float32, n)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		idx := int(float64(i)*ratio + 0.5)
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		out[i] = samples[idx]
	}
	return out
}

// ToCanonical converts interleaved audio to mono at CanonicalSampleRate.
func ToCanonical(samples []float32, sampleRate, channels int) []float32 {
	return Resample(Downmix(samples, channels), sampleRate, CanonicalSampleRate)
}

// Canonical decodes a WAV payload straight to mono 16 kHz samples.
func Canonical(payload []byte) ([]float32, error) {
	pcm, err := DecodeWAV(payload)
	if err != nil {
		return nil, err
	}
	return ToCanonical(pcm.Samples, pcm.SampleRate, pcm.Channels), nil
}

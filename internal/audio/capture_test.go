package audio

import (
	"testing"
)

func TestNewCaptureAndClose(t *testing.T) {
	c, err := NewCapture(16000, 1)
	if err != nil {
		t.Skipf("no audio context available: %v", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	rate, channels := c.Format()
	if rate != 16000 {
		t.Errorf("sampleRate = %d, want 16000", rate)
	}
	if channels != 1 {
		t.Errorf("channels = %d, want 1", channels)
	}
}

func TestStopWithoutStart(t *testing.T) {
	c, err := NewCapture(16000, 1)
	if err != nil {
		t.Skipf("no audio context available: %v", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Stop(); err != nil {
		t.Errorf("Stop() without Start() error = %v", err)
	}
}

func TestBytesToFloat32(t *testing.T) {
	// 1.0 = 0x3F800000
	data := []byte{0x00, 0x00, 0x80, 0x3F}
	samples := bytesToFloat32(data, 1)

	if len(samples) != 1 {
		t.Fatalf("bytesToFloat32() returned %d samples, want 1", len(samples))
	}
	if samples[0] != 1.0 {
		t.Errorf("bytesToFloat32() = %f, want 1.0", samples[0])
	}
}

func TestBytesToFloat32Multiple(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x00, 0x00, // 0.0
		0x00, 0x00, 0x80, 0xBF, // -1.0
	}
	samples := bytesToFloat32(data, 2)

	if len(samples) != 2 {
		t.Fatalf("bytesToFloat32() returned %d samples, want 2", len(samples))
	}
	if samples[0] != 0.0 {
		t.Errorf("samples[0] = %f, want 0.0", samples[0])
	}
	if samples[1] != -1.0 {
		t.Errorf("samples[1] = %f, want -1.0", samples[1])
	}
}

func TestBytesToFloat32Truncated(t *testing.T) {
	// frameCount claims two samples but only one full sample is present.
	data := []byte{0x00, 0x00, 0x80, 0x3F, 0x00, 0x00}
	samples := bytesToFloat32(data, 2)
	if len(samples) != 1 {
		t.Errorf("bytesToFloat32() returned %d samples, want 1", len(samples))
	}
}

// Package audio captures microphone input and converts it into the
// canonical transcription format (mono float32 at 16 kHz).
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/chaz8081/gostt-live/internal/sterr"
)

// ErrAlreadyCapturing is returned by Start on a running capture.
var ErrAlreadyCapturing = errors.New("audio: already capturing")

// Source delivers interleaved float32 sample chunks from an input device.
type Source interface {
	// Start begins delivering chunks to onData until Stop is called.
	// onData may run on a device thread and must not block.
	Start(onData func(samples []float32)) error
	// Stop ends delivery and releases the device. Safe to call when stopped.
	Stop() error
	// Format reports the sample rate and channel count of delivered chunks.
	Format() (sampleRate, channels uint32)
}

// Capture streams audio from the default microphone via malgo.
type Capture struct {
	ctx        *malgo.AllocatedContext
	sampleRate uint32
	channels   uint32

	mu     sync.Mutex
	device *malgo.Device
	onData func([]float32)
}

var _ Source = (*Capture)(nil)

// NewCapture creates a microphone capture. Call Close() when done.
func NewCapture(sampleRate, channels uint32) (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}

	return &Capture{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// Format implements Source.
func (c *Capture) Format() (uint32, uint32) {
	return c.sampleRate, c.channels
}

// Start opens the default capture device and streams chunks to onData.
// A device that cannot be opened is reported as a permission error, which
// is how the OS surfaces a denied microphone.
func (c *Capture) Start(onData func([]float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return ErrAlreadyCapturing
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = c.channels
	deviceCfg.SampleRate = c.sampleRate

	c.onData = onData
	callbacks := malgo.DeviceCallbacks{
		Data: c.handleData,
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		c.onData = nil
		return sterr.Wrap(sterr.KindPermission, "capture.start", "initializing capture device", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		c.onData = nil
		return sterr.Wrap(sterr.KindPermission, "capture.start", "starting capture device", err)
	}

	c.device = device
	return nil
}

// Stop tears down the capture device. Chunks already delivered are not
// affected.
func (c *Capture) Stop() error {
	c.mu.Lock()
	device := c.device
	c.device = nil
	c.onData = nil
	c.mu.Unlock()

	// Uninit outside the lock: it waits for the device thread, which may be
	// blocked in handleData on c.mu.
	if device != nil {
		device.Uninit()
	}
	return nil
}

// Close releases all audio resources.
func (c *Capture) Close() error {
	if err := c.Stop(); err != nil {
		return err
	}

	if c.ctx != nil {
		if err := c.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninitializing audio context: %w", err)
		}
		c.ctx.Free()
		c.ctx = nil
	}

	return nil
}

// handleData is the malgo callback invoked when audio data is available.
// pSample contains the captured frames as raw little-endian float32 bytes.
func (c *Capture) handleData(_, pSample []byte, frameCount uint32) {
	samples := bytesToFloat32(pSample, frameCount*c.channels)

	c.mu.Lock()
	onData := c.onData
	c.mu.Unlock()

	if onData != nil {
		onData(samples)
	}
}

// bytesToFloat32 converts raw bytes (little-endian float32) to a float32 slice.
func bytesToFloat32(data []byte, sampleCount uint32) []float32 {
	samples := make([]float32, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 4
		if offset+4 > uint32(len(data)) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[offset : offset+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}

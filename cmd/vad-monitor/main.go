// Command vad-monitor is a manual test for the voice activity gate.
// It scores the microphone (or a WAV file) frame by frame and prints
// speech start, end and misfire events. Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/vad-monitor [--file speech.wav] [--verbose]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/gostt-live/internal/audio"
	"github.com/chaz8081/gostt-live/internal/vad"
)

func main() {
	file := flag.String("file", "", "WAV file to scan instead of the microphone")
	positive := flag.Float64("positive", float64(vad.DefaultPositiveThreshold), "probability that starts speech")
	negative := flag.Float64("negative", float64(vad.DefaultNegativeThreshold), "probability below which speech is redeemed")
	minSpeech := flag.Int("min-speech", vad.DefaultMinSpeechFrames, "speech frames needed for a real utterance")
	redemption := flag.Int("redemption", vad.DefaultRedemptionFrames, "quiet frames that end an utterance")
	reference := flag.Float64("reference", 0.05, "RMS level scored as probability 1.0")
	verbose := flag.Bool("verbose", false, "print a meter line for every frame")
	flag.Parse()

	opts := vad.Options{
		PositiveThreshold: float32(*positive),
		NegativeThreshold: float32(*negative),
		MinSpeechFrames:   *minSpeech,
		RedemptionFrames:  *redemption,
		FrameSamples:      vad.DefaultFrameSamples,
	}

	var frames int
	frameTime := func() string {
		d := time.Duration(frames) * time.Duration(opts.FrameSamples) * time.Second / audio.CanonicalSampleRate
		return fmt.Sprintf("%8.2fs", d.Seconds())
	}

	gate, err := vad.NewGate(opts, vad.EnergyScorer{Reference: float32(*reference)}, vad.Callbacks{
		OnFrame: func(p float32, state vad.State) {
			frames++
			if *verbose {
				fmt.Printf("%s %-9s %s %.2f\n", frameTime(), state, strings.Repeat("#", int(p*40)), p)
			}
		},
		OnSpeechStart: func() { fmt.Printf("%s >>> speech start\n", frameTime()) },
		OnSpeechEnd:   func() { fmt.Printf("%s <<< speech end\n", frameTime()) },
		OnMisfire:     func() { fmt.Printf("%s ~~~ misfire\n", frameTime()) },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "vad: %v\n", err)
		os.Exit(1)
	}

	framer := vad.NewFramer(opts.FrameSamples)
	feed := func(samples []float32) {
		framer.Push(samples, func(frame []float32) {
			if err := gate.Process(frame); err != nil {
				fmt.Fprintf(os.Stderr, "scoring frame: %v\n", err)
			}
		})
	}

	if *file != "" {
		if err := scanFile(*file, feed); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Scanned %d frames.\n", frames)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := monitor(ctx, feed); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Println("Done.")
}

func scanFile(path string, feed func([]float32)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	samples, err := audio.Canonical(data)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	feed(samples)
	return nil
}

func monitor(ctx context.Context, feed func([]float32)) error {
	capture, err := audio.NewCapture(audio.CanonicalSampleRate, 1)
	if err != nil {
		return fmt.Errorf("initializing audio capture (check microphone permissions): %w", err)
	}
	defer capture.Close()

	rate, channels := capture.Format()
	chunks := make(chan []float32, 64)
	if err := capture.Start(func(samples []float32) {
		select {
		case chunks <- samples:
		default:
		}
	}); err != nil {
		return fmt.Errorf("starting capture: %w", err)
	}
	defer capture.Stop()

	fmt.Println("Listening on the default microphone...")
	fmt.Println("Press Ctrl+C to exit.")
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down...")
			return nil
		case samples := <-chunks:
			feed(audio.ToCanonical(samples, int(rate), int(channels)))
		}
	}
}

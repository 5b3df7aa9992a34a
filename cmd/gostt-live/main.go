// Command gostt-live records the microphone, cuts speech into segments with
// a voice activity gate and transcribes them in order with a local model.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/gostt-live/internal/audio"
	"github.com/chaz8081/gostt-live/internal/config"
	"github.com/chaz8081/gostt-live/internal/hotkey"
	"github.com/chaz8081/gostt-live/internal/inject"
	"github.com/chaz8081/gostt-live/internal/metrics"
	"github.com/chaz8081/gostt-live/internal/models"
	"github.com/chaz8081/gostt-live/internal/pipeline"
	"github.com/chaz8081/gostt-live/internal/queue"
	"github.com/chaz8081/gostt-live/internal/session"
	"github.com/chaz8081/gostt-live/internal/sterr"
	"github.com/chaz8081/gostt-live/internal/transcribe"
	"github.com/chaz8081/gostt-live/internal/transcript"
	"github.com/chaz8081/gostt-live/internal/vad"
	"github.com/chaz8081/gostt-live/internal/worker"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gostt-live/config.yaml)")
	envPath := flag.String("env", ".env", "optional dotenv file with GOSTT_* overrides")
	modelID := flag.String("model", "", "model to try before the fallback list (e.g. small.en)")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	download := flag.Bool("download", false, "download the configured models and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		} else {
			fmt.Printf("Wrote default config to %s\n", path)
		}
		return
	}

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if *modelID != "" {
		cfg.Model.Requested = *modelID
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := models.NewStore(cfg.Model.Dir)
	if *download {
		if err := downloadModels(ctx, store, cfg); err != nil {
			logger.Error("download failed", "error", err)
			os.Exit(1)
		}
		return
	}

	printBanner(cfg)

	if err := run(ctx, cfg, store, logger); err != nil {
		logger.Error("exiting", "error", err)
		// Exit directly to avoid gohook's C cleanup crash.
		os.Exit(1)
	}
	os.Exit(0)
}

func run(ctx context.Context, cfg *config.Config, store *models.Store, logger *slog.Logger) error {
	m := metrics.New()

	backend, err := transcribe.New(cfg.Model.Backend, store, logger)
	if err != nil {
		return err
	}

	loader := worker.NewLoader(backend, worker.LoaderOptions{
		Fallback: cfg.Model.Fallback,
		Timeouts: models.Timeouts{
			Small:  cfg.Model.Timeouts.Small,
			Medium: cfg.Model.Timeouts.Medium,
			Large:  cfg.Model.Timeouts.Large,
		},
		ForceCompleteAfter:   cfg.Model.ForceCompleteAfter,
		MaxProgressCallbacks: cfg.Model.MaxProgressCallbacks,
		ProgressEvery:        cfg.Model.ProgressEvery,
	}, logger, m)
	w := worker.New(loader, worker.Options{}, logger, m)

	opts := transcribe.Options{
		Language:         cfg.Transcribe.Language,
		Task:             cfg.Transcribe.Task,
		ReturnTimestamps: cfg.Transcribe.ReturnTimestamps,
	}
	q := queue.New(w, opts, logger, m)

	sinks := []transcript.Sink{transcript.SinkFunc(printEntry)}
	if cfg.Inject.Enabled {
		sinks = append(sinks, inject.NewInjector(cfg.Inject.Method))
		logger.Info("text injector ready", "method", cfg.Inject.Method)
	}

	p := pipeline.New(w, pipeline.Options{
		Transcribe: opts,
		Sinks:      sinks,
		OnStatus:   printStatus,
		Logger:     logger,
		Queue:      q,
	})

	capture, err := audio.NewCapture(cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		return fmt.Errorf("initializing audio capture (check microphone permissions): %w", err)
	}
	defer capture.Close()

	sess, err := session.New(capture, p, session.Options{
		Gate: vad.Options{
			PositiveThreshold: cfg.VAD.PositiveThreshold,
			NegativeThreshold: cfg.VAD.NegativeThreshold,
			MinSpeechFrames:   cfg.VAD.MinSpeechFrames,
			RedemptionFrames:  cfg.VAD.RedemptionFrames,
			FrameSamples:      cfg.VAD.FrameSamples,
		},
		Scorer:        vad.EnergyScorer{Reference: cfg.VAD.EnergyReference},
		PreRollFrames: cfg.VAD.PreRollFrames,
		Language:      cfg.Transcribe.Language,
		ChunkBuffer:   cfg.Audio.ChunkBuffer,
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		return err
	}
	defer func() { _ = sess.Stop() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return p.Run(gctx) })

	if cfg.Metrics.ListenAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.ListenAddr, m, logger) })
	}

	g.Go(func() error {
		start := time.Now()
		if err := p.LoadModel(gctx, cfg.Model.Requested); err != nil {
			return err
		}
		logger.Info("model loaded", "elapsed", time.Since(start).Round(time.Millisecond))

		if !cfg.Hotkey.Enabled {
			if err := sess.Start(gctx); err != nil {
				return err
			}
			fmt.Println("Listening. Ctrl+C to quit.")
			<-gctx.Done()
			return nil
		}

		listener := hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.Mode)
		go listener.Start()
		go func() {
			<-gctx.Done()
			listener.Stop()
		}()
		fmt.Println("Ready! Press", strings.Join(cfg.Hotkey.Keys, "+"), "to record. Ctrl+C to quit.")
		return hotkey.Drive(gctx, listener.Events(), sess, isFatal, logger)
	})

	err = g.Wait()

	if text := p.Transcript().Text(); text != "" {
		fmt.Println()
		fmt.Println("=== transcript ===")
		fmt.Println(text)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func isFatal(err error) bool {
	kind, ok := sterr.KindOf(err)
	return ok && kind.Fatal()
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func downloadModels(ctx context.Context, store *models.Store, cfg *config.Config) error {
	fmt.Println("=== Model Download ===")
	fmt.Printf("Models will be downloaded to: %s\n\n", store.Dir)
	for _, c := range models.Cascade(cfg.Model.Requested, cfg.Model.Fallback) {
		for _, device := range models.Devices {
			label := models.FileName(c.ID, device)
			if _, err := store.Resolve(ctx, c, device, models.ConsoleProgress(label)); err != nil {
				return err
			}
		}
	}
	fmt.Println("\nAll models downloaded successfully!")
	return nil
}

func printEntry(e transcript.Entry) error {
	ts := time.UnixMilli(e.Timestamp).Format("15:04:05")
	if e.IsError {
		fmt.Printf("[%s] (failed: %s)\n", ts, e.Text)
		return nil
	}
	fmt.Printf("[%s] %s\n", ts, e.Text)
	return nil
}

func printStatus(s pipeline.Status) {
	switch s.Phase {
	case pipeline.PhaseDownloading:
		fmt.Printf("\r  %s: %.0f%%   ", s.Message, s.Progress)
	case pipeline.PhaseReady:
		fmt.Printf("\r  %s (%s on %s)\n", s.Message, s.Model, s.Device)
	case pipeline.PhaseFailed:
		fmt.Printf("\n  model load failed: %s\n", s.Message)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	requested := cfg.Model.Requested
	if requested == "" {
		requested = "(fallback list)"
	}
	fmt.Println("=== gostt-live ===")
	fmt.Printf("  Model:    %s, fallback %s (%s backend)\n", requested, strings.Join(cfg.Model.Fallback, ", "), cfg.Model.Backend)
	if cfg.Model.Backend == "whisper" && !transcribe.WhisperAvailable() {
		fmt.Println("  Warning:  whisper.cpp not compiled in (build with -tags whispercpp or use backend: stub)")
	}
	fmt.Printf("  Language: %s (%s)\n", cfg.Transcribe.Language, cfg.Transcribe.Task)
	if cfg.Hotkey.Enabled {
		fmt.Printf("  Hotkey:   %s (%s mode)\n", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	} else {
		fmt.Println("  Hotkey:   disabled, recording on start")
	}
	fmt.Printf("  Audio:    %dHz, %dch\n", cfg.Audio.SampleRate, cfg.Audio.Channels)
	fmt.Printf("  VAD:      +%.2f / -%.2f, min %d, redemption %d frames\n",
		cfg.VAD.PositiveThreshold, cfg.VAD.NegativeThreshold, cfg.VAD.MinSpeechFrames, cfg.VAD.RedemptionFrames)
	if cfg.Inject.Enabled {
		fmt.Printf("  Inject:   %s\n", cfg.Inject.Method)
	}
	if cfg.Metrics.ListenAddr != "" {
		fmt.Printf("  Metrics:  http://%s/metrics\n", cfg.Metrics.ListenAddr)
	}
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("==================")
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Audio      AudioConfig      `yaml:"audio"`
	VAD        VADConfig        `yaml:"vad"`
	Model      ModelConfig      `yaml:"model"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Hotkey     HotkeyConfig     `yaml:"hotkey"`
	Inject     InjectConfig     `yaml:"inject"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	LogLevel   string           `yaml:"log_level"`
}

// AudioConfig holds microphone capture settings.
type AudioConfig struct {
	SampleRate uint32 `yaml:"sample_rate"`
	Channels   uint32 `yaml:"channels"`
	// ChunkBuffer is how many capture callbacks may wait for the
	// processing goroutine before new ones are dropped.
	ChunkBuffer int `yaml:"chunk_buffer"`
}

// VADConfig holds voice activity gate settings.
type VADConfig struct {
	PositiveThreshold float32 `yaml:"positive_threshold"`
	NegativeThreshold float32 `yaml:"negative_threshold"`
	MinSpeechFrames   int     `yaml:"min_speech_frames"`
	RedemptionFrames  int     `yaml:"redemption_frames"`
	FrameSamples      int     `yaml:"frame_samples"`
	PreRollFrames     int     `yaml:"pre_roll_frames"`
	// EnergyReference is the RMS level mapped to probability 1.0 by the
	// built-in energy scorer.
	EnergyReference float32 `yaml:"energy_reference"`
}

// ModelConfig holds model loading settings.
type ModelConfig struct {
	Backend              string        `yaml:"backend"` // "whisper" or "stub"
	Requested            string        `yaml:"requested"`
	Fallback             []string      `yaml:"fallback"`
	Dir                  string        `yaml:"dir"`
	ForceCompleteAfter   time.Duration `yaml:"force_complete_after"`
	MaxProgressCallbacks int           `yaml:"max_progress_callbacks"`
	ProgressEvery        int           `yaml:"progress_every"`
	Timeouts             TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig bounds one candidate load by its size class.
type TimeoutConfig struct {
	Small  time.Duration `yaml:"small"`
	Medium time.Duration `yaml:"medium"`
	Large  time.Duration `yaml:"large"`
}

// TranscribeConfig holds per-request decoding settings.
type TranscribeConfig struct {
	Language         string `yaml:"language"`
	Task             string `yaml:"task"` // "transcribe" or "translate"
	ReturnTimestamps bool   `yaml:"return_timestamps"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Keys    []string `yaml:"keys"`
	Mode    string   `yaml:"mode"` // "hold" or "toggle"
}

// InjectConfig holds transcript injection settings.
type InjectConfig struct {
	Enabled bool   `yaml:"enabled"`
	Method  string `yaml:"method"` // "type" or "paste"
}

// MetricsConfig holds the Prometheus endpoint settings. An empty
// ListenAddr disables the endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-live")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultModelsDir returns the directory model files are downloaded into.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "models")
	}
	return filepath.Join(home, ".local", "share", "gostt-live", "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:  16000,
			Channels:    1,
			ChunkBuffer: 64,
		},
		VAD: VADConfig{
			PositiveThreshold: 0.5,
			NegativeThreshold: 0.35,
			MinSpeechFrames:   9,
			RedemptionFrames:  24,
			FrameSamples:      512,
			PreRollFrames:     3,
			EnergyReference:   0.05,
		},
		Model: ModelConfig{
			Backend:              "whisper",
			Fallback:             []string{"base.en", "tiny.en"},
			Dir:                  DefaultModelsDir(),
			ForceCompleteAfter:   45 * time.Second,
			MaxProgressCallbacks: 1000,
			ProgressEvery:        10,
			Timeouts: TimeoutConfig{
				Small:  60 * time.Second,
				Medium: 120 * time.Second,
				Large:  300 * time.Second,
			},
		},
		Transcribe: TranscribeConfig{
			Language: "en",
			Task:     "transcribe",
		},
		Hotkey: HotkeyConfig{
			Enabled: true,
			Keys:    []string{"ctrl", "shift", "r"},
			Mode:    "toggle",
		},
		Inject: InjectConfig{
			Enabled: false,
			Method:  "type",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in model.dir is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Model.Dir = expandTilde(cfg.Model.Dir)

	return cfg, nil
}

// ApplyEnv overrides selected settings from the environment. lookup is
// usually os.LookupEnv; tests inject a map.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	overrideString(lookup, "GOSTT_MODEL", &c.Model.Requested)
	overrideString(lookup, "GOSTT_MODEL_BACKEND", &c.Model.Backend)
	overrideString(lookup, "GOSTT_LANGUAGE", &c.Transcribe.Language)
	overrideString(lookup, "GOSTT_LOG_LEVEL", &c.LogLevel)
	overrideString(lookup, "GOSTT_METRICS_ADDR", &c.Metrics.ListenAddr)
	if dir, ok := lookup("GOSTT_MODEL_DIR"); ok && strings.TrimSpace(dir) != "" {
		c.Model.Dir = expandTilde(strings.TrimSpace(dir))
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if err := c.Audio.validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := c.VAD.validate(); err != nil {
		return fmt.Errorf("vad: %w", err)
	}
	if err := c.Model.validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}

	switch c.Transcribe.Task {
	case "transcribe", "translate":
	default:
		return fmt.Errorf("transcribe.task must be \"transcribe\" or \"translate\", got %q", c.Transcribe.Task)
	}

	if c.Hotkey.Enabled {
		if len(c.Hotkey.Keys) == 0 {
			return fmt.Errorf("hotkey.keys must not be empty")
		}
		switch c.Hotkey.Mode {
		case "hold", "toggle":
		default:
			return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
		}
	}

	switch c.Inject.Method {
	case "type", "paste":
	default:
		return fmt.Errorf("inject.method must be \"type\" or \"paste\", got %q", c.Inject.Method)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

func (a AudioConfig) validate() error {
	if a.SampleRate == 0 {
		return fmt.Errorf("sample_rate must be > 0")
	}
	if a.Channels == 0 {
		return fmt.Errorf("channels must be > 0")
	}
	if a.ChunkBuffer <= 0 {
		return fmt.Errorf("chunk_buffer must be > 0")
	}
	return nil
}

func (v VADConfig) validate() error {
	if v.PositiveThreshold < 0 || v.PositiveThreshold > 1 {
		return fmt.Errorf("positive_threshold must be within [0, 1], got %v", v.PositiveThreshold)
	}
	if v.NegativeThreshold < 0 || v.NegativeThreshold > v.PositiveThreshold {
		return fmt.Errorf("negative_threshold must be within [0, positive_threshold], got %v", v.NegativeThreshold)
	}
	if v.MinSpeechFrames < 1 {
		return fmt.Errorf("min_speech_frames must be >= 1")
	}
	if v.RedemptionFrames < 1 {
		return fmt.Errorf("redemption_frames must be >= 1")
	}
	if v.FrameSamples <= 0 {
		return fmt.Errorf("frame_samples must be > 0")
	}
	if v.PreRollFrames < 0 {
		return fmt.Errorf("pre_roll_frames must be >= 0")
	}
	if v.EnergyReference <= 0 {
		return fmt.Errorf("energy_reference must be > 0")
	}
	return nil
}

func (m ModelConfig) validate() error {
	switch m.Backend {
	case "whisper", "stub":
	default:
		return fmt.Errorf("backend must be \"whisper\" or \"stub\", got %q", m.Backend)
	}
	if m.Requested == "" && len(m.Fallback) == 0 {
		return fmt.Errorf("requested or fallback must name at least one model")
	}
	if m.Dir == "" {
		return fmt.Errorf("dir must not be empty")
	}
	if m.ForceCompleteAfter <= 0 {
		return fmt.Errorf("force_complete_after must be > 0")
	}
	if m.MaxProgressCallbacks <= 0 {
		return fmt.Errorf("max_progress_callbacks must be > 0")
	}
	if m.ProgressEvery <= 0 {
		return fmt.Errorf("progress_every must be > 0")
	}
	if m.Timeouts.Small <= 0 || m.Timeouts.Medium <= 0 || m.Timeouts.Large <= 0 {
		return fmt.Errorf("timeouts must all be > 0")
	}
	return nil
}

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the written path, or "" when a config was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	header := "# gostt-live configuration\n# Generated with defaults; edit and restart to apply.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a config log level to a slog.Level. Unknown values
// fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

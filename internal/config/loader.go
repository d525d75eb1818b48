package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"chatstream", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "gemini", "openai-realtime", "whisper"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; conversation turns will fail")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; voice input is disabled")
	}

	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must not be negative, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels must be 0, 1 or 2, got %d", cfg.Audio.Channels))
	}
	if cfg.Audio.ChunkMs < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_ms must not be negative, got %d", cfg.Audio.ChunkMs))
	}

	if cfg.Segmentation.StartFrames < 0 {
		errs = append(errs, fmt.Errorf("segmentation.start_frames must not be negative, got %d", cfg.Segmentation.StartFrames))
	}
	if cfg.Segmentation.EndSilenceFrames < 0 {
		errs = append(errs, fmt.Errorf("segmentation.end_silence_frames must not be negative, got %d", cfg.Segmentation.EndSilenceFrames))
	}
	if min, max := cfg.Segmentation.MinSegmentMs, cfg.Segmentation.MaxSegmentMs; min > 0 && max > 0 && min > max {
		errs = append(errs, fmt.Errorf("segmentation.min_segment_ms %d exceeds max_segment_ms %d", min, max))
	}

	if s := cfg.Meter.Smoothing; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("meter.smoothing must be in [0, 1], got %g", s))
	}
	if cfg.Meter.NoiseFloor > cfg.Meter.MaxLevel && cfg.Meter.MaxLevel != 0 {
		errs = append(errs, fmt.Errorf("meter.noise_floor %g exceeds meter.max_level %g", cfg.Meter.NoiseFloor, cfg.Meter.MaxLevel))
	}

	if b := cfg.Persistence.Backend; b != "" && !b.IsValid() {
		errs = append(errs, fmt.Errorf("persistence.backend %q is invalid; valid values: memory, postgres", b))
	}
	if cfg.Persistence.Backend == PersistencePostgres && cfg.Persistence.PostgresDSN == "" {
		errs = append(errs, errors.New("persistence.backend is postgres but persistence.postgres_dsn is empty"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning when name is set but unknown. Unknown
// names are not an error: a factory may still be registered at runtime.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if valid, ok := ValidProviderNames[kind]; ok && !slices.Contains(valid, name) {
		slog.Warn("unrecognised provider name", "kind", kind, "name", name, "known", valid)
	}
}

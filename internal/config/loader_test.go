package config

import (
	"strings"
	"testing"
)

const validYAML = `
server:
  log_level: debug
  metrics_addr: ":9090"
providers:
  llm:
    name: chatstream
    api_key: key
    model: gpt-4o
    options:
      vision: true
  stt:
    name: deepgram
    api_key: key
    model: nova-3
    language: en-US
  vad:
    name: energy
audio:
  sample_rate: 16000
  channels: 1
  chunk_ms: 100
segmentation:
  start_frames: 2
  end_silence_frames: 5
  min_segment_ms: 500
  max_segment_ms: 30000
meter:
  noise_floor: 0.01
  max_level: 0.25
  smoothing: 0.3
conversation:
  system_prompt: be helpful
  temperature: 0.7
  history_limit: 40
persistence:
  backend: memory
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log level = %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.LLM.Name != "chatstream" || cfg.Providers.LLM.Model != "gpt-4o" {
		t.Errorf("llm entry = %+v", cfg.Providers.LLM)
	}
	if vision, _ := cfg.Providers.LLM.Options["vision"].(bool); !vision {
		t.Errorf("llm options = %+v, want vision: true", cfg.Providers.LLM.Options)
	}
	if cfg.Providers.STT.Language != "en-US" {
		t.Errorf("stt language = %q", cfg.Providers.STT.Language)
	}
	if cfg.Segmentation.MaxSegmentMs != 30000 {
		t.Errorf("max_segment_ms = %d", cfg.Segmentation.MaxSegmentMs)
	}
	if cfg.Persistence.Backend != PersistenceMemory {
		t.Errorf("persistence backend = %q", cfg.Persistence.Backend)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("server:\n  log_levle: debug\n"))
	if err == nil {
		t.Error("typo in field name accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "negative sample rate",
			mutate:  func(c *Config) { c.Audio.SampleRate = -1 },
			wantErr: "sample_rate",
		},
		{
			name:    "too many channels",
			mutate:  func(c *Config) { c.Audio.Channels = 7 },
			wantErr: "channels",
		},
		{
			name: "min segment exceeds max",
			mutate: func(c *Config) {
				c.Segmentation.MinSegmentMs = 5000
				c.Segmentation.MaxSegmentMs = 1000
			},
			wantErr: "min_segment_ms",
		},
		{
			name:    "smoothing out of range",
			mutate:  func(c *Config) { c.Meter.Smoothing = 1.5 },
			wantErr: "smoothing",
		},
		{
			name: "noise floor above max level",
			mutate: func(c *Config) {
				c.Meter.NoiseFloor = 0.5
				c.Meter.MaxLevel = 0.25
			},
			wantErr: "noise_floor",
		},
		{
			name:    "unknown persistence backend",
			mutate:  func(c *Config) { c.Persistence.Backend = "redis" },
			wantErr: "persistence.backend",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Persistence.Backend = PersistencePostgres
				c.Persistence.PostgresDSN = ""
			},
			wantErr: "postgres_dsn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}

	t.Run("zero config is valid", func(t *testing.T) {
		t.Parallel()
		if err := Validate(&Config{}); err != nil {
			t.Errorf("Validate(zero) = %v", err)
		}
	})

	t.Run("all failures are joined", func(t *testing.T) {
		t.Parallel()
		cfg := &Config{}
		cfg.Server.LogLevel = "verbose"
		cfg.Audio.SampleRate = -1
		err := Validate(cfg)
		if err == nil {
			t.Fatal("Validate accepted invalid config")
		}
		if !strings.Contains(err.Error(), "log_level") || !strings.Contains(err.Error(), "sample_rate") {
			t.Errorf("joined error missing a failure: %v", err)
		}
	})
}
